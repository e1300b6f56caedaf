package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/splunk-bridge/splunk-mcp-bridge/internal/domain/bridge"
	"github.com/splunk-bridge/splunk-mcp-bridge/internal/port/outbound"
	"github.com/splunk-bridge/splunk-mcp-bridge/pkg/rpc"
)

// scriptedTransport answers sent requests according to a configurable
// responder, simulating the remote MCP server.
type scriptedTransport struct {
	mu       sync.Mutex
	inbound  chan []byte
	startErr error
	sendErr  error
	respond  func(t *scriptedTransport, method string, id int64)
	closed   bool
}

func (s *scriptedTransport) Start(ctx context.Context) (<-chan []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return nil, s.startErr
	}
	s.inbound = make(chan []byte, 16)
	return s.inbound, nil
}

func (s *scriptedTransport) Send(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	sendErr := s.sendErr
	respond := s.respond
	s.mu.Unlock()
	if sendErr != nil {
		return sendErr
	}

	var probe struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return err
	}
	id, hasID := rpc.NumericID(payload)
	if !hasID {
		// Notification; nothing to answer.
		return nil
	}
	if respond != nil {
		respond(s, probe.Method, id)
	}
	return nil
}

func (s *scriptedTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.inbound != nil {
		close(s.inbound)
	}
	return nil
}

func (s *scriptedTransport) reply(raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.inbound == nil {
		return
	}
	s.inbound <- raw
}

func (s *scriptedTransport) setSendErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = err
}

// mcpResponder answers initialize, ping, and tools/list the way a
// healthy server would.
func mcpResponder(t *scriptedTransport, method string, id int64) {
	switch method {
	case "initialize":
		t.reply(replyBytes(id, `{"protocolVersion":"2025-06-18","capabilities":{"tools":{}},"serverInfo":{"name":"splunk-mcp-server","version":"1.0.0"}}`))
	case "ping":
		t.reply(replyBytes(id, `{}`))
	case "tools/list":
		t.reply(replyBytes(id, `{"tools":[{"name":"search","description":"run a search"}]}`))
	default:
		t.reply(errorBytes(id, -32601, "method not found"))
	}
}

func newTestManager(t *testing.T, factory TransportFactory, opts ...ManagerOption) *SessionManager {
	t.Helper()
	base := []ManagerOption{
		WithHandshakeTimeout(time.Second),
		WithBackoff(time.Millisecond, 2*time.Millisecond, 0),
		WithProbeInterval(0),
	}
	m := NewSessionManager(factory, NewCorrelator(testLogger()), testLogger(), append(base, opts...)...)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestFirstCallEstablishesSessionLazily(t *testing.T) {
	var started atomic.Int32
	factory := func() outbound.Transport {
		started.Add(1)
		return &scriptedTransport{respond: mcpResponder}
	}
	m := newTestManager(t, factory)

	if st := m.Status(); st.State != "disconnected" {
		t.Fatalf("initial state = %s, want disconnected", st.State)
	}
	if n := started.Load(); n != 0 {
		t.Fatalf("transport created before first call (%d)", n)
	}

	result, err := m.Call(context.Background(), "tools/list", nil, time.Second)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	var listed struct {
		Tools []struct{ Name string } `json:"tools"`
	}
	if err := json.Unmarshal(result, &listed); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if len(listed.Tools) != 1 || listed.Tools[0].Name != "search" {
		t.Errorf("tools = %+v", listed.Tools)
	}

	st := m.Status()
	if st.State != "ready" {
		t.Errorf("state = %s, want ready", st.State)
	}
	if st.Epoch != 1 {
		t.Errorf("epoch = %d, want 1", st.Epoch)
	}
	if st.LastHandshake.IsZero() {
		t.Error("last handshake not recorded")
	}
	if st.Token == "" {
		t.Error("session token not assigned")
	}
}

func TestConcurrentCallsShareOneSession(t *testing.T) {
	var started atomic.Int32
	factory := func() outbound.Transport {
		started.Add(1)
		return &scriptedTransport{respond: mcpResponder}
	}
	m := newTestManager(t, factory)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Call(context.Background(), "tools/list", nil, time.Second)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d error = %v", i, err)
		}
	}
	if n := started.Load(); n != 1 {
		t.Errorf("transports created = %d, want 1", n)
	}
	if st := m.Status(); st.State != "ready" {
		t.Errorf("state = %s, want ready", st.State)
	}
}

func TestRefusedHandshakeFailsSessionWithoutHanging(t *testing.T) {
	var started atomic.Int32
	factory := func() outbound.Transport {
		started.Add(1)
		return &scriptedTransport{startErr: errors.New("connection refused")}
	}
	m := newTestManager(t, factory)

	_, err := m.Call(context.Background(), "tools/list", nil, time.Second)
	var bErr *bridge.Error
	if !errors.As(err, &bErr) || bErr.Kind != bridge.KindConnection {
		t.Fatalf("Call() error = %v, want connection error", err)
	}

	waitFor(t, func() bool { return m.Status().State == "failed" })

	// Failed is terminal: further calls reject without a new attempt.
	attempts := started.Load()
	_, err = m.Call(context.Background(), "tools/list", nil, time.Second)
	if !errors.As(err, &bErr) || bErr.Kind != bridge.KindConnection {
		t.Fatalf("Call() after failure = %v, want connection error", err)
	}
	if started.Load() != attempts {
		t.Error("failed session attempted a new connection")
	}
}

func TestConnectQueueOverflowFailsFast(t *testing.T) {
	// Handshake never completes: initialize is swallowed.
	factory := func() outbound.Transport {
		return &scriptedTransport{respond: func(*scriptedTransport, string, int64) {}}
	}
	m := newTestManager(t, factory,
		WithConnectQueueSize(1),
		WithHandshakeTimeout(5*time.Second),
		WithBackoff(time.Second, time.Second, 3),
	)

	firstDone := make(chan error, 1)
	go func() {
		_, err := m.Call(context.Background(), "tools/list", nil, 5*time.Second)
		firstDone <- err
	}()

	waitFor(t, func() bool { return m.Status().State == "connecting" })

	_, err := m.Call(context.Background(), "tools/list", nil, time.Second)
	var bErr *bridge.Error
	if !errors.As(err, &bErr) || bErr.Kind != bridge.KindBackpressure {
		t.Fatalf("overflow error = %v, want backpressure", err)
	}
	if !bErr.Retryable() {
		t.Error("backpressure should be retryable")
	}

	// Shutdown releases the queued caller with a connection error.
	_ = m.Close()
	select {
	case err := <-firstDone:
		if !errors.As(err, &bErr) || bErr.Kind != bridge.KindConnection {
			t.Errorf("queued caller error = %v, want connection error", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("queued caller never released")
	}
}

func TestDegradedSessionReconnectsAndRetriesOnce(t *testing.T) {
	var transports []*scriptedTransport
	var mu sync.Mutex
	factory := func() outbound.Transport {
		tr := &scriptedTransport{respond: mcpResponder}
		mu.Lock()
		transports = append(transports, tr)
		mu.Unlock()
		return tr
	}
	m := newTestManager(t, factory, WithBackoff(time.Millisecond, 2*time.Millisecond, 2))

	if _, err := m.Call(context.Background(), "tools/list", nil, time.Second); err != nil {
		t.Fatalf("first Call() error = %v", err)
	}

	// Break the live transport; the next call must reconnect on a fresh
	// epoch and succeed transparently.
	mu.Lock()
	transports[0].setSendErr(errors.New("broken pipe"))
	mu.Unlock()

	result, err := m.Call(context.Background(), "tools/list", nil, time.Second)
	if err != nil {
		t.Fatalf("Call() after degrade error = %v", err)
	}
	if len(result) == 0 {
		t.Error("empty result after recovery")
	}

	st := m.Status()
	if st.State != "ready" {
		t.Errorf("state = %s, want ready", st.State)
	}
	if st.Epoch != 2 {
		t.Errorf("epoch = %d, want 2", st.Epoch)
	}
}

func TestProtocolErrorsAreNotRetried(t *testing.T) {
	var started atomic.Int32
	factory := func() outbound.Transport {
		started.Add(1)
		return &scriptedTransport{respond: mcpResponder}
	}
	m := newTestManager(t, factory)

	_, err := m.Call(context.Background(), "bogus/method", nil, time.Second)
	var bErr *bridge.Error
	if !errors.As(err, &bErr) || bErr.Kind != bridge.KindProtocol {
		t.Fatalf("Call() error = %v, want protocol error", err)
	}
	if n := started.Load(); n != 1 {
		t.Errorf("transports created = %d, want 1 (no reconnect on protocol error)", n)
	}
	if st := m.Status(); st.State != "ready" {
		t.Errorf("state = %s, want ready", st.State)
	}
}

func TestHealthProbeDegradesUnresponsiveSession(t *testing.T) {
	probeFailing := func(t *scriptedTransport, method string, id int64) {
		switch method {
		case "initialize":
			mcpResponder(t, method, id)
		case "ping":
			t.reply(errorBytes(id, -32603, "internal error"))
		default:
			mcpResponder(t, method, id)
		}
	}
	factory := func() outbound.Transport {
		return &scriptedTransport{respond: probeFailing}
	}
	m := newTestManager(t, factory, WithProbeInterval(5*time.Millisecond))

	if _, err := m.Call(context.Background(), "tools/list", nil, time.Second); err != nil {
		t.Fatalf("Call() error = %v", err)
	}

	waitFor(t, func() bool { return m.Status().State == "degraded" })
}

func TestCloseIsGracefulAndIdempotent(t *testing.T) {
	factory := func() outbound.Transport {
		return &scriptedTransport{respond: mcpResponder}
	}
	m := newTestManager(t, factory)

	if _, err := m.Call(context.Background(), "tools/list", nil, time.Second); err != nil {
		t.Fatalf("Call() error = %v", err)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if st := m.Status(); st.State != "disconnected" {
		t.Errorf("state after close = %s, want disconnected", st.State)
	}

	_, err := m.Call(context.Background(), "tools/list", nil, time.Second)
	if err == nil {
		t.Fatal("Call() after Close succeeded")
	}
}

func TestBackoffDelayDoubling(t *testing.T) {
	m := &SessionManager{backoffBase: time.Second, backoffCap: 10 * time.Second}

	tests := []struct {
		retry int
		want  time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
		{10, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := m.calcBackoffDelay(tt.retry); got != tt.want {
			t.Errorf("calcBackoffDelay(%d) = %v, want %v", tt.retry, got, tt.want)
		}
	}
}
