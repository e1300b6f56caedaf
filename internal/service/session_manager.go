package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/splunk-bridge/splunk-mcp-bridge/internal/domain/bridge"
	"github.com/splunk-bridge/splunk-mcp-bridge/internal/domain/session"
	"github.com/splunk-bridge/splunk-mcp-bridge/internal/port/outbound"
)

const protocolVersion = "2025-06-18"

// TransportFactory creates a fresh transport for each session epoch.
type TransportFactory func() outbound.Transport

// clientInfo identifies the bridge in the initialize handshake.
type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// initializeParams is the MCP initialize request payload.
type initializeParams struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities"`
	ClientInfo      clientInfo      `json:"clientInfo"`
}

// initializeResult is the portion of the initialize reply the bridge
// records on the session.
type initializeResult struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities"`
	ServerInfo      json.RawMessage `json:"serverInfo"`
}

// SessionStatus is a point-in-time view of the session for /health.
type SessionStatus struct {
	State         string    `json:"state"`
	Epoch         int64     `json:"epoch"`
	Token         string    `json:"session_token,omitempty"`
	LastHandshake time.Time `json:"last_handshake"`
	LastError     string    `json:"last_error,omitempty"`
	RetryCount    int       `json:"retry_count"`
	Pending       int       `json:"pending_calls"`
}

// SessionManager drives the connection lifecycle state machine and is
// the single admission point for all remote calls. The session and its
// transport are shared by every concurrent request handler; the manager
// owns their creation, supervision, and teardown.
type SessionManager struct {
	factory    TransportFactory
	correlator *Correlator
	logger     *slog.Logger

	clientName    string
	clientVersion string

	handshakeTimeout time.Duration
	queueSize        int
	backoffBase      time.Duration
	backoffCap       time.Duration
	maxRetries       int
	probeInterval    time.Duration
	probeTimeout     time.Duration

	mu            sync.Mutex
	state         session.State
	current       *session.Session
	epoch         int64
	transport     outbound.Transport
	waiters       []chan error
	retryCount    int
	connecting    bool
	lastHandshake time.Time
	lastError     string
	closed        bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ManagerOption customizes a SessionManager.
type ManagerOption func(*SessionManager)

// WithClientIdentity sets the name and version sent in the handshake.
func WithClientIdentity(name, version string) ManagerOption {
	return func(m *SessionManager) {
		m.clientName = name
		m.clientVersion = version
	}
}

// WithHandshakeTimeout bounds the initialize exchange.
func WithHandshakeTimeout(d time.Duration) ManagerOption {
	return func(m *SessionManager) { m.handshakeTimeout = d }
}

// WithConnectQueueSize bounds the number of calls that may wait for an
// in-flight handshake. Overflow fails fast with a backpressure error.
func WithConnectQueueSize(n int) ManagerOption {
	return func(m *SessionManager) { m.queueSize = n }
}

// WithBackoff sets the reconnect backoff base, cap, and retry budget.
func WithBackoff(base, cap time.Duration, maxRetries int) ManagerOption {
	return func(m *SessionManager) {
		m.backoffBase = base
		m.backoffCap = cap
		m.maxRetries = maxRetries
	}
}

// WithProbeInterval sets the periodic health probe cadence. Zero
// disables probing.
func WithProbeInterval(d time.Duration) ManagerOption {
	return func(m *SessionManager) { m.probeInterval = d }
}

// WithProbeTimeout bounds a single health probe round trip.
func WithProbeTimeout(d time.Duration) ManagerOption {
	return func(m *SessionManager) { m.probeTimeout = d }
}

// NewSessionManager creates a manager in the disconnected state. The
// first call triggers the handshake; no connection is attempted until
// then.
func NewSessionManager(factory TransportFactory, correlator *Correlator, logger *slog.Logger, opts ...ManagerOption) *SessionManager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &SessionManager{
		factory:          factory,
		correlator:       correlator,
		logger:           logger,
		clientName:       "splunk-mcp-bridge",
		clientVersion:    "dev",
		handshakeTimeout: 10 * time.Second,
		queueSize:        64,
		backoffBase:      1 * time.Second,
		backoffCap:       30 * time.Second,
		maxRetries:       5,
		probeInterval:    30 * time.Second,
		probeTimeout:     5 * time.Second,
		state:            session.StateDisconnected,
		ctx:              ctx,
		cancel:           cancel,
	}
	for _, opt := range opts {
		opt(m)
	}

	correlator.OnDisconnect(m.handleStreamClosed)

	if m.probeInterval > 0 {
		m.wg.Add(1)
		go m.probeLoop()
	}
	return m
}

// Call admits one remote call under the current session state: ready
// sessions dispatch immediately, connecting sessions queue the caller
// (bounded), degraded sessions get one automatic reconnect-and-retry,
// and failed sessions reject without touching the network.
func (m *SessionManager) Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	retried := false
	for {
		m.mu.Lock()
		switch m.state {
		case session.StateReady:
			sess := m.current
			m.mu.Unlock()

			result, err := m.correlator.Invoke(ctx, method, params, timeout)
			if err == nil {
				// The session is shared by all handlers; its activity
				// timestamp is guarded by the manager mutex.
				m.mu.Lock()
				sess.Touch()
				m.mu.Unlock()
				return result, nil
			}
			if !retried && m.shouldRecover(err) {
				retried = true
				m.degrade(fmt.Sprintf("%s: %v", method, err))
				continue
			}
			return nil, err

		case session.StateDisconnected, session.StateDegraded:
			ch, err := m.enqueueLocked()
			if err != nil {
				m.mu.Unlock()
				return nil, err
			}
			m.transitionLocked(session.StateConnecting)
			m.startConnectLocked()
			m.mu.Unlock()
			if err := awaitConnect(ctx, ch); err != nil {
				return nil, err
			}

		case session.StateConnecting:
			ch, err := m.enqueueLocked()
			if err != nil {
				m.mu.Unlock()
				return nil, err
			}
			m.mu.Unlock()
			if err := awaitConnect(ctx, ch); err != nil {
				return nil, err
			}

		case session.StateFailed:
			lastError := m.lastError
			m.mu.Unlock()
			return nil, bridge.SessionError("session failed: "+lastError, nil)

		default:
			m.mu.Unlock()
			return nil, bridge.SessionError("unexpected session state", nil)
		}
	}
}

// Notify sends a fire-and-forget notification on the current session.
func (m *SessionManager) Notify(ctx context.Context, method string, params any) error {
	m.mu.Lock()
	ready := m.state == session.StateReady
	m.mu.Unlock()
	if !ready {
		return bridge.SessionError("session not ready", nil)
	}
	return m.correlator.Notify(ctx, method, params)
}

// Status returns a snapshot of the session for health reporting.
func (m *SessionManager) Status() SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := SessionStatus{
		State:         m.state.String(),
		Epoch:         m.epoch,
		LastHandshake: m.lastHandshake,
		LastError:     m.lastError,
		RetryCount:    m.retryCount,
		Pending:       m.correlator.PendingCount(),
	}
	if m.current != nil {
		st.Token = m.current.Token
	}
	return st
}

// Healthy reports whether the session can serve calls without a fresh
// handshake.
func (m *SessionManager) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == session.StateReady
}

// Close gracefully shuts the session down: in-flight calls are failed,
// queued callers released with an error, and the transport closed.
func (m *SessionManager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	// Best-effort transition; a failed session stays failed.
	if m.state.CanTransition(session.StateDisconnected) {
		m.state = session.StateDisconnected
	}
	transport := m.transport
	m.transport = nil
	waiters := m.waiters
	m.waiters = nil
	m.mu.Unlock()

	m.cancel()
	shutdownErr := bridge.ConnectionError("bridge shutting down", nil)
	for _, w := range waiters {
		w <- shutdownErr
	}
	m.correlator.FailAll(shutdownErr)
	m.correlator.Detach()

	if transport != nil {
		if err := transport.Close(); err != nil {
			m.logger.Warn("transport close failed", "error", err)
		}
	}
	m.wg.Wait()
	return nil
}

// shouldRecover reports whether a call failure warrants the single
// automatic reconnect-and-retry. Timeouts and connection failures
// qualify; protocol, validation, and tool failures never do.
func (m *SessionManager) shouldRecover(err error) bool {
	var bErr *bridge.Error
	if !errors.As(err, &bErr) {
		return false
	}
	return bErr.Kind == bridge.KindConnection || bErr.Kind == bridge.KindTimeout
}

// degrade marks a ready session degraded after an unexpected failure.
func (m *SessionManager) degrade(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != session.StateReady {
		return
	}
	m.transitionLocked(session.StateDegraded)
	m.lastError = reason
	m.logger.Warn("session degraded", "reason", reason)
}

// handleStreamClosed reacts to the inbound stream ending while the
// session was considered healthy.
func (m *SessionManager) handleStreamClosed(epoch int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || epoch != m.epoch || m.state != session.StateReady {
		return
	}
	m.transitionLocked(session.StateDegraded)
	m.lastError = "event stream closed"
	m.logger.Warn("session degraded", "reason", "event stream closed", "epoch", epoch)
}

// enqueueLocked adds the caller to the bounded connect queue. Caller
// holds the mutex.
func (m *SessionManager) enqueueLocked() (chan error, error) {
	if len(m.waiters) >= m.queueSize {
		return nil, bridge.BackpressureError(fmt.Sprintf("connect queue full (%d waiting)", len(m.waiters)))
	}
	ch := make(chan error, 1)
	m.waiters = append(m.waiters, ch)
	return ch, nil
}

// awaitConnect blocks until the handshake outcome arrives or the
// caller's context is cancelled. The waiter channel is buffered, so an
// abandoned waiter never blocks the supervisor.
func awaitConnect(ctx context.Context, ch chan error) error {
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// startConnectLocked launches the reconnect supervisor unless one is
// already running. Caller holds the mutex.
func (m *SessionManager) startConnectLocked() {
	if m.connecting {
		return
	}
	m.connecting = true
	m.wg.Add(1)
	go m.superviseConnect()
}

// superviseConnect is the single reconnect supervisor: it attempts the
// handshake, releases or fails queued callers per attempt, and backs
// off exponentially until the retry budget is spent.
func (m *SessionManager) superviseConnect() {
	defer m.wg.Done()

	for {
		err := m.establish()

		m.mu.Lock()
		if m.closed {
			m.connecting = false
			waiters := m.waiters
			m.waiters = nil
			m.mu.Unlock()
			failWaiters(waiters, bridge.ConnectionError("bridge shutting down", nil))
			return
		}

		if err == nil {
			m.transitionLocked(session.StateReady)
			m.connecting = false
			m.retryCount = 0
			m.lastError = ""
			m.lastHandshake = time.Now().UTC()
			waiters := m.waiters
			m.waiters = nil
			epoch := m.epoch
			m.mu.Unlock()

			m.logger.Info("session established", "epoch", epoch)
			// Release in arrival order.
			for _, w := range waiters {
				w <- nil
			}
			return
		}

		// Failed attempt: callers queued for this attempt are failed
		// now rather than held across the backoff window.
		waiters := m.waiters
		m.waiters = nil
		m.retryCount++
		retries := m.retryCount

		if retries > m.maxRetries {
			m.transitionLocked(session.StateFailed)
			m.connecting = false
			m.lastError = fmt.Sprintf("handshake failed after %d attempts: %v", retries, err)
			m.mu.Unlock()

			m.logger.Error("session failed", "attempts", retries, "error", err)
			failWaiters(waiters, bridge.SessionError("session failed", err))
			m.correlator.FailAll(bridge.ConnectionError("session failed", err))
			m.correlator.Detach()
			return
		}

		m.lastError = err.Error()
		delay := m.calcBackoffDelay(retries - 1)
		m.mu.Unlock()

		m.logger.Warn("handshake failed, backing off", "attempt", retries, "delay", delay, "error", err)
		failWaiters(waiters, bridge.Normalize(err))

		select {
		case <-time.After(delay):
		case <-m.ctx.Done():
			m.mu.Lock()
			m.connecting = false
			m.mu.Unlock()
			return
		}
	}
}

// establish performs one full connection attempt: fresh transport,
// new epoch, initialize exchange, initialized notification.
func (m *SessionManager) establish() error {
	transport := m.factory()
	inbound, err := transport.Start(m.ctx)
	if err != nil {
		_ = transport.Close()
		return bridge.ConnectionError("start transport", err)
	}

	m.mu.Lock()
	old := m.transport
	m.transport = transport
	m.epoch++
	epoch := m.epoch
	sess := session.New(epoch)
	m.current = sess
	m.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	m.correlator.Attach(epoch, transport, inbound)

	ctx, cancel := context.WithTimeout(m.ctx, m.handshakeTimeout)
	defer cancel()

	params := initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    json.RawMessage(`{}`),
		ClientInfo:      clientInfo{Name: m.clientName, Version: m.clientVersion},
	}
	raw, err := m.correlator.Invoke(ctx, "initialize", params, m.handshakeTimeout)
	if err != nil {
		m.teardownTransport(transport)
		return fmt.Errorf("initialize: %w", err)
	}

	var result initializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		m.teardownTransport(transport)
		return bridge.ProtocolError("malformed initialize result", err)
	}
	sess.ProtocolVersion = result.ProtocolVersion
	sess.ServerInfo = result.ServerInfo
	sess.Capabilities = result.Capabilities

	if err := m.correlator.Notify(ctx, "notifications/initialized", nil); err != nil {
		m.teardownTransport(transport)
		return fmt.Errorf("initialized notification: %w", err)
	}
	return nil
}

// teardownTransport detaches and closes a transport after a failed
// handshake so the next attempt starts clean.
func (m *SessionManager) teardownTransport(transport outbound.Transport) {
	m.correlator.Detach()
	m.mu.Lock()
	if m.transport == transport {
		m.transport = nil
	}
	m.mu.Unlock()
	_ = transport.Close()
}

// transitionLocked applies a state change, logging any edge the state
// machine does not permit. Caller holds the mutex.
func (m *SessionManager) transitionLocked(to session.State) {
	if m.state == to {
		return
	}
	if !m.state.CanTransition(to) {
		m.logger.Error("illegal session state transition", "from", m.state, "to", to)
		return
	}
	m.state = to
}

// calcBackoffDelay calculates the delay for a given retry count.
// Formula: min(base * 2^retryCount, cap)
func (m *SessionManager) calcBackoffDelay(retryCount int) time.Duration {
	delay := m.backoffBase
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay > m.backoffCap {
			return m.backoffCap
		}
	}
	if delay > m.backoffCap {
		return m.backoffCap
	}
	return delay
}

// probeLoop pings the remote server on a fixed cadence while the
// session is ready. A failed probe degrades the session; the next call
// performs the reconnect.
func (m *SessionManager) probeLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !m.Healthy() {
				continue
			}
			if _, err := m.correlator.Invoke(m.ctx, "ping", nil, m.probeTimeout); err != nil {
				m.degrade(fmt.Sprintf("health probe: %v", err))
			}
		case <-m.ctx.Done():
			return
		}
	}
}

func failWaiters(waiters []chan error, err error) {
	for _, w := range waiters {
		w <- err
	}
}
