// Package mcp provides the HTTP transport adapter for connecting to the
// remote MCP server (Streamable HTTP: POST request/response plus an
// optional server-initiated event stream).
package mcp

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/splunk-bridge/splunk-mcp-bridge/internal/port/outbound"
)

// transportState is the lifecycle state of an HTTPTransport.
type transportState int

const (
	stateNew     transportState = iota // not yet started
	stateStarted                       // started and running
	stateClosed                        // terminal
)

const (
	// scannerInitialBufSize is the initial buffer size for the SSE scanner.
	scannerInitialBufSize = 256 * 1024 // 256KB

	// scannerMaxBufSize bounds a single SSE line. Events exceeding it
	// terminate the stream with bufio.ErrTooLong.
	scannerMaxBufSize = 1024 * 1024 // 1MB

	// maxResponseBodySize caps a direct POST response body. Prevents OOM
	// from a misbehaving server sending unbounded responses.
	maxResponseBodySize = 10 * 1024 * 1024 // 10MB

	// inboundBufSize is the inbound channel buffer. Deliveries block the
	// producing goroutine once full; consumers drain continuously.
	inboundBufSize = 64
)

// HTTPTransport connects to an MCP server over Streamable HTTP.
// It implements the outbound.Transport interface.
type HTTPTransport struct {
	endpoint   string
	authToken  string
	httpClient *http.Client
	logger     *slog.Logger

	mu        sync.Mutex
	state     transportState
	sessionID string // Mcp-Session-Id assigned by the server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	inbound   chan []byte
	closeOnce sync.Once
}

// TransportOption is a functional option for configuring HTTPTransport.
type TransportOption func(*HTTPTransport)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) TransportOption {
	return func(t *HTTPTransport) {
		t.httpClient = client
	}
}

// WithAuthToken sets the bearer token attached to every outbound request.
// The token is opaque to the transport.
func WithAuthToken(token string) TransportOption {
	return func(t *HTTPTransport) {
		t.authToken = token
	}
}

// WithRequestTimeout sets the per-request timeout for the HTTP client.
func WithRequestTimeout(d time.Duration) TransportOption {
	return func(t *HTTPTransport) {
		if t.httpClient != nil {
			t.httpClient.Timeout = d
		}
	}
}

// WithInsecureTLS disables certificate verification. Only for servers
// with self-signed certificates in test environments.
func WithInsecureTLS() TransportOption {
	return func(t *HTTPTransport) {
		if tr, ok := t.httpClient.Transport.(*http.Transport); ok {
			tr.TLSClientConfig.InsecureSkipVerify = true
		}
	}
}

// WithLogger sets the transport logger.
func WithLogger(logger *slog.Logger) TransportOption {
	return func(t *HTTPTransport) {
		t.logger = logger
	}
}

// NewHTTPTransport creates a transport for the given MCP server endpoint.
func NewHTTPTransport(endpoint string, opts ...TransportOption) *HTTPTransport {
	t := &HTTPTransport{
		endpoint: endpoint,
		logger:   slog.Default(),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Start establishes the connection and returns the inbound message channel.
// It opens the optional server-initiated event stream in the background;
// servers that do not support a standalone stream still work, their
// replies arrive as direct POST response bodies.
func (t *HTTPTransport) Start(ctx context.Context) (<-chan []byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case stateStarted:
		return nil, errors.New("transport already started")
	case stateClosed:
		return nil, errors.New("transport is closed, create a new instance")
	case stateNew:
	}

	t.state = stateStarted
	t.ctx, t.cancel = context.WithCancel(ctx)
	t.inbound = make(chan []byte, inboundBufSize)

	t.wg.Add(1)
	go t.runEventStream()

	return t.inbound, nil
}

// Send submits one outbound envelope as an HTTP POST. Replies are
// delivered on the inbound channel whether they arrive as the POST
// response body or on an event stream.
func (t *HTTPTransport) Send(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	if t.state != stateStarted {
		t.mu.Unlock()
		return errors.New("transport not started")
	}
	sessionID := t.sessionID
	t.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	t.setAuthHeader(req)
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}

	t.saveSessionID(resp)

	switch {
	case resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusNoContent:
		// Notification accepted, or reply will arrive on the event stream.
		resp.Body.Close()
		return nil

	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return fmt.Errorf("http status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "text/event-stream" {
		// Per-request stream: replies for this call arrive as SSE events
		// on the POST response body. Drain it in the background.
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			defer resp.Body.Close()
			t.consumeSSE(resp.Body)
		}()
		return nil
	}

	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if body = bytes.TrimSpace(body); len(body) > 0 {
		t.deliver(body)
	}
	return nil
}

// Close terminates the connection. Idempotent; the inbound channel is
// closed after all producer goroutines have stopped.
func (t *HTTPTransport) Close() error {
	t.mu.Lock()
	if t.state != stateStarted {
		t.state = stateClosed
		t.mu.Unlock()
		return nil
	}
	t.state = stateClosed
	cancel := t.cancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.httpClient.CloseIdleConnections()

	// Wait for producers with a bound so Close never hangs on a stuck read.
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	var waitErr error
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		waitErr = errors.New("timeout waiting for stream goroutines")
	}

	t.closeOnce.Do(func() { close(t.inbound) })
	return waitErr
}

// runEventStream opens the server-initiated event stream (HTTP GET with
// Accept: text/event-stream) and feeds its events into the inbound
// channel. Servers without standalone stream support answer 405 or 404;
// that is not an error, replies then arrive on POST response bodies only.
func (t *HTTPTransport) runEventStream() {
	defer t.wg.Done()

	req, err := http.NewRequestWithContext(t.ctx, http.MethodGet, t.endpoint, nil)
	if err != nil {
		t.logger.Warn("event stream request setup failed", "error", err)
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	t.setAuthHeader(req)

	resp, err := t.streamClient().Do(req)
	if err != nil {
		if t.ctx.Err() == nil {
			t.logger.Debug("event stream unavailable", "error", err)
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Server does not offer a standalone stream.
		t.logger.Debug("event stream not offered", "status", resp.StatusCode)
		return
	}

	t.saveSessionID(resp)
	t.consumeSSE(resp.Body)
}

// consumeSSE parses a text/event-stream body and delivers each event's
// data payload to the inbound channel. Only "data:" fields matter; the
// reply correlation identifier lives inside the JSON-RPC payload itself.
func (t *HTTPTransport) consumeSSE(body io.Reader) {
	scanner := bufio.NewScanner(body)
	buf := make([]byte, 0, scannerInitialBufSize)
	scanner.Buffer(buf, scannerMaxBufSize)

	var data []byte
	for scanner.Scan() {
		if t.ctx.Err() != nil {
			return
		}
		line := scanner.Text()

		if line == "" {
			// Event boundary.
			if len(data) > 0 {
				t.deliver(bytes.TrimSpace(data))
				data = nil
			}
			continue
		}
		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			if len(data) > 0 {
				data = append(data, '\n')
			}
			data = append(data, strings.TrimPrefix(rest, " ")...)
		}
		// "event:", "id:", "retry:" and comment lines are ignored.
	}
	if len(data) > 0 {
		t.deliver(bytes.TrimSpace(data))
	}
}

// deliver pushes one inbound envelope, giving up when the transport is
// shutting down.
func (t *HTTPTransport) deliver(payload []byte) {
	msg := make([]byte, len(payload))
	copy(msg, payload)
	select {
	case t.inbound <- msg:
	case <-t.ctx.Done():
	}
}

// streamClient returns the client used for the session-long event
// stream. It shares the connection pool with the request client but
// carries no overall timeout: http.Client.Timeout covers body reads,
// which would sever the stream at the per-request deadline. The stream
// is bounded by the transport context instead.
func (t *HTTPTransport) streamClient() *http.Client {
	return &http.Client{
		Transport:     t.httpClient.Transport,
		CheckRedirect: t.httpClient.CheckRedirect,
		Jar:           t.httpClient.Jar,
	}
}

func (t *HTTPTransport) setAuthHeader(req *http.Request) {
	if t.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.authToken)
	}
}

func (t *HTTPTransport) saveSessionID(resp *http.Response) {
	if sid := resp.Header.Get("Mcp-Session-Id"); sid != "" {
		t.mu.Lock()
		t.sessionID = sid
		t.mu.Unlock()
	}
}

// Compile-time check that HTTPTransport implements the outbound port.
var _ outbound.Transport = (*HTTPTransport)(nil)
