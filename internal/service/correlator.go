// Package service contains the bridge core: request correlation, the
// session lifecycle state machine, the REST-to-RPC translation layer,
// and async audit logging.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"

	"github.com/splunk-bridge/splunk-mcp-bridge/internal/domain/bridge"
	"github.com/splunk-bridge/splunk-mcp-bridge/internal/port/outbound"
	"github.com/splunk-bridge/splunk-mcp-bridge/pkg/rpc"
)

// pendingCall is one outstanding JSON-RPC call awaiting its reply.
// The completion slot (result, err) is settled exactly once, guarded by
// the correlator mutex, and published by closing done.
type pendingCall struct {
	id        int64
	method    string
	createdAt time.Time
	done      chan struct{}
	result    json.RawMessage
	err       error

	// Streamed partial replies accumulate here until the terminal
	// envelope arrives.
	chunks  []json.RawMessage
	isError bool
}

// streamFrame is the shape of a streamed tool result chunk. A frame
// with Partial true carries an intermediate content slice; the frame
// without it is the terminal marker.
type streamFrame struct {
	Content []json.RawMessage `json:"content"`
	IsError bool              `json:"isError"`
	Partial bool              `json:"partial"`
}

// Correlator owns JSON-RPC request identity: it assigns identifiers,
// tracks pending calls, and matches inbound envelopes (direct replies
// and event-stream deliveries alike) back to their callers.
//
// Identifiers are scoped to one session epoch and reset when a new
// session attaches; replies carrying identifiers from a superseded
// epoch are discarded, never delivered.
type Correlator struct {
	mu        sync.Mutex
	nextID    int64
	epoch     int64
	pending   map[int64]*pendingCall
	transport outbound.Transport

	logger       *slog.Logger
	onDisconnect func(epoch int64)
	onPending    func(n int)
}

// NewCorrelator creates a correlator with no attached session.
func NewCorrelator(logger *slog.Logger) *Correlator {
	return &Correlator{
		pending: make(map[int64]*pendingCall),
		logger:  logger,
	}
}

// OnDisconnect registers the callback invoked when an attached
// transport's inbound stream ends. Must be set before Attach.
func (c *Correlator) OnDisconnect(fn func(epoch int64)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = fn
}

// OnPendingChange registers a hook observing the pending-call count
// (used for the in-flight gauge). Optional.
func (c *Correlator) OnPendingChange(fn func(n int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPending = fn
}

// Attach binds the correlator to a fresh transport for a new session
// epoch. The identifier counter restarts at zero and a dispatch
// goroutine consumes the inbound stream until it closes. Any calls
// still pending from the previous epoch must have been failed first
// (see FailAll).
func (c *Correlator) Attach(epoch int64, transport outbound.Transport, inbound <-chan []byte) {
	c.mu.Lock()
	// Settle anything still pending from the previous epoch so no
	// caller is left waiting on a retired identifier.
	c.failAllLocked(bridge.ConnectionError("session superseded", nil))
	c.epoch = epoch
	c.nextID = 0
	c.transport = transport
	c.pending = make(map[int64]*pendingCall)
	c.mu.Unlock()

	go c.dispatch(epoch, inbound)
}

// Detach drops the transport reference so new calls fail fast with a
// session error until a fresh epoch attaches.
func (c *Correlator) Detach() {
	c.mu.Lock()
	c.transport = nil
	c.mu.Unlock()
}

// PendingCount returns the number of outstanding calls.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Invoke sends one JSON-RPC request and blocks until the matching reply
// arrives, the per-call timeout elapses, or ctx is cancelled. Multiple
// invocations may be outstanding concurrently; resolving one never
// blocks another.
func (c *Correlator) Invoke(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	c.mu.Lock()
	if c.transport == nil {
		c.mu.Unlock()
		return nil, bridge.SessionError("no active session", nil)
	}
	c.nextID++
	pc := &pendingCall{
		id:        c.nextID,
		method:    method,
		createdAt: time.Now().UTC(),
		done:      make(chan struct{}),
	}
	c.pending[pc.id] = pc
	transport := c.transport
	c.notifyPendingLocked()
	c.mu.Unlock()

	payload, err := rpc.NewRequest(pc.id, method, params)
	if err != nil {
		c.retire(pc.id)
		return nil, bridge.ProtocolError("encode request", err)
	}

	// The RPC exchange happens outside the critical section; the lock
	// above was held only for identifier allocation and registration.
	if err := transport.Send(ctx, payload); err != nil {
		c.retire(pc.id)
		return nil, bridge.ConnectionError("send "+method, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-pc.done:
		return pc.result, pc.err

	case <-timer.C:
		if c.resolve(pc.id, nil, bridge.TimeoutError(method+" timed out after "+timeout.String())) {
			c.logger.Warn("call timed out", "method", method, "id", pc.id, "timeout", timeout)
		}
		// resolve either won the race or a reply did; done is closed
		// either way.
		<-pc.done
		return pc.result, pc.err

	case <-ctx.Done():
		// Caller gone: retire the identifier but leave the session
		// intact. The remote side effect is only ignored locally.
		if c.retire(pc.id) {
			c.logger.Debug("call cancelled by caller", "method", method, "id", pc.id)
		}
		return nil, ctx.Err()
	}
}

// Notify sends a JSON-RPC notification (no identifier, no reply).
func (c *Correlator) Notify(ctx context.Context, method string, params any) error {
	c.mu.Lock()
	transport := c.transport
	c.mu.Unlock()
	if transport == nil {
		return bridge.SessionError("no active session", nil)
	}

	payload, err := rpc.NewNotification(method, params)
	if err != nil {
		return bridge.ProtocolError("encode notification", err)
	}
	if err := transport.Send(ctx, payload); err != nil {
		return bridge.ConnectionError("send "+method, err)
	}
	return nil
}

// FailAll resolves every pending call with the given error, in
// ascending identifier order, and clears the registry. Used when the
// session transitions to failed.
func (c *Correlator) FailAll(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failAllLocked(err)
}

// failAllLocked resolves every pending call in ascending identifier
// order. Caller holds the mutex.
func (c *Correlator) failAllLocked(err error) {
	if len(c.pending) == 0 {
		return
	}

	ids := make([]int64, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		pc := c.pending[id]
		pc.err = err
		close(pc.done)
	}
	c.pending = make(map[int64]*pendingCall)
	c.notifyPendingLocked()
}

// dispatch consumes one epoch's inbound stream. When the stream closes
// the disconnect callback fires so the session layer can react.
func (c *Correlator) dispatch(epoch int64, inbound <-chan []byte) {
	for raw := range inbound {
		c.handleInbound(epoch, raw)
	}

	c.mu.Lock()
	fn := c.onDisconnect
	stale := c.epoch != epoch
	c.mu.Unlock()
	if fn != nil && !stale {
		fn(epoch)
	}
}

// handleInbound matches one inbound envelope against the pending
// registry. Replies for unknown or retired identifiers are logged and
// discarded, never delivered.
func (c *Correlator) handleInbound(epoch int64, raw []byte) {
	c.mu.Lock()
	stale := c.epoch != epoch
	c.mu.Unlock()
	if stale {
		c.logger.Debug("discarding envelope from superseded session", "epoch", epoch)
		return
	}

	env, err := rpc.Decode(raw)
	if err != nil {
		// Malformed envelope. If it names an identifier we can still
		// fail the matching call instead of letting it time out.
		if id, ok := rpc.NumericID(raw); ok {
			if c.resolve(id, nil, bridge.ProtocolError("malformed reply envelope", err)) {
				return
			}
		}
		c.logger.Warn("discarding malformed inbound envelope", "error", err)
		return
	}

	if env.IsRequest() {
		// Server-initiated request or notification (progress, logging).
		// The bridge has no server-side features; ignore.
		c.logger.Debug("ignoring server-initiated message", "method", env.Method())
		return
	}

	resp := env.Response()
	id, ok := env.NumericID()
	if !ok {
		c.logger.Warn("discarding reply without numeric id")
		return
	}

	if resp.Error != nil {
		// The SDK surfaces wire errors as a plain error; only a wire
		// error carries a JSON-RPC code worth classifying.
		var werr *jsonrpc.Error
		if errors.As(resp.Error, &werr) {
			c.resolveOrDiscard(id, nil, bridge.FromRPCError(werr.Code, werr.Message))
		} else {
			c.resolveOrDiscard(id, nil, bridge.ProtocolError("upstream error reply", resp.Error))
		}
		return
	}

	// Streamed partial reply: accumulate under the identifier until the
	// terminal envelope (no partial flag) arrives, then resolve once.
	var frame streamFrame
	if json.Unmarshal(resp.Result, &frame) == nil && frame.Partial {
		c.accumulate(id, frame)
		return
	}

	c.mu.Lock()
	pc, exists := c.pending[id]
	if exists && len(pc.chunks) > 0 {
		merged := c.mergeLocked(pc, frame)
		c.mu.Unlock()
		c.resolveOrDiscard(id, merged, nil)
		return
	}
	c.mu.Unlock()

	c.resolveOrDiscard(id, resp.Result, nil)
}

// accumulate appends a partial frame's content under its identifier.
func (c *Correlator) accumulate(id int64, frame streamFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pc, ok := c.pending[id]
	if !ok {
		c.logger.Warn("discarding partial reply for retired id", "id", id)
		return
	}
	pc.chunks = append(pc.chunks, frame.Content...)
	pc.isError = pc.isError || frame.IsError
}

// mergeLocked combines accumulated chunks with the terminal frame into
// one tool result. Caller holds the mutex.
func (c *Correlator) mergeLocked(pc *pendingCall, last streamFrame) json.RawMessage {
	content := append(pc.chunks, last.Content...)
	merged, err := json.Marshal(bridge.ToolResult{
		Content: content,
		IsError: pc.isError || last.IsError,
	})
	if err != nil {
		// Content elements are raw JSON already; this cannot fail in
		// practice, but fall back to the terminal frame alone.
		return nil
	}
	return merged
}

// resolve settles a pending call exactly once. Returns false when the
// identifier was already retired.
func (c *Correlator) resolve(id int64, result json.RawMessage, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	pc, ok := c.pending[id]
	if !ok {
		return false
	}
	delete(c.pending, id)
	pc.result = result
	pc.err = err
	close(pc.done)
	c.notifyPendingLocked()
	return true
}

// resolveOrDiscard resolves a reply, logging late arrivals for retired
// identifiers.
func (c *Correlator) resolveOrDiscard(id int64, result json.RawMessage, err error) {
	if !c.resolve(id, result, err) {
		c.logger.Warn("discarding late reply for retired id", "id", id)
	}
}

// retire removes a pending identifier without publishing a result
// (timeout bookkeeping and caller cancellation).
func (c *Correlator) retire(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[id]; !ok {
		return false
	}
	delete(c.pending, id)
	c.notifyPendingLocked()
	return true
}

func (c *Correlator) notifyPendingLocked() {
	if c.onPending != nil {
		c.onPending(len(c.pending))
	}
}
