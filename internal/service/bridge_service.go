package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"log/slog"

	"github.com/cespare/xxhash/v2"

	"github.com/splunk-bridge/splunk-mcp-bridge/internal/domain/bridge"
)

// MCP method names for the operations the bridge translates.
const (
	methodToolsList     = "tools/list"
	methodToolsCall     = "tools/call"
	methodResourcesList = "resources/list"
	methodResourcesRead = "resources/read"
)

// toolCallParams is the tools/call request payload.
type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// resourceReadParams is the resources/read request payload.
type resourceReadParams struct {
	URI string `json:"uri"`
}

// BridgeService translates REST-shaped requests (tool name plus
// arguments, or resource URI) into JSON-RPC calls on the shared
// session, and translates results back. It holds no state of its own;
// every discovery call re-queries the remote catalog.
type BridgeService struct {
	manager     *SessionManager
	audit       *AuditService
	callTimeout time.Duration
	logger      *slog.Logger
}

// NewBridgeService wires the translator to the session manager. audit
// may be nil when payload auditing is disabled.
func NewBridgeService(manager *SessionManager, audit *AuditService, callTimeout time.Duration, logger *slog.Logger) *BridgeService {
	return &BridgeService{
		manager:     manager,
		audit:       audit,
		callTimeout: callTimeout,
		logger:      logger,
	}
}

// ListTools queries the remote tool catalog and returns a fresh
// snapshot. Results are never cached; the remote catalog may change
// between calls.
func (s *BridgeService) ListTools(ctx context.Context) (*bridge.ToolSnapshot, error) {
	started := time.Now()
	raw, err := s.manager.Call(ctx, methodToolsList, nil, s.callTimeout)
	if err != nil {
		s.record(ctx, methodToolsList, "", started, err)
		return nil, bridge.Normalize(err)
	}

	var snapshot bridge.ToolSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		perr := bridge.ProtocolError("malformed tools/list result", err)
		s.record(ctx, methodToolsList, "", started, perr)
		return nil, perr
	}
	snapshot.Fingerprint = fingerprint(raw)
	s.record(ctx, methodToolsList, "", started, nil)
	s.logger.Debug("tool catalog fetched", "count", len(snapshot.Tools), "fingerprint", snapshot.Fingerprint)
	return &snapshot, nil
}

// ExecuteTool invokes a named remote tool. The result body is passed
// through unchanged; a tool-reported failure (isError true) is data,
// not a transport failure, and never affects session health.
func (s *BridgeService) ExecuteTool(ctx context.Context, name string, arguments json.RawMessage) (*bridge.ToolResult, error) {
	if name == "" {
		return nil, bridge.ValidationError("tool name must not be empty")
	}

	started := time.Now()
	params := toolCallParams{Name: name, Arguments: arguments}
	raw, err := s.manager.Call(ctx, methodToolsCall, params, s.callTimeout)
	if err != nil {
		s.record(ctx, methodToolsCall, name, started, err)
		return nil, bridge.Normalize(err)
	}

	var result bridge.ToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		perr := bridge.ProtocolError("malformed tools/call result", err)
		s.record(ctx, methodToolsCall, name, started, perr)
		return nil, perr
	}
	if result.Content == nil {
		result.Content = []json.RawMessage{}
	}

	var outcome error
	if result.IsError {
		outcome = bridge.ToolExecutionError("tool " + name + " reported failure")
	}
	s.record(ctx, methodToolsCall, name, started, outcome)
	return &result, nil
}

// ListResources queries the remote resource catalog.
func (s *BridgeService) ListResources(ctx context.Context) (*bridge.ResourceSnapshot, error) {
	started := time.Now()
	raw, err := s.manager.Call(ctx, methodResourcesList, nil, s.callTimeout)
	if err != nil {
		s.record(ctx, methodResourcesList, "", started, err)
		return nil, bridge.Normalize(err)
	}

	var snapshot bridge.ResourceSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		perr := bridge.ProtocolError("malformed resources/list result", err)
		s.record(ctx, methodResourcesList, "", started, perr)
		return nil, perr
	}
	snapshot.Fingerprint = fingerprint(raw)
	s.record(ctx, methodResourcesList, "", started, nil)
	return &snapshot, nil
}

// ReadResource fetches the contents of one URI-addressed resource.
// An unknown URI surfaces as a not-found error.
func (s *BridgeService) ReadResource(ctx context.Context, uri string) (*bridge.ResourceContents, error) {
	if uri == "" {
		return nil, bridge.ValidationError("resource uri must not be empty")
	}

	started := time.Now()
	raw, err := s.manager.Call(ctx, methodResourcesRead, resourceReadParams{URI: uri}, s.callTimeout)
	if err != nil {
		s.record(ctx, methodResourcesRead, uri, started, err)
		return nil, bridge.Normalize(err)
	}

	var contents bridge.ResourceContents
	if err := json.Unmarshal(raw, &contents); err != nil {
		perr := bridge.ProtocolError("malformed resources/read result", err)
		s.record(ctx, methodResourcesRead, uri, started, perr)
		return nil, perr
	}
	s.record(ctx, methodResourcesRead, uri, started, nil)
	return &contents, nil
}

// record emits one audit entry for a completed translation.
func (s *BridgeService) record(ctx context.Context, method, target string, started time.Time, err error) {
	if s.audit == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		var bErr *bridge.Error
		if errors.As(err, &bErr) {
			outcome = bErr.Code()
		} else {
			outcome = "error"
		}
	}
	s.audit.Record(ctx, method, target, time.Since(started), outcome)
}

// fingerprint hashes a discovery result so catalog changes between
// calls are observable in logs and tests.
func fingerprint(raw []byte) uint64 {
	return xxhash.Sum64(raw)
}
