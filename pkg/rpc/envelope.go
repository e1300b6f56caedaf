// Package rpc provides JSON-RPC 2.0 envelope types and codec utilities
// for the splunk-mcp-bridge.
package rpc

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// Envelope wraps a decoded JSON-RPC message together with its wire bytes.
// The raw bytes are kept because request identifiers are extracted from
// them directly; the SDK's jsonrpc.ID type does not round-trip reliably
// through interface{}.
type Envelope struct {
	// Raw contains the original bytes of the message.
	Raw []byte

	// Decoded contains the parsed JSON-RPC message.
	// The concrete type is either *jsonrpc.Request or *jsonrpc.Response.
	Decoded jsonrpc.Message

	// Timestamp records when the message was received.
	Timestamp time.Time
}

// Decode parses raw JSON-RPC wire bytes into an Envelope.
func Decode(raw []byte) (*Envelope, error) {
	decoded, err := jsonrpc.DecodeMessage(raw)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Raw:       raw,
		Decoded:   decoded,
		Timestamp: time.Now().UTC(),
	}, nil
}

// IsRequest returns true if the envelope holds a JSON-RPC request.
func (e *Envelope) IsRequest() bool {
	_, ok := e.Decoded.(*jsonrpc.Request)
	return ok
}

// IsResponse returns true if the envelope holds a JSON-RPC response.
func (e *Envelope) IsResponse() bool {
	_, ok := e.Decoded.(*jsonrpc.Response)
	return ok
}

// Request returns the underlying request, or nil for non-request envelopes.
func (e *Envelope) Request() *jsonrpc.Request {
	req, _ := e.Decoded.(*jsonrpc.Request)
	return req
}

// Response returns the underlying response, or nil for non-response envelopes.
func (e *Envelope) Response() *jsonrpc.Response {
	resp, _ := e.Decoded.(*jsonrpc.Response)
	return resp
}

// Method returns the method name for request envelopes, empty string otherwise.
func (e *Envelope) Method() string {
	if req := e.Request(); req != nil {
		return req.Method
	}
	return ""
}

// NumericID extracts the request identifier from the raw message bytes.
// The bridge only ever assigns integer identifiers, so anything else
// (string ids, null, absent) reports ok=false.
func (e *Envelope) NumericID() (int64, bool) {
	return NumericID(e.Raw)
}

// NumericID extracts an integer "id" field from raw JSON-RPC bytes.
func NumericID(raw []byte) (int64, bool) {
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return 0, false
	}
	idBytes := bytes.TrimSpace(probe.ID)
	if len(idBytes) == 0 || bytes.Equal(idBytes, []byte("null")) {
		return 0, false
	}
	id, err := strconv.ParseInt(string(idBytes), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
