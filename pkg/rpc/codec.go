package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// NewRequest builds the wire bytes for a JSON-RPC request with the given
// integer identifier. Params may be nil for parameterless methods.
func NewRequest(id int64, method string, params any) ([]byte, error) {
	var rawParams json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params for %s: %w", method, err)
		}
		rawParams = encoded
	}

	reqID, err := jsonrpc.MakeID(float64(id))
	if err != nil {
		return nil, fmt.Errorf("make request id %d: %w", id, err)
	}

	req := &jsonrpc.Request{
		ID:     reqID,
		Method: method,
		Params: rawParams,
	}
	return jsonrpc.EncodeMessage(req)
}

// NewNotification builds the wire bytes for a JSON-RPC notification
// (a request without an identifier; the server must not reply to it).
func NewNotification(method string, params any) ([]byte, error) {
	var rawParams json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params for %s: %w", method, err)
		}
		rawParams = encoded
	}

	req := &jsonrpc.Request{
		Method: method,
		Params: rawParams,
	}
	return jsonrpc.EncodeMessage(req)
}
