package rpc

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNewRequestRoundTrip(t *testing.T) {
	raw, err := NewRequest(7, "tools/call", map[string]any{
		"name":      "search",
		"arguments": map[string]any{"query": "index=main | head 5"},
	})
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}

	env, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if !env.IsRequest() {
		t.Fatalf("expected request envelope, got %T", env.Decoded)
	}
	if env.Method() != "tools/call" {
		t.Errorf("method = %q, want tools/call", env.Method())
	}

	id, ok := env.NumericID()
	if !ok {
		t.Fatal("expected numeric id in encoded request")
	}
	if id != 7 {
		t.Errorf("id = %d, want 7", id)
	}
}

func TestNewRequestNilParams(t *testing.T) {
	raw, err := NewRequest(1, "tools/list", nil)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	if !json.Valid(raw) {
		t.Fatalf("encoded request is not valid JSON: %s", raw)
	}
}

func TestNewNotificationHasNoID(t *testing.T) {
	raw, err := NewNotification("notifications/initialized", nil)
	if err != nil {
		t.Fatalf("NewNotification failed: %v", err)
	}
	if _, ok := NumericID(raw); ok {
		t.Errorf("notification carries an id: %s", raw)
	}
}

func TestDecodeResponse(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":42,"result":{"content":[{"type":"text","text":"5 rows"}],"isError":false}}`)

	env, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if !env.IsResponse() {
		t.Fatalf("expected response envelope, got %T", env.Decoded)
	}
	resp := env.Response()
	if resp == nil {
		t.Fatal("Response() returned nil for a response envelope")
	}
	if !strings.Contains(string(resp.Result), "5 rows") {
		t.Errorf("result does not contain payload: %s", resp.Result)
	}

	id, ok := env.NumericID()
	if !ok || id != 42 {
		t.Errorf("NumericID = (%d, %v), want (42, true)", id, ok)
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, err := Decode([]byte(`{"jsonrpc":"2.0"`)); err == nil {
		t.Error("expected error for truncated JSON")
	}
}

func TestNumericID(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		wantID int64
		wantOK bool
	}{
		{"integer id", `{"jsonrpc":"2.0","id":5,"result":{}}`, 5, true},
		{"string id", `{"jsonrpc":"2.0","id":"abc","result":{}}`, 0, false},
		{"null id", `{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"parse error"}}`, 0, false},
		{"missing id", `{"jsonrpc":"2.0","method":"ping"}`, 0, false},
		{"not json", `garbage`, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := NumericID([]byte(tt.raw))
			if id != tt.wantID || ok != tt.wantOK {
				t.Errorf("NumericID = (%d, %v), want (%d, %v)", id, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}
