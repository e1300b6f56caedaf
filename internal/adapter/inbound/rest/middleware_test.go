package rest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"testing"
)

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return "sha256:" + hex.EncodeToString(sum[:])
}

func TestAPIKeyRequiredWhenConfigured(t *testing.T) {
	stack := newHealthyStack(t, RouterConfig{APIKeyHash: hashKey("secret-key")})

	rec := doRequest(t, stack.handler, http.MethodGet, "/api/tools", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401; body %s", rec.Code, rec.Body)
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "unauthorized" {
		t.Errorf("code = %q, want unauthorized", envelope.Error.Code)
	}

	rec = doRequest(t, stack.handler, http.MethodGet, "/api/tools", "", map[string]string{"X-API-Key": "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong key status = %d, want 401", rec.Code)
	}

	rec = doRequest(t, stack.handler, http.MethodGet, "/api/tools", "", map[string]string{"X-API-Key": "secret-key"})
	if rec.Code != http.StatusOK {
		t.Errorf("correct key status = %d, want 200; body %s", rec.Code, rec.Body)
	}
}

func TestAPIKeySkippedWhenUnconfigured(t *testing.T) {
	stack := newHealthyStack(t, RouterConfig{})

	rec := doRequest(t, stack.handler, http.MethodGet, "/api/tools", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 without API key config", rec.Code)
	}
}

func TestHealthAndRootBypassAPIKey(t *testing.T) {
	stack := newHealthyStack(t, RouterConfig{APIKeyHash: hashKey("secret-key")})

	if rec := doRequest(t, stack.handler, http.MethodGet, "/health", "", nil); rec.Code == http.StatusUnauthorized {
		t.Error("/health must not require an API key")
	}
	if rec := doRequest(t, stack.handler, http.MethodGet, "/", "", nil); rec.Code == http.StatusUnauthorized {
		t.Error("/ must not require an API key")
	}
}

func TestRedactPayloadMasksSensitiveArguments(t *testing.T) {
	in := []byte(`{"arguments":{"query":"index=main","password":"hunter2","api_token":"abc"}}`)
	out := redactPayload(in)

	var got struct {
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("unmarshal redacted payload: %v", err)
	}
	if got.Arguments["query"] != "index=main" {
		t.Errorf("query = %v, want passthrough", got.Arguments["query"])
	}
	if got.Arguments["password"] == "hunter2" {
		t.Error("password not redacted")
	}
	if got.Arguments["api_token"] == "abc" {
		t.Error("api_token not redacted")
	}
}
