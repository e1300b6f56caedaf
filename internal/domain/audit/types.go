// Package audit contains domain types for bridge audit logging.
package audit

import (
	"context"
	"strings"
	"time"
)

// Record is a single auditable bridge operation: one REST call
// translated into one remote RPC exchange.
type Record struct {
	// Timestamp is when the operation started.
	Timestamp time.Time `json:"timestamp"`
	// RequestID correlates the record with the originating HTTP call.
	RequestID string `json:"request_id,omitempty"`
	// Method is the JSON-RPC method invoked (tools/call, resources/read, ...).
	Method string `json:"method"`
	// Target is the tool name or resource URI, empty for discovery calls.
	Target string `json:"target,omitempty"`
	// DurationMicros is the end-to-end call latency in microseconds.
	DurationMicros int64 `json:"duration_micros"`
	// Outcome is "ok" or the stable error code of the failure.
	Outcome string `json:"outcome"`
}

// Store persists audit records.
type Store interface {
	Append(ctx context.Context, records ...Record) error
	Flush(ctx context.Context) error
	Close() error
}

// sensitiveKeywords lists substrings that indicate a sensitive argument key.
// Comparison is case-insensitive.
var sensitiveKeywords = []string{
	"password", "secret", "token", "api_key", "apikey",
	"credential", "auth", "private_key", "privatekey",
}

// RedactSensitiveArgs returns a copy of args with sensitive values masked.
// A key is considered sensitive if it contains any of the sensitiveKeywords
// (case-insensitive). Values are replaced with "***REDACTED***".
func RedactSensitiveArgs(args map[string]interface{}) map[string]interface{} {
	if len(args) == 0 {
		return args
	}
	redacted := make(map[string]interface{}, len(args))
	for k, v := range args {
		if isSensitiveKey(k) {
			redacted[k] = "***REDACTED***"
		} else {
			redacted[k] = v
		}
	}
	return redacted
}

// isSensitiveKey checks if a key name indicates sensitive data.
func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
