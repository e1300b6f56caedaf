package rest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/splunk-bridge/splunk-mcp-bridge/internal/ctxkey"
	"github.com/splunk-bridge/splunk-mcp-bridge/internal/domain/audit"
)

// RequestIDKey is the context key for the request ID.
var RequestIDKey = ctxkey.RequestIDKey{}

// LoggerKey is the context key for the enriched logger.
// Uses shared key type from ctxkey package to allow cross-package access without import cycles.
var LoggerKey = ctxkey.LoggerKey{}

// RequestIDMiddleware extracts or generates a request ID and enriches the logger.
// The request ID is stored in context using RequestIDKey.
// An enriched logger with request_id field is stored using LoggerKey.
func RequestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}

			enrichedLogger := logger.With("request_id", requestID)

			ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
			ctx = context.WithValue(ctx, LoggerKey, enrichedLogger)

			// Set response header for correlation
			w.Header().Set("X-Request-ID", requestID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggerFromContext retrieves the enriched logger from context.
// Returns slog.Default() if no logger is in context.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// APIKeyMiddleware checks the X-API-Key header against the configured
// key hash ("sha256:<hex>"). When no key is configured the check is
// disabled and every request passes.
func APIKeyMiddleware(keyHash string) func(http.Handler) http.Handler {
	expected := strings.TrimPrefix(keyHash, "sha256:")
	enabled := expected != ""

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				next.ServeHTTP(w, r)
				return
			}

			presented := r.Header.Get("X-API-Key")
			if presented == "" || !keyMatches(presented, expected) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":{"code":"unauthorized","message":"invalid or missing API key","retryable":false}}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// keyMatches hashes the presented key and compares it to the expected
// hex digest in constant time.
func keyMatches(presented, expectedHex string) bool {
	sum := sha256.Sum256([]byte(presented))
	presentedHex := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(presentedHex), []byte(expectedHex)) == 1
}

// maxLoggedPayloadSize bounds how much of a request body the payload
// logger will read and echo.
const maxLoggedPayloadSize = 64 * 1024

// PayloadLoggingMiddleware logs request bodies for tool invocations at
// debug level, with sensitive argument values redacted. The body is
// re-buffered so downstream handlers see it untouched.
func PayloadLoggingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.Body == nil {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxLoggedPayloadSize+1))
			_ = r.Body.Close()
			if err != nil {
				http.Error(w, "failed to read request body", http.StatusBadRequest)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			logger := LoggerFromContext(r.Context())
			if len(body) > maxLoggedPayloadSize {
				logger.Debug("request payload", "path", r.URL.Path, "truncated", true)
			} else {
				logger.Debug("request payload", "path", r.URL.Path, "payload", redactPayload(body))
			}

			next.ServeHTTP(w, r)
		})
	}
}

// redactPayload masks sensitive argument values in a tool invocation
// body. Unparseable bodies are logged as-is length only.
func redactPayload(body []byte) string {
	var parsed struct {
		Arguments map[string]interface{} `json:"arguments"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Arguments == nil {
		return string(body)
	}
	parsed.Arguments = audit.RedactSensitiveArgs(parsed.Arguments)
	redacted, err := json.Marshal(map[string]interface{}{"arguments": parsed.Arguments})
	if err != nil {
		return string(body)
	}
	return string(redacted)
}
