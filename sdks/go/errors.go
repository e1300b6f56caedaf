package splunkbridge

import (
	"errors"
	"fmt"
)

// Sentinel errors for use with errors.Is().
var (
	// ErrUnauthorized is returned when the API key is missing or wrong.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable is returned for retryable bridge failures
	// (MCP server unreachable, timeouts, backpressure).
	ErrUnavailable = errors.New("bridge unavailable")

	// ErrServerUnreachable is returned when the bridge itself cannot be
	// contacted.
	ErrServerUnreachable = errors.New("server unreachable")
)

// APIError is a structured error returned by the bridge API.
// It mirrors the bridge's uniform error envelope.
type APIError struct {
	// Status is the HTTP status code of the response.
	Status int
	// Code is the machine-readable error code
	// (e.g., "connection_error", "timeout_error", "protocol_error").
	Code string
	// Message is the human-readable error description.
	Message string
	// Retryable indicates the request may succeed if repeated.
	Retryable bool
}

// Error returns a human-readable description of the API error.
func (e *APIError) Error() string {
	return fmt.Sprintf("bridge error [%s]: %s", e.Code, e.Message)
}

// Is reports whether this error matches the target sentinel.
// Retryable errors match ErrUnavailable; "unauthorized" matches
// ErrUnauthorized; "not_found" matches ErrNotFound.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Code == "unauthorized"
	case ErrNotFound:
		return e.Code == "not_found"
	case ErrUnavailable:
		return e.Retryable
	}
	return false
}

// ServerUnreachableError is returned when the bridge cannot be
// contacted at all (DNS failure, connection refused, client timeout).
type ServerUnreachableError struct {
	// Cause is the underlying transport error.
	Cause error
}

// Error returns a human-readable description of the connection failure.
func (e *ServerUnreachableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("server unreachable: %v", e.Cause)
	}
	return "server unreachable"
}

// Unwrap returns the underlying error cause.
func (e *ServerUnreachableError) Unwrap() error {
	return e.Cause
}

// Is reports whether this error matches the target error.
// It supports errors.Is(err, ErrServerUnreachable).
func (e *ServerUnreachableError) Is(target error) bool {
	return target == ErrServerUnreachable
}
