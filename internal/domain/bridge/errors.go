// Package bridge contains the domain types for the splunk-mcp-bridge:
// the shared error taxonomy and the tool/resource descriptor model.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies every failure the bridge can surface.
type Kind int

const (
	// KindConnection indicates the MCP server is unreachable or the
	// session has failed.
	KindConnection Kind = iota
	// KindTimeout indicates a per-call deadline elapsed before a reply.
	KindTimeout
	// KindProtocol indicates a malformed or unexpected JSON-RPC envelope.
	KindProtocol
	// KindToolExecution indicates the remote tool itself reported failure
	// (isError inside an otherwise successful RPC result).
	KindToolExecution
	// KindValidation indicates locally detectable malformed input.
	KindValidation
	// KindNotFound indicates an unknown resource URI or tool name.
	KindNotFound
	// KindBackpressure indicates the connect queue overflowed during
	// connection establishment.
	KindBackpressure
)

// Layer identifies which part of the stack produced an error.
type Layer string

const (
	LayerTransport Layer = "transport"
	LayerSession   Layer = "session"
	LayerProtocol  Layer = "protocol"
	LayerTool      Layer = "tool"
)

// Code returns the stable machine-readable code for the kind.
func (k Kind) Code() string {
	switch k {
	case KindConnection:
		return "connection_error"
	case KindTimeout:
		return "timeout_error"
	case KindProtocol:
		return "protocol_error"
	case KindToolExecution:
		return "tool_execution_error"
	case KindValidation:
		return "validation_error"
	case KindNotFound:
		return "not_found"
	case KindBackpressure:
		return "backpressure"
	default:
		return "unknown_error"
	}
}

// HTTPStatus returns the REST status code for the kind.
// Tool execution failures are data, not transport failures, so they
// surface as 200 with isError set in the body.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindConnection:
		return http.StatusServiceUnavailable
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindProtocol:
		return http.StatusBadGateway
	case KindToolExecution:
		return http.StatusOK
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindBackpressure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the caller may safely retry the call.
func (k Kind) Retryable() bool {
	switch k {
	case KindConnection, KindTimeout, KindBackpressure:
		return true
	default:
		return false
	}
}

// Error is the one normalized error type every failure path produces.
type Error struct {
	Kind    Kind
	Layer   Layer
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind.Code(), e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind.Code(), e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Code returns the stable machine-readable code.
func (e *Error) Code() string { return e.Kind.Code() }

// Retryable reports whether the caller may retry.
func (e *Error) Retryable() bool { return e.Kind.Retryable() }

// HTTPStatus returns the REST status for this error.
func (e *Error) HTTPStatus() int { return e.Kind.HTTPStatus() }

// NewError builds a normalized error.
func NewError(kind Kind, layer Layer, message string, cause error) *Error {
	return &Error{Kind: kind, Layer: layer, Message: message, Cause: cause}
}

// ConnectionError builds a transport-layer connection failure.
func ConnectionError(message string, cause error) *Error {
	return NewError(KindConnection, LayerTransport, message, cause)
}

// SessionError builds a session-layer connection failure.
func SessionError(message string, cause error) *Error {
	return NewError(KindConnection, LayerSession, message, cause)
}

// TimeoutError builds a deadline failure for the given method.
func TimeoutError(message string) *Error {
	return NewError(KindTimeout, LayerSession, message, nil)
}

// ProtocolError builds a protocol-layer failure.
func ProtocolError(message string, cause error) *Error {
	return NewError(KindProtocol, LayerProtocol, message, cause)
}

// ValidationError builds a local input validation failure.
func ValidationError(message string) *Error {
	return NewError(KindValidation, LayerProtocol, message, nil)
}

// NotFoundError builds an unknown tool/resource failure.
func NotFoundError(message string) *Error {
	return NewError(KindNotFound, LayerProtocol, message, nil)
}

// BackpressureError builds a connect-queue overflow failure.
func BackpressureError(message string) *Error {
	return NewError(KindBackpressure, LayerSession, message, nil)
}

// ToolExecutionError builds a tool-level failure. It never reaches the
// REST error envelope (the result body is passed through verbatim) but
// is recorded in audit and metrics.
func ToolExecutionError(message string) *Error {
	return NewError(KindToolExecution, LayerTool, message, nil)
}

// resourceNotFoundCode is the JSON-RPC error code MCP servers use for
// unknown resource URIs.
const resourceNotFoundCode = -32002

// FromRPCError normalizes a JSON-RPC error object reported by the
// remote server. Resource-not-found maps to NotFound; everything else
// is a protocol-level failure and is never retried automatically.
func FromRPCError(code int64, message string) *Error {
	if code == resourceNotFoundCode {
		return NotFoundError(message)
	}
	return NewError(KindProtocol, LayerProtocol,
		fmt.Sprintf("rpc error %d: %s", code, message), nil)
}

// Normalize converts an arbitrary error into the taxonomy. Errors that
// are already normalized pass through unchanged.
func Normalize(err error) *Error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return be
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TimeoutError("deadline exceeded")
	}
	return ConnectionError("transport failure", err)
}
