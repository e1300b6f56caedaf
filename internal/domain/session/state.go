// Package session models the single logical connection to the remote
// MCP server: its lifecycle state machine and handshake metadata.
package session

// State is the lifecycle state of a Session.
type State int

const (
	// StateDisconnected is the initial state; no calls admitted.
	StateDisconnected State = iota
	// StateConnecting means the handshake is in flight; calls are queued.
	StateConnecting
	// StateReady means calls are dispatched immediately.
	StateReady
	// StateDegraded means a health probe or transport error was observed
	// but not yet confirmed fatal; calls get one reconnect-and-retry.
	StateDegraded
	// StateFailed is terminal for the current session; pending calls are
	// failed and a fresh session is required.
	StateFailed
)

// String returns the lowercase state name used in /health and logs.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CanTransition reports whether moving from s to next is a legal
// state-machine edge.
func (s State) CanTransition(next State) bool {
	switch s {
	case StateDisconnected:
		return next == StateConnecting
	case StateConnecting:
		return next == StateReady || next == StateFailed || next == StateDisconnected
	case StateReady:
		return next == StateDegraded || next == StateDisconnected || next == StateFailed
	case StateDegraded:
		return next == StateConnecting || next == StateFailed
	case StateFailed:
		return false
	default:
		return false
	}
}
