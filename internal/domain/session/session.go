package session

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Session represents one logical connection to the remote MCP server.
// At most one Session is ready at a time per bridge instance; all
// concurrent calls share it. A Session is never resurrected: once it
// fails, a fresh one with a new epoch supersedes it.
type Session struct {
	// Token is the opaque session identity assigned at creation.
	Token string

	// Epoch distinguishes this Session from its predecessors. Request
	// identifiers are scoped to one epoch so stale replies from a
	// superseded Session are never matched against a new one.
	Epoch int64

	// ProtocolVersion is the negotiated MCP protocol version.
	ProtocolVersion string

	// ServerInfo is the server implementation blurb from the handshake.
	ServerInfo json.RawMessage

	// Capabilities is the capability set declared during the handshake.
	Capabilities json.RawMessage

	// EstablishedAt is when the handshake completed (UTC). Zero until
	// the first successful handshake.
	EstablishedAt time.Time

	// LastActivity is the last time a call or probe used the session (UTC).
	LastActivity time.Time
}

// New creates a Session for the given epoch with a fresh identity token.
func New(epoch int64) *Session {
	return &Session{
		Token: uuid.New().String(),
		Epoch: epoch,
	}
}

// Touch updates the last-activity timestamp.
func (s *Session) Touch() {
	s.LastActivity = time.Now().UTC()
}
