// Package outbound defines the outbound port interfaces for talking to
// the remote MCP server.
package outbound

import "context"

// Transport is the outbound port for one underlying connection to the
// remote MCP server. It carries opaque JSON-RPC wire bytes and performs
// no semantic interpretation; connection-level failures surface as
// plain errors for the session layer to normalize.
type Transport interface {
	// Start establishes the connection and returns the inbound message
	// sequence. The channel is unbounded in duration: it yields every
	// envelope the server delivers (direct replies and event-stream
	// deliveries alike) and is closed when the connection dies. A closed
	// channel is final; reconnection requires a fresh Transport.
	Start(ctx context.Context) (<-chan []byte, error)

	// Send submits one outbound envelope. A reply, if any, arrives on
	// the inbound channel returned by Start.
	Send(ctx context.Context, payload []byte) error

	// Close terminates the connection and releases resources.
	Close() error
}
