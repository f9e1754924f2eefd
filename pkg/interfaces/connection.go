package interfaces

import "chatrelay/pkg/types"

// Connection is a live client handle registered in a room
// ARCHITECTURAL DISCOVERY: Pure abstraction without implementation details
// ensures the registry and hub never touch the WebSocket library directly
type Connection interface {
	// ID returns a process-unique handle identifier
	ID() string

	// Identity returns the trusted principal resolved at connect time
	Identity() types.Identity

	// RoomID returns the room this handle is bound to
	RoomID() string

	// Send enqueues a serialized payload for delivery (thread-safe).
	// It must not block; a full queue or closed transport returns an error
	// wrapping ErrTransportFailure.
	Send(payload []byte) error

	// Close closes the transport and releases its resources. Idempotent.
	Close() error
}
