package interfaces

import (
	"context"

	"chatrelay/pkg/types"
)

// MessageLog is the external collaborator backing a room's message log
// FUNCTIONAL DISCOVERY: Append-native contract; retention (cap, TTL) is a
// property of the backend, not of each call
type MessageLog interface {
	// Append adds msg to the end of the room's log
	Append(ctx context.Context, roomID string, msg types.StoredMessage) error

	// Range returns at most limit most-recent entries, oldest first.
	// A room without a log yields an empty slice and no error.
	Range(ctx context.Context, roomID string, limit int) ([]types.StoredMessage, error)

	// Ping verifies the collaborator is reachable
	Ping(ctx context.Context) error

	// Close releases backend resources
	Close() error
}
