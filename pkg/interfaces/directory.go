package interfaces

import (
	"context"
	"net/http"

	"chatrelay/pkg/types"
)

// Directory resolves who may join a conversation's room
// ARCHITECTURAL DISCOVERY: Authorization decision is consumed as a boolean gate
// before registry join; the directory itself lives outside the broadcast core
type Directory interface {
	// Authorize returns nil when userID may join roomID, ErrConversationNotFound
	// for unknown conversations and ErrUnauthorized otherwise
	Authorize(ctx context.Context, roomID, userID string) error
}

// IdentityProvider resolves the trusted principal of an upgrade request
type IdentityProvider interface {
	// Identify returns the caller's identity or an error wrapping ErrUnauthenticated
	Identify(r *http.Request) (types.Identity, error)
}
