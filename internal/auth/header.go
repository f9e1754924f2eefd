// Package auth resolves the trusted identity behind a WebSocket upgrade.
package auth

import (
	"fmt"
	"net/http"

	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// Headers set by a trusted authenticating proxy
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserName = "X-User-Name"
)

// HeaderProvider trusts identity headers injected by a fronting proxy, with
// user_id/name query parameters as a fallback for local clients
// ARCHITECTURAL DISCOVERY: Only safe behind a proxy that strips client-sent
// copies of these headers
type HeaderProvider struct{}

var _ interfaces.IdentityProvider = HeaderProvider{}

// Identify reads the identity from headers or query parameters
func (HeaderProvider) Identify(r *http.Request) (types.Identity, error) {
	id := types.Identity{
		UserID:      r.Header.Get(HeaderUserID),
		DisplayName: r.Header.Get(HeaderUserName),
	}
	if id.UserID == "" {
		q := r.URL.Query()
		id.UserID = q.Get("user_id")
		id.DisplayName = q.Get("name")
	}
	if id.UserID == "" {
		return types.Identity{}, fmt.Errorf("%w: no user id supplied", interfaces.ErrUnauthenticated)
	}
	return finish(id)
}

// finish defaults the display name to the user id and validates both
func finish(id types.Identity) (types.Identity, error) {
	if id.DisplayName == "" {
		id.DisplayName = id.UserID
	}
	if err := id.Validate(); err != nil {
		return types.Identity{}, fmt.Errorf("%w: %w", interfaces.ErrUnauthenticated, err)
	}
	return id, nil
}
