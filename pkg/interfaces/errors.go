package interfaces

import "errors"

// Error taxonomy shared by the session, hub and HTTP edge
var (
	ErrMalformedEvent       = errors.New("malformed event")
	ErrUnauthorized         = errors.New("unauthorized access")
	ErrUnauthenticated      = errors.New("unauthenticated")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrRateLimited          = errors.New("rate limit exceeded")
	ErrStoreUnavailable     = errors.New("message store unavailable")
	ErrTransportFailure     = errors.New("transport failure")
)
