package types

import "errors"

// ARCHITECTURAL DISCOVERY: Specific error types enable proper error handling
// and user-friendly error messages throughout the system
var (
	ErrInvalidUserID      = errors.New("user ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidDisplayName = errors.New("display name must be 1-100 characters")
	ErrMalformedPayload   = errors.New("malformed event payload")
	ErrContentTooLarge    = errors.New("message content exceeds size limit")
	ErrUnknownEventKind   = errors.New("unknown event kind")
)
