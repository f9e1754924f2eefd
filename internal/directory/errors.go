package directory

import "errors"

var (
	ErrInvalidConversationID = errors.New("conversation ID must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidOwner          = errors.New("owner must be a valid user ID")
	ErrInvalidParticipant    = errors.New("invalid participant ID format")
)
