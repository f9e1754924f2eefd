package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
)

// Handler-related errors
var (
	ErrInvalidConversationID = errors.New("invalid conversation id")
	ErrOriginNotAllowed      = errors.New("origin not allowed")
)
