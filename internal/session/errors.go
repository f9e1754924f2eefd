package session

import "errors"

var (
	ErrSessionNotStarted = errors.New("session has not been started")
	ErrSessionStarted    = errors.New("session already started")
	ErrSessionClosed     = errors.New("session is closed")
	ErrLeftRoom          = errors.New("session has left the room")
)
