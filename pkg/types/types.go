package types

import (
	"time"
)

// Identity is the trusted principal behind a connection
// ARCHITECTURAL DISCOVERY: Resolved once at connect time by the identity provider
// and never re-derived from client payloads afterwards
type Identity struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"name"`
}

// StoredMessage is one entry of a room's message log
// FUNCTIONAL DISCOVERY: Serialized with the same keys as a live chat.message
// payload so history replay and broadcasts render identically on clients
type StoredMessage struct {
	User      string    `json:"user"`
	Content   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is a directory entry describing who may join a room
type Conversation struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	OwnerID      string    `json:"owner_id"`
	Participants []string  `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
}

// HasMember reports whether userID owns or participates in the conversation.
func (c *Conversation) HasMember(userID string) bool {
	if c.OwnerID == userID {
		return true
	}
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// RoomStats summarizes one room for the HTTP API
type RoomStats struct {
	RoomID  string     `json:"room_id"`
	Members []Identity `json:"members"`
}
