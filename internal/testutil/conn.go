// Package testutil provides in-memory doubles shared by package tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// Conn is an in-memory interfaces.Connection that records every payload
type Conn struct {
	id       string
	identity types.Identity
	roomID   string

	mu       sync.Mutex
	received [][]byte
	closed   bool
	sendErr  error
}

var _ interfaces.Connection = (*Conn)(nil)

// NewConn creates a handle for userID/name bound to roomID
func NewConn(userID, name, roomID string) *Conn {
	return &Conn{
		id:       uuid.NewString(),
		identity: types.Identity{UserID: userID, DisplayName: name},
		roomID:   roomID,
	}
}

func (c *Conn) ID() string               { return c.id }
func (c *Conn) Identity() types.Identity { return c.identity }
func (c *Conn) RoomID() string           { return c.roomID }

// Send records payload, or fails once the conn is broken or closed
func (c *Conn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	if c.closed {
		return fmt.Errorf("%w: connection closed", interfaces.ErrTransportFailure)
	}
	c.received = append(c.received, append([]byte(nil), payload...))
	return nil
}

// Close marks the conn closed
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Break makes every later Send fail
func (c *Conn) Break() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = fmt.Errorf("%w: broken pipe", interfaces.ErrTransportFailure)
}

// Closed reports whether Close was called
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Received returns a copy of every payload delivered so far
func (c *Conn) Received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.received))
	copy(out, c.received)
	return out
}

// Frames decodes every payload as a generic JSON object
func (c *Conn) Frames() []map[string]any {
	raw := c.Received()
	frames := make([]map[string]any, 0, len(raw))
	for _, payload := range raw {
		var frame map[string]any
		if err := json.Unmarshal(payload, &frame); err != nil {
			frame = map[string]any{"_raw": string(payload)}
		}
		frames = append(frames, frame)
	}
	return frames
}

// Types lists the "type" field of every received frame
func (c *Conn) Types() []string {
	frames := c.Frames()
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		t, _ := f["type"].(string)
		out = append(out, t)
	}
	return out
}
