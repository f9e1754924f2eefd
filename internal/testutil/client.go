package testutil

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Frame is one decoded server frame
type Frame map[string]any

// Type returns the frame's "type" tag
func (f Frame) Type() string {
	t, _ := f["type"].(string)
	return t
}

// Payload returns the nested "message" object of join and message frames
func (f Frame) Payload() map[string]any {
	m, _ := f["message"].(map[string]any)
	return m
}

// History returns the entries of a chat.history frame
func (f Frame) History() []map[string]any {
	raw, _ := f["messages"].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, entry := range raw {
		if m, ok := entry.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// Client is a WebSocket chat client for end-to-end tests
type Client struct {
	UserID string
	Name   string
	RoomID string

	conn   *websocket.Conn
	frames chan Frame
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Dial connects userID/name to roomID on the relay listening at addr
// (host:port), identifying through the user_id/name query parameters
func Dial(ctx context.Context, addr, roomID, userID, name string) (*Client, error) {
	q := url.Values{"user_id": {userID}, "name": {name}}
	target := fmt.Sprintf("ws://%s/ws/chat/%s/?%s", addr, roomID, q.Encode())

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c := &Client{
		UserID: userID,
		Name:   name,
		RoomID: roomID,
		conn:   conn,
		frames: make(chan Frame, 1024),
		done:   make(chan struct{}),
	}

	// Start message reading goroutine
	go c.readLoop()
	return c, nil
}

// readLoop continuously reads frames until the connection ends
func (c *Client) readLoop() {
	defer close(c.done)
	for {
		var frame Frame
		if err := c.conn.ReadJSON(&frame); err != nil {
			return
		}
		select {
		case c.frames <- frame:
		default:
			// Channel full; tests never buffer this many frames
		}
	}
}

// Send writes one inbound event
func (c *Client) Send(eventType, content string) error {
	event := map[string]string{"type": eventType}
	if content != "" {
		event["content"] = content
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	return c.conn.WriteJSON(event)
}

// Say sends a chat message
func (c *Client) Say(content string) error {
	return c.Send("message", content)
}

// Next waits for the next frame
func (c *Client) Next(timeout time.Duration) (Frame, error) {
	select {
	case frame := <-c.frames:
		return frame, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("timeout waiting for frame")
	case <-c.done:
		// Frames read before the close are still delivered
		select {
		case frame := <-c.frames:
			return frame, nil
		default:
			return nil, fmt.Errorf("client disconnected")
		}
	}
}

// WaitFor skips frames until one of eventType arrives
func (c *Client) WaitFor(eventType string, timeout time.Duration) (Frame, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("timeout waiting for frame type %s", eventType)
		}
		frame, err := c.Next(remaining)
		if err != nil {
			return nil, err
		}
		if frame.Type() == eventType {
			return frame, nil
		}
	}
}

// Collect reads exactly n frames
func (c *Client) Collect(n int, timeout time.Duration) ([]Frame, error) {
	frames := make([]Frame, 0, n)
	deadline := time.Now().Add(timeout)
	for len(frames) < n {
		frame, err := c.Next(time.Until(deadline))
		if err != nil {
			return frames, fmt.Errorf("received %d/%d frames: %w", len(frames), n, err)
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// Quiet reports whether no frame arrives within d
func (c *Client) Quiet(d time.Duration) bool {
	select {
	case <-c.frames:
		return false
	case <-time.After(d):
		return true
	}
}

// Done is closed when the server side ends the connection
func (c *Client) Done() <-chan struct{} { return c.done }

// Close sends a close frame and closes the socket. Idempotent.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
