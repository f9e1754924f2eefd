package websocket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// Connection implements the interfaces.Connection interface
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions
// Interface boundary maintained - no business logic in connection wrapper
type Connection struct {
	id       string
	identity types.Identity
	roomID   string

	conn         *websocket.Conn
	writeCh      chan []byte // FUNCTIONAL DISCOVERY: Buffer absorbs bursts so a slow reader never blocks a broadcast
	writeTimeout time.Duration
	pingInterval time.Duration
	logger       *zap.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

var _ interfaces.Connection = (*Connection)(nil)

// NewConnection wraps conn for identity in roomID and starts its writer
func NewConnection(conn *websocket.Conn, identity types.Identity, roomID string, cfg Config, logger *zap.Logger) *Connection {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	c := &Connection{
		id:           id,
		identity:     identity,
		roomID:       roomID,
		conn:         conn,
		writeCh:      make(chan []byte, cfg.BufferSize),
		writeTimeout: cfg.WriteTimeout,
		pingInterval: cfg.PingInterval,
		logger:       logger.With(zap.String("conn_id", id)),
		ctx:          ctx,
		cancel:       cancel,
	}

	// Start the single writer goroutine
	go c.writeLoop()

	return c
}

func (c *Connection) ID() string               { return c.id }
func (c *Connection) Identity() types.Identity { return c.identity }
func (c *Connection) RoomID() string           { return c.roomID }

// Done is closed once the connection is shut down
func (c *Connection) Done() <-chan struct{} { return c.ctx.Done() }

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races;
// heartbeats share it so control and data frames never interleave mid-write
func (c *Connection) writeLoop() {
	var ping <-chan time.Time
	if c.pingInterval > 0 {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case data := <-c.writeCh:
			if err := c.write(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write failed, closing connection", zap.Error(err))
				_ = c.Close()
				return
			}

		case <-ping:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("ping failed, closing connection", zap.Error(err))
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) write(messageType int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

// Send enqueues payload without blocking
// RACE CONDITION FIX: writeCh is never closed, so a Send racing Close can
// only observe the cancelled context, never a closed channel
func (c *Connection) Send(payload []byte) error {
	select {
	case <-c.ctx.Done():
		return fmt.Errorf("%w: %w", interfaces.ErrTransportFailure, ErrConnectionClosed)
	default:
	}

	select {
	case c.writeCh <- payload:
		return nil
	case <-c.ctx.Done():
		return fmt.Errorf("%w: %w", interfaces.ErrTransportFailure, ErrConnectionClosed)
	default:
		return fmt.Errorf("%w: %w", interfaces.ErrTransportFailure, ErrSendBufferFull)
	}
}

// Close stops the writer and closes the socket. Idempotent.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			closing := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.conn.WriteControl(websocket.CloseMessage, closing, time.Now().Add(time.Second))
			c.closeErr = c.conn.Close()
		}
	})
	return c.closeErr
}
