package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// State is the lifecycle position of a Session
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session binds one connection handle to one room for its lifetime
// ARCHITECTURAL DISCOVERY: Identity and room are fixed at open time; nothing
// in a client payload can change who the session speaks for or where
type Session struct {
	m        *Manager
	conn     interfaces.Connection
	identity types.Identity
	roomID   string
	logger   *zap.Logger

	// lifecycle orders Start against Close so a closing session is never
	// re-added to the registry
	lifecycle sync.Mutex
	state     atomic.Int32
	left      atomic.Bool
	closeOnce sync.Once
}

// Identity returns the trusted principal of the session
func (s *Session) Identity() types.Identity { return s.identity }

// RoomID returns the room the session belongs to
func (s *Session) RoomID() string { return s.roomID }

// State returns the current lifecycle state
func (s *Session) State() State { return State(s.state.Load()) }

// Start registers the handle in its room and sends the history snapshot to
// the new member only
func (s *Session) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateActive)) {
		s.lifecycle.Unlock()
		if s.State() == StateClosed {
			return ErrSessionClosed
		}
		return ErrSessionStarted
	}
	s.m.registry.Join(s.roomID, s.conn)
	s.lifecycle.Unlock()
	s.logger.Info("session opened")

	history := s.m.store.RecentOrEmpty(ctx, s.roomID, s.m.cfg.HistoryLimit)
	if err := s.m.hub.SendTo(s.conn, types.NewHistoryEvent(s.roomID, history)); err != nil {
		s.logger.Warn("failed to deliver initial history", zap.Error(err))
	}
	return nil
}

// Handle dispatches one inbound frame. Returned errors are for logging only;
// none of them ends the session.
func (s *Session) Handle(ctx context.Context, raw []byte) error {
	switch s.State() {
	case StateConnecting:
		return ErrSessionNotStarted
	case StateClosed:
		return ErrSessionClosed
	}
	if s.left.Load() {
		return ErrLeftRoom
	}

	in, err := types.DecodeInbound(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", interfaces.ErrMalformedEvent, err)
	}

	switch in.Kind() {
	case types.EventJoin:
		return s.handleJoin(ctx)
	case types.EventMessage:
		return s.handleMessage(ctx, in.Content)
	case types.EventTyping, types.EventStopTyping:
		s.m.hub.Publish(s.roomID, types.NewSignalEvent(in.Kind(), s.roomID, s.identity))
		return nil
	case types.EventLeave:
		return s.handleLeave()
	case types.EventHistory:
		history := s.m.store.RecentOrEmpty(ctx, s.roomID, s.m.cfg.HistoryLimit)
		s.m.hub.Publish(s.roomID, types.NewHistoryEvent(s.roomID, history))
		return nil
	default:
		// FUNCTIONAL DISCOVERY: Unknown tags are ignored so newer clients can
		// talk to older relays
		s.logger.Debug("ignoring unknown event type", zap.String("type", in.Type))
		return nil
	}
}

func (s *Session) handleJoin(ctx context.Context) error {
	s.m.hub.Publish(s.roomID, types.NewJoinEvent(s.roomID, s.identity, s.m.now().UTC()))

	history := s.m.store.RecentOrEmpty(ctx, s.roomID, s.m.cfg.HistoryLimit)
	return s.m.hub.SendTo(s.conn, types.NewHistoryEvent(s.roomID, history))
}

func (s *Session) handleMessage(ctx context.Context, content string) error {
	if content == "" {
		return nil
	}
	if err := types.ValidateContent(content, s.m.cfg.MaxContentLength); err != nil {
		return fmt.Errorf("%w: %w", interfaces.ErrMalformedEvent, err)
	}

	if !s.m.limiter.Allow(s.identity.UserID) {
		if err := s.m.hub.SendTo(s.conn, types.NewRateLimitedEvent(s.roomID, s.identity)); err != nil {
			s.logger.Debug("failed to deliver rate limit notice", zap.Error(err))
		}
		return interfaces.ErrRateLimited
	}

	msg := types.StoredMessage{
		User:      s.identity.DisplayName,
		Content:   content,
		Timestamp: s.m.now().UTC(),
	}

	// FUNCTIONAL DISCOVERY: History is best effort; a store outage must not
	// silence the live room
	if err := s.m.store.Append(ctx, s.roomID, msg); err != nil {
		s.logger.Warn("failed to persist message, broadcasting anyway", zap.Error(err))
	}

	s.m.hub.Publish(s.roomID, types.NewMessageEvent(s.roomID, s.identity, msg))
	return nil
}

func (s *Session) handleLeave() error {
	if !s.left.CompareAndSwap(false, true) {
		return ErrLeftRoom
	}
	s.m.hub.Publish(s.roomID, types.NewSignalEvent(types.EventLeave, s.roomID, s.identity))
	s.m.registry.Leave(s.roomID, s.conn)
	s.logger.Info("session left room")
	return nil
}

// Close deregisters the handle. It is idempotent and does not close the
// transport, which belongs to the caller.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.lifecycle.Lock()
		s.state.Store(int32(StateClosed))
		s.m.registry.Leave(s.roomID, s.conn)
		s.lifecycle.Unlock()
		s.m.release(s)
		s.logger.Info("session closed")
	})
	return nil
}
