package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// DefaultTimeout bounds each call into the backing log
const DefaultTimeout = 2 * time.Second

// MessageStore is the per-room chat history facade used by sessions
// ARCHITECTURAL DISCOVERY: Backend errors never escape raw; every failure is
// wrapped as ErrStoreUnavailable so callers degrade instead of aborting
type MessageStore struct {
	log     interfaces.MessageLog
	timeout time.Duration
	logger  *zap.Logger
}

// NewMessageStore wraps log with a per-call timeout
func NewMessageStore(log interfaces.MessageLog, timeout time.Duration, logger *zap.Logger) *MessageStore {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageStore{log: log, timeout: timeout, logger: logger.With(zap.String("component", "store"))}
}

// Append adds msg to the room's log
func (s *MessageStore) Append(ctx context.Context, roomID string, msg types.StoredMessage) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.log.Append(ctx, roomID, msg); err != nil {
		return fmt.Errorf("%w: append to %s: %w", interfaces.ErrStoreUnavailable, roomID, err)
	}
	return nil
}

// Recent returns at most limit of the newest messages in insertion order,
// oldest first. The result is never nil.
func (s *MessageStore) Recent(ctx context.Context, roomID string, limit int) ([]types.StoredMessage, error) {
	if limit <= 0 {
		return []types.StoredMessage{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	msgs, err := s.log.Range(ctx, roomID, limit)
	if err != nil {
		return []types.StoredMessage{}, fmt.Errorf("%w: range %s: %w", interfaces.ErrStoreUnavailable, roomID, err)
	}
	if msgs == nil {
		msgs = []types.StoredMessage{}
	}
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// RecentOrEmpty is Recent with failures logged and replaced by an empty list
func (s *MessageStore) RecentOrEmpty(ctx context.Context, roomID string, limit int) []types.StoredMessage {
	msgs, err := s.Recent(ctx, roomID, limit)
	if err != nil {
		s.logger.Warn("history unavailable, sending empty list", zap.String("room", roomID), zap.Error(err))
	}
	return msgs
}

// Ping checks the backend
func (s *MessageStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.log.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", interfaces.ErrStoreUnavailable, err)
	}
	return nil
}

// Close releases the backend
func (s *MessageStore) Close() error {
	return s.log.Close()
}
