package store

import (
	"context"

	"chatrelay/internal/database"
	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// SQLiteLog persists room logs in the relay database
type SQLiteLog struct {
	db     *database.Manager
	maxLen int
}

var _ interfaces.MessageLog = (*SQLiteLog)(nil)

// NewSQLiteLog uses db for storage. The manager is shared with the
// conversation directory, so Close leaves it open.
func NewSQLiteLog(db *database.Manager, maxLen int) *SQLiteLog {
	return &SQLiteLog{db: db, maxLen: maxLen}
}

func (s *SQLiteLog) Append(ctx context.Context, roomID string, msg types.StoredMessage) error {
	return s.db.AppendMessage(ctx, roomID, msg, s.maxLen)
}

func (s *SQLiteLog) Range(ctx context.Context, roomID string, limit int) ([]types.StoredMessage, error) {
	return s.db.RecentMessages(ctx, roomID, limit)
}

func (s *SQLiteLog) Ping(ctx context.Context) error {
	return s.db.HealthCheck(ctx)
}

func (s *SQLiteLog) Close() error { return nil }
