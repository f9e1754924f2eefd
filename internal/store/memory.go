package store

import (
	"context"
	"sync"

	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// MemoryLog keeps room logs in process memory
type MemoryLog struct {
	mu     sync.RWMutex
	rooms  map[string][]types.StoredMessage
	maxLen int
}

var _ interfaces.MessageLog = (*MemoryLog)(nil)

// NewMemoryLog creates an in-memory log capped at maxLen entries per room
// (0 means unbounded)
func NewMemoryLog(maxLen int) *MemoryLog {
	return &MemoryLog{rooms: make(map[string][]types.StoredMessage), maxLen: maxLen}
}

func (m *MemoryLog) Append(ctx context.Context, roomID string, msg types.StoredMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	log := append(m.rooms[roomID], msg)
	if m.maxLen > 0 && len(log) > m.maxLen {
		// Copy so the dropped prefix can be collected
		log = append([]types.StoredMessage(nil), log[len(log)-m.maxLen:]...)
	}
	m.rooms[roomID] = log
	return nil
}

func (m *MemoryLog) Range(ctx context.Context, roomID string, limit int) ([]types.StoredMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []types.StoredMessage{}, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	log := m.rooms[roomID]
	if limit < len(log) {
		log = log[len(log)-limit:]
	}
	out := make([]types.StoredMessage, len(log))
	copy(out, log)
	return out, nil
}

func (m *MemoryLog) Ping(context.Context) error { return nil }

func (m *MemoryLog) Close() error { return nil }
