package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"chatrelay/internal/hub"
	"chatrelay/internal/ratelimit"
	"chatrelay/internal/registry"
	"chatrelay/internal/store"
	"chatrelay/pkg/interfaces"
)

// Config holds per-session limits
type Config struct {
	HistoryLimit     int
	MaxContentLength int
}

// DefaultConfig replays the last 50 messages on join
func DefaultConfig() Config {
	return Config{HistoryLimit: 50, MaxContentLength: 4096}
}

// Manager holds the collaborators shared by every session and tracks the
// sessions that are open
type Manager struct {
	registry *registry.Registry
	hub      *hub.Hub
	limiter  *ratelimit.Limiter
	store    *store.MessageStore
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.RWMutex
	sessions map[*Session]struct{}
}

// NewManager creates a session manager
func NewManager(reg *registry.Registry, h *hub.Hub, limiter *ratelimit.Limiter, st *store.MessageStore, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		registry: reg,
		hub:      h,
		limiter:  limiter,
		store:    st,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "session")),
		now:      time.Now,
		sessions: make(map[*Session]struct{}),
	}
}

// Open creates a session for conn in conn.RoomID() and starts it
func (m *Manager) Open(ctx context.Context, conn interfaces.Connection) (*Session, error) {
	identity := conn.Identity()
	s := &Session{
		m:        m,
		conn:     conn,
		identity: identity,
		roomID:   conn.RoomID(),
		logger: m.logger.With(
			zap.String("room", conn.RoomID()),
			zap.String("user_id", identity.UserID),
			zap.String("conn_id", conn.ID()),
		),
	}

	m.mu.Lock()
	m.sessions[s] = struct{}{}
	m.mu.Unlock()

	if err := s.Start(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (m *Manager) release(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s)
	m.mu.Unlock()
}

// Active returns the number of open sessions
func (m *Manager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseAll closes every open session
func (m *Manager) CloseAll() int {
	m.mu.RLock()
	open := make([]*Session, 0, len(m.sessions))
	for s := range m.sessions {
		open = append(open, s)
	}
	m.mu.RUnlock()

	for _, s := range open {
		_ = s.Close()
	}
	return len(open)
}
