package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Default limits: one accepted message per user per second
const (
	DefaultMaxPerWindow = 1
	DefaultWindow       = time.Second
	DefaultIdleTTL      = 5 * time.Minute
)

// Limiter implements per-user sliding-window rate limiting
// ARCHITECTURAL DISCOVERY: Budget is global per user, shared by every session
// and room the user is in; state is process-local and never persisted
type Limiter struct {
	mu           sync.RWMutex
	windows      map[string]*window
	maxPerWindow int
	span         time.Duration
	now          func() time.Time
	logger       *zap.Logger
}

// window holds accepted timestamps within the trailing span, oldest first
type window struct {
	mu       sync.Mutex
	stamps   []time.Time
	lastSeen time.Time
	evicted  bool
}

// Option customizes a Limiter
type Option func(*Limiter)

// WithClock replaces time.Now, used by tests
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithLogger attaches a logger for eviction reporting
func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLimiter creates a limiter accepting maxPerWindow events per span.
// Non-positive inputs fall back to the defaults.
func NewLimiter(maxPerWindow int, span time.Duration, opts ...Option) *Limiter {
	if maxPerWindow <= 0 {
		maxPerWindow = DefaultMaxPerWindow
	}
	if span <= 0 {
		span = DefaultWindow
	}
	l := &Limiter{
		windows:      make(map[string]*window),
		maxPerWindow: maxPerWindow,
		span:         span,
		now:          time.Now,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow reports whether userID may send another message now and records
// the acceptance. Rejections are not recorded.
func (l *Limiter) Allow(userID string) bool {
	for {
		w := l.windowFor(userID)

		// TECHNICAL DISCOVERY: Prune, check and append form one critical section
		// per user so concurrent tabs of the same user cannot both pass
		w.mu.Lock()
		if w.evicted {
			// Cleanup dropped this window between lookup and lock
			w.mu.Unlock()
			continue
		}
		allowed := l.admit(w)
		w.mu.Unlock()
		return allowed
	}
}

// admit applies the sliding window to w; caller holds w.mu
func (l *Limiter) admit(w *window) bool {
	now := l.now()
	cut := now.Add(-l.span)
	kept := w.stamps[:0]
	for _, ts := range w.stamps {
		if ts.After(cut) {
			kept = append(kept, ts)
		}
	}
	w.stamps = kept

	if len(w.stamps) >= l.maxPerWindow {
		return false
	}
	w.stamps = append(w.stamps, now)
	w.lastSeen = now
	return true
}

// windowFor returns the user's window, creating it on first use
func (l *Limiter) windowFor(userID string) *window {
	l.mu.RLock()
	w, ok := l.windows[userID]
	l.mu.RUnlock()
	if ok {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok = l.windows[userID]; ok {
		return w
	}
	w = &window{stamps: make([]time.Time, 0, l.maxPerWindow), lastSeen: l.now()}
	l.windows[userID] = w
	return w
}

// Cleanup removes users with no accepted message within idle and returns
// how many were evicted
func (l *Limiter) Cleanup(idle time.Duration) int {
	if idle < l.span {
		idle = l.span
	}
	cut := l.now().Add(-idle)

	l.mu.Lock()
	defer l.mu.Unlock()

	evicted := 0
	for userID, w := range l.windows {
		w.mu.Lock()
		stale := w.lastSeen.Before(cut)
		if stale {
			w.evicted = true
		}
		w.mu.Unlock()
		if stale {
			delete(l.windows, userID)
			evicted++
		}
	}
	return evicted
}

// Run calls Cleanup every interval until ctx is cancelled
func (l *Limiter) Run(ctx context.Context, interval, idle time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := l.Cleanup(idle); n > 0 {
				l.logger.Debug("evicted idle rate windows", zap.Int("evicted", n), zap.Int("tracked", l.Tracked()))
			}
		case <-ctx.Done():
			return
		}
	}
}

// Tracked returns the number of users with a live window
func (l *Limiter) Tracked() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.windows)
}

// Limit returns the configured budget and window span
func (l *Limiter) Limit() (int, time.Duration) {
	return l.maxPerWindow, l.span
}

// Stats is a snapshot of limiter state for the HTTP API
type Stats struct {
	TrackedUsers int    `json:"tracked_users"`
	MaxPerWindow int    `json:"max_per_window"`
	Window       string `json:"window"`
}

// Stats returns the current limiter snapshot
func (l *Limiter) Stats() Stats {
	return Stats{
		TrackedUsers: l.Tracked(),
		MaxPerWindow: l.maxPerWindow,
		Window:       l.span.String(),
	}
}
