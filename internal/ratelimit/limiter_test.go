package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock safe for concurrent reads
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestLimiter_DefaultsOnInvalidInput(t *testing.T) {
	l := NewLimiter(0, -time.Second)
	max, span := l.Limit()
	assert.Equal(t, DefaultMaxPerWindow, max)
	assert.Equal(t, DefaultWindow, span)
}

func TestLimiter_OnePerSecond(t *testing.T) {
	clock := newFakeClock()
	l := NewLimiter(1, time.Second, WithClock(clock.Now))

	assert.True(t, l.Allow("u1"), "first message should be allowed")
	clock.Advance(500 * time.Millisecond)
	assert.False(t, l.Allow("u1"), "second message within 1s should be denied")

	clock.Advance(501 * time.Millisecond)
	assert.True(t, l.Allow("u1"), "message after the window should be allowed")
}

func TestLimiter_RejectionIsNotRecorded(t *testing.T) {
	clock := newFakeClock()
	l := NewLimiter(1, time.Second, WithClock(clock.Now))

	require.True(t, l.Allow("u1"))
	for i := 0; i < 5; i++ {
		clock.Advance(100 * time.Millisecond)
		require.False(t, l.Allow("u1"))
	}

	// Only the accepted stamp at t0 counts; it expires at t0+1s
	clock.Advance(501 * time.Millisecond)
	assert.True(t, l.Allow("u1"))
}

func TestLimiter_SlidingWindowAllowsBurstUpToMax(t *testing.T) {
	clock := newFakeClock()
	l := NewLimiter(3, time.Second, WithClock(clock.Now))

	assert.True(t, l.Allow("u1"))
	clock.Advance(300 * time.Millisecond)
	assert.True(t, l.Allow("u1"))
	clock.Advance(300 * time.Millisecond)
	assert.True(t, l.Allow("u1"))
	assert.False(t, l.Allow("u1"))

	// The first stamp slides out, freeing exactly one slot
	clock.Advance(401 * time.Millisecond)
	assert.True(t, l.Allow("u1"))
	assert.False(t, l.Allow("u1"))
}

func TestLimiter_UsersAreIndependent(t *testing.T) {
	clock := newFakeClock()
	l := NewLimiter(1, time.Second, WithClock(clock.Now))

	assert.True(t, l.Allow("alice"))
	assert.True(t, l.Allow("bob"))
	assert.False(t, l.Allow("alice"))
	assert.False(t, l.Allow("bob"))
	assert.Equal(t, 2, l.Tracked())
}

func TestLimiter_ConcurrentSameUser(t *testing.T) {
	clock := newFakeClock()
	l := NewLimiter(1, time.Second, WithClock(clock.Now))

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("tabs") {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), allowed.Load(), "exactly one concurrent call may pass")
}

func TestLimiter_CleanupEvictsIdleUsers(t *testing.T) {
	clock := newFakeClock()
	l := NewLimiter(1, time.Second, WithClock(clock.Now))

	require.True(t, l.Allow("idle"))
	clock.Advance(4 * time.Minute)
	require.True(t, l.Allow("active"))
	clock.Advance(2 * time.Minute)

	evicted := l.Cleanup(5 * time.Minute)
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, l.Tracked())

	// An evicted user starts with a fresh window
	assert.True(t, l.Allow("idle"))
}

func TestLimiter_CleanupNeverShorterThanWindow(t *testing.T) {
	clock := newFakeClock()
	l := NewLimiter(1, time.Second, WithClock(clock.Now))

	require.True(t, l.Allow("u1"))
	clock.Advance(500 * time.Millisecond)

	assert.Equal(t, 0, l.Cleanup(time.Millisecond))
	assert.False(t, l.Allow("u1"), "cleanup must not reset a live window")
}

func TestLimiter_RunStopsOnCancel(t *testing.T) {
	l := NewLimiter(1, time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		l.Run(ctx, 10*time.Millisecond, time.Second)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestLimiter_Stats(t *testing.T) {
	l := NewLimiter(3, 2*time.Second)
	l.Allow("u1")
	l.Allow("u2")

	stats := l.Stats()
	assert.Equal(t, 2, stats.TrackedUsers)
	assert.Equal(t, 3, stats.MaxPerWindow)
	assert.Equal(t, "2s", stats.Window)
}
