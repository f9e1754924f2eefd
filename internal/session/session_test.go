package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"chatrelay/internal/hub"
	"chatrelay/internal/ratelimit"
	"chatrelay/internal/registry"
	"chatrelay/internal/store"
	"chatrelay/internal/testutil"
	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	manager  *Manager
	registry *registry.Registry
	hub      *hub.Hub
	log      interfaces.MessageLog
	store    *store.MessageStore
	clock    *clock
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithLog(t, store.NewMemoryLog(0))
}

func newFixtureWithLog(t *testing.T, log interfaces.MessageLog) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	c := &clock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}

	reg := registry.NewRegistry()
	h := hub.NewHub(reg, logger)
	require.NoError(t, h.Start())
	limiter := ratelimit.NewLimiter(1, time.Second, ratelimit.WithClock(c.Now))
	st := store.NewMessageStore(log, time.Second, logger)

	m := NewManager(reg, h, limiter, st, DefaultConfig(), logger)
	m.now = c.Now
	return &fixture{manager: m, registry: reg, hub: h, log: log, store: st, clock: c}
}

func (f *fixture) open(t *testing.T, userID, name, room string) (*Session, *testutil.Conn) {
	t.Helper()
	conn := testutil.NewConn(userID, name, room)
	s, err := f.manager.Open(context.Background(), conn)
	require.NoError(t, err)
	return s, conn
}

func frame(raw string) []byte { return []byte(raw) }

// brokenLog fails every call
type brokenLog struct{}

func (brokenLog) Append(context.Context, string, types.StoredMessage) error {
	return errors.New("redis down")
}
func (brokenLog) Range(context.Context, string, int) ([]types.StoredMessage, error) {
	return nil, errors.New("redis down")
}
func (brokenLog) Ping(context.Context) error { return errors.New("redis down") }
func (brokenLog) Close() error               { return nil }

func TestSession_OpenSendsHistoryToSelfOnly(t *testing.T) {
	f := newFixture(t)
	_, a := f.open(t, "u1", "Ann", "42")

	frames := a.Frames()
	require.Len(t, frames, 1)
	assert.Equal(t, "chat.history", frames[0]["type"])
	assert.Equal(t, []any{}, frames[0]["messages"])

	_, b := f.open(t, "u2", "Bob", "42")
	assert.Equal(t, []string{"chat.history"}, b.Types())
	assert.Len(t, a.Received(), 1, "another member's history is not broadcast")
	assert.Equal(t, 2, f.registry.RoomSize("42"))
	assert.Equal(t, 2, f.manager.Active())
}

func TestSession_HistoryReplaysLastMessagesOldestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 60; i++ {
		require.NoError(t, f.store.Append(ctx, "42", types.StoredMessage{User: "Ann", Content: string(rune('a' + i%26)), Timestamp: time.Now()}))
	}

	_, a := f.open(t, "u1", "Ann", "42")
	msgs := a.Frames()[0]["messages"].([]any)
	assert.Len(t, msgs, 50)
}

func TestSession_MessageBroadcastAndPersist(t *testing.T) {
	f := newFixture(t)
	_, a := f.open(t, "u1", "Ann", "42")
	sb, b := f.open(t, "u2", "Bob", "42")

	require.NoError(t, sb.Handle(context.Background(), frame(`{"type":"message","content":"hi"}`)))

	for _, c := range []*testutil.Conn{a, b} {
		frames := c.Frames()
		last := frames[len(frames)-1]
		assert.Equal(t, "chat.message", last["type"])
		msg := last["message"].(map[string]any)
		assert.Equal(t, "Bob", msg["user"])
		assert.Equal(t, "hi", msg["message"])
		assert.Equal(t, "2024-06-01T12:00:00Z", msg["timestamp"])
	}

	recent, err := f.store.Recent(context.Background(), "42", 50)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "hi", recent[0].Content)
	assert.Equal(t, "Bob", recent[0].User)
}

func TestSession_RateLimitedNoticeIsSelfOnly(t *testing.T) {
	f := newFixture(t)
	sa, a := f.open(t, "u1", "Ann", "42")
	_, b := f.open(t, "u2", "Bob", "42")
	ctx := context.Background()

	require.NoError(t, sa.Handle(ctx, frame(`{"type":"message","content":"x"}`)))
	f.clock.Advance(500 * time.Millisecond)
	err := sa.Handle(ctx, frame(`{"type":"message","content":"y"}`))
	assert.ErrorIs(t, err, interfaces.ErrRateLimited)

	assert.Equal(t, []string{"chat.history", "chat.message", "chat.rate_limited"}, a.Types())
	assert.Equal(t, []string{"chat.history", "chat.message"}, b.Types())
	assert.Equal(t, types.RateLimitNotice, a.Frames()[2]["message"])

	recent, _ := f.store.Recent(ctx, "42", 50)
	require.Len(t, recent, 1, "throttled message is not stored")
	assert.Equal(t, "x", recent[0].Content)

	f.clock.Advance(600 * time.Millisecond)
	assert.NoError(t, sa.Handle(ctx, frame(`{"type":"message","content":"z"}`)))
}

func TestSession_RateLimitIsPerUserAcrossRooms(t *testing.T) {
	f := newFixture(t)
	s1, _ := f.open(t, "u1", "Ann", "room-a")
	s2, c2 := f.open(t, "u1", "Ann", "room-b")
	ctx := context.Background()

	require.NoError(t, s1.Handle(ctx, frame(`{"type":"message","content":"one"}`)))
	assert.ErrorIs(t, s2.Handle(ctx, frame(`{"type":"message","content":"two"}`)), interfaces.ErrRateLimited)
	assert.Equal(t, []string{"chat.history", "chat.rate_limited"}, c2.Types())
}

func TestSession_EmptyContentDroppedSilently(t *testing.T) {
	f := newFixture(t)
	sa, a := f.open(t, "u1", "Ann", "42")
	ctx := context.Background()

	require.NoError(t, sa.Handle(ctx, frame(`{"type":"message","content":""}`)))
	require.NoError(t, sa.Handle(ctx, frame(`{"type":"message"}`)))
	assert.Equal(t, []string{"chat.history"}, a.Types())

	// Empty content does not consume the rate budget
	require.NoError(t, sa.Handle(ctx, frame(`{"type":"message","content":"real"}`)))
	assert.Equal(t, "chat.message", a.Types()[1])
}

func TestSession_JoinAnnouncesThenSendsHistory(t *testing.T) {
	f := newFixture(t)
	_, a := f.open(t, "u1", "Ann", "42")
	sb, b := f.open(t, "u2", "Bob", "42")

	require.NoError(t, sb.Handle(context.Background(), frame(`{"type":"join"}`)))

	aFrames := a.Frames()
	join := aFrames[len(aFrames)-1]
	assert.Equal(t, "chat.join", join["type"])
	payload := join["message"].(map[string]any)
	assert.Equal(t, "Bob", payload["user"])
	assert.Equal(t, "u2", payload["user_id"])
	assert.Equal(t, "Bob joined the chat", payload["message"])
	assert.Equal(t, "2024-06-01T12:00:00Z", payload["timestamp"])

	assert.Equal(t, []string{"chat.history", "chat.join", "chat.history"}, b.Types())
	assert.Equal(t, []string{"chat.history", "chat.join"}, a.Types())
}

func TestSession_TypingSignals(t *testing.T) {
	f := newFixture(t)
	sa, _ := f.open(t, "u1", "Ann", "42")
	_, b := f.open(t, "u2", "Bob", "42")
	ctx := context.Background()

	require.NoError(t, sa.Handle(ctx, frame(`{"type":"typing"}`)))
	require.NoError(t, sa.Handle(ctx, frame(`{"type":"stop_typing"}`)))
	require.NoError(t, sa.Handle(ctx, frame(`{"type":"typing"}`)), "signals are not rate limited")

	frames := b.Frames()
	require.Len(t, frames, 4)
	assert.Equal(t, map[string]any{"type": "chat.typing", "user": "Ann", "user_id": "u1"}, frames[1])
	assert.Equal(t, "chat.stop_typing", frames[2]["type"])

	recent, _ := f.store.Recent(ctx, "42", 50)
	assert.Empty(t, recent, "signals are not persisted")
}

func TestSession_LeaveStopsDispatch(t *testing.T) {
	f := newFixture(t)
	sa, a := f.open(t, "u1", "Ann", "42")
	_, b := f.open(t, "u2", "Bob", "42")
	ctx := context.Background()

	require.NoError(t, sa.Handle(ctx, frame(`{"type":"leave"}`)))
	assert.Equal(t, "chat.leave", b.Types()[1])
	assert.Equal(t, "chat.leave", a.Types()[1], "leaver sees its own leave")
	assert.Equal(t, 1, f.registry.RoomSize("42"))

	assert.ErrorIs(t, sa.Handle(ctx, frame(`{"type":"message","content":"ghost"}`)), ErrLeftRoom)
	assert.Len(t, b.Received(), 2)
	assert.Equal(t, StateActive, sa.State(), "transport stays open after leave")
	assert.False(t, a.Closed())
}

func TestSession_HistoryRequestBroadcastsToRoom(t *testing.T) {
	f := newFixture(t)
	sa, a := f.open(t, "u1", "Ann", "42")
	_, b := f.open(t, "u2", "Bob", "42")
	ctx := context.Background()

	require.NoError(t, sa.Handle(ctx, frame(`{"type":"message","content":"first"}`)))
	require.NoError(t, sa.Handle(ctx, frame(`{"type":"history"}`)))

	for _, c := range []*testutil.Conn{a, b} {
		frames := c.Frames()
		last := frames[len(frames)-1]
		assert.Equal(t, "chat.history", last["type"])
		assert.Len(t, last["messages"], 1)
	}
}

func TestSession_UnknownAndMalformed(t *testing.T) {
	f := newFixture(t)
	sa, a := f.open(t, "u1", "Ann", "42")
	ctx := context.Background()

	assert.NoError(t, sa.Handle(ctx, frame(`{"type":"dance"}`)))
	assert.ErrorIs(t, sa.Handle(ctx, frame(`{not json`)), interfaces.ErrMalformedEvent)

	huge := `{"type":"message","content":"` + strings.Repeat("x", 5000) + `"}`
	err := sa.Handle(ctx, frame(huge))
	assert.ErrorIs(t, err, interfaces.ErrMalformedEvent)
	assert.ErrorIs(t, err, types.ErrContentTooLarge)

	assert.Equal(t, []string{"chat.history"}, a.Types(), "nothing visible to the client")
	assert.Equal(t, StateActive, sa.State())
}

func TestSession_StoreOutageDegrades(t *testing.T) {
	f := newFixtureWithLog(t, brokenLog{})
	sa, a := f.open(t, "u1", "Ann", "42")

	assert.Equal(t, []any{}, a.Frames()[0]["messages"], "empty history on store failure")

	require.NoError(t, sa.Handle(context.Background(), frame(`{"type":"message","content":"still live"}`)))
	assert.Equal(t, "chat.message", a.Types()[1])
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	f := newFixture(t)
	sa, _ := f.open(t, "u1", "Ann", "42")
	_, b := f.open(t, "u2", "Bob", "42")

	require.NoError(t, sa.Close())
	require.NoError(t, sa.Close())
	assert.Equal(t, StateClosed, sa.State())
	assert.Equal(t, 1, f.registry.RoomSize("42"))
	assert.Equal(t, 1, f.manager.Active())

	assert.ErrorIs(t, sa.Handle(context.Background(), frame(`{"type":"typing"}`)), ErrSessionClosed)
	assert.Len(t, b.Received(), 1)

	assert.ErrorIs(t, sa.Start(context.Background()), ErrSessionClosed)
	assert.Equal(t, 1, f.registry.RoomSize("42"), "closed session is never re-added")
}

func TestSession_StartTwice(t *testing.T) {
	f := newFixture(t)
	sa, _ := f.open(t, "u1", "Ann", "42")
	assert.ErrorIs(t, sa.Start(context.Background()), ErrSessionStarted)
}

func TestManager_CloseAll(t *testing.T) {
	f := newFixture(t)
	f.open(t, "u1", "Ann", "a")
	f.open(t, "u2", "Bob", "b")

	assert.Equal(t, 2, f.manager.CloseAll())
	assert.Equal(t, 0, f.manager.Active())
	assert.Equal(t, 0, f.registry.GetStats()["total_connections"])
}

func TestSession_BrokenPeerDoesNotAffectSender(t *testing.T) {
	f := newFixture(t)
	sa, a := f.open(t, "u1", "Ann", "42")
	_, b := f.open(t, "u2", "Bob", "42")
	_, c := f.open(t, "u3", "Cat", "42")
	b.Break()

	require.NoError(t, sa.Handle(context.Background(), frame(`{"type":"message","content":"hello"}`)))
	assert.Equal(t, "chat.message", a.Types()[1])
	assert.Equal(t, "chat.message", c.Types()[1])
	assert.True(t, b.Closed())
	assert.Equal(t, 2, f.registry.RoomSize("42"))
}
