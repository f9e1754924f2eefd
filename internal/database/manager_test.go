package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// Test database setup helpers
func setupTestDB(t *testing.T) *Manager {
	t.Helper()
	config := DefaultConfig()
	config.Path = filepath.Join(t.TempDir(), "test.db")
	config.RetryDelay = 10 * time.Millisecond

	manager, err := NewManager(config, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	return manager
}

func msgAt(user, content string, at time.Time) types.StoredMessage {
	return types.StoredMessage{User: user, Content: content, Timestamp: at}
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	c := DefaultConfig()
	c.Path = ""
	assert.Error(t, c.Validate())

	c = DefaultConfig()
	c.MaxConnections = 0
	assert.Error(t, c.Validate())

	c = DefaultConfig()
	c.WriteTimeout = 0
	assert.Error(t, c.Validate())
}

// FUNCTIONAL VALIDATION TEST: Migrations create the schema and are idempotent
func TestManager_MigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	config := DefaultConfig()
	config.Path = path

	first, err := NewManager(config, nil)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewManager(config, nil)
	require.NoError(t, err)
	defer func() { _ = second.Close() }()

	var versions int
	require.NoError(t, second.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&versions))
	assert.Equal(t, 2, versions)
}

func TestManager_HealthCheck(t *testing.T) {
	m := setupTestDB(t)
	assert.NoError(t, m.HealthCheck(context.Background()))

	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.HealthCheck(context.Background()), ErrManagerClosed)
}

func TestManager_CloseIsIdempotent(t *testing.T) {
	m := setupTestDB(t)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	err := m.AppendMessage(context.Background(), "r1", msgAt("Ann", "x", time.Now()), 0)
	assert.ErrorIs(t, err, ErrManagerClosed)
}

// FUNCTIONAL VALIDATION TEST: Conversation directory round-trip
func TestManager_Conversations(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	conv := &types.Conversation{ID: "c1", Title: "Standup", OwnerID: "owner", Participants: []string{"p1", "p2"}}
	require.NoError(t, m.CreateConversation(ctx, conv))

	got, err := m.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Standup", got.Title)
	assert.Equal(t, "owner", got.OwnerID)
	assert.ElementsMatch(t, []string{"p1", "p2"}, got.Participants)
	assert.False(t, got.CreatedAt.IsZero())

	_, err = m.GetConversation(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrConversationNotFound)

	require.Error(t, m.CreateConversation(ctx, &types.Conversation{ID: "c1", OwnerID: "x"}), "duplicate id")
}

func TestManager_Membership(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, m.CreateConversation(ctx, &types.Conversation{ID: "c1", OwnerID: "owner", Participants: []string{"p1"}}))

	conv, err := m.GetConversation(ctx, "c1")
	require.NoError(t, err)
	for user, want := range map[string]bool{"owner": true, "p1": true, "stranger": false} {
		assert.Equal(t, want, conv.HasMember(user), user)
	}

	require.NoError(t, m.AddParticipant(ctx, "c1", "stranger"))
	require.NoError(t, m.AddParticipant(ctx, "c1", "stranger"), "adding twice is a no-op")
	conv, err = m.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "stranger"}, conv.Participants)

	assert.ErrorIs(t, m.AddParticipant(ctx, "nope", "u"), interfaces.ErrConversationNotFound)
}

// FUNCTIONAL VALIDATION TEST: Message log keeps insertion order and the newest-bounded window
func TestManager_MessageLog(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 9, 0, 0, 123456789, time.UTC)

	empty, err := m.RecentMessages(ctx, "r1", 50)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	for i := 0; i < 5; i++ {
		require.NoError(t, m.AppendMessage(ctx, "r1", msgAt("Ann", fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Second)), 0))
	}
	require.NoError(t, m.AppendMessage(ctx, "r2", msgAt("Bob", "other room", base), 0))

	recent, err := m.RecentMessages(ctx, "r1", 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "m2", recent[0].Content)
	assert.Equal(t, "m4", recent[2].Content)
	assert.Equal(t, "Ann", recent[2].User)
	assert.True(t, base.Add(4*time.Second).Equal(recent[2].Timestamp))

	all, err := m.RecentMessages(ctx, "r1", 50)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	none, err := m.RecentMessages(ctx, "r1", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestManager_MessageLogTrim(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 10; i++ {
		require.NoError(t, m.AppendMessage(ctx, "r1", msgAt("Ann", fmt.Sprintf("m%d", i), now), 4))
	}

	var count int
	require.NoError(t, m.db.QueryRow("SELECT COUNT(*) FROM messages WHERE conversation_id = 'r1'").Scan(&count))
	assert.Equal(t, 4, count)

	recent, err := m.RecentMessages(ctx, "r1", 50)
	require.NoError(t, err)
	require.Len(t, recent, 4)
	assert.Equal(t, "m6", recent[0].Content)
	assert.Equal(t, "m9", recent[3].Content)
}

// TECHNICAL VALIDATION TEST: Concurrent writes are serialized by the writer goroutine
func TestManager_ConcurrentWrites(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, m.AppendMessage(ctx, "busy", msgAt("u", fmt.Sprintf("m%d", i), time.Now()), 0))
		}(i)
	}
	wg.Wait()

	recent, err := m.RecentMessages(ctx, "busy", 100)
	require.NoError(t, err)
	assert.Len(t, recent, 50)
}

func TestManager_WriteRetriesOnce(t *testing.T) {
	m := setupTestDB(t)

	attempts := 0
	err := m.executeWrite(context.Background(), func(context.Context, *sql.DB) error {
		attempts++
		if attempts == 1 {
			return errors.New("transient")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, attempts)

	attempts = 0
	err = m.executeWrite(context.Background(), func(context.Context, *sql.DB) error {
		attempts++
		return errors.New("persistent")
	})
	assert.Error(t, err)
	assert.Equal(t, 2, attempts)
}

func TestManager_WriteHonorsCancelledContext(t *testing.T) {
	m := setupTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.AppendMessage(ctx, "r1", msgAt("Ann", "late", time.Now()), 0)
	assert.ErrorIs(t, err, context.Canceled)
}
