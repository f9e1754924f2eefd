package directory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// Store is the persistence the directory reads and writes
type Store interface {
	CreateConversation(ctx context.Context, conv *types.Conversation) error
	GetConversation(ctx context.Context, conversationID string) (*types.Conversation, error)
	AddParticipant(ctx context.Context, conversationID, userID string) error
}

// DefaultCacheTTL bounds how stale a cached conversation may be
const DefaultCacheTTL = 30 * time.Second

type cacheEntry struct {
	conv     *types.Conversation
	loadedAt time.Time
}

// Directory gates room joins on conversation membership: the owner and the
// listed participants may join, everyone else is refused
type Directory struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry // conversationID -> Conversation
}

var _ interfaces.Directory = (*Directory)(nil)

// New creates a database-backed directory
func New(store Store, ttl time.Duration, logger *zap.Logger) *Directory {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{
		store:  store,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With(zap.String("component", "directory")),
		cache:  make(map[string]cacheEntry),
	}
}

// CreateConversation registers a conversation owned by ownerID. An empty id
// gets a generated one. Duplicate participants are collapsed.
func (d *Directory) CreateConversation(ctx context.Context, id, title, ownerID string, participants []string) (*types.Conversation, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if !types.IsValidRoomID(id) {
		return nil, ErrInvalidConversationID
	}
	if !types.IsValidUserID(ownerID) {
		return nil, ErrInvalidOwner
	}

	unique := removeDuplicates(participants)
	for _, p := range unique {
		if !types.IsValidUserID(p) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidParticipant, p)
		}
	}

	conv := &types.Conversation{
		ID:           id,
		Title:        title,
		OwnerID:      ownerID,
		Participants: unique,
		CreatedAt:    d.now().UTC(),
	}
	if err := d.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	d.mu.Lock()
	d.cache[id] = cacheEntry{conv: conv, loadedAt: d.now()}
	d.mu.Unlock()

	d.logger.Info("created conversation", zap.String("room", id), zap.Int("participants", len(unique)))
	return conv, nil
}

// AddParticipant grants userID access and drops the cached entry
func (d *Directory) AddParticipant(ctx context.Context, conversationID, userID string) error {
	if !types.IsValidUserID(userID) {
		return ErrInvalidParticipant
	}
	if err := d.store.AddParticipant(ctx, conversationID, userID); err != nil {
		return err
	}
	d.Invalidate(conversationID)
	return nil
}

// Conversation returns the conversation, from cache when fresh
func (d *Directory) Conversation(ctx context.Context, conversationID string) (*types.Conversation, error) {
	d.mu.RLock()
	entry, ok := d.cache[conversationID]
	d.mu.RUnlock()
	if ok && d.now().Sub(entry.loadedAt) < d.ttl {
		return entry.conv, nil
	}

	conv, err := d.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, interfaces.ErrConversationNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load conversation %s: %w", conversationID, err)
	}

	d.mu.Lock()
	d.cache[conversationID] = cacheEntry{conv: conv, loadedAt: d.now()}
	d.mu.Unlock()
	return conv, nil
}

// Authorize reports whether userID may join the conversation's room
func (d *Directory) Authorize(ctx context.Context, conversationID, userID string) error {
	conv, err := d.Conversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.HasMember(userID) {
		return interfaces.ErrUnauthorized
	}
	return nil
}

// Invalidate drops a cached conversation
func (d *Directory) Invalidate(conversationID string) {
	d.mu.Lock()
	delete(d.cache, conversationID)
	d.mu.Unlock()
}

// Open admits every authenticated user to every room
type Open struct{}

var _ interfaces.Directory = Open{}

func (Open) Authorize(context.Context, string, string) error { return nil }

// Helper function to remove duplicate participant IDs
func removeDuplicates(ids []string) []string {
	seen := make(map[string]bool)
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	return unique
}
