package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// DefaultRedisTTL matches the lifetime of a cached room log
const DefaultRedisTTL = 7 * 24 * time.Hour

// RedisOptions configures a RedisLog
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	MaxLen   int
	TTL      time.Duration
}

// RedisLog stores each room as a Redis list of JSON-encoded messages under
// "<prefix>:<room>:messages"
type RedisLog struct {
	client *redis.Client
	prefix string
	maxLen int
	ttl    time.Duration
	logger *zap.Logger
}

var _ interfaces.MessageLog = (*RedisLog)(nil)

// NewRedisLog connects to Redis and verifies the connection with PING
func NewRedisLog(ctx context.Context, opts RedisOptions, logger *zap.Logger) (*RedisLog, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return NewRedisLogFromClient(client, opts, logger), nil
}

// NewRedisLogFromClient wraps an existing client
func NewRedisLogFromClient(client *redis.Client, opts RedisOptions, logger *zap.Logger) *RedisLog {
	if opts.Prefix == "" {
		opts.Prefix = "chat"
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultRedisTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLog{
		client: client,
		prefix: opts.Prefix,
		maxLen: opts.MaxLen,
		ttl:    opts.TTL,
		logger: logger.With(zap.String("component", "redis_log")),
	}
}

// Key returns the list key holding roomID's log
func (r *RedisLog) Key(roomID string) string {
	return fmt.Sprintf("%s:%s:messages", r.prefix, roomID)
}

// Append pushes msg and refreshes the cap and expiry in one MULTI/EXEC
func (r *RedisLog) Append(ctx context.Context, roomID string, msg types.StoredMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	key := r.Key(roomID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, payload)
		if r.maxLen > 0 {
			pipe.LTrim(ctx, key, int64(-r.maxLen), -1)
		}
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	return err
}

// Range reads the newest limit entries, oldest first. Entries that fail to
// decode are skipped.
func (r *RedisLog) Range(ctx context.Context, roomID string, limit int) ([]types.StoredMessage, error) {
	if limit <= 0 {
		return []types.StoredMessage{}, nil
	}
	raw, err := r.client.LRange(ctx, r.Key(roomID), int64(-limit), -1).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}

	out := make([]types.StoredMessage, 0, len(raw))
	for _, item := range raw {
		var msg types.StoredMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			r.logger.Warn("skipping undecodable log entry", zap.String("room", roomID), zap.Error(err))
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func (r *RedisLog) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisLog) Close() error {
	return r.client.Close()
}
