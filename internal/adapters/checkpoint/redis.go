// Package checkpoint stores workflow checkpoints in Redis.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lcalzada-xor/vulnintel/internal/core/domain"
	"github.com/lcalzada-xor/vulnintel/internal/core/ports"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "vulnintel:checkpoints:"

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379/0")
	URL string
	// TTL expires a thread's checkpoints after its last write. Zero keeps them.
	TTL            time.Duration
	ConnectTimeout time.Duration
}

// RedisStore keeps each thread's checkpoints as a Redis list, oldest first.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

var _ ports.CheckpointStore = (*RedisStore)(nil)

// NewRedisStore connects and verifies the connection.
func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	redisOpts.DialTimeout = opts.ConnectTimeout
	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisStore{client: client, ttl: opts.TTL}, nil
}

func key(threadID string) string { return keyPrefix + threadID }

func (s *RedisStore) SaveCheckpoint(ctx context.Context, cp domain.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	k := key(cp.ThreadID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, k, data)
	if s.ttl > 0 {
		pipe.Expire(ctx, k, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", cp.ThreadID, err)
	}
	return nil
}

func (s *RedisStore) LatestCheckpoint(ctx context.Context, threadID string) (*domain.Checkpoint, error) {
	data, err := s.client.LIndex(ctx, key(threadID), -1).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ports.ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", threadID, err)
	}

	var cp domain.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", threadID, err)
	}
	return &cp, nil
}

// History returns every checkpoint of a thread, oldest first.
func (s *RedisStore) History(ctx context.Context, threadID string) ([]domain.Checkpoint, error) {
	items, err := s.client.LRange(ctx, key(threadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load history %s: %w", threadID, err)
	}
	out := make([]domain.Checkpoint, 0, len(items))
	for _, item := range items {
		var cp domain.Checkpoint
		if err := json.Unmarshal([]byte(item), &cp); err != nil {
			return nil, fmt.Errorf("decode checkpoint %s: %w", threadID, err)
		}
		out = append(out, cp)
	}
	return out, nil
}

func (s *RedisStore) DeleteCheckpoints(ctx context.Context, threadID string) error {
	return s.client.Del(ctx, key(threadID)).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
