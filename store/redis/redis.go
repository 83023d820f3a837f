package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smallnest/docqa/store"
)

// RedisCheckpointStore implements store.CheckpointStore using Redis. Each thread
// keeps a sorted set of checkpoint ids scored by turn.
type RedisCheckpointStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisOptions configuration for Redis connection
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string        // Key prefix, default "docqa:"
	TTL      time.Duration // Expiration for checkpoints, default 0 (no expiration)
}

// NewRedisCheckpointStore creates a new Redis checkpoint store
func NewRedisCheckpointStore(opts RedisOptions) *RedisCheckpointStore {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "docqa:"
	}

	return &RedisCheckpointStore{
		client: client,
		prefix: prefix,
		ttl:    opts.TTL,
	}
}

// Close closes the underlying client
func (s *RedisCheckpointStore) Close() error {
	return s.client.Close()
}

func (s *RedisCheckpointStore) checkpointKey(id string) string {
	return fmt.Sprintf("%scheckpoint:%s", s.prefix, id)
}

func (s *RedisCheckpointStore) threadKey(id string) string {
	return fmt.Sprintf("%sthread:%s:checkpoints", s.prefix, id)
}

// Save stores a checkpoint
func (s *RedisCheckpointStore) Save(ctx context.Context, checkpoint *store.Checkpoint) error {
	data, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	threadKey := s.threadKey(checkpoint.ThreadID)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.checkpointKey(checkpoint.ID), data, s.ttl)
	pipe.ZAdd(ctx, threadKey, redis.Z{Score: float64(checkpoint.Turn), Member: checkpoint.ID})
	if s.ttl > 0 {
		pipe.Expire(ctx, threadKey, s.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save checkpoint to redis: %w", err)
	}
	return nil
}

// Load retrieves a checkpoint by ID
func (s *RedisCheckpointStore) Load(ctx context.Context, checkpointID string) (*store.Checkpoint, error) {
	data, err := s.client.Get(ctx, s.checkpointKey(checkpointID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", store.ErrNotFound, checkpointID)
		}
		return nil, fmt.Errorf("failed to load checkpoint from redis: %w", err)
	}

	var checkpoint store.Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &checkpoint, nil
}

// Latest returns the highest-turn checkpoint of a thread
func (s *RedisCheckpointStore) Latest(ctx context.Context, threadID string) (*store.Checkpoint, error) {
	list, err := s.List(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: thread %s", store.ErrNotFound, threadID)
	}
	return list[len(list)-1], nil
}

// List returns all checkpoints for a thread ordered by turn. Ids whose
// checkpoint has expired are skipped.
func (s *RedisCheckpointStore) List(ctx context.Context, threadID string) ([]*store.Checkpoint, error) {
	ids, err := s.client.ZRange(ctx, s.threadKey(threadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints for thread %s: %w", threadID, err)
	}
	if len(ids) == 0 {
		return []*store.Checkpoint{}, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.checkpointKey(id))
	}

	results, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch checkpoints: %w", err)
	}

	checkpoints := make([]*store.Checkpoint, 0, len(results))
	for _, r := range results {
		raw, ok := r.(string)
		if !ok {
			continue
		}
		var cp store.Checkpoint
		if err := json.Unmarshal([]byte(raw), &cp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
		}
		checkpoints = append(checkpoints, &cp)
	}
	store.SortByTurn(checkpoints)
	return checkpoints, nil
}

// Delete removes a checkpoint and its thread index entry
func (s *RedisCheckpointStore) Delete(ctx context.Context, checkpointID string) error {
	checkpoint, err := s.Load(ctx, checkpointID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.checkpointKey(checkpointID))
	pipe.ZRem(ctx, s.threadKey(checkpoint.ThreadID), checkpointID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// Clear removes all checkpoints for a thread
func (s *RedisCheckpointStore) Clear(ctx context.Context, threadID string) error {
	threadKey := s.threadKey(threadID)
	ids, err := s.client.ZRange(ctx, threadKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to get checkpoints for clearing: %w", err)
	}

	pipe := s.client.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, s.checkpointKey(id))
	}
	pipe.Del(ctx, threadKey)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to clear checkpoints: %w", err)
	}
	return nil
}
