package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore persists windows in Redis as JSON values with a TTL equal to
// the window duration, so fully idle windows expire on their own.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a redis-backed window store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Fetch returns the window for a key and whether one exists.
func (s *RedisStore) Fetch(ctx context.Context, key string) (Window, bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return Window{}, false, nil
	}
	if err != nil {
		return Window{}, false, fmt.Errorf("failed to fetch window %s: %w", key, err)
	}

	var w Window
	if err := json.Unmarshal(data, &w); err != nil {
		return Window{}, false, fmt.Errorf("failed to decode window %s: %w", key, err)
	}
	return w, true, nil
}

// Save writes the window with the given TTL.
func (s *RedisStore) Save(ctx context.Context, key string, w Window, ttl time.Duration) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("failed to encode window %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save window %s: %w", key, err)
	}
	return nil
}

// Delete removes the window for a key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete window %s: %w", key, err)
	}
	return nil
}

// Sweep removes windows that leaked without a TTL. Redis expiry handles
// the normal case; this catches keys written by older deployments or
// manual intervention.
func (s *RedisStore) Sweep(ctx context.Context) (int, error) {
	var removed int
	iter := s.client.Scan(ctx, 0, "ratelimit:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		ttl, err := s.client.TTL(ctx, key).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to read TTL for %s: %w", key, err)
		}
		if ttl == -1 {
			if err := s.client.Del(ctx, key).Err(); err != nil {
				return removed, fmt.Errorf("failed to delete stale window %s: %w", key, err)
			}
			removed++
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("window sweep failed: %w", err)
	}
	return removed, nil
}
