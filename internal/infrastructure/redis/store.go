package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/avatarctic/idempotency-engine/internal/core/domain/idempotency"
	"github.com/go-redis/redis/v8"
)

// ConditionalStore implements ports.ConditionalStore on a Redis-compatible
// backend. Conditional creates map to SET NX EX, the one atomic primitive the
// persistence layer relies on. The client is long-lived and shared across
// keys; redis.Cmdable covers both standalone and cluster clients.
type ConditionalStore struct {
	r redis.Cmdable
	// optional key prefix to namespace entries
	prefix string
}

// NewConditionalStore creates a Redis-backed conditional store.
func NewConditionalStore(r redis.Cmdable, prefix string) *ConditionalStore {
	return &ConditionalStore{r: r, prefix: prefix}
}

func (s *ConditionalStore) namespaced(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

// ConditionalCreate implements ConditionalStore.ConditionalCreate. A false
// result means the key already exists and is never reported as an error.
func (s *ConditionalStore) ConditionalCreate(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	created, err := s.r.SetNX(ctx, s.namespaced(key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to conditionally create key in Redis: %w", err)
	}
	return created, nil
}

// Set implements ConditionalStore.Set.
func (s *ConditionalStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.r.Set(ctx, s.namespaced(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key in Redis: %w", err)
	}
	return nil
}

// Get implements ConditionalStore.Get.
func (s *ConditionalStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.r.Get(ctx, s.namespaced(key)).Result()
	if err == redis.Nil {
		return "", idempotency.ErrItemNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get key from Redis: %w", err)
	}
	return val, nil
}

// Delete implements ConditionalStore.Delete.
func (s *ConditionalStore) Delete(ctx context.Context, key string) error {
	if err := s.r.Del(ctx, s.namespaced(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete key from Redis: %w", err)
	}
	return nil
}
