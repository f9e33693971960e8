package memory

import (
	"context"
	"sync"
	"time"

	"github.com/avatarctic/idempotency-engine/internal/core/domain/idempotency"
)

type entry struct {
	value     string
	expiresAt time.Time
}

// ConditionalStore is an in-process implementation of ports.ConditionalStore
// for local development and tests. Expired entries count as absent and are
// reclaimed lazily on access.
type ConditionalStore struct {
	mu      sync.Mutex
	items   map[string]entry
	nowFunc func() time.Time
}

// NewConditionalStore creates an empty in-memory store.
func NewConditionalStore() *ConditionalStore {
	return NewConditionalStoreWithClock(time.Now)
}

// NewConditionalStoreWithClock creates a store reading the wall clock through
// nowFunc, so tests can drive TTL expiry deterministically.
func NewConditionalStoreWithClock(nowFunc func() time.Time) *ConditionalStore {
	return &ConditionalStore{items: make(map[string]entry), nowFunc: nowFunc}
}

func (s *ConditionalStore) alive(key string) (entry, bool) {
	e, ok := s.items[key]
	if !ok {
		return entry{}, false
	}
	if !e.expiresAt.IsZero() && !s.nowFunc().Before(e.expiresAt) {
		delete(s.items, key)
		return entry{}, false
	}
	return e, true
}

func (s *ConditionalStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.nowFunc().Add(ttl)
}

// ConditionalCreate implements ConditionalStore.ConditionalCreate.
func (s *ConditionalStore) ConditionalCreate(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alive(key); ok {
		return false, nil
	}
	s.items[key] = entry{value: value, expiresAt: s.expiry(ttl)}
	return true, nil
}

// Set implements ConditionalStore.Set.
func (s *ConditionalStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = entry{value: value, expiresAt: s.expiry(ttl)}
	return nil
}

// Get implements ConditionalStore.Get.
func (s *ConditionalStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.alive(key)
	if !ok {
		return "", idempotency.ErrItemNotFound
	}
	return e.value, nil
}

// Delete implements ConditionalStore.Delete.
func (s *ConditionalStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

// Len reports the number of live entries.
func (s *ConditionalStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key := range s.items {
		if _, ok := s.alive(key); ok {
			n++
		}
	}
	return n
}
