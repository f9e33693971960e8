package ports

import (
	"context"
	"time"
)

// ConditionalStore is the minimal command surface the persistence layer needs
// from a backing store: GET, SET with TTL and optional create-only condition,
// and DELETE. Implementations must normalize backend errors (not-found maps to
// idempotency.ErrItemNotFound) and be safe for concurrent use across keys.
type ConditionalStore interface {
	// ConditionalCreate stores value under key only if the key is absent
	// (SET NX semantics). It returns false, without error, when the key
	// already exists. The conditional create is the single atomicity
	// primitive the persistence layer relies on.
	ConditionalCreate(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Set stores value under key unconditionally with the given TTL.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Get returns the raw stored value, or idempotency.ErrItemNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Delete removes the key; absence is not an error.
	Delete(ctx context.Context, key string) error
}
