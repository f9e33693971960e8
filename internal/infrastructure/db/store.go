package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/avatarctic/idempotency-engine/internal/core/domain/idempotency"
)

// ConditionalStore implements ports.ConditionalStore on Postgres, as an
// alternative backend to Redis. TTLs are carried in an expires_at column:
// expired rows count as absent for reads and conditional creates, and are
// reclaimed lazily by the upsert rather than by a background sweeper.
type ConditionalStore struct {
	db *Database
}

// NewConditionalStore creates a Postgres-backed conditional store.
func NewConditionalStore(database *Database) *ConditionalStore {
	return &ConditionalStore{db: database}
}

// ConditionalCreate inserts the record if the key is absent or only held by an
// expired row. The single upsert statement keeps take-if-absent atomic, which
// is the property the persistence layer's state machine depends on.
func (s *ConditionalStore) ConditionalCreate(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	query := `
		INSERT INTO idempotency_records (record_key, record_value, expires_at)
		VALUES ($1, $2, now() + $3 * interval '1 second')
		ON CONFLICT (record_key) DO UPDATE
		SET record_value = EXCLUDED.record_value, expires_at = EXCLUDED.expires_at
		WHERE idempotency_records.expires_at <= now()`

	res, err := s.db.DB.ExecContext(ctx, query, key, value, ttl.Seconds())
	if err != nil {
		return false, fmt.Errorf("failed to conditionally create record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected == 1, nil
}

// Set stores the record unconditionally with a fresh expiry.
func (s *ConditionalStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	query := `
		INSERT INTO idempotency_records (record_key, record_value, expires_at)
		VALUES ($1, $2, now() + $3 * interval '1 second')
		ON CONFLICT (record_key) DO UPDATE
		SET record_value = EXCLUDED.record_value, expires_at = EXCLUDED.expires_at`

	if _, err := s.db.DB.ExecContext(ctx, query, key, value, ttl.Seconds()); err != nil {
		return fmt.Errorf("failed to set record: %w", err)
	}
	return nil
}

// Get returns the stored value for key, treating expired rows as absent.
func (s *ConditionalStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	query := `
		SELECT record_value FROM idempotency_records
		WHERE record_key = $1 AND expires_at > now()`

	err := s.db.DB.GetContext(ctx, &value, query, key)
	if err == sql.ErrNoRows {
		return "", idempotency.ErrItemNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get record: %w", err)
	}
	return value, nil
}

// Delete removes the record; absence is not an error.
func (s *ConditionalStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.DB.ExecContext(ctx, `DELETE FROM idempotency_records WHERE record_key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}
