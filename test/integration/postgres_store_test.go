package integration_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/avatarctic/idempotency-engine/configs"
	"github.com/avatarctic/idempotency-engine/internal/core/domain/idempotency"
	"github.com/avatarctic/idempotency-engine/internal/infrastructure/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newPostgresStore connects to the database named by TEST_DATABASE_DSN and
// applies the repository migrations. The test is skipped when no database is
// available.
func newPostgresStore(t *testing.T) *db.ConditionalStore {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set, skipping Postgres store tests")
	}
	database, err := db.NewDatabaseWithConfig(&configs.DatabaseConfig{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, database.Migrate("../../migrations"))
	return db.NewConditionalStore(database)
}

func testKey(t *testing.T) string {
	return fmt.Sprintf("%s-%d", t.Name(), time.Now().UnixNano())
}

func TestPostgresConditionalCreate(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()
	key := testKey(t)

	created, err := store.ConditionalCreate(ctx, key, "v1", time.Hour)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.ConditionalCreate(ctx, key, "v2", time.Hour)
	require.NoError(t, err)
	assert.False(t, created)

	val, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "v1", val)
}

func TestPostgresConditionalCreate_ReclaimsExpiredRow(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()
	key := testKey(t)

	created, err := store.ConditionalCreate(ctx, key, "v1", time.Second)
	require.NoError(t, err)
	require.True(t, created)

	time.Sleep(1500 * time.Millisecond)

	created, err = store.ConditionalCreate(ctx, key, "v2", time.Hour)
	require.NoError(t, err)
	assert.True(t, created)

	val, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "v2", val)
}

func TestPostgresGetSetDelete(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()
	key := testKey(t)

	_, err := store.Get(ctx, key)
	assert.ErrorIs(t, err, idempotency.ErrItemNotFound)

	require.NoError(t, store.Set(ctx, key, "v1", time.Hour))
	require.NoError(t, store.Set(ctx, key, "v2", time.Hour))

	val, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "v2", val)

	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Get(ctx, key)
	assert.ErrorIs(t, err, idempotency.ErrItemNotFound)

	// deleting an absent key is not an error
	assert.NoError(t, store.Delete(ctx, key))
}
