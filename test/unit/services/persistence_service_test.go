package services_test

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	impl "github.com/avatarctic/idempotency-engine/internal/application/services"
	"github.com/avatarctic/idempotency-engine/internal/core/domain/idempotency"
	"github.com/avatarctic/idempotency-engine/internal/core/ports"
	"github.com/avatarctic/idempotency-engine/internal/infrastructure/memory"
	"github.com/avatarctic/idempotency-engine/test/mocks"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newEngine(t *testing.T, store ports.ConditionalStore, cfg *impl.PersistenceConfig) *impl.PersistenceService {
	t.Helper()
	svc, err := impl.NewPersistenceService(store, cfg, nil, testLogger())
	require.NoError(t, err)
	return svc
}

func TestSaveInProgress_FirstInvocation(t *testing.T) {
	store := memory.NewConditionalStore()
	svc := newEngine(t, store, nil)
	now := time.Now()

	require.NoError(t, svc.SaveInProgress(context.Background(), "order-1", "", now))

	rec, err := svc.GetRecord(context.Background(), "order-1", "", now)
	require.NoError(t, err)
	assert.Equal(t, idempotency.StatusInProgress, rec.Status)
	assert.Greater(t, rec.InProgressExpiryTimestamp, now.UnixMilli())
	assert.Greater(t, rec.ExpiryTimestamp, now.Unix())
}

func TestSaveInProgress_ConcurrentInvocation(t *testing.T) {
	store := memory.NewConditionalStore()
	svc := newEngine(t, store, &impl.PersistenceConfig{FunctionTimeout: time.Minute})
	now := time.Now()

	require.NoError(t, svc.SaveInProgress(context.Background(), "order-1", "", now))

	err := svc.SaveInProgress(context.Background(), "order-1", "", now)
	assert.ErrorIs(t, err, idempotency.ErrItemAlreadyExists)
}

func TestSaveInProgress_ReplayAfterCompleted(t *testing.T) {
	store := memory.NewConditionalStore()
	svc := newEngine(t, store, nil)
	now := time.Now()

	require.NoError(t, svc.SaveInProgress(context.Background(), "order-1", "", now))
	require.NoError(t, svc.UpdateToCompleted(context.Background(), "order-1", `{"status":"ok"}`, "", now))

	err := svc.SaveInProgress(context.Background(), "order-1", "", now)
	assert.ErrorIs(t, err, idempotency.ErrItemAlreadyExists)

	rec, err := svc.GetRecord(context.Background(), "order-1", "", now)
	require.NoError(t, err)
	assert.Equal(t, idempotency.StatusCompleted, rec.Status)
	assert.Equal(t, `{"status":"ok"}`, rec.ResponseData)
}

func TestSaveInProgress_RecoversLapsedDeadline(t *testing.T) {
	store := memory.NewConditionalStore()
	svc := newEngine(t, store, &impl.PersistenceConfig{FunctionTimeout: 100 * time.Millisecond})
	now := time.Now()

	require.NoError(t, svc.SaveInProgress(context.Background(), "order-1", "", now))

	// beyond the execution deadline the record is an orphan and a fresh
	// invocation takes over
	later := now.Add(time.Second)
	require.NoError(t, svc.SaveInProgress(context.Background(), "order-1", "", later))

	// the recovery lock stays behind as a cooldown
	_, err := store.Get(context.Background(), "order-1:lock")
	assert.NoError(t, err)
}

func TestSaveInProgress_LockContention(t *testing.T) {
	store := memory.NewConditionalStore()
	svc := newEngine(t, store, &impl.PersistenceConfig{FunctionTimeout: 100 * time.Millisecond})
	now := time.Now()

	require.NoError(t, svc.SaveInProgress(context.Background(), "order-1", "", now))
	require.NoError(t, store.Set(context.Background(), "order-1:lock", "true", time.Minute))

	// orphaned record, but another caller holds the recovery lock
	err := svc.SaveInProgress(context.Background(), "order-1", "", now.Add(time.Second))
	assert.ErrorIs(t, err, idempotency.ErrItemAlreadyExists)
}

func TestSaveInProgress_RecoversMalformedRecord(t *testing.T) {
	store := memory.NewConditionalStore()
	svc := newEngine(t, store, nil)

	require.NoError(t, store.Set(context.Background(), "order-1", "not a record", time.Hour))

	require.NoError(t, svc.SaveInProgress(context.Background(), "order-1", "", time.Now()))
}

func TestSaveInProgress_RecoversExpiredCompletedRecord(t *testing.T) {
	store := memory.NewConditionalStore()
	svc := newEngine(t, store, nil)
	now := time.Now()

	// logically expired but still physically present
	stale := fmt.Sprintf(`{"status":"COMPLETED","expiration":%d,"data":"old"}`, now.Add(-time.Minute).Unix())
	require.NoError(t, store.Set(context.Background(), "order-1", stale, time.Hour))

	require.NoError(t, svc.SaveInProgress(context.Background(), "order-1", "", now))

	rec, err := svc.GetRecord(context.Background(), "order-1", "", now)
	require.NoError(t, err)
	assert.Equal(t, idempotency.StatusInProgress, rec.Status)
}

func TestDeleteRecord(t *testing.T) {
	store := memory.NewConditionalStore()
	svc := newEngine(t, store, nil)
	now := time.Now()

	require.NoError(t, svc.SaveInProgress(context.Background(), "order-1", "", now))
	require.NoError(t, svc.DeleteRecord(context.Background(), "order-1"))

	_, err := svc.GetRecord(context.Background(), "order-1", "", now)
	assert.ErrorIs(t, err, idempotency.ErrItemNotFound)
}

func TestGetRecord_NotFound(t *testing.T) {
	svc := newEngine(t, memory.NewConditionalStore(), nil)

	_, err := svc.GetRecord(context.Background(), "missing", "", time.Now())
	assert.ErrorIs(t, err, idempotency.ErrItemNotFound)
}

func TestGetRecord_PayloadValidationMismatch(t *testing.T) {
	store := memory.NewConditionalStore()
	svc := newEngine(t, store, &impl.PersistenceConfig{PayloadValidation: true})
	now := time.Now()

	require.NoError(t, svc.SaveInProgress(context.Background(), "order-1", "hash-a", now))

	_, err := svc.GetRecord(context.Background(), "order-1", "hash-b", now)
	assert.ErrorIs(t, err, idempotency.ErrValidation)

	rec, err := svc.GetRecord(context.Background(), "order-1", "hash-a", now)
	require.NoError(t, err)
	assert.Equal(t, "hash-a", rec.PayloadHash)
}

func TestLocalCache_ReplayWithoutStoreRoundTrip(t *testing.T) {
	store := &mocks.ConditionalStoreMock{}
	svc := newEngine(t, store, &impl.PersistenceConfig{UseLocalCache: true})
	now := time.Now()

	require.NoError(t, svc.SaveInProgress(context.Background(), "order-1", "", now))
	require.NoError(t, svc.UpdateToCompleted(context.Background(), "order-1", "cached", "", now))

	err := svc.SaveInProgress(context.Background(), "order-1", "", now)
	assert.ErrorIs(t, err, idempotency.ErrItemAlreadyExists)

	rec, err := svc.GetRecord(context.Background(), "order-1", "", now)
	require.NoError(t, err)
	assert.Equal(t, "cached", rec.ResponseData)
	// the completed record was served from the local cache both times
	assert.Equal(t, 0, store.GetCalls)
	assert.Equal(t, 1, store.ConditionalCreateCalls)
}

func TestOrderLifecycleScenario(t *testing.T) {
	store := memory.NewConditionalStore()
	svc := newEngine(t, store, &impl.PersistenceConfig{ExpiryWindow: 3600 * time.Second, FunctionTimeout: time.Minute})
	ctx := context.Background()
	start := time.Now()

	require.NoError(t, svc.SaveInProgress(ctx, "order-1", "", start))
	assert.ErrorIs(t, svc.SaveInProgress(ctx, "order-1", "", start), idempotency.ErrItemAlreadyExists)

	require.NoError(t, svc.UpdateToCompleted(ctx, "order-1", `{"status":"ok"}`, "", start))
	rec, err := svc.GetRecord(ctx, "order-1", "", start)
	require.NoError(t, err)
	assert.Equal(t, idempotency.StatusCompleted, rec.Status)
	assert.Equal(t, `{"status":"ok"}`, rec.ResponseData)

	// simulate a crashed invocation: IN_PROGRESS with a deadline in the past
	crashed := fmt.Sprintf(`{"status":"INPROGRESS","expiration":%d,"in_progress_expiration":%d}`,
		start.Add(time.Hour).Unix(), start.Add(-100*time.Millisecond).UnixMilli())
	require.NoError(t, store.Set(ctx, "order-1", crashed, time.Hour))
	require.NoError(t, store.Delete(ctx, "order-1:lock"))

	require.NoError(t, svc.SaveInProgress(ctx, "order-1", "", start))
}
