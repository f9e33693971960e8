package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	impl "github.com/avatarctic/idempotency-engine/internal/application/services"
	"github.com/avatarctic/idempotency-engine/internal/core/domain/idempotency"
	"github.com/avatarctic/idempotency-engine/internal/infrastructure/memory"
	"github.com/avatarctic/idempotency-engine/test/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrchestrator(t *testing.T, engineCfg *impl.PersistenceConfig, keysCfg *impl.KeyServiceConfig) (*impl.IdempotencyService, *impl.PersistenceService, *impl.KeyService) {
	t.Helper()
	engine := newEngine(t, memory.NewConditionalStore(), engineCfg)
	keys := newKeys(t, keysCfg)
	return impl.NewIdempotencyService(engine, keys, testLogger()), engine, keys
}

func TestProcess_ExecutesOnceAndReplays(t *testing.T) {
	svc, _, _ := newOrchestrator(t, nil, &impl.KeyServiceConfig{Namespace: "payments.create"})
	payload := []byte(`{"user_id":"u1","amount_cents":500}`)

	calls := 0
	fn := func(ctx context.Context, p []byte) ([]byte, error) {
		calls++
		return []byte(`{"payment_id":"p-1"}`), nil
	}

	first, err := svc.Process(context.Background(), payload, fn)
	require.NoError(t, err)
	second, err := svc.Process(context.Background(), payload, fn)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)
}

func TestProcess_DistinctPayloadsExecuteSeparately(t *testing.T) {
	svc, _, _ := newOrchestrator(t, nil, &impl.KeyServiceConfig{Namespace: "payments.create"})

	calls := 0
	fn := func(ctx context.Context, p []byte) ([]byte, error) {
		calls++
		return p, nil
	}

	_, err := svc.Process(context.Background(), []byte(`{"user_id":"u1"}`), fn)
	require.NoError(t, err)
	_, err = svc.Process(context.Background(), []byte(`{"user_id":"u2"}`), fn)
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
}

func TestProcess_FailureClearsRecord(t *testing.T) {
	svc, _, _ := newOrchestrator(t, nil, &impl.KeyServiceConfig{Namespace: "payments.create"})
	payload := []byte(`{"user_id":"u1"}`)

	boom := errors.New("downstream unavailable")
	calls := 0
	failing := func(ctx context.Context, p []byte) ([]byte, error) {
		calls++
		return nil, boom
	}

	_, err := svc.Process(context.Background(), payload, failing)
	assert.ErrorIs(t, err, boom)

	// the failed attempt must not be replayed
	out, err := svc.Process(context.Background(), payload, func(ctx context.Context, p []byte) ([]byte, error) {
		calls++
		return []byte("ok"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), out)
	assert.Equal(t, 2, calls)
}

func TestProcess_LiveExecutionConflicts(t *testing.T) {
	svc, engine, keys := newOrchestrator(t,
		&impl.PersistenceConfig{FunctionTimeout: time.Minute},
		&impl.KeyServiceConfig{Namespace: "payments.create"})
	payload := []byte(`{"user_id":"u1"}`)

	key, err := keys.BuildKey(payload)
	require.NoError(t, err)
	require.NoError(t, engine.SaveInProgress(context.Background(), key, "", time.Now()))

	_, err = svc.Process(context.Background(), payload, func(ctx context.Context, p []byte) ([]byte, error) {
		t.Fatal("handler must not run while another execution is live")
		return nil, nil
	})
	assert.ErrorIs(t, err, idempotency.ErrStillInProgress)
}

func TestProcess_PayloadValidationConflict(t *testing.T) {
	svc, _, _ := newOrchestrator(t,
		&impl.PersistenceConfig{PayloadValidation: true},
		&impl.KeyServiceConfig{
			Namespace:                 "payments.create",
			EventKeyJMESPath:          "order_id",
			PayloadValidationJMESPath: "amount_cents",
		})

	fn := func(ctx context.Context, p []byte) ([]byte, error) { return []byte("ok"), nil }

	_, err := svc.Process(context.Background(), []byte(`{"order_id":"o-1","amount_cents":500}`), fn)
	require.NoError(t, err)

	// same idempotency key, different guarded fields
	_, err = svc.Process(context.Background(), []byte(`{"order_id":"o-1","amount_cents":900}`), fn)
	assert.ErrorIs(t, err, idempotency.ErrValidation)
}

func TestProcess_RetriesWhenRecordVanishes(t *testing.T) {
	saves := 0
	persistence := &mocks.PersistenceLayerMock{
		SaveInProgressFn: func(ctx context.Context, key, payloadHash string, now time.Time) error {
			saves++
			if saves == 1 {
				return idempotency.ErrItemAlreadyExists
			}
			return nil
		},
		GetRecordFn: func(ctx context.Context, key, payloadHash string, now time.Time) (*idempotency.Record, error) {
			// the conflicting record expired between save and read
			return nil, idempotency.ErrItemNotFound
		},
	}
	svc := impl.NewIdempotencyService(persistence, &mocks.KeyBuilderMock{}, testLogger())

	out, err := svc.Process(context.Background(), []byte(`{}`), func(ctx context.Context, p []byte) ([]byte, error) {
		return []byte("ok"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), out)
	assert.Equal(t, 2, saves)
}
