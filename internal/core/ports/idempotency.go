package ports

import (
	"context"
	"time"

	"github.com/avatarctic/idempotency-engine/internal/core/domain/idempotency"
)

// PersistenceLayer orchestrates the idempotency record state machine over a
// ConditionalStore. It holds no cross-call state beyond configuration; all
// coordination happens through the store's conditional create.
type PersistenceLayer interface {
	// SaveInProgress claims the key for the current invocation. It fails with
	// idempotency.ErrItemAlreadyExists when another invocation legitimately
	// owns the key, recovering orphaned records transparently. The caller
	// supplies the wall-clock reading for testability.
	SaveInProgress(ctx context.Context, key, payloadHash string, now time.Time) error
	// UpdateToCompleted overwrites the record with the cached response and a
	// fresh expiry. It must only be called by the invocation that won the
	// IN_PROGRESS transition for the key.
	UpdateToCompleted(ctx context.Context, key, responseData, payloadHash string, now time.Time) error
	// DeleteRecord removes the record so future invocations retry from
	// scratch instead of replaying a failure.
	DeleteRecord(ctx context.Context, key string) error
	// GetRecord reads and decodes the record, enforcing payload validation
	// when enabled.
	GetRecord(ctx context.Context, key, payloadHash string, now time.Time) (*idempotency.Record, error)
}

// KeyBuilder derives deterministic idempotency keys and validation hashes from
// an invocation payload.
type KeyBuilder interface {
	BuildKey(payload []byte) (string, error)
	ValidationHash(payload []byte) (string, error)
}

// HandlerFunc is the unit of work wrapped by the idempotency orchestrator.
type HandlerFunc func(ctx context.Context, payload []byte) ([]byte, error)

// Idempoter wraps a function call with at-most-once execution semantics,
// replaying cached results for repeated payloads.
type Idempoter interface {
	Process(ctx context.Context, payload []byte, fn HandlerFunc) ([]byte, error)
}

// OperationRecorder observes persistence layer operations for metrics export.
type OperationRecorder interface {
	ObserveOperation(operation, result string, elapsed time.Duration)
}
