package idempotency

import "errors"

var (
	// ErrItemAlreadyExists signals that another invocation owns the key, either
	// a completed record awaiting replay or a live in-flight execution. Callers
	// should replay the cached response or retry after backoff.
	ErrItemAlreadyExists = errors.New("record already exists for idempotency key")

	// ErrItemNotFound signals a read of a key with no record.
	ErrItemNotFound = errors.New("record not found for idempotency key")

	// ErrOrphanRecord classifies a record abandoned by a crashed or timed-out
	// invocation, or a stored value that cannot be decoded. It triggers
	// recovery inside the persistence layer and never escapes it.
	ErrOrphanRecord = errors.New("orphaned idempotency record")

	// ErrValidation signals that the stored payload hash does not match the
	// current invocation's payload: two distinct logical requests collided on
	// the same idempotency key.
	ErrValidation = errors.New("payload does not match stored validation hash")

	// ErrStillInProgress signals that an execution for the key is currently
	// running and has not lapsed its deadline.
	ErrStillInProgress = errors.New("execution already in progress for idempotency key")

	// ErrNoIdempotencyKey signals that the configured key selection produced no
	// data to hash.
	ErrNoIdempotencyKey = errors.New("no data found to build an idempotency key")
)
