package idempotency

import "time"

// Status represents the lifecycle state of an idempotency record.
type Status string

const (
	StatusInProgress Status = "INPROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusExpired    Status = "EXPIRED"
)

// Record is the unit of state stored per idempotency key. Exactly one record
// exists per key in the backing store; the store key is the idempotency key.
type Record struct {
	IdempotencyKey string
	Status         Status
	// ExpiryTimestamp is the absolute unix-seconds time after which the record
	// is stale regardless of status.
	ExpiryTimestamp int64
	// InProgressExpiryTimestamp is the unix-milliseconds deadline of the
	// executing invocation. Zero means no deadline was recorded.
	InProgressExpiryTimestamp int64
	// ResponseData holds the cached result, present only once completed.
	ResponseData string
	// PayloadHash fingerprints the validated payload fields, if payload
	// validation is enabled.
	PayloadHash string
}

// IsExpired reports whether the record's expiry timestamp has passed.
func (r *Record) IsExpired(now time.Time) bool {
	return r.ExpiryTimestamp != 0 && now.Unix() >= r.ExpiryTimestamp
}

// InProgressDeadlinePassed reports whether the in-flight invocation's lease has
// lapsed. A true result on an IN_PROGRESS record marks it as an orphan.
func (r *Record) InProgressDeadlinePassed(now time.Time) bool {
	return r.InProgressExpiryTimestamp != 0 && r.InProgressExpiryTimestamp <= now.UnixMilli()
}

// EffectiveStatus resolves the logical state at the given instant: a COMPLETED
// record past its expiry is reported as EXPIRED even if still physically present.
func (r *Record) EffectiveStatus(now time.Time) Status {
	if r.IsExpired(now) {
		return StatusExpired
	}
	return r.Status
}
