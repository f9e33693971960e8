package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/avatarctic/idempotency-engine/internal/core/domain/idempotency"
	"github.com/avatarctic/idempotency-engine/internal/core/ports"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

const lockSuffix = ":lock"

// PersistenceConfig groups configuration parameters for the persistence layer.
// Attribute names are a configuration surface: callers may rename the fields
// of the stored JSON mapping.
type PersistenceConfig struct {
	// ExpiryWindow is how long a record stays replayable after being written.
	ExpiryWindow time.Duration
	// FunctionTimeout bounds one execution attempt; it becomes the record's
	// in-progress deadline. The deadline is a lease, not a lock: callers must
	// choose a timeout exceeding their worst-case execution time or risk a
	// second caller recovering a still-running invocation.
	FunctionTimeout time.Duration
	// LockTimeout is the TTL of the orphan-recovery lock, capped at the
	// expiry window.
	LockTimeout time.Duration
	// PayloadValidation enables comparison of stored payload hashes on reads.
	PayloadValidation bool
	// UseLocalCache keeps completed records in an in-process LRU so replays
	// skip the store round trip.
	UseLocalCache  bool
	LocalCacheSize int

	StatusAttr           string
	ExpiryAttr           string
	InProgressExpiryAttr string
	DataAttr             string
	ValidationAttr       string
}

// PersistenceService drives the idempotency record state machine over a
// ConditionalStore: ABSENT -> IN_PROGRESS -> COMPLETED, back to ABSENT on
// failure or TTL expiry. It is stateless apart from configuration and the
// optional local cache, and safe for concurrent use; the store's conditional
// create is the only serialization point.
type PersistenceService struct {
	store                ports.ConditionalStore
	expiryWindow         time.Duration
	functionTimeout      time.Duration
	lockTimeout          time.Duration
	payloadValidation    bool
	statusAttr           string
	expiryAttr           string
	inProgressExpiryAttr string
	dataAttr             string
	validationAttr       string
	cache                *lru.Cache[string, *idempotency.Record]
	metrics              ports.OperationRecorder
	logger               *logrus.Logger
}

func NewPersistenceService(store ports.ConditionalStore, cfg *PersistenceConfig, recorder ports.OperationRecorder, logger *logrus.Logger) (*PersistenceService, error) {
	// Apply defaults
	ew := time.Hour
	ft := 30 * time.Second
	lt := 10 * time.Second
	cs := 256
	statusAttr, expiryAttr := "status", "expiration"
	inProgressAttr, dataAttr, validationAttr := "in_progress_expiration", "data", "validation"
	validation, useCache := false, false
	if cfg != nil {
		if cfg.ExpiryWindow > 0 {
			ew = cfg.ExpiryWindow
		}
		if cfg.FunctionTimeout > 0 {
			ft = cfg.FunctionTimeout
		}
		if cfg.LockTimeout > 0 {
			lt = cfg.LockTimeout
		}
		if cfg.LocalCacheSize > 0 {
			cs = cfg.LocalCacheSize
		}
		if cfg.StatusAttr != "" {
			statusAttr = cfg.StatusAttr
		}
		if cfg.ExpiryAttr != "" {
			expiryAttr = cfg.ExpiryAttr
		}
		if cfg.InProgressExpiryAttr != "" {
			inProgressAttr = cfg.InProgressExpiryAttr
		}
		if cfg.DataAttr != "" {
			dataAttr = cfg.DataAttr
		}
		if cfg.ValidationAttr != "" {
			validationAttr = cfg.ValidationAttr
		}
		validation = cfg.PayloadValidation
		useCache = cfg.UseLocalCache
	}
	// The lock is a cooldown layered on the record TTL; it must never outlive it.
	if lt > ew {
		lt = ew
	}

	s := &PersistenceService{
		store:                store,
		expiryWindow:         ew,
		functionTimeout:      ft,
		lockTimeout:          lt,
		payloadValidation:    validation,
		statusAttr:           statusAttr,
		expiryAttr:           expiryAttr,
		inProgressExpiryAttr: inProgressAttr,
		dataAttr:             dataAttr,
		validationAttr:       validationAttr,
		metrics:              recorder,
		logger:               logger,
	}
	if useCache {
		cache, err := lru.New[string, *idempotency.Record](cs)
		if err != nil {
			return nil, fmt.Errorf("failed to create local record cache: %w", err)
		}
		s.cache = cache
	}
	return s, nil
}

// SaveInProgress claims the key via a conditional create. If the key is
// already present, the existing record is classified: a replayable COMPLETED
// record or a live IN_PROGRESS record fails with ErrItemAlreadyExists, while
// an orphan (lapsed deadline, expired record, or undecodable value) is
// recovered under a short-lived lock.
func (s *PersistenceService) SaveInProgress(ctx context.Context, key, payloadHash string, now time.Time) (err error) {
	defer s.observe("save_in_progress", time.Now(), &err)

	if _, ok := s.cachedRecord(key, now); ok {
		s.logger.WithFields(logrus.Fields{"idempotency_key": key}).Debug("completed record found in local cache")
		return idempotency.ErrItemAlreadyExists
	}

	record := &idempotency.Record{
		IdempotencyKey:  key,
		Status:          idempotency.StatusInProgress,
		ExpiryTimestamp: now.Add(s.expiryWindow).Unix(),
		// IN_PROGRESS always carries a deadline so a crashed invocation's
		// claim is eventually reclaimable
		InProgressExpiryTimestamp: now.Add(s.functionTimeout).UnixMilli(),
		PayloadHash:               payloadHash,
	}
	encoded, err := s.encode(record)
	if err != nil {
		return err
	}
	ttl := s.ttlUntil(record.ExpiryTimestamp, now)

	s.logger.WithFields(logrus.Fields{"idempotency_key": key}).Debug("putting in-progress record")
	created, err := s.store.ConditionalCreate(ctx, key, encoded, ttl)
	if err != nil {
		return fmt.Errorf("failed to save in-progress record: %w", err)
	}
	if created {
		// first use of this key, or the previous record lapsed its TTL
		return nil
	}

	existing, err := s.fetch(ctx, key)
	if err != nil {
		if errors.Is(err, idempotency.ErrOrphanRecord) {
			// malformed or foreign value under our key
			return s.recoverOrphan(ctx, key, encoded, ttl)
		}
		// includes ErrItemNotFound when the record expired between the failed
		// create and this read; the caller retries from scratch
		return err
	}

	if existing.Status == idempotency.StatusCompleted && !existing.IsExpired(now) {
		return idempotency.ErrItemAlreadyExists
	}
	if existing.Status == idempotency.StatusInProgress &&
		existing.InProgressExpiryTimestamp != 0 && !existing.InProgressDeadlinePassed(now) {
		return idempotency.ErrItemAlreadyExists
	}

	// expired COMPLETED record, or IN_PROGRESS with a lapsed deadline
	return s.recoverOrphan(ctx, key, encoded, ttl)
}

// recoverOrphan overwrites an orphaned record under a conditional lock. The
// lock is left to expire rather than released, throttling competing
// recoveries: at most one recoverer wins per lock TTL window.
func (s *PersistenceService) recoverOrphan(ctx context.Context, key, encoded string, ttl time.Duration) error {
	acquired, err := s.store.ConditionalCreate(ctx, key+lockSuffix, "true", s.lockTimeout)
	if err != nil {
		return fmt.Errorf("failed to acquire orphan recovery lock: %w", err)
	}
	if !acquired {
		// another caller is recovering this orphan; from the outside this is
		// indistinguishable from legitimate concurrency
		s.logger.WithFields(logrus.Fields{"idempotency_key": key}).Debug("orphan recovery lock held elsewhere")
		return idempotency.ErrItemAlreadyExists
	}
	s.logger.WithFields(logrus.Fields{"idempotency_key": key}).Debug("recovering orphan record")
	if err := s.store.Set(ctx, key, encoded, ttl); err != nil {
		return fmt.Errorf("failed to overwrite orphan record: %w", err)
	}
	return nil
}

// UpdateToCompleted overwrites the record with the cached response and a fresh
// expiry window. Only the invocation that transitioned the key to IN_PROGRESS
// may call it; the store verifies no ownership token.
func (s *PersistenceService) UpdateToCompleted(ctx context.Context, key, responseData, payloadHash string, now time.Time) (err error) {
	defer s.observe("update_to_completed", time.Now(), &err)

	record := &idempotency.Record{
		IdempotencyKey:  key,
		Status:          idempotency.StatusCompleted,
		ExpiryTimestamp: now.Add(s.expiryWindow).Unix(),
		ResponseData:    responseData,
		PayloadHash:     payloadHash,
	}
	encoded, err := s.encode(record)
	if err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{"idempotency_key": key}).Debug("updating record to completed")
	// the TTL must be set again or the record would lose its expiry
	if err := s.store.Set(ctx, key, encoded, s.ttlUntil(record.ExpiryTimestamp, now)); err != nil {
		return fmt.Errorf("failed to update record to completed: %w", err)
	}
	if s.cache != nil {
		s.cache.Add(key, record)
	}
	return nil
}

// DeleteRecord removes the record after a failed execution so future
// invocations retry instead of replaying the failure.
func (s *PersistenceService) DeleteRecord(ctx context.Context, key string) (err error) {
	defer s.observe("delete_record", time.Now(), &err)

	s.logger.WithFields(logrus.Fields{"idempotency_key": key}).Debug("deleting record")
	if s.cache != nil {
		s.cache.Remove(key)
	}
	if err := s.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

// GetRecord reads and decodes the record for key, enforcing payload validation
// when enabled.
func (s *PersistenceService) GetRecord(ctx context.Context, key, payloadHash string, now time.Time) (record *idempotency.Record, err error) {
	defer s.observe("get_record", time.Now(), &err)

	if cached, ok := s.cachedRecord(key, now); ok {
		if err := s.validate(cached, payloadHash); err != nil {
			return nil, err
		}
		return cached, nil
	}

	record, err = s.fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := s.validate(record, payloadHash); err != nil {
		return nil, err
	}
	if s.cache != nil && record.Status == idempotency.StatusCompleted && !record.IsExpired(now) {
		s.cache.Add(key, record)
	}
	return record, nil
}

// fetch reads the raw value and decodes it, without validation or caching.
func (s *PersistenceService) fetch(ctx context.Context, key string) (*idempotency.Record, error) {
	raw, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, idempotency.ErrItemNotFound) {
			return nil, idempotency.ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to read record: %w", err)
	}
	return s.decode(key, raw)
}

func (s *PersistenceService) validate(record *idempotency.Record, payloadHash string) error {
	if !s.payloadValidation {
		return nil
	}
	if record.PayloadHash != payloadHash {
		return fmt.Errorf("%w: key %s", idempotency.ErrValidation, record.IdempotencyKey)
	}
	return nil
}

func (s *PersistenceService) cachedRecord(key string, now time.Time) (*idempotency.Record, bool) {
	if s.cache == nil {
		return nil, false
	}
	record, ok := s.cache.Get(key)
	if !ok {
		return nil, false
	}
	if record.IsExpired(now) {
		s.cache.Remove(key)
		return nil, false
	}
	return record, true
}

// encode serializes the record's mutable fields as a flat JSON mapping using
// the configured attribute names.
func (s *PersistenceService) encode(record *idempotency.Record) (string, error) {
	item := map[string]interface{}{
		s.statusAttr: string(record.Status),
		s.expiryAttr: record.ExpiryTimestamp,
	}
	if record.InProgressExpiryTimestamp != 0 {
		item[s.inProgressExpiryAttr] = record.InProgressExpiryTimestamp
	}
	if record.ResponseData != "" {
		item[s.dataAttr] = record.ResponseData
	}
	if s.payloadValidation {
		item[s.validationAttr] = record.PayloadHash
	}
	encoded, err := json.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("failed to encode record: %w", err)
	}
	return string(encoded), nil
}

// decode maps a stored value back into a Record. Any value that does not
// decode into the expected mapping is classified as an orphan.
func (s *PersistenceService) decode(key, raw string) (*idempotency.Record, error) {
	var item map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		return nil, fmt.Errorf("%w: undecodable value for key %s", idempotency.ErrOrphanRecord, key)
	}
	status, ok := item[s.statusAttr].(string)
	if !ok {
		return nil, fmt.Errorf("%w: missing status for key %s", idempotency.ErrOrphanRecord, key)
	}
	record := &idempotency.Record{
		IdempotencyKey:            key,
		Status:                    idempotency.Status(status),
		ExpiryTimestamp:           asInt64(item[s.expiryAttr]),
		InProgressExpiryTimestamp: asInt64(item[s.inProgressExpiryAttr]),
	}
	if data, ok := item[s.dataAttr].(string); ok {
		record.ResponseData = data
	}
	if hash, ok := item[s.validationAttr].(string); ok {
		record.PayloadHash = hash
	}
	return record, nil
}

// asInt64 tolerates numeric attributes stored as JSON numbers or strings.
func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

func (s *PersistenceService) ttlUntil(expiryTimestamp int64, now time.Time) time.Duration {
	return time.Duration(expiryTimestamp-now.Unix()) * time.Second
}

func (s *PersistenceService) observe(operation string, started time.Time, err *error) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveOperation(operation, resultLabel(*err), time.Since(started))
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, idempotency.ErrItemAlreadyExists):
		return "already_exists"
	case errors.Is(err, idempotency.ErrItemNotFound):
		return "not_found"
	case errors.Is(err, idempotency.ErrValidation):
		return "validation_mismatch"
	default:
		return "error"
	}
}
