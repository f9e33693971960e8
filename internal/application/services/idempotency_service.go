package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avatarctic/idempotency-engine/internal/core/domain/idempotency"
	"github.com/avatarctic/idempotency-engine/internal/core/ports"
	"github.com/sirupsen/logrus"
)

// maxSaveAttempts bounds the save/inspect cycle when a record disappears
// between a failed conditional create and the follow-up read.
const maxSaveAttempts = 2

// IdempotencyService wraps a unit of work with at-most-once semantics: it
// claims the derived key before execution, replays the cached response for a
// repeated payload, and clears the claim when the work fails.
type IdempotencyService struct {
	persistence ports.PersistenceLayer
	keys        ports.KeyBuilder
	logger      *logrus.Logger
	nowFunc     func() time.Time
}

func NewIdempotencyService(persistence ports.PersistenceLayer, keys ports.KeyBuilder, logger *logrus.Logger) *IdempotencyService {
	return &IdempotencyService{persistence: persistence, keys: keys, logger: logger, nowFunc: time.Now}
}

// Process executes fn at most once per payload. Repeated payloads return the
// cached response while the record is replayable, ErrStillInProgress while a
// prior execution is live, and ErrValidation when payload validation detects
// two distinct requests colliding on one key.
func (s *IdempotencyService) Process(ctx context.Context, payload []byte, fn ports.HandlerFunc) ([]byte, error) {
	key, err := s.keys.BuildKey(payload)
	if err != nil {
		return nil, err
	}
	payloadHash, err := s.keys.ValidationHash(payload)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		now := s.nowFunc()
		err = s.persistence.SaveInProgress(ctx, key, payloadHash, now)
		if err == nil {
			return s.execute(ctx, key, payloadHash, payload, fn)
		}
		if !errors.Is(err, idempotency.ErrItemAlreadyExists) {
			return nil, err
		}

		record, err := s.persistence.GetRecord(ctx, key, payloadHash, now)
		if err != nil {
			if errors.Is(err, idempotency.ErrItemNotFound) {
				// the record lapsed between save and read; take another pass
				s.logger.WithFields(logrus.Fields{"idempotency_key": key, "attempt": attempt}).Debug("record vanished during claim, retrying")
				continue
			}
			return nil, err
		}

		switch record.EffectiveStatus(now) {
		case idempotency.StatusCompleted:
			s.logger.WithFields(logrus.Fields{"idempotency_key": key}).Debug("replaying cached response")
			return []byte(record.ResponseData), nil
		case idempotency.StatusInProgress:
			return nil, fmt.Errorf("%w: key %s", idempotency.ErrStillInProgress, key)
		default:
			// expired record still visible; the next pass recovers it
			continue
		}
	}
	return nil, idempotency.ErrItemAlreadyExists
}

func (s *IdempotencyService) execute(ctx context.Context, key, payloadHash string, payload []byte, fn ports.HandlerFunc) ([]byte, error) {
	out, err := fn(ctx, payload)
	if err != nil {
		// future invocations must retry from scratch, not replay a failure
		if derr := s.persistence.DeleteRecord(ctx, key); derr != nil {
			s.logger.WithFields(logrus.Fields{"idempotency_key": key}).WithError(derr).Error("failed to clear record after handler failure")
		}
		return nil, err
	}
	if err := s.persistence.UpdateToCompleted(ctx, key, string(out), payloadHash, s.nowFunc()); err != nil {
		return nil, fmt.Errorf("failed to persist handler response: %w", err)
	}
	return out, nil
}
