package mocks

import (
	"context"
	"time"

	"github.com/avatarctic/idempotency-engine/internal/core/domain/idempotency"
)

// ConditionalStoreMock is a lightweight mock for ConditionalStore
type ConditionalStoreMock struct {
	ConditionalCreateFn func(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	SetFn               func(ctx context.Context, key, value string, ttl time.Duration) error
	GetFn               func(ctx context.Context, key string) (string, error)
	DeleteFn            func(ctx context.Context, key string) error

	ConditionalCreateCalls int
	SetCalls               int
	GetCalls               int
	DeleteCalls            int
}

func (m *ConditionalStoreMock) ConditionalCreate(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.ConditionalCreateCalls++
	if m.ConditionalCreateFn != nil {
		return m.ConditionalCreateFn(ctx, key, value, ttl)
	}
	return true, nil
}

func (m *ConditionalStoreMock) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.SetCalls++
	if m.SetFn != nil {
		return m.SetFn(ctx, key, value, ttl)
	}
	return nil
}

func (m *ConditionalStoreMock) Get(ctx context.Context, key string) (string, error) {
	m.GetCalls++
	if m.GetFn != nil {
		return m.GetFn(ctx, key)
	}
	return "", idempotency.ErrItemNotFound
}

func (m *ConditionalStoreMock) Delete(ctx context.Context, key string) error {
	m.DeleteCalls++
	if m.DeleteFn != nil {
		return m.DeleteFn(ctx, key)
	}
	return nil
}

// PersistenceLayerMock is a lightweight mock for PersistenceLayer
type PersistenceLayerMock struct {
	SaveInProgressFn    func(ctx context.Context, key, payloadHash string, now time.Time) error
	UpdateToCompletedFn func(ctx context.Context, key, responseData, payloadHash string, now time.Time) error
	DeleteRecordFn      func(ctx context.Context, key string) error
	GetRecordFn         func(ctx context.Context, key, payloadHash string, now time.Time) (*idempotency.Record, error)
}

func (m *PersistenceLayerMock) SaveInProgress(ctx context.Context, key, payloadHash string, now time.Time) error {
	if m.SaveInProgressFn != nil {
		return m.SaveInProgressFn(ctx, key, payloadHash, now)
	}
	return nil
}

func (m *PersistenceLayerMock) UpdateToCompleted(ctx context.Context, key, responseData, payloadHash string, now time.Time) error {
	if m.UpdateToCompletedFn != nil {
		return m.UpdateToCompletedFn(ctx, key, responseData, payloadHash, now)
	}
	return nil
}

func (m *PersistenceLayerMock) DeleteRecord(ctx context.Context, key string) error {
	if m.DeleteRecordFn != nil {
		return m.DeleteRecordFn(ctx, key)
	}
	return nil
}

func (m *PersistenceLayerMock) GetRecord(ctx context.Context, key, payloadHash string, now time.Time) (*idempotency.Record, error) {
	if m.GetRecordFn != nil {
		return m.GetRecordFn(ctx, key, payloadHash, now)
	}
	return nil, idempotency.ErrItemNotFound
}

// KeyBuilderMock is a lightweight mock for KeyBuilder
type KeyBuilderMock struct {
	BuildKeyFn       func(payload []byte) (string, error)
	ValidationHashFn func(payload []byte) (string, error)
}

func (m *KeyBuilderMock) BuildKey(payload []byte) (string, error) {
	if m.BuildKeyFn != nil {
		return m.BuildKeyFn(payload)
	}
	return "test#key", nil
}

func (m *KeyBuilderMock) ValidationHash(payload []byte) (string, error) {
	if m.ValidationHashFn != nil {
		return m.ValidationHashFn(payload)
	}
	return "", nil
}
