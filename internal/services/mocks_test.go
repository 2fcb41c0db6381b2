package services

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/slotwise/backend/internal/models"
)

type mockIdempotencyStore struct {
	mock.Mock
}

func (m *mockIdempotencyStore) Begin(ctx context.Context, key, fingerprint string) (bool, []byte, error) {
	args := m.Called(ctx, key, fingerprint)
	var cached []byte
	if args.Get(1) != nil {
		cached = args.Get(1).([]byte)
	}
	return args.Bool(0), cached, args.Error(2)
}

func (m *mockIdempotencyStore) Complete(ctx context.Context, key, fingerprint string, result []byte) error {
	args := m.Called(ctx, key, fingerprint, result)
	return args.Error(0)
}

func (m *mockIdempotencyStore) Fail(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

type mockResourceLock struct {
	mock.Mock
}

func (m *mockResourceLock) Acquire(ctx context.Context, key string, ttl, maxWait time.Duration) (*models.LockLease, error) {
	args := m.Called(ctx, key, ttl, maxWait)
	var lease *models.LockLease
	if args.Get(0) != nil {
		lease = args.Get(0).(*models.LockLease)
	}
	return lease, args.Error(1)
}

func (m *mockResourceLock) Renew(ctx context.Context, lease *models.LockLease) (*models.LockLease, error) {
	args := m.Called(ctx, lease)
	var renewed *models.LockLease
	if args.Get(0) != nil {
		renewed = args.Get(0).(*models.LockLease)
	}
	return renewed, args.Error(1)
}

func (m *mockResourceLock) Release(ctx context.Context, lease *models.LockLease) {
	m.Called(ctx, lease)
}
