package services

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slotwise/backend/internal/models"
)

func newTestLockService(t *testing.T) (*LockService, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	return &LockService{
		redis:     db,
		holderID:  "holder-1",
		retryBase: 20 * time.Millisecond,
	}, mock
}

func TestLockService_Acquire(t *testing.T) {
	ctx := context.Background()

	t.Run("acquires free lock with fencing token", func(t *testing.T) {
		svc, mock := newTestLockService(t)

		mock.ExpectSetNX("lock:held:settle:u1", "holder-1", 10*time.Second).SetVal(true)
		mock.ExpectIncr("lock:fence:settle:u1").SetVal(7)
		mock.ExpectSet("lock:held:settle:u1", "holder-1:7", redis.KeepTTL).SetVal("OK")

		lease, err := svc.Acquire(ctx, "settle:u1", 10*time.Second, time.Second)
		require.NoError(t, err)
		assert.Equal(t, "settle:u1", lease.ResourceKey)
		assert.Equal(t, "holder-1", lease.HolderID)
		assert.Equal(t, uint64(7), lease.FencingToken)
		assert.Equal(t, 10*time.Second, lease.TTL)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("times out when lock is held", func(t *testing.T) {
		svc, mock := newTestLockService(t)

		// maxWait shorter than the first backoff: a single attempt, then
		// a typed timeout.
		mock.ExpectSetNX("lock:held:settle:u1", "holder-1", 10*time.Second).SetVal(false)

		_, err := svc.Acquire(ctx, "settle:u1", 10*time.Second, 5*time.Millisecond)
		assert.ErrorIs(t, err, models.ErrLockTimeout)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("succeeds after contention clears", func(t *testing.T) {
		svc, mock := newTestLockService(t)

		mock.ExpectSetNX("lock:held:settle:u1", "holder-1", 10*time.Second).SetVal(false)
		mock.ExpectSetNX("lock:held:settle:u1", "holder-1", 10*time.Second).SetVal(true)
		mock.ExpectIncr("lock:fence:settle:u1").SetVal(8)
		mock.ExpectSet("lock:held:settle:u1", "holder-1:8", redis.KeepTTL).SetVal("OK")

		lease, err := svc.Acquire(ctx, "settle:u1", 10*time.Second, time.Second)
		require.NoError(t, err)
		assert.Equal(t, uint64(8), lease.FencingToken)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLockService_Renew(t *testing.T) {
	ctx := context.Background()
	lease := &models.LockLease{
		ResourceKey:  "settle:u1",
		HolderID:     "holder-1",
		FencingToken: 7,
		TTL:          10 * time.Second,
	}

	t.Run("extends a held lease", func(t *testing.T) {
		svc, mock := newTestLockService(t)

		mock.ExpectGet("lock:held:settle:u1").SetVal("holder-1:7")
		mock.ExpectPExpire("lock:held:settle:u1", 10*time.Second).SetVal(true)

		renewed, err := svc.Renew(ctx, lease)
		require.NoError(t, err)
		assert.Equal(t, lease.FencingToken, renewed.FencingToken)
		assert.True(t, renewed.ExpiresAt.After(time.Now()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("expired lease", func(t *testing.T) {
		svc, mock := newTestLockService(t)

		mock.ExpectGet("lock:held:settle:u1").RedisNil()

		_, err := svc.Renew(ctx, lease)
		assert.ErrorIs(t, err, models.ErrLockExpired)
	})

	t.Run("lease taken over by newer holder", func(t *testing.T) {
		svc, mock := newTestLockService(t)

		mock.ExpectGet("lock:held:settle:u1").SetVal("holder-2:9")

		_, err := svc.Renew(ctx, lease)
		assert.ErrorIs(t, err, models.ErrLockExpired)
	})
}

func TestLockService_Release(t *testing.T) {
	ctx := context.Background()
	lease := &models.LockLease{
		ResourceKey:  "settle:u1",
		HolderID:     "holder-1",
		FencingToken: 7,
		TTL:          10 * time.Second,
	}

	t.Run("releases a held lease", func(t *testing.T) {
		svc, mock := newTestLockService(t)

		mock.ExpectGet("lock:held:settle:u1").SetVal("holder-1:7")
		mock.ExpectDel("lock:held:settle:u1").SetVal(1)

		svc.Release(ctx, lease)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no-op when lease already gone", func(t *testing.T) {
		svc, mock := newTestLockService(t)

		mock.ExpectGet("lock:held:settle:u1").RedisNil()

		svc.Release(ctx, lease)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no-op when a newer holder owns the lock", func(t *testing.T) {
		svc, mock := newTestLockService(t)

		mock.ExpectGet("lock:held:settle:u1").SetVal("holder-2:9")

		svc.Release(ctx, lease)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
