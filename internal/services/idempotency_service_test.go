package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slotwise/backend/internal/models"
)

var testClock = time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

func newTestIdempotencyService(t *testing.T) (*IdempotencyService, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	return &IdempotencyService{
		redis:        db,
		ttl:          time.Hour,
		replayWait:   50 * time.Millisecond,
		pollInterval: 10 * time.Millisecond,
		now:          func() time.Time { return testClock },
	}, mock
}

func recordBytes(t *testing.T, key, fingerprint, status string, result []byte) []byte {
	t.Helper()
	data, err := json.Marshal(models.IdempotencyRecord{
		Key:                key,
		RequestFingerprint: fingerprint,
		Status:             status,
		Result:             result,
		CreatedAt:          testClock,
		ExpiresAt:          testClock.Add(time.Hour),
	})
	require.NoError(t, err)
	return data
}

func TestIdempotencyService_Begin(t *testing.T) {
	ctx := context.Background()

	t.Run("first caller wins the in-flight slot", func(t *testing.T) {
		svc, mock := newTestIdempotencyService(t)

		inFlight := recordBytes(t, "k1", "fp1", models.IdempotencyInFlight, nil)
		mock.ExpectSetNX("idempotency:k1", inFlight, time.Hour).SetVal(true)

		began, cached, err := svc.Begin(ctx, "k1", "fp1")
		require.NoError(t, err)
		assert.True(t, began)
		assert.Nil(t, cached)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("replays a completed result", func(t *testing.T) {
		svc, mock := newTestIdempotencyService(t)

		result := []byte(`{"reservation_id":"rsv-1"}`)
		inFlight := recordBytes(t, "k1", "fp1", models.IdempotencyInFlight, nil)
		completed := recordBytes(t, "k1", "fp1", models.IdempotencyCompleted, result)

		mock.ExpectSetNX("idempotency:k1", inFlight, time.Hour).SetVal(false)
		mock.ExpectGet("idempotency:k1").SetVal(string(completed))

		began, cached, err := svc.Begin(ctx, "k1", "fp1")
		require.NoError(t, err)
		assert.False(t, began)
		assert.Equal(t, result, cached)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("key reused with different payload", func(t *testing.T) {
		svc, mock := newTestIdempotencyService(t)

		inFlight := recordBytes(t, "k1", "fp2", models.IdempotencyInFlight, nil)
		existing := recordBytes(t, "k1", "fp1", models.IdempotencyCompleted, []byte(`{}`))

		mock.ExpectSetNX("idempotency:k1", inFlight, time.Hour).SetVal(false)
		mock.ExpectGet("idempotency:k1").SetVal(string(existing))

		_, _, err := svc.Begin(ctx, "k1", "fp2")
		assert.ErrorIs(t, err, models.ErrIdempotencyConflict)
	})

	t.Run("waits for in-flight resolution", func(t *testing.T) {
		svc, mock := newTestIdempotencyService(t)
		svc.replayWait = time.Second

		result := []byte(`{"settlement_id":"st-1"}`)
		inFlight := recordBytes(t, "k1", "fp1", models.IdempotencyInFlight, nil)
		completed := recordBytes(t, "k1", "fp1", models.IdempotencyCompleted, result)

		mock.ExpectSetNX("idempotency:k1", inFlight, time.Hour).SetVal(false)
		mock.ExpectGet("idempotency:k1").SetVal(string(inFlight))
		mock.ExpectSetNX("idempotency:k1", inFlight, time.Hour).SetVal(false)
		mock.ExpectGet("idempotency:k1").SetVal(string(completed))

		began, cached, err := svc.Begin(ctx, "k1", "fp1")
		require.NoError(t, err)
		assert.False(t, began)
		assert.Equal(t, result, cached)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("bounded wait on a crashed worker", func(t *testing.T) {
		svc, mock := newTestIdempotencyService(t)
		svc.replayWait = 5 * time.Millisecond

		inFlight := recordBytes(t, "k1", "fp1", models.IdempotencyInFlight, nil)
		mock.ExpectSetNX("idempotency:k1", inFlight, time.Hour).SetVal(false)
		mock.ExpectGet("idempotency:k1").SetVal(string(inFlight))

		_, _, err := svc.Begin(ctx, "k1", "fp1")
		assert.ErrorIs(t, err, models.ErrReplayTimeout)
	})

	t.Run("retakes the slot after a failed holder dropped it", func(t *testing.T) {
		svc, mock := newTestIdempotencyService(t)

		inFlight := recordBytes(t, "k1", "fp1", models.IdempotencyInFlight, nil)
		mock.ExpectSetNX("idempotency:k1", inFlight, time.Hour).SetVal(false)
		mock.ExpectGet("idempotency:k1").RedisNil()
		mock.ExpectSetNX("idempotency:k1", inFlight, time.Hour).SetVal(true)

		began, _, err := svc.Begin(ctx, "k1", "fp1")
		require.NoError(t, err)
		assert.True(t, began)
	})
}

func TestIdempotencyService_CompleteAndFail(t *testing.T) {
	ctx := context.Background()

	t.Run("complete caches the successful result", func(t *testing.T) {
		svc, mock := newTestIdempotencyService(t)

		result := []byte(`{"ok":true}`)
		completed := recordBytes(t, "k1", "fp1", models.IdempotencyCompleted, result)
		mock.ExpectSet("idempotency:k1", completed, redis.KeepTTL).SetVal("OK")

		assert.NoError(t, svc.Complete(ctx, "k1", "fp1", result))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("fail drops the record so a retry can succeed", func(t *testing.T) {
		svc, mock := newTestIdempotencyService(t)

		mock.ExpectDel("idempotency:k1").SetVal(1)

		assert.NoError(t, svc.Fail(ctx, "k1"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint([]byte("reserve|u1|slot-1"))
	b := Fingerprint([]byte("reserve|u1|slot-1"))
	c := Fingerprint([]byte("reserve|u1|slot-2"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
