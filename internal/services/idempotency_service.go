package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/slotwise/backend/internal/models"
)

const idempotencyPrefix = "idempotency:"

// IdempotencyService deduplicates side-effecting operations by a
// client-supplied key, backed by Redis. The first caller with a key wins
// the in-flight slot and executes; replays receive the cached result.
type IdempotencyService struct {
	redis        *redis.Client
	ttl          time.Duration
	replayWait   time.Duration
	pollInterval time.Duration
	now          func() time.Time
}

func NewIdempotencyService(rdb *redis.Client, ttl, replayWait time.Duration) *IdempotencyService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if replayWait <= 0 {
		replayWait = 10 * time.Second
	}
	return &IdempotencyService{
		redis:        rdb,
		ttl:          ttl,
		replayWait:   replayWait,
		pollInterval: 100 * time.Millisecond,
		now:          time.Now,
	}
}

// Fingerprint hashes a normalized request body. Presenting the same key
// with a different fingerprint is a client error.
func Fingerprint(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Begin claims the key for this caller. Returns began=true when the caller
// owns the operation and must later call Complete or Fail. When a completed
// record exists for the same fingerprint, returns began=false with the
// cached result. A concurrent in-flight operation is waited on up to the
// bounded replay wait, after which ErrReplayTimeout is returned.
func (s *IdempotencyService) Begin(ctx context.Context, key, fingerprint string) (bool, []byte, error) {
	deadline := time.Now().Add(s.replayWait)

	for {
		now := s.now()
		record := models.IdempotencyRecord{
			Key:                key,
			RequestFingerprint: fingerprint,
			Status:             models.IdempotencyInFlight,
			CreatedAt:          now,
			ExpiresAt:          now.Add(s.ttl),
		}
		data, err := json.Marshal(record)
		if err != nil {
			return false, nil, fmt.Errorf("marshal idempotency record: %w", err)
		}

		ok, err := s.redis.SetNX(ctx, idempotencyPrefix+key, data, s.ttl).Result()
		if err != nil {
			return false, nil, fmt.Errorf("idempotency setnx: %w", err)
		}
		if ok {
			return true, nil, nil
		}

		raw, err := s.redis.Get(ctx, idempotencyPrefix+key).Result()
		if err == redis.Nil {
			// The previous holder failed and dropped the record between
			// our SetNX and Get; race for the slot again.
			continue
		}
		if err != nil {
			return false, nil, fmt.Errorf("idempotency get: %w", err)
		}

		var existing models.IdempotencyRecord
		if err := json.Unmarshal([]byte(raw), &existing); err != nil {
			return false, nil, fmt.Errorf("unmarshal idempotency record: %w", err)
		}

		if existing.RequestFingerprint != fingerprint {
			log.Printf("[IDEMPOTENCY] Key %s reused with different payload", key)
			return false, nil, models.ErrIdempotencyConflict
		}

		if existing.Status == models.IdempotencyCompleted {
			return false, existing.Result, nil
		}

		// Still in flight; wait for the original worker to resolve, bounded
		// so a crashed worker cannot hang us forever.
		if time.Now().Add(s.pollInterval).After(deadline) {
			log.Printf("[IDEMPOTENCY] Replay wait for key %s exceeded %s", key, s.replayWait)
			return false, nil, models.ErrReplayTimeout
		}

		select {
		case <-ctx.Done():
			return false, nil, ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
}

// Complete caches the successful result for replay. Only successful
// outcomes are stored; failures go through Fail.
func (s *IdempotencyService) Complete(ctx context.Context, key, fingerprint string, result []byte) error {
	now := s.now()
	record := models.IdempotencyRecord{
		Key:                key,
		RequestFingerprint: fingerprint,
		Status:             models.IdempotencyCompleted,
		Result:             result,
		CreatedAt:          now,
		ExpiresAt:          now.Add(s.ttl),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal idempotency record: %w", err)
	}
	if err := s.redis.Set(ctx, idempotencyPrefix+key, data, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("idempotency complete: %w", err)
	}
	return nil
}

// Fail drops the in-flight record so a legitimate retry of a failed
// operation can succeed. Failed outcomes are never cached as replayable.
func (s *IdempotencyService) Fail(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, idempotencyPrefix+key).Err(); err != nil {
		return fmt.Errorf("idempotency fail: %w", err)
	}
	return nil
}
