package services

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/slotwise/backend/internal/models"
)

// LockService provides cross-process mutual exclusion backed by Redis
// leases. Used only for operations that cannot be expressed as a single
// atomic store operation; single-counter mutations go through the capacity
// ledger instead.
type LockService struct {
	redis     *redis.Client
	holderID  string
	retryBase time.Duration
}

func NewLockService(rdb *redis.Client) *LockService {
	return &LockService{
		redis:     rdb,
		holderID:  uuid.NewString(),
		retryBase: 25 * time.Millisecond,
	}
}

func lockKey(key string) string  { return "lock:held:" + key }
func fenceKey(key string) string { return "lock:fence:" + key }

func leaseValue(holderID string, token uint64) string {
	return fmt.Sprintf("%s:%d", holderID, token)
}

// Acquire blocks up to maxWait trying to take the lease for key, retrying
// with jittered backoff. On timeout it returns ErrLockTimeout, which means
// "could not establish exclusivity", never "operation failed".
//
// The fencing token is issued from a per-key counter only after the lease
// is won, so tokens are strictly increasing across granted leases.
func (s *LockService) Acquire(ctx context.Context, key string, ttl, maxWait time.Duration) (*models.LockLease, error) {
	deadline := time.Now().Add(maxWait)
	backoff := s.retryBase

	for attempt := 0; ; attempt++ {
		ok, err := s.redis.SetNX(ctx, lockKey(key), s.holderID, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("lock setnx: %w", err)
		}
		if ok {
			token, err := s.redis.Incr(ctx, fenceKey(key)).Result()
			if err != nil {
				// Lease without a token is unusable; give it back.
				s.redis.Del(ctx, lockKey(key))
				return nil, fmt.Errorf("lock fence incr: %w", err)
			}
			// Stamp the token into the lease value so renew/release can
			// verify ownership. TTL is preserved from the SetNX.
			if err := s.redis.Set(ctx, lockKey(key), leaseValue(s.holderID, uint64(token)), redis.KeepTTL).Err(); err != nil {
				s.redis.Del(ctx, lockKey(key))
				return nil, fmt.Errorf("lock stamp: %w", err)
			}

			now := time.Now()
			lease := &models.LockLease{
				ResourceKey:  key,
				HolderID:     s.holderID,
				FencingToken: uint64(token),
				AcquiredAt:   now,
				ExpiresAt:    now.Add(ttl),
				TTL:          ttl,
			}
			log.Printf("[LOCK] Acquired %s (token %d, ttl %s)", key, token, ttl)
			return lease, nil
		}

		sleep := backoff + time.Duration(rand.Int63n(int64(backoff)))
		if time.Now().Add(sleep).After(deadline) {
			log.Printf("[LOCK] Timed out acquiring %s after %s", key, maxWait)
			return nil, models.ErrLockTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}

		if backoff < 500*time.Millisecond {
			backoff *= 2
		}
	}
}

// Renew extends a held lease. Call it before half the TTL has elapsed if
// the critical section may run long; on ErrLockExpired the critical section
// must abort rather than proceed on stale ownership.
func (s *LockService) Renew(ctx context.Context, lease *models.LockLease) (*models.LockLease, error) {
	val, err := s.redis.Get(ctx, lockKey(lease.ResourceKey)).Result()
	if err == redis.Nil {
		return nil, models.ErrLockExpired
	}
	if err != nil {
		return nil, fmt.Errorf("lock renew get: %w", err)
	}
	if val != leaseValue(lease.HolderID, lease.FencingToken) {
		return nil, models.ErrLockExpired
	}

	ok, err := s.redis.PExpire(ctx, lockKey(lease.ResourceKey), lease.TTL).Result()
	if err != nil {
		return nil, fmt.Errorf("lock renew expire: %w", err)
	}
	if !ok {
		return nil, models.ErrLockExpired
	}

	renewed := *lease
	renewed.ExpiresAt = time.Now().Add(lease.TTL)
	return &renewed, nil
}

// Release drops the lease if we still hold it. Releasing a lease that
// already expired or was taken over is a silent no-op.
func (s *LockService) Release(ctx context.Context, lease *models.LockLease) {
	val, err := s.redis.Get(ctx, lockKey(lease.ResourceKey)).Result()
	if err != nil {
		if err != redis.Nil {
			log.Printf("[LOCK] Release check failed for %s: %v", lease.ResourceKey, err)
		}
		return
	}
	if val != leaseValue(lease.HolderID, lease.FencingToken) {
		return
	}
	if err := s.redis.Del(ctx, lockKey(lease.ResourceKey)).Err(); err != nil {
		log.Printf("[LOCK] Release failed for %s: %v", lease.ResourceKey, err)
	}
}

// HeldBy reports whether the raw lease value belongs to the given holder.
// Helper for diagnostics.
func HeldBy(value, holderID string) bool {
	return strings.HasPrefix(value, holderID+":")
}
