package models

import "errors"

// Sentinel errors for the allocation/settlement core. Handlers map these to
// stable error codes so clients can decide whether a retry is legitimate.
var (
	// ErrCapacityExceeded - resource is full. Not retryable until a unit is released.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrResourceNotFound - unknown resource id.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrReservationNotFound - unknown reservation id.
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrAlreadyReleased - reservation was already cancelled or expired.
	// Releasing twice is a typed no-op, never a double decrement.
	ErrAlreadyReleased = errors.New("reservation already released")

	// ErrLockTimeout - could not establish exclusivity within maxWait.
	// Outcome unknown, the caller must retry with the same idempotency key.
	ErrLockTimeout = errors.New("lock acquisition timed out")

	// ErrLockExpired - lease expired before renew/release; the critical
	// section must abort rather than proceed on stale ownership.
	ErrLockExpired = errors.New("lock lease expired")

	// ErrFencedWrite - a newer fencing token has been issued for the key,
	// the backing store rejected the stale holder's write.
	ErrFencedWrite = errors.New("write rejected by newer fencing token")

	// ErrIdempotencyConflict - same key presented with a different request
	// fingerprint. Client bug, not retryable.
	ErrIdempotencyConflict = errors.New("idempotency key reused with different payload")

	// ErrReplayTimeout - the original in-flight operation never resolved
	// within the bounded wait. Retryable server error.
	ErrReplayTimeout = errors.New("timed out waiting for in-flight operation")

	// ErrAlreadySettled - a settlement record already exists for the
	// subject and billing cycle.
	ErrAlreadySettled = errors.New("already settled for billing cycle")

	// ErrProviderDeclined - payment provider business rejection. Not
	// retryable as-is.
	ErrProviderDeclined = errors.New("payment provider declined")

	// ErrProviderError - transient provider failure. Retryable with the
	// same idempotency key.
	ErrProviderError = errors.New("payment provider error")

	// ErrReservationNotCancellable - reservation is not in a state that
	// permits cancellation.
	ErrReservationNotCancellable = errors.New("reservation not cancellable")
)

// ErrorCode returns the stable wire code for a core error, or "INTERNAL"
// for anything unrecognized.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrCapacityExceeded):
		return "CAPACITY_EXCEEDED"
	case errors.Is(err, ErrResourceNotFound):
		return "RESOURCE_NOT_FOUND"
	case errors.Is(err, ErrReservationNotFound):
		return "RESERVATION_NOT_FOUND"
	case errors.Is(err, ErrAlreadyReleased):
		return "ALREADY_RELEASED"
	case errors.Is(err, ErrLockTimeout):
		return "LOCK_TIMEOUT"
	case errors.Is(err, ErrLockExpired):
		return "LOCK_EXPIRED"
	case errors.Is(err, ErrFencedWrite):
		return "FENCED_WRITE"
	case errors.Is(err, ErrIdempotencyConflict):
		return "IDEMPOTENCY_CONFLICT"
	case errors.Is(err, ErrReplayTimeout):
		return "REPLAY_TIMEOUT"
	case errors.Is(err, ErrAlreadySettled):
		return "ALREADY_SETTLED"
	case errors.Is(err, ErrProviderDeclined):
		return "PROVIDER_DECLINED"
	case errors.Is(err, ErrProviderError):
		return "PROVIDER_ERROR"
	case errors.Is(err, ErrReservationNotCancellable):
		return "NOT_CANCELLABLE"
	default:
		return "INTERNAL"
	}
}
