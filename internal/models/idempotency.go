package models

import "time"

// Idempotency record statuses. The only legal transitions out of IN_FLIGHT
// are COMPLETED and FAILED; failed records are dropped so a retried
// operation can succeed.
const (
	IdempotencyInFlight  = "IN_FLIGHT"
	IdempotencyCompleted = "COMPLETED"
	IdempotencyFailed    = "FAILED"
)

// IdempotencyRecord deduplicates side-effecting operations by a
// client-supplied key. RequestFingerprint is a sha256 of the normalized
// request body and detects key reuse with a different payload.
type IdempotencyRecord struct {
	Key                string    `json:"key"`
	RequestFingerprint string    `json:"request_fingerprint"`
	Status             string    `json:"status"`
	Result             []byte    `json:"result,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	ExpiresAt          time.Time `json:"expires_at"`
}
