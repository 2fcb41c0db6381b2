package models

import "time"

// LockLease is a transiently held claim on a named resource key. The
// fencing token is strictly increasing per key; the backing store rejects
// writes carrying a token older than the newest one issued, which protects
// against a holder that stalls past its lease expiry and resumes writing.
type LockLease struct {
	ResourceKey  string        `json:"resource_key"`
	HolderID     string        `json:"holder_id"`
	FencingToken uint64        `json:"fencing_token"`
	AcquiredAt   time.Time     `json:"acquired_at"`
	ExpiresAt    time.Time     `json:"expires_at"`
	TTL          time.Duration `json:"-"`
}
