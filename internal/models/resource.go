package models

import (
	"time"
)

// Resource is a finite-capacity thing: a bookable time slot, an event's
// ticket pool. reserved_count is mutated only through the capacity ledger.
type Resource struct {
	ID            string    `json:"id" db:"id"`
	TotalCapacity uint      `json:"total_capacity" db:"total_capacity"`
	ReservedCount uint      `json:"reserved_count" db:"reserved_count"`
	Version       uint64    `json:"version" db:"version"` // for optimistic locking
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// Available returns the number of unreserved units.
func (r *Resource) Available() uint {
	if r.ReservedCount > r.TotalCapacity {
		return 0
	}
	return r.TotalCapacity - r.ReservedCount
}

// Reservation states.
const (
	ReservationPending   = "PENDING"
	ReservationConfirmed = "CONFIRMED"
	ReservationCancelled = "CANCELLED"
	ReservationExpired   = "EXPIRED"
)

// Reservation is a successful allocation against a Resource. Cancellation
// releases exactly one unit back to the resource's reserved count.
type Reservation struct {
	ID          string     `json:"id" db:"id"`
	ResourceID  string     `json:"resource_id" db:"resource_id"`
	SubjectID   string     `json:"subject_id" db:"subject_id"`
	State       string     `json:"state" db:"state"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty" db:"cancelled_at"`
}

// Cancellable reports whether the reservation may still be released.
func (r *Reservation) Cancellable() bool {
	return r.State == ReservationPending || r.State == ReservationConfirmed
}
