package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/slotwise/backend/internal/models"
)

// MemoryCapacityLedger serializes all counter mutations behind a single
// mutex. Suitable when the resource set is owned by one process and not
// externally shared; the SQL ledger covers the replicated case.
type MemoryCapacityLedger struct {
	mu           sync.Mutex
	resources    map[string]*models.Resource
	reservations map[string]*memReservation
}

type memReservation struct {
	reservation models.Reservation
	units       int
}

func NewMemoryCapacityLedger() *MemoryCapacityLedger {
	return &MemoryCapacityLedger{
		resources:    make(map[string]*models.Resource),
		reservations: make(map[string]*memReservation),
	}
}

// CreateResource registers a new finite resource.
func (l *MemoryCapacityLedger) CreateResource(_ context.Context, id string, totalCapacity uint) (*models.Resource, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	res := &models.Resource{
		ID:            id,
		TotalCapacity: totalCapacity,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	l.resources[id] = res
	return res, nil
}

// GetResource returns a copy of the resource's current counters.
func (l *MemoryCapacityLedger) GetResource(_ context.Context, id string) (*models.Resource, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, ok := l.resources[id]
	if !ok {
		return nil, models.ErrResourceNotFound
	}
	copied := *res
	return &copied, nil
}

// TryReserve allocates n units, or fails with ErrCapacityExceeded. The
// check and the increment happen under the same lock hold.
func (l *MemoryCapacityLedger) TryReserve(_ context.Context, resourceID, subjectID string, n int) (*models.Reservation, error) {
	if n <= 0 {
		return nil, fmt.Errorf("invalid reservation size %d", n)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	res, ok := l.resources[resourceID]
	if !ok {
		return nil, models.ErrResourceNotFound
	}
	if res.ReservedCount+uint(n) > res.TotalCapacity {
		return nil, models.ErrCapacityExceeded
	}

	res.ReservedCount += uint(n)
	res.Version++
	res.UpdatedAt = time.Now()

	reservation := models.Reservation{
		ID:         uuid.NewString(),
		ResourceID: resourceID,
		SubjectID:  subjectID,
		State:      models.ReservationConfirmed,
		CreatedAt:  time.Now(),
	}
	l.reservations[reservation.ID] = &memReservation{reservation: reservation, units: n}

	returned := reservation
	return &returned, nil
}

// Release returns a reservation's units to the resource. Idempotent.
func (l *MemoryCapacityLedger) Release(_ context.Context, reservationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.reservations[reservationID]
	if !ok {
		return models.ErrReservationNotFound
	}
	if !entry.reservation.Cancellable() {
		return models.ErrAlreadyReleased
	}

	now := time.Now()
	entry.reservation.State = models.ReservationCancelled
	entry.reservation.CancelledAt = &now

	if res, ok := l.resources[entry.reservation.ResourceID]; ok && res.ReservedCount >= uint(entry.units) {
		res.ReservedCount -= uint(entry.units)
		res.Version++
		res.UpdatedAt = now
	}
	return nil
}

// GetReservation returns a copy of the reservation.
func (l *MemoryCapacityLedger) GetReservation(_ context.Context, reservationID string) (*models.Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.reservations[reservationID]
	if !ok {
		return nil, models.ErrReservationNotFound
	}
	copied := entry.reservation
	return &copied, nil
}
