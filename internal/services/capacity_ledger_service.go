package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/slotwise/backend/internal/models"
)

// CapacityLedger is the authoritative counter for a finite resource. The
// reserve check-and-increment is a single atomic step with respect to all
// concurrent callers; release is an idempotent decrement.
type CapacityLedger interface {
	TryReserve(ctx context.Context, resourceID, subjectID string, n int) (*models.Reservation, error)
	Release(ctx context.Context, reservationID string) error
	GetReservation(ctx context.Context, reservationID string) (*models.Reservation, error)
}

// SQLCapacityLedger backs the ledger with Postgres. The capacity check and
// the increment happen inside one conditional UPDATE, so no interleaving of
// concurrent callers can over-allocate; the reservation row is written in
// the same database transaction as the increment.
type SQLCapacityLedger struct {
	db *sql.DB
}

func NewSQLCapacityLedger(db *sql.DB) *SQLCapacityLedger {
	return &SQLCapacityLedger{db: db}
}

// CreateResource registers a new finite resource. Administrative action;
// capacity is fixed at creation.
func (l *SQLCapacityLedger) CreateResource(ctx context.Context, id string, totalCapacity uint) (*models.Resource, error) {
	now := time.Now()
	_, err := l.db.ExecContext(ctx, `
        INSERT INTO resources (id, total_capacity, reserved_count, version, created_at, updated_at)
        VALUES ($1, $2, 0, 1, $3, $3)
    `, id, totalCapacity, now)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	return &models.Resource{
		ID:            id,
		TotalCapacity: totalCapacity,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// GetResource fetches the current counters for a resource.
func (l *SQLCapacityLedger) GetResource(ctx context.Context, id string) (*models.Resource, error) {
	res := &models.Resource{}
	err := l.db.QueryRowContext(ctx, `
        SELECT id, total_capacity, reserved_count, version, created_at, updated_at
        FROM resources WHERE id = $1
    `, id).Scan(&res.ID, &res.TotalCapacity, &res.ReservedCount, &res.Version, &res.CreatedAt, &res.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrResourceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get resource: %w", err)
	}
	return res, nil
}

// TryReserve allocates n units of the resource to the subject. First
// committer wins under contention; no fairness is promised.
func (l *SQLCapacityLedger) TryReserve(ctx context.Context, resourceID, subjectID string, n int) (*models.Reservation, error) {
	if n <= 0 {
		return nil, fmt.Errorf("invalid reservation size %d", n)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin reserve: %w", err)
	}
	defer tx.Rollback()

	// Check and increment in one statement. A concurrent committer either
	// sees our increment or we see theirs; the WHERE clause makes
	// over-allocation impossible.
	result, err := tx.ExecContext(ctx, `
        UPDATE resources
        SET reserved_count = reserved_count + $1, version = version + 1, updated_at = NOW()
        WHERE id = $2 AND reserved_count + $1 <= total_capacity
    `, n, resourceID)
	if err != nil {
		return nil, fmt.Errorf("reserve capacity: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM resources WHERE id = $1)`, resourceID).Scan(&exists); err != nil {
			return nil, fmt.Errorf("check resource: %w", err)
		}
		if !exists {
			return nil, models.ErrResourceNotFound
		}
		log.Printf("[LEDGER] Capacity exceeded for resource %s (requested %d)", resourceID, n)
		return nil, models.ErrCapacityExceeded
	}

	reservation := &models.Reservation{
		ID:         uuid.NewString(),
		ResourceID: resourceID,
		SubjectID:  subjectID,
		State:      models.ReservationConfirmed,
		CreatedAt:  time.Now(),
	}

	// Same transaction as the increment: an incremented counter without a
	// reservation row must never be observable.
	_, err = tx.ExecContext(ctx, `
        INSERT INTO reservations (id, resource_id, subject_id, units, state, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `, reservation.ID, reservation.ResourceID, reservation.SubjectID, n, reservation.State, reservation.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store reservation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reserve: %w", err)
	}

	log.Printf("[LEDGER] Reserved %d unit(s) of %s for subject %s: %s", n, resourceID, subjectID, reservation.ID)
	return reservation, nil
}

// Release cancels a reservation and returns its units to the resource.
// Idempotent: releasing an already-released or unknown reservation returns
// a typed no-op error and never touches the counter.
func (l *SQLCapacityLedger) Release(ctx context.Context, reservationID string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin release: %w", err)
	}
	defer tx.Rollback()

	var resourceID string
	var units int
	err = tx.QueryRowContext(ctx, `
        UPDATE reservations
        SET state = $1, cancelled_at = NOW()
        WHERE id = $2 AND state IN ($3, $4)
        RETURNING resource_id, units
    `, models.ReservationCancelled, reservationID,
		models.ReservationPending, models.ReservationConfirmed).Scan(&resourceID, &units)

	if err == sql.ErrNoRows {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM reservations WHERE id = $1)`, reservationID).Scan(&exists); err != nil {
			return fmt.Errorf("check reservation: %w", err)
		}
		if !exists {
			return models.ErrReservationNotFound
		}
		return models.ErrAlreadyReleased
	}
	if err != nil {
		return fmt.Errorf("release reservation: %w", err)
	}

	// Guarded decrement; reserved_count never goes below zero.
	_, err = tx.ExecContext(ctx, `
        UPDATE resources
        SET reserved_count = reserved_count - $1, version = version + 1, updated_at = NOW()
        WHERE id = $2 AND reserved_count >= $1
    `, units, resourceID)
	if err != nil {
		return fmt.Errorf("release capacity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit release: %w", err)
	}

	log.Printf("[LEDGER] Released reservation %s (%d unit(s) back to %s)", reservationID, units, resourceID)
	return nil
}

// GetReservation fetches a reservation by id.
func (l *SQLCapacityLedger) GetReservation(ctx context.Context, reservationID string) (*models.Reservation, error) {
	r := &models.Reservation{}
	err := l.db.QueryRowContext(ctx, `
        SELECT id, resource_id, subject_id, state, created_at, cancelled_at
        FROM reservations WHERE id = $1
    `, reservationID).Scan(&r.ID, &r.ResourceID, &r.SubjectID, &r.State, &r.CreatedAt, &r.CancelledAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrReservationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	return r, nil
}
