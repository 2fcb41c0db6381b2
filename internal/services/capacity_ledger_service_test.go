package services

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slotwise/backend/internal/models"
)

func TestSQLCapacityLedger_TryReserve(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ledger := NewSQLCapacityLedger(db)
	ctx := context.Background()

	t.Run("successful reservation", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE resources").
			WithArgs(1, "slot-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO reservations").
			WithArgs(sqlmock.AnyArg(), "slot-1", "user-1", 1, models.ReservationConfirmed, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		reservation, err := ledger.TryReserve(ctx, "slot-1", "user-1", 1)
		assert.NoError(t, err)
		assert.NotEmpty(t, reservation.ID)
		assert.Equal(t, "slot-1", reservation.ResourceID)
		assert.Equal(t, "user-1", reservation.SubjectID)
		assert.Equal(t, models.ReservationConfirmed, reservation.State)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("capacity exceeded", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE resources").
			WithArgs(1, "slot-1").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("slot-1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectRollback()

		_, err := ledger.TryReserve(ctx, "slot-1", "user-1", 1)
		assert.ErrorIs(t, err, models.ErrCapacityExceeded)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown resource", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE resources").
			WithArgs(1, "missing").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectRollback()

		_, err := ledger.TryReserve(ctx, "missing", "user-1", 1)
		assert.ErrorIs(t, err, models.ErrResourceNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid size", func(t *testing.T) {
		_, err := ledger.TryReserve(ctx, "slot-1", "user-1", 0)
		assert.Error(t, err)
	})
}

func TestSQLCapacityLedger_Release(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ledger := NewSQLCapacityLedger(db)
	ctx := context.Background()

	t.Run("successful release", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE reservations").
			WithArgs(models.ReservationCancelled, "rsv-1", models.ReservationPending, models.ReservationConfirmed).
			WillReturnRows(sqlmock.NewRows([]string{"resource_id", "units"}).AddRow("slot-1", 1))
		mock.ExpectExec("UPDATE resources").
			WithArgs(1, "slot-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := ledger.Release(ctx, "rsv-1")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already released", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE reservations").
			WithArgs(models.ReservationCancelled, "rsv-1", models.ReservationPending, models.ReservationConfirmed).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("rsv-1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectRollback()

		err := ledger.Release(ctx, "rsv-1")
		assert.ErrorIs(t, err, models.ErrAlreadyReleased)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown reservation", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE reservations").
			WithArgs(models.ReservationCancelled, "missing", models.ReservationPending, models.ReservationConfirmed).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectRollback()

		err := ledger.Release(ctx, "missing")
		assert.ErrorIs(t, err, models.ErrReservationNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSQLCapacityLedger_GetResource(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ledger := NewSQLCapacityLedger(db)

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, total_capacity").
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		_, err := ledger.GetResource(context.Background(), "missing")
		assert.ErrorIs(t, err, models.ErrResourceNotFound)
	})
}
