package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/slotwise/backend/internal/models"
	"github.com/slotwise/backend/internal/provider"
)

// IdempotencyStore is the dedup capability the orchestrator needs.
type IdempotencyStore interface {
	Begin(ctx context.Context, key, fingerprint string) (bool, []byte, error)
	Complete(ctx context.Context, key, fingerprint string, result []byte) error
	Fail(ctx context.Context, key string) error
}

// ResourceLock is the cross-process mutual exclusion capability.
type ResourceLock interface {
	Acquire(ctx context.Context, key string, ttl, maxWait time.Duration) (*models.LockLease, error)
	Renew(ctx context.Context, lease *models.LockLease) (*models.LockLease, error)
	Release(ctx context.Context, lease *models.LockLease)
}

// EventEmitter sequences post-commit side effects.
type EventEmitter interface {
	Emit(ctx context.Context, event models.Event) models.DispatchResult
}

// ReservationResult is the cacheable outcome of ReserveAndConfirm.
type ReservationResult struct {
	ReservationID   string `json:"reservation_id"`
	ResourceID      string `json:"resource_id"`
	SubjectID       string `json:"subject_id"`
	Status          string `json:"status"`
	EffectsDegraded bool   `json:"effects_degraded,omitempty"`
	Replayed        bool   `json:"-"`
}

// SettlementResult is the cacheable outcome of SettleInvoice.
type SettlementResult struct {
	SettlementID    string `json:"settlement_id"`
	SubjectID       string `json:"subject_id"`
	Cycle           string `json:"cycle"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	ReceiptRef      string `json:"receipt_ref"`
	Status          string `json:"status"`
	EffectsDegraded bool   `json:"effects_degraded,omitempty"`
	Replayed        bool   `json:"-"`
}

// RefundResult is the cacheable outcome of CancelAndRefund.
type RefundResult struct {
	ReservationID string `json:"reservation_id"`
	RefundAmount  int64  `json:"refund_amount"`
	PolicyTier    string `json:"policy_tier"`
	RefundRef     string `json:"refund_ref,omitempty"`
	Status        string `json:"status"`
	Replayed      bool   `json:"-"`
}

// SettlementService composes the ledger, lock, idempotency store, refund
// engine and dispatcher into the user-facing operations. Errors cross this
// boundary as typed results, never as panics.
type SettlementService struct {
	db          *sql.DB
	ledger      CapacityLedger
	locks       ResourceLock
	idempotency IdempotencyStore
	events      EventEmitter
	refunds     *RefundPolicyEngine
	provider    provider.PaymentProvider
	lockTTL     time.Duration
	lockMaxWait time.Duration
}

func NewSettlementService(
	db *sql.DB,
	ledger CapacityLedger,
	locks ResourceLock,
	idempotency IdempotencyStore,
	events EventEmitter,
	paymentProvider provider.PaymentProvider,
	lockTTL, lockMaxWait time.Duration,
) *SettlementService {
	if lockTTL <= 0 {
		lockTTL = 10 * time.Second
	}
	if lockMaxWait <= 0 {
		lockMaxWait = 5 * time.Second
	}
	return &SettlementService{
		db:          db,
		ledger:      ledger,
		locks:       locks,
		idempotency: idempotency,
		events:      events,
		refunds:     NewRefundPolicyEngine(),
		provider:    paymentProvider,
		lockTTL:     lockTTL,
		lockMaxWait: lockMaxWait,
	}
}

// ReserveAndConfirm allocates one unit of the resource for the subject,
// deduplicated by the client's idempotency key. A CapacityExceeded outcome
// is not cached: a later retry once capacity frees up is a fresh attempt.
func (s *SettlementService) ReserveAndConfirm(ctx context.Context, subjectID, resourceID, idemKey string) (*ReservationResult, error) {
	fingerprint := Fingerprint([]byte("reserve|" + subjectID + "|" + resourceID))

	began, cached, err := s.idempotency.Begin(ctx, idemKey, fingerprint)
	if err != nil {
		return nil, err
	}
	if !began {
		var result ReservationResult
		if err := json.Unmarshal(cached, &result); err != nil {
			return nil, fmt.Errorf("decode cached result: %w", err)
		}
		result.Replayed = true
		log.Printf("[SETTLEMENT] Replayed reservation for key %s", idemKey)
		return &result, nil
	}

	reservation, err := s.ledger.TryReserve(ctx, resourceID, subjectID, 1)
	if err != nil {
		if failErr := s.idempotency.Fail(ctx, idemKey); failErr != nil {
			log.Printf("[SETTLEMENT] Failed to clear idempotency key %s: %v", idemKey, failErr)
		}
		return nil, err
	}

	result := &ReservationResult{
		ReservationID: reservation.ID,
		ResourceID:    reservation.ResourceID,
		SubjectID:     reservation.SubjectID,
		Status:        reservation.State,
	}

	// Post-commit side effects. A handler failure degrades downstream
	// effects but never rolls back the committed allocation.
	dispatch := s.events.Emit(ctx, models.Event{
		Name: models.EventReservationConfirmed,
		Payload: map[string]interface{}{
			"reservation_id": reservation.ID,
			"resource_id":    reservation.ResourceID,
			"subject_id":     reservation.SubjectID,
		},
	})
	if !dispatch.OK() {
		result.EffectsDegraded = true
	}

	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	if err := s.idempotency.Complete(ctx, idemKey, fingerprint, data); err != nil {
		log.Printf("[SETTLEMENT] Failed to cache result for key %s: %v", idemKey, err)
	}
	return result, nil
}

// SettleInvoice settles the subject's invoice for a billing cycle exactly
// once. The lock bounds cross-instance duplication during the write; the
// idempotency key bounds client retry duplication. Both are required:
// the lock has no memory of results, the idempotency store provides no
// mutual exclusion during the write itself.
func (s *SettlementService) SettleInvoice(ctx context.Context, subjectID, cycle string, amount int64, currency, idemKey string) (*SettlementResult, error) {
	fingerprint := Fingerprint([]byte(fmt.Sprintf("settle|%s|%s|%d|%s", subjectID, cycle, amount, currency)))

	began, cached, err := s.idempotency.Begin(ctx, idemKey, fingerprint)
	if err != nil {
		return nil, err
	}
	if !began {
		var result SettlementResult
		if err := json.Unmarshal(cached, &result); err != nil {
			return nil, fmt.Errorf("decode cached result: %w", err)
		}
		result.Replayed = true
		log.Printf("[SETTLEMENT] Replayed settlement for key %s", idemKey)
		return &result, nil
	}

	lease, err := s.locks.Acquire(ctx, "settle:"+subjectID, s.lockTTL, s.lockMaxWait)
	if err != nil {
		// No side effect happened; clear the in-flight slot so the caller
		// can retry with the same key.
		s.idempotency.Fail(ctx, idemKey)
		return nil, err
	}
	defer s.locks.Release(ctx, lease)

	settled, err := s.alreadySettled(ctx, subjectID, cycle)
	if err != nil {
		s.idempotency.Fail(ctx, idemKey)
		return nil, err
	}
	if settled {
		s.idempotency.Fail(ctx, idemKey)
		return nil, models.ErrAlreadySettled
	}

	receipt, err := s.provider.Authorize(ctx, amount, currency, subjectID+":"+cycle)
	if err != nil {
		s.idempotency.Fail(ctx, idemKey)
		return nil, err
	}

	// The provider call may have eaten into the lease; renew before the
	// fenced write and abort if ownership was lost.
	lease, err = s.locks.Renew(ctx, lease)
	if err != nil {
		s.idempotency.Fail(ctx, idemKey)
		return nil, err
	}

	settlement := &models.Settlement{
		ID:         uuid.NewString(),
		SubjectID:  subjectID,
		Cycle:      cycle,
		Amount:     amount,
		Currency:   currency,
		ReceiptRef: receipt.Ref,
		FenceToken: lease.FencingToken,
		Status:     models.SettlementCompleted,
		SettledAt:  time.Now(),
	}
	if err := s.insertSettlement(ctx, settlement); err != nil {
		s.idempotency.Fail(ctx, idemKey)
		return nil, err
	}

	s.locks.Release(ctx, lease)

	result := &SettlementResult{
		SettlementID: settlement.ID,
		SubjectID:    settlement.SubjectID,
		Cycle:        settlement.Cycle,
		Amount:       settlement.Amount,
		Currency:     settlement.Currency,
		ReceiptRef:   settlement.ReceiptRef,
		Status:       settlement.Status,
	}

	dispatch := s.events.Emit(ctx, models.Event{
		Name: models.EventInvoiceSettled,
		Payload: map[string]interface{}{
			"settlement_id": settlement.ID,
			"subject_id":    settlement.SubjectID,
			"cycle":         settlement.Cycle,
			"amount":        settlement.Amount,
			"currency":      settlement.Currency,
		},
	})
	if !dispatch.OK() {
		result.EffectsDegraded = true
	}

	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	if err := s.idempotency.Complete(ctx, idemKey, fingerprint, data); err != nil {
		log.Printf("[SETTLEMENT] Failed to cache result for key %s: %v", idemKey, err)
	}

	log.Printf("[SETTLEMENT] Settled %s for subject %s cycle %s", settlement.ID, subjectID, cycle)
	return result, nil
}

// CancelAndRefund releases a reservation and refunds according to the
// cancellation policy. The reservation state check happens here, not in
// the refund engine.
func (s *SettlementService) CancelAndRefund(ctx context.Context, reservationID, receiptRef string, baseAmount int64, eventTime time.Time, idemKey string) (*RefundResult, error) {
	fingerprint := Fingerprint([]byte(fmt.Sprintf("cancel|%s|%s|%d", reservationID, receiptRef, baseAmount)))

	began, cached, err := s.idempotency.Begin(ctx, idemKey, fingerprint)
	if err != nil {
		return nil, err
	}
	if !began {
		var result RefundResult
		if err := json.Unmarshal(cached, &result); err != nil {
			return nil, fmt.Errorf("decode cached result: %w", err)
		}
		result.Replayed = true
		return &result, nil
	}

	reservation, err := s.ledger.GetReservation(ctx, reservationID)
	if err != nil {
		s.idempotency.Fail(ctx, idemKey)
		return nil, err
	}
	if !reservation.Cancellable() {
		s.idempotency.Fail(ctx, idemKey)
		return nil, models.ErrReservationNotCancellable
	}

	quote := s.refunds.Quote(baseAmount, eventTime, time.Now())

	result := &RefundResult{
		ReservationID: reservationID,
		RefundAmount:  quote.RefundAmount,
		PolicyTier:    quote.PolicyTier,
		Status:        models.ReservationCancelled,
	}

	// Refund before releasing. A provider failure here leaves the
	// reservation untouched and the key cleared, so a retry with the same
	// key passes the state check again and re-attempts the refund.
	if quote.RefundAmount > 0 && receiptRef != "" {
		refund, err := s.provider.Refund(ctx, receiptRef, quote.RefundAmount)
		if err != nil {
			s.idempotency.Fail(ctx, idemKey)
			return nil, err
		}
		result.RefundRef = refund.Ref
	}

	if err := s.ledger.Release(ctx, reservationID); err != nil {
		// The refund already went out; surface the release failure loudly
		// rather than pretending the cancellation completed.
		log.Printf("[SETTLEMENT] Release of %s failed after refund %s: %v", reservationID, result.RefundRef, err)
		s.idempotency.Fail(ctx, idemKey)
		return nil, err
	}

	s.events.Emit(ctx, models.Event{
		Name: models.EventReservationCancelled,
		Payload: map[string]interface{}{
			"reservation_id": reservationID,
			"refund_amount":  quote.RefundAmount,
			"policy_tier":    quote.PolicyTier,
		},
	})

	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	if err := s.idempotency.Complete(ctx, idemKey, fingerprint, data); err != nil {
		log.Printf("[SETTLEMENT] Failed to cache result for key %s: %v", idemKey, err)
	}
	return result, nil
}

func (s *SettlementService) alreadySettled(ctx context.Context, subjectID, cycle string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
        SELECT EXISTS(SELECT 1 FROM settlements WHERE subject_id = $1 AND cycle = $2)
    `, subjectID, cycle).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check settlement: %w", err)
	}
	return exists, nil
}

// insertSettlement performs the fenced conditional write. The row is only
// created when no settlement exists for the subject+cycle AND no newer
// fencing token has been issued for the subject, which rejects a stale
// holder that stalled past its lease.
func (s *SettlementService) insertSettlement(ctx context.Context, st *models.Settlement) error {
	result, err := s.db.ExecContext(ctx, `
        INSERT INTO settlements (id, subject_id, cycle, amount, currency, receipt_ref, fence_token, status, settled_at)
        SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9
        WHERE NOT EXISTS (
            SELECT 1 FROM settlements WHERE subject_id = $2 AND cycle = $3
        ) AND NOT EXISTS (
            SELECT 1 FROM settlements WHERE subject_id = $2 AND fence_token > $7
        )
    `, st.ID, st.SubjectID, st.Cycle, st.Amount, st.Currency, st.ReceiptRef, st.FenceToken, st.Status, st.SettledAt)
	if err != nil {
		return fmt.Errorf("insert settlement: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		settled, checkErr := s.alreadySettled(ctx, st.SubjectID, st.Cycle)
		if checkErr != nil {
			return checkErr
		}
		if settled {
			return models.ErrAlreadySettled
		}
		return models.ErrFencedWrite
	}
	return nil
}
