package services

import (
	"time"

	"github.com/slotwise/backend/internal/models"
)

// Refund tier boundaries, in hours before the event. Boundary values
// resolve to the higher tier (inclusive lower bound).
const (
	fullRefundHours    = 24
	partialRefundHours = 6
)

// RefundPolicyEngine computes refund amounts from the cancellation policy
// and time-to-event. Pure and deterministic; the orchestrator is
// responsible for checking that the reservation is cancellable first.
type RefundPolicyEngine struct{}

func NewRefundPolicyEngine() *RefundPolicyEngine {
	return &RefundPolicyEngine{}
}

// Quote computes the refundable amount for a cancellation happening at
// `now` against an event starting at `eventTime`. Amounts are in cents.
//
//	>= 24h before: 100%
//	6h..24h before: 50%
//	< 6h before (or past): 0%
func (e *RefundPolicyEngine) Quote(baseAmount int64, eventTime, now time.Time) models.RefundQuote {
	quote := models.RefundQuote{
		BaseAmount: baseAmount,
		ComputedAt: now,
	}

	hoursBefore := eventTime.Sub(now).Hours()

	switch {
	case hoursBefore >= fullRefundHours:
		quote.PolicyTier = models.RefundTierFull
		quote.RefundAmount = baseAmount
	case hoursBefore >= partialRefundHours:
		quote.PolicyTier = models.RefundTierPartial
		quote.RefundAmount = baseAmount / 2
	default:
		quote.PolicyTier = models.RefundTierNone
		quote.RefundAmount = 0
	}

	return quote
}
