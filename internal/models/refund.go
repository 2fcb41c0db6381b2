package models

import "time"

// Refund policy tiers, keyed on hours remaining before the event.
const (
	RefundTierFull    = "FULL"    // >= 24h before event
	RefundTierPartial = "PARTIAL" // 6h..24h before event
	RefundTierNone    = "NONE"    // < 6h before event
)

// RefundQuote is a pure derived value, never persisted on its own. Amounts
// are in minor units (cents).
type RefundQuote struct {
	BaseAmount   int64     `json:"base_amount"`
	RefundAmount int64     `json:"refund_amount"`
	PolicyTier   string    `json:"policy_tier"`
	ComputedAt   time.Time `json:"computed_at"`
}
