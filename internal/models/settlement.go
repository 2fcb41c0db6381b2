package models

import "time"

// Settlement statuses.
const (
	SettlementCompleted = "COMPLETED"
	SettlementRefunded  = "REFUNDED"
)

// Settlement is the at-most-once record of an invoice settlement for a
// subject and billing cycle. FenceToken is the lock lease token the writer
// held; the insert is rejected if a newer token has been issued for the
// subject.
type Settlement struct {
	ID         string    `json:"id" db:"id"`
	SubjectID  string    `json:"subject_id" db:"subject_id"`
	Cycle      string    `json:"cycle" db:"cycle"`   // billing cycle, e.g. "2026-08"
	Amount     int64     `json:"amount" db:"amount"` // in cents
	Currency   string    `json:"currency" db:"currency"`
	ReceiptRef string    `json:"receipt_ref" db:"receipt_ref"`
	FenceToken uint64    `json:"fence_token" db:"fence_token"`
	Status     string    `json:"status" db:"status"`
	SettledAt  time.Time `json:"settled_at" db:"settled_at"`
}
