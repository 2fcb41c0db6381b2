// Package provider abstracts the external payment collaborator. The core
// only consumes the normalized result, never provider-specific payloads.
package provider

import (
	"context"
	"time"
)

// Receipt is the normalized outcome of a successful authorization.
type Receipt struct {
	Ref          string    `json:"ref"`
	Amount       int64     `json:"amount"` // in cents
	Currency     string    `json:"currency"`
	AuthorizedAt time.Time `json:"authorized_at"`
}

// RefundRef is the normalized outcome of a successful refund.
type RefundRef struct {
	Ref        string    `json:"ref"`
	ReceiptRef string    `json:"receipt_ref"`
	Amount     int64     `json:"amount"`
	RefundedAt time.Time `json:"refunded_at"`
}

// PaymentProvider is the external collaborator capability. A business
// rejection surfaces as models.ErrProviderDeclined; transient failures as
// models.ErrProviderError, retryable under the caller's idempotency key.
type PaymentProvider interface {
	Authorize(ctx context.Context, amount int64, currency, reference string) (*Receipt, error)
	Refund(ctx context.Context, receiptRef string, amount int64) (*RefundRef, error)
}
