package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/slotwise/backend/internal/models"
)

// MockProvider is an in-memory provider for development and tests. It
// always authorizes unless configured to decline or error.
type MockProvider struct {
	mu       sync.Mutex
	decline  bool
	fail     bool
	receipts map[string]*Receipt
}

func NewMockProvider() *MockProvider {
	return &MockProvider{receipts: make(map[string]*Receipt)}
}

// SetDecline configures business rejections.
func (p *MockProvider) SetDecline(decline bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.decline = decline
}

// SetFail configures transient failures.
func (p *MockProvider) SetFail(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = fail
}

func (p *MockProvider) Authorize(_ context.Context, amount int64, currency, reference string) (*Receipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.fail {
		return nil, fmt.Errorf("%w: mock transport failure", models.ErrProviderError)
	}
	if p.decline || amount <= 0 {
		return nil, fmt.Errorf("%w: reference %s", models.ErrProviderDeclined, reference)
	}

	receipt := &Receipt{
		Ref:          "mock_rcpt_" + uuid.NewString()[:16],
		Amount:       amount,
		Currency:     currency,
		AuthorizedAt: time.Now(),
	}
	p.receipts[receipt.Ref] = receipt
	return receipt, nil
}

func (p *MockProvider) Refund(_ context.Context, receiptRef string, amount int64) (*RefundRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.fail {
		return nil, fmt.Errorf("%w: mock transport failure", models.ErrProviderError)
	}
	receipt, ok := p.receipts[receiptRef]
	if !ok {
		return nil, fmt.Errorf("%w: unknown receipt %s", models.ErrProviderDeclined, receiptRef)
	}
	if amount <= 0 || amount > receipt.Amount {
		return nil, fmt.Errorf("%w: refund amount %d out of range", models.ErrProviderDeclined, amount)
	}

	return &RefundRef{
		Ref:        "mock_rfnd_" + uuid.NewString()[:16],
		ReceiptRef: receiptRef,
		Amount:     amount,
		RefundedAt: time.Now(),
	}, nil
}
