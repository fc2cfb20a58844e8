package domain

import (
	"context"
	"errors"
)

var (
	ErrNotFound        = errors.New("transaction_not_found")
	ErrInvalidRequest  = errors.New("transaction_invalid_request")
	ErrInvalidCurrency = errors.New("transaction_invalid_currency")
)

// CreateRequest describes a payment to open against ToyyibPay.
type CreateRequest struct {
	LocationID       string         `json:"location_id"`
	GHLOrderID       string         `json:"ghl_order_id"`
	GHLTransactionID string         `json:"ghl_transaction_id"`
	AmountCents      int64          `json:"amount"`
	Currency         string         `json:"currency"`
	Description      string         `json:"description"`
	CustomerName     string         `json:"customer_name"`
	CustomerEmail    string         `json:"customer_email"`
	CustomerPhone    string         `json:"customer_phone"`
	Metadata         map[string]any `json:"metadata"`
}

type CreateResponse struct {
	TransactionID int64  `json:"transaction_id,string"`
	BillCode      string `json:"bill_code"`
	PaymentURL    string `json:"payment_url"`
	Status        string `json:"status"`
}

// StatusChange reports the outcome of applying a provider status.
type StatusChange struct {
	Transaction    *Transaction
	PreviousStatus string
	Changed        bool
}

type Service interface {
	// Create persists a pending transaction, opens a bill on ToyyibPay,
	// and moves the row to processing on success or failed on error.
	Create(ctx context.Context, req CreateRequest) (*CreateResponse, error)

	GetByBillCode(ctx context.Context, billCode string) (*Transaction, error)
	ListByLocation(ctx context.Context, locationID string, limit int) ([]*Transaction, error)

	// ApplyProviderStatus maps a raw provider status onto the
	// transaction and records rawPayload in the callback audit trail.
	// Terminal states never regress.
	ApplyProviderStatus(ctx context.Context, billCode, providerStatus string, rawPayload []byte) (*StatusChange, error)

	// RefreshStatus re-queries the provider, applies the result, and
	// delivers any outstanding upstream notification.
	RefreshStatus(ctx context.Context, billCode string) (*StatusChange, error)

	// NotifyUpstream delivers the transaction outcome to the
	// marketplace at least once. Concurrent callers race for the
	// notified_at claim; exactly one wins and sends.
	NotifyUpstream(ctx context.Context, tx *Transaction) error
}
