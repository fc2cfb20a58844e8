package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Transaction states. Terminal states never regress.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
	StatusRefunded   = "refunded"
)

// Provider status codes as reported by ToyyibPay callbacks and the
// getBillTransactions API.
const (
	ProviderStatusSuccess = "1"
	ProviderStatusPending = "2"
	ProviderStatusFailed  = "3"
)

// Transaction is one payment attempt tracked against a ToyyibPay bill.
// Amount is in sen. A row is created as pending before the provider is
// called; BillCode stays empty when bill creation fails.
type Transaction struct {
	ID               int64          `json:"id,string" gorm:"primaryKey"`
	LocationID       string         `json:"location_id" gorm:"type:text;not null;index"`
	GHLOrderID       string         `json:"ghl_order_id,omitempty" gorm:"column:ghl_order_id;type:text;not null;default:''"`
	GHLTransactionID string         `json:"ghl_transaction_id,omitempty" gorm:"column:ghl_transaction_id;type:text;not null;default:''"`
	BillCode         string         `json:"bill_code" gorm:"type:text;not null;default:''"`
	BillID           string         `json:"toyyibpay_bill_id,omitempty" gorm:"column:toyyibpay_bill_id;type:text;not null;default:''"`
	Amount           int64          `json:"amount" gorm:"not null"`
	Currency         string         `json:"currency" gorm:"type:text;not null;default:'MYR'"`
	Description      string         `json:"description,omitempty" gorm:"type:text;not null;default:''"`
	Status           string         `json:"status" gorm:"type:text;not null;default:'pending'"`
	Environment      string         `json:"environment" gorm:"type:text;not null;default:'sandbox'"`
	CustomerName     string         `json:"customer_name,omitempty" gorm:"type:text;not null;default:''"`
	CustomerEmail    string         `json:"customer_email,omitempty" gorm:"type:text;not null;default:''"`
	CustomerPhone    string         `json:"customer_phone,omitempty" gorm:"type:text;not null;default:''"`
	Metadata         datatypes.JSON `json:"metadata,omitempty" gorm:"type:jsonb"`

	// Raw wire payloads kept for audit. RawCallbackPayload is an
	// append-only JSON array so duplicate and conflicting callbacks
	// stay on record.
	RawRequestPayload  datatypes.JSON `json:"raw_request_payload,omitempty" gorm:"type:jsonb"`
	RawResponsePayload datatypes.JSON `json:"raw_response_payload,omitempty" gorm:"type:jsonb"`
	RawCallbackPayload datatypes.JSON `json:"raw_callback_payload,omitempty" gorm:"type:jsonb"`

	ProviderCallbackReceivedAt *time.Time `json:"provider_callback_received_at,omitempty"`
	NotifiedAt                 *time.Time `json:"notified_at,omitempty"`
	CreatedAt                  time.Time  `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt                  time.Time  `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Transaction) TableName() string { return "transactions" }

// IsTerminal reports whether a status permits no further transitions.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// MapProviderStatus translates a raw ToyyibPay status code into a
// transaction status. Unknown codes map to failed so an attacker cannot
// park a transaction in a half-open state.
func MapProviderStatus(code string) string {
	switch code {
	case ProviderStatusSuccess:
		return StatusCompleted
	case ProviderStatusPending:
		return StatusPending
	case ProviderStatusFailed:
		return StatusFailed
	default:
		return StatusFailed
	}
}

// UpstreamStatus translates a transaction status into the three-state
// vocabulary the marketplace understands.
func UpstreamStatus(status string) string {
	switch status {
	case StatusCompleted:
		return "completed"
	case StatusPending, StatusProcessing:
		return "pending"
	case StatusFailed, StatusCancelled, StatusRefunded:
		return "failed"
	default:
		return "failed"
	}
}
