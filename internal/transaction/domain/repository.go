package domain

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, tx *Transaction) error
	FindByID(ctx context.Context, db *gorm.DB, id int64) (*Transaction, error)
	FindByBillCode(ctx context.Context, db *gorm.DB, billCode string) (*Transaction, error)
	ListByLocation(ctx context.Context, db *gorm.DB, locationID string, limit int) ([]*Transaction, error)

	// AttachBill moves a pending transaction to processing and records
	// the bill code plus the provider's raw response. Returns false when
	// the row already left pending.
	AttachBill(ctx context.Context, db *gorm.DB, id int64, billCode, billID string, rawResponse datatypes.JSON, updatedAt time.Time) (bool, error)

	// MarkFailed terminates a pending transaction that never got a bill.
	MarkFailed(ctx context.Context, db *gorm.DB, id int64, updatedAt time.Time) (bool, error)

	// RecordCallback stores the merged callback audit trail and stamps
	// the receipt time. It runs regardless of whether the status moves.
	RecordCallback(ctx context.Context, db *gorm.DB, id int64, payload datatypes.JSON, receivedAt time.Time) error

	// UpdateStatusIf moves a transaction from one status to another only
	// if it still holds the expected status. Returns false when a
	// concurrent writer got there first.
	UpdateStatusIf(ctx context.Context, db *gorm.DB, billCode, fromStatus, toStatus string, updatedAt time.Time) (bool, error)

	// MarkNotified stamps notified_at only if it is still unset. The
	// stamp doubles as the delivery claim.
	MarkNotified(ctx context.Context, db *gorm.DB, id int64, notifiedAt time.Time) (bool, error)

	// ClearNotified releases the delivery claim after a failed send.
	ClearNotified(ctx context.Context, db *gorm.DB, id int64, updatedAt time.Time) error
}
