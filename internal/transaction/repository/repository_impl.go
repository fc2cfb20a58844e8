package repository

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/karipay/toyyibpay-bridge/internal/transaction/domain"
)

const transactionColumns = `id, location_id, ghl_order_id, ghl_transaction_id, bill_code,
	toyyibpay_bill_id, amount, currency, description, status, environment,
	customer_name, customer_email, customer_phone, metadata,
	raw_request_payload, raw_response_payload, raw_callback_payload,
	provider_callback_received_at, notified_at, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, tx *domain.Transaction) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO transactions (
			id, location_id, ghl_order_id, ghl_transaction_id, bill_code,
			toyyibpay_bill_id, amount, currency, description, status, environment,
			customer_name, customer_email, customer_phone, metadata,
			raw_request_payload, raw_response_payload, raw_callback_payload,
			provider_callback_received_at, notified_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID,
		tx.LocationID,
		tx.GHLOrderID,
		tx.GHLTransactionID,
		tx.BillCode,
		tx.BillID,
		tx.Amount,
		tx.Currency,
		tx.Description,
		tx.Status,
		tx.Environment,
		tx.CustomerName,
		tx.CustomerEmail,
		tx.CustomerPhone,
		tx.Metadata,
		tx.RawRequestPayload,
		tx.RawResponsePayload,
		tx.RawCallbackPayload,
		tx.ProviderCallbackReceivedAt,
		tx.NotifiedAt,
		tx.CreatedAt,
		tx.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id int64) (*domain.Transaction, error) {
	var item domain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT `+transactionColumns+`
		 FROM transactions
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByBillCode(ctx context.Context, db *gorm.DB, billCode string) (*domain.Transaction, error) {
	var item domain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT `+transactionColumns+`
		 FROM transactions
		 WHERE bill_code = ?
		 LIMIT 1`,
		billCode,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListByLocation(ctx context.Context, db *gorm.DB, locationID string, limit int) ([]*domain.Transaction, error) {
	if limit <= 0 || limit > 250 {
		limit = 50
	}

	var items []*domain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT `+transactionColumns+`
		 FROM transactions
		 WHERE location_id = ?
		 ORDER BY created_at DESC
		 LIMIT ?`,
		locationID,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) AttachBill(ctx context.Context, db *gorm.DB, id int64, billCode, billID string, rawResponse datatypes.JSON, updatedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE transactions
		 SET status = ?, bill_code = ?, toyyibpay_bill_id = ?, raw_response_payload = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusProcessing,
		billCode,
		billID,
		rawResponse,
		updatedAt,
		id,
		domain.StatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id int64, updatedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE transactions
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusFailed,
		updatedAt,
		id,
		domain.StatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) RecordCallback(ctx context.Context, db *gorm.DB, id int64, payload datatypes.JSON, receivedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE transactions
		 SET raw_callback_payload = ?, provider_callback_received_at = ?, updated_at = ?
		 WHERE id = ?`,
		payload,
		receivedAt,
		receivedAt,
		id,
	).Error
}

func (r *repo) UpdateStatusIf(ctx context.Context, db *gorm.DB, billCode, fromStatus, toStatus string, updatedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE transactions
		 SET status = ?, updated_at = ?
		 WHERE bill_code = ? AND status = ?`,
		toStatus,
		updatedAt,
		billCode,
		fromStatus,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkNotified(ctx context.Context, db *gorm.DB, id int64, notifiedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE transactions
		 SET notified_at = ?, updated_at = ?
		 WHERE id = ? AND notified_at IS NULL`,
		notifiedAt,
		notifiedAt,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ClearNotified(ctx context.Context, db *gorm.DB, id int64, updatedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE transactions
		 SET notified_at = NULL, updated_at = ?
		 WHERE id = ?`,
		updatedAt,
		id,
	).Error
}
