package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/karipay/toyyibpay-bridge/internal/metrics"
	"github.com/karipay/toyyibpay-bridge/internal/transaction/domain"
)

var ErrInvalidCallback = errors.New("invalid_callback")

// Callback carries the form fields ToyyibPay posts after a payment attempt.
// Sandbox and production disagree on whether the status field is named
// status or status_id, so both are bound.
type Callback struct {
	RefNo           string `form:"refno" json:"refno,omitempty"`
	Status          string `form:"status" json:"status,omitempty"`
	StatusID        string `form:"status_id" json:"status_id,omitempty"`
	Reason          string `form:"reason" json:"reason,omitempty"`
	BillCode        string `form:"billcode" json:"billcode"`
	OrderID         string `form:"order_id" json:"order_id,omitempty"`
	Amount          string `form:"amount" json:"amount,omitempty"`
	TransactionTime string `form:"transaction_time" json:"transaction_time,omitempty"`
}

// Result reports what a callback did to the transaction.
type Result struct {
	BillCode string `json:"bill_code"`
	Status   string `json:"status"`
	Changed  bool   `json:"changed"`
}

type Params struct {
	fx.In

	Log     *zap.Logger
	Svc     domain.Service
	Metrics *metrics.Metrics `optional:"true"`
}

// Service validates provider callbacks and drives the resulting status
// transition and upstream notification.
type Service struct {
	log     *zap.Logger
	svc     domain.Service
	metrics *metrics.Metrics
}

func New(p Params) *Service {
	return &Service{
		log:     p.Log.Named("transaction.ingress"),
		svc:     p.Svc,
		metrics: p.Metrics,
	}
}

// HandleCallback applies one provider callback. Only a missing bill code
// rejects the delivery; a callback for a bill we do not track is
// acknowledged so the provider stops retrying it, and an absent status
// resolves to failed. Duplicate deliveries are acknowledged without
// effect. A transition into a terminal state triggers the upstream
// notification; notification failures are swallowed so the provider
// stops retrying a callback we already recorded.
func (s *Service) HandleCallback(ctx context.Context, cb Callback) (*Result, error) {
	billCode := strings.TrimSpace(cb.BillCode)
	if billCode == "" {
		if s.metrics != nil {
			s.metrics.RecordCallback("rejected")
		}
		return nil, ErrInvalidCallback
	}

	status := strings.TrimSpace(cb.Status)
	if status == "" {
		status = strings.TrimSpace(cb.StatusID)
	}

	s.log.Info("provider callback received",
		zap.String("bill_code", billCode),
		zap.String("status", status),
		zap.String("refno", strings.TrimSpace(cb.RefNo)),
	)

	rawPayload, err := json.Marshal(cb)
	if err != nil {
		rawPayload = nil
	}

	change, err := s.svc.ApplyProviderStatus(ctx, billCode, status, rawPayload)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.log.Warn("callback for unknown bill acknowledged",
				zap.String("bill_code", billCode),
			)
			if s.metrics != nil {
				s.metrics.RecordCallback("unknown")
			}
			return &Result{BillCode: billCode, Status: "unknown", Changed: false}, nil
		}
		if s.metrics != nil {
			s.metrics.RecordCallback("rejected")
		}
		return nil, err
	}

	tx := change.Transaction
	if domain.IsTerminal(tx.Status) && tx.NotifiedAt == nil {
		if err := s.svc.NotifyUpstream(ctx, tx); err != nil {
			s.log.Warn("deferring upstream notification",
				zap.String("bill_code", billCode),
				zap.Error(err),
			)
		}
	}

	return &Result{
		BillCode: tx.BillCode,
		Status:   tx.Status,
		Changed:  change.Changed,
	}, nil
}
