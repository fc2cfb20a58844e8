package service

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/karipay/toyyibpay-bridge/internal/clock"
	"github.com/karipay/toyyibpay-bridge/internal/config"
	"github.com/karipay/toyyibpay-bridge/internal/ghl"
	integrationdomain "github.com/karipay/toyyibpay-bridge/internal/integration/domain"
	"github.com/karipay/toyyibpay-bridge/internal/metrics"
	"github.com/karipay/toyyibpay-bridge/internal/toyyibpay"
	"github.com/karipay/toyyibpay-bridge/internal/transaction/domain"
	"github.com/karipay/toyyibpay-bridge/pkg/db"
)

// Gateway is the subset of the ToyyibPay client the service depends on.
type Gateway interface {
	CreateBill(ctx context.Context, creds toyyibpay.Credentials, req toyyibpay.CreateBillRequest) (string, []byte, error)
	GetBillStatus(ctx context.Context, creds toyyibpay.Credentials, billCode string) (string, *toyyibpay.BillTransaction, error)
	BillURL(mode, billCode string) string
}

// Notifier delivers payment outcomes upstream.
type Notifier interface {
	SendPaymentStatusEvent(ctx context.Context, event ghl.PaymentStatusEvent) error
}

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Repo           domain.Repository
	Cfg            config.Config
	Clock          clock.Clock
	Gateway        Gateway
	Notifier       Notifier
	IntegrationSvc integrationdomain.Service
	Metrics        *metrics.Metrics `optional:"true"`
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	repo           domain.Repository
	genID          *snowflake.Node
	cfg            config.Config
	clock          clock.Clock
	gateway        Gateway
	notifier       Notifier
	integrationSvc integrationdomain.Service
	metrics        *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("transaction.service"),
		repo:           p.Repo,
		genID:          p.GenID,
		cfg:            p.Cfg,
		clock:          p.Clock,
		gateway:        p.Gateway,
		notifier:       p.Notifier,
		integrationSvc: p.IntegrationSvc,
		metrics:        p.Metrics,
	}
}

// Create writes a pending row first so a crashed or rejected bill
// creation still leaves an audit trail, then attaches the bill code on
// success or marks the row failed on provider error.
func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.CreateResponse, error) {
	locationID := strings.TrimSpace(req.LocationID)
	if locationID == "" || req.AmountCents <= 0 {
		return nil, domain.ErrInvalidRequest
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "MYR"
	}
	if currency != "MYR" {
		return nil, domain.ErrInvalidCurrency
	}

	creds, err := s.integrationSvc.GetProviderCredentials(ctx, locationID)
	if err != nil {
		return nil, err
	}

	id := s.genID.Generate().Int64()
	externalRef := strings.TrimSpace(req.GHLTransactionID)
	if externalRef == "" {
		externalRef = strconv.FormatInt(id, 10)
	}

	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = "Payment " + externalRef
	}

	billReq := toyyibpay.CreateBillRequest{
		Name:              description,
		Description:       description,
		AmountCents:       req.AmountCents,
		ExternalReference: externalRef,
		ReturnURL:         s.cfg.AppBaseURL + "/payment/status",
		CallbackURL:       s.cfg.AppBaseURL + "/api/toyyibpay/webhook/callback",
		CustomerName:      strings.TrimSpace(req.CustomerName),
		CustomerEmail:     strings.TrimSpace(req.CustomerEmail),
		CustomerPhone:     strings.TrimSpace(req.CustomerPhone),
	}

	var metadata datatypes.JSON
	if len(req.Metadata) > 0 {
		raw, err := json.Marshal(req.Metadata)
		if err != nil {
			return nil, domain.ErrInvalidRequest
		}
		metadata = datatypes.JSON(raw)
	}

	rawRequest, err := json.Marshal(billReq)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	tx := domain.Transaction{
		ID:                id,
		LocationID:        locationID,
		GHLOrderID:        strings.TrimSpace(req.GHLOrderID),
		GHLTransactionID:  strings.TrimSpace(req.GHLTransactionID),
		Amount:            req.AmountCents,
		Currency:          currency,
		Description:       description,
		Status:            domain.StatusPending,
		Environment:       creds.Mode,
		CustomerName:      strings.TrimSpace(req.CustomerName),
		CustomerEmail:     strings.TrimSpace(req.CustomerEmail),
		CustomerPhone:     strings.TrimSpace(req.CustomerPhone),
		Metadata:          metadata,
		RawRequestPayload: datatypes.JSON(rawRequest),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.repo.Insert(ctx, s.db, &tx); err != nil {
		return nil, err
	}

	billCode, rawResponse, err := s.gateway.CreateBill(ctx, toyyibpay.Credentials{
		SecretKey:    creds.SecretKey,
		CategoryCode: creds.CategoryCode,
		Mode:         creds.Mode,
	}, billReq)
	if err != nil {
		if _, ferr := s.repo.MarkFailed(ctx, s.db, id, s.clock.Now()); ferr != nil {
			s.log.Error("could not mark transaction failed",
				zap.Int64("transaction_id", id),
				zap.Error(ferr),
			)
		}
		if s.metrics != nil {
			s.metrics.RecordTransition(domain.StatusPending, domain.StatusFailed)
		}
		s.log.Warn("bill creation failed",
			zap.String("location_id", locationID),
			zap.Int64("transaction_id", id),
			zap.Error(err),
		)
		return nil, err
	}

	attached, err := s.repo.AttachBill(ctx, s.db, id, billCode, billCode, datatypes.JSON(rawResponse), s.clock.Now())
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			// The provider handed back a bill code we already track.
			s.log.Warn("duplicate bill code from provider", zap.String("bill_code", billCode))
			return nil, domain.ErrInvalidRequest
		}
		return nil, err
	}
	if !attached {
		// The row left pending under us, which only a concurrent writer
		// can cause. Surface the stored state instead of guessing.
		current, err := s.repo.FindByID(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, domain.ErrNotFound
		}
		return &domain.CreateResponse{
			TransactionID: current.ID,
			BillCode:      current.BillCode,
			PaymentURL:    s.gateway.BillURL(creds.Mode, current.BillCode),
			Status:        current.Status,
		}, nil
	}

	if s.metrics != nil {
		s.metrics.RecordTransition(domain.StatusPending, domain.StatusProcessing)
	}
	s.log.Info("transaction created",
		zap.String("location_id", locationID),
		zap.String("bill_code", billCode),
		zap.Int64("amount", req.AmountCents),
	)

	return &domain.CreateResponse{
		TransactionID: id,
		BillCode:      billCode,
		PaymentURL:    s.gateway.BillURL(creds.Mode, billCode),
		Status:        domain.StatusProcessing,
	}, nil
}

func (s *Service) GetByBillCode(ctx context.Context, billCode string) (*domain.Transaction, error) {
	billCode = strings.TrimSpace(billCode)
	if billCode == "" {
		return nil, domain.ErrInvalidRequest
	}

	tx, err := s.repo.FindByBillCode(ctx, s.db, billCode)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, domain.ErrNotFound
	}
	return tx, nil
}

func (s *Service) ListByLocation(ctx context.Context, locationID string, limit int) ([]*domain.Transaction, error) {
	locationID = strings.TrimSpace(locationID)
	if locationID == "" {
		return nil, domain.ErrInvalidRequest
	}
	return s.repo.ListByLocation(ctx, s.db, locationID, limit)
}

func (s *Service) ApplyProviderStatus(ctx context.Context, billCode, providerStatus string, rawPayload []byte) (*domain.StatusChange, error) {
	tx, err := s.GetByBillCode(ctx, billCode)
	if err != nil {
		return nil, err
	}

	if len(rawPayload) > 0 {
		merged, receivedAt := s.appendCallback(tx, rawPayload)
		if err := s.repo.RecordCallback(ctx, s.db, tx.ID, merged, receivedAt); err != nil {
			return nil, err
		}
		tx.RawCallbackPayload = merged
		tx.ProviderCallbackReceivedAt = &receivedAt
	}

	target := domain.MapProviderStatus(strings.TrimSpace(providerStatus))

	unchanged := domain.IsTerminal(tx.Status) || tx.Status == target
	if tx.Status == domain.StatusProcessing && target == domain.StatusPending {
		// A pending provider code must not pull a bill back out of
		// processing.
		unchanged = true
	}
	if unchanged {
		if s.metrics != nil {
			s.metrics.RecordCallback("duplicate")
		}
		return &domain.StatusChange{Transaction: tx, PreviousStatus: tx.Status, Changed: false}, nil
	}

	previous := tx.Status
	updated, err := s.repo.UpdateStatusIf(ctx, s.db, tx.BillCode, previous, target, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if !updated {
		// Lost the race. Report whatever the winner wrote.
		current, err := s.repo.FindByBillCode(ctx, s.db, tx.BillCode)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, domain.ErrNotFound
		}
		if s.metrics != nil {
			s.metrics.RecordCallback("duplicate")
		}
		return &domain.StatusChange{Transaction: current, PreviousStatus: previous, Changed: false}, nil
	}

	tx.Status = target
	if s.metrics != nil {
		s.metrics.RecordCallback("applied")
		s.metrics.RecordTransition(previous, target)
	}

	s.log.Info("transaction status applied",
		zap.String("bill_code", tx.BillCode),
		zap.String("from", previous),
		zap.String("to", target),
	)

	return &domain.StatusChange{Transaction: tx, PreviousStatus: previous, Changed: true}, nil
}

// appendCallback merges a raw callback into the stored audit array so
// duplicate and conflicting deliveries stay on record.
func (s *Service) appendCallback(tx *domain.Transaction, rawPayload []byte) (datatypes.JSON, time.Time) {
	var history []json.RawMessage
	if len(tx.RawCallbackPayload) > 0 {
		_ = json.Unmarshal(tx.RawCallbackPayload, &history)
	}
	if !json.Valid(rawPayload) {
		rawPayload, _ = json.Marshal(string(rawPayload))
	}
	history = append(history, json.RawMessage(rawPayload))
	merged, err := json.Marshal(history)
	if err != nil {
		merged = tx.RawCallbackPayload
	}
	return datatypes.JSON(merged), s.clock.Now()
}

func (s *Service) RefreshStatus(ctx context.Context, billCode string) (*domain.StatusChange, error) {
	tx, err := s.GetByBillCode(ctx, billCode)
	if err != nil {
		return nil, err
	}
	if domain.IsTerminal(tx.Status) {
		s.deliverOutstanding(ctx, tx)
		return &domain.StatusChange{Transaction: tx, PreviousStatus: tx.Status, Changed: false}, nil
	}

	creds, err := s.integrationSvc.GetProviderCredentials(ctx, tx.LocationID)
	if err != nil {
		return nil, err
	}

	raw, _, err := s.gateway.GetBillStatus(ctx, toyyibpay.Credentials{
		SecretKey:    creds.SecretKey,
		CategoryCode: creds.CategoryCode,
		Mode:         creds.Mode,
	}, tx.BillCode)
	if err != nil {
		return nil, err
	}

	change, err := s.ApplyProviderStatus(ctx, tx.BillCode, raw, nil)
	if err != nil {
		return nil, err
	}
	s.deliverOutstanding(ctx, change.Transaction)
	return change, nil
}

// deliverOutstanding sends the upstream notification for a terminal
// transaction that has not been delivered yet. Delivery failures are
// logged and retried on the next refresh.
func (s *Service) deliverOutstanding(ctx context.Context, tx *domain.Transaction) {
	if tx == nil || !domain.IsTerminal(tx.Status) || tx.NotifiedAt != nil {
		return
	}
	if err := s.NotifyUpstream(ctx, tx); err != nil {
		s.log.Warn("upstream notification failed during refresh",
			zap.String("bill_code", tx.BillCode),
			zap.Error(err),
		)
	}
}

// NotifyUpstream claims the notified_at stamp before sending so
// concurrent deliveries for one transaction collapse to a single send.
// A failed send releases the claim for the next attempt.
func (s *Service) NotifyUpstream(ctx context.Context, tx *domain.Transaction) error {
	if tx == nil {
		return domain.ErrInvalidRequest
	}
	if tx.NotifiedAt != nil {
		return nil
	}

	install, err := s.integrationSvc.Get(ctx, tx.LocationID)
	if err != nil {
		return err
	}

	claimedAt := s.clock.Now()
	claimed, err := s.repo.MarkNotified(ctx, s.db, tx.ID, claimedAt)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	var metadata map[string]any
	if len(tx.Metadata) > 0 {
		_ = json.Unmarshal(tx.Metadata, &metadata)
	}

	status := domain.UpstreamStatus(tx.Status)
	event := ghl.PaymentStatusEvent{
		Event:            status,
		ChargeID:         tx.BillCode,
		GHLTransactionID: tx.GHLTransactionID,
		ChargeSnapshot: ghl.ChargeSnapshot{
			Amount:                float64(tx.Amount) / 100,
			Currency:              tx.Currency,
			Status:                status,
			PaymentMethod:         "toyyibpay",
			ProviderTransactionID: tx.BillCode,
			Metadata:              metadata,
		},
		LocationID: tx.LocationID,
		APIKey:     install.APIKey,
	}

	if err := s.notifier.SendPaymentStatusEvent(ctx, event); err != nil {
		if cerr := s.repo.ClearNotified(ctx, s.db, tx.ID, s.clock.Now()); cerr != nil {
			s.log.Error("could not release notification claim",
				zap.String("bill_code", tx.BillCode),
				zap.Error(cerr),
			)
		}
		if s.metrics != nil {
			s.metrics.RecordNotification("failed")
		}
		s.log.Warn("upstream notification failed",
			zap.String("bill_code", tx.BillCode),
			zap.Error(err),
		)
		return err
	}

	tx.NotifiedAt = &claimedAt
	if s.metrics != nil {
		s.metrics.RecordNotification("delivered")
	}
	return nil
}
