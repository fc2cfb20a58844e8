package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/karipay/toyyibpay-bridge/internal/clock"
	"github.com/karipay/toyyibpay-bridge/internal/config"
	"github.com/karipay/toyyibpay-bridge/internal/ghl"
	integrationdomain "github.com/karipay/toyyibpay-bridge/internal/integration/domain"
	integrationrepo "github.com/karipay/toyyibpay-bridge/internal/integration/repository"
	integrationservice "github.com/karipay/toyyibpay-bridge/internal/integration/service"
	"github.com/karipay/toyyibpay-bridge/internal/toyyibpay"
	"github.com/karipay/toyyibpay-bridge/internal/transaction/domain"
	transactionrepo "github.com/karipay/toyyibpay-bridge/internal/transaction/repository"
	transactionservice "github.com/karipay/toyyibpay-bridge/internal/transaction/service"
)

type fakeGateway struct {
	billCode   string
	rawStatus  string
	createErr  error
	statusErr  error
	createdReq toyyibpay.CreateBillRequest
	onCreate   func()
}

func (f *fakeGateway) CreateBill(ctx context.Context, creds toyyibpay.Credentials, req toyyibpay.CreateBillRequest) (string, []byte, error) {
	f.createdReq = req
	if f.onCreate != nil {
		f.onCreate()
	}
	if f.createErr != nil {
		return "", nil, f.createErr
	}
	return f.billCode, []byte(`[{"BillCode":"` + f.billCode + `"}]`), nil
}

func (f *fakeGateway) GetBillStatus(ctx context.Context, creds toyyibpay.Credentials, billCode string) (string, *toyyibpay.BillTransaction, error) {
	if f.statusErr != nil {
		return "", nil, f.statusErr
	}
	return f.rawStatus, nil, nil
}

func (f *fakeGateway) BillURL(mode, billCode string) string {
	return "https://dev.toyyibpay.com/" + billCode
}

type fakeNotifier struct {
	mu      sync.Mutex
	events  []ghl.PaymentStatusEvent
	sendErr error
}

func (f *fakeNotifier) SendPaymentStatusEvent(ctx context.Context, event ghl.PaymentStatusEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeNotifier) sent() []ghl.PaymentStatusEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ghl.PaymentStatusEvent(nil), f.events...)
}

type fixture struct {
	db             *gorm.DB
	svc            domain.Service
	integrationSvc integrationdomain.Service
	gateway        *fakeGateway
	notifier       *fakeNotifier
	clock          *clock.FakeClock
	locationID     string
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(7)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	fakeClock := clock.NewFakeClock(time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))
	cfg := config.Config{
		AppBaseURL:       "https://bridge.example.com",
		CredentialSecret: "test_secret",
	}

	integrationSvc := integrationservice.New(integrationservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  integrationrepo.Provide(),
		Cfg:   cfg,
		Clock: fakeClock,
	})

	gateway := &fakeGateway{billCode: "8x7z1q2w", rawStatus: domain.ProviderStatusPending}
	notifier := &fakeNotifier{}

	svc := transactionservice.New(transactionservice.Params{
		DB:             db,
		Log:            zap.NewNop(),
		GenID:          node,
		Repo:           transactionrepo.Provide(),
		Cfg:            cfg,
		Clock:          fakeClock,
		Gateway:        gateway,
		Notifier:       notifier,
		IntegrationSvc: integrationSvc,
	})

	ctx := context.Background()
	locationID := "loc_abc12345xyz"
	if _, err := integrationSvc.Install(ctx, integrationdomain.InstallRequest{
		LocationID:   locationID,
		CompanyID:    "comp_1",
		AccessToken:  "at_token",
		RefreshToken: "rt_token",
		ExpiresIn:    86400,
	}); err != nil {
		t.Fatalf("install: %v", err)
	}
	if _, err := integrationSvc.SaveProviderConfig(ctx, locationID, integrationdomain.ProviderConfigRequest{
		SecretKey:    "tp_secret",
		CategoryCode: "cat123",
		Mode:         "sandbox",
	}); err != nil {
		t.Fatalf("save provider config: %v", err)
	}

	return &fixture{
		db:             db,
		svc:            svc,
		integrationSvc: integrationSvc,
		gateway:        gateway,
		notifier:       notifier,
		clock:          fakeClock,
		locationID:     locationID,
	}
}

func (f *fixture) createTransaction(t *testing.T) *domain.CreateResponse {
	t.Helper()

	resp, err := f.svc.Create(context.Background(), domain.CreateRequest{
		LocationID:       f.locationID,
		GHLOrderID:       "ord_1001",
		GHLTransactionID: "ghl_tx_1",
		AmountCents:      5000,
		Currency:         "MYR",
		Description:      "Order #1001",
		CustomerName:     "Aisyah",
		CustomerEmail:    "aisyah@example.com",
		CustomerPhone:    "0123456789",
		Metadata:         map[string]any{"order_id": "1001"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return resp
}

func TestCreateTransaction(t *testing.T) {
	f := setupFixture(t)

	resp := f.createTransaction(t)

	if resp.BillCode != "8x7z1q2w" {
		t.Fatalf("bill code = %q, want 8x7z1q2w", resp.BillCode)
	}
	if resp.Status != domain.StatusProcessing {
		t.Fatalf("status = %q, want processing", resp.Status)
	}
	if resp.PaymentURL != "https://dev.toyyibpay.com/8x7z1q2w" {
		t.Fatalf("payment url = %q", resp.PaymentURL)
	}
	if f.gateway.createdReq.AmountCents != 5000 {
		t.Fatalf("gateway amount = %d, want 5000", f.gateway.createdReq.AmountCents)
	}

	tx, err := f.svc.GetByBillCode(context.Background(), "8x7z1q2w")
	if err != nil {
		t.Fatalf("get by bill code: %v", err)
	}
	if tx.Amount != 5000 || tx.Currency != "MYR" || tx.Status != domain.StatusProcessing {
		t.Fatalf("unexpected transaction: %+v", tx)
	}
	if tx.GHLOrderID != "ord_1001" || tx.Environment != "sandbox" {
		t.Fatalf("audit identity missing: %+v", tx)
	}
	if len(tx.RawRequestPayload) == 0 || len(tx.RawResponsePayload) == 0 {
		t.Fatal("raw request or response payload not stored")
	}
}

func TestCreateWritesPendingRowBeforeGateway(t *testing.T) {
	f := setupFixture(t)

	var pendingSeen int64
	f.gateway.onCreate = func() {
		var count int64
		if err := f.db.Raw(
			`SELECT COUNT(*) FROM transactions WHERE status = 'pending' AND bill_code = ''`,
		).Scan(&count).Error; err != nil {
			t.Errorf("count pending: %v", err)
		}
		pendingSeen = count
	}

	f.createTransaction(t)

	if pendingSeen != 1 {
		t.Fatalf("pending rows visible during bill creation = %d, want 1", pendingSeen)
	}
}

func TestCreateBillFailureMarksTransactionFailed(t *testing.T) {
	f := setupFixture(t)
	f.gateway.createErr = toyyibpay.ErrRequestFailed

	_, err := f.svc.Create(context.Background(), domain.CreateRequest{
		LocationID:  f.locationID,
		AmountCents: 2500,
	})
	if !errors.Is(err, toyyibpay.ErrRequestFailed) {
		t.Fatalf("err = %v, want ErrRequestFailed", err)
	}

	var row struct {
		Status   string
		BillCode string
	}
	if err := f.db.Raw(
		`SELECT status, bill_code FROM transactions WHERE location_id = ?`, f.locationID,
	).Scan(&row).Error; err != nil {
		t.Fatalf("select: %v", err)
	}
	if row.Status != domain.StatusFailed {
		t.Fatalf("status = %q, want failed", row.Status)
	}
	if row.BillCode != "" {
		t.Fatalf("bill_code = %q, want empty", row.BillCode)
	}
}

func TestCreateTransactionValidation(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	// A second install with no provider config.
	if _, err := f.integrationSvc.Install(ctx, integrationdomain.InstallRequest{
		LocationID:  "loc_noconfig",
		AccessToken: "at",
	}); err != nil {
		t.Fatalf("install: %v", err)
	}

	tests := []struct {
		name    string
		req     domain.CreateRequest
		wantErr error
	}{
		{
			name:    "missing location",
			req:     domain.CreateRequest{AmountCents: 100},
			wantErr: domain.ErrInvalidRequest,
		},
		{
			name:    "zero amount",
			req:     domain.CreateRequest{LocationID: f.locationID},
			wantErr: domain.ErrInvalidRequest,
		},
		{
			name:    "negative amount",
			req:     domain.CreateRequest{LocationID: f.locationID, AmountCents: -500},
			wantErr: domain.ErrInvalidRequest,
		},
		{
			name:    "unsupported currency",
			req:     domain.CreateRequest{LocationID: f.locationID, AmountCents: 100, Currency: "USD"},
			wantErr: domain.ErrInvalidCurrency,
		},
		{
			name:    "unknown location",
			req:     domain.CreateRequest{LocationID: "loc_never_installed", AmountCents: 100},
			wantErr: integrationdomain.ErrNotFound,
		},
		{
			name:    "no provider config",
			req:     domain.CreateRequest{LocationID: "loc_noconfig", AmountCents: 100},
			wantErr: integrationdomain.ErrConfigNotFound,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.Create(ctx, tc.req); !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestCreateBlockedAfterUninstall(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	if err := f.integrationSvc.Uninstall(ctx, f.locationID); err != nil {
		t.Fatalf("uninstall: %v", err)
	}

	_, err := f.svc.Create(ctx, domain.CreateRequest{
		LocationID:  f.locationID,
		AmountCents: 100,
	})
	if !errors.Is(err, integrationdomain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestApplyProviderStatusTransitions(t *testing.T) {
	tests := []struct {
		name       string
		code       string
		wantStatus string
		wantChange bool
	}{
		{"success code", "1", domain.StatusCompleted, true},
		{"pending code keeps processing", "2", domain.StatusProcessing, false},
		{"failed code", "3", domain.StatusFailed, true},
		{"unknown code maps to failed", "9", domain.StatusFailed, true},
		{"empty code maps to failed", "", domain.StatusFailed, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := setupFixture(t)
			f.createTransaction(t)

			change, err := f.svc.ApplyProviderStatus(context.Background(), "8x7z1q2w", tc.code, nil)
			if err != nil {
				t.Fatalf("apply: %v", err)
			}
			if change.Transaction.Status != tc.wantStatus {
				t.Fatalf("status = %q, want %q", change.Transaction.Status, tc.wantStatus)
			}
			if change.Changed != tc.wantChange {
				t.Fatalf("changed = %v, want %v", change.Changed, tc.wantChange)
			}
		})
	}
}

func TestCallbackPayloadsAccumulate(t *testing.T) {
	f := setupFixture(t)
	f.createTransaction(t)
	ctx := context.Background()

	first := []byte(`{"billcode":"8x7z1q2w","status":"2"}`)
	second := []byte(`{"billcode":"8x7z1q2w","status":"1"}`)

	if _, err := f.svc.ApplyProviderStatus(ctx, "8x7z1q2w", "2", first); err != nil {
		t.Fatalf("apply first: %v", err)
	}
	if _, err := f.svc.ApplyProviderStatus(ctx, "8x7z1q2w", "1", second); err != nil {
		t.Fatalf("apply second: %v", err)
	}

	tx, err := f.svc.GetByBillCode(ctx, "8x7z1q2w")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if tx.ProviderCallbackReceivedAt == nil {
		t.Fatal("callback receipt time not stamped")
	}

	var history []json.RawMessage
	if err := json.Unmarshal(tx.RawCallbackPayload, &history); err != nil {
		t.Fatalf("unmarshal callback history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("callback history length = %d, want 2", len(history))
	}
}

func TestTerminalStatusNeverRegresses(t *testing.T) {
	f := setupFixture(t)
	f.createTransaction(t)
	ctx := context.Background()

	if _, err := f.svc.ApplyProviderStatus(ctx, "8x7z1q2w", "1", nil); err != nil {
		t.Fatalf("apply success: %v", err)
	}

	for _, code := range []string{"3", "2", "1", "9"} {
		change, err := f.svc.ApplyProviderStatus(ctx, "8x7z1q2w", code, nil)
		if err != nil {
			t.Fatalf("apply %q: %v", code, err)
		}
		if change.Changed {
			t.Fatalf("terminal status changed on code %q", code)
		}
		if change.Transaction.Status != domain.StatusCompleted {
			t.Fatalf("status = %q after code %q, want completed", change.Transaction.Status, code)
		}
	}
}

func TestApplyProviderStatusUnknownBill(t *testing.T) {
	f := setupFixture(t)

	if _, err := f.svc.ApplyProviderStatus(context.Background(), "missing", "1", nil); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestNotifyUpstream(t *testing.T) {
	f := setupFixture(t)
	f.createTransaction(t)
	ctx := context.Background()

	change, err := f.svc.ApplyProviderStatus(ctx, "8x7z1q2w", "1", nil)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	if err := f.svc.NotifyUpstream(ctx, change.Transaction); err != nil {
		t.Fatalf("notify: %v", err)
	}

	events := f.notifier.sent()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	event := events[0]
	if event.Event != "completed" {
		t.Fatalf("event = %q, want completed", event.Event)
	}
	if event.ChargeID != "8x7z1q2w" {
		t.Fatalf("charge id = %q", event.ChargeID)
	}
	if event.ChargeSnapshot.Amount != 50.00 {
		t.Fatalf("snapshot amount = %v, want 50.00", event.ChargeSnapshot.Amount)
	}
	if event.ChargeSnapshot.PaymentMethod != "toyyibpay" {
		t.Fatalf("payment method = %q", event.ChargeSnapshot.PaymentMethod)
	}
	if event.APIKey == "" || event.LocationID != f.locationID {
		t.Fatalf("missing install identity: %+v", event)
	}

	tx, err := f.svc.GetByBillCode(ctx, "8x7z1q2w")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if tx.NotifiedAt == nil {
		t.Fatal("notified_at not stamped")
	}
}

func TestNotifyUpstreamFailureReleasesClaim(t *testing.T) {
	f := setupFixture(t)
	f.createTransaction(t)
	ctx := context.Background()

	change, err := f.svc.ApplyProviderStatus(ctx, "8x7z1q2w", "1", nil)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	f.notifier.sendErr = errors.New("upstream down")
	if err := f.svc.NotifyUpstream(ctx, change.Transaction); err == nil {
		t.Fatal("expected notify error")
	}

	tx, err := f.svc.GetByBillCode(ctx, "8x7z1q2w")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if tx.NotifiedAt != nil {
		t.Fatal("claim not released after failed send")
	}

	// Retry succeeds and stamps exactly once.
	f.notifier.sendErr = nil
	if err := f.svc.NotifyUpstream(ctx, tx); err != nil {
		t.Fatalf("retry notify: %v", err)
	}
	if err := f.svc.NotifyUpstream(ctx, tx); err != nil {
		t.Fatalf("duplicate notify: %v", err)
	}

	if got := len(f.notifier.sent()); got != 1 {
		t.Fatalf("events = %d, want 1", got)
	}
	final, err := f.svc.GetByBillCode(ctx, "8x7z1q2w")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.NotifiedAt == nil {
		t.Fatal("notified_at not stamped after retry")
	}
}

func TestConcurrentNotifySendsOnce(t *testing.T) {
	f := setupFixture(t)
	f.createTransaction(t)
	ctx := context.Background()

	sqlDB, err := f.db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	change, err := f.svc.ApplyProviderStatus(ctx, "8x7z1q2w", "1", nil)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Each caller starts from a stale row that thinks no
			// notification has gone out yet.
			stale := *change.Transaction
			stale.NotifiedAt = nil
			if err := f.svc.NotifyUpstream(ctx, &stale); err != nil {
				t.Errorf("notify: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := len(f.notifier.sent()); got != 1 {
		t.Fatalf("events = %d, want exactly 1", got)
	}
}

func TestRefreshStatusNotifiesOnCompletion(t *testing.T) {
	f := setupFixture(t)
	f.createTransaction(t)
	ctx := context.Background()

	f.gateway.rawStatus = "1"
	change, err := f.svc.RefreshStatus(ctx, "8x7z1q2w")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !change.Changed || change.Transaction.Status != domain.StatusCompleted {
		t.Fatalf("unexpected change: %+v", change)
	}
	if got := len(f.notifier.sent()); got != 1 {
		t.Fatalf("events after refresh = %d, want 1", got)
	}

	// Terminal transactions skip the provider round trip.
	f.gateway.statusErr = errors.New("should not be called")
	change, err = f.svc.RefreshStatus(ctx, "8x7z1q2w")
	if err != nil {
		t.Fatalf("refresh terminal: %v", err)
	}
	if change.Changed {
		t.Fatal("terminal refresh reported change")
	}
	if got := len(f.notifier.sent()); got != 1 {
		t.Fatalf("events after terminal refresh = %d, want 1", got)
	}
}

func TestRefreshStatusRetriesUnsentNotification(t *testing.T) {
	f := setupFixture(t)
	f.createTransaction(t)
	ctx := context.Background()

	f.gateway.rawStatus = "1"
	f.notifier.sendErr = errors.New("upstream down")
	change, err := f.svc.RefreshStatus(ctx, "8x7z1q2w")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !change.Changed {
		t.Fatal("refresh did not apply the terminal status")
	}
	if got := len(f.notifier.sent()); got != 0 {
		t.Fatalf("events = %d, want 0 while upstream is down", got)
	}

	// The next poll finds the terminal row undelivered and retries.
	f.notifier.sendErr = nil
	if _, err := f.svc.RefreshStatus(ctx, "8x7z1q2w"); err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if got := len(f.notifier.sent()); got != 1 {
		t.Fatalf("events = %d, want 1 after retry", got)
	}

	tx, err := f.svc.GetByBillCode(ctx, "8x7z1q2w")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if tx.NotifiedAt == nil {
		t.Fatal("notified_at not stamped after retry")
	}
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_txsvc_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := []string{
		`CREATE TABLE integrations (
			id BIGINT PRIMARY KEY,
			location_id TEXT NOT NULL UNIQUE,
			company_id TEXT NOT NULL DEFAULT '',
			access_token TEXT NOT NULL DEFAULT '',
			refresh_token TEXT NOT NULL DEFAULT '',
			token_expires_at DATETIME,
			api_key TEXT NOT NULL UNIQUE,
			installed BOOLEAN NOT NULL DEFAULT FALSE,
			uninstalled_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE toyyibpay_configs (
			id BIGINT PRIMARY KEY,
			location_id TEXT NOT NULL UNIQUE,
			sandbox_secret_key TEXT NOT NULL DEFAULT '',
			sandbox_category_code TEXT NOT NULL DEFAULT '',
			production_secret_key TEXT NOT NULL DEFAULT '',
			production_category_code TEXT NOT NULL DEFAULT '',
			mode TEXT NOT NULL DEFAULT 'sandbox',
			registered_with_ghl BOOLEAN NOT NULL DEFAULT FALSE,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE transactions (
			id BIGINT PRIMARY KEY,
			location_id TEXT NOT NULL,
			ghl_order_id TEXT NOT NULL DEFAULT '',
			ghl_transaction_id TEXT NOT NULL DEFAULT '',
			bill_code TEXT NOT NULL DEFAULT '',
			toyyibpay_bill_id TEXT NOT NULL DEFAULT '',
			amount BIGINT NOT NULL,
			currency TEXT NOT NULL DEFAULT 'MYR',
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			environment TEXT NOT NULL DEFAULT 'sandbox',
			customer_name TEXT NOT NULL DEFAULT '',
			customer_email TEXT NOT NULL DEFAULT '',
			customer_phone TEXT NOT NULL DEFAULT '',
			metadata TEXT,
			raw_request_payload TEXT,
			raw_response_payload TEXT,
			raw_callback_payload TEXT,
			provider_callback_received_at DATETIME,
			notified_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX uq_transactions_bill_code ON transactions (bill_code) WHERE bill_code <> ''`,
	}

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}

	return db
}
