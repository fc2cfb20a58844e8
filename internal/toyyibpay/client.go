package toyyibpay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/karipay/toyyibpay-bridge/internal/config"
	"github.com/karipay/toyyibpay-bridge/internal/metrics"
)

var (
	ErrConfigIncomplete   = errors.New("toyyibpay_config_incomplete")
	ErrRequestFailed      = errors.New("toyyibpay_request_failed")
	ErrUnexpectedResponse = errors.New("toyyibpay_unexpected_response")
)

// Credentials identifies a merchant account on ToyyibPay.
type Credentials struct {
	SecretKey    string
	CategoryCode string
	Mode         string
}

// CreateBillRequest describes one bill to create. AmountCents is in sen.
type CreateBillRequest struct {
	Name              string
	Description       string
	AmountCents       int64
	ExternalReference string
	ReturnURL         string
	CallbackURL       string
	CustomerName      string
	CustomerEmail     string
	CustomerPhone     string
}

// BillTransaction is one settlement row from getBillTransactions.
type BillTransaction struct {
	BillName             string `json:"billName"`
	BillPaymentStatus    string `json:"billpaymentStatus"`
	BillPaymentAmount    string `json:"billpaymentAmount"`
	BillPaymentInvoiceNo string `json:"billpaymentInvoiceNo"`
	BillPaymentDate      string `json:"billPaymentDate"`
	ExternalReference    string `json:"billExternalReferenceNo"`
}

type Params struct {
	fx.In

	Cfg     config.Config
	Log     *zap.Logger
	Metrics *metrics.Metrics `optional:"true"`
}

// Client talks to the ToyyibPay HTTP API. Endpoints are chosen per call
// from the credential mode so one process serves sandbox and production
// tenants at the same time.
type Client struct {
	cfg     config.ToyyibPayConfig
	log     *zap.Logger
	metrics *metrics.Metrics
	client  *http.Client
}

func New(p Params) *Client {
	return &Client{
		cfg:     p.Cfg.ToyyibPay,
		log:     p.Log.Named("toyyibpay.client"),
		metrics: p.Metrics,
		client: &http.Client{
			Timeout: p.Cfg.ToyyibPay.RequestTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: p.Cfg.ToyyibPay.ConnectTimeout,
				}).DialContext,
			},
		},
	}
}

// CreateBill registers a bill and returns its bill code together with
// the provider's raw response body so callers can keep it for audit.
func (c *Client) CreateBill(ctx context.Context, creds Credentials, req CreateBillRequest) (string, []byte, error) {
	if strings.TrimSpace(creds.SecretKey) == "" || strings.TrimSpace(creds.CategoryCode) == "" {
		return "", nil, ErrConfigIncomplete
	}
	if req.AmountCents <= 0 {
		return "", nil, fmt.Errorf("%w: non-positive amount", ErrUnexpectedResponse)
	}

	phone := strings.TrimSpace(req.CustomerPhone)
	if phone == "" {
		phone = "0000000000"
	}

	values := url.Values{}
	values.Set("userSecretKey", creds.SecretKey)
	values.Set("categoryCode", creds.CategoryCode)
	values.Set("billName", truncate(req.Name, 30))
	values.Set("billDescription", truncate(req.Description, 100))
	values.Set("billPriceSetting", "1")
	values.Set("billPayorInfo", "1")
	values.Set("billAmount", formatAmount(req.AmountCents))
	values.Set("billReturnUrl", req.ReturnURL)
	values.Set("billCallbackUrl", req.CallbackURL)
	values.Set("billExternalReferenceNo", req.ExternalReference)
	values.Set("billTo", req.CustomerName)
	values.Set("billEmail", req.CustomerEmail)
	values.Set("billPhone", phone)
	values.Set("billSplitPayment", "0")
	values.Set("billSplitPaymentArgs", "")
	values.Set("billPaymentChannel", "0")
	values.Set("billChargeToCustomer", "1")

	body, err := c.postForm(ctx, creds.Mode, "/index.php/api/createBill", values, "create_bill")
	if err != nil {
		return "", nil, err
	}

	var out []struct {
		BillCode string `json:"BillCode"`
	}
	if err := json.Unmarshal(body, &out); err != nil || len(out) == 0 || strings.TrimSpace(out[0].BillCode) == "" {
		c.log.Warn("createBill returned no bill code", zap.ByteString("body", snippet(body)))
		return "", body, ErrUnexpectedResponse
	}

	if c.metrics != nil {
		c.metrics.RecordBillCreated(creds.Mode)
	}
	return out[0].BillCode, body, nil
}

// GetBillStatus looks up the latest settled transaction for a bill and
// returns the provider's raw status code.
func (c *Client) GetBillStatus(ctx context.Context, creds Credentials, billCode string) (string, *BillTransaction, error) {
	billCode = strings.TrimSpace(billCode)
	if billCode == "" {
		return "", nil, fmt.Errorf("%w: empty bill code", ErrUnexpectedResponse)
	}

	values := url.Values{}
	values.Set("billCode", billCode)

	body, err := c.postForm(ctx, creds.Mode, "/index.php/api/getBillTransactions", values, "get_bill_transactions")
	if err != nil {
		return "", nil, err
	}

	var out []BillTransaction
	if err := json.Unmarshal(body, &out); err != nil {
		c.log.Warn("getBillTransactions returned malformed body",
			zap.String("bill_code", billCode),
			zap.ByteString("body", snippet(body)),
		)
		return "", nil, ErrUnexpectedResponse
	}
	if len(out) == 0 {
		// No settlement rows yet means the bill is still pending.
		return "2", nil, nil
	}

	latest := out[len(out)-1]
	return strings.TrimSpace(latest.BillPaymentStatus), &latest, nil
}

// BillURL returns the hosted payment page for a bill.
func (c *Client) BillURL(mode, billCode string) string {
	return c.cfg.BaseURL(mode) + "/" + billCode
}

func (c *Client) postForm(ctx context.Context, mode, path string, values url.Values, operation string) ([]byte, error) {
	endpoint := c.cfg.BaseURL(mode) + path

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := c.client.Do(req)
	if c.metrics != nil {
		c.metrics.ObserveProviderLatency(operation, time.Since(start).Seconds())
	}
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordProviderError(operation)
		}
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordProviderError(operation)
		}
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		if c.metrics != nil {
			c.metrics.RecordProviderError(operation)
		}
		c.log.Warn("toyyibpay request failed",
			zap.String("operation", operation),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", snippet(body)),
		)
		return nil, fmt.Errorf("%w: status %d", ErrRequestFailed, resp.StatusCode)
	}

	return body, nil
}

// formatAmount renders sen as a ringgit string with two decimals.
func formatAmount(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func snippet(body []byte) []byte {
	if len(body) > 512 {
		return body[:512]
	}
	return body
}

var Module = fx.Module("toyyibpay.client",
	fx.Provide(New),
)
