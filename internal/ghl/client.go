package ghl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/karipay/toyyibpay-bridge/internal/config"
)

var (
	ErrUnauthorized     = errors.New("ghl_unauthorized")
	ErrTransport        = errors.New("ghl_transport_error")
	ErrUnexpectedStatus = errors.New("ghl_unexpected_status")
)

const apiVersion = "2021-07-28"

// TokenResponse is the OAuth token payload from the marketplace.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	LocationID   string `json:"locationId"`
	CompanyID    string `json:"companyId"`
	UserType     string `json:"userType"`
}

// InstalledLocation is one location returned by the installedLocations API.
type InstalledLocation struct {
	ID      string `json:"_id"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

// ChargeSnapshot mirrors the transaction state sent with payment events.
type ChargeSnapshot struct {
	Amount                float64        `json:"amount"`
	Currency              string         `json:"currency"`
	Status                string         `json:"status"`
	PaymentMethod         string         `json:"paymentMethod"`
	ProviderTransactionID string         `json:"providerTransactionId"`
	Metadata              map[string]any `json:"metadata,omitempty"`
}

// PaymentStatusEvent is the upstream webhook payload for a settled payment.
type PaymentStatusEvent struct {
	Event            string         `json:"event"`
	ChargeID         string         `json:"chargeId"`
	GHLTransactionID string         `json:"ghlTransactionId,omitempty"`
	ChargeSnapshot   ChargeSnapshot `json:"chargeSnapshot"`
	LocationID       string         `json:"locationId"`
	APIKey           string         `json:"apiKey"`
}

// ProviderRegistration describes this bridge to the marketplace.
type ProviderRegistration struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	PaymentsURL string `json:"paymentsUrl"`
	QueryURL    string `json:"queryUrl"`
	ImageURL    string `json:"imageUrl,omitempty"`
}

// ConnectKeys carries the per-location API keys handed to the marketplace.
type ConnectKeys struct {
	Live KeyPair `json:"live"`
	Test KeyPair `json:"test"`
}

type KeyPair struct {
	APIKey         string `json:"apiKey"`
	PublishableKey string `json:"publishableKey"`
}

type Params struct {
	fx.In

	Cfg config.Config
	Log *zap.Logger
}

// Client talks to the GoHighLevel REST API and webhook endpoint.
type Client struct {
	cfg    config.GHLConfig
	log    *zap.Logger
	client *http.Client
}

func New(p Params) *Client {
	return &Client{
		cfg: p.Cfg.GHL,
		log: p.Log.Named("ghl.client"),
		client: &http.Client{
			Timeout: p.Cfg.GHL.RequestTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: p.Cfg.GHL.ConnectTimeout,
				}).DialContext,
			},
		},
	}
}

// ExchangeCode trades an OAuth authorization code for tokens.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*TokenResponse, error) {
	values := url.Values{}
	values.Set("client_id", c.cfg.ClientID)
	values.Set("client_secret", c.cfg.ClientSecret)
	values.Set("grant_type", "authorization_code")
	values.Set("code", code)
	values.Set("redirect_uri", c.cfg.OAuthRedirect)
	values.Set("user_type", "Location")

	return c.requestToken(ctx, values)
}

// RefreshToken trades a refresh token for a fresh token pair.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	values := url.Values{}
	values.Set("client_id", c.cfg.ClientID)
	values.Set("client_secret", c.cfg.ClientSecret)
	values.Set("grant_type", "refresh_token")
	values.Set("refresh_token", refreshToken)
	values.Set("user_type", "Location")

	return c.requestToken(ctx, values)
}

func (c *Client) requestToken(ctx context.Context, values url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIBaseURL+"/oauth/token", strings.NewReader(values.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var token TokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("%w: malformed token response", ErrUnexpectedStatus)
	}
	if strings.TrimSpace(token.AccessToken) == "" {
		return nil, ErrUnauthorized
	}
	return &token, nil
}

// GetInstalledLocations lists the locations an agency install covers.
func (c *Client) GetInstalledLocations(ctx context.Context, accessToken, companyID, appID string) ([]InstalledLocation, error) {
	endpoint := fmt.Sprintf("%s/oauth/installedLocations?companyId=%s&appId=%s",
		c.cfg.APIBaseURL, url.QueryEscape(companyID), url.QueryEscape(appID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Version", apiVersion)

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var out struct {
		Locations []InstalledLocation `json:"locations"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: malformed locations response", ErrUnexpectedStatus)
	}
	return out.Locations, nil
}

// RegisterPaymentProvider announces the bridge as a custom payment provider
// for a location.
func (c *Client) RegisterPaymentProvider(ctx context.Context, accessToken, locationID string, reg ProviderRegistration) error {
	endpoint := c.cfg.APIBaseURL + "/payments/custom-provider/provider?locationId=" + url.QueryEscape(locationID)
	return c.postJSON(ctx, endpoint, accessToken, reg)
}

// SendConnectKeys hands the per-location API keys to the marketplace so it
// can sign payment requests back to the bridge.
func (c *Client) SendConnectKeys(ctx context.Context, accessToken, locationID string, keys ConnectKeys) error {
	endpoint := c.cfg.APIBaseURL + "/payments/custom-provider/connect?locationId=" + url.QueryEscape(locationID)
	return c.postJSON(ctx, endpoint, accessToken, keys)
}

// SendPaymentStatusEvent delivers a payment outcome to the upstream webhook.
func (c *Client) SendPaymentStatusEvent(ctx context.Context, event PaymentStatusEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	if _, err := c.do(req); err != nil {
		return err
	}

	c.log.Info("payment event delivered",
		zap.String("event", event.Event),
		zap.String("charge_id", event.ChargeID),
		zap.String("location_id", event.LocationID),
	)
	return nil
}

func (c *Client) postJSON(ctx context.Context, endpoint, accessToken string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Version", apiVersion)

	_, err = c.do(req)
	return err
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		c.log.Warn("ghl request failed",
			zap.String("url", req.URL.Path),
			zap.Int("status", resp.StatusCode),
		)
		return nil, fmt.Errorf("%w: status %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return body, nil
}

var Module = fx.Module("ghl.client",
	fx.Provide(New),
)
