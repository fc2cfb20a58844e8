package ghl_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/karipay/toyyibpay-bridge/internal/config"
	"github.com/karipay/toyyibpay-bridge/internal/ghl"
)

func newClient(t *testing.T, apiBaseURL, webhookURL string) *ghl.Client {
	t.Helper()

	return ghl.New(ghl.Params{
		Cfg: config.Config{
			GHL: config.GHLConfig{
				APIBaseURL:     apiBaseURL,
				WebhookURL:     webhookURL,
				ClientID:       "client_1",
				ClientSecret:   "secret_1",
				OAuthRedirect:  "https://bridge.example.com/oauth/callback",
				RequestTimeout: 5 * time.Second,
				ConnectTimeout: 2 * time.Second,
			},
		},
		Log: zap.NewNop(),
	})
}

func TestExchangeCode(t *testing.T) {
	var gotForm map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth/token" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		gotForm = map[string]string{}
		for key := range r.PostForm {
			gotForm[key] = r.PostForm.Get(key)
		}
		w.Write([]byte(`{
			"access_token": "at_1",
			"refresh_token": "rt_1",
			"expires_in": 86399,
			"locationId": "loc_1",
			"companyId": "comp_1",
			"userType": "Location"
		}`))
	}))
	defer srv.Close()

	client := newClient(t, srv.URL, srv.URL)
	token, err := client.ExchangeCode(context.Background(), "auth_code_1")
	if err != nil {
		t.Fatalf("exchange code: %v", err)
	}
	if token.AccessToken != "at_1" || token.RefreshToken != "rt_1" {
		t.Fatalf("tokens = %q / %q", token.AccessToken, token.RefreshToken)
	}
	if token.LocationID != "loc_1" || token.CompanyID != "comp_1" {
		t.Fatalf("ids = %q / %q", token.LocationID, token.CompanyID)
	}
	if token.ExpiresIn != 86399 {
		t.Fatalf("expires_in = %d", token.ExpiresIn)
	}

	want := map[string]string{
		"client_id":     "client_1",
		"client_secret": "secret_1",
		"grant_type":    "authorization_code",
		"code":          "auth_code_1",
		"redirect_uri":  "https://bridge.example.com/oauth/callback",
		"user_type":     "Location",
	}
	for key, value := range want {
		if gotForm[key] != value {
			t.Errorf("form[%q] = %q, want %q", key, gotForm[key], value)
		}
	}
}

func TestRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if got := r.PostForm.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q", got)
		}
		if got := r.PostForm.Get("refresh_token"); got != "rt_old" {
			t.Errorf("refresh_token = %q", got)
		}
		w.Write([]byte(`{"access_token":"at_2","refresh_token":"rt_2","expires_in":86399}`))
	}))
	defer srv.Close()

	client := newClient(t, srv.URL, srv.URL)
	token, err := client.RefreshToken(context.Background(), "rt_old")
	if err != nil {
		t.Fatalf("refresh token: %v", err)
	}
	if token.AccessToken != "at_2" {
		t.Fatalf("access token = %q", token.AccessToken)
	}
}

func TestTokenErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name: "unauthorized status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			},
			wantErr: ghl.ErrUnauthorized,
		},
		{
			name: "empty access token",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"access_token":""}`))
			},
			wantErr: ghl.ErrUnauthorized,
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			wantErr: ghl.ErrUnexpectedStatus,
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`KEY-DID-NOT-EXIST`))
			},
			wantErr: ghl.ErrUnexpectedStatus,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			client := newClient(t, srv.URL, srv.URL)
			_, err := client.ExchangeCode(context.Background(), "code")
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestGetInstalledLocations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth/installedLocations" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer at_1" {
			t.Errorf("authorization = %q", got)
		}
		if got := r.Header.Get("Version"); got != "2021-07-28" {
			t.Errorf("version = %q", got)
		}
		if got := r.URL.Query().Get("companyId"); got != "comp_1" {
			t.Errorf("companyId = %q", got)
		}
		w.Write([]byte(`{"locations":[{"_id":"loc_1","name":"HQ"},{"_id":"loc_2","name":"Branch"}]}`))
	}))
	defer srv.Close()

	client := newClient(t, srv.URL, srv.URL)
	locations, err := client.GetInstalledLocations(context.Background(), "at_1", "comp_1", "app_1")
	if err != nil {
		t.Fatalf("installed locations: %v", err)
	}
	if len(locations) != 2 {
		t.Fatalf("locations = %d", len(locations))
	}
	if locations[0].ID != "loc_1" || locations[1].ID != "loc_2" {
		t.Fatalf("location ids = %q / %q", locations[0].ID, locations[1].ID)
	}
}

func TestSendPaymentStatusEvent(t *testing.T) {
	var got ghl.PaymentStatusEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("content type = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	client := newClient(t, srv.URL, srv.URL+"/payments/custom-provider/webhook")
	event := ghl.PaymentStatusEvent{
		Event:    "completed",
		ChargeID: "8x7z1q2w",
		ChargeSnapshot: ghl.ChargeSnapshot{
			Amount:                50.00,
			Currency:              "MYR",
			Status:                "completed",
			PaymentMethod:         "toyyibpay",
			ProviderTransactionID: "8x7z1q2w",
		},
		LocationID: "loc_1",
		APIKey:     "ghl_toyyibpay_loc_1234_abcd",
	}
	if err := client.SendPaymentStatusEvent(context.Background(), event); err != nil {
		t.Fatalf("send event: %v", err)
	}

	if got.Event != "completed" || got.ChargeID != "8x7z1q2w" {
		t.Fatalf("event = %q, charge = %q", got.Event, got.ChargeID)
	}
	if got.ChargeSnapshot.Amount != 50.00 || got.ChargeSnapshot.PaymentMethod != "toyyibpay" {
		t.Fatalf("snapshot = %+v", got.ChargeSnapshot)
	}
	if got.APIKey != "ghl_toyyibpay_loc_1234_abcd" {
		t.Fatalf("api key = %q", got.APIKey)
	}
}

func TestSendPaymentStatusEventFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := newClient(t, srv.URL, srv.URL)
	err := client.SendPaymentStatusEvent(context.Background(), ghl.PaymentStatusEvent{Event: "completed"})
	if !errors.Is(err, ghl.ErrUnexpectedStatus) {
		t.Fatalf("err = %v, want ErrUnexpectedStatus", err)
	}
}

func TestRegisterPaymentProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payments/custom-provider/provider" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("locationId"); got != "loc_1" {
			t.Errorf("locationId = %q", got)
		}
		var reg ghl.ProviderRegistration
		if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if reg.Name != "ToyyibPay" {
			t.Errorf("name = %q", reg.Name)
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := newClient(t, srv.URL, srv.URL)
	err := client.RegisterPaymentProvider(context.Background(), "at_1", "loc_1", ghl.ProviderRegistration{
		Name:        "ToyyibPay",
		Description: "FPX payments via ToyyibPay",
		PaymentsURL: "https://bridge.example.com/payment",
		QueryURL:    "https://bridge.example.com/api/ghl/query",
	})
	if err != nil {
		t.Fatalf("register provider: %v", err)
	}
}
