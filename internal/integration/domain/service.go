package domain

import (
	"context"
	"errors"
	"time"
)

type Service interface {
	Install(ctx context.Context, req InstallRequest) (*InstallationView, error)
	MarkInstalled(ctx context.Context, locationID string) error
	Uninstall(ctx context.Context, locationID string) error
	Get(ctx context.Context, locationID string) (*InstallationView, error)
	GetCredentials(ctx context.Context, locationID string) (*Credentials, error)
	FindByAPIKey(ctx context.Context, apiKey string) (*InstallationView, error)
	UpdateTokens(ctx context.Context, locationID string, tokens TokenUpdate) error

	SaveProviderConfig(ctx context.Context, locationID string, req ProviderConfigRequest) (*ProviderConfigView, error)
	GetProviderConfig(ctx context.Context, locationID string) (*ProviderConfigView, error)
	GetProviderCredentials(ctx context.Context, locationID string) (*ProviderCredentials, error)
	SetMode(ctx context.Context, locationID string, mode string) (*ProviderConfigView, error)
	DeleteProviderConfig(ctx context.Context, locationID string) error
	MarkProviderRegistered(ctx context.Context, locationID string) error
}

// InstallRequest carries tokens obtained from the OAuth code exchange.
type InstallRequest struct {
	LocationID   string
	CompanyID    string
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

// TokenUpdate carries refreshed tokens for an existing install.
type TokenUpdate struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

// InstallationView is the install record without token material.
type InstallationView struct {
	LocationID     string     `json:"location_id"`
	CompanyID      string     `json:"company_id,omitempty"`
	APIKey         string     `json:"api_key"`
	Installed      bool       `json:"installed"`
	UninstalledAt  *time.Time `json:"uninstalled_at,omitempty"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Credentials is the decrypted token pair for upstream API calls.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

type ProviderConfigRequest struct {
	SecretKey    string `json:"secret_key"`
	CategoryCode string `json:"category_code"`
	Mode         string `json:"mode"`
}

// ProviderConfigView is the provider config without the secret keys.
// CategoryCode is the active mode's category code.
type ProviderConfigView struct {
	LocationID           string    `json:"location_id"`
	CategoryCode         string    `json:"category_code"`
	Mode                 string    `json:"mode"`
	SandboxConfigured    bool      `json:"sandbox_configured"`
	ProductionConfigured bool      `json:"production_configured"`
	RegisteredWithGHL    bool      `json:"registered_with_ghl"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// ProviderCredentials is the decrypted provider config used to call ToyyibPay.
type ProviderCredentials struct {
	SecretKey    string
	CategoryCode string
	Mode         string
}

var (
	ErrInvalidLocation      = errors.New("invalid_location")
	ErrNotFound             = errors.New("integration_not_found")
	ErrConfigNotFound       = errors.New("provider_config_not_found")
	ErrInvalidConfig        = errors.New("invalid_provider_config")
	ErrInvalidMode          = errors.New("invalid_mode")
	ErrModeNotConfigured    = errors.New("mode_not_configured")
	ErrEncryptionKeyMissing = errors.New("encryption_key_missing")
	ErrInvalidAPIKey        = errors.New("invalid_api_key")
)
