package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	ListenAddr  string

	// AppBaseURL is the public URL of this service, used to build the
	// provider return/callback URLs handed to ToyyibPay.
	AppBaseURL string

	// CredentialSecret derives the AES key used to encrypt stored
	// OAuth tokens and ToyyibPay secret keys.
	CredentialSecret string

	LogLevel string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	GHL       GHLConfig
	ToyyibPay ToyyibPayConfig
}

// GHLConfig holds GoHighLevel OAuth and webhook settings.
type GHLConfig struct {
	APIBaseURL     string
	WebhookURL     string
	ClientID       string
	ClientSecret   string
	SSOKey         string
	OAuthRedirect  string
	RequestTimeout time.Duration
	ConnectTimeout time.Duration
}

// ToyyibPayConfig holds the provider API endpoints per environment.
type ToyyibPayConfig struct {
	SandboxURL     string
	ProductionURL  string
	DefaultMode    string
	RequestTimeout time.Duration
	ConnectTimeout time.Duration
}

const (
	EnvSandbox    = "sandbox"
	EnvProduction = "production"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:          getenv("APP_SERVICE", "toyyibpay-bridge"),
		AppVersion:       getenv("APP_VERSION", "0.1.0"),
		Environment:      getenv("ENVIRONMENT", "development"),
		ListenAddr:       getenv("LISTEN_ADDR", ":8080"),
		AppBaseURL:       strings.TrimRight(getenv("APP_BASE_URL", "http://localhost:8080"), "/"),
		CredentialSecret: strings.TrimSpace(getenv("CREDENTIAL_SECRET", "")),
		LogLevel:         getenv("LOG_LEVEL", "info"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "toyyibpay_bridge"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),

		GHL: GHLConfig{
			APIBaseURL:     strings.TrimRight(getenv("GHL_API_BASE_URL", "https://services.leadconnectorhq.com"), "/"),
			WebhookURL:     getenv("GHL_WEBHOOK_URL", "https://backend.leadconnectorhq.com/payments/custom-provider/webhook"),
			ClientID:       strings.TrimSpace(getenv("GHL_CLIENT_ID", "")),
			ClientSecret:   strings.TrimSpace(getenv("GHL_CLIENT_SECRET", "")),
			SSOKey:         strings.TrimSpace(getenv("GHL_SSO_KEY", "")),
			OAuthRedirect:  getenv("GHL_OAUTH_REDIRECT", ""),
			RequestTimeout: getenvDuration("GHL_REQUEST_TIMEOUT", 30*time.Second),
			ConnectTimeout: getenvDuration("GHL_CONNECT_TIMEOUT", 10*time.Second),
		},
		ToyyibPay: ToyyibPayConfig{
			SandboxURL:     strings.TrimRight(getenv("TOYYIBPAY_SANDBOX_URL", "https://dev.toyyibpay.com"), "/"),
			ProductionURL:  strings.TrimRight(getenv("TOYYIBPAY_PRODUCTION_URL", "https://toyyibpay.com"), "/"),
			DefaultMode:    normalizeMode(getenv("TOYYIBPAY_DEFAULT_MODE", EnvSandbox)),
			RequestTimeout: getenvDuration("TOYYIBPAY_REQUEST_TIMEOUT", 60*time.Second),
			ConnectTimeout: getenvDuration("TOYYIBPAY_CONNECT_TIMEOUT", 30*time.Second),
		},
	}

	if cfg.GHL.OAuthRedirect == "" {
		cfg.GHL.OAuthRedirect = cfg.AppBaseURL + "/oauth/callback"
	}

	return cfg
}

// BaseURL returns the ToyyibPay API base URL for an environment.
func (c ToyyibPayConfig) BaseURL(environment string) string {
	if environment == EnvProduction {
		return c.ProductionURL
	}
	return c.SandboxURL
}

func normalizeMode(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case EnvProduction:
		return EnvProduction
	default:
		return EnvSandbox
	}
}

func getenv(key, def string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}

// Module provides the application configuration.
var Module = fx.Module("config",
	fx.Provide(Load),
)
