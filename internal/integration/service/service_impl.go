package service

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/karipay/toyyibpay-bridge/internal/clock"
	"github.com/karipay/toyyibpay-bridge/internal/config"
	"github.com/karipay/toyyibpay-bridge/internal/integration/domain"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
	Cfg   config.Config
	Clock clock.Clock
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	repo   domain.Repository
	genID  *snowflake.Node
	clock  clock.Clock
	encKey []byte
}

type encryptedPayload struct {
	Version    int    `json:"version"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

func New(p Params) domain.Service {
	secret := strings.TrimSpace(p.Cfg.CredentialSecret)
	var key []byte
	if secret != "" {
		sum := sha256.Sum256([]byte(secret))
		key = sum[:]
	}

	return &Service{
		db:     p.DB,
		log:    p.Log.Named("integration.service"),
		repo:   p.Repo,
		genID:  p.GenID,
		clock:  p.Clock,
		encKey: key,
	}
}

func (s *Service) Install(ctx context.Context, req domain.InstallRequest) (*domain.InstallationView, error) {
	locationID := strings.TrimSpace(req.LocationID)
	if locationID == "" {
		return nil, domain.ErrInvalidLocation
	}

	accessToken, err := s.encryptString(req.AccessToken)
	if err != nil {
		return nil, err
	}
	refreshToken, err := s.encryptString(req.RefreshToken)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var expiresAt *time.Time
	if req.ExpiresIn > 0 {
		t := now.Add(time.Duration(req.ExpiresIn) * time.Second)
		expiresAt = &t
	}

	existing, err := s.repo.FindByLocation(ctx, s.db, locationID)
	if err != nil {
		return nil, err
	}

	integration := domain.Integration{
		ID:             s.genID.Generate().Int64(),
		LocationID:     locationID,
		CompanyID:      strings.TrimSpace(req.CompanyID),
		AccessToken:    accessToken,
		RefreshToken:   refreshToken,
		TokenExpiresAt: expiresAt,
		APIKey:         generateAPIKey(locationID),
		Installed:      true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if existing != nil {
		// The API key survives reinstall so configured GHL integrations
		// keep working.
		integration.ID = existing.ID
		integration.APIKey = existing.APIKey
		integration.CreatedAt = existing.CreatedAt
		if integration.CompanyID == "" {
			integration.CompanyID = existing.CompanyID
		}
	}

	if err := s.repo.Upsert(ctx, s.db, &integration); err != nil {
		return nil, err
	}

	s.log.Info("integration installed",
		zap.String("location_id", locationID),
		zap.Bool("reinstall", existing != nil),
	)

	return installationView(&integration), nil
}

func (s *Service) MarkInstalled(ctx context.Context, locationID string) error {
	locationID = strings.TrimSpace(locationID)
	if locationID == "" {
		return domain.ErrInvalidLocation
	}

	updated, err := s.repo.SetInstalled(ctx, s.db, locationID, true, nil, s.clock.Now())
	if err != nil {
		return err
	}
	if !updated {
		return domain.ErrNotFound
	}
	return nil
}

// Uninstall deactivates the install but keeps the row, its API key, and
// the provider config. A reinstall picks all of them back up.
func (s *Service) Uninstall(ctx context.Context, locationID string) error {
	locationID = strings.TrimSpace(locationID)
	if locationID == "" {
		return domain.ErrInvalidLocation
	}

	now := s.clock.Now()
	updated, err := s.repo.SetInstalled(ctx, s.db, locationID, false, &now, now)
	if err != nil {
		return err
	}
	if !updated {
		return domain.ErrNotFound
	}

	s.log.Info("integration uninstalled", zap.String("location_id", locationID))
	return nil
}

func (s *Service) Get(ctx context.Context, locationID string) (*domain.InstallationView, error) {
	locationID = strings.TrimSpace(locationID)
	if locationID == "" {
		return nil, domain.ErrInvalidLocation
	}

	integration, err := s.repo.FindByLocation(ctx, s.db, locationID)
	if err != nil {
		return nil, err
	}
	if integration == nil {
		return nil, domain.ErrNotFound
	}
	return installationView(integration), nil
}

func (s *Service) GetCredentials(ctx context.Context, locationID string) (*domain.Credentials, error) {
	locationID = strings.TrimSpace(locationID)
	if locationID == "" {
		return nil, domain.ErrInvalidLocation
	}

	integration, err := s.repo.FindByLocation(ctx, s.db, locationID)
	if err != nil {
		return nil, err
	}
	if integration == nil || !integration.Installed {
		return nil, domain.ErrNotFound
	}

	accessToken, err := s.decryptString(integration.AccessToken)
	if err != nil {
		return nil, err
	}
	refreshToken, err := s.decryptString(integration.RefreshToken)
	if err != nil {
		return nil, err
	}

	return &domain.Credentials{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    integration.TokenExpiresAt,
	}, nil
}

func (s *Service) FindByAPIKey(ctx context.Context, apiKey string) (*domain.InstallationView, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, domain.ErrInvalidAPIKey
	}

	integration, err := s.repo.FindByAPIKey(ctx, s.db, apiKey)
	if err != nil {
		return nil, err
	}
	if integration == nil || !integration.Installed {
		return nil, domain.ErrInvalidAPIKey
	}
	return installationView(integration), nil
}

func (s *Service) UpdateTokens(ctx context.Context, locationID string, tokens domain.TokenUpdate) error {
	locationID = strings.TrimSpace(locationID)
	if locationID == "" {
		return domain.ErrInvalidLocation
	}

	accessToken, err := s.encryptString(tokens.AccessToken)
	if err != nil {
		return err
	}
	refreshToken, err := s.encryptString(tokens.RefreshToken)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	var expiresAt *time.Time
	if tokens.ExpiresIn > 0 {
		t := now.Add(time.Duration(tokens.ExpiresIn) * time.Second)
		expiresAt = &t
	}

	updated, err := s.repo.UpdateTokens(ctx, s.db, locationID, accessToken, refreshToken, expiresAt, now)
	if err != nil {
		return err
	}
	if !updated {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Service) SaveProviderConfig(ctx context.Context, locationID string, req domain.ProviderConfigRequest) (*domain.ProviderConfigView, error) {
	locationID = strings.TrimSpace(locationID)
	if locationID == "" {
		return nil, domain.ErrInvalidLocation
	}

	secretKey := strings.TrimSpace(req.SecretKey)
	categoryCode := strings.TrimSpace(req.CategoryCode)
	if secretKey == "" || categoryCode == "" {
		return nil, domain.ErrInvalidConfig
	}

	mode, err := normalizeMode(req.Mode)
	if err != nil {
		return nil, err
	}

	integration, err := s.repo.FindByLocation(ctx, s.db, locationID)
	if err != nil {
		return nil, err
	}
	if integration == nil {
		return nil, domain.ErrNotFound
	}

	encrypted, err := s.encryptString(secretKey)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindConfig(ctx, s.db, locationID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	cfg := domain.ToyyibPayConfig{
		ID:         s.genID.Generate().Int64(),
		LocationID: locationID,
		Mode:       mode,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if existing != nil {
		// Saving one mode's pair leaves the other mode untouched.
		cfg = *existing
		cfg.Mode = mode
		cfg.UpdatedAt = now
	}
	if mode == domain.ModeProduction {
		cfg.ProductionSecretKey = encrypted
		cfg.ProductionCategoryCode = categoryCode
	} else {
		cfg.SandboxSecretKey = encrypted
		cfg.SandboxCategoryCode = categoryCode
	}

	if err := s.repo.UpsertConfig(ctx, s.db, &cfg); err != nil {
		return nil, err
	}

	s.log.Info("provider config saved",
		zap.String("location_id", locationID),
		zap.String("mode", mode),
	)

	return providerConfigView(&cfg), nil
}

func (s *Service) GetProviderConfig(ctx context.Context, locationID string) (*domain.ProviderConfigView, error) {
	locationID = strings.TrimSpace(locationID)
	if locationID == "" {
		return nil, domain.ErrInvalidLocation
	}

	cfg, err := s.repo.FindConfig(ctx, s.db, locationID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, domain.ErrConfigNotFound
	}
	return providerConfigView(cfg), nil
}

func (s *Service) GetProviderCredentials(ctx context.Context, locationID string) (*domain.ProviderCredentials, error) {
	locationID = strings.TrimSpace(locationID)
	if locationID == "" {
		return nil, domain.ErrInvalidLocation
	}

	integration, err := s.repo.FindByLocation(ctx, s.db, locationID)
	if err != nil {
		return nil, err
	}
	if integration == nil || !integration.Installed {
		return nil, domain.ErrNotFound
	}

	cfg, err := s.repo.FindConfig(ctx, s.db, locationID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, domain.ErrConfigNotFound
	}
	if !cfg.ModeConfigured(cfg.Mode) {
		return nil, domain.ErrModeNotConfigured
	}

	encryptedKey, categoryCode := cfg.Pair(cfg.Mode)
	secretKey, err := s.decryptString(encryptedKey)
	if err != nil {
		return nil, err
	}

	return &domain.ProviderCredentials{
		SecretKey:    secretKey,
		CategoryCode: categoryCode,
		Mode:         cfg.Mode,
	}, nil
}

func (s *Service) SetMode(ctx context.Context, locationID string, mode string) (*domain.ProviderConfigView, error) {
	locationID = strings.TrimSpace(locationID)
	if locationID == "" {
		return nil, domain.ErrInvalidLocation
	}

	normalized, err := normalizeMode(mode)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindConfig(ctx, s.db, locationID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, domain.ErrConfigNotFound
	}
	if !existing.ModeConfigured(normalized) {
		// Switching to a mode with no stored pair would break every
		// payment until keys are entered.
		return nil, domain.ErrModeNotConfigured
	}

	updated, err := s.repo.UpdateMode(ctx, s.db, locationID, normalized, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, domain.ErrConfigNotFound
	}

	cfg, err := s.repo.FindConfig(ctx, s.db, locationID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, domain.ErrConfigNotFound
	}
	return providerConfigView(cfg), nil
}

func (s *Service) DeleteProviderConfig(ctx context.Context, locationID string) error {
	locationID = strings.TrimSpace(locationID)
	if locationID == "" {
		return domain.ErrInvalidLocation
	}

	deleted, err := s.repo.DeleteConfig(ctx, s.db, locationID)
	if err != nil {
		return err
	}
	if !deleted {
		return domain.ErrConfigNotFound
	}
	return nil
}

func (s *Service) MarkProviderRegistered(ctx context.Context, locationID string) error {
	locationID = strings.TrimSpace(locationID)
	if locationID == "" {
		return domain.ErrInvalidLocation
	}

	updated, err := s.repo.SetRegistered(ctx, s.db, locationID, true, s.clock.Now())
	if err != nil {
		return err
	}
	if !updated {
		return domain.ErrConfigNotFound
	}
	return nil
}

func (s *Service) encryptString(plain string) (string, error) {
	if len(s.encKey) == 0 {
		return "", domain.ErrEncryptionKeyMissing
	}
	if plain == "" {
		return "", nil
	}

	block, err := aes.NewCipher(s.encKey)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nil, nonce, []byte(plain), nil)
	encoded := encryptedPayload{
		Version:    1,
		Nonce:      base64.RawStdEncoding.EncodeToString(nonce),
		Ciphertext: base64.RawStdEncoding.EncodeToString(ciphertext),
	}
	out, err := json.Marshal(encoded)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (s *Service) decryptString(encrypted string) (string, error) {
	if len(s.encKey) == 0 {
		return "", domain.ErrEncryptionKeyMissing
	}
	if encrypted == "" {
		return "", nil
	}

	var payload encryptedPayload
	if err := json.Unmarshal([]byte(encrypted), &payload); err != nil {
		return "", domain.ErrInvalidConfig
	}
	if payload.Version != 1 {
		return "", domain.ErrInvalidConfig
	}

	nonce, err := base64.RawStdEncoding.DecodeString(payload.Nonce)
	if err != nil {
		return "", domain.ErrInvalidConfig
	}
	ciphertext, err := base64.RawStdEncoding.DecodeString(payload.Ciphertext)
	if err != nil {
		return "", domain.ErrInvalidConfig
	}

	block, err := aes.NewCipher(s.encKey)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", domain.ErrInvalidConfig
	}
	return string(plain), nil
}

// generateAPIKey builds a per-location key of the form
// ghl_toyyibpay_<location prefix>_<random>. Keys are never rotated once issued.
func generateAPIKey(locationID string) string {
	prefix := locationID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}

	random := make([]byte, 16)
	if _, err := rand.Read(random); err != nil {
		// crypto/rand failing means the process has bigger problems.
		panic(err)
	}
	return "ghl_toyyibpay_" + prefix + "_" + hex.EncodeToString(random)
}

func normalizeMode(raw string) (string, error) {
	mode := strings.ToLower(strings.TrimSpace(raw))
	switch mode {
	case "":
		return config.EnvSandbox, nil
	case config.EnvSandbox, config.EnvProduction:
		return mode, nil
	default:
		return "", domain.ErrInvalidMode
	}
}

func installationView(integration *domain.Integration) *domain.InstallationView {
	return &domain.InstallationView{
		LocationID:     integration.LocationID,
		CompanyID:      integration.CompanyID,
		APIKey:         integration.APIKey,
		Installed:      integration.Installed,
		UninstalledAt:  integration.UninstalledAt,
		TokenExpiresAt: integration.TokenExpiresAt,
		CreatedAt:      integration.CreatedAt,
		UpdatedAt:      integration.UpdatedAt,
	}
}

func providerConfigView(cfg *domain.ToyyibPayConfig) *domain.ProviderConfigView {
	_, activeCategory := cfg.Pair(cfg.Mode)
	return &domain.ProviderConfigView{
		LocationID:           cfg.LocationID,
		CategoryCode:         activeCategory,
		Mode:                 cfg.Mode,
		SandboxConfigured:    cfg.ModeConfigured(domain.ModeSandbox),
		ProductionConfigured: cfg.ModeConfigured(domain.ModeProduction),
		RegisteredWithGHL:    cfg.RegisteredWithGHL,
		UpdatedAt:            cfg.UpdatedAt,
	}
}
