package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/karipay/toyyibpay-bridge/internal/integration/domain"
)

const integrationColumns = `id, location_id, company_id, access_token, refresh_token, token_expires_at,
	api_key, installed, uninstalled_at, created_at, updated_at`

const configColumns = `id, location_id, sandbox_secret_key, sandbox_category_code,
	production_secret_key, production_category_code, mode, registered_with_ghl, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, integration *domain.Integration) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO integrations (
			id, location_id, company_id, access_token, refresh_token, token_expires_at,
			api_key, installed, uninstalled_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (location_id)
		DO UPDATE SET company_id = EXCLUDED.company_id,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_expires_at = EXCLUDED.token_expires_at,
			installed = EXCLUDED.installed,
			uninstalled_at = EXCLUDED.uninstalled_at,
			updated_at = EXCLUDED.updated_at`,
		integration.ID,
		integration.LocationID,
		integration.CompanyID,
		integration.AccessToken,
		integration.RefreshToken,
		integration.TokenExpiresAt,
		integration.APIKey,
		integration.Installed,
		integration.UninstalledAt,
		integration.CreatedAt,
		integration.UpdatedAt,
	).Error
}

func (r *repo) FindByLocation(ctx context.Context, db *gorm.DB, locationID string) (*domain.Integration, error) {
	var item domain.Integration
	err := db.WithContext(ctx).Raw(
		`SELECT `+integrationColumns+`
		 FROM integrations
		 WHERE location_id = ?
		 LIMIT 1`,
		locationID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByAPIKey(ctx context.Context, db *gorm.DB, apiKey string) (*domain.Integration, error) {
	var item domain.Integration
	err := db.WithContext(ctx).Raw(
		`SELECT `+integrationColumns+`
		 FROM integrations
		 WHERE api_key = ?
		 LIMIT 1`,
		apiKey,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) UpdateTokens(ctx context.Context, db *gorm.DB, locationID, accessToken, refreshToken string, expiresAt *time.Time, updatedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE integrations
		 SET access_token = ?, refresh_token = ?, token_expires_at = ?, updated_at = ?
		 WHERE location_id = ?`,
		accessToken,
		refreshToken,
		expiresAt,
		updatedAt,
		locationID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) SetInstalled(ctx context.Context, db *gorm.DB, locationID string, installed bool, uninstalledAt *time.Time, updatedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE integrations
		 SET installed = ?, uninstalled_at = ?, updated_at = ?
		 WHERE location_id = ?`,
		installed,
		uninstalledAt,
		updatedAt,
		locationID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) UpsertConfig(ctx context.Context, db *gorm.DB, config *domain.ToyyibPayConfig) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO toyyibpay_configs (
			id, location_id, sandbox_secret_key, sandbox_category_code,
			production_secret_key, production_category_code, mode, registered_with_ghl,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (location_id)
		DO UPDATE SET sandbox_secret_key = EXCLUDED.sandbox_secret_key,
			sandbox_category_code = EXCLUDED.sandbox_category_code,
			production_secret_key = EXCLUDED.production_secret_key,
			production_category_code = EXCLUDED.production_category_code,
			mode = EXCLUDED.mode,
			updated_at = EXCLUDED.updated_at`,
		config.ID,
		config.LocationID,
		config.SandboxSecretKey,
		config.SandboxCategoryCode,
		config.ProductionSecretKey,
		config.ProductionCategoryCode,
		config.Mode,
		config.RegisteredWithGHL,
		config.CreatedAt,
		config.UpdatedAt,
	).Error
}

func (r *repo) FindConfig(ctx context.Context, db *gorm.DB, locationID string) (*domain.ToyyibPayConfig, error) {
	var item domain.ToyyibPayConfig
	err := db.WithContext(ctx).Raw(
		`SELECT `+configColumns+`
		 FROM toyyibpay_configs
		 WHERE location_id = ?
		 LIMIT 1`,
		locationID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) UpdateMode(ctx context.Context, db *gorm.DB, locationID, mode string, updatedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE toyyibpay_configs
		 SET mode = ?, updated_at = ?
		 WHERE location_id = ?`,
		mode,
		updatedAt,
		locationID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) SetRegistered(ctx context.Context, db *gorm.DB, locationID string, registered bool, updatedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE toyyibpay_configs
		 SET registered_with_ghl = ?, updated_at = ?
		 WHERE location_id = ?`,
		registered,
		updatedAt,
		locationID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) DeleteConfig(ctx context.Context, db *gorm.DB, locationID string) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`DELETE FROM toyyibpay_configs WHERE location_id = ?`,
		locationID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
