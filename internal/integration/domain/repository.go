package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	Upsert(ctx context.Context, db *gorm.DB, integration *Integration) error
	FindByLocation(ctx context.Context, db *gorm.DB, locationID string) (*Integration, error)
	FindByAPIKey(ctx context.Context, db *gorm.DB, apiKey string) (*Integration, error)
	UpdateTokens(ctx context.Context, db *gorm.DB, locationID, accessToken, refreshToken string, expiresAt *time.Time, updatedAt time.Time) (bool, error)
	SetInstalled(ctx context.Context, db *gorm.DB, locationID string, installed bool, uninstalledAt *time.Time, updatedAt time.Time) (bool, error)

	UpsertConfig(ctx context.Context, db *gorm.DB, config *ToyyibPayConfig) error
	FindConfig(ctx context.Context, db *gorm.DB, locationID string) (*ToyyibPayConfig, error)
	UpdateMode(ctx context.Context, db *gorm.DB, locationID, mode string, updatedAt time.Time) (bool, error)
	SetRegistered(ctx context.Context, db *gorm.DB, locationID string, registered bool, updatedAt time.Time) (bool, error)
	DeleteConfig(ctx context.Context, db *gorm.DB, locationID string) (bool, error)
}
