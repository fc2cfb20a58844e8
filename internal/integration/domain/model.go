package domain

import "time"

// Integration is one GHL location install of the bridge. Tokens are stored
// encrypted and never leave the service layer in ciphertext form.
type Integration struct {
	ID             int64      `json:"id" gorm:"primaryKey"`
	LocationID     string     `json:"location_id" gorm:"type:text;not null;uniqueIndex"`
	CompanyID      string     `json:"company_id" gorm:"type:text;not null;default:''"`
	AccessToken    string     `json:"-" gorm:"type:text;not null;default:''"`
	RefreshToken   string     `json:"-" gorm:"type:text;not null;default:''"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
	APIKey         string     `json:"api_key" gorm:"type:text;not null;uniqueIndex"`
	Installed      bool       `json:"installed" gorm:"not null;default:false"`
	UninstalledAt  *time.Time `json:"uninstalled_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time  `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Integration) TableName() string { return "integrations" }

// ToyyibPayConfig holds one location's provider credentials. Sandbox and
// production keep separate pairs so switching modes never clobbers the
// other environment. Secret keys are stored encrypted.
type ToyyibPayConfig struct {
	ID                     int64  `json:"id" gorm:"primaryKey"`
	LocationID             string `json:"location_id" gorm:"type:text;not null;uniqueIndex"`
	SandboxSecretKey       string `json:"-" gorm:"column:sandbox_secret_key;type:text;not null;default:''"`
	SandboxCategoryCode    string `json:"sandbox_category_code" gorm:"column:sandbox_category_code;type:text;not null;default:''"`
	ProductionSecretKey    string `json:"-" gorm:"column:production_secret_key;type:text;not null;default:''"`
	ProductionCategoryCode string `json:"production_category_code" gorm:"column:production_category_code;type:text;not null;default:''"`

	Mode              string    `json:"mode" gorm:"type:text;not null;default:'sandbox'"`
	RegisteredWithGHL bool      `json:"registered_with_ghl" gorm:"column:registered_with_ghl;not null;default:false"`
	CreatedAt         time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (ToyyibPayConfig) TableName() string { return "toyyibpay_configs" }

const (
	ModeSandbox    = "sandbox"
	ModeProduction = "production"
)

// Pair returns the stored secret key and category code for a mode.
func (c *ToyyibPayConfig) Pair(mode string) (secretKey, categoryCode string) {
	if mode == ModeProduction {
		return c.ProductionSecretKey, c.ProductionCategoryCode
	}
	return c.SandboxSecretKey, c.SandboxCategoryCode
}

// ModeConfigured reports whether a mode has a complete credential pair.
func (c *ToyyibPayConfig) ModeConfigured(mode string) bool {
	secret, category := c.Pair(mode)
	return secret != "" && category != ""
}
