package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Brand is a gift card brand in the catalog. VendorBrandCode is the
// identifier the vendor API knows the brand by; when nil the brand has no
// vendor fallback and provisioning is inventory-only.
type Brand struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	Name            string       `gorm:"type:text;not null" json:"name"`
	Slug            string       `gorm:"type:text;not null;uniqueIndex:ux_brands_slug" json:"slug"`
	Currency        string       `gorm:"type:text;not null;default:USD" json:"currency"`
	VendorBrandCode *string      `gorm:"type:text" json:"vendor_brand_code,omitempty"`
	Enabled         bool         `gorm:"not null;default:true" json:"enabled"`
	CreatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Brand) TableName() string { return "brands" }

// HasVendorFallback reports whether the brand can be provisioned from the
// vendor when inventory is empty.
func (b *Brand) HasVendorFallback() bool {
	return b != nil && b.VendorBrandCode != nil && *b.VendorBrandCode != ""
}

type CreateBrandRequest struct {
	Name            string  `json:"name" binding:"required"`
	Currency        string  `json:"currency"`
	VendorBrandCode *string `json:"vendor_brand_code"`
	Enabled         *bool   `json:"enabled"`
}

type Service interface {
	Create(ctx context.Context, req CreateBrandRequest) (*Brand, error)
	Get(ctx context.Context, id snowflake.ID) (*Brand, error)
	GetEnabled(ctx context.Context, id snowflake.ID) (*Brand, error)
	List(ctx context.Context) ([]Brand, error)
	SetEnabled(ctx context.Context, id snowflake.ID, enabled bool) error
}

var (
	ErrBrandNotFound  = errors.New("brand_not_found")
	ErrBrandDisabled  = errors.New("brand_disabled")
	ErrInvalidName    = errors.New("invalid_name")
	ErrDuplicateSlug  = errors.New("duplicate_slug")
	ErrInvalidBrandID = errors.New("invalid_brand_id")
)
