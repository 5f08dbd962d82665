package domain

import (
	"context"
	"errors"
	"time"

	accountdomain "github.com/Phillboard/mobul-sub000/internal/account/domain"
	"github.com/bwmarrin/snowflake"
)

// PricingConfig overrides the default face-value pricing for one brand and
// denomination. A missing row means face value billed, estimated cost basis.
type PricingConfig struct {
	ID               snowflake.ID `gorm:"primaryKey" json:"id"`
	BrandID          snowflake.ID `gorm:"not null;uniqueIndex:ux_pricing_configs_brand_denom,priority:1" json:"brand_id"`
	Denomination     int64        `gorm:"not null;uniqueIndex:ux_pricing_configs_brand_denom,priority:2" json:"denomination"`
	UseCustomPricing bool         `gorm:"not null;default:false" json:"use_custom_pricing"`
	ClientPrice      *int64       `json:"client_price,omitempty"`
	AgencyPrice      *int64       `json:"agency_price,omitempty"`
	CostBasis        *int64       `json:"cost_basis,omitempty"`
	CreatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (PricingConfig) TableName() string { return "pricing_configs" }

// Quote is the resolved price for one provision.
type Quote struct {
	AmountBilled      int64 `json:"amount_billed"`
	CostBasis         int64 `json:"cost_basis"`
	UsedCustomPricing bool  `json:"used_custom_pricing"`
}

type UpsertPricingRequest struct {
	BrandID          snowflake.ID `json:"brand_id" binding:"required"`
	Denomination     int64        `json:"denomination" binding:"required"`
	UseCustomPricing bool         `json:"use_custom_pricing"`
	ClientPrice      *int64       `json:"client_price"`
	AgencyPrice      *int64       `json:"agency_price"`
	CostBasis        *int64       `json:"cost_basis"`
}

type Service interface {
	// Resolve picks the billed amount and cost basis for one card.
	// Price: custom agency price (agency entity) -> custom client price ->
	// face value. Cost: config cost basis -> card cost -> estimate ratio.
	Resolve(ctx context.Context, brandID snowflake.ID, denomination int64, entityType accountdomain.EntityType, cardCost *int64) (Quote, error)
	Upsert(ctx context.Context, req UpsertPricingRequest) (*PricingConfig, error)
	List(ctx context.Context, brandID snowflake.ID) ([]PricingConfig, error)
}

var (
	ErrInvalidDenomination = errors.New("invalid_denomination")
	ErrInvalidBrandID      = errors.New("invalid_brand_id")
	ErrNegativePrice       = errors.New("negative_price")
)
