package service

import (
	"context"
	"errors"
	"math"
	"time"

	accountdomain "github.com/Phillboard/mobul-sub000/internal/account/domain"
	"github.com/Phillboard/mobul-sub000/internal/config"
	pricingdomain "github.com/Phillboard/mobul-sub000/internal/pricing/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	CfgHolder *config.ProvisioningConfigHolder
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	cfgHolder *config.ProvisioningConfigHolder
}

func NewService(p Params) pricingdomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("pricing.service"),
		genID:     p.GenID,
		cfgHolder: p.CfgHolder,
	}
}

func (s *Service) Resolve(ctx context.Context, brandID snowflake.ID, denomination int64, entityType accountdomain.EntityType, cardCost *int64) (pricingdomain.Quote, error) {
	if denomination <= 0 {
		return pricingdomain.Quote{}, pricingdomain.ErrInvalidDenomination
	}

	var cfg pricingdomain.PricingConfig
	haveConfig := true
	err := s.db.WithContext(ctx).
		Where("brand_id = ? AND denomination = ?", brandID, denomination).
		First(&cfg).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return pricingdomain.Quote{}, err
		}
		haveConfig = false
	}

	quote := pricingdomain.Quote{AmountBilled: denomination}

	if haveConfig && cfg.UseCustomPricing {
		switch {
		case entityType == accountdomain.EntityTypeAgency && cfg.AgencyPrice != nil:
			quote.AmountBilled = *cfg.AgencyPrice
			quote.UsedCustomPricing = true
		case cfg.ClientPrice != nil:
			quote.AmountBilled = *cfg.ClientPrice
			quote.UsedCustomPricing = true
		}
	}

	switch {
	case haveConfig && cfg.CostBasis != nil:
		quote.CostBasis = *cfg.CostBasis
	case cardCost != nil:
		quote.CostBasis = *cardCost
	default:
		quote.CostBasis = EstimateCost(denomination, s.cfgHolder.Get().CostEstimateRatio)
	}

	return quote, nil
}

// EstimateCost is the fallback cost basis when nothing recorded the real
// acquisition cost: a configured fraction of face value, rounded to cents.
func EstimateCost(denomination int64, ratio float64) int64 {
	if ratio <= 0 || ratio > 1 {
		ratio = 0.95
	}
	return int64(math.Round(float64(denomination) * ratio))
}

func (s *Service) Upsert(ctx context.Context, req pricingdomain.UpsertPricingRequest) (*pricingdomain.PricingConfig, error) {
	if req.BrandID == 0 {
		return nil, pricingdomain.ErrInvalidBrandID
	}
	if req.Denomination <= 0 {
		return nil, pricingdomain.ErrInvalidDenomination
	}
	for _, price := range []*int64{req.ClientPrice, req.AgencyPrice, req.CostBasis} {
		if price != nil && *price < 0 {
			return nil, pricingdomain.ErrNegativePrice
		}
	}

	now := time.Now().UTC()
	cfg := pricingdomain.PricingConfig{
		ID:               s.genID.Generate(),
		BrandID:          req.BrandID,
		Denomination:     req.Denomination,
		UseCustomPricing: req.UseCustomPricing,
		ClientPrice:      req.ClientPrice,
		AgencyPrice:      req.AgencyPrice,
		CostBasis:        req.CostBasis,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Exec(
			`UPDATE pricing_configs
			SET use_custom_pricing = ?, client_price = ?, agency_price = ?, cost_basis = ?, updated_at = ?
			WHERE brand_id = ? AND denomination = ?`,
			req.UseCustomPricing, req.ClientPrice, req.AgencyPrice, req.CostBasis, now,
			req.BrandID, req.Denomination,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			// Reset the struct so its pre-generated primary key does not
			// leak into the query conditions.
			cfg = pricingdomain.PricingConfig{}
			return tx.Where("brand_id = ? AND denomination = ?", req.BrandID, req.Denomination).
				First(&cfg).Error
		}
		return tx.Create(&cfg).Error
	})
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *Service) List(ctx context.Context, brandID snowflake.ID) ([]pricingdomain.PricingConfig, error) {
	stmt := s.db.WithContext(ctx).Order("brand_id asc, denomination asc")
	if brandID != 0 {
		stmt = stmt.Where("brand_id = ?", brandID)
	}

	var configs []pricingdomain.PricingConfig
	if err := stmt.Find(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}
