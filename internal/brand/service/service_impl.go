package service

import (
	"context"
	"errors"
	"strings"
	"time"

	branddomain "github.com/Phillboard/mobul-sub000/internal/brand/domain"
	"github.com/Phillboard/mobul-sub000/pkg/db"
	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewService(p Params) branddomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("brand.service"),
		genID: p.GenID,
	}
}

func (s *Service) Create(ctx context.Context, req branddomain.CreateBrandRequest) (*branddomain.Brand, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, branddomain.ErrInvalidName
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "USD"
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	var vendorBrandCode *string
	if req.VendorBrandCode != nil {
		if code := strings.TrimSpace(*req.VendorBrandCode); code != "" {
			vendorBrandCode = &code
		}
	}

	now := time.Now().UTC()
	brand := branddomain.Brand{
		ID:              s.genID.Generate(),
		Name:            name,
		Slug:            slug.Make(name),
		Currency:        currency,
		VendorBrandCode: vendorBrandCode,
		Enabled:         enabled,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.db.WithContext(ctx).Create(&brand).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, branddomain.ErrDuplicateSlug
		}
		return nil, err
	}

	s.log.Info("brand created",
		zap.String("brand_id", brand.ID.String()),
		zap.String("slug", brand.Slug),
		zap.Bool("vendor_fallback", brand.HasVendorFallback()),
	)
	return &brand, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*branddomain.Brand, error) {
	if id == 0 {
		return nil, branddomain.ErrInvalidBrandID
	}

	var brand branddomain.Brand
	if err := s.db.WithContext(ctx).First(&brand, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, branddomain.ErrBrandNotFound
		}
		return nil, err
	}
	return &brand, nil
}

// GetEnabled loads a brand and rejects disabled ones. Provisioning goes
// through this so archived brands never issue cards.
func (s *Service) GetEnabled(ctx context.Context, id snowflake.ID) (*branddomain.Brand, error) {
	brand, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !brand.Enabled {
		return nil, branddomain.ErrBrandDisabled
	}
	return brand, nil
}

func (s *Service) List(ctx context.Context) ([]branddomain.Brand, error) {
	var brands []branddomain.Brand
	if err := s.db.WithContext(ctx).Order("name asc").Find(&brands).Error; err != nil {
		return nil, err
	}
	return brands, nil
}

func (s *Service) SetEnabled(ctx context.Context, id snowflake.ID, enabled bool) error {
	if id == 0 {
		return branddomain.ErrInvalidBrandID
	}

	result := s.db.WithContext(ctx).Exec(
		`UPDATE brands SET enabled = ?, updated_at = ? WHERE id = ?`,
		enabled, time.Now().UTC(), id,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return branddomain.ErrBrandNotFound
	}
	return nil
}
