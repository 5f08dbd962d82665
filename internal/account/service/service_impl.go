package service

import (
	"context"
	"errors"
	"strings"
	"time"

	accountdomain "github.com/Phillboard/mobul-sub000/internal/account/domain"
	"github.com/bwmarrin/snowflake"
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

func NewService(p Params) accountdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("account.service"),
		genID: p.GenID,
	}
}

func (s *Service) CreateAgency(ctx context.Context, req accountdomain.CreateAgencyRequest) (*accountdomain.Agency, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, accountdomain.ErrInvalidName
	}

	now := time.Now().UTC()
	agency := accountdomain.Agency{
		ID:        s.genID.Generate(),
		Name:      name,
		Credits:   req.Credits,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(&agency).Error; err != nil {
		return nil, err
	}
	return &agency, nil
}

func (s *Service) CreateClient(ctx context.Context, req accountdomain.CreateClientRequest) (*accountdomain.Client, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, accountdomain.ErrInvalidName
	}

	if req.AgencyID != nil && *req.AgencyID != 0 {
		if _, err := s.GetAgency(ctx, *req.AgencyID); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	client := accountdomain.Client{
		ID:        s.genID.Generate(),
		Name:      name,
		AgencyID:  req.AgencyID,
		Credits:   req.Credits,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(&client).Error; err != nil {
		return nil, err
	}
	return &client, nil
}

func (s *Service) GetAgency(ctx context.Context, id snowflake.ID) (*accountdomain.Agency, error) {
	if id == 0 {
		return nil, accountdomain.ErrInvalidEntityID
	}

	var agency accountdomain.Agency
	if err := s.db.WithContext(ctx).First(&agency, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, accountdomain.ErrAgencyNotFound
		}
		return nil, err
	}
	return &agency, nil
}

func (s *Service) GetClient(ctx context.Context, id snowflake.ID) (*accountdomain.Client, error) {
	if id == 0 {
		return nil, accountdomain.ErrInvalidEntityID
	}

	var client accountdomain.Client
	if err := s.db.WithContext(ctx).First(&client, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, accountdomain.ErrClientNotFound
		}
		return nil, err
	}
	return &client, nil
}

func (s *Service) ListAgencies(ctx context.Context) ([]accountdomain.Agency, error) {
	var agencies []accountdomain.Agency
	if err := s.db.WithContext(ctx).Order("name asc").Find(&agencies).Error; err != nil {
		return nil, err
	}
	return agencies, nil
}

func (s *Service) ListClients(ctx context.Context) ([]accountdomain.Client, error) {
	var clients []accountdomain.Client
	if err := s.db.WithContext(ctx).Order("name asc").Find(&clients).Error; err != nil {
		return nil, err
	}
	return clients, nil
}

// AdjustCredits applies a signed delta to an entity balance in one guarded
// statement so concurrent adjustments never lose updates.
func (s *Service) AdjustCredits(ctx context.Context, entityType accountdomain.EntityType, id snowflake.ID, delta int64) error {
	if id == 0 {
		return accountdomain.ErrInvalidEntityID
	}

	var table string
	var notFound error
	switch entityType {
	case accountdomain.EntityTypeAgency:
		table, notFound = "agencies", accountdomain.ErrAgencyNotFound
	case accountdomain.EntityTypeClient:
		table, notFound = "clients", accountdomain.ErrClientNotFound
	default:
		return accountdomain.ErrInvalidEntityType
	}

	result := s.db.WithContext(ctx).Exec(
		`UPDATE `+table+` SET credits = credits + ?, updated_at = ? WHERE id = ?`,
		delta, time.Now().UTC(), id,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return notFound
	}

	s.log.Info("credits adjusted",
		zap.String("entity_type", string(entityType)),
		zap.String("entity_id", id.String()),
		zap.Int64("delta", delta),
	)
	return nil
}
