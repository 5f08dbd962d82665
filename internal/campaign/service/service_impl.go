package service

import (
	"context"
	"errors"
	"strings"
	"time"

	accountdomain "github.com/Phillboard/mobul-sub000/internal/account/domain"
	campaigndomain "github.com/Phillboard/mobul-sub000/internal/campaign/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Accounts accountdomain.Service
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	accounts accountdomain.Service
}

func NewService(p Params) campaigndomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("campaign.service"),
		genID:    p.GenID,
		accounts: p.Accounts,
	}
}

func (s *Service) CreateCampaign(ctx context.Context, req campaigndomain.CreateCampaignRequest) (*campaigndomain.Campaign, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, campaigndomain.ErrInvalidName
	}

	if _, err := s.accounts.GetClient(ctx, req.ClientID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	campaign := campaigndomain.Campaign{
		ID:        s.genID.Generate(),
		Name:      name,
		ClientID:  req.ClientID,
		Status:    campaigndomain.CampaignStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(&campaign).Error; err != nil {
		return nil, err
	}
	return &campaign, nil
}

func (s *Service) GetCampaign(ctx context.Context, id snowflake.ID) (*campaigndomain.Campaign, error) {
	if id == 0 {
		return nil, campaigndomain.ErrInvalidCampaignID
	}

	var campaign campaigndomain.Campaign
	if err := s.db.WithContext(ctx).First(&campaign, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, campaigndomain.ErrCampaignNotFound
		}
		return nil, err
	}
	return &campaign, nil
}

func (s *Service) ListCampaigns(ctx context.Context) ([]campaigndomain.Campaign, error) {
	var campaigns []campaigndomain.Campaign
	if err := s.db.WithContext(ctx).Order("created_at desc").Find(&campaigns).Error; err != nil {
		return nil, err
	}
	return campaigns, nil
}

func (s *Service) CreateRecipient(ctx context.Context, req campaigndomain.CreateRecipientRequest) (*campaigndomain.Recipient, error) {
	fullName := strings.TrimSpace(req.FullName)
	if fullName == "" {
		return nil, campaigndomain.ErrInvalidName
	}

	if _, err := s.GetCampaign(ctx, req.CampaignID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	recipient := campaigndomain.Recipient{
		ID:         s.genID.Generate(),
		CampaignID: req.CampaignID,
		FullName:   fullName,
		Phone:      req.Phone,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.db.WithContext(ctx).Create(&recipient).Error; err != nil {
		return nil, err
	}
	return &recipient, nil
}

func (s *Service) GetRecipient(ctx context.Context, id snowflake.ID) (*campaigndomain.Recipient, error) {
	if id == 0 {
		return nil, campaigndomain.ErrRecipientNotFound
	}

	var recipient campaigndomain.Recipient
	if err := s.db.WithContext(ctx).First(&recipient, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, campaigndomain.ErrRecipientNotFound
		}
		return nil, err
	}
	return &recipient, nil
}

func (s *Service) ListRecipients(ctx context.Context, campaignID snowflake.ID) ([]campaigndomain.Recipient, error) {
	stmt := s.db.WithContext(ctx).Order("created_at desc")
	if campaignID != 0 {
		stmt = stmt.Where("campaign_id = ?", campaignID)
	}

	var recipients []campaigndomain.Recipient
	if err := stmt.Find(&recipients).Error; err != nil {
		return nil, err
	}
	return recipients, nil
}

func (s *Service) ResolveBillingEntity(ctx context.Context, campaignID snowflake.ID) (*accountdomain.BillingEntity, error) {
	campaign, err := s.GetCampaign(ctx, campaignID)
	if err != nil {
		if errors.Is(err, campaigndomain.ErrCampaignNotFound) || errors.Is(err, campaigndomain.ErrInvalidCampaignID) {
			return nil, campaigndomain.ErrNoBillingEntity
		}
		return nil, err
	}

	client, err := s.accounts.GetClient(ctx, campaign.ClientID)
	if err != nil {
		if errors.Is(err, accountdomain.ErrClientNotFound) || errors.Is(err, accountdomain.ErrInvalidEntityID) {
			return nil, campaigndomain.ErrNoBillingEntity
		}
		return nil, err
	}

	if client.IsAgencyManaged() {
		agency, err := s.accounts.GetAgency(ctx, *client.AgencyID)
		if err != nil {
			if errors.Is(err, accountdomain.ErrAgencyNotFound) {
				// Dangling agency reference; fall back to charging the client
				// rather than refusing the provision.
				s.log.Warn("client references missing agency",
					zap.String("client_id", client.ID.String()),
					zap.String("agency_id", client.AgencyID.String()),
				)
			} else {
				return nil, err
			}
		}
		if agency != nil {
			return &accountdomain.BillingEntity{
				Type:    accountdomain.EntityTypeAgency,
				ID:      agency.ID,
				Name:    agency.Name,
				Credits: agency.Credits,
			}, nil
		}
	}

	return &accountdomain.BillingEntity{
		Type:    accountdomain.EntityTypeClient,
		ID:      client.ID,
		Name:    client.Name,
		Credits: client.Credits,
	}, nil
}
