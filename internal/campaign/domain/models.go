package domain

import (
	"context"
	"errors"
	"time"

	accountdomain "github.com/Phillboard/mobul-sub000/internal/account/domain"
	"github.com/bwmarrin/snowflake"
)

type CampaignStatus string

const (
	CampaignStatusActive   CampaignStatus = "active"
	CampaignStatusArchived CampaignStatus = "archived"
)

// Campaign groups recipients under one client for billing resolution.
type Campaign struct {
	ID        snowflake.ID   `gorm:"primaryKey" json:"id"`
	Name      string         `gorm:"type:text;not null" json:"name"`
	ClientID  snowflake.ID   `gorm:"not null;index" json:"client_id"`
	Status    CampaignStatus `gorm:"type:text;not null;default:active" json:"status"`
	CreatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Campaign) TableName() string { return "campaigns" }

// Recipient is a person a card can be provisioned for.
type Recipient struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	CampaignID snowflake.ID `gorm:"not null;index" json:"campaign_id"`
	FullName   string       `gorm:"type:text;not null" json:"full_name"`
	Phone      *string      `gorm:"type:text" json:"phone,omitempty"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Recipient) TableName() string { return "recipients" }

type CreateCampaignRequest struct {
	Name     string       `json:"name" binding:"required"`
	ClientID snowflake.ID `json:"client_id" binding:"required"`
}

type CreateRecipientRequest struct {
	CampaignID snowflake.ID `json:"campaign_id" binding:"required"`
	FullName   string       `json:"full_name" binding:"required"`
	Phone      *string      `json:"phone"`
}

type Service interface {
	CreateCampaign(ctx context.Context, req CreateCampaignRequest) (*Campaign, error)
	GetCampaign(ctx context.Context, id snowflake.ID) (*Campaign, error)
	ListCampaigns(ctx context.Context) ([]Campaign, error)
	CreateRecipient(ctx context.Context, req CreateRecipientRequest) (*Recipient, error)
	GetRecipient(ctx context.Context, id snowflake.ID) (*Recipient, error)
	ListRecipients(ctx context.Context, campaignID snowflake.ID) ([]Recipient, error)

	// ResolveBillingEntity walks campaign -> client -> agency and returns
	// the party charged for cards issued under the campaign. Agency-managed
	// clients bill the agency.
	ResolveBillingEntity(ctx context.Context, campaignID snowflake.ID) (*accountdomain.BillingEntity, error)
}

var (
	ErrCampaignNotFound  = errors.New("campaign_not_found")
	ErrRecipientNotFound = errors.New("recipient_not_found")
	ErrNoBillingEntity   = errors.New("no_billing_entity")
	ErrInvalidName       = errors.New("invalid_name")
	ErrInvalidCampaignID = errors.New("invalid_campaign_id")
)
