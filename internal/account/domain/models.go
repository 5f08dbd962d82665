package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// EntityType identifies which party a charge lands on.
type EntityType string

const (
	EntityTypeAgency EntityType = "agency"
	EntityTypeClient EntityType = "client"
)

// Agency is a top-level billing account. Credits are a signed cents
// balance; a negative balance is allowed (credit checks are advisory).
type Agency struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	Credits   int64        `gorm:"not null;default:0" json:"credits"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Agency) TableName() string { return "agencies" }

// Client is a billing account optionally managed by an agency. When
// AgencyID is set the client's campaigns bill the agency instead.
type Client struct {
	ID        snowflake.ID  `gorm:"primaryKey" json:"id"`
	Name      string        `gorm:"type:text;not null" json:"name"`
	AgencyID  *snowflake.ID `gorm:"index" json:"agency_id,omitempty"`
	Credits   int64         `gorm:"not null;default:0" json:"credits"`
	CreatedAt time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Client) TableName() string { return "clients" }

// IsAgencyManaged reports whether the client's charges roll up to an agency.
func (c *Client) IsAgencyManaged() bool {
	return c != nil && c.AgencyID != nil && *c.AgencyID != 0
}

// BillingEntity is the resolved party a provision bills against.
type BillingEntity struct {
	Type    EntityType   `json:"type"`
	ID      snowflake.ID `json:"id"`
	Name    string       `json:"name"`
	Credits int64        `json:"credits"`
}

type CreateAgencyRequest struct {
	Name    string `json:"name" binding:"required"`
	Credits int64  `json:"credits"`
}

type CreateClientRequest struct {
	Name     string        `json:"name" binding:"required"`
	AgencyID *snowflake.ID `json:"agency_id"`
	Credits  int64         `json:"credits"`
}

type Service interface {
	CreateAgency(ctx context.Context, req CreateAgencyRequest) (*Agency, error)
	CreateClient(ctx context.Context, req CreateClientRequest) (*Client, error)
	GetAgency(ctx context.Context, id snowflake.ID) (*Agency, error)
	GetClient(ctx context.Context, id snowflake.ID) (*Client, error)
	ListAgencies(ctx context.Context) ([]Agency, error)
	ListClients(ctx context.Context) ([]Client, error)
	AdjustCredits(ctx context.Context, entityType EntityType, id snowflake.ID, delta int64) error
}

var (
	ErrAgencyNotFound    = errors.New("agency_not_found")
	ErrClientNotFound    = errors.New("client_not_found")
	ErrInvalidName       = errors.New("invalid_name")
	ErrInvalidEntityType = errors.New("invalid_entity_type")
	ErrInvalidEntityID   = errors.New("invalid_entity_id")
)
