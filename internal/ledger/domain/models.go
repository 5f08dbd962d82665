package domain

import (
	"context"
	"errors"
	"time"

	accountdomain "github.com/Phillboard/mobul-sub000/internal/account/domain"
	"github.com/Phillboard/mobul-sub000/pkg/db/pagination"
	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type TransactionType string

const (
	TransactionPurchaseFromInventory TransactionType = "purchase_from_inventory"
	TransactionPurchaseFromVendor    TransactionType = "purchase_from_vendor"
)

// BillingLedgerEntry is one immutable charge for one provisioned card.
// RequestID is unique: retried requests land on the same row instead of
// double-billing. Profit is derived in the service, never accepted from
// callers.
type BillingLedgerEntry struct {
	ID               snowflake.ID             `gorm:"primaryKey" json:"id"`
	RequestID        string                   `gorm:"type:text;not null;uniqueIndex:ux_billing_ledger_request" json:"request_id"`
	TransactionType  TransactionType          `gorm:"type:text;not null" json:"transaction_type"`
	BilledEntityType accountdomain.EntityType `gorm:"type:text;not null;index:ix_billing_ledger_entity,priority:1" json:"billed_entity_type"`
	BilledEntityID   snowflake.ID             `gorm:"not null;index:ix_billing_ledger_entity,priority:2" json:"billed_entity_id"`
	CampaignID       snowflake.ID             `gorm:"not null;index" json:"campaign_id"`
	RecipientID      snowflake.ID             `gorm:"not null" json:"recipient_id"`
	BrandID          snowflake.ID             `gorm:"not null" json:"brand_id"`
	Denomination     int64                    `gorm:"not null" json:"denomination"`
	AmountBilled     int64                    `gorm:"not null" json:"amount_billed"`
	CostBasis        int64                    `gorm:"not null" json:"cost_basis"`
	Profit           int64                    `gorm:"not null" json:"profit"`
	InventoryCardID  snowflake.ID             `gorm:"not null;index" json:"inventory_card_id"`
	Metadata         datatypes.JSONMap        `gorm:"type:jsonb" json:"metadata,omitempty"`
	BilledAt         time.Time                `gorm:"not null;index" json:"billed_at"`
}

// TableName sets the database table name.
func (BillingLedgerEntry) TableName() string { return "billing_ledger_entries" }

// RecordRequest carries everything needed to post one charge.
type RecordRequest struct {
	RequestID       string
	TransactionType TransactionType
	EntityType      accountdomain.EntityType
	EntityID        snowflake.ID
	CampaignID      snowflake.ID
	RecipientID     snowflake.ID
	BrandID         snowflake.ID
	Denomination    int64
	AmountBilled    int64
	CostBasis       int64
	InventoryCardID snowflake.ID
	Metadata        map[string]any
}

type ListRequest struct {
	pagination.Pagination
	EntityType accountdomain.EntityType
	EntityID   snowflake.ID
	CampaignID snowflake.ID
}

type ListResponse struct {
	pagination.PageInfo
	Entries []BillingLedgerEntry `json:"entries"`
}

// UnbilledCard is a reconciliation finding: a card that left the pool with
// no matching ledger entry.
type UnbilledCard struct {
	CardID       snowflake.ID  `json:"card_id"`
	BrandID      snowflake.ID  `json:"brand_id"`
	Denomination int64         `json:"denomination"`
	CampaignID   *snowflake.ID `json:"campaign_id,omitempty"`
	RecipientID  *snowflake.ID `json:"recipient_id,omitempty"`
	AssignedAt   *time.Time    `json:"assigned_at,omitempty"`
}

type Service interface {
	// Record posts exactly one entry per request id. A replay returns the
	// existing entry's id with inserted=false.
	Record(ctx context.Context, req RecordRequest) (snowflake.ID, bool, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	// UnbilledCards scans for assigned/delivered inventory with no ledger
	// entry, the reconciliation gap source.
	UnbilledCards(ctx context.Context, since time.Time, limit int) ([]UnbilledCard, error)
}

var (
	ErrInvalidRequestID       = errors.New("invalid_request_id")
	ErrInvalidTransactionType = errors.New("invalid_transaction_type")
	ErrInvalidEntity          = errors.New("invalid_billed_entity")
	ErrInvalidAmount          = errors.New("invalid_amount")
	ErrInvalidPageToken       = errors.New("invalid_page_token")
)
