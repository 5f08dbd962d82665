package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type CardStatus string

const (
	StatusAvailable CardStatus = "available"
	StatusAssigned  CardStatus = "assigned"
	StatusDelivered CardStatus = "delivered"
	StatusExpired   CardStatus = "expired"
	StatusRevoked   CardStatus = "revoked"
)

type CostSource string

const (
	CostSourceCSV     CostSource = "csv"
	CostSourceVendor  CostSource = "vendor_api"
	CostSourceManual  CostSource = "manual"
	CostSourceUnknown CostSource = "unknown"
)

// InventoryCard is one physical or vendor-issued gift card. Code is the
// redeemable secret and must never be logged unmasked. Assignment fields
// are set iff the card left the available pool for a recipient.
type InventoryCard struct {
	ID                  snowflake.ID  `gorm:"primaryKey" json:"id"`
	BrandID             snowflake.ID  `gorm:"not null;index:ix_inventory_cards_claim,priority:1" json:"brand_id"`
	Denomination        int64         `gorm:"not null;index:ix_inventory_cards_claim,priority:2" json:"denomination"`
	Code                string        `gorm:"type:text;not null" json:"-"`
	Number              *string       `gorm:"type:text" json:"number,omitempty"`
	ExpirationDate      *time.Time    `json:"expiration_date,omitempty"`
	Status              CardStatus    `gorm:"type:text;not null;default:available;index:ix_inventory_cards_claim,priority:3" json:"status"`
	AssignedRecipientID *snowflake.ID `gorm:"index" json:"assigned_recipient_id,omitempty"`
	AssignedCampaignID  *snowflake.ID `gorm:"index" json:"assigned_campaign_id,omitempty"`
	AssignedAt          *time.Time    `json:"assigned_at,omitempty"`
	CostPerCard         *int64        `json:"cost_per_card,omitempty"`
	CostSource          CostSource    `gorm:"type:text;not null;default:unknown" json:"cost_source"`
	RevokeReason        *string       `gorm:"type:text" json:"revoke_reason,omitempty"`
	RevokedAt           *time.Time    `json:"revoked_at,omitempty"`
	CreatedAt           time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt           time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (InventoryCard) TableName() string { return "inventory_cards" }

// IsVendorSourced reports whether the card was purchased from the vendor.
// Revoking such a card does not refund the vendor purchase.
func (c *InventoryCard) IsVendorSourced() bool {
	return c != nil && c.CostSource == CostSourceVendor
}

// StockRow is one pre-parsed row for bulk stocking. CSV parsing happens
// upstream; by the time rows reach the store they are plain values.
type StockRow struct {
	Denomination   int64      `json:"denomination" binding:"required"`
	Code           string     `json:"code" binding:"required"`
	Number         *string    `json:"number"`
	ExpirationDate *time.Time `json:"expiration_date"`
	CostPerCard    *int64     `json:"cost_per_card"`
	CostSource     CostSource `json:"cost_source"`
}

// DenominationCount is the available stock level for one denomination.
type DenominationCount struct {
	Denomination int64 `json:"denomination"`
	Available    int64 `json:"available"`
}

// RevokeResult carries the post-revoke card state plus an advisory warning
// when the underlying vendor purchase cannot be unwound.
type RevokeResult struct {
	Card    *InventoryCard `json:"card"`
	Warning string         `json:"warning,omitempty"`
}

type Service interface {
	// Claim atomically moves one available (brand, denomination) card to
	// assigned. Returns nil with no error when the pool is empty.
	Claim(ctx context.Context, brandID snowflake.ID, denomination int64, campaignID, recipientID snowflake.ID) (*InventoryCard, error)
	InsertVendorCard(ctx context.Context, card *InventoryCard) error
	Get(ctx context.Context, id snowflake.ID) (*InventoryCard, error)
	Revoke(ctx context.Context, cardID snowflake.ID, reason string, returnToPool bool) (*RevokeResult, error)
	BulkStock(ctx context.Context, brandID snowflake.ID, rows []StockRow) ([]InventoryCard, error)
	Availability(ctx context.Context, brandID snowflake.ID) ([]DenominationCount, error)
	MarkDelivered(ctx context.Context, cardID snowflake.ID) error
	ExpireSweep(ctx context.Context, now time.Time, limit int) (int, error)
}

var (
	ErrCardNotFound         = errors.New("card_not_found")
	ErrInvalidDenomination  = errors.New("invalid_denomination")
	ErrInvalidCardCode      = errors.New("invalid_card_code")
	ErrRevokeReasonTooShort = errors.New("revoke_reason_too_short")
	ErrAlreadyRevoked       = errors.New("card_already_revoked")
	ErrNotRevocable         = errors.New("card_not_revocable")
	ErrNotDeliverable       = errors.New("card_not_deliverable")
	ErrNoRows               = errors.New("no_stock_rows")
)

// MinRevokeReasonLen is the minimum trimmed length of a revocation reason.
const MinRevokeReasonLen = 10
