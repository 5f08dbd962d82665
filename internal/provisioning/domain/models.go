package domain

import (
	"context"
	"time"

	accountdomain "github.com/Phillboard/mobul-sub000/internal/account/domain"
	"github.com/bwmarrin/snowflake"
)

// Step names, checkpointed in order for every request.
const (
	StepValidateInput        = "validate_input"
	StepResolveBillingEntity = "resolve_billing_entity"
	StepCheckCredits         = "check_credits"
	StepLoadBrand            = "load_brand"
	StepClaimInventory       = "claim_inventory"
	StepVendorFallback       = "vendor_fallback"
	StepResolvePricing       = "resolve_pricing"
	StepRecordLedger         = "record_ledger"
	StepRespond              = "respond"
)

// Failure codes. A failed Result carries exactly one.
const (
	CodeMissingParameters = "missing_parameters"
	CodeNoBillingEntity   = "no_billing_entity"
	CodeBrandNotFound     = "brand_not_found"
	CodeNoInventory       = "no_inventory"
	CodeVendorFailed      = "vendor_provisioning_failed"
	CodeInternalError     = "internal_error"
)

// Warning codes. Warnings never fail the request.
const (
	WarnInsufficientCredits = "insufficient_credits"
	WarnLedgerWriteFailed   = "ledger_write_failed"
)

// Source of the provisioned card.
const (
	SourceInventory = "inventory"
	SourceVendor    = "vendor"
)

// ProvisionRequest asks for exactly one card. RequestID correlates retries:
// a caller resubmitting the same id gets idempotent billing. When empty a
// fresh ULID is generated.
type ProvisionRequest struct {
	CampaignID      snowflake.ID `json:"campaign_id" binding:"required"`
	RecipientID     snowflake.ID `json:"recipient_id" binding:"required"`
	BrandID         snowflake.ID `json:"brand_id" binding:"required"`
	Denomination    int64        `json:"denomination" binding:"required"`
	ConditionNumber *int         `json:"condition_number,omitempty"`
	RequestID       string       `json:"request_id,omitempty"`
}

// CardSummary is the public view of the allocated card. Code is included
// only in authorized API responses; it never reaches logs, checkpoints or
// events.
type CardSummary struct {
	ID             snowflake.ID `json:"id"`
	BrandID        snowflake.ID `json:"brand_id"`
	BrandName      string       `json:"brand_name"`
	Denomination   int64        `json:"denomination"`
	Code           string       `json:"code"`
	Number         *string      `json:"number,omitempty"`
	ExpirationDate *time.Time   `json:"expiration_date,omitempty"`
}

// BillingSummary reports who was charged what. LedgerID is nil when the
// ledger write failed (the warning carries the gap).
type BillingSummary struct {
	LedgerID     *snowflake.ID            `json:"ledger_id,omitempty"`
	EntityType   accountdomain.EntityType `json:"entity_type"`
	EntityID     snowflake.ID             `json:"entity_id"`
	EntityName   string                   `json:"entity_name"`
	AmountBilled int64                    `json:"amount_billed"`
	Profit       int64                    `json:"profit"`
}

type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Failure is a structured provisioning failure. CanRetry hints whether the
// same request may succeed later (restock, vendor recovery).
type Failure struct {
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	CanRetry bool           `json:"can_retry"`
	Step     string         `json:"step"`
	Detail   map[string]any `json:"detail,omitempty"`
}

// Result is the engine's only output. The engine never returns an error;
// every outcome, including crashes, is expressed here.
type Result struct {
	Success   bool            `json:"success"`
	RequestID string          `json:"request_id"`
	Source    string          `json:"source,omitempty"`
	Card      *CardSummary    `json:"card,omitempty"`
	Billing   *BillingSummary `json:"billing,omitempty"`
	Warnings  []Warning       `json:"warnings,omitempty"`
	Failure   *Failure        `json:"failure,omitempty"`
}

// Service is the allocation engine. All three entry points share one core;
// they differ only in vendor adapter selection and post-success behavior.
type Service interface {
	Provision(ctx context.Context, req ProvisionRequest) Result
	// ProvisionAndNotify additionally enqueues a card.provisioned event for
	// the notification pipeline on success.
	ProvisionAndNotify(ctx context.Context, req ProvisionRequest) Result
	// ProvisionSandbox forces the sandbox vendor adapter and tags ledger
	// metadata sandbox=true.
	ProvisionSandbox(ctx context.Context, req ProvisionRequest) Result
}

// CanRetryCode reports whether a failure code is worth retrying.
func CanRetryCode(code string) bool {
	return code == CodeNoInventory || code == CodeVendorFailed
}
