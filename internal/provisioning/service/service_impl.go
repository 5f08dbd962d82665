package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	branddomain "github.com/Phillboard/mobul-sub000/internal/brand/domain"
	campaigndomain "github.com/Phillboard/mobul-sub000/internal/campaign/domain"
	checkpointdomain "github.com/Phillboard/mobul-sub000/internal/checkpoint/domain"
	"github.com/Phillboard/mobul-sub000/internal/config"
	"github.com/Phillboard/mobul-sub000/internal/events"
	inventorydomain "github.com/Phillboard/mobul-sub000/internal/inventory/domain"
	ledgerdomain "github.com/Phillboard/mobul-sub000/internal/ledger/domain"
	obscontext "github.com/Phillboard/mobul-sub000/internal/observability/context"
	obslogger "github.com/Phillboard/mobul-sub000/internal/observability/logger"
	obsmetrics "github.com/Phillboard/mobul-sub000/internal/observability/metrics"
	pricingdomain "github.com/Phillboard/mobul-sub000/internal/pricing/domain"
	"github.com/Phillboard/mobul-sub000/internal/providers/slack"
	provisioningdomain "github.com/Phillboard/mobul-sub000/internal/provisioning/domain"
	vendor "github.com/Phillboard/mobul-sub000/internal/vendors"
	vendordomain "github.com/Phillboard/mobul-sub000/internal/vendors/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Cfg         config.Config
	CfgHolder   *config.ProvisioningConfigHolder
	Campaigns   campaigndomain.Service
	Brands      branddomain.Service
	Inventory   inventorydomain.Service
	Pricing     pricingdomain.Service
	Ledger      ledgerdomain.Service
	Checkpoints checkpointdomain.Service
	Vendors     *vendor.Provisioners
	Outbox      *events.Outbox      `optional:"true"`
	Slack       slack.Provider      `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	cfg         config.Config
	cfgHolder   *config.ProvisioningConfigHolder
	campaigns   campaigndomain.Service
	brands      branddomain.Service
	inventory   inventorydomain.Service
	pricing     pricingdomain.Service
	ledger      ledgerdomain.Service
	checkpoints checkpointdomain.Service
	vendors     *vendor.Provisioners
	outbox      *events.Outbox
	slack       slack.Provider
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) provisioningdomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("provisioning.service"),
		cfg:         p.Cfg,
		cfgHolder:   p.CfgHolder,
		campaigns:   p.Campaigns,
		brands:      p.Brands,
		inventory:   p.Inventory,
		pricing:     p.Pricing,
		ledger:      p.Ledger,
		checkpoints: p.Checkpoints,
		vendors:     p.Vendors,
		outbox:      p.Outbox,
		slack:       p.Slack,
		obsMetrics:  p.ObsMetrics,
	}
}

// provisionMode distinguishes the three entry points. All share the core.
type provisionMode struct {
	source  string
	notify  bool
	sandbox bool
}

func (s *Service) Provision(ctx context.Context, req provisioningdomain.ProvisionRequest) provisioningdomain.Result {
	return s.provision(ctx, req, provisionMode{source: "direct"})
}

func (s *Service) ProvisionAndNotify(ctx context.Context, req provisioningdomain.ProvisionRequest) provisioningdomain.Result {
	return s.provision(ctx, req, provisionMode{source: "call_center", notify: true})
}

func (s *Service) ProvisionSandbox(ctx context.Context, req provisioningdomain.ProvisionRequest) provisioningdomain.Result {
	return s.provision(ctx, req, provisionMode{source: "sandbox", sandbox: true})
}

// provision runs the nine-step allocation pipeline. It never returns an
// error: every failure, including a panic, becomes a structured Result.
func (s *Service) provision(ctx context.Context, req provisioningdomain.ProvisionRequest, mode provisionMode) (result provisioningdomain.Result) {
	requestID := req.RequestID
	if requestID == "" {
		requestID = obscontext.RequestIDFromContext(ctx)
	}
	if requestID == "" {
		requestID = obscontext.NewRequestID()
	}
	req.RequestID = requestID

	trace := NewTrace(requestID, s.checkpoints)
	log := obslogger.FromContext(ctx).Named("provisioning").With(zap.String("request_id", requestID))

	currentStep := provisioningdomain.StepValidateInput
	defer func() {
		if r := recover(); r != nil {
			log.Error("provision panicked",
				zap.String("step", currentStep),
				zap.Any("panic", r),
			)
			trace.Failed(ctx, currentStep, provisioningdomain.CodeInternalError, map[string]any{
				"panic": fmt.Sprintf("%v", r),
			})
			result = s.fail(ctx, trace, currentStep, provisioningdomain.CodeInternalError,
				"unexpected internal error", nil, mode, false)
		}
	}()

	// Step 1: validate. Nothing has touched storage yet, so a failure here
	// has zero side effects beyond its checkpoint.
	trace.Started(ctx, provisioningdomain.StepValidateInput)
	if missing := missingParameters(req); len(missing) > 0 {
		return s.fail(ctx, trace, provisioningdomain.StepValidateInput,
			provisioningdomain.CodeMissingParameters,
			fmt.Sprintf("missing or invalid parameters: %v", missing),
			map[string]any{"missing": missing}, mode, true)
	}
	trace.Completed(ctx, provisioningdomain.StepValidateInput, nil)

	// Step 2: who pays.
	currentStep = provisioningdomain.StepResolveBillingEntity
	trace.Started(ctx, currentStep)
	entity, err := s.campaigns.ResolveBillingEntity(ctx, req.CampaignID)
	if err != nil {
		if errors.Is(err, campaigndomain.ErrNoBillingEntity) {
			return s.fail(ctx, trace, currentStep,
				provisioningdomain.CodeNoBillingEntity,
				"no billing entity resolvable for campaign",
				map[string]any{"campaign_id": req.CampaignID.String()}, mode, true)
		}
		return s.internalError(ctx, trace, currentStep, err, mode)
	}
	trace.Completed(ctx, currentStep, map[string]any{
		"entity_type": string(entity.Type),
		"entity_id":   entity.ID.String(),
	})

	// Step 3: advisory credit check against face value; the real price is
	// not resolved yet. A shortfall warns and continues.
	var warnings []provisioningdomain.Warning
	currentStep = provisioningdomain.StepCheckCredits
	trace.Started(ctx, currentStep)
	if entity.Credits < req.Denomination {
		warnings = append(warnings, provisioningdomain.Warning{
			Code: provisioningdomain.WarnInsufficientCredits,
			Message: fmt.Sprintf("%s balance %d is below face value %d",
				entity.Type, entity.Credits, req.Denomination),
		})
		trace.Completed(ctx, currentStep, map[string]any{
			"warning": provisioningdomain.WarnInsufficientCredits,
			"balance": entity.Credits,
		})
	} else {
		trace.Completed(ctx, currentStep, nil)
	}

	// Step 4: brand must exist and be enabled.
	currentStep = provisioningdomain.StepLoadBrand
	trace.Started(ctx, currentStep)
	brand, err := s.brands.GetEnabled(ctx, req.BrandID)
	if err != nil {
		if errors.Is(err, branddomain.ErrBrandNotFound) ||
			errors.Is(err, branddomain.ErrBrandDisabled) ||
			errors.Is(err, branddomain.ErrInvalidBrandID) {
			return s.fail(ctx, trace, currentStep,
				provisioningdomain.CodeBrandNotFound,
				"brand not found or disabled",
				map[string]any{"brand_id": req.BrandID.String()}, mode, true)
		}
		return s.internalError(ctx, trace, currentStep, err, mode)
	}
	trace.Completed(ctx, currentStep, map[string]any{"brand": brand.Slug})

	// Step 5: the atomic claim.
	currentStep = provisioningdomain.StepClaimInventory
	trace.Started(ctx, currentStep)
	card, err := s.inventory.Claim(ctx, req.BrandID, req.Denomination, req.CampaignID, req.RecipientID)
	if err != nil {
		return s.internalError(ctx, trace, currentStep, err, mode)
	}

	source := provisioningdomain.SourceInventory
	if card != nil {
		trace.Completed(ctx, currentStep, map[string]any{"card_id": card.ID.String()})
	} else {
		trace.Completed(ctx, currentStep, map[string]any{"found": false})

		// Step 6: vendor fallback.
		currentStep = provisioningdomain.StepVendorFallback
		trace.Started(ctx, currentStep)
		card, warnings, result = s.vendorFallback(ctx, trace, req, brand, mode, warnings)
		if card == nil {
			return result
		}
		source = provisioningdomain.SourceVendor
	}

	// Step 7: what to bill.
	currentStep = provisioningdomain.StepResolvePricing
	trace.Started(ctx, currentStep)
	quote, err := s.pricing.Resolve(ctx, req.BrandID, req.Denomination, entity.Type, card.CostPerCard)
	if err != nil {
		return s.internalError(ctx, trace, currentStep, err, mode)
	}
	trace.Completed(ctx, currentStep, map[string]any{
		"amount_billed": quote.AmountBilled,
		"cost_basis":    quote.CostBasis,
		"custom":        quote.UsedCustomPricing,
	})

	// Step 8: the charge. A write failure here is a warning, not a failed
	// provision: the card is already committed to the recipient.
	currentStep = provisioningdomain.StepRecordLedger
	trace.Started(ctx, currentStep)
	billing := provisioningdomain.BillingSummary{
		EntityType:   entity.Type,
		EntityID:     entity.ID,
		EntityName:   entity.Name,
		AmountBilled: quote.AmountBilled,
		Profit:       quote.AmountBilled - quote.CostBasis,
	}

	transactionType := ledgerdomain.TransactionPurchaseFromInventory
	if source == provisioningdomain.SourceVendor {
		transactionType = ledgerdomain.TransactionPurchaseFromVendor
	}
	metadata := map[string]any{"source": source}
	if mode.sandbox {
		metadata["sandbox"] = true
	}

	ledgerID, _, err := s.ledger.Record(ctx, ledgerdomain.RecordRequest{
		RequestID:       requestID,
		TransactionType: transactionType,
		EntityType:      entity.Type,
		EntityID:        entity.ID,
		CampaignID:      req.CampaignID,
		RecipientID:     req.RecipientID,
		BrandID:         req.BrandID,
		Denomination:    req.Denomination,
		AmountBilled:    quote.AmountBilled,
		CostBasis:       quote.CostBasis,
		InventoryCardID: card.ID,
		Metadata:        metadata,
	})
	if err != nil {
		log.Error("ledger write failed after allocation",
			zap.String("card_id", card.ID.String()),
			zap.Error(err),
		)
		trace.Failed(ctx, currentStep, provisioningdomain.WarnLedgerWriteFailed, map[string]any{
			"card_id": card.ID.String(),
		})
		warnings = append(warnings, provisioningdomain.Warning{
			Code:    provisioningdomain.WarnLedgerWriteFailed,
			Message: "card allocated but the billing ledger write failed; reconciliation will surface the gap",
		})
		s.alertLedgerGap(ctx, requestID, card.ID)
	} else {
		billing.LedgerID = &ledgerID
		trace.Completed(ctx, currentStep, map[string]any{"ledger_id": ledgerID.String()})
	}

	// Step 9: respond.
	currentStep = provisioningdomain.StepRespond
	trace.Started(ctx, currentStep)
	result = provisioningdomain.Result{
		Success:   true,
		RequestID: requestID,
		Source:    source,
		Card: &provisioningdomain.CardSummary{
			ID:             card.ID,
			BrandID:        brand.ID,
			BrandName:      brand.Name,
			Denomination:   card.Denomination,
			Code:           card.Code,
			Number:         card.Number,
			ExpirationDate: card.ExpirationDate,
		},
		Billing:  &billing,
		Warnings: warnings,
	}
	trace.Completed(ctx, provisioningdomain.StepRespond, map[string]any{"source": source})
	s.obsMetrics.RecordProvisionRequest(ctx, "success", source)

	if mode.notify {
		s.enqueueNotification(ctx, req, brand, card)
	}
	return result
}

func missingParameters(req provisioningdomain.ProvisionRequest) []string {
	var missing []string
	if req.CampaignID == 0 {
		missing = append(missing, "campaignId")
	}
	if req.RecipientID == 0 {
		missing = append(missing, "recipientId")
	}
	if req.BrandID == 0 {
		missing = append(missing, "brandId")
	}
	if req.Denomination <= 0 {
		missing = append(missing, "denomination")
	}
	return missing
}

// vendorFallback purchases from the vendor when the pool is dry. A nil card
// in the return means the result is final (a structured failure).
func (s *Service) vendorFallback(
	ctx context.Context,
	trace *Trace,
	req provisioningdomain.ProvisionRequest,
	brand *branddomain.Brand,
	mode provisionMode,
	warnings []provisioningdomain.Warning,
) (*inventorydomain.InventoryCard, []provisioningdomain.Warning, provisioningdomain.Result) {
	step := provisioningdomain.StepVendorFallback

	provisioner := s.vendors.Live
	if mode.sandbox {
		provisioner = s.vendors.Sandbox
	}

	if !brand.HasVendorFallback() || provisioner == nil {
		detail := map[string]any{"brand_id": brand.ID.String()}
		if available, err := s.inventory.Availability(ctx, brand.ID); err == nil {
			denominations := make([]int64, 0, len(available))
			for _, count := range available {
				denominations = append(denominations, count.Denomination)
			}
			detail["available_denominations"] = denominations
		}
		result := s.fail(ctx, trace, step, provisioningdomain.CodeNoInventory,
			"no inventory for the requested denomination and no vendor fallback",
			detail, mode, true)
		return nil, warnings, result
	}

	token := IdempotencyToken(req.CampaignID, req.RecipientID, req.RequestID)
	vendorCard, err := provisioner.ProvisionCard(ctx, vendordomain.VendorRequest{
		BrandCode:        *brand.VendorBrandCode,
		Denomination:     req.Denomination,
		Currency:         brand.Currency,
		IdempotencyToken: token,
	})
	if err != nil {
		s.obsMetrics.RecordVendorCall(ctx, "error")
		s.alertVendorFailure(ctx, req.RequestID, brand.Slug, err)
		result := s.fail(ctx, trace, step, provisioningdomain.CodeVendorFailed,
			"vendor provisioning failed",
			map[string]any{"provider": provisioner.Provider()}, mode, true)
		return nil, warnings, result
	}
	s.obsMetrics.RecordVendorCall(ctx, "success")

	card := &inventorydomain.InventoryCard{
		BrandID:             brand.ID,
		Denomination:        req.Denomination,
		Code:                vendorCard.Code,
		Number:              vendorCard.Number,
		ExpirationDate:      vendorCard.ExpirationDate,
		AssignedRecipientID: &req.RecipientID,
		AssignedCampaignID:  &req.CampaignID,
		CostPerCard:         s.vendorCost(vendorCard),
	}

	if err := s.inventory.InsertVendorCard(ctx, card); err != nil {
		// Non-fatal: the vendor already charged us, so the recipient keeps
		// the card. The insert failure is checkpointed and reconciliation
		// will find the ledger/inventory gap.
		s.log.Error("vendor card insert failed; returning card anyway",
			zap.String("request_id", req.RequestID),
			zap.String("vendor_transaction_id", vendorCard.TransactionID),
			zap.Error(err),
		)
		trace.Failed(ctx, step, "vendor_card_insert_failed", map[string]any{
			"vendor_transaction_id": vendorCard.TransactionID,
		})
	} else {
		trace.Completed(ctx, step, map[string]any{
			"card_id":               card.ID.String(),
			"vendor_transaction_id": vendorCard.TransactionID,
		})
	}

	return card, warnings, provisioningdomain.Result{}
}

// vendorCost picks the acquisition cost recorded on a vendor card: the
// configured override first, then the vendor's reported cost. Nil lets the
// pricing chain fall through to config cost basis or the estimate.
func (s *Service) vendorCost(vendorCard *vendordomain.VendorCard) *int64 {
	if s.cfg.Vendor.CostPerCard > 0 {
		cost := s.cfg.Vendor.CostPerCard
		return &cost
	}
	return vendorCard.Cost
}

func (s *Service) fail(
	ctx context.Context,
	trace *Trace,
	step, code, message string,
	detail map[string]any,
	mode provisionMode,
	checkpoint bool,
) provisioningdomain.Result {
	if checkpoint {
		trace.Failed(ctx, step, code, detail)
	}
	s.obsMetrics.RecordProvisionRequest(ctx, code, mode.source)
	return provisioningdomain.Result{
		Success:   false,
		RequestID: trace.RequestID(),
		Failure: &provisioningdomain.Failure{
			Code:     code,
			Message:  message,
			CanRetry: provisioningdomain.CanRetryCode(code),
			Step:     step,
			Detail:   detail,
		},
	}
}

func (s *Service) internalError(ctx context.Context, trace *Trace, step string, err error, mode provisionMode) provisioningdomain.Result {
	s.log.Error("provision step failed",
		zap.String("request_id", trace.RequestID()),
		zap.String("step", step),
		zap.Error(err),
	)
	return s.fail(ctx, trace, step, provisioningdomain.CodeInternalError,
		"unexpected internal error", nil, mode, true)
}

func (s *Service) enqueueNotification(ctx context.Context, req provisioningdomain.ProvisionRequest, brand *branddomain.Brand, card *inventorydomain.InventoryCard) {
	if s.outbox == nil {
		return
	}

	payload := map[string]any{
		"request_id":   req.RequestID,
		"recipient_id": req.RecipientID.String(),
		"campaign_id":  req.CampaignID.String(),
		"brand_name":   brand.Name,
		"denomination": card.Denomination,
		"card_id":      card.ID.String(),
	}
	if recipient, err := s.campaigns.GetRecipient(ctx, req.RecipientID); err == nil {
		payload["recipient_name"] = recipient.FullName
		if recipient.Phone != nil {
			payload["phone"] = *recipient.Phone
		}
	}

	if err := s.outbox.Publish(ctx, s.db, events.Event{
		Type:      events.EventCardProvisioned,
		Payload:   payload,
		DedupeKey: "card_provisioned:" + req.RequestID,
	}); err != nil {
		s.log.Warn("failed to enqueue card.provisioned event",
			zap.String("request_id", req.RequestID),
			zap.Error(err),
		)
	}
}

func (s *Service) alertLedgerGap(ctx context.Context, requestID string, cardID interface{ String() string }) {
	if s.slack == nil || !s.cfgHolder.Get().AlertOnLedgerGap {
		return
	}
	message := fmt.Sprintf(":rotating_light: ledger write failed for request %s (card %s); card issued but unbilled", requestID, cardID.String())
	if err := s.slack.PostMessage(ctx, s.cfg.Alerts.SlackChannel, message); err != nil {
		s.log.Warn("failed to post ledger gap alert", zap.Error(err))
	}
}

func (s *Service) alertVendorFailure(ctx context.Context, requestID, brandSlug string, cause error) {
	if s.slack == nil || !s.cfgHolder.Get().AlertOnVendorFailure {
		return
	}
	message := fmt.Sprintf(":warning: vendor provisioning failed for request %s (brand %s): %v", requestID, brandSlug, cause)
	if err := s.slack.PostMessage(ctx, s.cfg.Alerts.SlackChannel, message); err != nil {
		s.log.Warn("failed to post vendor failure alert", zap.Error(err))
	}
}

// IdempotencyToken derives the vendor idempotency token for one logical
// provision. It is stable across retries carrying the same request id, so
// the vendor sees a retry, not a second purchase.
func IdempotencyToken(campaignID, recipientID snowflake.ID, requestID string) string {
	digest := sha256.Sum256([]byte(campaignID.String() + "|" + recipientID.String() + "|" + requestID))
	return hex.EncodeToString(digest[:])
}
