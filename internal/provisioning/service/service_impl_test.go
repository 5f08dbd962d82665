package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	accountdomain "github.com/Phillboard/mobul-sub000/internal/account/domain"
	accountservice "github.com/Phillboard/mobul-sub000/internal/account/service"
	branddomain "github.com/Phillboard/mobul-sub000/internal/brand/domain"
	brandservice "github.com/Phillboard/mobul-sub000/internal/brand/service"
	campaigndomain "github.com/Phillboard/mobul-sub000/internal/campaign/domain"
	campaignservice "github.com/Phillboard/mobul-sub000/internal/campaign/service"
	checkpointdomain "github.com/Phillboard/mobul-sub000/internal/checkpoint/domain"
	checkpointrepository "github.com/Phillboard/mobul-sub000/internal/checkpoint/repository"
	checkpointservice "github.com/Phillboard/mobul-sub000/internal/checkpoint/service"
	"github.com/Phillboard/mobul-sub000/internal/config"
	"github.com/Phillboard/mobul-sub000/internal/events"
	inventorydomain "github.com/Phillboard/mobul-sub000/internal/inventory/domain"
	inventoryservice "github.com/Phillboard/mobul-sub000/internal/inventory/service"
	ledgerdomain "github.com/Phillboard/mobul-sub000/internal/ledger/domain"
	ledgerservice "github.com/Phillboard/mobul-sub000/internal/ledger/service"
	pricingdomain "github.com/Phillboard/mobul-sub000/internal/pricing/domain"
	pricingservice "github.com/Phillboard/mobul-sub000/internal/pricing/service"
	provisioningdomain "github.com/Phillboard/mobul-sub000/internal/provisioning/domain"
	vendor "github.com/Phillboard/mobul-sub000/internal/vendors"
	"github.com/Phillboard/mobul-sub000/internal/vendors/adapters/sandbox"
	vendordomain "github.com/Phillboard/mobul-sub000/internal/vendors/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type slackSpy struct {
	mu       sync.Mutex
	messages []string
}

func (s *slackSpy) PostMessage(_ context.Context, _ string, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message)
	return nil
}

func (s *slackSpy) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

type failingProvisioner struct{}

func (p *failingProvisioner) Provider() string { return "failing" }

func (p *failingProvisioner) ProvisionCard(context.Context, vendordomain.VendorRequest) (*vendordomain.VendorCard, error) {
	return nil, errors.New("upstream unavailable")
}

type testEnv struct {
	svc         provisioningdomain.Service
	db          *gorm.DB
	node        *snowflake.Node
	accounts    accountdomain.Service
	campaigns   campaigndomain.Service
	brands      branddomain.Service
	inventory   inventorydomain.Service
	pricing     pricingdomain.Service
	checkpoints checkpointdomain.Service
	slack       *slackSpy
}

func newTestEnv(t *testing.T, live vendordomain.Provisioner) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// sqlite :memory: is per-connection; a second pool connection would see
	// its own empty database.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("raw db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&branddomain.Brand{},
		&accountdomain.Agency{},
		&accountdomain.Client{},
		&campaigndomain.Campaign{},
		&campaigndomain.Recipient{},
		&inventorydomain.InventoryCard{},
		&pricingdomain.PricingConfig{},
		&ledgerdomain.BillingLedgerEntry{},
		&checkpointdomain.Checkpoint{},
		&events.OutboxEvent{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(7)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	log := zap.NewNop()
	holder := config.NewStaticProvisioningConfigHolder(config.DefaultProvisioningConfig())
	cfg := config.Config{
		Alerts: config.AlertConfig{SlackChannel: "#ops"},
	}

	accounts := accountservice.NewService(accountservice.Params{DB: db, Log: log, GenID: node})
	campaigns := campaignservice.NewService(campaignservice.Params{DB: db, Log: log, GenID: node, Accounts: accounts})
	brands := brandservice.NewService(brandservice.Params{DB: db, Log: log, GenID: node})
	inventory := inventoryservice.NewService(inventoryservice.Params{DB: db, Log: log, GenID: node, CfgHolder: holder})
	pricing := pricingservice.NewService(pricingservice.Params{DB: db, Log: log, GenID: node, CfgHolder: holder})
	outbox := events.NewOutbox(events.Params{Log: log, GenID: node})
	ledger := ledgerservice.NewService(ledgerservice.Params{DB: db, Log: log, GenID: node, Outbox: outbox})
	checkpoints := checkpointservice.NewService(checkpointservice.Params{
		DB: db, Log: log, GenID: node, Repo: checkpointrepository.Provide(),
	})

	sbx, err := sandbox.NewFactory().NewProvisioner(vendordomain.AdapterConfig{})
	if err != nil {
		t.Fatalf("sandbox provisioner: %v", err)
	}

	spy := &slackSpy{}
	svc := NewService(Params{
		DB:          db,
		Log:         log,
		Cfg:         cfg,
		CfgHolder:   holder,
		Campaigns:   campaigns,
		Brands:      brands,
		Inventory:   inventory,
		Pricing:     pricing,
		Ledger:      ledger,
		Checkpoints: checkpoints,
		Vendors:     &vendor.Provisioners{Live: live, Sandbox: sbx},
		Outbox:      outbox,
		Slack:       spy,
	})

	return &testEnv{
		svc:         svc,
		db:          db,
		node:        node,
		accounts:    accounts,
		campaigns:   campaigns,
		brands:      brands,
		inventory:   inventory,
		pricing:     pricing,
		checkpoints: checkpoints,
		slack:       spy,
	}
}

type fixtures struct {
	campaignID  snowflake.ID
	recipientID snowflake.ID
	brandID     snowflake.ID
	clientID    snowflake.ID
}

// seedFixtures creates a standalone client with the given credits, one
// campaign with one recipient, and a brand carrying a vendor code.
func (e *testEnv) seedFixtures(t *testing.T, credits int64) fixtures {
	t.Helper()
	ctx := context.Background()

	client, err := e.accounts.CreateClient(ctx, accountdomain.CreateClientRequest{
		Name:    "Summit Research",
		Credits: credits,
	})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	campaign, err := e.campaigns.CreateCampaign(ctx, campaigndomain.CreateCampaignRequest{
		Name:     "Q3 Diabetes Study",
		ClientID: client.ID,
	})
	if err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	phone := "+15550001111"
	recipient, err := e.campaigns.CreateRecipient(ctx, campaigndomain.CreateRecipientRequest{
		CampaignID: campaign.ID,
		FullName:   "Jordan Reyes",
		Phone:      &phone,
	})
	if err != nil {
		t.Fatalf("create recipient: %v", err)
	}
	vendorCode := "ACME"
	brand, err := e.brands.Create(ctx, branddomain.CreateBrandRequest{
		Name:            "Acme Gift Card",
		VendorBrandCode: &vendorCode,
	})
	if err != nil {
		t.Fatalf("create brand: %v", err)
	}

	return fixtures{
		campaignID:  campaign.ID,
		recipientID: recipient.ID,
		brandID:     brand.ID,
		clientID:    client.ID,
	}
}

func (e *testEnv) stockCards(t *testing.T, brandID snowflake.ID, denomination int64, count int) {
	t.Helper()
	rows := make([]inventorydomain.StockRow, 0, count)
	for i := 0; i < count; i++ {
		rows = append(rows, inventorydomain.StockRow{
			Denomination: denomination,
			Code:         fmt.Sprintf("GC-%d-%06d", denomination, i),
		})
	}
	if _, err := e.inventory.BulkStock(context.Background(), brandID, rows); err != nil {
		t.Fatalf("stock cards: %v", err)
	}
}

func (e *testEnv) ledgerCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	if err := e.db.Model(&ledgerdomain.BillingLedgerEntry{}).Count(&n).Error; err != nil {
		t.Fatalf("count ledger: %v", err)
	}
	return n
}

func provisionRequest(f fixtures, denomination int64) provisioningdomain.ProvisionRequest {
	return provisioningdomain.ProvisionRequest{
		CampaignID:   f.campaignID,
		RecipientID:  f.recipientID,
		BrandID:      f.brandID,
		Denomination: denomination,
	}
}

func TestProvisionFromInventory(t *testing.T) {
	env := newTestEnv(t, nil)
	f := env.seedFixtures(t, 10000)
	env.stockCards(t, f.brandID, 2500, 1)

	res := env.svc.Provision(context.Background(), provisionRequest(f, 2500))
	if !res.Success {
		t.Fatalf("provision failed: %+v", res.Failure)
	}
	if res.Source != provisioningdomain.SourceInventory {
		t.Fatalf("source %q, want inventory", res.Source)
	}
	if res.Card == nil || res.Card.Code == "" {
		t.Fatalf("expected card with code in response")
	}
	if res.Billing == nil || res.Billing.LedgerID == nil {
		t.Fatalf("expected billing with ledger id")
	}
	if res.Billing.AmountBilled != 2500 {
		t.Fatalf("amount billed %d, want face value 2500", res.Billing.AmountBilled)
	}
	if res.Billing.EntityType != accountdomain.EntityTypeClient || res.Billing.EntityID != f.clientID {
		t.Fatalf("billed %s %s, want client %s", res.Billing.EntityType, res.Billing.EntityID, f.clientID)
	}
	if len(res.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %+v", res.Warnings)
	}

	var card inventorydomain.InventoryCard
	if err := env.db.First(&card, "id = ?", res.Card.ID).Error; err != nil {
		t.Fatalf("load card: %v", err)
	}
	if card.Status != inventorydomain.StatusAssigned {
		t.Fatalf("card status %q, want assigned", card.Status)
	}
	if card.AssignedRecipientID == nil || *card.AssignedRecipientID != f.recipientID {
		t.Fatalf("card not assigned to recipient")
	}
	if env.ledgerCount(t) != 1 {
		t.Fatalf("ledger rows %d, want 1", env.ledgerCount(t))
	}
}

func TestProvisionChecksEveryStep(t *testing.T) {
	env := newTestEnv(t, nil)
	f := env.seedFixtures(t, 10000)
	env.stockCards(t, f.brandID, 2500, 1)

	res := env.svc.Provision(context.Background(), provisionRequest(f, 2500))
	if !res.Success {
		t.Fatalf("provision failed: %+v", res.Failure)
	}

	trail, err := env.checkpoints.Trail(context.Background(), res.RequestID)
	if err != nil {
		t.Fatalf("trail: %v", err)
	}

	completed := map[string]bool{}
	for _, cp := range trail {
		if cp.Status == checkpointdomain.StatusCompleted {
			completed[cp.Step] = true
		}
	}
	for _, step := range []string{
		provisioningdomain.StepValidateInput,
		provisioningdomain.StepResolveBillingEntity,
		provisioningdomain.StepCheckCredits,
		provisioningdomain.StepLoadBrand,
		provisioningdomain.StepClaimInventory,
		provisioningdomain.StepResolvePricing,
		provisioningdomain.StepRecordLedger,
		provisioningdomain.StepRespond,
	} {
		if !completed[step] {
			t.Fatalf("step %q not completed in trail", step)
		}
	}
	if last := trail[len(trail)-1]; last.Step != provisioningdomain.StepRespond {
		t.Fatalf("last checkpoint %q, want respond", last.Step)
	}
	for _, cp := range trail {
		for key, value := range cp.Detail {
			if s, ok := value.(string); ok && strings.Contains(s, "GC-2500") {
				t.Fatalf("checkpoint %s leaks card code in %s=%v", cp.Step, key, value)
			}
		}
	}
}

func TestProvisionMissingRecipientHasNoSideEffects(t *testing.T) {
	env := newTestEnv(t, nil)
	f := env.seedFixtures(t, 10000)
	env.stockCards(t, f.brandID, 2500, 1)

	req := provisionRequest(f, 2500)
	req.RecipientID = 0
	res := env.svc.Provision(context.Background(), req)

	if res.Success {
		t.Fatalf("expected failure")
	}
	if res.Failure.Code != provisioningdomain.CodeMissingParameters {
		t.Fatalf("code %q, want missing_parameters", res.Failure.Code)
	}
	if res.Failure.Step != provisioningdomain.StepValidateInput {
		t.Fatalf("step %q, want validate_input", res.Failure.Step)
	}
	if res.Failure.CanRetry {
		t.Fatalf("missing parameters must not be retryable")
	}

	if env.ledgerCount(t) != 0 {
		t.Fatalf("ledger rows written on validation failure")
	}
	var assigned int64
	if err := env.db.Model(&inventorydomain.InventoryCard{}).
		Where("status <> ?", inventorydomain.StatusAvailable).
		Count(&assigned).Error; err != nil {
		t.Fatalf("count cards: %v", err)
	}
	if assigned != 0 {
		t.Fatalf("%d cards left the pool on validation failure", assigned)
	}
}

func TestProvisionUnknownCampaign(t *testing.T) {
	env := newTestEnv(t, nil)
	f := env.seedFixtures(t, 10000)

	req := provisionRequest(f, 2500)
	req.CampaignID = env.node.Generate()
	res := env.svc.Provision(context.Background(), req)

	if res.Success || res.Failure.Code != provisioningdomain.CodeNoBillingEntity {
		t.Fatalf("expected no_billing_entity, got %+v", res.Failure)
	}
}

func TestProvisionDisabledBrand(t *testing.T) {
	env := newTestEnv(t, nil)
	f := env.seedFixtures(t, 10000)

	if err := env.brands.SetEnabled(context.Background(), f.brandID, false); err != nil {
		t.Fatalf("disable brand: %v", err)
	}

	res := env.svc.Provision(context.Background(), provisionRequest(f, 2500))
	if res.Success || res.Failure.Code != provisioningdomain.CodeBrandNotFound {
		t.Fatalf("expected brand_not_found, got %+v", res.Failure)
	}
}

func TestProvisionVendorFallback(t *testing.T) {
	sbx, err := sandbox.NewFactory().NewProvisioner(vendordomain.AdapterConfig{})
	if err != nil {
		t.Fatalf("sandbox provisioner: %v", err)
	}
	env := newTestEnv(t, sbx)
	f := env.seedFixtures(t, 10000)
	env.stockCards(t, f.brandID, 5000, 3) // wrong denomination, pool miss

	res := env.svc.Provision(context.Background(), provisionRequest(f, 2500))
	if !res.Success {
		t.Fatalf("provision failed: %+v", res.Failure)
	}
	if res.Source != provisioningdomain.SourceVendor {
		t.Fatalf("source %q, want vendor", res.Source)
	}
	if res.Card == nil || !strings.HasPrefix(res.Card.Code, "SBX-") {
		t.Fatalf("expected sandbox vendor card, got %+v", res.Card)
	}

	var card inventorydomain.InventoryCard
	if err := env.db.First(&card, "id = ?", res.Card.ID).Error; err != nil {
		t.Fatalf("vendor card not persisted: %v", err)
	}
	if card.Status != inventorydomain.StatusAssigned || card.CostSource != inventorydomain.CostSourceVendor {
		t.Fatalf("vendor card status=%q source=%q", card.Status, card.CostSource)
	}

	var entry ledgerdomain.BillingLedgerEntry
	if err := env.db.First(&entry, "request_id = ?", res.RequestID).Error; err != nil {
		t.Fatalf("load ledger entry: %v", err)
	}
	if entry.TransactionType != ledgerdomain.TransactionPurchaseFromVendor {
		t.Fatalf("transaction type %q, want purchase_from_vendor", entry.TransactionType)
	}
}

func TestProvisionNoInventoryNoVendor(t *testing.T) {
	env := newTestEnv(t, nil) // no live vendor configured
	f := env.seedFixtures(t, 10000)
	env.stockCards(t, f.brandID, 5000, 2)

	res := env.svc.Provision(context.Background(), provisionRequest(f, 2500))
	if res.Success {
		t.Fatalf("expected failure")
	}
	if res.Failure.Code != provisioningdomain.CodeNoInventory {
		t.Fatalf("code %q, want no_inventory", res.Failure.Code)
	}
	if !res.Failure.CanRetry {
		t.Fatalf("no_inventory should be retryable")
	}
	raw, ok := res.Failure.Detail["available_denominations"]
	if !ok {
		t.Fatalf("detail missing available_denominations: %+v", res.Failure.Detail)
	}
	denominations, ok := raw.([]int64)
	if !ok || len(denominations) != 1 || denominations[0] != 5000 {
		t.Fatalf("available denominations %v, want [5000]", raw)
	}
}

func TestProvisionVendorFailure(t *testing.T) {
	env := newTestEnv(t, &failingProvisioner{})
	f := env.seedFixtures(t, 10000)

	res := env.svc.Provision(context.Background(), provisionRequest(f, 2500))
	if res.Success {
		t.Fatalf("expected failure")
	}
	if res.Failure.Code != provisioningdomain.CodeVendorFailed {
		t.Fatalf("code %q, want vendor_provisioning_failed", res.Failure.Code)
	}
	if !res.Failure.CanRetry {
		t.Fatalf("vendor failures should be retryable")
	}
	if env.ledgerCount(t) != 0 {
		t.Fatalf("ledger written despite vendor failure")
	}
	if env.slack.count() == 0 {
		t.Fatalf("expected vendor failure alert")
	}
}

func TestProvisionLedgerFailureStillSucceeds(t *testing.T) {
	env := newTestEnv(t, nil)
	f := env.seedFixtures(t, 10000)
	env.stockCards(t, f.brandID, 2500, 1)

	if err := env.db.Migrator().DropTable(&ledgerdomain.BillingLedgerEntry{}); err != nil {
		t.Fatalf("drop ledger table: %v", err)
	}

	res := env.svc.Provision(context.Background(), provisionRequest(f, 2500))
	if !res.Success {
		t.Fatalf("ledger failure must not fail the provision: %+v", res.Failure)
	}
	if res.Billing == nil || res.Billing.LedgerID != nil {
		t.Fatalf("ledger id should be nil after a failed write")
	}

	var warned bool
	for _, w := range res.Warnings {
		if w.Code == provisioningdomain.WarnLedgerWriteFailed {
			warned = true
		}
	}
	if !warned {
		t.Fatalf("missing ledger_write_failed warning: %+v", res.Warnings)
	}
	if env.slack.count() == 0 {
		t.Fatalf("expected ledger gap alert")
	}
}

func TestProvisionInsufficientCreditsWarns(t *testing.T) {
	env := newTestEnv(t, nil)
	f := env.seedFixtures(t, 100)
	env.stockCards(t, f.brandID, 2500, 1)

	res := env.svc.Provision(context.Background(), provisionRequest(f, 2500))
	if !res.Success {
		t.Fatalf("credit shortfall must not block provisioning: %+v", res.Failure)
	}

	var warned bool
	for _, w := range res.Warnings {
		if w.Code == provisioningdomain.WarnInsufficientCredits {
			warned = true
		}
	}
	if !warned {
		t.Fatalf("missing insufficient_credits warning: %+v", res.Warnings)
	}
}

func TestProvisionReplayBillsOnce(t *testing.T) {
	env := newTestEnv(t, nil)
	f := env.seedFixtures(t, 10000)
	env.stockCards(t, f.brandID, 2500, 2)

	req := provisionRequest(f, 2500)
	req.RequestID = "retry-correlated-request"

	first := env.svc.Provision(context.Background(), req)
	second := env.svc.Provision(context.Background(), req)
	if !first.Success || !second.Success {
		t.Fatalf("provision failed: %+v %+v", first.Failure, second.Failure)
	}

	if env.ledgerCount(t) != 1 {
		t.Fatalf("ledger rows %d, want 1 for the same request id", env.ledgerCount(t))
	}
	if first.Billing.LedgerID == nil || second.Billing.LedgerID == nil ||
		*first.Billing.LedgerID != *second.Billing.LedgerID {
		t.Fatalf("replay returned a different ledger id")
	}
}

func TestProvisionSandboxTagsMetadata(t *testing.T) {
	env := newTestEnv(t, nil)
	f := env.seedFixtures(t, 10000)

	res := env.svc.ProvisionSandbox(context.Background(), provisionRequest(f, 2500))
	if !res.Success {
		t.Fatalf("sandbox provision failed: %+v", res.Failure)
	}
	if res.Source != provisioningdomain.SourceVendor {
		t.Fatalf("source %q, want vendor", res.Source)
	}

	var entry ledgerdomain.BillingLedgerEntry
	if err := env.db.First(&entry, "request_id = ?", res.RequestID).Error; err != nil {
		t.Fatalf("load ledger entry: %v", err)
	}
	if entry.Metadata["sandbox"] != true {
		t.Fatalf("ledger metadata missing sandbox=true: %+v", entry.Metadata)
	}
}

func TestProvisionAndNotifyEnqueuesEventWithoutCode(t *testing.T) {
	env := newTestEnv(t, nil)
	f := env.seedFixtures(t, 10000)
	env.stockCards(t, f.brandID, 2500, 1)

	res := env.svc.ProvisionAndNotify(context.Background(), provisionRequest(f, 2500))
	if !res.Success {
		t.Fatalf("provision failed: %+v", res.Failure)
	}

	var event events.OutboxEvent
	if err := env.db.First(&event, "type = ?", events.EventCardProvisioned).Error; err != nil {
		t.Fatalf("card.provisioned event not enqueued: %v", err)
	}
	if event.Payload["request_id"] != res.RequestID {
		t.Fatalf("payload request_id %v, want %s", event.Payload["request_id"], res.RequestID)
	}
	if event.Payload["recipient_name"] != "Jordan Reyes" {
		t.Fatalf("payload missing recipient name: %+v", event.Payload)
	}
	for key, value := range event.Payload {
		if key == "code" || key == "card_code" {
			t.Fatalf("event payload carries the card code")
		}
		if s, ok := value.(string); ok && s == res.Card.Code {
			t.Fatalf("event payload %s leaks the card code", key)
		}
	}
}

func TestProvisionAssignsRequestIDWhenMissing(t *testing.T) {
	env := newTestEnv(t, nil)
	f := env.seedFixtures(t, 10000)
	env.stockCards(t, f.brandID, 2500, 2)

	first := env.svc.Provision(context.Background(), provisionRequest(f, 2500))
	second := env.svc.Provision(context.Background(), provisionRequest(f, 2500))
	if first.RequestID == "" || second.RequestID == "" {
		t.Fatalf("request ids must be assigned")
	}
	if first.RequestID == second.RequestID {
		t.Fatalf("distinct requests share a request id")
	}
	if env.ledgerCount(t) != 2 {
		t.Fatalf("ledger rows %d, want 2", env.ledgerCount(t))
	}
}

func TestIdempotencyTokenStability(t *testing.T) {
	campaignID := snowflake.ID(1001)
	recipientID := snowflake.ID(2002)

	a := IdempotencyToken(campaignID, recipientID, "req-1")
	b := IdempotencyToken(campaignID, recipientID, "req-1")
	if a != b {
		t.Fatalf("token not stable for identical inputs")
	}
	if len(a) != 64 {
		t.Fatalf("token length %d, want 64 hex chars", len(a))
	}
	if c := IdempotencyToken(campaignID, recipientID, "req-2"); c == a {
		t.Fatalf("distinct request ids must derive distinct tokens")
	}
}
