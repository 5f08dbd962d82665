package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
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
	provisioningservice "github.com/Phillboard/mobul-sub000/internal/provisioning/service"
	vendor "github.com/Phillboard/mobul-sub000/internal/vendors"
	"github.com/Phillboard/mobul-sub000/internal/vendors/adapters/sandbox"
	vendordomain "github.com/Phillboard/mobul-sub000/internal/vendors/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type serverEnv struct {
	srv       *Server
	db        *gorm.DB
	node      *snowflake.Node
	accounts  accountdomain.Service
	brands    branddomain.Service
	campaigns campaigndomain.Service
	inventory inventorydomain.Service
}

func newServerEnv(t *testing.T) *serverEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

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

	node, err := snowflake.NewNode(9)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	log := zap.NewNop()
	holder := config.NewStaticProvisioningConfigHolder(config.DefaultProvisioningConfig())
	cfg := config.Config{}

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

	provisioner := provisioningservice.NewService(provisioningservice.Params{
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
		Vendors:     &vendor.Provisioners{Live: sbx, Sandbox: sbx},
		Outbox:      outbox,
	})

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	srv := &Server{
		engine:        engine,
		cfg:           cfg,
		db:            db,
		genID:         node,
		accountSvc:    accounts,
		brandSvc:      brands,
		campaignSvc:   campaigns,
		inventorySvc:  inventory,
		pricingSvc:    pricing,
		ledgerSvc:     ledger,
		checkpointSvc: checkpoints,
		provisioner:   provisioner,
	}
	srv.registerProvisionRoutes()
	srv.registerInventoryRoutes()
	srv.registerLedgerRoutes()
	srv.registerAdminRoutes()

	return &serverEnv{
		srv:       srv,
		db:        db,
		node:      node,
		accounts:  accounts,
		brands:    brands,
		campaigns: campaigns,
		inventory: inventory,
	}
}

func (e *serverEnv) request(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body == "" {
		reader = bytes.NewBuffer(nil)
	} else {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp := httptest.NewRecorder()
	e.srv.engine.ServeHTTP(resp, req)
	return resp
}

type serverFixtures struct {
	campaignID  snowflake.ID
	recipientID snowflake.ID
	brandID     snowflake.ID
	clientID    snowflake.ID
}

func (e *serverEnv) seed(t *testing.T) serverFixtures {
	t.Helper()
	ctx := context.Background()

	client, err := e.accounts.CreateClient(ctx, accountdomain.CreateClientRequest{
		Name:    "Lakeside Clinical",
		Credits: 100000,
	})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	campaign, err := e.campaigns.CreateCampaign(ctx, campaigndomain.CreateCampaignRequest{
		Name:     "Spring Outreach",
		ClientID: client.ID,
	})
	if err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	phone := "+15550002222"
	recipient, err := e.campaigns.CreateRecipient(ctx, campaigndomain.CreateRecipientRequest{
		CampaignID: campaign.ID,
		FullName:   "Casey Morgan",
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

	return serverFixtures{
		campaignID:  campaign.ID,
		recipientID: recipient.ID,
		brandID:     brand.ID,
		clientID:    client.ID,
	}
}

func (e *serverEnv) stock(t *testing.T, brandID snowflake.ID, denomination int64, count int) {
	t.Helper()
	rows := make([]inventorydomain.StockRow, 0, count)
	for i := 0; i < count; i++ {
		rows = append(rows, inventorydomain.StockRow{
			Denomination: denomination,
			Code:         fmt.Sprintf("GC-%d-%04d", denomination, i),
		})
	}
	if _, err := e.inventory.BulkStock(context.Background(), brandID, rows); err != nil {
		t.Fatalf("stock cards: %v", err)
	}
}

func TestProvisionEndpointSuccess(t *testing.T) {
	env := newServerEnv(t)
	fx := env.seed(t)
	env.stock(t, fx.brandID, 2500, 3)

	body := fmt.Sprintf(
		`{"campaign_id":"%s","recipient_id":"%s","brand_id":"%s","denomination":2500}`,
		fx.campaignID, fx.recipientID, fx.brandID,
	)
	resp := env.request(t, http.MethodPost, "/v1/provision", body)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var result struct {
		Success   bool   `json:"success"`
		RequestID string `json:"request_id"`
		Source    string `json:"source"`
		Card      *struct {
			Code string `json:"code"`
		} `json:"card"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %s", resp.Body.String())
	}
	if result.RequestID == "" {
		t.Fatal("expected request id in response")
	}
	if result.Source != "inventory" {
		t.Fatalf("expected inventory source, got %q", result.Source)
	}
	if result.Card == nil || result.Card.Code == "" {
		t.Fatal("expected card code in authorized response")
	}
}

func TestProvisionEndpointEngineFailureStays200(t *testing.T) {
	env := newServerEnv(t)
	fx := env.seed(t)

	body := fmt.Sprintf(
		`{"campaign_id":"%d","recipient_id":"%s","brand_id":"%s","denomination":2500}`,
		env.node.Generate(), fx.recipientID, fx.brandID,
	)
	resp := env.request(t, http.MethodPost, "/v1/provision", body)

	if resp.Code != http.StatusOK {
		t.Fatalf("engine outcomes answer 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var result struct {
		Success bool `json:"success"`
		Failure *struct {
			Code string `json:"code"`
		} `json:"failure"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure result")
	}
	if result.Failure == nil || result.Failure.Code != "campaign_not_found" {
		t.Fatalf("expected campaign_not_found, got %s", resp.Body.String())
	}
}

func TestProvisionEndpointMalformedJSONReturns400(t *testing.T) {
	env := newServerEnv(t)

	resp := env.request(t, http.MethodPost, "/v1/provision", `{"campaign_id":`)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "validation_error") {
		t.Fatalf("expected validation error envelope, got %s", resp.Body.String())
	}
}

func TestCheckpointTrailEndpoint(t *testing.T) {
	env := newServerEnv(t)
	fx := env.seed(t)
	env.stock(t, fx.brandID, 2500, 1)

	body := fmt.Sprintf(
		`{"campaign_id":"%s","recipient_id":"%s","brand_id":"%s","denomination":2500,"request_id":"trail-req-1"}`,
		fx.campaignID, fx.recipientID, fx.brandID,
	)
	if resp := env.request(t, http.MethodPost, "/v1/provision", body); resp.Code != http.StatusOK {
		t.Fatalf("provision failed: %d", resp.Code)
	}

	resp := env.request(t, http.MethodGet, "/v1/provision/trail-req-1/checkpoints", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var trail struct {
		RequestID   string `json:"request_id"`
		Checkpoints []struct {
			Step   string `json:"step"`
			Status string `json:"status"`
		} `json:"checkpoints"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &trail); err != nil {
		t.Fatalf("decode trail: %v", err)
	}
	if trail.RequestID != "trail-req-1" {
		t.Fatalf("unexpected request id %q", trail.RequestID)
	}
	if len(trail.Checkpoints) == 0 {
		t.Fatal("expected checkpoints in trail")
	}
	last := trail.Checkpoints[len(trail.Checkpoints)-1]
	if last.Step != "respond" || last.Status != "completed" {
		t.Fatalf("expected completed respond step, got %+v", last)
	}

	missing := env.request(t, http.MethodGet, "/v1/provision/never-happened/checkpoints", "")
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown request id, got %d", missing.Code)
	}
}

func TestBulkStockAndAvailability(t *testing.T) {
	env := newServerEnv(t)
	fx := env.seed(t)

	body := fmt.Sprintf(
		`{"brand_id":"%s","rows":[{"denomination":1000,"code":"GC-SECRET-01"},{"denomination":1000,"code":"GC-SECRET-02"},{"denomination":5000,"code":"GC-SECRET-03"}]}`,
		fx.brandID,
	)
	resp := env.request(t, http.MethodPost, "/v1/inventory/stock", body)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}
	if strings.Contains(resp.Body.String(), "GC-SECRET") {
		t.Fatalf("card codes must not appear in stock response: %s", resp.Body.String())
	}

	avail := env.request(t, http.MethodGet, "/v1/inventory/availability?brand_id="+fx.brandID.String(), "")
	if avail.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", avail.Code)
	}

	var counts availabilityResponse
	if err := json.Unmarshal(avail.Body.Bytes(), &counts); err != nil {
		t.Fatalf("decode availability: %v", err)
	}
	if len(counts.Denominations) != 2 {
		t.Fatalf("expected 2 denominations, got %d", len(counts.Denominations))
	}
}

func TestRevokeCardEndpoint(t *testing.T) {
	env := newServerEnv(t)
	fx := env.seed(t)
	env.stock(t, fx.brandID, 2500, 1)

	var card inventorydomain.InventoryCard
	if err := env.db.First(&card).Error; err != nil {
		t.Fatalf("load card: %v", err)
	}

	short := env.request(t, http.MethodPost,
		fmt.Sprintf("/v1/inventory/cards/%s/revoke", card.ID),
		`{"reason":"bad"}`)
	if short.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for short reason, got %d", short.Code)
	}

	resp := env.request(t, http.MethodPost,
		fmt.Sprintf("/v1/inventory/cards/%s/revoke", card.ID),
		`{"reason":"reported stolen by recipient","return_to_pool":false}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	again := env.request(t, http.MethodPost,
		fmt.Sprintf("/v1/inventory/cards/%s/revoke", card.ID),
		`{"reason":"reported stolen by recipient"}`)
	if again.Code != http.StatusConflict {
		t.Fatalf("expected 409 for double revoke, got %d", again.Code)
	}
}

func TestLedgerEntriesEndpoint(t *testing.T) {
	env := newServerEnv(t)
	fx := env.seed(t)
	env.stock(t, fx.brandID, 2500, 2)

	body := fmt.Sprintf(
		`{"campaign_id":"%s","recipient_id":"%s","brand_id":"%s","denomination":2500}`,
		fx.campaignID, fx.recipientID, fx.brandID,
	)
	if resp := env.request(t, http.MethodPost, "/v1/provision", body); resp.Code != http.StatusOK {
		t.Fatalf("provision failed: %d", resp.Code)
	}

	resp := env.request(t, http.MethodGet, "/v1/ledger/entries?campaign_id="+fx.campaignID.String(), "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var page struct {
		Entries []struct {
			CampaignID string `json:"campaign_id"`
			Amount     int64  `json:"amount_billed"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode entries: %v", err)
	}
	if len(page.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(page.Entries))
	}

	bad := env.request(t, http.MethodGet, "/v1/ledger/entries?entity_type=vendor", "")
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad entity type, got %d", bad.Code)
	}
}

func TestReconciliationEndpointEmpty(t *testing.T) {
	env := newServerEnv(t)

	resp := env.request(t, http.MethodGet, "/v1/reconciliation", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}

	var out reconciliationResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode reconciliation: %v", err)
	}
	if out.Count != 0 {
		t.Fatalf("expected no gaps, got %d", out.Count)
	}
}

func TestAdminBrandRoutes(t *testing.T) {
	env := newServerEnv(t)

	resp := env.request(t, http.MethodPost, "/v1/brands", `{"name":"Maple Market"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	dup := env.request(t, http.MethodPost, "/v1/brands", `{"name":"Maple Market"}`)
	if dup.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate slug, got %d", dup.Code)
	}

	list := env.request(t, http.MethodGet, "/v1/brands", "")
	if list.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", list.Code)
	}
	if !strings.Contains(list.Body.String(), "maple-market") {
		t.Fatalf("expected slug in listing, got %s", list.Body.String())
	}
}

func TestAdjustCreditsEndpoint(t *testing.T) {
	env := newServerEnv(t)
	fx := env.seed(t)

	resp := env.request(t, http.MethodPost,
		fmt.Sprintf("/v1/clients/%s/credits", fx.clientID),
		`{"delta":-40000}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	get := env.request(t, http.MethodGet, fmt.Sprintf("/v1/clients/%s", fx.clientID), "")
	if get.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", get.Code)
	}
	var out struct {
		Data struct {
			Credits int64 `json:"credits"`
		} `json:"data"`
	}
	if err := json.Unmarshal(get.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode client: %v", err)
	}
	if out.Data.Credits != 60000 {
		t.Fatalf("expected 60000 credits, got %d", out.Data.Credits)
	}

	missing := env.request(t, http.MethodPost,
		fmt.Sprintf("/v1/clients/%d/credits", env.node.Generate()),
		`{"delta":100}`)
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown client, got %d", missing.Code)
	}
}

func TestRateLimitMiddlewareDisabledPassesThrough(t *testing.T) {
	env := newServerEnv(t)
	fx := env.seed(t)
	env.stock(t, fx.brandID, 2500, 1)

	// No limiter wired: every request goes straight to the engine.
	for i := 0; i < 3; i++ {
		body := fmt.Sprintf(
			`{"campaign_id":"%s","recipient_id":"%s","brand_id":"%s","denomination":2500}`,
			fx.campaignID, fx.recipientID, fx.brandID,
		)
		if resp := env.request(t, http.MethodPost, "/v1/provision", body); resp.Code != http.StatusOK {
			t.Fatalf("expected status 200 on attempt %d, got %d", i, resp.Code)
		}
	}
}
