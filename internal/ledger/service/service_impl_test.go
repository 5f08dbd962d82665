package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	accountdomain "github.com/Phillboard/mobul-sub000/internal/account/domain"
	inventorydomain "github.com/Phillboard/mobul-sub000/internal/inventory/domain"
	ledgerdomain "github.com/Phillboard/mobul-sub000/internal/ledger/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (ledgerdomain.Service, *gorm.DB, *snowflake.Node) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&ledgerdomain.BillingLedgerEntry{},
		&inventorydomain.InventoryCard{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	svc := NewService(Params{DB: db, Log: zap.NewNop(), GenID: node})
	return svc, db, node
}

func sampleRecord(node *snowflake.Node, requestID string) ledgerdomain.RecordRequest {
	return ledgerdomain.RecordRequest{
		RequestID:       requestID,
		TransactionType: ledgerdomain.TransactionPurchaseFromInventory,
		EntityType:      accountdomain.EntityTypeClient,
		EntityID:        node.Generate(),
		CampaignID:      node.Generate(),
		RecipientID:     node.Generate(),
		BrandID:         node.Generate(),
		Denomination:    2500,
		AmountBilled:    2800,
		CostBasis:       2200,
		InventoryCardID: node.Generate(),
		Metadata:        map[string]any{"source": "inventory"},
	}
}

func TestRecordDerivesProfit(t *testing.T) {
	svc, db, node := newTestService(t)
	requestID := ulid.Make().String()

	id, inserted, err := svc.Record(context.Background(), sampleRecord(node, requestID))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !inserted {
		t.Fatalf("expected insert")
	}

	var entry ledgerdomain.BillingLedgerEntry
	if err := db.First(&entry, "id = ?", id).Error; err != nil {
		t.Fatalf("load entry: %v", err)
	}
	if entry.Profit != 600 {
		t.Fatalf("profit %d, want 2800-2200=600", entry.Profit)
	}
	if entry.Metadata["request_id"] != requestID {
		t.Fatalf("request_id missing from metadata")
	}
}

func TestRecordSameRequestIDInsertsOnce(t *testing.T) {
	svc, db, node := newTestService(t)
	ctx := context.Background()
	requestID := ulid.Make().String()
	req := sampleRecord(node, requestID)

	firstID, inserted, err := svc.Record(ctx, req)
	if err != nil || !inserted {
		t.Fatalf("first record: inserted=%v err=%v", inserted, err)
	}

	secondID, inserted, err := svc.Record(ctx, req)
	if err != nil {
		t.Fatalf("second record: %v", err)
	}
	if inserted {
		t.Fatalf("replay inserted a second row")
	}
	if secondID != firstID {
		t.Fatalf("replay returned %s, want %s", secondID, firstID)
	}

	var count int64
	if err := db.Model(&ledgerdomain.BillingLedgerEntry{}).
		Where("request_id = ?", requestID).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row, got %d", count)
	}
}

func TestRecordValidation(t *testing.T) {
	svc, _, node := newTestService(t)
	ctx := context.Background()

	req := sampleRecord(node, "")
	if _, _, err := svc.Record(ctx, req); err != ledgerdomain.ErrInvalidRequestID {
		t.Fatalf("expected invalid_request_id, got %v", err)
	}

	req = sampleRecord(node, ulid.Make().String())
	req.TransactionType = "refund"
	if _, _, err := svc.Record(ctx, req); err != ledgerdomain.ErrInvalidTransactionType {
		t.Fatalf("expected invalid_transaction_type, got %v", err)
	}

	req = sampleRecord(node, ulid.Make().String())
	req.EntityID = 0
	if _, _, err := svc.Record(ctx, req); err != ledgerdomain.ErrInvalidEntity {
		t.Fatalf("expected invalid_billed_entity, got %v", err)
	}

	req = sampleRecord(node, ulid.Make().String())
	req.AmountBilled = -1
	if _, _, err := svc.Record(ctx, req); err != ledgerdomain.ErrInvalidAmount {
		t.Fatalf("expected invalid_amount, got %v", err)
	}
}

func TestListFiltersAndPaginates(t *testing.T) {
	svc, _, node := newTestService(t)
	ctx := context.Background()

	entityID := node.Generate()
	campaignID := node.Generate()
	for i := 0; i < 5; i++ {
		req := sampleRecord(node, fmt.Sprintf("req-%s-%d", ulid.Make(), i))
		req.EntityID = entityID
		req.CampaignID = campaignID
		if _, _, err := svc.Record(ctx, req); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	// Noise for another entity.
	if _, _, err := svc.Record(ctx, sampleRecord(node, ulid.Make().String())); err != nil {
		t.Fatalf("record noise: %v", err)
	}

	req := ledgerdomain.ListRequest{
		EntityType: accountdomain.EntityTypeClient,
		EntityID:   entityID,
	}
	req.PageSize = 3

	page1, err := svc.List(ctx, req)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page1.Entries) != 3 {
		t.Fatalf("page 1: expected 3 entries, got %d", len(page1.Entries))
	}
	if !page1.HasMore {
		t.Fatalf("page 1 should have more")
	}

	req.PageToken = page1.NextPageToken
	page2, err := svc.List(ctx, req)
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(page2.Entries) != 2 {
		t.Fatalf("page 2: expected 2 entries, got %d", len(page2.Entries))
	}
	if page2.HasMore {
		t.Fatalf("page 2 should be the last page")
	}

	seen := map[snowflake.ID]bool{}
	for _, entry := range append(page1.Entries, page2.Entries...) {
		if seen[entry.ID] {
			t.Fatalf("entry %s returned twice", entry.ID)
		}
		seen[entry.ID] = true
		if entry.BilledEntityID != entityID {
			t.Fatalf("foreign entity leaked into filtered listing")
		}
	}
}

func TestUnbilledCardsFindsGaps(t *testing.T) {
	svc, db, node := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()
	recipientID := node.Generate()
	campaignID := node.Generate()

	billedCard := inventorydomain.InventoryCard{
		ID:                  node.Generate(),
		BrandID:             node.Generate(),
		Denomination:        2500,
		Code:                "GC-BILLED-0001",
		Status:              inventorydomain.StatusAssigned,
		AssignedRecipientID: &recipientID,
		AssignedCampaignID:  &campaignID,
		AssignedAt:          &now,
	}
	unbilledCard := billedCard
	unbilledCard.ID = node.Generate()
	unbilledCard.Code = "GC-UNBILLED-0001"
	if err := db.Create(&billedCard).Error; err != nil {
		t.Fatalf("seed billed: %v", err)
	}
	if err := db.Create(&unbilledCard).Error; err != nil {
		t.Fatalf("seed unbilled: %v", err)
	}

	req := sampleRecord(node, ulid.Make().String())
	req.InventoryCardID = billedCard.ID
	if _, _, err := svc.Record(ctx, req); err != nil {
		t.Fatalf("record: %v", err)
	}

	gaps, err := svc.UnbilledCards(ctx, now.Add(-time.Hour), 100)
	if err != nil {
		t.Fatalf("unbilled: %v", err)
	}
	if len(gaps) != 1 {
		t.Fatalf("expected 1 gap, got %d", len(gaps))
	}
	if gaps[0].CardID != unbilledCard.ID {
		t.Fatalf("gap %s, want %s", gaps[0].CardID, unbilledCard.ID)
	}
}
