package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Phillboard/mobul-sub000/internal/config"
	inventorydomain "github.com/Phillboard/mobul-sub000/internal/inventory/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (inventorydomain.Service, *gorm.DB, *snowflake.Node) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// One in-memory connection shared by all goroutines; a second pool
	// connection would see its own empty database.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&inventorydomain.InventoryCard{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	svc := NewService(Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		CfgHolder: config.NewStaticProvisioningConfigHolder(config.DefaultProvisioningConfig()),
	})
	return svc, db, node
}

func stockCards(t *testing.T, svc inventorydomain.Service, brandID snowflake.ID, denomination int64, n int) []inventorydomain.InventoryCard {
	t.Helper()

	rows := make([]inventorydomain.StockRow, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, inventorydomain.StockRow{
			Denomination: denomination,
			Code:         fmt.Sprintf("GC-%d-%06d", denomination, i),
			CostSource:   inventorydomain.CostSourceCSV,
		})
	}
	cards, err := svc.BulkStock(context.Background(), brandID, rows)
	if err != nil {
		t.Fatalf("bulk stock: %v", err)
	}
	return cards
}

func TestClaimAssignsOneCard(t *testing.T) {
	svc, _, node := newTestService(t)
	ctx := context.Background()
	brandID := node.Generate()
	campaignID := node.Generate()
	recipientID := node.Generate()

	stockCards(t, svc, brandID, 2500, 1)

	card, err := svc.Claim(ctx, brandID, 2500, campaignID, recipientID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if card == nil {
		t.Fatalf("expected a card")
	}
	if card.Status != inventorydomain.StatusAssigned {
		t.Fatalf("expected assigned, got %s", card.Status)
	}
	if card.AssignedRecipientID == nil || *card.AssignedRecipientID != recipientID {
		t.Fatalf("recipient not stamped")
	}
	if card.AssignedCampaignID == nil || *card.AssignedCampaignID != campaignID {
		t.Fatalf("campaign not stamped")
	}
	if card.AssignedAt == nil {
		t.Fatalf("assigned_at not stamped")
	}
}

func TestClaimEmptyPoolReturnsNil(t *testing.T) {
	svc, _, node := newTestService(t)

	card, err := svc.Claim(context.Background(), node.Generate(), 2500, node.Generate(), node.Generate())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if card != nil {
		t.Fatalf("expected nil card on empty pool, got %v", card.ID)
	}
}

func TestClaimIgnoresOtherDenominations(t *testing.T) {
	svc, _, node := newTestService(t)
	ctx := context.Background()
	brandID := node.Generate()

	stockCards(t, svc, brandID, 5000, 3)

	card, err := svc.Claim(ctx, brandID, 2500, node.Generate(), node.Generate())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if card != nil {
		t.Fatalf("claimed a card of the wrong denomination")
	}
}

// With K available cards and more than K concurrent claims, exactly K must
// succeed and no card may be handed out twice.
func TestClaimConcurrentNoDoubleAllocation(t *testing.T) {
	svc, _, node := newTestService(t)
	brandID := node.Generate()
	campaignID := node.Generate()

	const stock = 5
	const claimers = 20
	stockCards(t, svc, brandID, 2500, stock)

	var mu sync.Mutex
	claimed := make(map[snowflake.ID]int)
	successes := 0

	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			card, err := svc.Claim(context.Background(), brandID, 2500, campaignID, node.Generate())
			if err != nil || card == nil {
				return
			}
			mu.Lock()
			claimed[card.ID]++
			successes++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if successes > stock {
		t.Fatalf("more successes (%d) than stock (%d)", successes, stock)
	}
	for id, count := range claimed {
		if count > 1 {
			t.Fatalf("card %s allocated %d times", id, count)
		}
	}
}

func TestRevokeReasonLength(t *testing.T) {
	svc, _, node := newTestService(t)
	ctx := context.Background()
	brandID := node.Generate()

	stockCards(t, svc, brandID, 2500, 2)
	card, err := svc.Claim(ctx, brandID, 2500, node.Generate(), node.Generate())
	if err != nil || card == nil {
		t.Fatalf("claim: %v", err)
	}

	if _, err := svc.Revoke(ctx, card.ID, "too short", false); err != inventorydomain.ErrRevokeReasonTooShort {
		t.Fatalf("expected revoke_reason_too_short for 9 chars, got %v", err)
	}
	if _, err := svc.Revoke(ctx, card.ID, "long enuff", false); err != nil {
		t.Fatalf("expected 10-char reason accepted, got %v", err)
	}
}

func TestRevokeClearsAssignmentAndBlocksDoubleRevoke(t *testing.T) {
	svc, _, node := newTestService(t)
	ctx := context.Background()
	brandID := node.Generate()

	stockCards(t, svc, brandID, 2500, 1)
	card, err := svc.Claim(ctx, brandID, 2500, node.Generate(), node.Generate())
	if err != nil || card == nil {
		t.Fatalf("claim: %v", err)
	}

	res, err := svc.Revoke(ctx, card.ID, "recipient reported the code as compromised", false)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if res.Card.Status != inventorydomain.StatusRevoked {
		t.Fatalf("expected revoked, got %s", res.Card.Status)
	}
	if res.Card.AssignedRecipientID != nil || res.Card.AssignedCampaignID != nil {
		t.Fatalf("assignment linkage not cleared")
	}

	if _, err := svc.Revoke(ctx, card.ID, "second attempt on same card", false); err != inventorydomain.ErrAlreadyRevoked {
		t.Fatalf("expected card_already_revoked, got %v", err)
	}
}

func TestRevokeReturnToPoolMakesCardClaimable(t *testing.T) {
	svc, _, node := newTestService(t)
	ctx := context.Background()
	brandID := node.Generate()

	stockCards(t, svc, brandID, 2500, 1)
	card, err := svc.Claim(ctx, brandID, 2500, node.Generate(), node.Generate())
	if err != nil || card == nil {
		t.Fatalf("claim: %v", err)
	}

	if _, err := svc.Revoke(ctx, card.ID, "delivery bounced, restocking card", true); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	again, err := svc.Claim(ctx, brandID, 2500, node.Generate(), node.Generate())
	if err != nil {
		t.Fatalf("re-claim: %v", err)
	}
	if again == nil || again.ID != card.ID {
		t.Fatalf("returned card not re-claimable")
	}
}

func TestRevokeVendorSourcedCardWarns(t *testing.T) {
	svc, _, node := newTestService(t)
	ctx := context.Background()
	brandID := node.Generate()
	recipientID := node.Generate()
	campaignID := node.Generate()
	cost := int64(2375)

	card := &inventorydomain.InventoryCard{
		BrandID:             brandID,
		Denomination:        2500,
		Code:                "VEND-123456789",
		AssignedRecipientID: &recipientID,
		AssignedCampaignID:  &campaignID,
		CostPerCard:         &cost,
	}
	if err := svc.InsertVendorCard(ctx, card); err != nil {
		t.Fatalf("insert vendor card: %v", err)
	}
	if card.CostSource != inventorydomain.CostSourceVendor {
		t.Fatalf("expected vendor_api cost source, got %s", card.CostSource)
	}

	res, err := svc.Revoke(ctx, card.ID, "vendor card issued to wrong recipient", false)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if res.Warning == "" {
		t.Fatalf("expected a vendor purchase warning")
	}
}

func TestAvailabilityCountsPerDenomination(t *testing.T) {
	svc, _, node := newTestService(t)
	ctx := context.Background()
	brandID := node.Generate()

	stockCards(t, svc, brandID, 2500, 3)
	stockCards(t, svc, brandID, 5000, 1)

	// One claim removes a 2500 card from the pool.
	if card, err := svc.Claim(ctx, brandID, 2500, node.Generate(), node.Generate()); err != nil || card == nil {
		t.Fatalf("claim: %v", err)
	}

	counts, err := svc.Availability(ctx, brandID)
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if len(counts) != 2 {
		t.Fatalf("expected 2 denominations, got %d", len(counts))
	}
	if counts[0].Denomination != 2500 || counts[0].Available != 2 {
		t.Fatalf("unexpected 2500 count: %+v", counts[0])
	}
	if counts[1].Denomination != 5000 || counts[1].Available != 1 {
		t.Fatalf("unexpected 5000 count: %+v", counts[1])
	}
}

func TestMarkDeliveredOnlyFromAssigned(t *testing.T) {
	svc, _, node := newTestService(t)
	ctx := context.Background()
	brandID := node.Generate()

	cards := stockCards(t, svc, brandID, 2500, 1)
	if err := svc.MarkDelivered(ctx, cards[0].ID); err != inventorydomain.ErrNotDeliverable {
		t.Fatalf("expected card_not_deliverable for available card, got %v", err)
	}

	claimed, err := svc.Claim(ctx, brandID, 2500, node.Generate(), node.Generate())
	if err != nil || claimed == nil {
		t.Fatalf("claim: %v", err)
	}
	if err := svc.MarkDelivered(ctx, claimed.ID); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}

	got, err := svc.Get(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != inventorydomain.StatusDelivered {
		t.Fatalf("expected delivered, got %s", got.Status)
	}
}

func TestExpireSweepOnlyTouchesAvailablePastDate(t *testing.T) {
	svc, db, node := newTestService(t)
	ctx := context.Background()
	brandID := node.Generate()
	now := time.Now().UTC()
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)

	rows := []inventorydomain.StockRow{
		{Denomination: 2500, Code: "GC-EXP-000001", ExpirationDate: &past},
		{Denomination: 2500, Code: "GC-EXP-000002", ExpirationDate: &future},
		{Denomination: 2500, Code: "GC-EXP-000003"},
		{Denomination: 2500, Code: "GC-EXP-000004", ExpirationDate: &past},
	}
	cards, err := svc.BulkStock(ctx, brandID, rows)
	if err != nil {
		t.Fatalf("bulk stock: %v", err)
	}

	// An assigned card past its date stays untouched.
	if err := db.Exec("UPDATE inventory_cards SET status = ? WHERE id = ?",
		inventorydomain.StatusAssigned, cards[3].ID).Error; err != nil {
		t.Fatalf("seed assigned: %v", err)
	}

	expired, err := svc.ExpireSweep(ctx, now, 100)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expected 1 expired, got %d", expired)
	}

	var statuses []string
	if err := db.Raw("SELECT status FROM inventory_cards ORDER BY code ASC").Scan(&statuses).Error; err != nil {
		t.Fatalf("scan: %v", err)
	}
	want := []string{"expired", "available", "available", "assigned"}
	for i, status := range statuses {
		if status != want[i] {
			t.Fatalf("card %d: expected %s, got %s", i, want[i], status)
		}
	}
}
