package sandbox

import (
	"context"
	"testing"

	"github.com/Phillboard/mobul-sub000/internal/vendors/domain"
)

func TestProvisionCardIdempotentPerToken(t *testing.T) {
	provisioner, err := NewFactory().NewProvisioner(domain.AdapterConfig{})
	if err != nil {
		t.Fatalf("new provisioner: %v", err)
	}
	adapter := provisioner.(*Adapter)
	ctx := context.Background()

	req := domain.VendorRequest{
		BrandCode:        "ACME",
		Denomination:     2500,
		Currency:         "USD",
		IdempotencyToken: "token-1",
	}

	first, err := adapter.ProvisionCard(ctx, req)
	if err != nil {
		t.Fatalf("first provision: %v", err)
	}
	second, err := adapter.ProvisionCard(ctx, req)
	if err != nil {
		t.Fatalf("second provision: %v", err)
	}

	if first.Code != second.Code {
		t.Fatalf("replayed token returned a different card: %q vs %q", first.Code, second.Code)
	}
	if first.TransactionID != second.TransactionID {
		t.Fatalf("replayed token returned a different transaction")
	}
	if adapter.PurchaseCount() != 1 {
		t.Fatalf("expected exactly 1 purchase, got %d", adapter.PurchaseCount())
	}
}

func TestProvisionCardDistinctTokensBuyDistinctCards(t *testing.T) {
	provisioner, _ := NewFactory().NewProvisioner(domain.AdapterConfig{})
	adapter := provisioner.(*Adapter)
	ctx := context.Background()

	first, err := adapter.ProvisionCard(ctx, domain.VendorRequest{
		BrandCode: "ACME", Denomination: 2500, IdempotencyToken: "token-a",
	})
	if err != nil {
		t.Fatalf("provision a: %v", err)
	}
	second, err := adapter.ProvisionCard(ctx, domain.VendorRequest{
		BrandCode: "ACME", Denomination: 2500, IdempotencyToken: "token-b",
	})
	if err != nil {
		t.Fatalf("provision b: %v", err)
	}

	if first.Code == second.Code {
		t.Fatalf("distinct tokens returned the same card")
	}
	if adapter.PurchaseCount() != 2 {
		t.Fatalf("expected 2 purchases, got %d", adapter.PurchaseCount())
	}
}

func TestProvisionCardDefaultCost(t *testing.T) {
	provisioner, _ := NewFactory().NewProvisioner(domain.AdapterConfig{})
	card, err := provisioner.ProvisionCard(context.Background(), domain.VendorRequest{
		BrandCode: "ACME", Denomination: 2500, IdempotencyToken: "token-cost",
	})
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if card.Cost == nil || *card.Cost != 2375 {
		t.Fatalf("expected default cost 2375, got %v", card.Cost)
	}
}

func TestProvisionCardRejectsInvalidRequests(t *testing.T) {
	provisioner, _ := NewFactory().NewProvisioner(domain.AdapterConfig{})
	ctx := context.Background()

	cases := []domain.VendorRequest{
		{Denomination: 2500, IdempotencyToken: "t"},
		{BrandCode: "ACME", IdempotencyToken: "t"},
		{BrandCode: "ACME", Denomination: 2500},
	}
	for i, req := range cases {
		if _, err := provisioner.ProvisionCard(ctx, req); err != domain.ErrInvalidRequest {
			t.Fatalf("case %d: expected vendor_invalid_request, got %v", i, err)
		}
	}
}
