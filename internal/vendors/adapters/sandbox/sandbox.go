package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Phillboard/mobul-sub000/internal/vendors/domain"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "sandbox"
}

func (f *Factory) NewProvisioner(cfg domain.AdapterConfig) (domain.Provisioner, error) {
	return &Adapter{
		costPerCard: cfg.CostPerCard,
		purchases:   map[string]*domain.VendorCard{},
	}, nil
}

// Adapter is the in-memory vendor used for integration testing. Issuance is
// deterministic per idempotency token: replaying a token returns the card
// from the first purchase and charges nothing new.
type Adapter struct {
	mu            sync.Mutex
	costPerCard   int64
	purchases     map[string]*domain.VendorCard
	purchaseCount int
}

func (a *Adapter) Provider() string {
	return "sandbox"
}

func (a *Adapter) ProvisionCard(ctx context.Context, req domain.VendorRequest) (*domain.VendorCard, error) {
	if strings.TrimSpace(req.BrandCode) == "" || req.Denomination <= 0 || strings.TrimSpace(req.IdempotencyToken) == "" {
		return nil, domain.ErrInvalidRequest
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if existing, ok := a.purchases[req.IdempotencyToken]; ok {
		return cloneCard(existing), nil
	}

	digest := sha256.Sum256([]byte(req.BrandCode + "|" + req.IdempotencyToken))
	suffix := hex.EncodeToString(digest[:6])
	number := fmt.Sprintf("6039%s", hex.EncodeToString(digest[6:12]))
	expiration := time.Now().UTC().AddDate(1, 0, 0).Truncate(24 * time.Hour)

	cost := a.costPerCard
	if cost <= 0 {
		// Sandbox default: 95% of face value, mirroring typical vendor rates.
		cost = req.Denomination * 95 / 100
	}

	card := &domain.VendorCard{
		Code:           fmt.Sprintf("SBX-%s-%d-%s", strings.ToUpper(req.BrandCode), req.Denomination, suffix),
		Number:         &number,
		ExpirationDate: &expiration,
		TransactionID:  "sbx_" + hex.EncodeToString(digest[:10]),
		Cost:           &cost,
	}
	a.purchases[req.IdempotencyToken] = card
	a.purchaseCount++

	return cloneCard(card), nil
}

// PurchaseCount reports distinct purchases made, for idempotency assertions.
func (a *Adapter) PurchaseCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.purchaseCount
}

func cloneCard(card *domain.VendorCard) *domain.VendorCard {
	clone := *card
	if card.Number != nil {
		number := *card.Number
		clone.Number = &number
	}
	if card.ExpirationDate != nil {
		expiration := *card.ExpirationDate
		clone.ExpirationDate = &expiration
	}
	if card.Cost != nil {
		cost := *card.Cost
		clone.Cost = &cost
	}
	return &clone
}
