package seed

import (
	"context"
	"errors"
	"fmt"
	"time"

	accountdomain "github.com/Phillboard/mobul-sub000/internal/account/domain"
	branddomain "github.com/Phillboard/mobul-sub000/internal/brand/domain"
	campaigndomain "github.com/Phillboard/mobul-sub000/internal/campaign/domain"
	inventorydomain "github.com/Phillboard/mobul-sub000/internal/inventory/domain"
	pricingdomain "github.com/Phillboard/mobul-sub000/internal/pricing/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

const (
	demoAgencyName   = "Mobul Demo Agency"
	demoClientName   = "Demo Research Group"
	demoBrandName    = "Acme Gift Card"
	demoBrandSlug    = "acme-gift-card"
	demoCampaignName = "Demo Campaign"
	demoCardCount    = 25
	demoDenomination = int64(2500)
)

// EnsureDemoData seeds a working demo dataset for local development: an
// agency-managed client, an enabled brand with vendor fallback, a campaign
// with one recipient, a pricing config, and a pool of claimable cards.
// Idempotent; safe to run on every startup.
func EnsureDemoData(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		agency, err := ensureAgency(ctx, tx, node)
		if err != nil {
			return err
		}
		client, err := ensureClient(ctx, tx, node, agency.ID)
		if err != nil {
			return err
		}
		brand, err := ensureBrand(ctx, tx, node)
		if err != nil {
			return err
		}
		campaign, err := ensureCampaign(ctx, tx, node, client.ID)
		if err != nil {
			return err
		}
		if err := ensureRecipient(ctx, tx, node, campaign.ID); err != nil {
			return err
		}
		if err := ensurePricing(ctx, tx, node, brand.ID); err != nil {
			return err
		}
		return ensureCards(ctx, tx, node, brand.ID)
	})
}

func ensureAgency(ctx context.Context, tx *gorm.DB, node *snowflake.Node) (*accountdomain.Agency, error) {
	var agency accountdomain.Agency
	err := tx.WithContext(ctx).First(&agency, "name = ?", demoAgencyName).Error
	if err == nil {
		return &agency, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	agency = accountdomain.Agency{
		ID:      node.Generate(),
		Name:    demoAgencyName,
		Credits: 500000,
	}
	if err := tx.WithContext(ctx).Create(&agency).Error; err != nil {
		return nil, err
	}
	return &agency, nil
}

func ensureClient(ctx context.Context, tx *gorm.DB, node *snowflake.Node, agencyID snowflake.ID) (*accountdomain.Client, error) {
	var client accountdomain.Client
	err := tx.WithContext(ctx).First(&client, "name = ?", demoClientName).Error
	if err == nil {
		return &client, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	client = accountdomain.Client{
		ID:       node.Generate(),
		Name:     demoClientName,
		AgencyID: &agencyID,
		Credits:  100000,
	}
	if err := tx.WithContext(ctx).Create(&client).Error; err != nil {
		return nil, err
	}
	return &client, nil
}

func ensureBrand(ctx context.Context, tx *gorm.DB, node *snowflake.Node) (*branddomain.Brand, error) {
	var brand branddomain.Brand
	err := tx.WithContext(ctx).First(&brand, "slug = ?", demoBrandSlug).Error
	if err == nil {
		return &brand, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	vendorCode := "ACME"
	brand = branddomain.Brand{
		ID:              node.Generate(),
		Name:            demoBrandName,
		Slug:            demoBrandSlug,
		Currency:        "USD",
		VendorBrandCode: &vendorCode,
		Enabled:         true,
	}
	if err := tx.WithContext(ctx).Create(&brand).Error; err != nil {
		return nil, err
	}
	return &brand, nil
}

func ensureCampaign(ctx context.Context, tx *gorm.DB, node *snowflake.Node, clientID snowflake.ID) (*campaigndomain.Campaign, error) {
	var campaign campaigndomain.Campaign
	err := tx.WithContext(ctx).First(&campaign, "name = ?", demoCampaignName).Error
	if err == nil {
		return &campaign, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	campaign = campaigndomain.Campaign{
		ID:       node.Generate(),
		Name:     demoCampaignName,
		ClientID: clientID,
		Status:   campaigndomain.CampaignStatusActive,
	}
	if err := tx.WithContext(ctx).Create(&campaign).Error; err != nil {
		return nil, err
	}
	return &campaign, nil
}

func ensureRecipient(ctx context.Context, tx *gorm.DB, node *snowflake.Node, campaignID snowflake.ID) error {
	var count int64
	if err := tx.WithContext(ctx).Model(&campaigndomain.Recipient{}).
		Where("campaign_id = ?", campaignID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	phone := "+15555550100"
	recipient := campaigndomain.Recipient{
		ID:         node.Generate(),
		CampaignID: campaignID,
		FullName:   "Demo Recipient",
		Phone:      &phone,
	}
	return tx.WithContext(ctx).Create(&recipient).Error
}

func ensurePricing(ctx context.Context, tx *gorm.DB, node *snowflake.Node, brandID snowflake.ID) error {
	var count int64
	if err := tx.WithContext(ctx).Model(&pricingdomain.PricingConfig{}).
		Where("brand_id = ? AND denomination = ?", brandID, demoDenomination).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	clientPrice := int64(2800)
	agencyPrice := int64(3000)
	costBasis := int64(2200)
	cfg := pricingdomain.PricingConfig{
		ID:               node.Generate(),
		BrandID:          brandID,
		Denomination:     demoDenomination,
		UseCustomPricing: true,
		ClientPrice:      &clientPrice,
		AgencyPrice:      &agencyPrice,
		CostBasis:        &costBasis,
	}
	return tx.WithContext(ctx).Create(&cfg).Error
}

func ensureCards(ctx context.Context, tx *gorm.DB, node *snowflake.Node, brandID snowflake.ID) error {
	var count int64
	if err := tx.WithContext(ctx).Model(&inventorydomain.InventoryCard{}).
		Where("brand_id = ?", brandID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	expiry := time.Now().UTC().AddDate(1, 0, 0)
	cost := int64(2200)
	cards := make([]inventorydomain.InventoryCard, 0, demoCardCount)
	for i := 0; i < demoCardCount; i++ {
		cards = append(cards, inventorydomain.InventoryCard{
			ID:             node.Generate(),
			BrandID:        brandID,
			Denomination:   demoDenomination,
			Code:           fmt.Sprintf("GC-DEMO-%04d-%d", i, node.Generate()),
			ExpirationDate: &expiry,
			Status:         inventorydomain.StatusAvailable,
			CostPerCard:    &cost,
			CostSource:     inventorydomain.CostSourceCSV,
		})
	}
	return tx.WithContext(ctx).CreateInBatches(cards, 100).Error
}
