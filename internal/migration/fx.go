package migration

import (
	accountdomain "github.com/Phillboard/mobul-sub000/internal/account/domain"
	branddomain "github.com/Phillboard/mobul-sub000/internal/brand/domain"
	campaigndomain "github.com/Phillboard/mobul-sub000/internal/campaign/domain"
	checkpointdomain "github.com/Phillboard/mobul-sub000/internal/checkpoint/domain"
	"github.com/Phillboard/mobul-sub000/internal/config"
	"github.com/Phillboard/mobul-sub000/internal/events"
	inventorydomain "github.com/Phillboard/mobul-sub000/internal/inventory/domain"
	ledgerdomain "github.com/Phillboard/mobul-sub000/internal/ledger/domain"
	pricingdomain "github.com/Phillboard/mobul-sub000/internal/pricing/domain"
	"github.com/Phillboard/mobul-sub000/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if conn.Dialector.Name() == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			// Non-postgres (sqlite dev environments) takes the gorm path.
			if err := conn.AutoMigrate(
				&accountdomain.Agency{},
				&accountdomain.Client{},
				&branddomain.Brand{},
				&campaigndomain.Campaign{},
				&campaigndomain.Recipient{},
				&inventorydomain.InventoryCard{},
				&pricingdomain.PricingConfig{},
				&ledgerdomain.BillingLedgerEntry{},
				&checkpointdomain.Checkpoint{},
				&events.OutboxEvent{},
			); err != nil {
				return err
			}
		}

		if cfg.Bootstrap.SeedDemoData {
			return seed.EnsureDemoData(conn)
		}
		return nil
	}),
)
