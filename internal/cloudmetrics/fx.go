package cloudmetrics

import (
	"context"
	"runtime"
	"time"

	"github.com/Phillboard/mobul-sub000/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("cloud.metrics",
	fx.Provide(NewPusher),
	fx.Provide(func(cfg config.Config, pusher Pusher, logger *zap.Logger) *CloudMetrics {
		if !cfg.Cloud.Metrics.Enabled {
			return nil
		}
		return New(prometheus.NewRegistry(), pusher, cfg.AppName, cfg.AppVersion, cfg.Environment, logger)
	}),
	fx.Invoke(func(lc fx.Lifecycle, c *CloudMetrics, logger *zap.Logger, db *gorm.DB) {
		if c == nil {
			return
		}
		if logger == nil {
			logger = zap.NewNop()
		}

		ctx, cancel := context.WithCancel(context.Background())
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				logger.Info("starting cloud metrics background worker")
				go func() {
					ticker := time.NewTicker(30 * time.Minute)
					defer ticker.Stop()

					snapshotAndPush(ctx, c, db, logger)
					for {
						select {
						case <-ticker.C:
							snapshotAndPush(ctx, c, db, logger)
						case <-ctx.Done():
							logger.Info("stopping cloud metrics background worker")
							return
						}
					}
				}()
				return nil
			},
			OnStop: func(context.Context) error {
				cancel()
				return nil
			},
		})
	}),
)

func snapshotAndPush(ctx context.Context, c *CloudMetrics, db *gorm.DB, logger *zap.Logger) {
	updateSystemMetrics(c)
	updateInventoryGauges(ctx, c, db)
	if err := c.Push(ctx); err != nil {
		logger.Error("cloud metrics push failed", zap.Error(err))
	}
}

func updateSystemMetrics(c *CloudMetrics) {
	if c == nil {
		return
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	c.SetMemoryUsage(m.Sys)
}

func updateInventoryGauges(ctx context.Context, c *CloudMetrics, db *gorm.DB) {
	if c == nil || db == nil {
		return
	}

	var available int64
	if err := db.WithContext(ctx).Table("inventory_cards").
		Where("status = ?", "available").Count(&available).Error; err == nil {
		c.SetAvailableCards(available)
	}

	var assigned int64
	if err := db.WithContext(ctx).Table("inventory_cards").
		Where("status IN ?", []string{"assigned", "delivered"}).Count(&assigned).Error; err == nil {
		c.SetAssignedCards(assigned)
	}

	var unbilled int64
	if err := db.WithContext(ctx).Table("inventory_cards").
		Joins("LEFT JOIN billing_ledger_entries ON billing_ledger_entries.inventory_card_id = inventory_cards.id").
		Where("inventory_cards.status IN ?", []string{"assigned", "delivered"}).
		Where("billing_ledger_entries.id IS NULL").
		Count(&unbilled).Error; err == nil {
		c.SetUnbilledCards(unbilled)
	}
}
