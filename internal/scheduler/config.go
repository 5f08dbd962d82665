package scheduler

import (
	"time"

	"github.com/Phillboard/mobul-sub000/internal/config"
)

// Config controls sweep cadence and batch sizes. A zero sweep interval
// disables that sweep; the run loop itself always ticks.
type Config struct {
	RunInterval            time.Duration
	JobTimeout             time.Duration
	ExpirySweepInterval    time.Duration
	ReconcileSweepInterval time.Duration
	ReconcileWindow        time.Duration
	ExpiryBatchSize        int
	OutboxBatchSize        int
}

func DefaultConfig() Config {
	return Config{
		RunInterval:            time.Minute,
		JobTimeout:             2 * time.Minute,
		ExpirySweepInterval:    time.Hour,
		ReconcileSweepInterval: 15 * time.Minute,
		ReconcileWindow:        72 * time.Hour,
		ExpiryBatchSize:        500,
		OutboxBatchSize:        100,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.ReconcileWindow <= 0 {
		c.ReconcileWindow = defaults.ReconcileWindow
	}
	if c.ExpiryBatchSize <= 0 {
		c.ExpiryBatchSize = defaults.ExpiryBatchSize
	}
	if c.OutboxBatchSize <= 0 {
		c.OutboxBatchSize = defaults.OutboxBatchSize
	}
	return c
}

// ProvideConfig maps the environment scheduler settings onto sweep config.
// Sweep intervals are intentionally not defaulted here: zero from the
// environment means the operator turned that sweep off.
func ProvideConfig(cfg config.Config) Config {
	sched := cfg.Scheduler
	out := Config{
		RunInterval:            time.Duration(sched.RunIntervalSeconds) * time.Second,
		ExpirySweepInterval:    time.Duration(sched.ExpirySweepIntervalSeconds) * time.Second,
		ReconcileSweepInterval: time.Duration(sched.ReconcileSweepIntervalSeconds) * time.Second,
		OutboxBatchSize:        sched.OutboxDispatchBatchSize,
	}
	return out.withDefaults()
}
