package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ProvisioningConfig holds the hot-reloadable tuning knobs for the
// allocation engine. Values are read per request via the holder so edits to
// provisioning.yml take effect without a restart.
type ProvisioningConfig struct {
	// CostEstimateRatio is the fallback cost basis as a fraction of face
	// value, used when neither pricing config nor the card carries a cost.
	CostEstimateRatio float64 `mapstructure:"costEstimateRatio"`
	// ClaimRetries bounds how many times a claim re-attempts after losing
	// an optimistic-concurrency race before falling through to the vendor.
	ClaimRetries int `mapstructure:"claimRetries"`
	// AlertOnLedgerGap fires an ops alert when a ledger write fails after
	// a card has already been allocated.
	AlertOnLedgerGap bool `mapstructure:"alertOnLedgerGap"`
	// AlertOnVendorFailure fires an ops alert when the vendor call fails.
	AlertOnVendorFailure bool `mapstructure:"alertOnVendorFailure"`
}

func DefaultProvisioningConfig() ProvisioningConfig {
	return ProvisioningConfig{
		CostEstimateRatio:    0.95,
		ClaimRetries:         3,
		AlertOnLedgerGap:     true,
		AlertOnVendorFailure: true,
	}
}

type ProvisioningConfigHolder struct {
	current atomic.Value // holds ProvisioningConfig
}

// NewStaticProvisioningConfigHolder returns a holder pinned to cfg, for tests.
func NewStaticProvisioningConfigHolder(cfg ProvisioningConfig) *ProvisioningConfigHolder {
	holder := &ProvisioningConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewProvisioningConfigHolder() (*ProvisioningConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("provisioning")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/mobul/config") // Volume-mounted config
	v.AddConfigPath("/etc/mobul")            // System config
	v.AddConfigPath(".")                     // Current directory (dev mode)

	v.SetEnvPrefix("MOBUL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultProvisioningConfig()
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		v.SetDefault("provisioning.costEstimateRatio", defaults.CostEstimateRatio)
		v.SetDefault("provisioning.claimRetries", defaults.ClaimRetries)
		v.SetDefault("provisioning.alertOnLedgerGap", defaults.AlertOnLedgerGap)
		v.SetDefault("provisioning.alertOnVendorFailure", defaults.AlertOnVendorFailure)
	}

	var cfg ProvisioningConfig
	if err := v.UnmarshalKey("provisioning", &cfg); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if err := validateProvisioningConfig(cfg); err != nil {
		return nil, err
	}

	holder := &ProvisioningConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated ProvisioningConfig
		if err := v.UnmarshalKey("provisioning", &updated); err != nil {
			log.Printf("[provisioning-config] reload failed: %v", err)
			return
		}
		updated = updated.withDefaults()
		if err := validateProvisioningConfig(updated); err != nil {
			log.Printf("[provisioning-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[provisioning-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *ProvisioningConfigHolder) Get() ProvisioningConfig {
	return h.current.Load().(ProvisioningConfig)
}

func (c ProvisioningConfig) withDefaults() ProvisioningConfig {
	defaults := DefaultProvisioningConfig()
	if c.CostEstimateRatio <= 0 {
		c.CostEstimateRatio = defaults.CostEstimateRatio
	}
	if c.ClaimRetries <= 0 {
		c.ClaimRetries = defaults.ClaimRetries
	}
	return c
}

func validateProvisioningConfig(cfg ProvisioningConfig) error {
	if cfg.CostEstimateRatio <= 0 || cfg.CostEstimateRatio > 1 {
		return errors.New("provisioning.costEstimateRatio must be in (0, 1]")
	}
	if cfg.ClaimRetries < 1 || cfg.ClaimRetries > 20 {
		return errors.New("provisioning.claimRetries must be between 1 and 20")
	}
	return nil
}
