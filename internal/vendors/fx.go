package vendors

import (
	"strings"
	"time"

	"github.com/Phillboard/mobul-sub000/internal/config"
	"github.com/Phillboard/mobul-sub000/internal/vendors/adapters"
	"github.com/Phillboard/mobul-sub000/internal/vendors/adapters/restv1"
	"github.com/Phillboard/mobul-sub000/internal/vendors/adapters/sandbox"
	"github.com/Phillboard/mobul-sub000/internal/vendors/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Provisioners bundles the configured live vendor client and the sandbox
// client used by the sandbox entry point. Live is nil when no vendor is
// configured; brands without vendor codes never reach it anyway.
type Provisioners struct {
	Live    domain.Provisioner
	Sandbox domain.Provisioner
}

func NewRegistry() *adapters.Registry {
	return adapters.NewRegistry(
		restv1.NewFactory(),
		sandbox.NewFactory(),
	)
}

func NewProvisioners(cfg config.Config, registry *adapters.Registry, log *zap.Logger) (*Provisioners, error) {
	adapterCfg := domain.AdapterConfig{
		BaseURL:     cfg.Vendor.BaseURL,
		APIKey:      cfg.Vendor.APIKey,
		Timeout:     time.Duration(cfg.Vendor.TimeoutSeconds) * time.Second,
		CostPerCard: cfg.Vendor.CostPerCard,
	}

	sbx, err := registry.NewProvisioner("sandbox", adapterCfg)
	if err != nil {
		return nil, err
	}

	out := &Provisioners{Sandbox: sbx}

	provider := strings.ToLower(strings.TrimSpace(cfg.Vendor.Provider))
	switch provider {
	case "", "none":
		log.Info("no vendor provider configured; provisioning is inventory-only")
	case "sandbox":
		out.Live = sbx
		log.Info("vendor provider set to sandbox")
	default:
		live, err := registry.NewProvisioner(provider, adapterCfg)
		if err != nil {
			return nil, err
		}
		out.Live = live
		log.Info("vendor provider configured", zap.String("provider", provider))
	}

	return out, nil
}

var Module = fx.Module("vendor",
	fx.Provide(
		NewRegistry,
		NewProvisioners,
	),
)
