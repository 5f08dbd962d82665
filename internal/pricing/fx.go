package pricing

import (
	"github.com/Phillboard/mobul-sub000/internal/pricing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("pricing.service",
	fx.Provide(service.NewService),
)
