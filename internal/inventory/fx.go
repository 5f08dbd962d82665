package inventory

import (
	"github.com/Phillboard/mobul-sub000/internal/inventory/service"
	"go.uber.org/fx"
)

var Module = fx.Module("inventory.service",
	fx.Provide(service.NewService),
)
