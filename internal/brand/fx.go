package brand

import (
	"github.com/Phillboard/mobul-sub000/internal/brand/service"
	"go.uber.org/fx"
)

var Module = fx.Module("brand.service",
	fx.Provide(service.NewService),
)
