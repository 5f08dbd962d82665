package provisioning

import (
	"github.com/Phillboard/mobul-sub000/internal/provisioning/service"
	"go.uber.org/fx"
)

var Module = fx.Module("provisioning.service",
	fx.Provide(service.NewService),
)
