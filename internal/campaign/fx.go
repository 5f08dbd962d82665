package campaign

import (
	"github.com/Phillboard/mobul-sub000/internal/campaign/service"
	"go.uber.org/fx"
)

var Module = fx.Module("campaign.service",
	fx.Provide(service.NewService),
)
