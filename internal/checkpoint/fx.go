package checkpoint

import (
	"github.com/Phillboard/mobul-sub000/internal/checkpoint/repository"
	"github.com/Phillboard/mobul-sub000/internal/checkpoint/service"
	"go.uber.org/fx"
)

var Module = fx.Module("checkpoint.service",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
