package main

import (
	"github.com/Phillboard/mobul-sub000/internal/clock"
	"github.com/Phillboard/mobul-sub000/internal/migration"
	"github.com/Phillboard/mobul-sub000/internal/observability"
	"github.com/Phillboard/mobul-sub000/internal/scheduler"
	"github.com/Phillboard/mobul-sub000/internal/server"
	"github.com/Phillboard/mobul-sub000/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// config.Module rides along inside server.Module.
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		server.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
