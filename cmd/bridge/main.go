package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/karipay/toyyibpay-bridge/internal/clock"
	"github.com/karipay/toyyibpay-bridge/internal/config"
	"github.com/karipay/toyyibpay-bridge/internal/logger"
	"github.com/karipay/toyyibpay-bridge/internal/migration"
	"github.com/karipay/toyyibpay-bridge/internal/server"
	"github.com/karipay/toyyibpay-bridge/pkg/db"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		server.Module,
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
