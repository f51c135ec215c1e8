package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/schoolledger/internal/clock"
	"github.com/smallbiznis/schoolledger/internal/config"
	"github.com/smallbiznis/schoolledger/internal/migration"
	"github.com/smallbiznis/schoolledger/internal/observability"
	"github.com/smallbiznis/schoolledger/internal/scheduler"
	"github.com/smallbiznis/schoolledger/internal/server"
	"github.com/smallbiznis/schoolledger/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// HTTP API with every ledger domain
		server.Module,

		// Runs only when SCHEDULER_ENABLED=true
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
