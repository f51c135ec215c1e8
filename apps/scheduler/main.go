package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/schoolledger/internal/audit"
	"github.com/smallbiznis/schoolledger/internal/authorization"
	"github.com/smallbiznis/schoolledger/internal/catalog"
	"github.com/smallbiznis/schoolledger/internal/clock"
	"github.com/smallbiznis/schoolledger/internal/config"
	"github.com/smallbiznis/schoolledger/internal/invoice"
	"github.com/smallbiznis/schoolledger/internal/latefee"
	"github.com/smallbiznis/schoolledger/internal/observability"
	"github.com/smallbiznis/schoolledger/internal/providers"
	"github.com/smallbiznis/schoolledger/internal/scheduler"
	"github.com/smallbiznis/schoolledger/internal/tenant"
	"github.com/smallbiznis/schoolledger/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Domain services required by the jobs
		tenant.Module,
		catalog.Module,
		invoice.Module,
		latefee.Module,
		audit.Module,
		authorization.Module,
		providers.Module,

		// No server module; this process exists to run the jobs.
		fx.Decorate(forceSchedulerEnabled),
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}

func forceSchedulerEnabled(cfg config.Config) config.Config {
	cfg.Scheduler.Enabled = true
	return cfg
}
