package observability

import (
	"github.com/smallbiznis/schoolledger/internal/observability/logger"
	"github.com/smallbiznis/schoolledger/internal/observability/metrics"
	"github.com/smallbiznis/schoolledger/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

// Module provides the zap logger, the tracer provider, the ledger meter and
// the HTTP/scheduler prometheus collectors.
var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		Config.Logger,
		Config.Tracing,
		Config.Metrics,
		logger.New,
		tracing.NewProvider,
		metrics.NewProvider,
		metrics.New,
		metrics.NewHTTPMetrics,
	),
	// Force construction: nothing else depends on the tracer provider directly.
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
	fx.Invoke(func(cfg metrics.Config) { metrics.SchedulerWithConfig(cfg) }),
)
