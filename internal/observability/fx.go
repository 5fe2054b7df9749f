package observability

import (
	"github.com/smallbiznis/coursemart/internal/observability/logger"
	"github.com/smallbiznis/coursemart/internal/observability/metrics"
	"github.com/smallbiznis/coursemart/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides the zap logger, the OTel tracer and meter providers, the
// domain counters and the HTTP metrics middleware.
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
	fx.Invoke(announce),
)

// announce forces the tracer provider and scheduler registry into existence
// before the first request or job.
func announce(cfg Config, mc metrics.Config, _ *sdktrace.TracerProvider, log *zap.Logger) {
	metrics.SchedulerWithConfig(mc)
	log.Info("observability ready",
		zap.String("service", cfg.ServiceName),
		zap.String("env", cfg.Environment),
		zap.Bool("otel", cfg.OtelEnabled),
		zap.String("log_level", cfg.LogLevel),
	)
}
