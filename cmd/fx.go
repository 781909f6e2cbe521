package cmd

import (
	"log/slog"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/marketplace/delivery-service/config"
	"github.com/marketplace/delivery-service/infra/database"
	otelinfra "github.com/marketplace/delivery-service/infra/otel"
	httpsrv "github.com/marketplace/delivery-service/infra/server/http"
	"github.com/marketplace/delivery-service/internal/adapter/pubsub"
	"github.com/marketplace/delivery-service/internal/adapter/store"
	"github.com/marketplace/delivery-service/internal/adapter/syncclient"
	"github.com/marketplace/delivery-service/internal/domain/registry"
	"github.com/marketplace/delivery-service/internal/handler/lp"
	"github.com/marketplace/delivery-service/internal/handler/ops"
	"github.com/marketplace/delivery-service/internal/handler/reports"
	"github.com/marketplace/delivery-service/internal/handler/ws"
	"github.com/marketplace/delivery-service/internal/metrics"
	"github.com/marketplace/delivery-service/internal/service"
	"github.com/marketplace/delivery-service/internal/service/jobs"
)

// NewApp wires the service. Stop hooks run in reverse order: the job drain
// first, then the pipeline, the transports, the registry and the pools.
func NewApp(cfg *config.Config, loader *config.Loader) *fx.App {
	return fx.New(
		fx.StopTimeout(cfg.StopTimeout()),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			l := &fxevent.SlogLogger{Logger: logger}
			l.UseLogLevel(slog.LevelDebug)
			return l
		}),
		fx.Provide(
			func() *config.Config { return cfg },
			func() *config.Loader { return loader },
			ProvideLogger,
		),
		fx.Invoke(WatchConfig),

		database.Module,
		otelinfra.Module,
		metrics.Module,
		registry.Module,
		store.Module,
		httpsrv.Module,
		ws.Module,
		lp.Module,
		ops.Module,
		pubsub.Module,
		reports.Module,
		service.Module,
		syncclient.Module,
		jobs.Module,
	)
}

type loggerOut struct {
	fx.Out

	Logger *slog.Logger
	Level  *slog.LevelVar
}

// ProvideLogger builds the process logger. The level is a LevelVar so config
// reloads can change it without rebuilding handlers.
func ProvideLogger(cfg *config.Config) loggerOut {
	level := new(slog.LevelVar)
	level.Set(config.ParseLevel(cfg.Log.Level))

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Log.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With(
		slog.String("service", cfg.Service.Name),
		slog.String("version", cfg.Service.Version),
	)
	slog.SetDefault(logger)

	return loggerOut{Logger: logger, Level: level}
}

// WatchConfig applies log level changes from the config file at runtime.
func WatchConfig(loader *config.Loader, level *slog.LevelVar, logger *slog.Logger) {
	if loader == nil {
		return
	}
	loader.Watch(logger, func(next *config.Config) {
		l := config.ParseLevel(next.Log.Level)
		if l != level.Level() {
			level.Set(l)
			logger.Info("[CONFIG] log level changed", slog.String("level", l.String()))
		}
	})
}
