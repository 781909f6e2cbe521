package jobs

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/marketplace/delivery-service/config"
	"github.com/marketplace/delivery-service/internal/metrics"
)

var Module = fx.Module("jobs",
	fx.Provide(
		func() *History { return NewHistory(50) },
		func(cfg *config.Config, task Task, reporter Reporter, logger *slog.Logger, m *metrics.Metrics) *Coordinator {
			return NewCoordinator(cfg.Job.Name, task, logger,
				WithReporter(reporter),
				WithMetrics(m),
			)
		},
	),

	// [DECORATION_LAYER] Logging and per-run timeout around whatever task body is bound.
	fx.Decorate(func(task Task, cfg *config.Config, logger *slog.Logger) Task {
		return Chain(task,
			Logging(logger.With(slog.String("job", cfg.Job.Name))),
			Timeout(cfg.Job.Timeout),
		)
	}),

	fx.Invoke(registerScheduler),
)

func registerScheduler(lc fx.Lifecycle, cfg *config.Config, c *Coordinator, logger *slog.Logger) error {
	if !cfg.Job.Enabled {
		logger.Info("[JOB] scheduled job disabled", slog.String("job", cfg.Job.Name))
		return nil
	}

	s, err := NewScheduler(cfg.Job.Schedule, c, logger.With(slog.String("job", cfg.Job.Name)))
	if err != nil {
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			s.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			// No new firings, then a bounded wait for the one in flight. Drain also
			// rejects a firing that was already dispatched. Shutdown continues either way.
			s.Stop()
			if !c.Drain(cfg.Shutdown.DrainTimeout) {
				logger.Warn("[JOB] shutting down with the job still running", slog.String("job", cfg.Job.Name))
			}
			return nil
		},
	})
	return nil
}
