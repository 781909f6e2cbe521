package jobs

import (
	"context"
	"log/slog"
	"time"
)

// TaskMiddleware decorates a Task with cross-cutting behaviour.
type TaskMiddleware func(next Task) Task

// Chain applies mws so that the first one is the outermost.
func Chain(task Task, mws ...TaskMiddleware) Task {
	for i := len(mws) - 1; i >= 0; i-- {
		task = mws[i](task)
	}
	return task
}

// Logging records the start, the outcome and the latency of every run.
func Logging(logger *slog.Logger) TaskMiddleware {
	return func(next Task) Task {
		return func(ctx context.Context) error {
			start := time.Now()
			logger.Debug("[TASK] started")

			err := next(ctx)

			if err != nil {
				logger.Warn("[TASK] failed",
					slog.Any("err", err),
					slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				)
			} else {
				logger.Debug("[TASK] finished",
					slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				)
			}
			return err
		}
	}
}

// Timeout bounds a single run. A zero duration leaves the run unbounded.
func Timeout(d time.Duration) TaskMiddleware {
	return func(next Task) Task {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx)
		}
	}
}
