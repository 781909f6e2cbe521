// Package jobs runs a recurring task under a single-flight guard and drains it
// with a bounded wait at shutdown.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/marketplace/delivery-service/internal/domain/model"
	"github.com/marketplace/delivery-service/internal/metrics"
)

// Task is the body of a scheduled job.
type Task func(ctx context.Context) error

// Reporter receives a report after every finished run.
type Reporter interface {
	Report(ctx context.Context, report model.JobReport) error
}

// Coordinator guarantees that at most one run of its task is in flight.
type Coordinator struct {
	name     string
	task     Task
	reporter Reporter
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer

	mu      sync.Mutex
	running bool
	// closed is set by Drain; no run starts afterwards.
	closed bool
	// done is closed when the current run completes; a fresh channel per run.
	done chan struct{}
}

type CoordinatorOption func(*Coordinator)

func WithReporter(r Reporter) CoordinatorOption {
	return func(c *Coordinator) { c.reporter = r }
}

func WithMetrics(m *metrics.Metrics) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

func NewCoordinator(name string, task Task, logger *slog.Logger, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		name:   name,
		task:   task,
		logger: logger.With(slog.String("job", name)),
		tracer: otel.Tracer("github.com/marketplace/delivery-service/internal/service/jobs"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = metrics.New(nil)
	}
	return c
}

// Trigger runs the task unless a run is already in flight or the coordinator
// has been drained, in which case it returns false immediately. It blocks for
// the duration of the run otherwise.
func (c *Coordinator) Trigger(ctx context.Context) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.metrics.JobRuns.WithLabelValues(c.name, metrics.JobSkipped).Inc()
		c.logger.Info("[JOB] coordinator drained, run rejected")
		return false
	}
	if c.running {
		c.mu.Unlock()
		c.metrics.JobRuns.WithLabelValues(c.name, metrics.JobSkipped).Inc()
		c.logger.Info("[JOB] previous run still in progress, skipping")
		return false
	}
	c.running = true
	done := make(chan struct{})
	c.done = done
	c.mu.Unlock()

	report := model.JobReport{
		Job:       c.name,
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}

	err := c.execute(ctx, report.RunID)

	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	close(done)

	report.FinishedAt = time.Now().UTC()
	c.metrics.JobDuration.Observe(report.Duration().Seconds())
	if err != nil {
		report.Error = err.Error()
		c.metrics.JobRuns.WithLabelValues(c.name, metrics.JobFailed).Inc()
		c.logger.Error("[JOB] run failed",
			slog.String("run_id", report.RunID),
			slog.Duration("duration", report.Duration()),
			slog.Any("err", err),
		)
	} else {
		c.metrics.JobRuns.WithLabelValues(c.name, metrics.JobSucceeded).Inc()
		c.logger.Info("[JOB] run completed",
			slog.String("run_id", report.RunID),
			slog.Duration("duration", report.Duration()),
		)
	}

	if c.reporter != nil {
		if rerr := c.reporter.Report(context.WithoutCancel(ctx), report); rerr != nil {
			c.logger.Warn("[JOB] report not published", slog.Any("err", rerr))
		}
	}
	return true
}

// execute runs the task body, turning a panic into an error.
func (c *Coordinator) execute(ctx context.Context, runID string) (err error) {
	ctx, span := c.tracer.Start(ctx, "job.run", trace.WithAttributes(
		attribute.String("job.name", c.name),
		attribute.String("job.run_id", runID),
	))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v\n%s", c.name, r, debug.Stack())
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "job failed")
		}
		span.End()
	}()

	return c.task(ctx)
}

func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Drain closes the coordinator to new runs and waits for the in-flight run,
// if any, for at most timeout. It reports true when nothing is running anymore
// and false when the wait timed out and the run was abandoned.
func (c *Coordinator) Drain(timeout time.Duration) bool {
	c.mu.Lock()
	c.closed = true
	if !c.running {
		c.mu.Unlock()
		return true
	}
	done := c.done
	c.mu.Unlock()

	c.logger.Info("[JOB] waiting for in-flight run", slog.Duration("timeout", timeout))

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		c.metrics.JobDrains.WithLabelValues("completed").Inc()
		c.logger.Info("[JOB] in-flight run finished before shutdown")
		return true
	case <-timer.C:
		c.metrics.JobDrains.WithLabelValues("timed_out").Inc()
		c.logger.Warn("[JOB] drain timed out, abandoning run", slog.Duration("timeout", timeout))
		return false
	}
}
