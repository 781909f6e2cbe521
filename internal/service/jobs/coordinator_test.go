package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketplace/delivery-service/internal/domain/model"
	"github.com/marketplace/delivery-service/internal/metrics"
)

type recordingReporter struct {
	mu      sync.Mutex
	reports []model.JobReport
}

func (r *recordingReporter) Report(_ context.Context, report model.JobReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	return nil
}

func (r *recordingReporter) all() []model.JobReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.JobReport(nil), r.reports...)
}

// blockingTask runs until release is closed.
func blockingTask(started chan<- struct{}, release <-chan struct{}) Task {
	return func(ctx context.Context) error {
		started <- struct{}{}
		<-release
		return nil
	}
}

func TestCoordinator_SingleFlight(t *testing.T) {
	started := make(chan struct{}, 10)
	release := make(chan struct{})
	var runs atomic.Int32

	c := NewCoordinator("sync", func(ctx context.Context) error {
		runs.Add(1)
		return blockingTask(started, release)(ctx)
	}, slog.Default())

	go c.Trigger(context.Background())
	<-started
	require.True(t, c.Running())

	var wg sync.WaitGroup
	var accepted atomic.Int32
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Trigger(context.Background()) {
				accepted.Add(1)
			}
		}()
	}

	// Skipped triggers return without waiting for the run.
	waited := make(chan struct{})
	go func() { wg.Wait(); close(waited) }()
	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("concurrent triggers blocked on the running job")
	}

	close(release)
	require.Eventually(t, func() bool { return !c.Running() }, time.Second, time.Millisecond)

	assert.Zero(t, accepted.Load())
	assert.Equal(t, int32(1), runs.Load())
	assert.Equal(t, float64(8), testutil.ToFloat64(c.metrics.JobRuns.WithLabelValues("sync", metrics.JobSkipped)))
}

func TestCoordinator_FlagClearedAfterFailure(t *testing.T) {
	rep := &recordingReporter{}
	errSync := errors.New("upstream down")

	cases := []struct {
		name string
		task Task
		want string
	}{
		{"error", func(context.Context) error { return errSync }, "upstream down"},
		{"panic", func(context.Context) error { panic("nil map") }, "panicked: nil map"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewCoordinator("sync", tc.task, slog.Default(), WithReporter(rep))

			assert.True(t, c.Trigger(context.Background()))
			assert.False(t, c.Running())

			// A later trigger is accepted again.
			assert.True(t, c.Trigger(context.Background()))
			assert.True(t, c.Drain(time.Millisecond), "completion is signalled even on failure")
		})
	}

	reports := rep.all()
	require.Len(t, reports, 4)
	assert.Contains(t, reports[0].Error, "upstream down")
	assert.Contains(t, reports[2].Error, "panicked: nil map")
	for _, r := range reports {
		assert.True(t, r.Failed())
		assert.False(t, r.FinishedAt.Before(r.StartedAt))
	}
}

func TestCoordinator_TriggerAfterDrainIsRejected(t *testing.T) {
	var runs atomic.Int32
	c := NewCoordinator("sync", func(context.Context) error {
		runs.Add(1)
		return nil
	}, slog.Default())

	require.True(t, c.Drain(time.Second))

	// A scheduler goroutine that fired just before its cron stopped.
	assert.False(t, c.Trigger(context.Background()))
	assert.Zero(t, runs.Load())
	assert.False(t, c.Running())
	assert.Equal(t, float64(1), testutil.ToFloat64(c.metrics.JobRuns.WithLabelValues("sync", metrics.JobSkipped)))
}

func TestCoordinator_DrainIdleReturnsImmediately(t *testing.T) {
	c := NewCoordinator("sync", func(context.Context) error { return nil }, slog.Default())

	start := time.Now()
	assert.True(t, c.Drain(time.Hour))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestCoordinator_DrainWaitsForRun(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	c := NewCoordinator("sync", blockingTask(started, release), slog.Default())

	go c.Trigger(context.Background())
	<-started

	time.AfterFunc(20*time.Millisecond, func() { close(release) })
	assert.True(t, c.Drain(time.Second))
	assert.False(t, c.Running())
}

// A long run in flight, a second trigger skipped, and shutdown capped by the drain timeout.
func TestCoordinator_ShutdownDuringLongRun(t *testing.T) {
	const (
		taskDuration = 200 * time.Millisecond
		drainTimeout = 50 * time.Millisecond
	)

	c := NewCoordinator("sync", func(ctx context.Context) error {
		time.Sleep(taskDuration)
		return nil
	}, slog.Default())

	go c.Trigger(context.Background())
	require.Eventually(t, c.Running, time.Second, time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.False(t, c.Trigger(context.Background()), "second trigger is skipped")

	start := time.Now()
	assert.False(t, c.Drain(drainTimeout), "drain gives up before the run ends")
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, drainTimeout)
	assert.Less(t, elapsed, taskDuration)
	assert.True(t, c.Running(), "the run is abandoned, not cancelled")
	assert.Equal(t, float64(1), testutil.ToFloat64(c.metrics.JobDrains.WithLabelValues("timed_out")))
}

func TestCoordinator_DrainSeesCurrentRunOnly(t *testing.T) {
	c := NewCoordinator("sync", func(context.Context) error { return nil }, slog.Default())
	require.True(t, c.Trigger(context.Background()))

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	c.task = blockingTask(started, release)
	go c.Trigger(context.Background())
	<-started

	// The first run's signal must not satisfy a drain of the second.
	assert.False(t, c.Drain(20*time.Millisecond))
	close(release)
	assert.True(t, c.Drain(time.Second))
}
