package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// parser accepts 5 or 6 field expressions and descriptors such as "@every 1m".
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler fires Coordinator.Trigger on a cron schedule. Every firing runs in
// its own goroutine, so overlapping firings reach the coordinator and are skipped there.
type Scheduler struct {
	cron   *cron.Cron
	entry  cron.EntryID
	spec   string
	logger *slog.Logger
}

func NewScheduler(spec string, coordinator *Coordinator, logger *slog.Logger) (*Scheduler, error) {
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLogger(cronLogger{logger: logger}),
	)

	id, err := c.AddFunc(spec, func() {
		// Runs detached from the shutdown signal; the drain decides how long to wait for it.
		coordinator.Trigger(context.Background())
	})
	if err != nil {
		return nil, fmt.Errorf("schedule %q: %w", spec, err)
	}

	return &Scheduler{
		cron:   c,
		entry:  id,
		spec:   spec,
		logger: logger,
	}, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("[SCHEDULER] started",
		slog.String("schedule", s.spec),
		slog.Time("next_run", s.cron.Entry(s.entry).Next),
	)
}

// Stop prevents new firings. It does not wait for a running task.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.logger.Info("[SCHEDULER] stopped")
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("[CRON] "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("[CRON] "+msg, append(keysAndValues, slog.Any("err", err))...)
}
