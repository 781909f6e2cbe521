package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/marketplace/delivery-service/config"
	"github.com/marketplace/delivery-service/internal/adapter/store"
	"github.com/marketplace/delivery-service/internal/domain/model"
	"github.com/marketplace/delivery-service/internal/domain/queue"
	"github.com/marketplace/delivery-service/internal/metrics"
)

const tracerName = "github.com/marketplace/delivery-service/internal/service"

// ErrBatchAborted marks a cycle that stopped mid-batch because the channel filled up.
var ErrBatchAborted = errors.New("reader: batch aborted")

// Reader pulls events past the cursor into the delivery channel.
// The cursor only moves after a whole batch has been queued, so a crash or an
// aborted batch replays events instead of losing them.
type Reader struct {
	source store.EventSource
	cursor store.CursorStore
	out    *queue.Channel[model.Event]

	cfg     config.ReaderConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	// Owned by the Run goroutine.
	position   int64
	ready      bool
	cyclesLeft int
}

func NewReader(
	source store.EventSource,
	cursor store.CursorStore,
	out *queue.Channel[model.Event],
	cfg config.ReaderConfig,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Reader {
	if cfg.Cycles <= 0 {
		cfg.Cycles = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.Tick <= 0 {
		cfg.Tick = 5 * time.Second
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Reader{
		source:  source,
		cursor:  cursor,
		out:     out,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "reader")),
		metrics: m,
		tracer:  otel.Tracer(tracerName),
	}
}

// Run drives the reader until ctx is cancelled. The first step runs immediately.
func (r *Reader) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Tick)
	defer ticker.Stop()

	r.logger.Info("[READER] started",
		slog.Duration("tick", r.cfg.Tick),
		slog.Int("cycles", r.cfg.Cycles),
		slog.Int("batch_size", r.cfg.BatchSize),
	)

	for {
		r.step(ctx)

		select {
		case <-ctx.Done():
			r.logger.Info("[READER] stopped", slog.Int64("cursor", r.position))
			return nil
		case <-ticker.C:
		}
	}
}

// Position returns the in-memory cursor and whether it has been initialised.
// Not safe for concurrent use with Run.
func (r *Reader) Position() (int64, bool) {
	return r.position, r.ready
}

// step is one tick of work: initialise if needed, then either start a new
// round of cycles after the full-check or continue the current round.
func (r *Reader) step(ctx context.Context) {
	if !r.ready {
		if err := r.Init(ctx); err != nil {
			r.logger.Warn("[READER] cursor init failed, retrying next tick", slog.Any("err", err))
			return
		}
	}

	if r.cyclesLeft == 0 {
		if r.out.Full() {
			r.metrics.ReaderSkippedTicks.Inc()
			r.logger.Debug("[READER] channel full, skipping tick", slog.Int("len", r.out.Len()))
			return
		}
		r.cyclesLeft = r.cfg.Cycles
	}

	r.cyclesLeft--
	if _, err := r.Cycle(ctx); err != nil {
		// Back to the full-check on the next tick.
		r.cyclesLeft = 0
		if errors.Is(err, ErrBatchAborted) {
			r.logger.Info("[READER] batch aborted, will retry", slog.Any("err", err))
			return
		}
		if ctx.Err() == nil {
			r.logger.Warn("[READER] cycle failed", slog.Any("err", err))
		}
	}
}

// Init loads the persisted cursor or adopts and persists the configured default.
func (r *Reader) Init(ctx context.Context) error {
	value, ok, err := r.cursor.Get(ctx)
	if err != nil {
		return fmt.Errorf("read cursor: %w", err)
	}

	if !ok {
		switch r.cfg.StartFrom {
		case config.StartFromBeginning:
			value = 0
		default:
			if value, err = r.source.LatestSequenceID(ctx); err != nil {
				return fmt.Errorf("resolve latest sequence id: %w", err)
			}
		}
		if err := r.cursor.Set(ctx, value); err != nil {
			return fmt.Errorf("persist default cursor: %w", err)
		}
		r.logger.Info("[READER] cursor initialised from default",
			slog.String("start_from", r.cfg.StartFrom),
			slog.Int64("cursor", value),
		)
	} else {
		r.logger.Info("[READER] cursor loaded", slog.Int64("cursor", value))
	}

	r.position = value
	r.ready = true
	r.metrics.Cursor.Set(float64(value))
	return nil
}

// Cycle reads one batch past the cursor and queues it. It returns the number of
// events queued. The cursor is persisted only when every event was accepted.
func (r *Reader) Cycle(ctx context.Context) (n int, err error) {
	ctx, span := r.tracer.Start(ctx, "reader.cycle", trace.WithAttributes(
		attribute.Int64("cursor", r.position),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Int("events", n))
		span.End()
	}()

	batch, err := r.source.EventsAfter(ctx, r.position, r.cfg.BatchSize)
	if err != nil {
		r.metrics.ReaderBatches.WithLabelValues(metrics.BatchError).Inc()
		return 0, fmt.Errorf("read events after %d: %w", r.position, err)
	}
	if len(batch) == 0 {
		r.metrics.ReaderBatches.WithLabelValues(metrics.BatchEmpty).Inc()
		return 0, nil
	}

	for i, ev := range batch {
		if err := r.out.Enqueue(ev); err != nil {
			r.metrics.EventsEnqueued.Add(float64(i))
			r.metrics.ReaderBatches.WithLabelValues(metrics.BatchAborted).Inc()
			return i, fmt.Errorf("%w at sequence %d (%d/%d queued): %w",
				ErrBatchAborted, ev.SequenceID, i, len(batch), err)
		}
	}
	r.metrics.EventsEnqueued.Add(float64(len(batch)))

	top := model.MaxSequenceID(batch)
	if err := r.cursor.Set(ctx, top); err != nil {
		// The batch is queued; it will be replayed if the next persist also fails.
		r.metrics.ReaderBatches.WithLabelValues(metrics.BatchError).Inc()
		return len(batch), fmt.Errorf("persist cursor %d: %w", top, err)
	}

	r.position = top
	r.metrics.Cursor.Set(float64(top))
	r.metrics.ReaderBatches.WithLabelValues(metrics.BatchCommitted).Inc()
	r.logger.Debug("[READER] batch committed", slog.Int("events", len(batch)), slog.Int64("cursor", top))
	return len(batch), nil
}
