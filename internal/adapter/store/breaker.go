package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/marketplace/delivery-service/internal/domain/model"
	"github.com/sony/gobreaker"
)

var _ EventSource = (*BreakerSource)(nil)

// BreakerSource guards an EventSource with a circuit breaker so a failing
// database is not hammered by every reader tick. An open breaker surfaces as
// ErrUnavailable like any other transient failure.
type BreakerSource struct {
	next EventSource
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerSource(next EventSource, maxFailures uint32, openTimeout time.Duration, logger *slog.Logger) *BreakerSource {
	if maxFailures == 0 {
		maxFailures = 5
	}
	return &BreakerSource{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "event-source",
			MaxRequests: 1,
			Timeout:     openTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			// Cancellation is the caller giving up, not the database failing.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("[BREAKER] state changed",
					slog.String("breaker", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()),
				)
			},
		}),
	}
}

func (b *BreakerSource) LatestSequenceID(ctx context.Context) (int64, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.LatestSequenceID(ctx)
	})
	if err != nil {
		return 0, b.wrap("breaker source: latest", err)
	}
	return res.(int64), nil
}

func (b *BreakerSource) EventsAfter(ctx context.Context, seq int64, limit int) ([]model.Event, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.EventsAfter(ctx, seq, limit)
	})
	if err != nil {
		return nil, b.wrap("breaker source: events after", err)
	}
	return res.([]model.Event), nil
}

func (b *BreakerSource) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerSource) wrap(op string, err error) error {
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	return unavailable(op, err)
}
