package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/marketplace/delivery-service/internal/domain/model"
	"github.com/marketplace/delivery-service/internal/domain/queue"
	"github.com/marketplace/delivery-service/internal/domain/registry"
	"github.com/marketplace/delivery-service/internal/metrics"
)

// Encoder turns an event into the frame written to every connection of its recipient.
type Encoder func(ev model.Event) ([]byte, error)

// Pusher is a pool of workers moving events from the delivery channel to the registry.
type Pusher struct {
	in      *queue.Channel[model.Event]
	hub     registry.Hubber
	encode  Encoder
	workers int

	// [DEDUPE_WINDOW] Events already queued on a given connection by this process.
	seen *lru.Cache[deliveryKey, struct{}]

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// deliveryKey identifies one event on one connection. A replayed event is
// suppressed only for connections that already hold it.
type deliveryKey struct {
	seq  int64
	conn uuid.UUID
}

func NewPusher(
	in *queue.Channel[model.Event],
	hub registry.Hubber,
	encode Encoder,
	workers int,
	dedupeSize int,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Pusher {
	if workers <= 0 {
		workers = 1
	}
	if m == nil {
		m = metrics.New(nil)
	}

	p := &Pusher{
		in:      in,
		hub:     hub,
		encode:  encode,
		workers: workers,
		logger:  logger.With(slog.String("component", "pusher")),
		metrics: m,
	}
	if dedupeSize > 0 {
		// lru.New only fails on a non-positive size.
		p.seen, _ = lru.New[deliveryKey, struct{}](dedupeSize)
	}
	return p
}

// Run starts the workers and blocks until all of them exit: the channel is
// closed and drained, or ctx is cancelled.
func (p *Pusher) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	for i := range p.workers {
		g.Go(func() error {
			p.work(gCtx, i)
			return nil
		})
	}

	p.logger.Info("[PUSHER] workers started", slog.Int("workers", p.workers))
	err := g.Wait()
	p.logger.Info("[PUSHER] workers stopped")
	return err
}

func (p *Pusher) work(ctx context.Context, id int) {
	for {
		ev, ok := p.in.Dequeue(ctx)
		if !ok {
			p.logger.Debug("[PUSHER] worker exit", slog.Int("worker", id))
			return
		}
		p.Push(ev)
	}
}

// Push fans one event out to every live connection of its recipient that does
// not hold it yet and returns the number of connections it reached.
func (p *Pusher) Push(ev model.Event) int {
	frame, err := p.encode(ev)
	if err != nil {
		p.metrics.Pushes.WithLabelValues(metrics.PushEncodeErr).Inc()
		p.logger.Error("[PUSHER] encode failed",
			slog.Int64("sequence_id", ev.SequenceID),
			slog.Any("err", err),
		)
		return 0
	}

	var admit func(registry.Connector) bool
	if p.seen != nil {
		admit = func(conn registry.Connector) bool {
			held, _ := p.seen.ContainsOrAdd(deliveryKey{seq: ev.SequenceID, conn: conn.GetID()}, struct{}{})
			return !held
		}
	}

	delivered, skipped := p.hub.FanOutFunc(ev.RecipientID, frame, admit)
	switch {
	case delivered > 0:
		p.metrics.Pushes.WithLabelValues(metrics.PushDelivered).Inc()
	case skipped > 0:
		p.metrics.Pushes.WithLabelValues(metrics.PushDuplicate).Inc()
	default:
		// Offline recipients catch up through the REST history.
		p.metrics.Pushes.WithLabelValues(metrics.PushOffline).Inc()
	}
	return delivered
}
