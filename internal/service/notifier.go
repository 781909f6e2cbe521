package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/marketplace/delivery-service/config"
	"github.com/marketplace/delivery-service/internal/adapter/store"
	"github.com/marketplace/delivery-service/internal/domain/model"
	"github.com/marketplace/delivery-service/internal/domain/queue"
	"github.com/marketplace/delivery-service/internal/domain/registry"
	"github.com/marketplace/delivery-service/internal/metrics"
)

var (
	ErrAlreadyStarted = errors.New("notifier: already started")
	ErrNotStarted     = errors.New("notifier: not started")
)

type NotifierConfig struct {
	Reader          config.ReaderConfig
	ChannelCapacity int
	DedupeSize      int
}

// Notifier owns the delivery pipeline: one Reader feeding the channel and a
// pool of Pusher workers draining it into the registry.
type Notifier struct {
	cfg     NotifierConfig
	encode  Encoder
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu         sync.Mutex
	channel    *queue.Channel[model.Event]
	stopReader context.CancelFunc
	stopPusher context.CancelFunc
	readerDone chan struct{}
	pusherDone chan struct{}
}

func NewNotifier(cfg NotifierConfig, encode Encoder, logger *slog.Logger, m *metrics.Metrics) *Notifier {
	if m == nil {
		m = metrics.New(nil)
	}
	n := &Notifier{
		cfg:     cfg,
		encode:  encode,
		logger:  logger,
		metrics: m,
	}
	m.Gauge("channel", "depth", "Events waiting in the delivery channel.", func() float64 {
		return float64(n.Pending())
	})
	return n
}

// Start spawns the Reader and the Pusher workers. They live until ctx is
// cancelled or Stop is called.
func (n *Notifier) Start(
	ctx context.Context,
	source store.EventSource,
	cursor store.CursorStore,
	workers int,
	hub registry.Hubber,
) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.channel != nil {
		return ErrAlreadyStarted
	}

	ch := queue.NewChannel[model.Event](n.cfg.ChannelCapacity)
	reader := NewReader(source, cursor, ch, n.cfg.Reader, n.logger, n.metrics)
	pusher := NewPusher(ch, hub, n.encode, workers, n.cfg.DedupeSize, n.logger, n.metrics)

	// Separate contexts: the reader stops first so the pushers can drain what is queued.
	readerCtx, stopReader := context.WithCancel(ctx)
	pusherCtx, stopPusher := context.WithCancel(ctx)

	n.channel = ch
	n.stopReader = stopReader
	n.stopPusher = stopPusher
	n.readerDone = make(chan struct{})
	n.pusherDone = make(chan struct{})

	go func() {
		defer close(n.readerDone)
		_ = reader.Run(readerCtx)
	}()
	go func() {
		defer close(n.pusherDone)
		_ = pusher.Run(pusherCtx)
	}()

	n.logger.Info("[NOTIFIER] started",
		slog.Int("workers", workers),
		slog.Int("channel_capacity", ch.Cap()),
	)
	return nil
}

// Stop halts the Reader, closes the channel and waits for the workers to
// deliver what is still queued. When ctx expires first the workers are
// cancelled and the remaining events are left to the next start, which
// replays them from the cursor.
func (n *Notifier) Stop(ctx context.Context) error {
	n.mu.Lock()
	ch := n.channel
	stopReader, stopPusher := n.stopReader, n.stopPusher
	readerDone, pusherDone := n.readerDone, n.pusherDone
	n.mu.Unlock()

	if ch == nil {
		return ErrNotStarted
	}

	stopReader()
	select {
	case <-readerDone:
	case <-ctx.Done():
	}

	ch.Close()
	select {
	case <-pusherDone:
		n.logger.Info("[NOTIFIER] stopped")
		return nil
	case <-ctx.Done():
		stopPusher()
		<-pusherDone
		n.logger.Warn("[NOTIFIER] stop deadline hit, queued events dropped", slog.Int("remaining", ch.Len()))
		return ctx.Err()
	}
}

// Pending returns the delivery channel depth.
func (n *Notifier) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.channel == nil {
		return 0
	}
	return n.channel.Len()
}
