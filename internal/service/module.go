package service

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/marketplace/delivery-service/config"
	"github.com/marketplace/delivery-service/internal/adapter/store"
	"github.com/marketplace/delivery-service/internal/domain/registry"
	"github.com/marketplace/delivery-service/internal/metrics"
)

var Module = fx.Module(
	"service",

	fx.Provide(
		fx.Annotate(
			NewDeliveryService,
			fx.As(new(Deliverer)),
		),
		// Encoder is supplied by the transport module that owns the wire format.
		func(cfg *config.Config, encode Encoder, logger *slog.Logger, m *metrics.Metrics) *Notifier {
			return NewNotifier(NotifierConfig{
				Reader:          cfg.Reader,
				ChannelCapacity: cfg.Channel.Capacity,
				DedupeSize:      cfg.Pusher.DedupeSize,
			}, encode, logger, m)
		},
	),

	fx.Invoke(func(
		lc fx.Lifecycle,
		cfg *config.Config,
		n *Notifier,
		source store.EventSource,
		cursor store.CursorStore,
		hub registry.Hubber,
	) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				// The start context expires with fx's start timeout; the pipeline outlives it.
				return n.Start(context.Background(), source, cursor, cfg.Pusher.Workers, hub)
			},
			OnStop: n.Stop,
		})
	}),
)
