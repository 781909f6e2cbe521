package pubsub

import (
	"context"

	"go.uber.org/fx"

	"github.com/marketplace/delivery-service/config"
	"github.com/marketplace/delivery-service/internal/service/jobs"
)

var Module = fx.Module("pubsub",
	fx.Provide(
		NewTransport,
		func(t *Transport, cfg *config.Config) *ReportDispatcher {
			return NewReportDispatcher(t.Publisher, cfg.PubSub.ReportTopic)
		},
		func(d *ReportDispatcher) jobs.Reporter { return d },
	),
	fx.Invoke(func(lc fx.Lifecycle, t *Transport) {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return t.Close()
			},
		})
	}),
)
