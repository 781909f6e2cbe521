package reports

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/fx"

	"github.com/marketplace/delivery-service/config"
	"github.com/marketplace/delivery-service/internal/adapter/pubsub"
)

var Module = fx.Module("reports-handler",
	fx.Provide(
		NewReportHandler,
		NewRouter,
	),

	fx.Invoke(RegisterHandlers),
)

func RegisterHandlers(lc fx.Lifecycle, router *message.Router, h *ReportHandler, t *pubsub.Transport, cfg *config.Config) {
	h.RegisterHandlers(router, t.Subscriber, cfg.PubSub.ReportTopic)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := router.Run(context.Background()); err != nil {
					h.logger.Error("ROUTER_STOPPED", "err", err)
				}
			}()
			select {
			case <-router.Running():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
		OnStop: func(context.Context) error {
			return router.Close()
		},
	})
}
