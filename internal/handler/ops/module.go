package ops

import (
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	"github.com/marketplace/delivery-service/config"
	httpsrv "github.com/marketplace/delivery-service/infra/server/http"
	"github.com/marketplace/delivery-service/internal/metrics"
	"github.com/marketplace/delivery-service/internal/service"
	"github.com/marketplace/delivery-service/internal/service/jobs"
)

var Module = fx.Module("ops-handler",
	fx.Provide(func(
		cfg *config.Config,
		deliverer service.Deliverer,
		notifier *service.Notifier,
		coordinator *jobs.Coordinator,
		history *jobs.History,
	) *StatsHandler {
		return NewStatsHandler(deliverer, notifier, coordinator, history, cfg.Job.Name)
	}),
	fx.Invoke(func(srv *httpsrv.Server, h *StatsHandler, m *metrics.Metrics, deliverer service.Deliverer) {
		m.Gauge("registry", "connections", "Live connections in the registry.", func() float64 {
			return float64(deliverer.Stats().TotalConnections)
		})
		m.Gauge("registry", "pending_frames", "Frames queued on connections and not yet written.", func() float64 {
			return float64(deliverer.Stats().PendingFrames)
		})

		srv.Router.Get("/stats", h.ServeHTTP)
		srv.Router.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	}),
)
