package http

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/marketplace/delivery-service/config"
)

var Module = fx.Module("http-server",
	fx.Provide(func(cfg *config.Config, logger *slog.Logger) *Server {
		return NewServer(
			cfg.HTTP.Addr,
			cfg.HTTP.ReadTimeout,
			HeaderResolver(cfg.HTTP.RecipientHeader),
			logger.With(slog.String("component", "http")),
		)
	}),
	fx.Invoke(func(lc fx.Lifecycle, s *Server) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error { return s.Start() },
			OnStop:  s.Shutdown,
		})
	}),
)
