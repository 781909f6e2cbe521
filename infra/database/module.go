package database

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("database",
	fx.Provide(NewProvider),

	// [LIFECYCLE] Pools are closed last, after every consumer has stopped.
	fx.Invoke(func(lc fx.Lifecycle, p *Provider) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return p.Close()
			},
		})
	}),
)
