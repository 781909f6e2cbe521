package lp

import (
	"go.uber.org/fx"

	httpsrv "github.com/marketplace/delivery-service/infra/server/http"
)

var Module = fx.Module("lp-handler",
	fx.Provide(NewLPHandler),
	fx.Invoke(func(srv *httpsrv.Server, h *LPHandler) {
		srv.Router.Get("/poll", h.Poll)
	}),
)
