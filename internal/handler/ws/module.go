package ws

import (
	"go.uber.org/fx"

	httpsrv "github.com/marketplace/delivery-service/infra/server/http"
	wsmarshaller "github.com/marketplace/delivery-service/internal/handler/marshaller/ws"
	"github.com/marketplace/delivery-service/internal/service"
)

var Module = fx.Module("ws-handler",
	fx.Provide(
		NewWSHandler,
		// [WIRE_FORMAT] Pushers encode every event once with the websocket marshaller.
		func() service.Encoder { return wsmarshaller.MarshallDeliveryEvent },
	),
	fx.Invoke(func(srv *httpsrv.Server, h *WSHandler) {
		srv.Router.Get("/ws", h.ServeHTTP)
	}),
)
