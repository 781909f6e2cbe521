package ws

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/marketplace/delivery-service/config"
	httpsrv "github.com/marketplace/delivery-service/infra/server/http"
	"github.com/marketplace/delivery-service/internal/domain/model"
	"github.com/marketplace/delivery-service/internal/domain/registry"
	wsmarshaller "github.com/marketplace/delivery-service/internal/handler/marshaller/ws"
	"github.com/marketplace/delivery-service/internal/service"
)

const maxInboundFrame = 4 << 10

type WSHandler struct {
	logger    *slog.Logger
	deliverer service.Deliverer
	upgrader  websocket.Upgrader
	cfg       config.WSConfig
}

func NewWSHandler(logger *slog.Logger, deliverer service.Deliverer, cfg *config.Config) *WSHandler {
	return &WSHandler{
		logger:    logger.With(slog.String("transport", "ws")),
		deliverer: deliverer,
		cfg:       cfg.WS,
		upgrader: websocket.Upgrader{
			// Origin checks belong to the auth proxy in front of the service.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP runs one connection from upgrade to cleanup.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 1. IDENTITY (resolved out-of-band by the identity middleware)
	recipientID, ok := httpsrv.RecipientID(r.Context())
	if !ok {
		http.Error(w, "missing recipient identity", http.StatusUnauthorized)
		return
	}

	// 2. UPGRADE TO WEBSOCKET
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	// 3. REGISTER
	conn := h.deliverer.Subscribe(recipientID, registry.ConnectMetadata{
		Transport: "ws",
		RemoteIP:  r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
	defer h.deliverer.Unsubscribe(conn)

	log := h.logger.With("recipient_id", recipientID, "conn_id", conn.GetID())
	log.Info("ws opened")

	// [HANDSHAKE] Written before the relay starts, so it is always the first frame.
	if err := h.writeHello(ws, conn); err != nil {
		log.Warn("ws handshake failed", "error", err)
		return
	}

	// 4. INBOUND DRAIN + OUTBOUND RELAY
	var peerGone atomic.Bool
	g, gCtx := errgroup.WithContext(r.Context())

	g.Go(func() error {
		defer conn.Close()
		defer peerGone.Store(true)
		return h.drainInbound(ws)
	})
	g.Go(func() error {
		// A dead writer must also unblock the reader.
		defer ws.Close()
		return h.relayOutbound(gCtx, ws, conn, &peerGone)
	})

	err = g.Wait()
	switch {
	case err == nil:
		log.Info("ws closed")
	case isProbeTimeout(err):
		log.Info("ws closed", "reason", model.DisconnectProbeFail)
	default:
		log.Debug("ws closed", "error", err)
	}
}

func (h *WSHandler) writeHello(ws *websocket.Conn, conn registry.Connector) error {
	hello, err := wsmarshaller.MarshallConnected(&model.ConnectedPayload{
		Ok:            true,
		ConnectionID:  conn.GetID().String(),
		RecipientID:   conn.GetRecipientID(),
		ServerVersion: model.ServerVersion,
	})
	if err != nil {
		return err
	}
	_ = ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
	return ws.WriteMessage(websocket.TextMessage, hello)
}

// drainInbound discards client frames. Every pong pushes the read deadline, so
// a peer that stops answering pings fails the read with a timeout.
func (h *WSHandler) drainInbound(ws *websocket.Conn) error {
	ws.SetReadLimit(maxInboundFrame)
	_ = ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		if _, _, err := ws.NextReader(); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return nil
			}
			return err
		}
	}
}

// relayOutbound writes queued frames in order and pings on a fixed interval.
// A server-side close flushes what is already queued before the farewell.
func (h *WSHandler) relayOutbound(ctx context.Context, ws *websocket.Conn, conn registry.Connector, peerGone *atomic.Bool) error {
	nextPing := time.Now().Add(h.cfg.PingInterval)

	for {
		waitCtx, cancel := context.WithDeadline(ctx, nextPing)
		frame, ok := conn.Next(waitCtx)
		cancel()

		if peerGone.Load() {
			return nil
		}

		if !ok && (!conn.IsAlive() || ctx.Err() != nil) {
			h.farewell(ws, conn)
			return nil
		}

		if ok {
			_ = ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return err
			}
		}

		// A busy queue must not starve the liveness probe.
		if !time.Now().Before(nextPing) {
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteWait)); err != nil {
				return err
			}
			nextPing = time.Now().Add(h.cfg.PingInterval)
		}
	}
}

// farewell tells a still-connected peer that the server is closing the connection.
func (h *WSHandler) farewell(ws *websocket.Conn, conn registry.Connector) {
	deadline := time.Now().Add(h.cfg.WriteWait)

	if frame, err := wsmarshaller.MarshallDisconnected(conn.GetID().String(), &model.DisconnectedPayload{
		Reason: model.DisconnectShutdown,
		Code:   websocket.CloseGoingAway,
	}); err == nil {
		_ = ws.SetWriteDeadline(deadline)
		_ = ws.WriteMessage(websocket.TextMessage, frame)
	}
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, model.DisconnectShutdown), deadline)
}

func isProbeTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
