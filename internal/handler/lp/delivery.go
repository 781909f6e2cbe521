package lp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/marketplace/delivery-service/config"
	httpsrv "github.com/marketplace/delivery-service/infra/server/http"
	"github.com/marketplace/delivery-service/internal/domain/registry"
	lpmarshaller "github.com/marketplace/delivery-service/internal/handler/marshaller/lp"
	"github.com/marketplace/delivery-service/internal/service"
)

const maxBatch = 16

type LPHandler struct {
	deliverer service.Deliverer
	timeout   time.Duration
	logger    *slog.Logger
}

func NewLPHandler(deliverer service.Deliverer, cfg *config.Config, logger *slog.Logger) *LPHandler {
	return &LPHandler{
		deliverer: deliverer,
		timeout:   cfg.WS.PollTimeout,
		logger:    logger.With(slog.String("transport", "lp")),
	}
}

// Poll handles the long-polling request.
// It holds the connection until an event arrives or timeout occurs. Events
// published between two polls are not retained.
func (h *LPHandler) Poll(w http.ResponseWriter, r *http.Request) {
	// 1. Identity (resolved by the identity middleware).
	recipientID, ok := httpsrv.RecipientID(r.Context())
	if !ok {
		http.Error(w, "missing recipient identity", http.StatusUnauthorized)
		return
	}

	// 2. Temporary Subscription.
	// The connector lives only for the duration of this HTTP request.
	conn := h.deliverer.Subscribe(recipientID, registry.ConnectMetadata{
		Transport: "lp",
		RemoteIP:  r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
	defer h.deliverer.Unsubscribe(conn)

	// 3. Wait for data or timeout.
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	first, ok := conn.Next(ctx)
	if !ok {
		if r.Context().Err() != nil {
			return // Client disconnected.
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	frames := [][]byte{first}

	// Drain what is already queued to cut the number of follow-up requests.
	for len(frames) < maxBatch && conn.Pending() > 0 {
		next, ok := conn.Next(ctx)
		if !ok {
			break
		}
		frames = append(frames, next)
	}

	// 4. Final transmission.
	data, err := lpmarshaller.MarshallFrames(frames)
	if err != nil {
		h.logger.Error("lp marshal failed", "error", err)
		http.Error(w, "marshal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
