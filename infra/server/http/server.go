// Package http hosts the service's HTTP surface: the connection endpoints and
// the operational routes.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	Router chi.Router

	srv    *http.Server
	logger *slog.Logger
	ln     net.Listener
}

func NewServer(addr string, readHeaderTimeout time.Duration, resolve RecipientResolver, logger *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(Identity(resolve))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return &Server{
		Router: r,
		logger: logger,
		srv: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}
}

// Start binds the listener synchronously so a busy port fails fx startup,
// then serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("http: listen %s: %w", s.srv.Addr, err)
	}
	s.ln = ln

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("[HTTP] server stopped", slog.Any("err", err))
		}
	}()

	s.logger.Info("[HTTP] listening", slog.String("addr", ln.Addr().String()))
	return nil
}

// Addr is the bound address, useful when listening on port 0.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.srv.Addr
	}
	return s.ln.Addr().String()
}

// Shutdown stops accepting requests. Hijacked websocket connections are not
// tracked by net/http; the registry closes them.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("[HTTP] shutting down")
	return s.srv.Shutdown(ctx)
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
