package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Server is the debug HTTP endpoint: metrics plus the websocket event feed.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer builds a server on addr serving the given handlers.
func NewServer(addr string, metrics *MetricsHandler, feed *EventsHandler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	if metrics != nil {
		metrics.RegisterRoutes(mux)
	}
	if feed != nil {
		feed.RegisterRoutes(mux)
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With("component", "http"),
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start listens and serves in the background. It returns the bound address.
func (s *Server) Start() (string, error) {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return "", err
	}
	addr := ln.Addr().String()
	s.logger.Info("debug server listening", "addr", addr)

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("debug server stopped", "error", err)
		}
	}()
	return addr, nil
}

// Shutdown stops accepting connections and waits for handlers up to ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
