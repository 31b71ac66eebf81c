// Package server exposes a discharge service over HTTP: target services
// register discharge expectations, clients collect discharge credentials.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relves/macaroons/pkg/bakery"
)

// Server serves the discharge endpoints for one bakery.Service.
type Server struct {
	service *bakery.Service
	logger  *slog.Logger
	addr    string
	mux     *http.ServeMux
}

// New creates a server for the given discharge service.
func New(service *bakery.Service, opts ...Option) *Server {
	cfg := applyOptions(opts...)
	s := &Server{
		service: service,
		logger:  cfg.Logger,
		addr:    cfg.Addr,
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("POST /expect", s.handleExpect)
	s.mux.HandleFunc("POST /discharge", s.handleDischarge)
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("discharge server listening", "addr", s.addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
