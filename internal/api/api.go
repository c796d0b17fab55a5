// Package api provides the HTTP surface for CarePath.
//
// It exposes the conversation endpoint that feeds the flow engine, health and
// metrics endpoints, and admin endpoints for conversation inspection and
// GDPR erasure.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CareBridge/CarePath/internal/flow"
	"github.com/CareBridge/CarePath/internal/store"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Opts holds configuration for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server wires the flow engine, state manager and store to HTTP handlers.
type Server struct {
	addr         string
	engine       *flow.Engine
	stateManager *flow.StateManager
	st           store.Store
	httpServer   *http.Server
}

// NewServer creates an API server around an initialized engine.
func NewServer(engine *flow.Engine, stateManager *flow.StateManager, st store.Store, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		addr:         cfg.Addr,
		engine:       engine,
		stateManager: stateManager,
		st:           st,
	}
}

// Handler builds the route table. Split out from Run so tests can drive the
// mux with httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/messages", s.messageHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/conversations/", s.conversationHandler)
	mux.HandleFunc("/escalations", s.escalationsHandler)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: CarePath API listening", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("API server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("API server shutdown failed: %w", err)
	}
	slog.Info("Server.Run: API server stopped")
	return nil
}
