// Package web is the HTTP surface of the central ledger: event ingest from
// room agents, attendance queries and overrides, quarantine review, status
// and CSV export.
package web

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"classtrack/internal/config"
	"classtrack/internal/ledger"
	"classtrack/internal/web/middleware"
)

// Server represents the ledger web server.
type Server struct {
	config     *config.Config
	router     *chi.Mux
	httpServer *http.Server
	ledger     *ledger.Service
	store      ledger.Store
}

// NewServer creates a new ledger server over the given service and store.
func NewServer(cfg *config.Config, svc *ledger.Service, store ledger.Store) *Server {
	r := chi.NewRouter()

	s := &Server{
		config: cfg,
		router: r,
		ledger: svc,
		store:  store,
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(time.Minute))
	r.Use(middleware.CORS())

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	log.Printf("Starting ledger server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down ledger server...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
