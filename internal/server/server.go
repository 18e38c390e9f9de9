package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/BadgerOps/clinicvault/internal/config"
	"github.com/BadgerOps/clinicvault/internal/engine"
	"github.com/BadgerOps/clinicvault/internal/store"
)

// Server represents the HTTP API for backup and restore.
type Server struct {
	engine     *engine.BackupManager
	store      *store.Store
	config     *config.Config
	logger     *slog.Logger
	httpServer *http.Server

	// opMu admits one backup, preview or restore at a time. The engine
	// itself does no locking.
	opMu sync.Mutex
}

// NewServer creates a new Server instance.
func NewServer(
	eng *engine.BackupManager,
	st *store.Store,
	cfg *config.Config,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine: eng,
		store:  st,
		config: cfg,
		logger: logger,
	}
}

// Start starts the HTTP server on the given listen address.
func (s *Server) Start(listenAddr string) error {
	mux := s.setupRoutes()

	// Restores of large archives run well past a normal request budget.
	s.httpServer = &http.Server{
		Addr:         listenAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", listenAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// setupRoutes registers all HTTP routes on a new ServeMux.
// Uses Go 1.22+ enhanced routing with method prefixes.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", s.handleAPIStatus)
	mux.HandleFunc("GET /api/audit", s.handleAPIAudit)
	mux.HandleFunc("GET /api/operation", s.handleAPIOperation)
	mux.HandleFunc("GET /api/operation/events", s.handleAPIOperationEvents)

	mux.HandleFunc("POST /api/backups", s.handleAPIBackup)
	mux.HandleFunc("POST /api/backups/preview", s.handleAPIPreview)
	mux.HandleFunc("POST /api/backups/restore", s.handleAPIRestore)

	return mux
}
