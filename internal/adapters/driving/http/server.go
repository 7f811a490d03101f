package http

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tracklane/tracklane-core/internal/core/ports/driven"
	"github.com/tracklane/tracklane-core/internal/core/ports/driving"
)

// Pinger is a simple health check interface
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	router     *http.ServeMux
	version    string

	// Services
	projectService   driving.ProjectService
	syncHealth       driving.SyncHealthService
	syncOrchestrator driving.SyncOrchestrator

	// Infrastructure
	taskQueue   driven.TaskQueue
	db          Pinger // PostgreSQL health check
	redisClient Pinger // Redis health check (optional)
	whiteboard  Pinger // Whiteboard API health check (optional)
}

// Config holds server configuration
type Config struct {
	Host           string
	Port           int
	Version        string
	AllowedOrigins []string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8080,
		Version:        "dev",
		AllowedOrigins: []string{"*"},
	}
}

// NewServer creates a new HTTP server
func NewServer(
	cfg Config,
	projectService driving.ProjectService,
	syncHealth driving.SyncHealthService,
	syncOrchestrator driving.SyncOrchestrator,
	taskQueue driven.TaskQueue,
	db Pinger,
	redisClient Pinger, // can be nil
	whiteboard Pinger, // can be nil
) *Server {
	s := &Server{
		router:           http.NewServeMux(),
		version:          cfg.Version,
		projectService:   projectService,
		syncHealth:       syncHealth,
		syncOrchestrator: syncOrchestrator,
		taskQueue:        taskQueue,
		db:               db,
		redisClient:      redisClient,
		whiteboard:       whiteboard,
	}

	s.setupRoutes()

	// Middleware chain: logging wraps everything, recovery catches handler
	// panics, CORS runs innermost so preflights still get logged.
	handler := NewLoggingMiddleware().Handler(
		NewRecoveryMiddleware().Handler(
			NewCORSMiddleware(cfg.AllowedOrigins).Handler(s.router)))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Health endpoints
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /version", s.handleVersion)

	// Project endpoints
	s.router.HandleFunc("GET /api/v1/projects", s.handleListProjects)
	s.router.HandleFunc("POST /api/v1/projects", s.handleCreateProject)
	s.router.HandleFunc("GET /api/v1/projects/{id}", s.handleGetProject)
	s.router.HandleFunc("PUT /api/v1/projects/{id}", s.handleUpdateProject)
	s.router.HandleFunc("DELETE /api/v1/projects/{id}", s.handleDeleteProject)
	s.router.HandleFunc("POST /api/v1/projects/{id}/archive", s.handleArchiveProject)
	s.router.HandleFunc("POST /api/v1/projects/{id}/unlink", s.handleUnlinkBoard)

	// Per-project sync controls
	s.router.HandleFunc("POST /api/v1/projects/{id}/sync", s.handleTriggerSync)
	s.router.HandleFunc("POST /api/v1/projects/{id}/requeue", s.handleRequeueSync)
	s.router.HandleFunc("GET /api/v1/projects/{id}/sync-log", s.handleProjectSyncLog)

	// Population-wide sync surface
	s.router.HandleFunc("GET /api/v1/sync/health", s.handleSyncHealth)
	s.router.HandleFunc("GET /api/v1/sync/log", s.handleSyncLog)
	s.router.HandleFunc("GET /api/v1/sync/stats", s.handleSyncStats)
	s.router.HandleFunc("POST /api/v1/sync/retry-failed", s.handleRetryFailed)

	// Task queue
	s.router.HandleFunc("GET /api/v1/tasks/stats", s.handleTaskStats)
}

// Start starts the HTTP server with graceful shutdown
func (s *Server) Start() error {
	// Channel to listen for OS signals
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		log.Printf("Starting server on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	<-stop
	log.Println("Shutting down server...")

	// Create shutdown context with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Attempt graceful shutdown
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Println("Server stopped")
	return nil
}

// Stop stops the server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
