// Package api provides the HTTP API server for function execution.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	apispec "github.com/narvanalabs/functions/api"
	"github.com/narvanalabs/functions/internal/api/handlers"
	"github.com/narvanalabs/functions/internal/api/health"
	"github.com/narvanalabs/functions/internal/api/middleware"
	"github.com/narvanalabs/functions/pkg/config"
)

// Version is the current version of the API server.
// This should be set at build time using ldflags.
var Version = "dev"

// requestSlack is added to the platform timeout to cover packaging and
// deployment inside one request.
const requestSlack = 30 * time.Second

// Executor is the orchestrator surface the API serves.
type Executor interface {
	handlers.Executor
	handlers.Authorizer
}

// Deps holds the components behind the API.
type Deps struct {
	Executor Executor
	Events   handlers.EventSource
	Tokens   middleware.ActorResolver
	Health   *health.Checker
}

// Server represents the HTTP API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	deps       Deps
	config     *config.Config
	logger     *slog.Logger
}

// NewServer creates a new API server with the given dependencies.
func NewServer(cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Health == nil {
		deps.Health = health.NewChecker(Version)
	}

	s := &Server{
		deps:   deps,
		config: cfg,
		logger: logger,
	}
	s.setupRouter()

	requestTimeout := s.requestTimeout()
	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: requestTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) requestTimeout() time.Duration {
	return s.config.Platform.Timeout + requestSlack
}

// setupRouter configures the router with middleware and routes.
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(middleware.Recovery(s.logger))

	// Health check endpoint (no auth required)
	r.Get("/health", s.deps.Health.Handler())
	r.Get("/openapi.yaml", serveOpenAPI)

	authMiddleware := middleware.NewAuthMiddleware(s.deps.Tokens, s.logger)
	execHandler := handlers.NewExecutionHandler(s.deps.Executor, s.logger)
	streamHandler := handlers.NewStreamHandler(s.deps.Events, s.deps.Executor, s.logger)

	r.Route("/v1", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)

		// The stream outlives any request deadline.
		r.Get("/executions/stream", streamHandler.Stream)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(s.requestTimeout()))

			r.Route("/execute", func(r chi.Router) {
				r.Post("/direct", execHandler.Direct)
				r.Post("/{functionID}", execHandler.Execute)
				r.Get("/{functionID}/logs", execHandler.Logs)
			})
			r.Get("/executions/{executionID}", execHandler.Get)
		})
	})

	s.router = r
}

func serveOpenAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.Write(apispec.OpenAPI)
}

// Start serves HTTP until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting API server", "addr", s.httpServer.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// HTTPServer returns the underlying server for shutdown coordination.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Router returns the chi router for testing purposes.
func (s *Server) Router() chi.Router {
	return s.router
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}
