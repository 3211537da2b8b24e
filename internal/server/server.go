// Package server provides the HTTP server and routing for the tracker.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"customs-tracker/internal/cache"
	"customs-tracker/internal/events"
	"customs-tracker/internal/reliability"
	"customs-tracker/internal/scheduler"
	"customs-tracker/internal/tracking"
)

// Config holds server configuration
type Config struct {
	Log             zerolog.Logger
	Port            int
	DevMode         bool
	EventBus        *events.Bus
	EventManager    *events.Manager
	TrackingService *tracking.Service
	Scheduler       *scheduler.Scheduler
	Cache           *cache.QueryCache
	BackupService   *reliability.BackupService
	HealthService   *reliability.HealthService
}

// Server represents the HTTP server
type Server struct {
	router   *chi.Mux
	server   *http.Server
	log      zerolog.Logger
	handlers *Handlers
	eventBus *events.Bus
	port     int
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		log:      cfg.Log.With().Str("component", "server").Logger(),
		eventBus: cfg.EventBus,
		port:     cfg.Port,
		handlers: NewHandlers(
			cfg.TrackingService,
			cfg.Scheduler,
			cfg.Cache,
			cfg.BackupService,
			cfg.HealthService,
			cfg.EventManager,
			cfg.Log,
		),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	// WriteTimeout is deliberately zero: it would cut off the long-lived
	// SSE and WebSocket streams at the deadline. Regular API routes get a
	// per-request timeout from the middleware in setupRoutes instead.
	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// Router exposes the router for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		// The event bridges stay open for the lifetime of the client, so
		// they live outside the timeout group below.
		eventsStreamHandler := NewEventsStreamHandler(s.eventBus, s.log)
		r.Get("/events/stream", eventsStreamHandler.ServeHTTP)

		eventsSocketHandler := NewEventsSocketHandler(s.eventBus, s.log)
		r.Get("/events/ws", eventsSocketHandler.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Get("/status", s.handlers.HandleStatus)

			r.Route("/declarations", func(r chi.Router) {
				r.Get("/", s.handlers.HandleListDeclarations)
				r.Post("/", s.handlers.HandleAddDeclaration)
				r.Get("/preview", s.handlers.HandlePreview)
				r.Get("/{reference}", s.handlers.HandleGetDeclaration)
			})

			r.Route("/jobs", func(r chi.Router) {
				r.Get("/", s.handlers.HandleJobsStatus)
				r.Post("/{id}/run", s.handlers.HandleRunJob)
				r.Post("/{id}/pause", s.handlers.HandlePauseJob)
				r.Post("/{id}/resume", s.handlers.HandleResumeJob)
			})

			r.Route("/backups", func(r chi.Router) {
				r.Get("/", s.handlers.HandleListBackups)
				r.Post("/", s.handlers.HandleCreateBackup)
			})
		})
	})
}

// handleHealth is a lightweight liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
