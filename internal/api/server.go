// Package api provides the HTTP API server and handlers for the ReadAloud narration server.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/readaloudapp/readaloud-server/internal/http/response"
	"github.com/readaloudapp/readaloud-server/internal/service"
	"github.com/readaloudapp/readaloud-server/internal/store"
	"github.com/readaloudapp/readaloud-server/internal/synthesis"
	"github.com/readaloudapp/readaloud-server/internal/validation"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	store     *store.Store
	cache     *service.AudioCacheService
	narration *service.NarrationService
	synth     synthesis.Synthesizer
	validator *validation.Validator
	router    *chi.Mux
	logger    *slog.Logger
}

// NewServer creates a new HTTP server with all routes configured.
func NewServer(
	st *store.Store,
	cache *service.AudioCacheService,
	narration *service.NarrationService,
	synth synthesis.Synthesizer,
	validator *validation.Validator,
	logger *slog.Logger,
) *Server {
	s := &Server{
		store:     st,
		cache:     cache,
		narration: narration,
		synth:     synth,
		validator: validator,
		router:    chi.NewRouter(),
		logger:    logger,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// setupMiddleware configures the middleware stack.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))

	// The reading surface is a browser app served from its own origin.
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	// Health check.
	s.router.Get("/health", s.handleHealthCheck)

	// API v1.
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/voices", s.handleListVoices)

		r.Route("/narration", func(r chi.Router) {
			r.Post("/chunks", s.handleChunkChapter)
			r.Post("/chapters/{chapterID}", s.handleGenerateChapter)
			r.Post("/chunk", s.handleGenerateChunk)
			r.Get("/audio/{entryID}", s.handleStreamAudio)
			r.Post("/position/to-audio", s.handleToAudioPosition)
			r.Post("/position/to-reading", s.handleToReadingPosition)
		})

		r.Route("/cache", func(r chi.Router) {
			r.Get("/stats", s.handleCacheStats)
			r.Delete("/", s.handleClearCache)
		})
	})
}

// handleHealthCheck returns server health status.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	components := map[string]string{
		"database":  "healthy",
		"synthesis": "healthy",
	}
	overall := "healthy"

	if _, err := s.store.EntryCount(r.Context()); err != nil {
		components["database"] = "unhealthy"
		overall = "unhealthy"
	}

	if _, err := s.synth.Voices(r.Context()); err != nil {
		// The cache keeps serving existing audio when the engine is down.
		components["synthesis"] = "degraded"
		if overall == "healthy" {
			overall = "degraded"
		}
	}

	response.Success(w, map[string]any{
		"status":     overall,
		"components": components,
	}, s.logger)
}
