package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/onesmart-bridge/internal/bridge"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)
	if s.instrument != nil {
		r.Use(s.instrument)
	}

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)

		// Cache keys contain slashes, so the key is the wildcard tail.
		r.Get("/cache", s.handleCacheSnapshot)
		r.Get("/cache/*", s.handleCacheEntry)

		r.Route("/entities", func(r chi.Router) {
			r.Get("/", s.handleListEntities)
			r.Get("/{id}", s.handleGetEntity)
			r.Post("/{id}/commands", s.handleEntityCommand)
		})

		r.Post("/refresh", s.handleRefresh)

		r.Get("/history/commands", s.handleListCommands)
		r.Get("/history/devices/{id}", s.handleDeviceHistory)

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the bridge health. Degraded answers 503 so the
// endpoint can back a liveness check.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	msg := s.health.Current()
	status := http.StatusOK
	if msg.Status == bridge.HealthDegraded {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, msg)
}
