package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds each component check during a health request.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Fan endpoints
		r.Route("/fans", func(r chi.Router) {
			r.Get("/", s.handleListFans)
			r.Get("/presets", s.handleListPresets)
			r.Post("/speed", s.handleSetAllSpeed)

			r.Route("/{serial}", func(r chi.Router) {
				r.Get("/", s.handleGetFan)
				r.Put("/speed", s.handleSetSpeed)
				r.Put("/power", s.handleSetPower)
				r.Post("/toggle", s.handleToggle)
				r.Get("/history", s.handleGetHistory)
			})
		})

		// Discovery control
		r.Post("/discovery/refresh", s.handleDiscoveryRefresh)

		// Poll cadence control
		r.Put("/poller/active", s.handlePollerActive)

		// WebSocket event stream
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status, probing every attached
// infrastructure component. A failing component degrades the status but
// the endpoint still answers 200; the engine keeps running without its
// optional sinks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	components := make(map[string]string, len(s.components))
	for name, checker := range s.components {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := checker.HealthCheck(ctx)
		cancel()
		if err != nil {
			status = "degraded"
			components[name] = err.Error()
			continue
		}
		components[name] = "ok"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"version":    s.version,
		"fans":       s.registry.Count(),
		"ws_clients": s.hub.ClientCount(),
		"components": components,
	})
}
