package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
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

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/ws", s.handleWebSocket)

		r.Route("/smartcare", func(r chi.Router) {
			r.Get("/status", s.handleBridgeStatus)
			r.Post("/refresh", s.handleRefreshAll)

			r.Route("/channels", func(r chi.Router) {
				r.Get("/", s.handleListChannels)

				r.Route("/{channel}", func(r chi.Router) {
					r.Get("/", s.handleGetChannel)
					r.Post("/refresh", s.handleRefreshChannel)
					r.Get("/history", s.handleGetChannelHistory)
				})
			})
		})
	})

	return r
}

// handleHealth returns the server and bridge health.
// The endpoint answers 200 while the process is up; bridge degradation is
// reported in the body.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	health := s.bridge.Health()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"version":       s.version,
		"bridge_status": health.Status,
		"reason":        health.Reason,
	})
}
