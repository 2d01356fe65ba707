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

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Auth endpoints (no auth required)
		r.Post("/auth/login", s.handleLogin)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// Device endpoints
			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)
				r.Post("/", s.handleRegisterDevice)
				r.Get("/stats", s.handleDashboardStats)
				r.Get("/latest", s.handleLatestReadings)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Delete("/", s.handleDeleteDevice)
					r.Post("/control", s.handleControlDevice)
					r.Put("/mode", s.handleSetMode)
					r.Post("/heartbeat", s.handleHeartbeat)
					r.Post("/telemetry", s.handleIngestReading)
					r.Get("/readings", s.handleReadingHistory)
					r.Get("/readings/stats", s.handleReadingStats)
					r.Get("/logs", s.handleDeviceLogs)
				})
			})

			// Transition log
			r.Get("/logs", s.handleListLogs)
			r.Get("/logs/recent", s.handleRecentLogs)

			// System settings
			r.Route("/settings", func(r chi.Router) {
				r.Get("/", s.handleListSettings)
				r.Put("/{key}", s.handleUpdateSetting)
			})
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
