package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// setupRoutes configures all API routes
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	// CORS for the dashboard UI
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check (no auth required)
	r.Get("/health", s.handleHealth)

	// ESP webhook ingress. Authenticated by signature, not by session.
	r.Post("/webhooks/resend", s.handleResendWebhook)

	// API routes consumed by the app UI
	r.Route("/api", func(r chi.Router) {
		r.Post("/tracking/manual", s.handleManualTracking)
		r.Patch("/pipeline", s.handlePipelineStage)

		r.Route("/analytics", func(r chi.Router) {
			r.Get("/daily", s.handleDailyStats)
			r.Get("/contacts/{contactID}/engagement", s.handleContactEngagement)
			r.Get("/emails/{emailID}/events", s.handleEmailEvents)
		})
	})

	return r
}

// handleHealth reports service liveness
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
