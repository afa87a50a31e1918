package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/salmanemhb/astantcrm/internal/config"
	"github.com/salmanemhb/astantcrm/internal/engagement"
	"github.com/salmanemhb/astantcrm/internal/resend"
)

// Server represents the API server
type Server struct {
	config    config.ServerConfig
	handler   http.Handler
	server    *http.Server
	verifier  *resend.Verifier
	processor *engagement.Processor
	store     *engagement.Store
	stats     *engagement.StatsAggregator
	scorer    *engagement.Scorer
	pipeline  *engagement.Reconciler
}

// NewServer creates a new API server
func NewServer(
	cfg config.ServerConfig,
	verifier *resend.Verifier,
	processor *engagement.Processor,
	store *engagement.Store,
	stats *engagement.StatsAggregator,
	scorer *engagement.Scorer,
	pipeline *engagement.Reconciler,
) *Server {
	s := &Server{
		config:    cfg,
		verifier:  verifier,
		processor: processor,
		store:     store,
		stats:     stats,
		scorer:    scorer,
		pipeline:  pipeline,
	}
	s.handler = s.setupRoutes()
	return s
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing
func (s *Server) Handler() http.Handler {
	return s.handler
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] encode response: %v", err)
	}
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
