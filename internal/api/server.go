// Package api exposes the pipeline over REST/JSON plus a websocket
// live-stream endpoint. All routes are tenant-scoped via X-Tenant-ID.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/logtide-dev/logtide/internal/detection"
	"github.com/logtide-dev/logtide/internal/ingest"
	"github.com/logtide-dev/logtide/internal/jobs"
	"github.com/logtide-dev/logtide/internal/middleware"
	"github.com/logtide-dev/logtide/internal/notify"
	"github.com/logtide-dev/logtide/internal/store"
)

// Server wires the HTTP surface over the pipeline components.
type Server struct {
	store      *store.Store
	writer     *ingest.Writer
	catalog    *detection.Catalog
	evaluator  *detection.Evaluator
	supervisor *jobs.Supervisor
	listener   *notify.Listener
	limiter    *middleware.RateLimiter
	logger     *log.Logger

	httpServer *http.Server
}

// NewServer assembles the API server; Start binds it to a port.
func NewServer(
	st *store.Store,
	writer *ingest.Writer,
	catalog *detection.Catalog,
	evaluator *detection.Evaluator,
	supervisor *jobs.Supervisor,
	listener *notify.Listener,
) *Server {
	return &Server{
		store:      st,
		writer:     writer,
		catalog:    catalog,
		evaluator:  evaluator,
		supervisor: supervisor,
		listener:   listener,
		limiter:    middleware.NewRateLimiter(middleware.RateLimitConfig{}),
		logger:     log.New(log.Writer(), "[API] ", log.LstdFlags),
	}
}

// Router builds the full route table. Exposed for handler tests.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	// Unscoped operational endpoints.
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/api/status", s.handleStatus).Methods("GET")

	// Tenant-scoped API.
	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.TenantMiddleware)
	api.Use(s.limiter.Middleware)

	api.HandleFunc("/logs", s.handleIngest).Methods("POST")
	api.HandleFunc("/stream", s.handleStream).Methods("GET")

	api.HandleFunc("/packs", s.handleListPacks).Methods("GET")
	api.HandleFunc("/packs/{id}/enable", s.handleEnablePack).Methods("POST")
	api.HandleFunc("/packs/{id}/disable", s.handleDisablePack).Methods("POST")
	api.HandleFunc("/packs/{id}/thresholds", s.handleUpdateThresholds).Methods("PUT")

	api.HandleFunc("/incidents", s.handleListIncidents).Methods("GET")
	api.HandleFunc("/incidents/{id}/status", s.handleIncidentStatus).Methods("PATCH")

	return r
}

// Start runs the server until the context is cancelled, then drains
// in-flight requests.
func (s *Server) Start(ctx context.Context, port string) error {
	s.httpServer = &http.Server{
		Addr:         ":" + port,
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("🚀 API listening on :%s", port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(sctx)
	}
}

// ============================================================================
// RESPONSE HELPERS
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": msg, "code": code})
}
