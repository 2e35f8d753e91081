package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/logtide-dev/logtide/internal/core"
	"github.com/logtide-dev/logtide/internal/middleware"
	"github.com/logtide-dev/logtide/internal/store"
)

// handleListIncidents returns the tenant's incidents, newest first.
// ?limit=N caps the page (default 50).
func (s *Server) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantFrom(r.Context())

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		limit = n
	}

	incidents, err := s.store.ListIncidents(r.Context(), tenantID, limit)
	if err != nil {
		s.logger.Printf("❌ Failed to list incidents for %s: %v", tenantID, err)
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to load incidents")
		return
	}
	if incidents == nil {
		incidents = []core.Incident{}
	}
	writeJSON(w, http.StatusOK, incidents)
}

// handleIncidentStatus moves an incident through its lifecycle. Terminal
// states stamp resolved_at and are final: a resolved incident cannot be
// reopened, and later detections for the same rule family open a fresh
// incident instead.
func (s *Server) handleIncidentStatus(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantFrom(r.Context())
	incidentID := mux.Vars(r)["id"]

	var body struct {
		Status core.IncidentStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "MALFORMED_JSON", "request body is not valid JSON")
		return
	}

	switch body.Status {
	case core.IncidentOpen, core.IncidentInvestigating, core.IncidentResolved, core.IncidentFalsePositive:
	default:
		writeError(w, http.StatusBadRequest, "INVALID_STATUS", "unknown status "+string(body.Status))
		return
	}

	if err := s.store.UpdateIncidentStatus(r.Context(), tenantID, incidentID, body.Status); err != nil {
		switch {
		case errors.Is(err, store.ErrIncidentNotFound):
			writeError(w, http.StatusNotFound, "INCIDENT_NOT_FOUND", "incident "+incidentID+" not found")
		case errors.Is(err, store.ErrIncidentClosed):
			writeError(w, http.StatusConflict, "INCIDENT_CLOSED", "terminal incidents cannot be reopened")
		default:
			s.logger.Printf("❌ Failed to update incident %s: %v", incidentID, err)
			writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to update incident")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"id": incidentID, "status": string(body.Status)})
}
