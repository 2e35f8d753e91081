package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/logtide-dev/logtide/internal/ingest"
	"github.com/logtide-dev/logtide/internal/middleware"
)

// Body cap for one ingest call; oversized requests get a 413.
const maxIngestBody = 10 << 20

type ingestRequest struct {
	ProjectID string            `json:"projectId,omitempty"`
	Logs      []ingest.LogInput `json:"logs"`
}

type ingestResponse struct {
	Accepted int      `json:"accepted"`
	IDs      []string `json:"ids"`
}

// handleIngest accepts a batch of logs, writes them durably, and
// returns the assigned ids in input order. The whole batch succeeds or
// fails; validation problems name the offending record.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantFrom(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxIngestBody)
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body exceeds 10MB")
			return
		}
		writeError(w, http.StatusBadRequest, "MALFORMED_JSON", "request body is not valid JSON")
		return
	}

	ids, err := s.writer.Write(r.Context(), tenantID, req.ProjectID, req.Logs)
	if err != nil {
		var tooMany *ingest.BatchTooLargeError
		if errors.As(err, &tooMany) {
			writeError(w, http.StatusRequestEntityTooLarge, "BATCH_TOO_LARGE", tooMany.Error())
			return
		}
		var verr *ingest.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, "VALIDATION_FAILED", verr.Error())
			return
		}
		s.logger.Printf("❌ Ingest failed for tenant %s: %v", tenantID, err)
		writeError(w, http.StatusInternalServerError, "WRITE_FAILED", "failed to persist batch")
		return
	}

	writeJSON(w, http.StatusAccepted, ingestResponse{Accepted: len(ids), IDs: ids})
}
