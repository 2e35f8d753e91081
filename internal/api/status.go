package api

import (
	"net/http"

	"github.com/logtide-dev/logtide/internal/jobs"
	"github.com/logtide-dev/logtide/internal/notify"
)

type statusResponse struct {
	Status   string                 `json:"status"`
	Queues   map[string]jobs.Counts `json:"queues"`
	Listener notify.Status          `json:"listener"`
}

// handleStatus is the operator snapshot: queue depths per task plus the
// live-stream listener state. Degrades to 503 when queue counts cannot
// be read.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	queues, err := s.supervisor.Status(r.Context())
	if err != nil {
		s.logger.Printf("⚠️  Queue status unavailable: %v", err)
		writeJSON(w, http.StatusServiceUnavailable, statusResponse{
			Status:   "degraded",
			Listener: s.listener.Status(),
		})
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Status:   "ok",
		Queues:   queues,
		Listener: s.listener.Status(),
	})
}
