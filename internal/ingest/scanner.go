package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/logtide-dev/logtide/internal/detection"
	"github.com/logtide-dev/logtide/internal/incident"
	"github.com/logtide-dev/logtide/internal/jobs"
	"github.com/logtide-dev/logtide/internal/store"
)

// Scanner is the detection-scan job processor: it hydrates the batch,
// runs the tenant's active rules, and correlates the resulting events
// into incidents.
type Scanner struct {
	store      *store.Store
	evaluator  *detection.Evaluator
	correlator *incident.Correlator
	logger     *log.Logger
}

// NewScanner wires the scan path.
func NewScanner(st *store.Store, ev *detection.Evaluator, corr *incident.Correlator) *Scanner {
	return &Scanner{
		store:      st,
		evaluator:  ev,
		correlator: corr,
		logger:     log.New(log.Writer(), "[SCAN] ", log.LstdFlags),
	}
}

// Process handles one detection-scan job. Errors cause a retry under the
// queue's at-least-once contract; the pipeline is idempotent enough for
// that (re-running a scan re-emits events onto the same open incident).
func (s *Scanner) Process(ctx context.Context, job *jobs.Job) error {
	var payload ScanJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		// Malformed payloads never become valid; fail without retrying.
		s.logger.Printf("❌ Dropping malformed scan job %s: %v", job.ID, err)
		return nil
	}

	logs, err := s.store.LogsByIDs(ctx, payload.TenantID, payload.LogIDs)
	if err != nil {
		return fmt.Errorf("hydrate scan batch: %w", err)
	}
	if len(logs) == 0 {
		return nil
	}

	events, err := s.evaluator.Evaluate(ctx, payload.TenantID, payload.ProjectID, logs)
	if err != nil {
		return fmt.Errorf("evaluate rules: %w", err)
	}

	if len(events) > 0 {
		if err := s.correlator.Correlate(ctx, events, logs); err != nil {
			return fmt.Errorf("correlate detections: %w", err)
		}
		mIngest().DetectionsFound.Add(float64(len(events)))
		s.logger.Printf("✅ Scan for tenant %s: %d logs, %d detections", payload.TenantID, len(logs), len(events))
	}
	mIngest().ScansProcessed.Inc()
	return nil
}
