// Package ingest is the write path: batch validation, durable insert,
// and the post-commit side effects (live-stream publish, detection-scan
// enqueue) that run off the request goroutine.
package ingest

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/logtide-dev/logtide/internal/core"
	"github.com/logtide-dev/logtide/internal/jobs"
	"github.com/logtide-dev/logtide/internal/notify"
	"github.com/logtide-dev/logtide/internal/store"
)

// TaskDetectionScan is the job task name for post-ingest rule scans.
const TaskDetectionScan = "detection-scan"

const maxServiceLen = 100

var spanIDPattern = regexp.MustCompile(`^[a-f0-9]{16}$`)

// ScanJobPayload is the payload of a detection-scan job.
type ScanJobPayload struct {
	TenantID  string   `json:"tenantId"`
	ProjectID string   `json:"projectId"`
	LogIDs    []string `json:"logIds"`
}

// LogInput is one record as submitted by a client, before ids and
// defaults are assigned.
type LogInput struct {
	Timestamp  *time.Time             `json:"timestamp,omitempty"`
	Service    string                 `json:"service"`
	Level      core.LogLevel          `json:"level"`
	Message    string                 `json:"message"`
	SpanID     string                 `json:"span_id,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// BatchTooLargeError rejects a batch whose log count exceeds the cap.
// The API maps it to 413 rather than a validation failure.
type BatchTooLargeError struct {
	Limit int
}

func (e *BatchTooLargeError) Error() string {
	return fmt.Sprintf("batch exceeds %d logs", e.Limit)
}

// ValidationError rejects a whole batch; no partial writes happen.
type ValidationError struct {
	Index int    // -1 for batch-level problems
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return e.Msg
	}
	return fmt.Sprintf("log[%d].%s: %s", e.Index, e.Field, e.Msg)
}

// Writer validates and persists log batches. The insert is atomic; the
// publish and scan-enqueue side effects are handed to a bounded worker
// pool after commit so a slow broker never stalls ingestion.
type Writer struct {
	store     *store.Store
	publisher *notify.Publisher
	scanQueue jobs.Queue
	maxBatch  int
	pool      *asyncPool
	logger    *log.Logger
}

// NewWriter wires the write path. maxBatch <= 0 falls back to 1000;
// asyncWorkers <= 0 falls back to 4.
func NewWriter(st *store.Store, publisher *notify.Publisher, scanQueue jobs.Queue, maxBatch, asyncWorkers int) *Writer {
	if maxBatch <= 0 {
		maxBatch = 1000
	}
	return &Writer{
		store:     st,
		publisher: publisher,
		scanQueue: scanQueue,
		maxBatch:  maxBatch,
		pool:      newAsyncPool(asyncWorkers),
		logger:    log.New(log.Writer(), "[INGEST] ", log.LstdFlags),
	}
}

// Write validates the batch, persists it atomically, and schedules the
// post-commit side effects. Returns the assigned log ids in input order.
func (w *Writer) Write(ctx context.Context, tenantID, projectID string, inputs []LogInput) ([]string, error) {
	if err := w.validate(inputs); err != nil {
		mIngest().BatchesRejected.Inc()
		return nil, err
	}

	now := time.Now().UTC()
	logs := make([]core.LogRecord, len(inputs))
	ids := make([]string, len(inputs))
	for i := range inputs {
		in := &inputs[i]
		ts := now
		if in.Timestamp != nil {
			ts = in.Timestamp.UTC()
		}
		ids[i] = uuid.New().String()
		logs[i] = core.LogRecord{
			ID:         ids[i],
			TenantID:   tenantID,
			ProjectID:  projectID,
			Timestamp:  ts,
			Service:    in.Service,
			Level:      in.Level,
			Message:    in.Message,
			SpanID:     in.SpanID,
			Attributes: in.Attributes,
		}
	}

	if err := w.insertWithRetry(ctx, logs); err != nil {
		return nil, err
	}
	mIngest().LogsIngested.Add(float64(len(logs)))

	// Post-commit, best-effort. The batch is durable either way.
	if !w.pool.submit(func() {
		pctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		w.publisher.Publish(pctx, projectID, ids)
		w.enqueueScan(pctx, tenantID, projectID, ids)
	}) {
		mIngest().AsyncDropped.Inc()
		w.logger.Printf("⚠️  Async pool saturated, dropped side effects for %d logs (tenant %s)", len(ids), tenantID)
	}

	return ids, nil
}

// insertWithRetry retries the atomic insert exactly once when the
// failure looks transient.
func (w *Writer) insertWithRetry(ctx context.Context, logs []core.LogRecord) error {
	err := w.store.InsertLogBatch(ctx, logs)
	if err == nil {
		return nil
	}
	if !isTransientDBErr(err) {
		return err
	}
	mIngest().InsertRetries.Inc()
	w.logger.Printf("⚠️  Transient insert failure, retrying batch of %d: %v", len(logs), err)
	return w.store.InsertLogBatch(ctx, logs)
}

func (w *Writer) enqueueScan(ctx context.Context, tenantID, projectID string, ids []string) {
	if w.scanQueue == nil {
		return
	}
	_, err := w.scanQueue.Add(ctx, ScanJobPayload{
		TenantID:  tenantID,
		ProjectID: projectID,
		LogIDs:    ids,
	}, jobs.Options{})
	if err != nil {
		w.logger.Printf("❌ Failed to enqueue detection scan for tenant %s: %v", tenantID, err)
		return
	}
	mIngest().ScanJobsEnqueued.Inc()
}

// Close drains the async pool. Pending side effects still run.
func (w *Writer) Close() {
	w.pool.close()
}

func (w *Writer) validate(inputs []LogInput) error {
	if len(inputs) == 0 {
		return &ValidationError{Index: -1, Msg: "batch is empty"}
	}
	if len(inputs) > w.maxBatch {
		return &BatchTooLargeError{Limit: w.maxBatch}
	}
	for i := range inputs {
		in := &inputs[i]
		if in.Service == "" || len(in.Service) > maxServiceLen {
			return &ValidationError{Index: i, Field: "service", Msg: fmt.Sprintf("must be 1-%d characters", maxServiceLen)}
		}
		if !in.Level.Valid() {
			return &ValidationError{Index: i, Field: "level", Msg: fmt.Sprintf("unknown level %q", in.Level)}
		}
		if in.Message == "" {
			return &ValidationError{Index: i, Field: "message", Msg: "must not be empty"}
		}
		if in.SpanID != "" && !spanIDPattern.MatchString(in.SpanID) {
			return &ValidationError{Index: i, Field: "span_id", Msg: "must be 16 lowercase hex characters"}
		}
	}
	return nil
}

// isTransientDBErr classifies connection-level failures worth one retry.
func isTransientDBErr(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"i/o timeout",
		"unexpected EOF",
		"the database system is starting up",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
