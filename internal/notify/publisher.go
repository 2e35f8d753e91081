// Package notify is the live-stream path: a post-commit publisher that
// emits channel messages on the primary store, a long-lived listener
// that receives them, and a subscriber registry that fans them out to
// live connections.
package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/logtide-dev/logtide/internal/circuitbreaker"
)

// Channel is the pg_notify channel carrying new-log announcements.
const Channel = "logs_new"

const (
	// Postgres caps NOTIFY payloads at ~8KB; stay under with a margin.
	maxPayloadBytes = 7900

	// Estimated serialized cost per log id (uuid + quotes + comma).
	bytesPerLogID = 40

	publishTimeout = 5 * time.Second
)

// MaxLogIDsPerChunk is how many ids fit in one channel message.
const MaxLogIDsPerChunk = maxPayloadBytes / bytesPerLogID

// LogNotification is the channel payload, UTF-8 JSON.
type LogNotification struct {
	ProjectID string    `json:"projectId"`
	LogIDs    []string  `json:"logIds"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher emits post-commit messages on the logs_new channel. Batches
// whose id list would exceed the payload cap are split into contiguous
// chunks emitted in input order.
type Publisher struct {
	db      *sql.DB
	breaker *circuitbreaker.Breaker
	logger  *log.Logger
}

// NewPublisher wraps the shared primary-store pool. A circuit breaker
// skips publishes while the channel keeps failing so a sick connection
// never adds latency to every ingest call.
func NewPublisher(db *sql.DB) *Publisher {
	return &Publisher{
		db: db,
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Name:      "pg-notify",
			Threshold: 5,
			Cooldown:  30 * time.Second,
		}),
		logger: log.New(log.Writer(), "[NOTIFY-PUB] ", log.LstdFlags),
	}
}

// Publish emits one message per chunk. All failures are logged, never
// returned: streaming is best-effort and must not affect ingestion.
func (p *Publisher) Publish(ctx context.Context, projectID string, logIDs []string) {
	if len(logIDs) == 0 {
		return
	}

	for start := 0; start < len(logIDs); start += MaxLogIDsPerChunk {
		end := start + MaxLogIDsPerChunk
		if end > len(logIDs) {
			end = len(logIDs)
		}

		payload, err := json.Marshal(LogNotification{
			ProjectID: projectID,
			LogIDs:    logIDs[start:end],
			Timestamp: time.Now().UTC(),
		})
		if err != nil {
			p.logger.Printf("❌ Failed to marshal notification for project %s: %v", projectID, err)
			return
		}

		err = p.breaker.Do(func() error {
			pctx, cancel := context.WithTimeout(ctx, publishTimeout)
			defer cancel()
			_, execErr := p.db.ExecContext(pctx, `SELECT pg_notify($1, $2)`, Channel, string(payload))
			return execErr
		})
		if errors.Is(err, circuitbreaker.ErrOpen) {
			metricsNotify().PublishErrors.Inc()
			continue
		}
		if err != nil {
			p.logger.Printf("⚠️  pg_notify failed for project %s (%d ids): %v", projectID, end-start, err)
			metricsNotify().PublishErrors.Inc()
			continue
		}
		metricsNotify().ChunksPublished.Inc()
	}
}

// ChunkCount returns how many messages a batch of n ids produces.
func ChunkCount(n int) int {
	if n <= 0 {
		return 0
	}
	return (n + MaxLogIDsPerChunk - 1) / MaxLogIDsPerChunk
}
