// Package jobs is the background-job system behind the detection pipeline.
//
// Two interchangeable backends implement the same queue/worker contract:
// a polling queue over the primary Postgres store and a Redis queue built
// on list/zset primitives. Execution is at-least-once; retries are
// bounded by MaxAttempts with backend-controlled backoff.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Common errors surfaced by queue implementations.
var (
	ErrQueueClosed = errors.New("queue is closed")
	ErrNoProcessor = errors.New("no processor registered")
)

// Job is one unit of work. Identity is stable across retries.
type Job struct {
	ID          string          `json:"id"`
	Task        string          `json:"task"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Priority    int             `json:"priority"`
	Key         string          `json:"key,omitempty"`
	RunAt       time.Time       `json:"run_at"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
}

// Options control enqueue behavior. The zero value is valid.
type Options struct {
	// Delay postpones the first attempt.
	Delay time.Duration

	// MaxAttempts bounds retries; defaults to 3.
	MaxAttempts int

	// Priority orders dequeue; lower runs sooner.
	Priority int

	// Key deduplicates: at most one live job with the same key exists
	// across the queue. Empty disables deduplication.
	Key string
}

func (o Options) maxAttempts() int {
	if o.MaxAttempts <= 0 {
		return 3
	}
	return o.MaxAttempts
}

// Counts is the uniform status shape both backends surface.
type Counts struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Processor handles one job attempt. A non-nil error schedules a retry
// until attempts are exhausted.
type Processor func(ctx context.Context, job *Job) error

// WorkerEvents are the observable worker callbacks. All slots are
// optional. OnCompleted fires once per successful job; OnFailed fires
// once when a job exhausts its attempts; OnError reports infrastructure
// errors (poll failures, broken connections).
type WorkerEvents struct {
	OnCompleted func(job *Job)
	OnFailed    func(job *Job, err error)
	OnError     func(err error)
}

// Queue enqueues jobs for one task name.
type Queue interface {
	// Name returns the task name the queue serves.
	Name() string

	// Add enqueues a payload. The payload must be JSON-serialisable.
	Add(ctx context.Context, payload interface{}, opts Options) (*Job, error)

	// Counts reports the queue status.
	Counts(ctx context.Context) (Counts, error)

	// Close releases queue resources. Idempotent.
	Close() error
}

// Worker executes jobs for one task name with a single processor.
type Worker interface {
	// Name returns the task name the worker serves.
	Name() string

	// Close stops processing and waits for in-flight jobs. Idempotent.
	Close() error
}

// backend constructs queues and workers over one substrate. Implemented
// by postgresBackend and redisBackend; consumed by the Supervisor.
type backend interface {
	newQueue(name string) (Queue, error)
	newWorker(name string, proc Processor, events WorkerEvents) (Worker, error)

	// start launches any backend-global machinery (the in-DB poller).
	start() error

	// close tears down substrate connections after all queues and
	// workers are closed.
	close() error
}
