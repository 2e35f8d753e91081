package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const (
	pgRetryBackoffBase = 30 * time.Second
	pgRetryBackoffCap  = 15 * time.Minute
)

// postgresBackend runs the in-DB queue: a jobs table polled by a single
// per-process runner with FOR UPDATE SKIP LOCKED claims.
type postgresBackend struct {
	db           *sql.DB
	pollInterval time.Duration
	concurrency  int
	logger       *log.Logger

	mu      sync.Mutex
	procs   map[string]Processor
	events  map[string]WorkerEvents
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	// Completed rows are deleted, so the counter is process-local.
	completed int64
}

func newPostgresBackend(db *sql.DB, pollInterval time.Duration, concurrency int) *postgresBackend {
	if pollInterval < time.Second {
		pollInterval = time.Second
	}
	if concurrency <= 0 {
		concurrency = 5
	}
	return &postgresBackend{
		db:           db,
		pollInterval: pollInterval,
		concurrency:  concurrency,
		logger:       log.New(log.Writer(), "[PG-QUEUE] ", log.LstdFlags),
		procs:        make(map[string]Processor),
		events:       make(map[string]WorkerEvents),
		stopCh:       make(chan struct{}),
	}
}

// start launches the runner goroutines. Idempotent.
func (b *postgresBackend) start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}
	b.started = true

	for i := 0; i < b.concurrency; i++ {
		b.wg.Add(1)
		go b.runner(i)
	}
	b.logger.Printf("Runner started (concurrency=%d, poll=%s)", b.concurrency, b.pollInterval)
	return nil
}

func (b *postgresBackend) close() error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = false
	close(b.stopCh)
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

// runner polls for due jobs. Each runner goroutine claims and executes
// one job at a time, so overall concurrency equals the goroutine count.
func (b *postgresBackend) runner(id int) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			// Drain everything currently due before sleeping again.
			for {
				claimed, err := b.claimAndRun()
				if err != nil {
					b.logger.Printf("⚠️  Runner %d poll error: %v", id, err)
					b.emitError(err)
					break
				}
				if !claimed {
					break
				}
				select {
				case <-b.stopCh:
					return
				default:
				}
			}
		}
	}
}

// claimAndRun claims the next due job across all registered tasks and
// executes it. Returns false when nothing was due.
func (b *postgresBackend) claimAndRun() (bool, error) {
	tasks := b.registeredTasks()
	if len(tasks) == 0 {
		return false, nil
	}

	ctx := context.Background()
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin claim: %w", err)
	}

	var job Job
	var key sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT id, task, payload, attempts, max_attempts, priority, key, run_at
		FROM jobs
		WHERE task = ANY($1) AND run_at <= NOW() AND locked_at IS NULL AND attempts < max_attempts
		ORDER BY priority, run_at
		FOR UPDATE SKIP LOCKED
		LIMIT 1`,
		pq.Array(tasks)).Scan(
		&job.ID, &job.Task, &job.Payload, &job.Attempts,
		&job.MaxAttempts, &job.Priority, &key, &job.RunAt)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return false, nil
	}
	if err != nil {
		tx.Rollback()
		return false, fmt.Errorf("claim job: %w", err)
	}
	job.Key = key.String

	if _, err := tx.ExecContext(ctx, `UPDATE jobs SET locked_at = NOW() WHERE id = $1`, job.ID); err != nil {
		tx.Rollback()
		return false, fmt.Errorf("lock job %s: %w", job.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit claim: %w", err)
	}

	b.execute(&job)
	return true, nil
}

// execute runs one attempt and records the outcome.
func (b *postgresBackend) execute(job *Job) {
	proc, ev := b.processorFor(job.Task)
	if proc == nil {
		// Claimed a task that lost its worker during shutdown; unlock.
		b.release(job, ErrNoProcessor)
		return
	}

	m := metrics()
	m.JobsRunning.WithLabelValues(job.Task, "in-db").Inc()
	start := time.Now()
	err := proc(context.Background(), job)
	m.JobsRunning.WithLabelValues(job.Task, "in-db").Dec()
	m.JobDuration.WithLabelValues(job.Task, "in-db").Observe(time.Since(start).Seconds())

	ctx := context.Background()
	if err == nil {
		if _, derr := b.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, job.ID); derr != nil {
			b.logger.Printf("⚠️  Failed to delete completed job %s: %v", job.ID, derr)
		}
		atomic.AddInt64(&b.completed, 1)
		m.JobOutcomes.WithLabelValues(job.Task, "in-db", "completed").Inc()
		if ev.OnCompleted != nil {
			ev.OnCompleted(job)
		}
		return
	}

	job.Attempts++
	if job.Attempts >= job.MaxAttempts {
		// Exhausted: keep the row as a failed record, never replayed.
		// The dedup key is released so the next enqueue with it creates
		// a fresh live job, matching the kv-store backend.
		if _, derr := b.db.ExecContext(ctx,
			`UPDATE jobs SET locked_at = NULL, attempts = $2, key = NULL WHERE id = $1`,
			job.ID, job.Attempts); derr != nil {
			b.logger.Printf("⚠️  Failed to record failed job %s: %v", job.ID, derr)
		}
		b.logger.Printf("❌ Job %s (%s) failed after %d attempts: %v", job.ID, job.Task, job.Attempts, err)
		m.JobOutcomes.WithLabelValues(job.Task, "in-db", "failed").Inc()
		if ev.OnFailed != nil {
			ev.OnFailed(job, err)
		}
		return
	}

	backoff := pgBackoff(job.Attempts)
	if _, derr := b.db.ExecContext(ctx,
		`UPDATE jobs SET locked_at = NULL, attempts = $2, run_at = NOW() + $3 * INTERVAL '1 millisecond' WHERE id = $1`,
		job.ID, job.Attempts, backoff.Milliseconds()); derr != nil {
		b.logger.Printf("⚠️  Failed to reschedule job %s: %v", job.ID, derr)
	}
	b.logger.Printf("Job %s (%s) attempt %d/%d failed, retrying in %s: %v",
		job.ID, job.Task, job.Attempts, job.MaxAttempts, backoff, err)
	m.JobOutcomes.WithLabelValues(job.Task, "in-db", "retried").Inc()
}

// release unlocks a job without consuming an attempt.
func (b *postgresBackend) release(job *Job, cause error) {
	if _, err := b.db.Exec(`UPDATE jobs SET locked_at = NULL WHERE id = $1`, job.ID); err != nil {
		b.logger.Printf("⚠️  Failed to release job %s: %v", job.ID, err)
	}
	b.logger.Printf("Released job %s (%s): %v", job.ID, job.Task, cause)
}

// pgBackoff is the backend retry schedule: 30s doubling per attempt,
// capped at 15 minutes.
func pgBackoff(attempts int) time.Duration {
	d := pgRetryBackoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= pgRetryBackoffCap {
			return pgRetryBackoffCap
		}
	}
	return d
}

func (b *postgresBackend) registeredTasks() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	tasks := make([]string, 0, len(b.procs))
	for t := range b.procs {
		tasks = append(tasks, t)
	}
	return tasks
}

func (b *postgresBackend) processorFor(task string) (Processor, WorkerEvents) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.procs[task], b.events[task]
}

func (b *postgresBackend) emitError(err error) {
	b.mu.Lock()
	evs := make([]WorkerEvents, 0, len(b.events))
	for _, ev := range b.events {
		evs = append(evs, ev)
	}
	b.mu.Unlock()
	for _, ev := range evs {
		if ev.OnError != nil {
			ev.OnError(err)
		}
	}
}

// ============================================================================
// QUEUE
// ============================================================================

type postgresQueue struct {
	backend *postgresBackend
	name    string
	closed  atomic.Bool
}

func (b *postgresBackend) newQueue(name string) (Queue, error) {
	return &postgresQueue{backend: b, name: name}, nil
}

func (q *postgresQueue) Name() string { return q.name }

// Add inserts one job row. With a deduplication key, the partial unique
// index on (task, key) makes concurrent duplicate enqueues collapse into
// the surviving live job, which is returned.
func (q *postgresQueue) Add(ctx context.Context, payload interface{}, opts Options) (*Job, error) {
	if q.closed.Load() {
		return nil, ErrQueueClosed
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	job := &Job{
		ID:          uuid.New().String(),
		Task:        q.name,
		Payload:     data,
		MaxAttempts: opts.maxAttempts(),
		Priority:    opts.Priority,
		Key:         opts.Key,
		RunAt:       time.Now().UTC().Add(opts.Delay),
		EnqueuedAt:  time.Now().UTC(),
	}

	if opts.Key == "" {
		_, err = q.backend.db.ExecContext(ctx, `
			INSERT INTO jobs (id, task, payload, run_at, attempts, max_attempts, priority, key)
			VALUES ($1, $2, $3, $4, 0, $5, $6, NULL)`,
			job.ID, job.Task, job.Payload, job.RunAt, job.MaxAttempts, job.Priority)
		if err != nil {
			return nil, fmt.Errorf("enqueue %s: %w", q.name, err)
		}
		metrics().JobsEnqueued.WithLabelValues(q.name, "in-db").Inc()
		return job, nil
	}

	var insertedID string
	err = q.backend.db.QueryRowContext(ctx, `
		INSERT INTO jobs (id, task, payload, run_at, attempts, max_attempts, priority, key)
		VALUES ($1, $2, $3, $4, 0, $5, $6, $7)
		ON CONFLICT (task, key) WHERE key IS NOT NULL DO NOTHING
		RETURNING id`,
		job.ID, job.Task, job.Payload, job.RunAt, job.MaxAttempts, job.Priority, job.Key).Scan(&insertedID)
	if err == sql.ErrNoRows {
		// A live job with this key already exists; return it.
		existing, lerr := q.liveJobByKey(ctx, opts.Key)
		if lerr != nil {
			return nil, lerr
		}
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("enqueue %s (key=%s): %w", q.name, opts.Key, err)
	}
	metrics().JobsEnqueued.WithLabelValues(q.name, "in-db").Inc()
	return job, nil
}

func (q *postgresQueue) liveJobByKey(ctx context.Context, key string) (*Job, error) {
	var job Job
	var k sql.NullString
	err := q.backend.db.QueryRowContext(ctx, `
		SELECT id, task, payload, attempts, max_attempts, priority, key, run_at
		FROM jobs WHERE task = $1 AND key = $2`,
		q.name, key).Scan(
		&job.ID, &job.Task, &job.Payload, &job.Attempts,
		&job.MaxAttempts, &job.Priority, &k, &job.RunAt)
	if err != nil {
		return nil, fmt.Errorf("lookup deduplicated job (key=%s): %w", key, err)
	}
	job.Key = k.String
	return &job, nil
}

// Counts reports the queue status. Completed rows are deleted, so that
// figure comes from the in-process counter.
func (q *postgresQueue) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := q.backend.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE locked_at IS NULL AND run_at <= NOW() AND attempts < max_attempts),
			COUNT(*) FILTER (WHERE locked_at IS NOT NULL),
			COUNT(*) FILTER (WHERE attempts >= max_attempts)
		FROM jobs WHERE task = $1`,
		q.name).Scan(&c.Waiting, &c.Active, &c.Failed)
	if err != nil {
		return Counts{}, fmt.Errorf("queue counts: %w", err)
	}
	c.Completed = int(atomic.LoadInt64(&q.backend.completed))
	return c, nil
}

func (q *postgresQueue) Close() error {
	q.closed.Store(true)
	return nil
}

// ============================================================================
// WORKER
// ============================================================================

type postgresWorker struct {
	backend *postgresBackend
	name    string
	once    sync.Once
}

func (b *postgresBackend) newWorker(name string, proc Processor, events WorkerEvents) (Worker, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.procs[name] = proc
	b.events[name] = events
	return &postgresWorker{backend: b, name: name}, nil
}

func (w *postgresWorker) Name() string { return w.name }

// Close deregisters the processor; the shared runner stops claiming the
// task on its next poll.
func (w *postgresWorker) Close() error {
	w.once.Do(func() {
		w.backend.mu.Lock()
		delete(w.backend.procs, w.name)
		delete(w.backend.events, w.name)
		w.backend.mu.Unlock()
	})
	return nil
}
