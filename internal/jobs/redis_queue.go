package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "logtide:queue:"

	redisCompletedMaxAge   = time.Hour
	redisCompletedMaxCount = 100
	redisFailedMaxAge      = 24 * time.Hour
	redisFailedMaxCount    = 50

	redisRetryBackoffBase = time.Second
	redisRetryBackoffCap  = 30 * time.Second

	redisReconnectCap = 30 * time.Second
)

// redisBackend runs the external key/value queue on Redis list and
// sorted-set primitives: a waiting list, a delayed zset scored by run
// time, an active list, and pruned completed/failed zsets.
type redisBackend struct {
	rdb         *redis.Client
	concurrency int
	logger      *log.Logger
}

func newRedisBackend(kvURL string, concurrency int) (*redisBackend, error) {
	opts, err := redis.ParseURL(kvURL)
	if err != nil {
		return nil, fmt.Errorf("parse KV_URL: %w", err)
	}
	if concurrency <= 0 {
		concurrency = 5
	}

	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", opts.Addr, err)
	}

	return &redisBackend{
		rdb:         rdb,
		concurrency: concurrency,
		logger:      log.New(log.Writer(), "[KV-QUEUE] ", log.LstdFlags),
	}, nil
}

// start is a no-op: Redis workers poll from their own goroutines and
// need no backend-global runner.
func (b *redisBackend) start() error { return nil }

func (b *redisBackend) close() error {
	return b.rdb.Close()
}

func (b *redisBackend) key(queue, part string) string {
	return redisKeyPrefix + queue + ":" + part
}

func (b *redisBackend) dedupKey(queue, key string) string {
	return redisKeyPrefix + queue + ":key:" + key
}

// isTransientRedisErr reports whether an error warrants a reconnect
// backoff rather than being surfaced as a worker error.
func isTransientRedisErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, redis.ErrClosed) {
		return false
	}
	msg := err.Error()
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"i/o timeout",
		"EOF",
		"READONLY", // read-only replica after failover
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// ============================================================================
// QUEUE
// ============================================================================

type redisQueue struct {
	backend *redisBackend
	name    string
	mu      sync.Mutex
	closed  bool
}

func (b *redisBackend) newQueue(name string) (Queue, error) {
	return &redisQueue{backend: b, name: name}, nil
}

func (q *redisQueue) Name() string { return q.name }

// Add enqueues a job. Delayed jobs land in the delayed zset; immediate
// jobs are pushed onto the waiting list. A deduplication key is claimed
// with SETNX holding the job document, so concurrent duplicates resolve
// to the first live job.
func (q *redisQueue) Add(ctx context.Context, payload interface{}, opts Options) (*Job, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrQueueClosed
	}
	q.mu.Unlock()

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

	doc, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}

	rdb := q.backend.rdb
	if opts.Key != "" {
		set, err := rdb.SetNX(ctx, q.backend.dedupKey(q.name, opts.Key), doc, 0).Result()
		if err != nil {
			return nil, fmt.Errorf("claim dedup key %s: %w", opts.Key, err)
		}
		if !set {
			existing, err := rdb.Get(ctx, q.backend.dedupKey(q.name, opts.Key)).Bytes()
			if err != nil {
				return nil, fmt.Errorf("load deduplicated job (key=%s): %w", opts.Key, err)
			}
			var live Job
			if err := json.Unmarshal(existing, &live); err != nil {
				return nil, fmt.Errorf("unmarshal deduplicated job: %w", err)
			}
			return &live, nil
		}
	}

	if opts.Delay > 0 {
		err = rdb.ZAdd(ctx, q.backend.key(q.name, "delayed"), redis.Z{
			Score:  float64(job.RunAt.UnixMilli()),
			Member: doc,
		}).Err()
	} else {
		err = rdb.LPush(ctx, q.backend.key(q.name, "wait"), doc).Err()
	}
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", q.name, err)
	}

	metrics().JobsEnqueued.WithLabelValues(q.name, "kv-store").Inc()
	return job, nil
}

// Counts reports the queue status from list lengths and zset
// cardinalities. Completed and failed reflect the pruned retention
// windows, not lifetime totals.
func (q *redisQueue) Counts(ctx context.Context) (Counts, error) {
	rdb := q.backend.rdb
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)

	pipe := rdb.Pipeline()
	waitLen := pipe.LLen(ctx, q.backend.key(q.name, "wait"))
	dueDelayed := pipe.ZCount(ctx, q.backend.key(q.name, "delayed"), "-inf", now)
	activeLen := pipe.LLen(ctx, q.backend.key(q.name, "active"))
	completed := pipe.ZCard(ctx, q.backend.key(q.name, "completed"))
	failed := pipe.ZCard(ctx, q.backend.key(q.name, "failed"))
	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, fmt.Errorf("queue counts: %w", err)
	}

	return Counts{
		Waiting:   int(waitLen.Val() + dueDelayed.Val()),
		Active:    int(activeLen.Val()),
		Completed: int(completed.Val()),
		Failed:    int(failed.Val()),
	}, nil
}

func (q *redisQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return nil
}

// ============================================================================
// WORKER
// ============================================================================

type redisWorker struct {
	backend *redisBackend
	name    string
	proc    Processor
	events  WorkerEvents
	logger  *log.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func (b *redisBackend) newWorker(name string, proc Processor, events WorkerEvents) (Worker, error) {
	ctx, cancel := context.WithCancel(context.Background())
	w := &redisWorker{
		backend: b,
		name:    name,
		proc:    proc,
		events:  events,
		logger:  b.logger,
		cancel:  cancel,
	}

	for i := 0; i < b.concurrency; i++ {
		w.wg.Add(1)
		go w.loop(ctx)
	}
	return w, nil
}

func (w *redisWorker) Name() string { return w.name }

// Close stops the worker goroutines and waits for in-flight jobs.
func (w *redisWorker) Close() error {
	w.once.Do(func() {
		w.cancel()
		w.wg.Wait()
	})
	return nil
}

// loop is the per-goroutine fetch/execute cycle with reconnect backoff.
func (w *redisWorker) loop(ctx context.Context) {
	defer w.wg.Done()

	reconnectDelay := time.Duration(0)
	for {
		if ctx.Err() != nil {
			return
		}

		if err := w.promoteDelayed(ctx); err != nil && ctx.Err() == nil {
			w.handleInfraError(ctx, err, &reconnectDelay)
			continue
		}

		doc, err := w.backend.rdb.BLMove(ctx,
			w.backend.key(w.name, "wait"),
			w.backend.key(w.name, "active"),
			"RIGHT", "LEFT", time.Second).Result()
		if err == redis.Nil {
			reconnectDelay = 0
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.handleInfraError(ctx, err, &reconnectDelay)
			continue
		}
		reconnectDelay = 0

		var job Job
		if err := json.Unmarshal([]byte(doc), &job); err != nil {
			w.logger.Printf("⚠️  Dropping malformed job document on %s: %v", w.name, err)
			w.removeActive(doc)
			continue
		}

		w.execute(ctx, &job, doc)
	}
}

// handleInfraError applies exponential reconnect backoff for transient
// connection errors and surfaces everything else on the error slot.
func (w *redisWorker) handleInfraError(ctx context.Context, err error, delay *time.Duration) {
	if isTransientRedisErr(err) {
		if *delay == 0 {
			*delay = time.Second
		} else {
			*delay *= 2
			if *delay > redisReconnectCap {
				*delay = redisReconnectCap
			}
		}
		w.logger.Printf("⚠️  Transient Redis error on %s, retrying in %s: %v", w.name, *delay, err)
	} else {
		*delay = time.Second
		w.logger.Printf("❌ Redis worker error on %s: %v", w.name, err)
		if w.events.OnError != nil {
			w.events.OnError(err)
		}
	}

	select {
	case <-ctx.Done():
	case <-time.After(*delay):
	}
}

// promoteDelayed moves due jobs from the delayed zset onto the waiting list.
func (w *redisWorker) promoteDelayed(ctx context.Context) error {
	rdb := w.backend.rdb
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)

	docs, err := rdb.ZRangeByScore(ctx, w.backend.key(w.name, "delayed"), &redis.ZRangeBy{
		Min: "-inf", Max: now, Count: 100,
	}).Result()
	if err != nil {
		return fmt.Errorf("promote delayed: %w", err)
	}

	for _, doc := range docs {
		removed, err := rdb.ZRem(ctx, w.backend.key(w.name, "delayed"), doc).Result()
		if err != nil {
			return fmt.Errorf("promote delayed: %w", err)
		}
		// Another worker promoted it first.
		if removed == 0 {
			continue
		}
		if err := rdb.LPush(ctx, w.backend.key(w.name, "wait"), doc).Err(); err != nil {
			return fmt.Errorf("promote delayed: %w", err)
		}
	}
	return nil
}

func (w *redisWorker) execute(ctx context.Context, job *Job, doc string) {
	m := metrics()
	m.JobsRunning.WithLabelValues(w.name, "kv-store").Inc()
	start := time.Now()
	err := w.proc(ctx, job)
	m.JobsRunning.WithLabelValues(w.name, "kv-store").Dec()
	m.JobDuration.WithLabelValues(w.name, "kv-store").Observe(time.Since(start).Seconds())

	w.removeActive(doc)

	// Outcome bookkeeping runs on a fresh context so shutdown cannot
	// strand a finished job in the active list.
	bg, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err == nil {
		w.releaseDedup(bg, job)
		w.recordOutcome(bg, "completed", job)
		m.JobOutcomes.WithLabelValues(w.name, "kv-store", "completed").Inc()
		if w.events.OnCompleted != nil {
			w.events.OnCompleted(job)
		}
		return
	}

	job.Attempts++
	if job.Attempts >= job.MaxAttempts {
		w.releaseDedup(bg, job)
		w.recordOutcome(bg, "failed", job)
		w.logger.Printf("❌ Job %s (%s) failed after %d attempts: %v", job.ID, w.name, job.Attempts, err)
		m.JobOutcomes.WithLabelValues(w.name, "kv-store", "failed").Inc()
		if w.events.OnFailed != nil {
			w.events.OnFailed(job, err)
		}
		return
	}

	backoff := redisBackoff(job.Attempts)
	job.RunAt = time.Now().UTC().Add(backoff)
	retryDoc, merr := json.Marshal(job)
	if merr != nil {
		w.logger.Printf("❌ Cannot reschedule job %s: %v", job.ID, merr)
		return
	}
	if zerr := w.backend.rdb.ZAdd(bg, w.backend.key(w.name, "delayed"), redis.Z{
		Score:  float64(job.RunAt.UnixMilli()),
		Member: retryDoc,
	}).Err(); zerr != nil {
		w.logger.Printf("⚠️  Failed to reschedule job %s: %v", job.ID, zerr)
		return
	}
	w.logger.Printf("Job %s (%s) attempt %d/%d failed, retrying in %s: %v",
		job.ID, w.name, job.Attempts, job.MaxAttempts, backoff, err)
	m.JobOutcomes.WithLabelValues(w.name, "kv-store", "retried").Inc()
}

func (w *redisWorker) removeActive(doc string) {
	bg, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.backend.rdb.LRem(bg, w.backend.key(w.name, "active"), 1, doc).Err(); err != nil {
		w.logger.Printf("⚠️  Failed to clear active entry on %s: %v", w.name, err)
	}
}

func (w *redisWorker) releaseDedup(ctx context.Context, job *Job) {
	if job.Key == "" {
		return
	}
	if err := w.backend.rdb.Del(ctx, w.backend.dedupKey(w.name, job.Key)).Err(); err != nil {
		w.logger.Printf("⚠️  Failed to release dedup key %s: %v", job.Key, err)
	}
}

// recordOutcome stores the job in the completed or failed zset and
// prunes by age and count: completed 1h/100, failed 24h/50.
func (w *redisWorker) recordOutcome(ctx context.Context, outcome string, job *Job) {
	maxAge, maxCount := redisCompletedMaxAge, redisCompletedMaxCount
	if outcome == "failed" {
		maxAge, maxCount = redisFailedMaxAge, redisFailedMaxCount
	}

	doc, err := json.Marshal(job)
	if err != nil {
		return
	}

	key := w.backend.key(w.name, outcome)
	now := time.Now()
	pipe := w.backend.rdb.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: doc})
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(now.Add(-maxAge).UnixMilli(), 10))
	pipe.ZRemRangeByRank(ctx, key, 0, int64(-(maxCount + 1)))
	if _, err := pipe.Exec(ctx); err != nil {
		w.logger.Printf("⚠️  Failed to record %s job %s: %v", outcome, job.ID, err)
	}
}

// redisBackoff doubles from 1s per attempt, capped at 30s.
func redisBackoff(attempts int) time.Duration {
	d := redisRetryBackoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= redisRetryBackoffCap {
			return redisRetryBackoffCap
		}
	}
	return d
}
