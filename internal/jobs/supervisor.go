package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"
)

// SupervisorConfig selects and tunes the queue backend.
type SupervisorConfig struct {
	// Backend is "in-db" or "kv-store".
	Backend string

	// DB is the shared primary-store pool; required for the in-db backend.
	DB *sql.DB

	// KVURL is the Redis URL; required for the kv-store backend.
	KVURL string

	// Concurrency is the worker pool size (default 5).
	Concurrency int

	// PollInterval is the in-db poll cadence (min and default 1s).
	PollInterval time.Duration
}

// Supervisor owns the process-wide queue lifecycle: it caches Queue and
// Worker instances by name and tears everything down in order on
// shutdown (workers, then queues, then the substrate connection).
type Supervisor struct {
	backend backend
	name    string
	logger  *log.Logger

	mu       sync.Mutex
	queues   map[string]Queue
	workers  map[string]Worker
	started  bool
	shutdown bool
}

// NewSupervisor constructs the supervisor for the configured backend.
func NewSupervisor(cfg SupervisorConfig) (*Supervisor, error) {
	var (
		b   backend
		err error
	)
	switch cfg.Backend {
	case "in-db", "":
		if cfg.DB == nil {
			return nil, fmt.Errorf("in-db queue backend requires a database connection")
		}
		b = newPostgresBackend(cfg.DB, cfg.PollInterval, cfg.Concurrency)
	case "kv-store":
		b, err = newRedisBackend(cfg.KVURL, cfg.Concurrency)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}

	return &Supervisor{
		backend: b,
		name:    cfg.Backend,
		logger:  log.New(log.Writer(), "[QUEUE-SUP] ", log.LstdFlags),
		queues:  make(map[string]Queue),
		workers: make(map[string]Worker),
	}, nil
}

// Queue returns the cached queue for a name, constructing it on first
// request.
func (s *Supervisor) Queue(name string) (Queue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return nil, ErrQueueClosed
	}
	if q, ok := s.queues[name]; ok {
		return q, nil
	}
	q, err := s.backend.newQueue(name)
	if err != nil {
		return nil, err
	}
	s.queues[name] = q
	return q, nil
}

// Worker returns the cached worker for a name, constructing it on first
// request. The processor argument is ignored on repeated requests for
// the same name.
func (s *Supervisor) Worker(name string, proc Processor, events WorkerEvents) (Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return nil, ErrQueueClosed
	}
	if w, ok := s.workers[name]; ok {
		return w, nil
	}
	w, err := s.backend.newWorker(name, proc, events)
	if err != nil {
		return nil, err
	}
	s.workers[name] = w
	return w, nil
}

// Start launches backend machinery. Idempotent; required by the in-db
// backend to begin polling.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return ErrQueueClosed
	}
	if s.started {
		return nil
	}
	if err := s.backend.start(); err != nil {
		return err
	}
	s.started = true
	s.logger.Printf("Queue system started (backend=%s)", s.name)
	return nil
}

// Status reports counts per known queue.
func (s *Supervisor) Status(ctx context.Context) (map[string]Counts, error) {
	s.mu.Lock()
	queues := make(map[string]Queue, len(s.queues))
	for name, q := range s.queues {
		queues[name] = q
	}
	s.mu.Unlock()

	out := make(map[string]Counts, len(queues))
	for name, q := range queues {
		c, err := q.Counts(ctx)
		if err != nil {
			return nil, fmt.Errorf("counts for %s: %w", name, err)
		}
		out[name] = c
	}
	return out, nil
}

// Shutdown closes workers first, then queues, then the substrate
// connection, and clears the caches. Safe to call multiple times and
// with nothing initialised.
func (s *Supervisor) Shutdown() error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	workers := s.workers
	queues := s.queues
	s.workers = make(map[string]Worker)
	s.queues = make(map[string]Queue)
	s.mu.Unlock()

	for name, w := range workers {
		if err := w.Close(); err != nil {
			s.logger.Printf("⚠️  Error closing worker %s: %v", name, err)
		}
	}
	for name, q := range queues {
		if err := q.Close(); err != nil {
			s.logger.Printf("⚠️  Error closing queue %s: %v", name, err)
		}
	}
	if err := s.backend.close(); err != nil {
		s.logger.Printf("⚠️  Error closing queue backend: %v", err)
	}

	s.logger.Println("Queue system shut down")
	return nil
}
