// Package circuitbreaker guards best-effort side channels (the
// pg_notify publish path) against a flapping backend: after repeated
// failures the breaker opens and calls are skipped until a probe
// succeeds.
package circuitbreaker

import (
	"errors"
	"log"
	"sync"
	"time"
)

// State is the breaker state.
type State int

const (
	StateClosed   State = iota // normal operation, calls pass through
	StateOpen                  // failure threshold exceeded, calls blocked
	StateHalfOpen              // probing whether the backend recovered
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrOpen is returned when the breaker rejects a call without running it.
var ErrOpen = errors.New("circuit breaker is open")

// Config tunes one breaker.
type Config struct {
	// Name identifies the breaker in logs.
	Name string

	// Threshold is the consecutive-failure count that opens the circuit.
	Threshold uint32

	// Cooldown is how long the circuit stays open before probing.
	Cooldown time.Duration

	// ProbeBudget is how many calls may run half-open before the verdict.
	ProbeBudget uint32
}

// Counts tracks call outcomes within the current generation.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// Requests is counted when the call is admitted, in before().
func (c *Counts) onSuccess() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) onFailure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

// Breaker is a consecutive-failure circuit breaker. A generation counter
// discards results of calls that started before the last state change.
type Breaker struct {
	cfg    Config
	logger *log.Logger

	mu         sync.Mutex
	state      State
	generation uint64
	counts     Counts
	openedAt   time.Time
}

// New creates a breaker; zero config fields get defaults (threshold 5,
// cooldown 30s, probe budget 1).
func New(cfg Config) *Breaker {
	if cfg.Threshold == 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.ProbeBudget == 0 {
		cfg.ProbeBudget = 1
	}
	return &Breaker{
		cfg:    cfg,
		logger: log.New(log.Writer(), "[BREAKER] ", log.LstdFlags),
	}
}

// State returns the current state, advancing open → half-open when the
// cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, _ := b.currentState(time.Now())
	return s
}

// Counts returns a snapshot of the current generation's counts.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Do runs fn unless the circuit is open. The call outcome feeds the
// state machine.
func (b *Breaker) Do(fn func() error) error {
	gen, err := b.before()
	if err != nil {
		return err
	}
	err = fn()
	b.after(gen, err == nil)
	return err
}

func (b *Breaker) before() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, gen := b.currentState(now)

	if state == StateOpen {
		return gen, ErrOpen
	}
	if state == StateHalfOpen && b.counts.Requests >= b.cfg.ProbeBudget {
		return gen, ErrOpen
	}
	b.counts.Requests++
	return gen, nil
}

func (b *Breaker) after(gen uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, current := b.currentState(now)
	if gen != current {
		// Result belongs to an earlier generation.
		return
	}

	if success {
		b.counts.onSuccess()
		if state == StateHalfOpen {
			b.setState(StateClosed, now)
		}
		return
	}

	b.counts.onFailure()
	switch state {
	case StateClosed:
		if b.counts.ConsecutiveFailures >= b.cfg.Threshold {
			b.setState(StateOpen, now)
		}
	case StateHalfOpen:
		b.setState(StateOpen, now)
	}
}

func (b *Breaker) currentState(now time.Time) (State, uint64) {
	if b.state == StateOpen && now.Sub(b.openedAt) >= b.cfg.Cooldown {
		b.setState(StateHalfOpen, now)
	}
	return b.state, b.generation
}

func (b *Breaker) setState(s State, now time.Time) {
	if b.state == s {
		return
	}
	from := b.state
	b.state = s
	b.generation++
	b.counts = Counts{}
	if s == StateOpen {
		b.openedAt = now
	}
	b.logger.Printf("%s: %s -> %s", b.cfg.Name, from, s)
}
