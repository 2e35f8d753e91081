package notify

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/logtide-dev/logtide/internal/core"
)

// Callback delivers one notification to a live connection. The payload
// carries only ids, so the callback hydrates logs before applying its
// service/level filters.
type Callback func(ctx context.Context, n LogNotification) error

// Subscriber is one live connection's registration. Services and Levels
// are optional narrowing filters applied by the callback after
// hydration; the registry itself routes by ProjectID only.
type Subscriber struct {
	ID        string
	ProjectID string
	Services  map[string]bool
	Levels    map[core.LogLevel]bool
	Callback  Callback
}

// MatchesLogs reports whether any hydrated log passes the subscriber's
// service and level filters. Empty filter sets match everything.
func (s *Subscriber) MatchesLogs(logs []core.LogRecord) bool {
	if len(s.Services) == 0 && len(s.Levels) == 0 {
		return true
	}
	serviceOK := len(s.Services) == 0
	levelOK := len(s.Levels) == 0
	for _, l := range logs {
		if s.Services[l.Service] {
			serviceOK = true
		}
		if s.Levels[l.Level] {
			levelOK = true
		}
		if serviceOK && levelOK {
			return true
		}
	}
	return false
}

// Registry maps connection ids to subscribers and fans notifications out
// by project. Mutation is single-writer; dispatch iterates a snapshot.
type Registry struct {
	mu     sync.RWMutex
	subs   map[string]*Subscriber
	logger *log.Logger
}

// NewRegistry creates an empty subscriber registry.
func NewRegistry() *Registry {
	return &Registry{
		subs:   make(map[string]*Subscriber),
		logger: log.New(log.Writer(), "[SUBS] ", log.LstdFlags),
	}
}

// Subscribe registers a subscriber and returns its connection id plus an
// unsubscribe handle. A missing id is assigned.
func (r *Registry) Subscribe(s *Subscriber) (string, func()) {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}

	r.mu.Lock()
	r.subs[s.ID] = s
	n := len(r.subs)
	r.mu.Unlock()

	metricsNotify().Subscribers.Set(float64(n))
	r.logger.Printf("Subscriber %s registered (project=%s, total=%d)", s.ID, s.ProjectID, n)

	id := s.ID
	return id, func() { r.Unsubscribe(id) }
}

// Unsubscribe removes a subscriber. Unknown ids are ignored.
func (r *Registry) Unsubscribe(id string) {
	r.mu.Lock()
	_, existed := r.subs[id]
	delete(r.subs, id)
	n := len(r.subs)
	r.mu.Unlock()

	if existed {
		metricsNotify().Subscribers.Set(float64(n))
		r.logger.Printf("Subscriber %s removed (total=%d)", id, n)
	}
}

// Count returns the number of registered subscribers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Clear drops all subscribers (listener shutdown).
func (r *Registry) Clear() {
	r.mu.Lock()
	r.subs = make(map[string]*Subscriber)
	r.mu.Unlock()
	metricsNotify().Subscribers.Set(0)
}

// Dispatch delivers a notification to every subscriber whose project
// matches. Callbacks run in parallel; each error is isolated and logged
// with the subscriber id, and never unsubscribes the failing subscriber.
// Dispatch returns after all callbacks finish so that per-subscriber
// chunk order is preserved.
func (r *Registry) Dispatch(ctx context.Context, n LogNotification) {
	r.mu.RLock()
	matched := make([]*Subscriber, 0, len(r.subs))
	for _, s := range r.subs {
		if s.ProjectID == n.ProjectID {
			matched = append(matched, s)
		}
	}
	r.mu.RUnlock()

	if len(matched) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, s := range matched {
		wg.Add(1)
		go func(s *Subscriber) {
			defer wg.Done()
			if err := s.Callback(ctx, n); err != nil {
				metricsNotify().CallbackErrors.Inc()
				r.logger.Printf("⚠️  Subscriber %s callback error: %v", s.ID, err)
			}
		}(s)
	}
	wg.Wait()

	metricsNotify().Dispatches.Add(float64(len(matched)))
}
