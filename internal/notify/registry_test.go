package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logtide-dev/logtide/internal/core"
)

func TestRegistrySubscribeAndUnsubscribe(t *testing.T) {
	r := NewRegistry()

	id, unsubscribe := r.Subscribe(&Subscriber{
		ProjectID: "p1",
		Callback:  func(context.Context, LogNotification) error { return nil },
	})
	require.NotEmpty(t, id)
	assert.Equal(t, 1, r.Count())

	unsubscribe()
	assert.Equal(t, 0, r.Count())

	// Unknown id is a no-op.
	r.Unsubscribe("ghost")
	assert.Equal(t, 0, r.Count())
}

func TestRegistryDispatchRoutesByProject(t *testing.T) {
	r := NewRegistry()

	var mu sync.Mutex
	delivered := map[string]int{}
	record := func(name string) Callback {
		return func(context.Context, LogNotification) error {
			mu.Lock()
			delivered[name]++
			mu.Unlock()
			return nil
		}
	}

	r.Subscribe(&Subscriber{ID: "a", ProjectID: "p1", Callback: record("a")})
	r.Subscribe(&Subscriber{ID: "b", ProjectID: "p1", Callback: record("b")})
	r.Subscribe(&Subscriber{ID: "c", ProjectID: "p2", Callback: record("c")})

	r.Dispatch(context.Background(), LogNotification{
		ProjectID: "p1",
		LogIDs:    []string{"l1"},
		Timestamp: time.Now(),
	})

	assert.Equal(t, 1, delivered["a"])
	assert.Equal(t, 1, delivered["b"])
	assert.Zero(t, delivered["c"], "other project must not receive the notification")
}

func TestRegistryDispatchIsolatesCallbackErrors(t *testing.T) {
	r := NewRegistry()

	var delivered int
	var mu sync.Mutex
	r.Subscribe(&Subscriber{ID: "bad", ProjectID: "p1", Callback: func(context.Context, LogNotification) error {
		return errors.New("connection gone")
	}})
	r.Subscribe(&Subscriber{ID: "good", ProjectID: "p1", Callback: func(context.Context, LogNotification) error {
		mu.Lock()
		delivered++
		mu.Unlock()
		return nil
	}})

	r.Dispatch(context.Background(), LogNotification{ProjectID: "p1"})

	assert.Equal(t, 1, delivered)
	assert.Equal(t, 2, r.Count(), "a failing callback must not be unsubscribed")
}

func TestRegistryClear(t *testing.T) {
	r := NewRegistry()
	r.Subscribe(&Subscriber{ProjectID: "p1", Callback: func(context.Context, LogNotification) error { return nil }})
	r.Subscribe(&Subscriber{ProjectID: "p2", Callback: func(context.Context, LogNotification) error { return nil }})

	r.Clear()
	assert.Equal(t, 0, r.Count())
}

func TestSubscriberMatchesLogs(t *testing.T) {
	logs := []core.LogRecord{
		{Service: "auth", Level: core.LevelInfo},
		{Service: "payments", Level: core.LevelError},
	}

	tests := []struct {
		name string
		sub  Subscriber
		want bool
	}{
		{"no filters match everything", Subscriber{}, true},
		{"service filter hit", Subscriber{Services: map[string]bool{"auth": true}}, true},
		{"service filter miss", Subscriber{Services: map[string]bool{"orders": true}}, false},
		{"level filter hit", Subscriber{Levels: map[core.LogLevel]bool{core.LevelError: true}}, true},
		{"level filter miss", Subscriber{Levels: map[core.LogLevel]bool{core.LevelCritical: true}}, false},
		{"both filters hit", Subscriber{
			Services: map[string]bool{"payments": true},
			Levels:   map[core.LogLevel]bool{core.LevelError: true},
		}, true},
		{"service hit but level miss", Subscriber{
			Services: map[string]bool{"auth": true},
			Levels:   map[core.LogLevel]bool{core.LevelCritical: true},
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sub.MatchesLogs(logs))
		})
	}
}
