package incident

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logtide-dev/logtide/internal/core"
)

// memStore is an in-memory Store for correlator tests.
type memStore struct {
	incidents []*core.Incident
	events    map[string][]core.DetectionEvent // incidentID -> events
}

func newMemStore() *memStore {
	return &memStore{events: make(map[string][]core.DetectionEvent)}
}

func (m *memStore) FindOpenIncident(_ context.Context, tenantID, projectID, ruleFamily string) (*core.Incident, error) {
	var best *core.Incident
	for _, inc := range m.incidents {
		if inc.TenantID != tenantID || inc.ProjectID != projectID || inc.RuleFamily != ruleFamily {
			continue
		}
		if inc.Status.Terminal() {
			continue
		}
		if best == nil || inc.UpdatedAt.After(best.UpdatedAt) {
			best = inc
		}
	}
	return best, nil
}

func (m *memStore) InsertIncident(_ context.Context, inc *core.Incident) error {
	cp := *inc
	m.incidents = append(m.incidents, &cp)
	return nil
}

func (m *memStore) UpdateIncident(_ context.Context, inc *core.Incident) error {
	for i, existing := range m.incidents {
		if existing.ID == inc.ID {
			cp := *inc
			m.incidents[i] = &cp
			return nil
		}
	}
	return nil
}

func (m *memStore) InsertDetectionEvent(_ context.Context, e *core.DetectionEvent, incidentID string) error {
	m.events[incidentID] = append(m.events[incidentID], *e)
	return nil
}

func event(ruleID, logID string, sev core.Severity) core.DetectionEvent {
	return core.DetectionEvent{
		ID:        "evt-" + ruleID + "-" + logID,
		TenantID:  "t1",
		ProjectID: "p1",
		RuleID:    ruleID,
		LogID:     logID,
		Severity:  sev,
		Timestamp: time.Now().UTC(),
	}
}

func logRec(id, service string) core.LogRecord {
	return core.LogRecord{ID: id, TenantID: "t1", Service: service}
}

func TestCorrelateOpensNewIncident(t *testing.T) {
	store := newMemStore()
	c := NewCorrelator(store, DefaultWindow)

	err := c.Correlate(context.Background(),
		[]core.DetectionEvent{event("payment-failures", "l1", core.SeverityHigh)},
		[]core.LogRecord{logRec("l1", "payments")})
	require.NoError(t, err)

	require.Len(t, store.incidents, 1)
	inc := store.incidents[0]
	assert.Equal(t, core.IncidentOpen, inc.Status)
	assert.Equal(t, "payment-failures", inc.RuleFamily)
	assert.Equal(t, core.SeverityHigh, inc.Severity)
	assert.Equal(t, 1, inc.DetectionCount)
	assert.Equal(t, []string{"payments"}, inc.AffectedServices)
	assert.Len(t, store.events[inc.ID], 1)
}

// Two rules firing on the same log describe one occurrence and must
// share an incident.
func TestCorrelateSameLogSharesIncident(t *testing.T) {
	store := newMemStore()
	c := NewCorrelator(store, DefaultWindow)

	err := c.Correlate(context.Background(),
		[]core.DetectionEvent{
			event("critical-errors", "l1", core.SeverityCritical),
			event("oom-crashes", "l1", core.SeverityCritical),
		},
		[]core.LogRecord{logRec("l1", "api")})
	require.NoError(t, err)

	require.Len(t, store.incidents, 1)
	assert.Equal(t, 2, store.incidents[0].DetectionCount)
	assert.Len(t, store.events[store.incidents[0].ID], 2)
}

func TestCorrelateReusesOpenIncidentWithinWindow(t *testing.T) {
	store := newMemStore()
	c := NewCorrelator(store, DefaultWindow)
	ctx := context.Background()

	require.NoError(t, c.Correlate(ctx,
		[]core.DetectionEvent{event("slow-query", "l1", core.SeverityMedium)},
		[]core.LogRecord{logRec("l1", "orders")}))
	require.NoError(t, c.Correlate(ctx,
		[]core.DetectionEvent{event("slow-query", "l2", core.SeverityMedium)},
		[]core.LogRecord{logRec("l2", "billing")}))

	require.Len(t, store.incidents, 1)
	inc := store.incidents[0]
	assert.Equal(t, 2, inc.DetectionCount)
	assert.Equal(t, []string{"billing", "orders"}, inc.AffectedServices)
}

func TestCorrelateExpiredWindowOpensFreshIncident(t *testing.T) {
	store := newMemStore()
	c := NewCorrelator(store, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Correlate(ctx,
		[]core.DetectionEvent{event("slow-query", "l1", core.SeverityMedium)},
		[]core.LogRecord{logRec("l1", "orders")}))

	// Age the open incident past the window.
	store.incidents[0].UpdatedAt = time.Now().Add(-2 * time.Minute)

	require.NoError(t, c.Correlate(ctx,
		[]core.DetectionEvent{event("slow-query", "l2", core.SeverityMedium)},
		[]core.LogRecord{logRec("l2", "orders")}))

	assert.Len(t, store.incidents, 2)
}

func TestCorrelateTerminalIncidentNeverReopened(t *testing.T) {
	store := newMemStore()
	c := NewCorrelator(store, DefaultWindow)
	ctx := context.Background()

	require.NoError(t, c.Correlate(ctx,
		[]core.DetectionEvent{event("deadlock-detected", "l1", core.SeverityHigh)},
		[]core.LogRecord{logRec("l1", "orders")}))

	store.incidents[0].Status = core.IncidentResolved

	require.NoError(t, c.Correlate(ctx,
		[]core.DetectionEvent{event("deadlock-detected", "l2", core.SeverityHigh)},
		[]core.LogRecord{logRec("l2", "orders")}))

	require.Len(t, store.incidents, 2)
	assert.Equal(t, core.IncidentResolved, store.incidents[0].Status)
	assert.Equal(t, core.IncidentOpen, store.incidents[1].Status)
}

func TestCorrelateSeverityOnlyEscalates(t *testing.T) {
	store := newMemStore()
	c := NewCorrelator(store, DefaultWindow)
	ctx := context.Background()

	require.NoError(t, c.Correlate(ctx,
		[]core.DetectionEvent{event("payment-failures", "l1", core.SeverityMedium)},
		[]core.LogRecord{logRec("l1", "payments")}))
	require.NoError(t, c.Correlate(ctx,
		[]core.DetectionEvent{event("payment-failures", "l2", core.SeverityCritical)},
		[]core.LogRecord{logRec("l2", "payments")}))
	require.NoError(t, c.Correlate(ctx,
		[]core.DetectionEvent{event("payment-failures", "l3", core.SeverityLow)},
		[]core.LogRecord{logRec("l3", "payments")}))

	require.Len(t, store.incidents, 1)
	assert.Equal(t, core.SeverityCritical, store.incidents[0].Severity)
}

func TestRuleFamilyStripsInstanceSuffix(t *testing.T) {
	tests := map[string]string{
		"high-error-rate":   "high-error-rate",
		"high-error-rate-2": "high-error-rate",
		"slow_query_17":     "slow_query",
		"oom-crashes":       "oom-crashes",
		"rule-1-2":          "rule-1",
	}
	for in, want := range tests {
		assert.Equal(t, want, RuleFamily(in), "RuleFamily(%q)", in)
	}
}
