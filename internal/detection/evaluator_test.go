package detection

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logtide-dev/logtide/internal/core"
)

// fakeActivationStore serves canned activations and counts loads so
// tests can observe caching.
type fakeActivationStore struct {
	activations map[string][]core.PackActivation
	loads       int
}

func (f *fakeActivationStore) ListActivations(_ context.Context, tenantID string) ([]core.PackActivation, error) {
	f.loads++
	return f.activations[tenantID], nil
}

func enabled(tenantID, packID string, thresholds map[string]core.ThresholdOverride) core.PackActivation {
	now := time.Now().UTC()
	return core.PackActivation{
		TenantID:    tenantID,
		PackID:      packID,
		Enabled:     true,
		Thresholds:  thresholds,
		ActivatedAt: now,
		UpdatedAt:   now,
	}
}

func errorLog(id, service, message string) core.LogRecord {
	return core.LogRecord{
		ID:        id,
		TenantID:  "t1",
		Timestamp: time.Now().UTC(),
		Service:   service,
		Level:     core.LevelError,
		Message:   message,
	}
}

func TestEvaluateNoActivationsEmitsNothing(t *testing.T) {
	ev := NewEvaluator(NewCatalog(), &fakeActivationStore{})

	events, err := ev.Evaluate(context.Background(), "t1", "p1", []core.LogRecord{
		errorLog("l1", "api", "something exploded"),
	})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestEvaluateMatchesActiveRules(t *testing.T) {
	store := &fakeActivationStore{activations: map[string][]core.PackActivation{
		"t1": {enabled("t1", "startup-reliability", nil)},
	}}
	ev := NewEvaluator(NewCatalog(), store)

	logs := []core.LogRecord{
		errorLog("l1", "api", "request handled fine"),
		errorLog("l2", "api", "worker killed: out of memory"),
	}
	events, err := ev.Evaluate(context.Background(), "t1", "p1", logs)
	require.NoError(t, err)

	// Both logs are level=error (high-error-rate); l2 also trips oom-crashes.
	byRule := map[string][]string{}
	for _, e := range events {
		byRule[e.RuleID] = append(byRule[e.RuleID], e.LogID)
		assert.Equal(t, "t1", e.TenantID)
		assert.Equal(t, "p1", e.ProjectID)
		assert.NotEmpty(t, e.ID)
	}
	assert.ElementsMatch(t, []string{"l2"}, byRule["oom-crashes"])
	assert.ElementsMatch(t, []string{"l1", "l2"}, byRule["high-error-rate"])
}

func TestEvaluateThresholdOverrideChangesSeverity(t *testing.T) {
	critical := core.SeverityCritical
	store := &fakeActivationStore{activations: map[string][]core.PackActivation{
		"t1": {enabled("t1", "startup-reliability", map[string]core.ThresholdOverride{
			"high-error-rate": {Level: &critical},
		})},
	}}
	ev := NewEvaluator(NewCatalog(), store)

	events, err := ev.Evaluate(context.Background(), "t1", "p1", []core.LogRecord{
		errorLog("l1", "api", "boom"),
	})
	require.NoError(t, err)
	require.NotEmpty(t, events)

	for _, e := range events {
		if e.RuleID == "high-error-rate" {
			assert.Equal(t, core.SeverityCritical, e.Severity)
			return
		}
	}
	t.Fatal("expected a high-error-rate event")
}

func TestEvaluateInvalidOverrideKeepsRuleDefault(t *testing.T) {
	bogus := core.Severity("extreme")
	store := &fakeActivationStore{activations: map[string][]core.PackActivation{
		"t1": {enabled("t1", "startup-reliability", map[string]core.ThresholdOverride{
			"high-error-rate": {Level: &bogus},
		})},
	}}
	ev := NewEvaluator(NewCatalog(), store)

	events, err := ev.Evaluate(context.Background(), "t1", "p1", []core.LogRecord{
		errorLog("l1", "api", "boom"),
	})
	require.NoError(t, err)
	for _, e := range events {
		if e.RuleID == "high-error-rate" {
			assert.Equal(t, core.SeverityHigh, e.Severity)
		}
	}
}

func TestEvaluateLogSourceFiltersService(t *testing.T) {
	store := &fakeActivationStore{activations: map[string][]core.PackActivation{
		"t1": {enabled("t1", "auth-security", nil)},
	}}
	ev := NewEvaluator(NewCatalog(), store)

	// failed-login-attempts only applies to service "auth".
	events, err := ev.Evaluate(context.Background(), "t1", "p1", []core.LogRecord{
		errorLog("l1", "payments", "failed login for user bob"),
		errorLog("l2", "auth", "failed login for user bob"),
	})
	require.NoError(t, err)

	var logIDs []string
	for _, e := range events {
		if e.RuleID == "failed-login-attempts" {
			logIDs = append(logIDs, e.LogID)
		}
	}
	assert.Equal(t, []string{"l2"}, logIDs)
}

func TestEvaluateCachesRuleSetPerTenant(t *testing.T) {
	store := &fakeActivationStore{activations: map[string][]core.PackActivation{
		"t1": {enabled("t1", "startup-reliability", nil)},
	}}
	ev := NewEvaluator(NewCatalog(), store)
	ctx := context.Background()
	logs := []core.LogRecord{errorLog("l1", "api", "boom")}

	_, err := ev.Evaluate(ctx, "t1", "p1", logs)
	require.NoError(t, err)
	_, err = ev.Evaluate(ctx, "t1", "p1", logs)
	require.NoError(t, err)
	assert.Equal(t, 1, store.loads, "second evaluate should hit the cache")

	ev.InvalidateTenant("t1")
	_, err = ev.Evaluate(ctx, "t1", "p1", logs)
	require.NoError(t, err)
	assert.Equal(t, 2, store.loads, "invalidation should force a reload")
}

func TestEvaluateExcerptIsTruncated(t *testing.T) {
	store := &fakeActivationStore{activations: map[string][]core.PackActivation{
		"t1": {enabled("t1", "startup-reliability", nil)},
	}}
	ev := NewEvaluator(NewCatalog(), store)

	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	events, err := ev.Evaluate(context.Background(), "t1", "p1", []core.LogRecord{
		errorLog("l1", "api", string(long)),
	})
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Len(t, events[0].Excerpt, excerptMaxLen)
}

func TestExcerptKeepsRuneBoundaries(t *testing.T) {
	msg := strings.Repeat("x", excerptMaxLen-1) + "éllo world"
	out := excerpt(msg)

	assert.True(t, utf8.ValidString(out), "truncation must not split a multi-byte rune")
	assert.Equal(t, excerptMaxLen, utf8.RuneCountInString(out))
	assert.Equal(t, strings.Repeat("x", excerptMaxLen-1)+"é", out)

	short := "déjà vu"
	assert.Equal(t, short, excerpt(short))
}
