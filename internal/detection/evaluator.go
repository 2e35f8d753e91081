package detection

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/logtide-dev/logtide/internal/core"
)

const excerptMaxLen = 200

// ActivationStore loads per-tenant pack activation state. Implemented by
// the Postgres store.
type ActivationStore interface {
	ListActivations(ctx context.Context, tenantID string) ([]core.PackActivation, error)
}

// activeRule is one compiled, activation-resolved rule.
type activeRule struct {
	rule     *core.DetectionRule
	severity core.Severity
	cond     condExpr
}

// Evaluator runs all active rules of a tenant against a slice of logs
// and emits detection events in pack/rule order. Compiled rule sets are
// cached per tenant and invalidated on activation changes.
type Evaluator struct {
	catalog *Catalog
	store   ActivationStore
	logger  *log.Logger

	mu         sync.Mutex
	ruleCache  map[string][]activeRule
	loggedOnce map[string]bool // (tenant, rule) pairs already reported
}

// NewEvaluator creates the evaluator over a catalog and activation store.
func NewEvaluator(catalog *Catalog, store ActivationStore) *Evaluator {
	return &Evaluator{
		catalog:    catalog,
		store:      store,
		logger:     log.New(log.Writer(), "[RULES] ", log.LstdFlags),
		ruleCache:  make(map[string][]activeRule),
		loggedOnce: make(map[string]bool),
	}
}

// InvalidateTenant drops the cached rule set after an activation change.
func (e *Evaluator) InvalidateTenant(tenantID string) {
	e.mu.Lock()
	delete(e.ruleCache, tenantID)
	e.mu.Unlock()
}

// Evaluate runs every active rule against every log and returns the
// detection events in emission order: packs in shipment order, rules in
// declared order, logs in batch order.
func (e *Evaluator) Evaluate(ctx context.Context, tenantID, projectID string, logs []core.LogRecord) ([]core.DetectionEvent, error) {
	rules, err := e.activeRules(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 || len(logs) == 0 {
		return nil, nil
	}

	var events []core.DetectionEvent
	for i := range rules {
		r := &rules[i]
		for j := range logs {
			l := &logs[j]
			if !matchLogSource(r.rule.LogSource, l) {
				continue
			}

			results := make(map[string]bool, len(r.rule.Detection.Selections))
			for name, sel := range r.rule.Detection.Selections {
				results[name] = matchSelection(sel, l)
			}

			matched, err := r.cond.eval(results)
			if err != nil {
				// Unknown atoms short-circuit to false, reported once
				// per (tenant, rule).
				e.logRuleErrorOnce(tenantID, r.rule.ID, err)
				break
			}
			if !matched {
				continue
			}

			events = append(events, core.DetectionEvent{
				ID:        uuid.New().String(),
				TenantID:  tenantID,
				ProjectID: projectID,
				RuleID:    r.rule.ID,
				LogID:     l.ID,
				Severity:  r.severity,
				Timestamp: time.Now().UTC(),
				Excerpt:   excerpt(l.Message),
			})
		}
	}
	return events, nil
}

// activeRules resolves and compiles the tenant's rule set, caching it.
func (e *Evaluator) activeRules(ctx context.Context, tenantID string) ([]activeRule, error) {
	e.mu.Lock()
	cached, ok := e.ruleCache[tenantID]
	e.mu.Unlock()
	if ok {
		return cached, nil
	}

	activations, err := e.store.ListActivations(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load activations for %s: %w", tenantID, err)
	}

	byPack := make(map[string]*core.PackActivation, len(activations))
	for i := range activations {
		byPack[activations[i].PackID] = &activations[i]
	}

	var rules []activeRule
	for _, pack := range e.catalog.ListPacks() {
		act, ok := byPack[pack.ID]
		if !ok || !act.Enabled {
			continue
		}
		for i := range pack.Rules {
			r := &pack.Rules[i]
			if !r.Status.Evaluable() {
				continue
			}

			severity := r.Level
			if ov, ok := act.Thresholds[r.ID]; ok && ov.Level != nil && ov.Level.Valid() {
				severity = *ov.Level
			}

			cond, err := parseCondition(r.Detection.Condition)
			if err != nil {
				e.logRuleErrorOnce(tenantID, r.ID, err)
				continue
			}

			rules = append(rules, activeRule{rule: r, severity: severity, cond: cond})
		}
	}

	e.mu.Lock()
	e.ruleCache[tenantID] = rules
	e.mu.Unlock()
	return rules, nil
}

func (e *Evaluator) logRuleErrorOnce(tenantID, ruleID string, err error) {
	key := tenantID + "/" + ruleID
	e.mu.Lock()
	seen := e.loggedOnce[key]
	e.loggedOnce[key] = true
	e.mu.Unlock()
	if !seen {
		e.logger.Printf("⚠️  Rule %s skipped for tenant %s: %v", ruleID, tenantID, err)
	}
}

// excerpt keeps the first excerptMaxLen characters. Truncation is on
// rune boundaries so a multi-byte character is never split into invalid
// UTF-8.
func excerpt(message string) string {
	if utf8.RuneCountInString(message) <= excerptMaxLen {
		return message
	}
	return string([]rune(message)[:excerptMaxLen])
}
