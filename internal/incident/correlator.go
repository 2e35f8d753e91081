// Package incident groups detection events into incidents with a
// lifecycle: open → investigating → resolved|false_positive.
package incident

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/logtide-dev/logtide/internal/core"
)

// DefaultWindow is how long an open incident keeps absorbing new events
// for its correlation key.
const DefaultWindow = 15 * time.Minute

// Store is the persistence surface the correlator needs. Implemented by
// the Postgres store.
type Store interface {
	FindOpenIncident(ctx context.Context, tenantID, projectID, ruleFamily string) (*core.Incident, error)
	InsertIncident(ctx context.Context, inc *core.Incident) error
	UpdateIncident(ctx context.Context, inc *core.Incident) error
	InsertDetectionEvent(ctx context.Context, e *core.DetectionEvent, incidentID string) error
}

// Correlator owns incident creation and mutation. Correlation key:
// (tenant, project, rule-family), where the family is the rule id
// stripped of any instance suffix. Events matching a terminal incident
// open a fresh one.
type Correlator struct {
	store  Store
	window time.Duration
	logger *log.Logger
}

// NewCorrelator creates a correlator; window <= 0 means DefaultWindow.
func NewCorrelator(store Store, window time.Duration) *Correlator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Correlator{
		store:  store,
		window: window,
		logger: log.New(log.Writer(), "[INCIDENTS] ", log.LstdFlags),
	}
}

var instanceSuffix = regexp.MustCompile(`[-_]\d+$`)

// RuleFamily strips an instance suffix ("high-error-rate-2") from a
// rule id.
func RuleFamily(ruleID string) string {
	return instanceSuffix.ReplaceAllString(ruleID, "")
}

// Correlate persists a batch of detection events in order, attaching
// each to an open incident or opening a new one. The source logs
// provide the affected-service union. Events produced by the same log
// in one batch describe a single occurrence and share an incident.
func (c *Correlator) Correlate(ctx context.Context, events []core.DetectionEvent, logs []core.LogRecord) error {
	if len(events) == 0 {
		return nil
	}

	serviceByLog := make(map[string]string, len(logs))
	for i := range logs {
		serviceByLog[logs[i].ID] = logs[i].Service
	}

	// Batch-local routing so one log's detections share an incident and
	// repeated families reuse the incident just touched.
	byLog := make(map[string]*core.Incident)
	byKey := make(map[string]*core.Incident)

	for i := range events {
		e := &events[i]
		family := RuleFamily(e.RuleID)
		key := e.TenantID + "/" + e.ProjectID + "/" + family
		service := serviceByLog[e.LogID]

		inc := byLog[e.LogID]
		if inc == nil {
			inc = byKey[key]
		}
		if inc == nil {
			open, err := c.store.FindOpenIncident(ctx, e.TenantID, e.ProjectID, family)
			if err != nil {
				return fmt.Errorf("find open incident: %w", err)
			}
			if open != nil && time.Since(open.UpdatedAt) <= c.window {
				inc = open
			}
		}

		if inc == nil {
			inc = &core.Incident{
				ID:               uuid.New().String(),
				TenantID:         e.TenantID,
				ProjectID:        e.ProjectID,
				RuleFamily:       family,
				Status:           core.IncidentOpen,
				Severity:         e.Severity,
				DetectionCount:   1,
				AffectedServices: servicesWith(nil, service),
				CreatedAt:        e.Timestamp,
				UpdatedAt:        e.Timestamp,
			}
			if err := c.store.InsertIncident(ctx, inc); err != nil {
				return err
			}
			c.logger.Printf("Opened incident %s (%s, severity=%s)", inc.ID, family, inc.Severity)
		} else {
			inc.DetectionCount++
			inc.Severity = core.MaxSeverity(inc.Severity, e.Severity)
			inc.AffectedServices = servicesWith(inc.AffectedServices, service)
			inc.UpdatedAt = e.Timestamp
			if err := c.store.UpdateIncident(ctx, inc); err != nil {
				return err
			}
		}

		byLog[e.LogID] = inc
		byKey[key] = inc

		if err := c.store.InsertDetectionEvent(ctx, e, inc.ID); err != nil {
			return err
		}
	}
	return nil
}

// servicesWith returns the set union, sorted for stable storage.
func servicesWith(services []string, service string) []string {
	if service == "" {
		return services
	}
	for _, s := range services {
		if s == service {
			return services
		}
	}
	out := append(append([]string(nil), services...), service)
	sort.Strings(out)
	return out
}
