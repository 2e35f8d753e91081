package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/logtide-dev/logtide/internal/core"
)

var (
	// ErrIncidentNotFound is returned when a status change targets an
	// unknown incident (or one belonging to another tenant).
	ErrIncidentNotFound = errors.New("incident not found")

	// ErrIncidentClosed is returned when a status change targets a
	// terminal incident. The lifecycle is forward-only: resolved and
	// false_positive incidents are never reopened.
	ErrIncidentClosed = errors.New("incident is closed")
)

// ============================================================================
// DETECTION EVENT OPERATIONS
// ============================================================================

// InsertDetectionEvent appends one detection event, optionally linked to
// an incident.
func (s *Store) InsertDetectionEvent(ctx context.Context, e *core.DetectionEvent, incidentID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO detection_events (id, tenant_id, project_id, rule_id, log_id, severity, ts, excerpt, incident_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.TenantID, nullable(e.ProjectID), e.RuleID, e.LogID,
		string(e.Severity), e.Timestamp, e.Excerpt, nullable(incidentID))
	if err != nil {
		return fmt.Errorf("insert detection event %s: %w", e.ID, err)
	}
	return nil
}

// ============================================================================
// INCIDENT OPERATIONS
// ============================================================================

// FindOpenIncident returns the most recently updated non-terminal
// incident for a correlation key, or nil if none exists.
func (s *Store) FindOpenIncident(ctx context.Context, tenantID, projectID, ruleFamily string) (*core.Incident, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, COALESCE(project_id, ''), rule_family, status, severity,
		       detection_count, affected_services, created_at, updated_at, resolved_at
		FROM incidents
		WHERE tenant_id = $1 AND COALESCE(project_id, '') = $2 AND rule_family = $3
		  AND status IN ('open', 'investigating')
		ORDER BY updated_at DESC
		LIMIT 1`,
		tenantID, projectID, ruleFamily)

	inc, err := scanIncident(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return inc, err
}

// InsertIncident creates a new incident row.
func (s *Store) InsertIncident(ctx context.Context, inc *core.Incident) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO incidents (id, tenant_id, project_id, rule_family, status, severity,
		                       detection_count, affected_services, created_at, updated_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		inc.ID, inc.TenantID, nullable(inc.ProjectID), inc.RuleFamily,
		string(inc.Status), string(inc.Severity), inc.DetectionCount,
		pq.Array(inc.AffectedServices), inc.CreatedAt, inc.UpdatedAt, inc.ResolvedAt)
	if err != nil {
		return fmt.Errorf("insert incident %s: %w", inc.ID, err)
	}
	return nil
}

// UpdateIncident persists count, severity, services and updated_at after
// an event is appended.
func (s *Store) UpdateIncident(ctx context.Context, inc *core.Incident) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE incidents SET severity = $2, detection_count = $3, affected_services = $4, updated_at = $5
		WHERE id = $1 AND tenant_id = $6`,
		inc.ID, string(inc.Severity), inc.DetectionCount,
		pq.Array(inc.AffectedServices), inc.UpdatedAt, inc.TenantID)
	if err != nil {
		return fmt.Errorf("update incident %s: %w", inc.ID, err)
	}
	return nil
}

// UpdateIncidentStatus moves an incident through its state machine.
// Terminal incidents are immutable: the update is guarded in SQL so a
// concurrent resolve cannot be raced back open.
func (s *Store) UpdateIncidentStatus(ctx context.Context, tenantID, incidentID string, status core.IncidentStatus) error {
	var resolvedAt interface{}
	if status.Terminal() {
		resolvedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE incidents SET status = $3, resolved_at = $4, updated_at = NOW()
		WHERE id = $2 AND tenant_id = $1 AND status IN ('open', 'investigating')`,
		tenantID, incidentID, string(status), resolvedAt)
	if err != nil {
		return fmt.Errorf("update incident status %s: %w", incidentID, err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		return nil
	}

	// Nothing updated: distinguish a missing incident from a closed one.
	var current string
	err = s.db.QueryRowContext(ctx,
		`SELECT status FROM incidents WHERE id = $2 AND tenant_id = $1`,
		tenantID, incidentID).Scan(&current)
	if err == sql.ErrNoRows {
		return ErrIncidentNotFound
	}
	if err != nil {
		return fmt.Errorf("update incident status %s: %w", incidentID, err)
	}
	return ErrIncidentClosed
}

// ListIncidents returns incidents for a tenant, newest first.
func (s *Store) ListIncidents(ctx context.Context, tenantID string, limit int) ([]core.Incident, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, COALESCE(project_id, ''), rule_family, status, severity,
		       detection_count, affected_services, created_at, updated_at, resolved_at
		FROM incidents WHERE tenant_id = $1
		ORDER BY updated_at DESC LIMIT $2`,
		tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	var out []core.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inc)
	}
	return out, rows.Err()
}

func scanIncident(r rowScanner) (*core.Incident, error) {
	var inc core.Incident
	var status, severity string
	var services pq.StringArray
	if err := r.Scan(&inc.ID, &inc.TenantID, &inc.ProjectID, &inc.RuleFamily,
		&status, &severity, &inc.DetectionCount, &services,
		&inc.CreatedAt, &inc.UpdatedAt, &inc.ResolvedAt); err != nil {
		return nil, err
	}
	inc.Status = core.IncidentStatus(status)
	inc.Severity = core.Severity(severity)
	inc.AffectedServices = []string(services)
	return &inc, nil
}
