package store

import (
	"context"
	"fmt"
)

// Schema bootstrap statements, applied in order on every startup.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS logs (
		id         TEXT PRIMARY KEY,
		tenant_id  TEXT NOT NULL,
		project_id TEXT,
		ts         TIMESTAMPTZ NOT NULL,
		service    TEXT NOT NULL,
		level      TEXT NOT NULL,
		message    TEXT NOT NULL,
		span_id    TEXT,
		attributes JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_logs_tenant_project_ts ON logs (tenant_id, project_id, ts)`,

	`CREATE TABLE IF NOT EXISTS pack_activations (
		tenant_id    TEXT NOT NULL,
		pack_id      TEXT NOT NULL,
		enabled      BOOLEAN NOT NULL DEFAULT TRUE,
		thresholds   JSONB,
		activated_at TIMESTAMPTZ NOT NULL,
		updated_at   TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (tenant_id, pack_id)
	)`,

	`CREATE TABLE IF NOT EXISTS detection_events (
		id         TEXT PRIMARY KEY,
		tenant_id  TEXT NOT NULL,
		project_id TEXT,
		rule_id    TEXT NOT NULL,
		log_id     TEXT NOT NULL,
		severity   TEXT NOT NULL,
		ts         TIMESTAMPTZ NOT NULL,
		excerpt    TEXT NOT NULL,
		incident_id TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_detection_events_tenant_ts ON detection_events (tenant_id, ts)`,

	`CREATE TABLE IF NOT EXISTS incidents (
		id                TEXT PRIMARY KEY,
		tenant_id         TEXT NOT NULL,
		project_id        TEXT,
		rule_family       TEXT NOT NULL,
		status            TEXT NOT NULL,
		severity          TEXT NOT NULL,
		detection_count   INTEGER NOT NULL,
		affected_services TEXT[] NOT NULL,
		created_at        TIMESTAMPTZ NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL,
		resolved_at       TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_incidents_tenant_key ON incidents (tenant_id, project_id, rule_family, status)`,

	`CREATE TABLE IF NOT EXISTS jobs (
		id           TEXT PRIMARY KEY,
		task         TEXT NOT NULL,
		payload      JSONB NOT NULL,
		run_at       TIMESTAMPTZ NOT NULL,
		attempts     INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 3,
		locked_at    TIMESTAMPTZ,
		priority     INTEGER NOT NULL DEFAULT 0,
		key          TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_poll ON jobs (task, priority, run_at) WHERE locked_at IS NULL`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_key ON jobs (task, key) WHERE key IS NOT NULL`,
}

// Migrate applies the schema bootstrap statements in order.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	s.logger.Printf("Schema ready (%d statements)", len(migrations))
	return nil
}
