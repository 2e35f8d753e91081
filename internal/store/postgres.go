// Package store is the Postgres persistence layer for the log pipeline.
//
// Every table is tenant-scoped: no query runs without a tenant_id
// predicate, and callers never see rows from another tenant.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"

	"github.com/logtide-dev/logtide/internal/core"
)

// Store wraps the shared *sql.DB connection pool.
type Store struct {
	db     *sql.DB
	logger *log.Logger
}

// Open connects to Postgres and verifies the connection.
func Open(dbURL string) (*Store, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{
		db:     db,
		logger: log.New(log.Writer(), "[STORE] ", log.LstdFlags),
	}, nil
}

// NewWithDB wraps an existing connection pool (used by tests).
func NewWithDB(db *sql.DB) *Store {
	return &Store{
		db:     db,
		logger: log.New(log.Writer(), "[STORE] ", log.LstdFlags),
	}
}

// DB exposes the underlying pool for collaborators that share it
// (notification publisher, in-DB queue backend).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// ============================================================================
// LOG OPERATIONS
// ============================================================================

// InsertLogBatch persists a batch of logs atomically. IDs are assigned by
// the caller; insert order equals slice order.
func (s *Store) InsertLogBatch(ctx context.Context, logs []core.LogRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin log batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO logs (id, tenant_id, project_id, ts, service, level, message, span_id, attributes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)
	if err != nil {
		return fmt.Errorf("prepare log insert: %w", err)
	}
	defer stmt.Close()

	for i := range logs {
		l := &logs[i]
		attrs, err := json.Marshal(l.Attributes)
		if err != nil {
			return fmt.Errorf("marshal attributes for log %s: %w", l.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			l.ID, l.TenantID, nullable(l.ProjectID), l.Timestamp,
			l.Service, string(l.Level), l.Message, nullable(l.SpanID), attrs,
		); err != nil {
			return fmt.Errorf("insert log %s: %w", l.ID, err)
		}
	}

	return tx.Commit()
}

// LogsByIDs loads logs for one tenant, returned in the order requested.
// Unknown ids are silently skipped.
func (s *Store) LogsByIDs(ctx context.Context, tenantID string, ids []string) ([]core.LogRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, COALESCE(project_id, ''), ts, service, level, message, COALESCE(span_id, ''), attributes
		FROM logs
		WHERE tenant_id = $1 AND id = ANY($2)`,
		tenantID, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("query logs by ids: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]core.LogRecord, len(ids))
	for rows.Next() {
		var l core.LogRecord
		var level string
		var attrs []byte
		if err := rows.Scan(&l.ID, &l.TenantID, &l.ProjectID, &l.Timestamp,
			&l.Service, &level, &l.Message, &l.SpanID, &attrs); err != nil {
			return nil, fmt.Errorf("scan log row: %w", err)
		}
		l.Level = core.LogLevel(level)
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &l.Attributes); err != nil {
				s.logger.Printf("⚠️  Malformed attributes on log %s: %v", l.ID, err)
			}
		}
		byID[l.ID] = l
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]core.LogRecord, 0, len(ids))
	for _, id := range ids {
		if l, ok := byID[id]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
