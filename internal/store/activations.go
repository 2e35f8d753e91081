package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/logtide-dev/logtide/internal/core"
)

// ErrActivationNotFound is returned when a threshold update targets a
// pack the tenant has not enabled.
var ErrActivationNotFound = errors.New("pack activation not found")

// ============================================================================
// PACK ACTIVATION OPERATIONS
// ============================================================================

// UpsertActivation enables a pack for a tenant, replacing any existing
// activation row. Exactly one row exists per (tenant, pack).
func (s *Store) UpsertActivation(ctx context.Context, a *core.PackActivation) error {
	thresholds, err := json.Marshal(a.Thresholds)
	if err != nil {
		return fmt.Errorf("marshal thresholds: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pack_activations (tenant_id, pack_id, enabled, thresholds, activated_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, pack_id)
		DO UPDATE SET enabled = EXCLUDED.enabled, thresholds = EXCLUDED.thresholds, updated_at = EXCLUDED.updated_at`,
		a.TenantID, a.PackID, a.Enabled, thresholds, a.ActivatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert activation %s/%s: %w", a.TenantID, a.PackID, err)
	}
	return nil
}

// DeleteActivation removes the activation row on pack disable.
func (s *Store) DeleteActivation(ctx context.Context, tenantID, packID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM pack_activations WHERE tenant_id = $1 AND pack_id = $2`,
		tenantID, packID)
	return err
}

// UpdateThresholds replaces the per-rule overrides of an existing activation.
func (s *Store) UpdateThresholds(ctx context.Context, tenantID, packID string, thresholds map[string]core.ThresholdOverride) error {
	data, err := json.Marshal(thresholds)
	if err != nil {
		return fmt.Errorf("marshal thresholds: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE pack_activations SET thresholds = $3, updated_at = $4
		WHERE tenant_id = $1 AND pack_id = $2`,
		tenantID, packID, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update thresholds %s/%s: %w", tenantID, packID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrActivationNotFound
	}
	return nil
}

// GetActivation loads one activation, or nil when the pack is not activated.
func (s *Store) GetActivation(ctx context.Context, tenantID, packID string) (*core.PackActivation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, pack_id, enabled, thresholds, activated_at, updated_at
		FROM pack_activations WHERE tenant_id = $1 AND pack_id = $2`,
		tenantID, packID)

	a, err := scanActivation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// ListActivations returns all activations for a tenant.
func (s *Store) ListActivations(ctx context.Context, tenantID string) ([]core.PackActivation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, pack_id, enabled, thresholds, activated_at, updated_at
		FROM pack_activations WHERE tenant_id = $1 ORDER BY pack_id`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("list activations: %w", err)
	}
	defer rows.Close()

	var out []core.PackActivation
	for rows.Next() {
		a, err := scanActivation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanActivation(r rowScanner) (*core.PackActivation, error) {
	var a core.PackActivation
	var thresholds []byte
	if err := r.Scan(&a.TenantID, &a.PackID, &a.Enabled, &thresholds, &a.ActivatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	if len(thresholds) > 0 {
		if err := json.Unmarshal(thresholds, &a.Thresholds); err != nil {
			return nil, fmt.Errorf("unmarshal thresholds for %s/%s: %w", a.TenantID, a.PackID, err)
		}
	}
	return &a, nil
}
