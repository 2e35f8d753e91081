package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logtide-dev/logtide/internal/core"
)

// testStore connects to the database named by TEST_DB_URL; tests using
// it skip when the variable is unset.
func testStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DB_URL")
	if url == "" {
		t.Skip("TEST_DB_URL not set")
	}

	st, err := Open(url)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })
	return st
}

func openIncident(tenantID string) *core.Incident {
	now := time.Now().UTC()
	return &core.Incident{
		ID:               uuid.New().String(),
		TenantID:         tenantID,
		ProjectID:        "checkout",
		RuleFamily:       "high-error-rate",
		Status:           core.IncidentOpen,
		Severity:         core.SeverityHigh,
		DetectionCount:   1,
		AffectedServices: []string{"api"},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestIncidentLifecycleIsForwardOnly(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	tenant := "t-" + uuid.New().String()

	inc := openIncident(tenant)
	require.NoError(t, st.InsertIncident(ctx, inc))

	require.NoError(t, st.UpdateIncidentStatus(ctx, tenant, inc.ID, core.IncidentInvestigating))
	require.NoError(t, st.UpdateIncidentStatus(ctx, tenant, inc.ID, core.IncidentResolved))

	list, err := st.ListIncidents(ctx, tenant, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, core.IncidentResolved, list[0].Status)
	require.NotNil(t, list[0].ResolvedAt, "terminal states stamp resolved_at")

	// Terminal incidents are immutable.
	err = st.UpdateIncidentStatus(ctx, tenant, inc.ID, core.IncidentOpen)
	assert.ErrorIs(t, err, ErrIncidentClosed)
	err = st.UpdateIncidentStatus(ctx, tenant, inc.ID, core.IncidentFalsePositive)
	assert.ErrorIs(t, err, ErrIncidentClosed)

	list, err = st.ListIncidents(ctx, tenant, 0)
	require.NoError(t, err)
	assert.Equal(t, core.IncidentResolved, list[0].Status, "rejected transition must not mutate the row")
}

func TestUpdateIncidentStatusUnknownAndCrossTenant(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	tenant := "t-" + uuid.New().String()

	inc := openIncident(tenant)
	require.NoError(t, st.InsertIncident(ctx, inc))

	err := st.UpdateIncidentStatus(ctx, tenant, uuid.New().String(), core.IncidentResolved)
	assert.ErrorIs(t, err, ErrIncidentNotFound)

	// Another tenant must not see (or close) this incident.
	err = st.UpdateIncidentStatus(ctx, "t-"+uuid.New().String(), inc.ID, core.IncidentResolved)
	assert.ErrorIs(t, err, ErrIncidentNotFound)
}
