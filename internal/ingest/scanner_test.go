package ingest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/logtide-dev/logtide/internal/jobs"
)

func TestScannerDropsMalformedPayload(t *testing.T) {
	s := NewScanner(nil, nil, nil)

	err := s.Process(context.Background(), &jobs.Job{
		ID:      "j1",
		Task:    TaskDetectionScan,
		Payload: json.RawMessage(`{not json`),
	})
	assert.NoError(t, err, "malformed payloads must not be retried")
}

func TestScanJobPayloadWireFormat(t *testing.T) {
	data, err := json.Marshal(ScanJobPayload{
		TenantID:  "t1",
		ProjectID: "p1",
		LogIDs:    []string{"a", "b"},
	})
	assert.NoError(t, err)

	var decoded map[string]interface{}
	assert.NoError(t, json.Unmarshal(data, &decoded))
	assert.Contains(t, decoded, "tenantId")
	assert.Contains(t, decoded, "projectId")
	assert.Contains(t, decoded, "logIds")
}
