package notify

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkCount(t *testing.T) {
	tests := []struct {
		n    int
		want int
	}{
		{0, 0},
		{-5, 0},
		{1, 1},
		{MaxLogIDsPerChunk, 1},
		{MaxLogIDsPerChunk + 1, 2},
		{250, 2},
		{500, 3},
		{2 * MaxLogIDsPerChunk, 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ChunkCount(tt.n), "ChunkCount(%d)", tt.n)
	}
}

func TestMaxLogIDsPerChunkStaysUnderPayloadCap(t *testing.T) {
	assert.Equal(t, 197, MaxLogIDsPerChunk)
	assert.LessOrEqual(t, MaxLogIDsPerChunk*bytesPerLogID, maxPayloadBytes)
}

func TestLogNotificationWireFormat(t *testing.T) {
	data, err := json.Marshal(LogNotification{
		ProjectID: "p1",
		LogIDs:    []string{"a", "b"},
	})
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Contains(t, decoded, "projectId")
	assert.Contains(t, decoded, "logIds")
	assert.Contains(t, decoded, "timestamp")
}
