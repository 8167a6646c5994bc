package db

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"testing"
	"time"

	"inference-ops-service/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotObjectNamesSortByCaptureTime(t *testing.T) {
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	early := &models.DeploymentSnapshot{ID: "zzz", DeploymentID: "dep-1", Timestamp: base}
	late := &models.DeploymentSnapshot{ID: "aaa", DeploymentID: "dep-1", Timestamp: base.Add(time.Second)}

	assert.Less(t, SnapshotObjectName(early), SnapshotObjectName(late))
	assert.Contains(t, SnapshotObjectName(early), "snapshots/dep-1/")
}

func TestEncodeSnapshotIsGzipJSON(t *testing.T) {
	snap := &models.DeploymentSnapshot{
		ID:           "snap-1",
		DeploymentID: "dep-1",
		Configuration: models.SnapshotConfiguration{
			GPUType: "A100",
			EnvVars: map[string]string{"MODEL": "llama"},
		},
	}

	body, err := encodeSnapshot(snap)
	require.NoError(t, err)

	reader, err := gzip.NewReader(bytes.NewReader(body))
	require.NoError(t, err)
	var decoded models.DeploymentSnapshot
	require.NoError(t, json.NewDecoder(reader).Decode(&decoded))
	assert.Equal(t, "A100", decoded.Configuration.GPUType)
	assert.Equal(t, "llama", decoded.Configuration.EnvVars["MODEL"])
}

func TestCacheKeys(t *testing.T) {
	assert.Equal(t, "metrics:ep-1:latest", MetricsKey("ep-1"))
	assert.Equal(t, "monitoring:ep-1", MonitoringKey("ep-1"))
}
