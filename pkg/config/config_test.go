package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PROVIDER_API_KEY", "key")
	t.Setenv("POSTGRES_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "5120", cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.MonitorInterval)
	assert.Equal(t, 24*time.Hour, cfg.HistoryRetention)
	assert.Equal(t, 5.0, cfg.Thresholds.ErrorRate)
	assert.Equal(t, 5000.0, cfg.Thresholds.ResponseTime)
	assert.Equal(t, 30, cfg.RestartReadyAttempts)
	assert.Equal(t, 10*time.Second, cfg.RestartReadyInterval)
}

func TestLoadReportsMissingAndMalformed(t *testing.T) {
	t.Setenv("PROVIDER_API_KEY", "")
	t.Setenv("POSTGRES_ENABLED", "true")
	t.Setenv("POSTGRESQL_PASSWORD", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PROVIDER_API_KEY")
	assert.Contains(t, err.Error(), "POSTGRESQL_PASSWORD")

	t.Setenv("PROVIDER_API_KEY", "key")
	t.Setenv("POSTGRES_ENABLED", "false")
	t.Setenv("MONITOR_INTERVAL", "soon")
	t.Setenv("ALERT_ERROR_RATE", "five")

	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MONITOR_INTERVAL")
	assert.Contains(t, err.Error(), "ALERT_ERROR_RATE")
}
