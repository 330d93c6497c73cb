package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tenantsync.yaml")
	content := `
nats:
  url: nats://nats.internal:4222
aggregator:
  alert_window: 10s
  tag_window: 5s
analysis:
  stale_threshold_days: 60
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "nats://nats.internal:4222", cfg.NATS.URL)
	assert.Equal(t, 10*time.Second, cfg.Aggregator.AlertWindow.Std())
	assert.Equal(t, 5*time.Second, cfg.Aggregator.TagWindow.Std())
	assert.Equal(t, 60, cfg.Analysis.StaleThresholdDays)
	// Untouched fields keep defaults.
	assert.Equal(t, ":9090", cfg.Ops.ListenAddr)
}

func TestLoadJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tenantsync.json")
	content := `{"ops": {"listen_addr": ":8088"}, "stages": {"process": {"workers": 16, "queue_size": 2048}}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8088", cfg.Ops.ListenAddr)
	assert.Equal(t, 16, cfg.Stages.Process.Workers)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/tenantsync.yaml")
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TENANTSYNC_NATS_URL", "nats://override:4222")
	t.Setenv("TENANTSYNC_ALERT_WINDOW", "7s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "nats://override:4222", cfg.NATS.URL)
	assert.Equal(t, 7*time.Second, cfg.Aggregator.AlertWindow.Std())
}

func TestValidateRejectsBadWindows(t *testing.T) {
	cfg := Default()
	cfg.Aggregator.AlertWindow = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Analysis.StaleThresholdDays = -1
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.NATS.URL = ""
	assert.Error(t, cfg.Validate())
}
