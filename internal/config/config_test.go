package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://localhost/platform
gateway:
  base_url: http://gateway.internal
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, 5, cfg.Database.MaxIdleConns)
	assert.Equal(t, 30, cfg.Gateway.TimeoutSeconds)
	assert.Equal(t, 3, cfg.Gateway.MaxRetries)
	assert.Equal(t, time.Minute, cfg.Scheduler.Interval())
	assert.Equal(t, 20, cfg.Scheduler.SyncBatchLimit)
	assert.Equal(t, 100, cfg.Scheduler.ReminderLimit)
	assert.Equal(t, 2880, cfg.Scheduler.ApplicationAgeMinutes)
	assert.Equal(t, 120, cfg.Scheduler.SessionHorizonMinutes)
	assert.Equal(t, 15, cfg.Scheduler.SessionLookbackMinutes)
	assert.False(t, cfg.Scheduler.Enabled)
}

func TestLoadExplicitValuesWin(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
scheduler:
  enabled: true
  interval_ms: 5000
  sync_batch_limit: 50
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.Interval())
	assert.Equal(t, 50, cfg.Scheduler.SyncBatchLimit)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://file-value/platform
`)

	t.Setenv("DATABASE_URL", "postgres://env-value/platform")
	t.Setenv("GATEWAY_BASE_URL", "http://env-gateway")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("SCHEDULER_ENABLED", "true")

	cfg, err := LoadFromEnv(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://env-value/platform", cfg.Database.URL)
	assert.Equal(t, "http://env-gateway", cfg.Gateway.BaseURL)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.True(t, cfg.Scheduler.Enabled)
}

func TestGetHostContainerDetection(t *testing.T) {
	cfg := ServerConfig{Host: "localhost"}

	t.Setenv("ECS_CONTAINER_METADATA_URI", "")
	t.Setenv("AWS_EXECUTION_ENV", "")
	t.Setenv("SERVER_HOST", "")
	assert.Equal(t, "localhost", cfg.GetHost())

	t.Setenv("SERVER_HOST", "10.0.0.5")
	assert.Equal(t, "10.0.0.5", cfg.GetHost())

	t.Setenv("ECS_CONTAINER_METADATA_URI", "http://169.254.170.2/v3")
	assert.Equal(t, "0.0.0.0", cfg.GetHost())
}
