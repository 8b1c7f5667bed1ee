package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/godispatch/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "godispatch", cfg.App.Name)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, 10, cfg.Executor.MaxConcurrentJobs)
	assert.Equal(t, 30, cfg.Scheduler.CheckIntervalSeconds)
	assert.False(t, cfg.Database.Enabled)
	assert.False(t, cfg.Redis.Enabled)
	assert.True(t, cfg.Optimizer.Enabled)
	assert.False(t, cfg.Optimizer.AutoApply)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app:
  name: test-dispatch
  environment: test
logger:
  level: debug
executor:
  max_concurrent_jobs: 4
  max_queue_depth: 50
scheduler:
  check_interval_seconds: 10
resources:
  max_cpu_percent: 70
  max_memory_mb: 2048
`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test-dispatch", cfg.App.Name)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, 4, cfg.Executor.MaxConcurrentJobs)
	assert.Equal(t, 50, cfg.Executor.MaxQueueDepth)
	assert.Equal(t, 70.0, cfg.Resources.MaxCPUPercent)

	execCfg := cfg.ExecutorConfig()
	require.NoError(t, execCfg.Validate())
	assert.Equal(t, 4, execCfg.MaxWorkers)

	schedCfg := cfg.SchedulerConfig()
	require.NoError(t, schedCfg.Validate())
	assert.Equal(t, 10*time.Second, schedCfg.TickInterval)

	limits := cfg.ResourceLimits()
	assert.Equal(t, 70.0, limits.MaxCPUPercent)
	assert.Equal(t, 4, limits.MaxConcurrentWorkers)
}

func TestLoadValidation(t *testing.T) {
	dir := t.TempDir()

	writeAndLoad := func(t *testing.T, body string) error {
		t.Helper()
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
		_, err := config.Load(path)
		return err
	}

	assert.Error(t, writeAndLoad(t, "executor:\n  max_concurrent_jobs: 0\n"))
	assert.Error(t, writeAndLoad(t, "resources:\n  max_cpu_percent: 150\n"))
	assert.Error(t, writeAndLoad(t, "database:\n  enabled: true\n"))
	assert.Error(t, writeAndLoad(t, "redis:\n  enabled: true\n  addr: \"\"\n"))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}
