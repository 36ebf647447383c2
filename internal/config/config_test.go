package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.ProjectDir)
	assert.Equal(t, DefaultMaxIterations, cfg.MaxIterations)
	assert.Equal(t, DefaultSettleDelay, cfg.SettleDelay)
	assert.Equal(t, DefaultRecoveryAge, cfg.RecoveryMaxAge)
	assert.Equal(t, DefaultRetryMaxAttempts, cfg.Retry.MaxAttempts)
	assert.Equal(t, "tmux", cfg.TmuxBin)
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	content := `
max_iterations: 5
settle_delay: 4s
recovery_max_age: 48h
workers:
  refiner: "agent run refine"
  builder: "agent run build"
retry:
  max_attempts: 2
  base_delay: 500ms
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "conveyor.yaml"), []byte(content), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.MaxIterations)
	assert.Equal(t, 4*time.Second, cfg.SettleDelay)
	assert.Equal(t, 48*time.Hour, cfg.RecoveryMaxAge)
	assert.Equal(t, "agent run refine", cfg.Workers["refiner"])
	assert.Equal(t, 2, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.BaseDelay)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "conveyor.yaml"), []byte("max_iterations: [oops"), 0o644))

	_, err := Load(dir)
	require.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "conveyor.yaml"), []byte("max_iterations: 5\n"), 0o644))

	t.Setenv("CONVEYOR_MAX_ITERATIONS", "7")
	t.Setenv("CONVEYOR_SETTLE_DELAY", "250ms")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.MaxIterations)
	assert.Equal(t, 250*time.Millisecond, cfg.SettleDelay)
}

func TestLoadClampsNonPositiveIterations(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "conveyor.yaml"), []byte("max_iterations: 0\n"), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxIterations, cfg.MaxIterations)
}

func TestPaths(t *testing.T) {
	cfg := Default("/work/proj")
	assert.Equal(t, filepath.Join("/work/proj", ".conveyor", "runs"), cfg.RunsDir())
	assert.Equal(t, filepath.Join("/work/proj", ".conveyor", "mission.db"), cfg.MissionDBPath())
}
