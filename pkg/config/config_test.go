package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 0.20, cfg.Pipeline.AdvisorMaxInterruption)
	assert.Equal(t, 0.85, cfg.Pipeline.SafetyGateCutoff)
	assert.Equal(t, 5.0, cfg.Pipeline.SwitchMarginPct)
	assert.Equal(t, 3, cfg.Pipeline.ProviderMaxRetries)
	assert.Equal(t, 30*time.Minute, cfg.Tracker.TacticalTTL)
	assert.Equal(t, 360*time.Hour, cfg.Tracker.HistoryWindow)
	assert.Equal(t, 10, cfg.Orchestrator.InterruptWorkers)
	assert.Equal(t, 5, cfg.Orchestrator.OptimizeWorkers)
	assert.Equal(t, 1, cfg.Orchestrator.ScanWorkers)
	assert.True(t, cfg.Executor.DryRun, "dry-run must be the default")

	require.NoError(t, cfg.Validate())
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("SPOTHIVE_SAFETY_GATE_CUTOFF", "0.9")
	t.Setenv("SPOTHIVE_TRACKER_TTL", "45m")
	t.Setenv("SPOTHIVE_DRY_RUN", "false")
	t.Setenv("SPOTHIVE_INTERRUPT_WORKERS", "20")

	cfg := Default()
	assert.Equal(t, 0.9, cfg.Pipeline.SafetyGateCutoff)
	assert.Equal(t, 45*time.Minute, cfg.Tracker.TacticalTTL)
	assert.False(t, cfg.Executor.DryRun)
	assert.Equal(t, 20, cfg.Orchestrator.InterruptWorkers)
}

func TestLoadOverlaysFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spothive.yaml")
	content := `
pipeline:
  safety_gate_cutoff: 0.7
  switch_margin_pct: 10
tracker:
  tactical_ttl: 15m
executor:
  actor: staging-optimizer
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.7, cfg.Pipeline.SafetyGateCutoff)
	assert.Equal(t, 10.0, cfg.Pipeline.SwitchMarginPct)
	assert.Equal(t, 15*time.Minute, cfg.Tracker.TacticalTTL)
	assert.Equal(t, "staging-optimizer", cfg.Executor.Actor)
	// Untouched fields keep their defaults.
	assert.Equal(t, 0.20, cfg.Pipeline.AdvisorMaxInterruption)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 0.85, cfg.Pipeline.SafetyGateCutoff)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{
			name:   "advisor threshold out of range",
			mutate: func(c *Config) { c.Pipeline.AdvisorMaxInterruption = 1.5 },
			errMsg: "advisor_max_interruption",
		},
		{
			name:   "zero safety gate",
			mutate: func(c *Config) { c.Pipeline.SafetyGateCutoff = 0 },
			errMsg: "safety_gate_cutoff",
		},
		{
			name:   "history window not beyond tactical ttl",
			mutate: func(c *Config) { c.Tracker.HistoryWindow = c.Tracker.TacticalTTL },
			errMsg: "history_window",
		},
		{
			name:   "zero sweep interval",
			mutate: func(c *Config) { c.Tracker.SweepInterval = 0 },
			errMsg: "sweep_interval",
		},
		{
			name:   "negative provider retries",
			mutate: func(c *Config) { c.Pipeline.ProviderMaxRetries = -1 },
			errMsg: "provider_max_retries",
		},
		{
			name:   "unknown model kind",
			mutate: func(c *Config) { c.Model.Kind = "neural" },
			errMsg: "model kind",
		},
		{
			name:   "trained model without artifact",
			mutate: func(c *Config) { c.Model.Kind = "trained"; c.Model.ArtifactPath = "" },
			errMsg: "artifact_path",
		},
		{
			name:   "scan workers not one",
			mutate: func(c *Config) { c.Orchestrator.ScanWorkers = 4 },
			errMsg: "scan_workers",
		},
		{
			name:   "unknown actuator",
			mutate: func(c *Config) { c.Pipeline.Actuators = []string{"email"} },
			errMsg: "actuator",
		},
		{
			name:   "headroom too high",
			mutate: func(c *Config) { c.Engine.HeadroomPct = 100 },
			errMsg: "headroom_pct",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
