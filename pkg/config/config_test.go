package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/vigil/pkg/faults"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero interval", func(c *Config) { c.IntervalSeconds = 0 }},
		{"zero timeout", func(c *Config) { c.TimeoutMs = 0 }},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }},
		{"zero pattern size", func(c *Config) { c.MaxPatternSizeMB = 0 }},
		{"zero retention", func(c *Config) { c.EventRetentionMinutes = 0 }},
		{"warning above critical", func(c *Config) { c.CPUWarningPct = 95 }},
		{"threshold above 100", func(c *Config) { c.DiskCriticalPct = 150 }},
		{"zero stale cycles", func(c *Config) { c.RenewalStaleCycles = 0 }},
		{"pressure above 100", func(c *Config) { c.RenewalMemoryPressurePct = 101 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, faults.Configuration, faults.KindOf(err))
		})
	}
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vigil.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
interval_seconds: 10
cpu_warning_pct: 60
cpu_critical_pct: 80
self_healing_enabled: false
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.IntervalSeconds)
	assert.Equal(t, 60.0, cfg.CPUWarningPct)
	assert.Equal(t, 80.0, cfg.CPUCriticalPct)
	assert.False(t, cfg.SelfHealingEnabled)
	// Unset options keep their defaults.
	assert.Equal(t, Default().MaxPatternSizeMB, cfg.MaxPatternSizeMB)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vigil.yaml")
	require.NoError(t, os.WriteFile(path, []byte("interval_seconds: -5\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Equal(t, faults.Configuration, faults.KindOf(err))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/vigil.yaml")
	require.Error(t, err)
	assert.Equal(t, faults.Configuration, faults.KindOf(err))
}

func TestDerivedDurations(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 30*time.Second, cfg.Interval())
	assert.Equal(t, 5*time.Second, cfg.Timeout())
	assert.Equal(t, time.Hour, cfg.EventRetention())
	assert.Equal(t, 10*1024*1024, cfg.MaxPatternBytes())
	assert.Equal(t, 512*1024, cfg.MaxAlertBytes())
	assert.Equal(t, 24*time.Hour, cfg.ScheduledRenewalInterval())
}
