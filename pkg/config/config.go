// Package config holds the agent's closed option set, its defaults,
// loading and validation. Only configuration faults may abort startup.
package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/yairfalse/vigil/pkg/faults"
)

// Config is the full option set. The set is closed: collaborators get
// their own knobs through their own constructors, not through here.
type Config struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
	TimeoutMs       int `mapstructure:"timeout_ms"`
	MaxRetries      int `mapstructure:"max_retries"`

	MaxPatternSizeMB      int `mapstructure:"max_pattern_size_mb"`
	MaxEventSizeMB        int `mapstructure:"max_event_size_mb"`
	EventRetentionMinutes int `mapstructure:"event_retention_minutes"`
	MaxAlertSizeKB        int `mapstructure:"max_alert_size_kb"`

	CPUWarningPct     float64 `mapstructure:"cpu_warning_pct"`
	CPUCriticalPct    float64 `mapstructure:"cpu_critical_pct"`
	MemoryWarningPct  float64 `mapstructure:"memory_warning_pct"`
	MemoryCriticalPct float64 `mapstructure:"memory_critical_pct"`
	DiskWarningPct    float64 `mapstructure:"disk_warning_pct"`
	DiskCriticalPct   float64 `mapstructure:"disk_critical_pct"`

	RenewalScheduledIntervalHours int     `mapstructure:"renewal_scheduled_interval_hours"`
	RenewalMemoryPressurePct      float64 `mapstructure:"renewal_memory_pressure_pct"`
	RenewalStaleCycles            int     `mapstructure:"renewal_stale_cycles"`

	SelfHealingEnabled bool `mapstructure:"self_healing_enabled"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		IntervalSeconds:               30,
		TimeoutMs:                     5000,
		MaxRetries:                    2,
		MaxPatternSizeMB:              10,
		MaxEventSizeMB:                5,
		EventRetentionMinutes:         60,
		MaxAlertSizeKB:                512,
		CPUWarningPct:                 70,
		CPUCriticalPct:                90,
		MemoryWarningPct:              80,
		MemoryCriticalPct:             95,
		DiskWarningPct:                85,
		DiskCriticalPct:               95,
		RenewalScheduledIntervalHours: 24,
		RenewalMemoryPressurePct:      75,
		RenewalStaleCycles:            10000,
		SelfHealingEnabled:            true,
	}
}

// Load reads configuration with viper: defaults, then an optional YAML
// file, then VIGIL_* environment overrides. An empty path skips the
// file entirely.
func Load(path string) (Config, error) {
	v := viper.New()

	defaults := Default()
	v.SetDefault("interval_seconds", defaults.IntervalSeconds)
	v.SetDefault("timeout_ms", defaults.TimeoutMs)
	v.SetDefault("max_retries", defaults.MaxRetries)
	v.SetDefault("max_pattern_size_mb", defaults.MaxPatternSizeMB)
	v.SetDefault("max_event_size_mb", defaults.MaxEventSizeMB)
	v.SetDefault("event_retention_minutes", defaults.EventRetentionMinutes)
	v.SetDefault("max_alert_size_kb", defaults.MaxAlertSizeKB)
	v.SetDefault("cpu_warning_pct", defaults.CPUWarningPct)
	v.SetDefault("cpu_critical_pct", defaults.CPUCriticalPct)
	v.SetDefault("memory_warning_pct", defaults.MemoryWarningPct)
	v.SetDefault("memory_critical_pct", defaults.MemoryCriticalPct)
	v.SetDefault("disk_warning_pct", defaults.DiskWarningPct)
	v.SetDefault("disk_critical_pct", defaults.DiskCriticalPct)
	v.SetDefault("renewal_scheduled_interval_hours", defaults.RenewalScheduledIntervalHours)
	v.SetDefault("renewal_memory_pressure_pct", defaults.RenewalMemoryPressurePct)
	v.SetDefault("renewal_stale_cycles", defaults.RenewalStaleCycles)
	v.SetDefault("self_healing_enabled", defaults.SelfHealingEnabled)

	v.SetEnvPrefix("VIGIL")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, faults.Wrap(faults.Configuration, "config.load", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, faults.Wrap(faults.Configuration, "config.load", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the option set. Every violation is a configuration
// fault, which is the only fault kind allowed to halt startup.
func (c Config) Validate() error {
	const op = "config.validate"

	if c.IntervalSeconds <= 0 {
		return faults.New(faults.Configuration, op, "interval_seconds must be positive, got %d", c.IntervalSeconds)
	}
	if c.TimeoutMs <= 0 {
		return faults.New(faults.Configuration, op, "timeout_ms must be positive, got %d", c.TimeoutMs)
	}
	if c.MaxRetries < 0 {
		return faults.New(faults.Configuration, op, "max_retries must not be negative, got %d", c.MaxRetries)
	}
	if c.MaxPatternSizeMB <= 0 || c.MaxEventSizeMB <= 0 || c.MaxAlertSizeKB <= 0 {
		return faults.New(faults.Configuration, op, "capsule size limits must be positive")
	}
	if c.EventRetentionMinutes <= 0 {
		return faults.New(faults.Configuration, op, "event_retention_minutes must be positive, got %d", c.EventRetentionMinutes)
	}
	for _, pair := range []struct {
		name              string
		warning, critical float64
	}{
		{"cpu", c.CPUWarningPct, c.CPUCriticalPct},
		{"memory", c.MemoryWarningPct, c.MemoryCriticalPct},
		{"disk", c.DiskWarningPct, c.DiskCriticalPct},
	} {
		if pair.warning <= 0 || pair.warning > 100 || pair.critical <= 0 || pair.critical > 100 {
			return faults.New(faults.Configuration, op, "%s thresholds must be within (0,100]", pair.name)
		}
		if pair.warning >= pair.critical {
			return faults.New(faults.Configuration, op, "%s warning threshold %.1f must be below critical %.1f", pair.name, pair.warning, pair.critical)
		}
	}
	if c.RenewalScheduledIntervalHours <= 0 {
		return faults.New(faults.Configuration, op, "renewal_scheduled_interval_hours must be positive, got %d", c.RenewalScheduledIntervalHours)
	}
	if c.RenewalMemoryPressurePct <= 0 || c.RenewalMemoryPressurePct > 100 {
		return faults.New(faults.Configuration, op, "renewal_memory_pressure_pct must be within (0,100], got %.1f", c.RenewalMemoryPressurePct)
	}
	if c.RenewalStaleCycles <= 0 {
		return faults.New(faults.Configuration, op, "renewal_stale_cycles must be positive, got %d", c.RenewalStaleCycles)
	}
	return nil
}

// Interval is the heartbeat period.
func (c Config) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Timeout bounds one tick's collection work.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// EventRetention is the event capsule's age window.
func (c Config) EventRetention() time.Duration {
	return time.Duration(c.EventRetentionMinutes) * time.Minute
}

// MaxPatternBytes is the pattern capsule's size bound.
func (c Config) MaxPatternBytes() int {
	return c.MaxPatternSizeMB * 1024 * 1024
}

// MaxEventBytes is the event capsule's size bound (pressure checks only;
// retention prunes by age).
func (c Config) MaxEventBytes() int {
	return c.MaxEventSizeMB * 1024 * 1024
}

// MaxAlertBytes is the alert capsule's size bound.
func (c Config) MaxAlertBytes() int {
	return c.MaxAlertSizeKB * 1024
}

// ScheduledRenewalInterval is the wall-clock renewal period.
func (c Config) ScheduledRenewalInterval() time.Duration {
	return time.Duration(c.RenewalScheduledIntervalHours) * time.Hour
}
