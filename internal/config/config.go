// Package config provides centralized configuration for conveyor.
// Values come from an optional conveyor.yaml in the project root, overridden
// by CONVEYOR_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when neither file nor environment provides a value.
const (
	DefaultMaxIterations = 3
	DefaultSettleDelay   = 2 * time.Second
	DefaultRecoveryAge   = 72 * time.Hour
	DefaultPollInterval  = 500 * time.Millisecond

	DefaultRetryMaxAttempts = 3
	DefaultRetryBaseDelay   = 1 * time.Second
	DefaultRetryMultiplier  = 2.0
	DefaultRetryMaxDelay    = 30 * time.Second
)

// Config holds all conveyor settings for one project.
type Config struct {
	// ProjectDir is the project root the pipeline operates on.
	ProjectDir string `yaml:"-"`

	// MaxIterations caps the gate→build rework loop.
	MaxIterations int `yaml:"max_iterations"`

	// SettleDelay is the pause after a worker finishes before the
	// coordinator decides the next action.
	SettleDelay time.Duration `yaml:"settle_delay"`

	// RecoveryMaxAge is the age ceiling for interrupted-run detection.
	RecoveryMaxAge time.Duration `yaml:"recovery_max_age"`

	// PollInterval is the filesystem watcher polling interval.
	PollInterval time.Duration `yaml:"poll_interval"`

	// Retry holds the backoff policy.
	Retry RetryConfig `yaml:"retry"`

	// Workers maps worker names to the shell command launched for each.
	Workers map[string]string `yaml:"workers"`

	// TmuxBin is the tmux binary used to host worker sessions.
	TmuxBin string `yaml:"tmux_bin"`
}

// RetryConfig mirrors the retry manager policy knobs.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	Multiplier  float64       `yaml:"multiplier"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// Default returns the built-in configuration for a project directory.
func Default(projectDir string) *Config {
	return &Config{
		ProjectDir:     projectDir,
		MaxIterations:  DefaultMaxIterations,
		SettleDelay:    DefaultSettleDelay,
		RecoveryMaxAge: DefaultRecoveryAge,
		PollInterval:   DefaultPollInterval,
		Retry: RetryConfig{
			MaxAttempts: DefaultRetryMaxAttempts,
			BaseDelay:   DefaultRetryBaseDelay,
			Multiplier:  DefaultRetryMultiplier,
			MaxDelay:    DefaultRetryMaxDelay,
		},
		Workers: map[string]string{},
		TmuxBin: "tmux",
	}
}

// Load reads conveyor.yaml from the project directory if present, then
// applies environment overrides. A missing file is not an error.
func Load(projectDir string) (*Config, error) {
	cfg := Default(projectDir)

	path := filepath.Join(projectDir, "conveyor.yaml")
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnv(cfg)

	if cfg.MaxIterations < 1 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CONVEYOR_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxIterations = n
		}
	}
	if v := os.Getenv("CONVEYOR_SETTLE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SettleDelay = d
		}
	}
	if v := os.Getenv("CONVEYOR_RECOVERY_MAX_AGE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RecoveryMaxAge = d
		}
	}
	if v := os.Getenv("CONVEYOR_TMUX_BIN"); v != "" {
		cfg.TmuxBin = v
	}
}

// RunsDir returns the directory holding all persisted runs for the project.
func (c *Config) RunsDir() string {
	return filepath.Join(c.ProjectDir, ".conveyor", "runs")
}

// MissionDBPath returns the sqlite path for the mission board index.
func (c *Config) MissionDBPath() string {
	return filepath.Join(c.ProjectDir, ".conveyor", "mission.db")
}

// EnsureDir creates a directory if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}
