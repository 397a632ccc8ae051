// Package config handles configuration loading for conductor.
// It supports XDG config paths, project-level overrides, and environment
// variables, with hot reload of priority weights while the engine runs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/ShayCichocki/conductor/internal/breaker"
	"github.com/ShayCichocki/conductor/internal/priority"
	"github.com/ShayCichocki/conductor/internal/retry"
	"github.com/ShayCichocki/conductor/pkg/models"
)

// Config holds all configuration for conductor.
type Config struct {
	Engine   EngineConfig             `mapstructure:"engine"`
	Retry    retry.Policy             `mapstructure:"retry"`
	Breaker  breaker.Config           `mapstructure:"breaker"`
	Priority priority.Weights         `mapstructure:"priority"`
	Handlers map[string]HandlerConfig `mapstructure:"handlers"`
	DBPath   string                   `mapstructure:"db_path"`
	LogPath  string                   `mapstructure:"log_path"`
}

// EngineConfig holds the orchestrator loop settings.
type EngineConfig struct {
	// Concurrency bounds in-flight executions.
	Concurrency int `mapstructure:"concurrency"`
	// TickInterval is the control loop period.
	TickInterval time.Duration `mapstructure:"tick_interval"`
	// ExecTimeout is the per-attempt execution timeout.
	ExecTimeout time.Duration `mapstructure:"exec_timeout"`
	// StuckMultiple times ExecTimeout without a heartbeat marks a running
	// task as stuck.
	StuckMultiple float64 `mapstructure:"stuck_multiple"`
	// CancelGrace is how long a canceled running task gets to shut down
	// cooperatively before its slot is abandoned.
	CancelGrace time.Duration `mapstructure:"cancel_grace"`
	// DefaultMaxRetries is the retry budget applied when a submission
	// doesn't declare one.
	DefaultMaxRetries int `mapstructure:"default_max_retries"`
	// PurgeAfter is the terminal-task retention window.
	PurgeAfter time.Duration `mapstructure:"purge_after"`
}

// HandlerConfig describes one registered execution target.
type HandlerConfig struct {
	// Command is the shell command the target runs.
	Command string `mapstructure:"command"`
	// WorkDir is the working directory, if non-empty.
	WorkDir string `mapstructure:"work_dir"`
	// RetryableExitCodes narrows which exit codes count as transient.
	RetryableExitCodes []int `mapstructure:"retryable_exit_codes"`
}

// ConfigDir returns the XDG config directory for conductor.
func ConfigDir() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "conductor")
}

// ProjectConfigPath returns the project-local config file path.
func ProjectConfigPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".conductor", "config.yaml")
}

// setDefaults registers every default with viper before reading.
func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.concurrency", 4)
	v.SetDefault("engine.tick_interval", time.Second)
	v.SetDefault("engine.exec_timeout", 10*time.Minute)
	v.SetDefault("engine.stuck_multiple", 3.0)
	v.SetDefault("engine.cancel_grace", 10*time.Second)
	v.SetDefault("engine.default_max_retries", 3)
	v.SetDefault("engine.purge_after", 7*24*time.Hour)

	p := retry.DefaultPolicy()
	v.SetDefault("retry.initial_delay", p.InitialDelay)
	v.SetDefault("retry.max_delay", p.MaxDelay)
	v.SetDefault("retry.multiplier", p.Multiplier)
	v.SetDefault("retry.jitter", p.Jitter)

	b := breaker.DefaultConfig()
	v.SetDefault("breaker.failure_threshold", b.FailureThreshold)
	v.SetDefault("breaker.window", b.Window)
	v.SetDefault("breaker.reset_timeout", b.ResetTimeout)

	w := priority.DefaultWeights()
	v.SetDefault("priority.base", w.Base)
	v.SetDefault("priority.urgency", w.Urgency)
	v.SetDefault("priority.dependents", w.Dependents)
	v.SetDefault("priority.starvation", w.Starvation)
	v.SetDefault("priority.starvation_cap", w.StarvationCap)
	v.SetDefault("priority.urgency_horizon", w.UrgencyHorizon)
	v.SetDefault("priority.source_boost", map[string]float64{
		string(models.SourceHuman):     w.SourceBoost[models.SourceHuman],
		string(models.SourceScheduler): w.SourceBoost[models.SourceScheduler],
		string(models.SourceAgent):     w.SourceBoost[models.SourceAgent],
		string(models.SourceFollowup):  w.SourceBoost[models.SourceFollowup],
	})

	v.SetDefault("handlers", map[string]HandlerConfig{})
	v.SetDefault("db_path", "")
	v.SetDefault("log_path", "")
}

// newViper builds a viper instance wired to the conductor config lookup
// order: project-local file, then XDG path, then environment variables.
func newViper(projectRoot string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if projectRoot != "" {
		v.AddConfigPath(filepath.Join(projectRoot, ".conductor"))
	}
	v.AddConfigPath(ConfigDir())

	v.SetEnvPrefix("CONDUCTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v
}

// Load reads configuration for the given project root. A missing config
// file is not an error: defaults plus environment apply.
func Load(projectRoot string) (*Config, error) {
	v := newViper(projectRoot)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch reloads the config on file change and invokes onChange with the
// fresh value. Invalid edits are reported through onError and the previous
// config stays in effect.
func Watch(projectRoot string, onChange func(*Config), onError func(error)) (*viper.Viper, error) {
	v := newViper(projectRoot)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Nothing to watch without a file.
		return v, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			onError(fmt.Errorf("reload %s: %w", e.Name, err))
			return
		}
		if err := cfg.Validate(); err != nil {
			onError(fmt.Errorf("reload %s: %w", e.Name, err))
			return
		}
		onChange(&cfg)
	})
	v.WatchConfig()
	return v, nil
}

// Validate rejects malformed configuration.
func (c *Config) Validate() error {
	if c.Engine.Concurrency < 1 {
		return fmt.Errorf("engine.concurrency must be at least 1, got %d", c.Engine.Concurrency)
	}
	if c.Engine.TickInterval <= 0 {
		return fmt.Errorf("engine.tick_interval must be positive, got %s", c.Engine.TickInterval)
	}
	if c.Engine.ExecTimeout <= 0 {
		return fmt.Errorf("engine.exec_timeout must be positive, got %s", c.Engine.ExecTimeout)
	}
	if c.Engine.StuckMultiple < 1 {
		return fmt.Errorf("engine.stuck_multiple must be at least 1, got %f", c.Engine.StuckMultiple)
	}
	if c.Engine.DefaultMaxRetries < 0 {
		return fmt.Errorf("engine.default_max_retries must not be negative, got %d", c.Engine.DefaultMaxRetries)
	}
	if c.Priority.Base < 0 || c.Priority.Urgency < 0 || c.Priority.Dependents < 0 ||
		c.Priority.Starvation < 0 || c.Priority.StarvationCap < 0 {
		return fmt.Errorf("priority weights must not be negative")
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter >= 1 {
		return fmt.Errorf("retry.jitter must be in [0, 1), got %f", c.Retry.Jitter)
	}
	return nil
}

// ResolveDBPath picks the database path: explicit config wins, then the
// project-local database, then the global one.
func (c *Config) ResolveDBPath(projectRoot string) string {
	if c.DBPath != "" {
		return c.DBPath
	}
	if projectRoot != "" {
		return ProjectDBPathFor(projectRoot)
	}
	return ""
}

// ProjectDBPathFor mirrors state.ProjectDBPath without importing it, to
// keep config free of the persistence layer.
func ProjectDBPathFor(projectRoot string) string {
	return filepath.Join(projectRoot, ".conductor", "queue.db")
}
