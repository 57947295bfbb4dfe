// Package config handles configuration loading for the engine.
// It supports XDG config paths, project-level overrides, and environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/chunkflow/chunkflow/internal/breaker"
	"github.com/chunkflow/chunkflow/internal/orchestrator"
	"github.com/chunkflow/chunkflow/internal/pattern"
	"github.com/chunkflow/chunkflow/internal/retry"
)

// Config holds all engine configuration.
type Config struct {
	Engine   EngineConfig   `mapstructure:"engine"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Breaker  BreakerConfig  `mapstructure:"breaker"`
	Patterns PatternsConfig `mapstructure:"patterns"`
	Bulkhead BulkheadConfig `mapstructure:"bulkhead"`
	Workers  WorkersConfig  `mapstructure:"workers"`
	State    StateConfig    `mapstructure:"state"`
	TUI      TUIConfig      `mapstructure:"tui"`
}

// EngineConfig holds the top-level orchestration defaults.
type EngineConfig struct {
	// Pattern is the default orchestration pattern.
	Pattern string `mapstructure:"pattern"`
	// Balancer is the default load-balancing algorithm.
	Balancer string `mapstructure:"balancer"`
	// Strategy is the default decomposition strategy.
	Strategy string `mapstructure:"strategy"`
	// Merge is the merge function for result aggregation.
	Merge string `mapstructure:"merge"`
	// MaxChunkSize caps per-chunk effort at decomposition.
	MaxChunkSize int `mapstructure:"max_chunk_size"`
	// FailureThreshold is the default fraction of chunks allowed to fail.
	FailureThreshold float64 `mapstructure:"failure_threshold"`
	// MaxPasses bounds scheduling passes before an unplaceable chunk fails.
	MaxPasses int `mapstructure:"max_passes"`
	// ChunkTimeout bounds one chunk invocation attempt.
	ChunkTimeout time.Duration `mapstructure:"chunk_timeout"`
	// PollInterval is the idle pause between empty scheduling passes.
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// RetryConfig holds retry policy settings.
type RetryConfig struct {
	Policy          string        `mapstructure:"policy"`
	MaxRetries      int           `mapstructure:"max_retries"`
	InitialDelay    time.Duration `mapstructure:"initial_delay"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxDelay        time.Duration `mapstructure:"max_delay"`
	Increment       time.Duration `mapstructure:"increment"`
	Jitter          bool          `mapstructure:"jitter"`
	ImmediateBudget int           `mapstructure:"immediate_budget"`
}

// BreakerConfig holds circuit breaker thresholds.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	RecoveryTimeout  time.Duration `mapstructure:"recovery_timeout"`
	HalfOpenTrials   int           `mapstructure:"half_open_trials"`
}

// PatternsConfig holds pattern-specific settings.
type PatternsConfig struct {
	// DetectionTimeout is the master failure detection window (master-slave).
	DetectionTimeout time.Duration `mapstructure:"detection_timeout"`
	// Resolution is the peer-to-peer conflict resolution strategy.
	Resolution string `mapstructure:"resolution"`
	// VoteTimeout bounds peer voting (peer-to-peer).
	VoteTimeout time.Duration `mapstructure:"vote_timeout"`
	// StageBuffer caps in-flight chunks per pipeline stage.
	StageBuffer int `mapstructure:"stage_buffer"`
	// GatherTimeout bounds straggler waits (scatter-gather).
	GatherTimeout time.Duration `mapstructure:"gather_timeout"`
}

// BulkheadConfig holds execution slot partitioning.
type BulkheadConfig struct {
	// DefaultSize is the slot budget for unlisted capability classes.
	DefaultSize int `mapstructure:"default_size"`
	// Sizes maps capability classes to explicit slot budgets.
	Sizes map[string]int `mapstructure:"sizes"`
}

// WorkersConfig holds worker registry settings.
type WorkersConfig struct {
	// Registry is the path to the worker registry YAML file.
	Registry string `mapstructure:"registry"`
	// Watch reloads the registry on file changes.
	Watch bool `mapstructure:"watch"`
}

// StateConfig holds persistence settings.
type StateConfig struct {
	// Enabled toggles SQLite persistence.
	Enabled bool `mapstructure:"enabled"`
	// Path overrides the default database location.
	Path string `mapstructure:"path"`
}

// TUIConfig holds dashboard display settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// Load loads configuration with the following precedence (highest first):
// environment variables (CHUNKFLOW_*), project config (.chunkflow.yaml in
// the current directory or a parent), user config
// (~/.config/chunkflow/config.yaml), built-in defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("CHUNKFLOW")
	v.AutomaticEnv()
	v.BindEnv("engine.pattern", "CHUNKFLOW_PATTERN")
	v.BindEnv("engine.balancer", "CHUNKFLOW_BALANCER")
	v.BindEnv("engine.strategy", "CHUNKFLOW_STRATEGY")
	v.BindEnv("workers.registry", "CHUNKFLOW_WORKERS")
	v.BindEnv("state.path", "CHUNKFLOW_DB")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(filepath.Join(userConfigDir, "config.yaml"))

	v.Set("engine.pattern", cfg.Engine.Pattern)
	v.Set("engine.balancer", cfg.Engine.Balancer)
	v.Set("engine.strategy", cfg.Engine.Strategy)
	v.Set("engine.merge", cfg.Engine.Merge)
	v.Set("engine.max_chunk_size", cfg.Engine.MaxChunkSize)
	v.Set("engine.failure_threshold", cfg.Engine.FailureThreshold)
	v.Set("engine.max_passes", cfg.Engine.MaxPasses)
	v.Set("engine.chunk_timeout", cfg.Engine.ChunkTimeout.String())
	v.Set("engine.poll_interval", cfg.Engine.PollInterval.String())
	v.Set("retry.policy", cfg.Retry.Policy)
	v.Set("retry.max_retries", cfg.Retry.MaxRetries)
	v.Set("retry.initial_delay", cfg.Retry.InitialDelay.String())
	v.Set("retry.multiplier", cfg.Retry.Multiplier)
	v.Set("retry.max_delay", cfg.Retry.MaxDelay.String())
	v.Set("breaker.failure_threshold", cfg.Breaker.FailureThreshold)
	v.Set("breaker.success_threshold", cfg.Breaker.SuccessThreshold)
	v.Set("breaker.recovery_timeout", cfg.Breaker.RecoveryTimeout.String())
	v.Set("breaker.half_open_trials", cfg.Breaker.HalfOpenTrials)
	v.Set("patterns.detection_timeout", cfg.Patterns.DetectionTimeout.String())
	v.Set("patterns.resolution", cfg.Patterns.Resolution)
	v.Set("patterns.vote_timeout", cfg.Patterns.VoteTimeout.String())
	v.Set("patterns.stage_buffer", cfg.Patterns.StageBuffer)
	v.Set("patterns.gather_timeout", cfg.Patterns.GatherTimeout.String())
	v.Set("bulkhead.default_size", cfg.Bulkhead.DefaultSize)
	v.Set("workers.registry", cfg.Workers.Registry)
	v.Set("workers.watch", cfg.Workers.Watch)
	v.Set("state.enabled", cfg.State.Enabled)
	v.Set("state.path", cfg.State.Path)
	v.Set("tui.refresh_rate", cfg.TUI.RefreshRate.String())

	return v.WriteConfig()
}

// Orchestrator converts the loaded configuration into engine settings.
func (c *Config) Orchestrator() orchestrator.Config {
	return orchestrator.Config{
		Pattern:          c.Engine.Pattern,
		Balancer:         c.Engine.Balancer,
		Strategy:         c.Engine.Strategy,
		Merge:            c.Engine.Merge,
		MaxChunkSize:     c.Engine.MaxChunkSize,
		FailureThreshold: c.Engine.FailureThreshold,
		MaxPasses:        c.Engine.MaxPasses,
		ChunkTimeout:     c.Engine.ChunkTimeout,
		PollInterval:     c.Engine.PollInterval,
		Retry: retry.Config{
			Policy:          c.Retry.Policy,
			MaxRetries:      c.Retry.MaxRetries,
			InitialDelay:    c.Retry.InitialDelay,
			Multiplier:      c.Retry.Multiplier,
			MaxDelay:        c.Retry.MaxDelay,
			Increment:       c.Retry.Increment,
			Jitter:          c.Retry.Jitter,
			ImmediateBudget: c.Retry.ImmediateBudget,
		},
		Breaker: breaker.Config{
			FailureThreshold: c.Breaker.FailureThreshold,
			SuccessThreshold: c.Breaker.SuccessThreshold,
			RecoveryTimeout:  c.Breaker.RecoveryTimeout,
			HalfOpenTrials:   c.Breaker.HalfOpenTrials,
		},
		Patterns: pattern.Config{
			DetectionTimeout: c.Patterns.DetectionTimeout,
			Resolution:       c.Patterns.Resolution,
			VoteTimeout:      c.Patterns.VoteTimeout,
			StageBuffer:      c.Patterns.StageBuffer,
			FailureThreshold: c.Engine.FailureThreshold,
			GatherTimeout:    c.Patterns.GatherTimeout,
		},
		BulkheadSizes:   c.Bulkhead.Sizes,
		BulkheadDefault: c.Bulkhead.DefaultSize,
	}
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the project config file path if one exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.pattern", "scatter-gather")
	v.SetDefault("engine.balancer", "round-robin")
	v.SetDefault("engine.strategy", "split")
	v.SetDefault("engine.merge", "concat")
	v.SetDefault("engine.max_chunk_size", 50)
	v.SetDefault("engine.failure_threshold", 0.0)
	v.SetDefault("engine.max_passes", 10)
	v.SetDefault("engine.chunk_timeout", "5m")
	v.SetDefault("engine.poll_interval", "250ms")

	v.SetDefault("retry.policy", "exponential")
	v.SetDefault("retry.max_retries", 5)
	v.SetDefault("retry.initial_delay", "1s")
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.max_delay", "60s")
	v.SetDefault("retry.increment", "1s")
	v.SetDefault("retry.jitter", false)
	v.SetDefault("retry.immediate_budget", 2)

	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.success_threshold", 2)
	v.SetDefault("breaker.recovery_timeout", "30s")
	v.SetDefault("breaker.half_open_trials", 1)

	v.SetDefault("patterns.detection_timeout", "30s")
	v.SetDefault("patterns.resolution", "priority")
	v.SetDefault("patterns.vote_timeout", "5s")
	v.SetDefault("patterns.stage_buffer", 2)
	v.SetDefault("patterns.gather_timeout", "60s")

	v.SetDefault("bulkhead.default_size", 8)

	v.SetDefault("workers.registry", "")
	v.SetDefault("workers.watch", true)

	v.SetDefault("state.enabled", true)
	v.SetDefault("state.path", "")

	v.SetDefault("tui.refresh_rate", "100ms")
}

// getUserConfigDir returns the XDG config directory for the engine.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "chunkflow")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "chunkflow")
	}
	return filepath.Join(home, ".config", "chunkflow")
}

// findProjectConfig searches for .chunkflow.yaml in the current directory
// and its parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		candidate := filepath.Join(dir, ".chunkflow.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
