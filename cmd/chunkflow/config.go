package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/chunkflow/chunkflow/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify engine configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/chunkflow/config.yaml
Project-specific overrides can be placed in .chunkflow.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	fmt.Printf("engine.pattern: %s\n", cfg.Engine.Pattern)
	fmt.Printf("engine.balancer: %s\n", cfg.Engine.Balancer)
	fmt.Printf("engine.strategy: %s\n", cfg.Engine.Strategy)
	fmt.Printf("engine.merge: %s\n", cfg.Engine.Merge)
	fmt.Printf("engine.max_chunk_size: %d\n", cfg.Engine.MaxChunkSize)
	fmt.Printf("engine.failure_threshold: %g\n", cfg.Engine.FailureThreshold)
	fmt.Printf("engine.chunk_timeout: %s\n", cfg.Engine.ChunkTimeout)
	fmt.Printf("retry.policy: %s\n", cfg.Retry.Policy)
	fmt.Printf("retry.max_retries: %d\n", cfg.Retry.MaxRetries)
	fmt.Printf("retry.initial_delay: %s\n", cfg.Retry.InitialDelay)
	fmt.Printf("breaker.failure_threshold: %d\n", cfg.Breaker.FailureThreshold)
	fmt.Printf("breaker.recovery_timeout: %s\n", cfg.Breaker.RecoveryTimeout)
	fmt.Printf("patterns.resolution: %s\n", cfg.Patterns.Resolution)
	fmt.Printf("patterns.stage_buffer: %d\n", cfg.Patterns.StageBuffer)
	fmt.Printf("patterns.gather_timeout: %s\n", cfg.Patterns.GatherTimeout)
	fmt.Printf("bulkhead.default_size: %d\n", cfg.Bulkhead.DefaultSize)
	fmt.Printf("workers.registry: %s\n", cfg.Workers.Registry)
	fmt.Printf("state.enabled: %t\n", cfg.State.Enabled)
	fmt.Printf("tui.refresh_rate: %s\n", cfg.TUI.RefreshRate)
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(value)
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) {
	if err := setConfigValue(cfg, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Set %s = %s\n", key, value)
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "engine.pattern":
		return cfg.Engine.Pattern, nil
	case "engine.balancer":
		return cfg.Engine.Balancer, nil
	case "engine.strategy":
		return cfg.Engine.Strategy, nil
	case "engine.merge":
		return cfg.Engine.Merge, nil
	case "engine.max_chunk_size":
		return strconv.Itoa(cfg.Engine.MaxChunkSize), nil
	case "engine.failure_threshold":
		return strconv.FormatFloat(cfg.Engine.FailureThreshold, 'g', -1, 64), nil
	case "engine.chunk_timeout":
		return cfg.Engine.ChunkTimeout.String(), nil
	case "retry.policy":
		return cfg.Retry.Policy, nil
	case "retry.max_retries":
		return strconv.Itoa(cfg.Retry.MaxRetries), nil
	case "retry.initial_delay":
		return cfg.Retry.InitialDelay.String(), nil
	case "breaker.failure_threshold":
		return strconv.Itoa(cfg.Breaker.FailureThreshold), nil
	case "breaker.recovery_timeout":
		return cfg.Breaker.RecoveryTimeout.String(), nil
	case "patterns.resolution":
		return cfg.Patterns.Resolution, nil
	case "patterns.stage_buffer":
		return strconv.Itoa(cfg.Patterns.StageBuffer), nil
	case "patterns.gather_timeout":
		return cfg.Patterns.GatherTimeout.String(), nil
	case "bulkhead.default_size":
		return strconv.Itoa(cfg.Bulkhead.DefaultSize), nil
	case "workers.registry":
		return cfg.Workers.Registry, nil
	case "state.enabled":
		return strconv.FormatBool(cfg.State.Enabled), nil
	case "tui.refresh_rate":
		return cfg.TUI.RefreshRate.String(), nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	switch strings.ToLower(key) {
	case "engine.pattern":
		cfg.Engine.Pattern = value
	case "engine.balancer":
		cfg.Engine.Balancer = value
	case "engine.strategy":
		cfg.Engine.Strategy = value
	case "engine.merge":
		cfg.Engine.Merge = value
	case "engine.max_chunk_size":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for max_chunk_size: %w", err)
		}
		cfg.Engine.MaxChunkSize = n
	case "engine.failure_threshold":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid value for failure_threshold: %w", err)
		}
		cfg.Engine.FailureThreshold = f
	case "engine.chunk_timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for chunk_timeout: %w", err)
		}
		cfg.Engine.ChunkTimeout = d
	case "retry.policy":
		cfg.Retry.Policy = value
	case "retry.max_retries":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for max_retries: %w", err)
		}
		cfg.Retry.MaxRetries = n
	case "retry.initial_delay":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for initial_delay: %w", err)
		}
		cfg.Retry.InitialDelay = d
	case "breaker.failure_threshold":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for breaker.failure_threshold: %w", err)
		}
		cfg.Breaker.FailureThreshold = n
	case "breaker.recovery_timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for recovery_timeout: %w", err)
		}
		cfg.Breaker.RecoveryTimeout = d
	case "patterns.resolution":
		cfg.Patterns.Resolution = value
	case "patterns.stage_buffer":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for stage_buffer: %w", err)
		}
		cfg.Patterns.StageBuffer = n
	case "patterns.gather_timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for gather_timeout: %w", err)
		}
		cfg.Patterns.GatherTimeout = d
	case "bulkhead.default_size":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for default_size: %w", err)
		}
		cfg.Bulkhead.DefaultSize = n
	case "workers.registry":
		cfg.Workers.Registry = value
	case "state.enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for state.enabled: %w", err)
		}
		cfg.State.Enabled = b
	case "tui.refresh_rate":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for refresh_rate: %w", err)
		}
		cfg.TUI.RefreshRate = d
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}
