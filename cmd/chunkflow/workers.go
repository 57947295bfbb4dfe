package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chunkflow/chunkflow/internal/config"
	"github.com/chunkflow/chunkflow/internal/worker"
)

var workersRegistry string

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "List workers from the registry",
	Long: `List the workers defined in the registry YAML file.

Shows each worker's capacity, priority, capability tags, and whether it
is backed by a command invoker.`,
	RunE: runWorkers,
}

func init() {
	workersCmd.Flags().StringVar(&workersRegistry, "workers", "", "Path to the worker registry YAML file")
}

func runWorkers(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	registryPath := workersRegistry
	if registryPath == "" {
		registryPath = cfg.Workers.Registry
	}
	if registryPath == "" {
		return fmt.Errorf("no worker registry configured; pass --workers or set workers.registry in %s", config.GetUserConfigPath())
	}

	workers, err := worker.LoadWorkers(registryPath)
	if err != nil {
		return err
	}

	fmt.Printf("%d workers in %s\n\n", len(workers), registryPath)
	for _, w := range workers {
		caps := "(any)"
		if len(w.Capabilities) > 0 {
			caps = strings.Join(w.Capabilities, ", ")
		}
		invoker := "none"
		if w.Command != "" {
			invoker = w.Command
		}
		fmt.Printf("  %-16s capacity=%d priority=%d\n", w.ID, w.Capacity, w.Priority)
		fmt.Printf("    capabilities: %s\n", caps)
		fmt.Printf("    command: %s\n", invoker)
	}
	return nil
}
