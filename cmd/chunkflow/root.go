package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "chunkflow",
	Short: "Task orchestration engine",
	Long: `Chunkflow decomposes tasks into dependency-ordered chunks and runs
them across a pool of workers.

Chunks are routed by an orchestration pattern (master-slave, peer-to-peer,
pipeline, or scatter-gather) and a load balancer, executed with retries,
circuit breaking and bulkhead isolation, and their results merged into a
single task outcome.

Core capabilities:
- Decomposes tasks into a chunk dependency graph
- Routes chunks to workers by pattern and load balancer
- Retries transient failures, trips breakers on failing workers
- Aggregates partial results under a failure threshold`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(workersCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
