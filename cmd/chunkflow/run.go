package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/chunkflow/chunkflow/internal/config"
	"github.com/chunkflow/chunkflow/internal/event"
	"github.com/chunkflow/chunkflow/internal/orchestrator"
	"github.com/chunkflow/chunkflow/internal/state"
	"github.com/chunkflow/chunkflow/internal/tui"
	"github.com/chunkflow/chunkflow/internal/worker"
	"github.com/chunkflow/chunkflow/pkg/models"
)

var (
	runPattern   string
	runStrategy  string
	runBalancer  string
	runRegistry  string
	runThreshold float64
	runPriority  int
	runHeadless  bool
	runNoState   bool
)

// timeRound keeps printed durations readable.
const timeRound = 10 * time.Millisecond

var runCmd = &cobra.Command{
	Use:   "run <task>",
	Short: "Run a task across the worker pool",
	Long: `Decompose a task into chunks and run them across the worker pool.

The task description is split by the configured decomposition strategy,
chunks are routed by the orchestration pattern and load balancer, and
results are merged into a single outcome.

Patterns (--pattern):
  - master-slave:   elected master routes chunks to slave workers
  - peer-to-peer:   peers resolve contention by priority, auction or voting
  - pipeline:       stage-ordered flow with bounded in-flight chunks
  - scatter-gather: fan out independent chunks, gather under a threshold

Strategies (--strategy):
  - split:          independent chunks from sentence boundaries
  - pipeline:       sequential chunks, each depending on the previous
  - scatter-gather: independent chunks plus a final gather chunk

Workers come from a registry YAML file (--workers or workers.registry in
the config). Use --threshold to allow a fraction of chunks to fail while
still producing a partially-completed outcome.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTask,
}

func init() {
	runCmd.Flags().StringVar(&runPattern, "pattern", "", "Orchestration pattern: master-slave, peer-to-peer, pipeline, or scatter-gather")
	runCmd.Flags().StringVar(&runStrategy, "strategy", "", "Decomposition strategy: split, pipeline, or scatter-gather")
	runCmd.Flags().StringVar(&runBalancer, "balancer", "", "Load balancer: round-robin, least-connections, weighted, or capability")
	runCmd.Flags().StringVar(&runRegistry, "workers", "", "Path to the worker registry YAML file")
	runCmd.Flags().Float64Var(&runThreshold, "threshold", -1, "Fraction of chunks (0..1) allowed to fail")
	runCmd.Flags().IntVar(&runPriority, "priority", 0, "Task priority (higher runs first)")
	runCmd.Flags().BoolVar(&runHeadless, "headless", false, "Run without the dashboard, streaming events to stdout")
	runCmd.Flags().BoolVar(&runNoState, "no-state", false, "Skip persisting tasks and outcomes to the database")
}

func runTask(cmd *cobra.Command, args []string) error {
	description := args[0]

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	registryPath := runRegistry
	if registryPath == "" {
		registryPath = cfg.Workers.Registry
	}
	if registryPath == "" {
		return fmt.Errorf("no worker registry configured; pass --workers or set workers.registry in %s", config.GetUserConfigPath())
	}

	pool := worker.NewPool()
	registry, err := worker.NewRegistry(registryPath, pool, worker.CommandInvokerFactory)
	if err != nil {
		return fmt.Errorf("load worker registry: %w", err)
	}
	if cfg.Workers.Watch {
		if err := registry.Watch(); err != nil {
			return fmt.Errorf("watch worker registry: %w", err)
		}
	}
	defer registry.Close()

	var store *state.DB
	if cfg.State.Enabled && !runNoState {
		store, err = openStore(cfg)
		if err != nil {
			return fmt.Errorf("open state database: %w", err)
		}
		defer store.Close()
	}

	o, err := orchestrator.New(cfg.Orchestrator(), pool, store)
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer o.Stop()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	req := orchestrator.SubmitRequest{
		Description: description,
		Pattern:     runPattern,
		Strategy:    runStrategy,
		Balancer:    runBalancer,
		Priority:    runPriority,
	}
	if runThreshold >= 0 {
		req.FailureThreshold = runThreshold
	}

	taskID, err := o.Submit(ctx, req)
	if err != nil {
		return err
	}

	if !runHeadless {
		if err := tui.Run(o, pool, taskID, cfg.TUI.RefreshRate); err != nil {
			return fmt.Errorf("dashboard: %w", err)
		}
	} else {
		streamEvents(o, taskID)
	}

	outcome, ok := o.Result(taskID)
	if !ok || outcome == nil {
		// The dashboard can be quit before the task finishes; wait it out.
		ch, ok := o.Outcome(taskID)
		if !ok {
			return fmt.Errorf("task %s disappeared", taskID)
		}
		select {
		case outcome = <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	printOutcome(outcome)
	if outcome.Status == models.TaskStatusFailed {
		os.Exit(1)
	}
	return nil
}

// streamEvents prints engine events for one task until it completes.
func streamEvents(o *orchestrator.Orchestrator, taskID string) {
	for ev := range o.Events() {
		if ev.TaskID != "" && ev.TaskID != taskID {
			continue
		}
		switch ev.Type {
		case event.TypeTaskDecomposed:
			fmt.Printf("task %s decomposed: %s\n", ev.TaskID, ev.Message)
		case event.TypeChunkAssigned:
			fmt.Printf("chunk %s assigned to %s\n", ev.ChunkID, ev.WorkerID)
		case event.TypeChunkSucceeded:
			color.Green("chunk %s succeeded on %s", ev.ChunkID, ev.WorkerID)
		case event.TypeChunkFailed:
			color.Red("chunk %s failed on %s: %v", ev.ChunkID, ev.WorkerID, ev.Err)
		case event.TypeChunkRetrying:
			color.Yellow("chunk %s retrying (attempt %d): %v", ev.ChunkID, ev.Attempt, ev.Err)
		case event.TypeBreakerTransition:
			color.Yellow("breaker on %s: %s", ev.WorkerID, ev.Message)
		case event.TypeTaskCompleted:
			return
		}
	}
}

// printOutcome renders the terminal outcome for the user.
func printOutcome(outcome *models.TaskOutcome) {
	fmt.Println()
	switch outcome.Status {
	case models.TaskStatusCompleted:
		color.Green("Task %s completed in %s (%d chunks)", outcome.TaskID, outcome.Duration.Round(timeRound), outcome.Succeeded)
	case models.TaskStatusPartial:
		color.Yellow("Task %s partially completed in %s (%d succeeded, %d failed)",
			outcome.TaskID, outcome.Duration.Round(timeRound), outcome.Succeeded, len(outcome.Failed))
	default:
		color.Red("Task %s failed in %s (%d succeeded, %d failed)",
			outcome.TaskID, outcome.Duration.Round(timeRound), outcome.Succeeded, len(outcome.Failed))
	}

	for _, f := range outcome.Failed {
		if f.ChunkID == "" {
			color.Red("  %s", f.Error)
			continue
		}
		color.Red("  chunk %s failed after %d attempts: %s", f.ChunkID, f.Attempts, f.Error)
	}

	if outcome.Result != "" {
		fmt.Println()
		fmt.Println(outcome.Result)
	}
}

// openStore opens the configured state database and runs migrations.
func openStore(cfg *config.Config) (*state.DB, error) {
	var db *state.DB
	var err error
	if cfg.State.Path != "" {
		db, err = state.Open(cfg.State.Path)
	} else {
		db, err = state.OpenDefault()
	}
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
