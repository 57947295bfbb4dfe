package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/chunkflow/chunkflow/internal/config"
	"github.com/chunkflow/chunkflow/internal/state"
	"github.com/chunkflow/chunkflow/pkg/models"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status [task-id]",
	Short: "Show recent tasks and outcomes",
	Long: `Display recent tasks from the state database.

Without arguments, lists the most recent tasks with their status.
With a task ID, shows the full outcome including per-chunk failures
and the merged result.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "Maximum number of tasks to list")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	dbPath := cfg.State.Path
	if dbPath == "" {
		dbPath = state.DefaultDBPath()
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No tasks recorded yet. Run 'chunkflow run <task>' to start.")
		return nil
	}

	db, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	if len(args) == 1 {
		return showTask(db, args[0])
	}
	return listTasks(db)
}

func listTasks(db *state.DB) error {
	tasks, err := db.ListTasks()
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks recorded yet. Run 'chunkflow run <task>' to start.")
		return nil
	}

	if len(tasks) > statusLimit {
		tasks = tasks[:statusLimit]
	}

	fmt.Println("Recent tasks:")
	for _, t := range tasks {
		age := formatDuration(time.Since(t.CreatedAt))
		fmt.Printf("  %s  %-21s %s ago  %q\n", t.ID, statusLabel(t.Status), age, truncate(t.Description, 48))
	}
	return nil
}

func showTask(db *state.DB, taskID string) error {
	task, err := db.GetTask(taskID)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}
	if task == nil {
		return fmt.Errorf("no task %s", taskID)
	}

	fmt.Printf("Task %s: %s\n", task.ID, task.Description)
	fmt.Printf("  Status:   %s\n", statusLabel(task.Status))
	fmt.Printf("  Pattern:  %s (strategy %s)\n", task.Pattern, task.Strategy)
	fmt.Printf("  Created:  %s ago\n", formatDuration(time.Since(task.CreatedAt)))
	if task.CompletedAt != nil {
		fmt.Printf("  Finished: %s ago\n", formatDuration(time.Since(*task.CompletedAt)))
	}

	chunks, err := db.ChunksForTask(taskID)
	if err != nil {
		return fmt.Errorf("list chunks: %w", err)
	}
	if len(chunks) > 0 {
		fmt.Printf("  Chunks:   %d\n", len(chunks))
		for _, c := range chunks {
			line := fmt.Sprintf("    %s  %-10s %q", c.ID, c.Status, truncate(c.Description, 40))
			if c.Error != "" {
				line += "  error: " + c.Error
			}
			fmt.Println(line)
		}
	}

	outcome, err := db.GetOutcome(taskID)
	if err != nil {
		return fmt.Errorf("get outcome: %w", err)
	}
	if outcome == nil {
		return nil
	}

	fmt.Printf("  Outcome:  %d succeeded, %d failed in %s\n",
		outcome.Succeeded, len(outcome.Failed), outcome.Duration.Round(timeRound))
	for _, f := range outcome.Failed {
		fmt.Printf("    failed %s after %d attempts: %s\n", f.ChunkID, f.Attempts, f.Error)
	}
	if outcome.Result != "" {
		fmt.Println()
		fmt.Println(outcome.Result)
	}
	return nil
}

func statusLabel(s models.TaskStatus) string {
	switch s {
	case models.TaskStatusCompleted:
		return color.GreenString(string(s))
	case models.TaskStatusPartial:
		return color.YellowString(string(s))
	case models.TaskStatusFailed:
		return color.RedString(string(s))
	default:
		return string(s)
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dd", int(d.Hours())/24)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
