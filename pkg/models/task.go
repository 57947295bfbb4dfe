// Package models defines the shared data types for the orchestration engine.
package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has been submitted but not decomposed.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusDecomposed indicates the task has been split into chunks.
	TaskStatusDecomposed TaskStatus = "decomposed"
	// TaskStatusScheduled indicates at least one chunk has been assigned.
	TaskStatusScheduled TaskStatus = "scheduled"
	// TaskStatusRunning indicates chunks are executing.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusCompleted indicates every chunk succeeded.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusPartial indicates enough chunks succeeded to satisfy the
	// task's failure-threshold policy, but some failed.
	TaskStatusPartial TaskStatus = "partially-completed"
	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusDecomposed, TaskStatusScheduled,
		TaskStatusRunning, TaskStatusCompleted, TaskStatusPartial, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is a terminal state.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusPartial, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// Task is the unit of work submitted by a client. It is owned exclusively
// by the orchestrator for its lifetime.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Description is the free-text description of the work.
	Description string `json:"description"`
	// Complexity is the derived effort estimate for the whole task.
	Complexity int `json:"complexity"`
	// Priority orders tasks relative to each other (higher runs first).
	Priority int `json:"priority,omitempty"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// Pattern is the orchestration pattern selected at submission.
	// Pattern selection is fixed for the task's lifetime.
	Pattern string `json:"pattern"`
	// Strategy is the chunking strategy selected at submission.
	Strategy string `json:"strategy"`
	// FailureThreshold is the fraction of chunks (0..1) that may fail while
	// still allowing a partially-completed outcome. Zero means all chunks
	// must succeed.
	FailureThreshold float64 `json:"failure_threshold,omitempty"`
	// CreatedAt is when the task was submitted.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the task reached a terminal status, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TaskOutcome is the terminal result delivered to the caller. It always
// carries status, merged results, and per-chunk failure detail - never a
// bare error without context.
type TaskOutcome struct {
	// TaskID is the task this outcome belongs to.
	TaskID string `json:"task_id"`
	// Status is the terminal task status.
	Status TaskStatus `json:"status"`
	// Result is the merged payload from succeeded chunks.
	Result string `json:"result,omitempty"`
	// Succeeded is the number of chunks that succeeded.
	Succeeded int `json:"succeeded"`
	// Failed lists the chunks that failed with their highest-severity error.
	Failed []ChunkFailure `json:"failed,omitempty"`
	// Duration is the wall-clock time from submission to terminal status.
	Duration time.Duration `json:"duration"`
}

// ChunkFailure describes a failed chunk in a task outcome.
type ChunkFailure struct {
	// ChunkID is the identifier of the failed chunk.
	ChunkID string `json:"chunk_id"`
	// Error is the highest-severity error recorded for the chunk.
	Error string `json:"error"`
	// Attempts is the number of execution attempts made.
	Attempts int `json:"attempts"`
}
