package models

import "time"

// ChunkStatus represents the current state of a chunk.
type ChunkStatus string

const (
	// ChunkStatusUnassigned indicates the chunk has no worker yet.
	ChunkStatusUnassigned ChunkStatus = "unassigned"
	// ChunkStatusAssigned indicates the chunk is mapped to a worker but not running.
	ChunkStatusAssigned ChunkStatus = "assigned"
	// ChunkStatusRunning indicates the chunk is executing on its worker.
	ChunkStatusRunning ChunkStatus = "running"
	// ChunkStatusSucceeded indicates the chunk completed successfully.
	ChunkStatusSucceeded ChunkStatus = "succeeded"
	// ChunkStatusFailed indicates the chunk failed permanently.
	ChunkStatusFailed ChunkStatus = "failed"
	// ChunkStatusRetrying indicates the chunk failed and is awaiting another attempt.
	ChunkStatusRetrying ChunkStatus = "retrying"
)

// Valid returns true if the status is a known value.
func (s ChunkStatus) Valid() bool {
	switch s {
	case ChunkStatusUnassigned, ChunkStatusAssigned, ChunkStatusRunning,
		ChunkStatusSucceeded, ChunkStatusFailed, ChunkStatusRetrying:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is a terminal state.
func (s ChunkStatus) Terminal() bool {
	return s == ChunkStatusSucceeded || s == ChunkStatusFailed
}

// Chunk is a decomposed unit of work derived from a task. A chunk's
// lifetime never outlives its parent task.
type Chunk struct {
	// ID is the unique identifier for this chunk. IDs are deterministic
	// given the parent task ID, for reproducible decomposition.
	ID string `json:"id"`
	// TaskID is the ID of the parent task.
	TaskID string `json:"task_id"`
	// Description is what this chunk should do.
	Description string `json:"description"`
	// Effort is the estimated effort for this chunk.
	Effort int `json:"effort"`
	// DependsOn lists chunk IDs that must succeed before this chunk runs.
	// The set must form a DAG across the task's chunks.
	DependsOn []string `json:"depends_on,omitempty"`
	// Capability is the worker capability tag this chunk requires, if any.
	Capability string `json:"capability,omitempty"`
	// Gather marks the terminal aggregation chunk of a scatter-gather task.
	Gather bool `json:"gather,omitempty"`
	// AssignedTo is the ID of the worker executing this chunk, empty until scheduled.
	AssignedTo string `json:"assigned_to,omitempty"`
	// Status is the current state of the chunk.
	Status ChunkStatus `json:"status"`
	// RetryCount is the number of retries performed so far.
	RetryCount int `json:"retry_count,omitempty"`
	// Result is the payload produced by the worker, present only when succeeded.
	Result string `json:"result,omitempty"`
	// Error contains the most recent error message if the chunk failed.
	Error string `json:"error,omitempty"`
}

// ChunkResult is the payload a worker returns for a chunk invocation.
type ChunkResult struct {
	// ChunkID is the chunk this result belongs to.
	ChunkID string `json:"chunk_id"`
	// WorkerID is the worker that produced the result.
	WorkerID string `json:"worker_id"`
	// Output is the result payload.
	Output string `json:"output"`
	// Duration is how long the invocation took.
	Duration time.Duration `json:"duration"`
}
