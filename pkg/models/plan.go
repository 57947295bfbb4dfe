package models

// Assignment maps one chunk to one worker.
type Assignment struct {
	// ChunkID is the chunk being assigned.
	ChunkID string `json:"chunk_id"`
	// WorkerID is the worker the chunk is assigned to.
	WorkerID string `json:"worker_id"`
}

// AssignmentPlan is the ordered mapping from chunks to workers produced by
// one scheduling pass. It is transient: consumed by the execution monitor
// and discarded after the dispatch wave completes.
type AssignmentPlan struct {
	// TaskID is the task the plan belongs to.
	TaskID string `json:"task_id"`
	// Pattern is the orchestration pattern that produced the plan.
	Pattern string `json:"pattern"`
	// Assignments is the ordered list of chunk-to-worker assignments.
	Assignments []Assignment `json:"assignments"`
}

// Empty returns true if the plan contains no assignments.
func (p *AssignmentPlan) Empty() bool {
	return p == nil || len(p.Assignments) == 0
}

// Add appends an assignment to the plan.
func (p *AssignmentPlan) Add(chunkID, workerID string) {
	p.Assignments = append(p.Assignments, Assignment{ChunkID: chunkID, WorkerID: workerID})
}
