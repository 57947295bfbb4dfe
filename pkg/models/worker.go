package models

// WorkerHealth represents the reported health of a worker.
type WorkerHealth string

const (
	// WorkerHealthy indicates the worker is accepting chunks normally.
	WorkerHealthy WorkerHealth = "healthy"
	// WorkerDegraded indicates the worker is slow but still eligible.
	WorkerDegraded WorkerHealth = "degraded"
	// WorkerUnreachable indicates the worker cannot be contacted.
	// Unreachable workers are never assigned chunks.
	WorkerUnreachable WorkerHealth = "unreachable"
)

// Valid returns true if the health value is known.
func (h WorkerHealth) Valid() bool {
	switch h {
	case WorkerHealthy, WorkerDegraded, WorkerUnreachable:
		return true
	default:
		return false
	}
}

// Worker describes an execution-capable agent. Workers are registered
// externally and referenced, never owned, by the scheduler.
type Worker struct {
	// ID is the unique identifier for this worker.
	ID string `json:"id" yaml:"id"`
	// Capabilities is the set of capability tags this worker accepts.
	Capabilities []string `json:"capabilities" yaml:"capabilities"`
	// Load is the current number of assigned chunks.
	Load int `json:"load" yaml:"-"`
	// Capacity is the maximum number of concurrent chunks this worker accepts.
	Capacity int `json:"capacity" yaml:"capacity"`
	// Priority breaks ties in conflict resolution and master election.
	Priority int `json:"priority,omitempty" yaml:"priority,omitempty"`
	// Weight scales the worker's share under weighted load balancing.
	// Zero means use Capacity as the weight.
	Weight int `json:"weight,omitempty" yaml:"weight,omitempty"`
	// Health is the worker's reported health status.
	Health WorkerHealth `json:"health" yaml:"-"`
	// Command is the external command invoked per chunk, when the worker
	// is backed by a subprocess invoker.
	Command string `json:"command,omitempty" yaml:"command,omitempty"`
}

// HasCapability returns true if the worker advertises the given tag.
// An empty tag matches any worker.
func (w *Worker) HasCapability(tag string) bool {
	if tag == "" {
		return true
	}
	for _, c := range w.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// Available returns the number of free execution slots.
func (w *Worker) Available() int {
	free := w.Capacity - w.Load
	if free < 0 {
		return 0
	}
	return free
}

// CapabilityScore is the worker's capability breadth, used for master
// election in the master-slave pattern.
func (w *Worker) CapabilityScore() int {
	return len(w.Capabilities)*10 + w.Priority
}
