// Package pattern implements the selectable orchestration patterns that
// map ready chunks onto workers: master-slave, peer-to-peer, pipeline and
// scatter-gather. Patterns are interchangeable strategy objects selected
// at task submission and fixed for the task's lifetime.
package pattern

import (
	"fmt"
	"time"

	"github.com/chunkflow/chunkflow/internal/balance"
	"github.com/chunkflow/chunkflow/internal/graph"
	"github.com/chunkflow/chunkflow/internal/worker"
	"github.com/chunkflow/chunkflow/pkg/models"
)

// Pattern produces an assignment plan for the currently-ready chunks.
// The allow filter excludes workers whose circuit breaker forbids
// assignment; patterns must never bypass it.
type Pattern interface {
	// Name returns the pattern's configuration name.
	Name() string
	// Plan maps ready chunks to workers. Chunks that cannot be placed are
	// simply absent from the plan and retried on the next pass.
	Plan(g *graph.ChunkGraph, pool *worker.Pool, allow func(workerID string) bool, lb balance.Balancer) (*models.AssignmentPlan, error)
}

// Config holds the pattern-specific knobs from the configuration surface.
type Config struct {
	// DetectionTimeout is how long a master may be unreachable before the
	// backup is promoted (master-slave).
	DetectionTimeout time.Duration
	// Resolution selects the peer-to-peer conflict resolution strategy:
	// "priority", "auction" or "voting".
	Resolution string
	// VoteTimeout bounds how long voting waits for peer responses before
	// escalating to priority-based resolution (peer-to-peer).
	VoteTimeout time.Duration
	// StageBuffer caps in-flight chunks per pipeline stage (backpressure).
	StageBuffer int
	// FailureThreshold is the fraction of scatter chunks that may fail
	// while still executing the gather chunk (scatter-gather).
	FailureThreshold float64
	// GatherTimeout bounds how long the gather chunk waits for straggling
	// scatter chunks once the failure-threshold policy is satisfied.
	GatherTimeout time.Duration
}

// DefaultConfig returns the default pattern parameters.
func DefaultConfig() Config {
	return Config{
		DetectionTimeout: 30 * time.Second,
		Resolution:       "priority",
		VoteTimeout:      5 * time.Second,
		StageBuffer:      2,
		FailureThreshold: 0.2,
		GatherTimeout:    60 * time.Second,
	}
}

// New returns the pattern registered under the given name.
func New(name string, cfg Config) (Pattern, error) {
	def := DefaultConfig()
	if cfg.DetectionTimeout <= 0 {
		cfg.DetectionTimeout = def.DetectionTimeout
	}
	if cfg.Resolution == "" {
		cfg.Resolution = def.Resolution
	}
	if cfg.VoteTimeout <= 0 {
		cfg.VoteTimeout = def.VoteTimeout
	}
	if cfg.StageBuffer <= 0 {
		cfg.StageBuffer = def.StageBuffer
	}
	if cfg.FailureThreshold < 0 || cfg.FailureThreshold >= 1 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.GatherTimeout <= 0 {
		cfg.GatherTimeout = def.GatherTimeout
	}

	switch name {
	case "master-slave":
		return NewMasterSlave(cfg), nil
	case "peer-to-peer":
		return NewPeerToPeer(cfg)
	case "pipeline":
		return NewPipeline(cfg), nil
	case "scatter-gather", "":
		return NewScatterGather(cfg), nil
	default:
		return nil, fmt.Errorf("unknown orchestration pattern %q", name)
	}
}

// capacityTracker accounts for assignments made within a single planning
// pass, since the pool snapshot's load counters only reflect dispatched
// work.
type capacityTracker struct {
	assigned map[string]int
}

func newCapacityTracker() *capacityTracker {
	return &capacityTracker{assigned: make(map[string]int)}
}

// filter drops workers whose remaining capacity is consumed by earlier
// assignments in this pass.
func (t *capacityTracker) filter(workers []*models.Worker) []*models.Worker {
	var out []*models.Worker
	for _, w := range workers {
		if w.Available()-t.assigned[w.ID] > 0 {
			out = append(out, w)
		}
	}
	return out
}

func (t *capacityTracker) take(workerID string) {
	t.assigned[workerID]++
}

// eligible returns breaker-and-capacity-filtered candidates for a chunk.
func eligible(pool *worker.Pool, chunk *models.Chunk, allow func(string) bool, t *capacityTracker) []*models.Worker {
	return t.filter(pool.Eligible(chunk.Capability, allow))
}
