// Package balance provides the load-balancing algorithms used to pick a
// worker for a chunk from the eligible set.
package balance

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/chunkflow/chunkflow/pkg/models"
)

// ErrNoWorkers indicates the eligible set was empty.
var ErrNoWorkers = errors.New("no workers to balance across")

// Balancer picks one worker from the eligible set for a chunk.
// The eligible set is already filtered for health, capability, capacity
// and circuit-breaker state; balancers only decide the ordering.
type Balancer interface {
	// Name returns the balancer's configuration name.
	Name() string
	// Pick selects a worker for the chunk.
	Pick(chunk *models.Chunk, eligible []*models.Worker) (*models.Worker, error)
}

// New returns the balancer registered under the given name.
func New(name string) (Balancer, error) {
	switch name {
	case "round-robin", "":
		return NewRoundRobin(), nil
	case "weighted-round-robin":
		return NewWeightedRoundRobin(), nil
	case "least-connections":
		return NewLeastConnections(), nil
	case "capability":
		return NewCapability(), nil
	default:
		return nil, fmt.Errorf("unknown load balancer %q", name)
	}
}

// RoundRobin cycles through eligible workers in order. O(1) per pick.
type RoundRobin struct {
	mu   sync.Mutex
	next int
}

// NewRoundRobin creates a round-robin balancer.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

// Name returns "round-robin".
func (rr *RoundRobin) Name() string { return "round-robin" }

// Pick returns the next worker in rotation.
func (rr *RoundRobin) Pick(_ *models.Chunk, eligible []*models.Worker) (*models.Worker, error) {
	if len(eligible) == 0 {
		return nil, ErrNoWorkers
	}

	rr.mu.Lock()
	defer rr.mu.Unlock()

	w := eligible[rr.next%len(eligible)]
	rr.next++
	return w, nil
}

// WeightedRoundRobin cycles through workers proportionally to their
// weight (capacity when no explicit weight is set). The credit scan is
// O(n) per pick.
type WeightedRoundRobin struct {
	mu sync.Mutex
	// credits tracks remaining picks for the current cycle, by worker ID.
	credits map[string]int
}

// NewWeightedRoundRobin creates a weighted round-robin balancer.
func NewWeightedRoundRobin() *WeightedRoundRobin {
	return &WeightedRoundRobin{credits: make(map[string]int)}
}

// Name returns "weighted-round-robin".
func (w *WeightedRoundRobin) Name() string { return "weighted-round-robin" }

// Pick selects the first worker with remaining credits, refilling all
// credits from weights once the cycle is exhausted.
func (w *WeightedRoundRobin) Pick(_ *models.Chunk, eligible []*models.Worker) (*models.Worker, error) {
	if len(eligible) == 0 {
		return nil, ErrNoWorkers
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for range [2]struct{}{} {
		for _, cand := range eligible {
			if w.credits[cand.ID] > 0 {
				w.credits[cand.ID]--
				return cand, nil
			}
		}
		// Cycle exhausted: refill from weights.
		for _, cand := range eligible {
			w.credits[cand.ID] = weightOf(cand)
		}
	}
	return eligible[0], nil
}

func weightOf(w *models.Worker) int {
	if w.Weight > 0 {
		return w.Weight
	}
	if w.Capacity > 0 {
		return w.Capacity
	}
	return 1
}

// LeastConnections picks the worker with the lowest current load.
// O(n) scan per pick; ties broken by registration order.
type LeastConnections struct{}

// NewLeastConnections creates a least-connections balancer.
func NewLeastConnections() *LeastConnections {
	return &LeastConnections{}
}

// Name returns "least-connections".
func (lc *LeastConnections) Name() string { return "least-connections" }

// Pick selects the minimum-load worker.
func (lc *LeastConnections) Pick(_ *models.Chunk, eligible []*models.Worker) (*models.Worker, error) {
	if len(eligible) == 0 {
		return nil, ErrNoWorkers
	}

	best := eligible[0]
	for _, w := range eligible[1:] {
		if w.Load < best.Load {
			best = w
		}
	}
	return best, nil
}

// Capability filters workers by the chunk's required capability tag and
// sorts the matches by load. O(n log n) per pick.
type Capability struct{}

// NewCapability creates a capability-based balancer.
func NewCapability() *Capability {
	return &Capability{}
}

// Name returns "capability".
func (c *Capability) Name() string { return "capability" }

// Pick selects the least-loaded worker advertising the chunk's capability.
func (c *Capability) Pick(chunk *models.Chunk, eligible []*models.Worker) (*models.Worker, error) {
	var matches []*models.Worker
	for _, w := range eligible {
		if chunk == nil || w.HasCapability(chunk.Capability) {
			matches = append(matches, w)
		}
	}
	if len(matches) == 0 {
		return nil, ErrNoWorkers
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Load < matches[j].Load
	})
	return matches[0], nil
}
