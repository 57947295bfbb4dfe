package pattern

import (
	"log"
	"sync"
	"time"

	"github.com/chunkflow/chunkflow/internal/balance"
	"github.com/chunkflow/chunkflow/internal/graph"
	"github.com/chunkflow/chunkflow/internal/worker"
	"github.com/chunkflow/chunkflow/pkg/models"
)

// ScatterGather fans independent chunks out across the pool and schedules
// the gather chunk once its inputs are in. The gather chunk tolerates
// scatter failures up to the failure threshold, and stops waiting for
// stragglers once enough inputs have arrived and the gather timeout
// elapses.
type ScatterGather struct {
	cfg Config

	mu sync.Mutex
	// quorumAt records, per gather chunk, when enough scatter results had
	// arrived to start the gather-timeout clock.
	quorumAt map[string]time.Time
	// now is injectable for tests.
	now func() time.Time
}

// NewScatterGather creates the scatter-gather pattern.
func NewScatterGather(cfg Config) *ScatterGather {
	return &ScatterGather{
		cfg:      cfg,
		quorumAt: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Name returns "scatter-gather".
func (s *ScatterGather) Name() string { return "scatter-gather" }

// SetClock overrides the pattern's time source, for tests.
func (s *ScatterGather) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Plan fans out ready scatter chunks and separately decides gather
// eligibility, since a gather chunk may run before every dependency
// succeeds.
func (s *ScatterGather) Plan(g *graph.ChunkGraph, pool *worker.Pool, allow func(string) bool, lb balance.Balancer) (*models.AssignmentPlan, error) {
	plan := &models.AssignmentPlan{Pattern: s.Name()}
	tracker := newCapacityTracker()

	assign := func(chunk *models.Chunk) {
		w, err := lb.Pick(chunk, eligible(pool, chunk, allow, tracker))
		if err != nil {
			return
		}
		plan.Add(chunk.ID, w.ID)
		tracker.take(w.ID)
	}

	for _, chunk := range g.Ready() {
		if chunk.Gather {
			continue
		}
		assign(chunk)
	}

	for _, chunk := range g.Chunks() {
		if !chunk.Gather {
			continue
		}
		switch chunk.Status {
		case models.ChunkStatusUnassigned, models.ChunkStatusRetrying:
		default:
			continue
		}
		if s.gatherEligible(g, chunk) {
			assign(chunk)
		}
	}
	return plan, nil
}

// gatherEligible applies the failure-threshold and straggler policy to a
// gather chunk. It runs when all scatter chunks are terminal and failures
// stay within the threshold, or when the surviving successes already
// satisfy the threshold and the gather timeout has expired.
func (s *ScatterGather) gatherEligible(g *graph.ChunkGraph, gather *models.Chunk) bool {
	deps := g.Dependencies(gather.ID)
	if len(deps) == 0 {
		return true
	}

	var succeeded, failed int
	for _, depID := range deps {
		dep := g.Get(depID)
		if dep == nil {
			return false
		}
		switch dep.Status {
		case models.ChunkStatusSucceeded:
			succeeded++
		case models.ChunkStatusFailed:
			failed++
		}
	}

	total := len(deps)
	maxFailures := int(s.cfg.FailureThreshold * float64(total))

	if failed > maxFailures {
		// Over threshold: the gather never runs and the failure surfaces
		// through the blocked dependency chain.
		return false
	}
	if succeeded+failed == total {
		return true
	}

	// Stragglers: once enough successes are in that the gather stays
	// viable even if every pending chunk fails, start the timeout clock
	// and run with partial input when it expires.
	if succeeded < total-maxFailures {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	since, ok := s.quorumAt[gather.ID]
	if !ok {
		s.quorumAt[gather.ID] = s.now()
		return false
	}
	if s.now().Sub(since) < s.cfg.GatherTimeout {
		return false
	}
	log.Printf("[pattern] gather %s proceeding with %d/%d inputs after timeout", gather.ID, succeeded, total)
	return true
}
