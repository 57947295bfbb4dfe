// Package scheduler runs the scheduling pass: it asks the orchestration
// pattern for an assignment plan, reserves circuit-breaker slots, commits
// load, and escalates chunks that repeatedly find no eligible worker.
package scheduler

import (
	"fmt"
	"log"
	"sync"

	"github.com/chunkflow/chunkflow/internal/balance"
	"github.com/chunkflow/chunkflow/internal/breaker"
	"github.com/chunkflow/chunkflow/internal/graph"
	"github.com/chunkflow/chunkflow/internal/pattern"
	"github.com/chunkflow/chunkflow/internal/worker"
	"github.com/chunkflow/chunkflow/pkg/models"
)

// NoEligibleWorkerError indicates a chunk exhausted its scheduling passes
// without any worker becoming eligible for it.
type NoEligibleWorkerError struct {
	// ChunkID is the chunk that could not be placed.
	ChunkID string
	// Capability is the capability the chunk required.
	Capability string
	// Passes is how many scheduling passes the chunk waited through.
	Passes int
}

func (e *NoEligibleWorkerError) Error() string {
	if e.Capability != "" {
		return fmt.Sprintf("no eligible worker for chunk %s (capability %q) after %d passes", e.ChunkID, e.Capability, e.Passes)
	}
	return fmt.Sprintf("no eligible worker for chunk %s after %d passes", e.ChunkID, e.Passes)
}

// Scheduler produces committed assignment plans for one task's graph.
// It is not safe for concurrent Schedule calls on the same instance.
type Scheduler struct {
	pat  pattern.Pattern
	lb   balance.Balancer
	br   *breaker.Breaker
	pool *worker.Pool
	// maxPasses bounds how many passes a ready chunk may go unplaced
	// before it is failed with NoEligibleWorkerError.
	maxPasses int

	mu sync.Mutex
	// unplaced counts consecutive passes each ready chunk went unplaced.
	unplaced map[string]int
}

// New creates a scheduler. maxPasses <= 0 disables escalation.
func New(pat pattern.Pattern, lb balance.Balancer, br *breaker.Breaker, pool *worker.Pool, maxPasses int) *Scheduler {
	return &Scheduler{
		pat:       pat,
		lb:        lb,
		br:        br,
		pool:      pool,
		maxPasses: maxPasses,
		unplaced:  make(map[string]int),
	}
}

// Schedule runs one scheduling pass. Assigned chunks transition to the
// assigned status with committed worker load and a reserved breaker slot.
// Ready chunks that stay unplaced past maxPasses are failed so the task
// can resolve instead of spinning.
func (s *Scheduler) Schedule(taskID string, g *graph.ChunkGraph) (*models.AssignmentPlan, error) {
	plan, err := s.pat.Plan(g, s.pool, s.br.CanAssign, s.lb)
	if err != nil {
		return nil, fmt.Errorf("planning assignments: %w", err)
	}
	plan.TaskID = taskID

	committed := &models.AssignmentPlan{TaskID: taskID, Pattern: plan.Pattern}
	placed := make(map[string]bool, len(plan.Assignments))

	for _, a := range plan.Assignments {
		chunk := g.Get(a.ChunkID)
		if chunk == nil {
			continue
		}
		if err := s.pool.IncLoad(a.WorkerID); err != nil {
			log.Printf("[scheduler] dropping assignment %s -> %s: %v", a.ChunkID, a.WorkerID, err)
			continue
		}
		// Reserve the breaker slot now that this worker won the chunk.
		// CanAssign filtered candidates without consuming half-open trials.
		if !s.br.Allow(a.WorkerID) {
			s.pool.DecLoad(a.WorkerID)
			continue
		}

		chunk.Status = models.ChunkStatusAssigned
		chunk.AssignedTo = a.WorkerID
		committed.Add(a.ChunkID, a.WorkerID)
		placed[a.ChunkID] = true
	}

	s.escalateUnplaced(g, placed)
	return committed, nil
}

// escalateUnplaced advances pass counters for ready-but-unplaced chunks
// and fails those that exceeded the budget.
func (s *Scheduler) escalateUnplaced(g *graph.ChunkGraph, placed map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ready := make(map[string]*models.Chunk)
	for _, chunk := range g.Ready() {
		if placed[chunk.ID] {
			continue
		}
		ready[chunk.ID] = chunk
	}

	for id := range s.unplaced {
		if _, stillWaiting := ready[id]; !stillWaiting {
			delete(s.unplaced, id)
		}
	}

	for id, chunk := range ready {
		s.unplaced[id]++
		if s.maxPasses <= 0 || s.unplaced[id] < s.maxPasses {
			continue
		}
		err := &NoEligibleWorkerError{ChunkID: id, Capability: chunk.Capability, Passes: s.unplaced[id]}
		log.Printf("[scheduler] %v, failing chunk", err)
		chunk.Status = models.ChunkStatusFailed
		chunk.Error = err.Error()
		g.MarkFailed(id)
		delete(s.unplaced, id)
	}
}
