// Package graph provides the chunk dependency graph used for scheduling.
package graph

import (
	"errors"
	"fmt"
	"sync"

	"github.com/chunkflow/chunkflow/pkg/models"
)

// ErrCycleDetected indicates a circular dependency was found among chunks.
var ErrCycleDetected = errors.New("circular dependency detected")

// ChunkGraph is a directed acyclic graph of chunk dependencies.
// Chunks are nodes, and edges represent "blocked by" relationships.
type ChunkGraph struct {
	mu sync.RWMutex
	// nodes maps chunk ID to the chunk itself.
	nodes map[string]*models.Chunk
	// edges maps chunk ID to IDs of chunks it depends on.
	edges map[string][]string
	// order preserves insertion order for deterministic iteration.
	order []string
	// succeeded tracks chunks that have completed successfully.
	succeeded map[string]bool
	// failed tracks chunks that have failed permanently.
	failed map[string]bool
}

// New creates a new empty chunk graph.
func New() *ChunkGraph {
	return &ChunkGraph{
		nodes:     make(map[string]*models.Chunk),
		edges:     make(map[string][]string),
		succeeded: make(map[string]bool),
		failed:    make(map[string]bool),
	}
}

// Build constructs the graph from a slice of chunks.
// Returns an error if a cycle is detected, a chunk depends on itself,
// or dependencies reference unknown chunks.
func (g *ChunkGraph) Build(chunks []*models.Chunk) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, c := range chunks {
		g.nodes[c.ID] = c
		g.edges[c.ID] = nil
		g.order = append(g.order, c.ID)
	}

	for _, c := range chunks {
		for _, depID := range c.DependsOn {
			if depID == c.ID {
				return fmt.Errorf("chunk %s depends on itself: %w", c.ID, ErrCycleDetected)
			}
			if _, exists := g.nodes[depID]; !exists {
				return fmt.Errorf("chunk %s depends on unknown chunk %s", c.ID, depID)
			}
			g.edges[c.ID] = append(g.edges[c.ID], depID)
		}
	}

	if g.hasCycleLocked() {
		return ErrCycleDetected
	}
	return nil
}

// HasCycle returns true if the graph contains a circular dependency.
// Uses depth-first search with coloring to detect back edges.
func (g *ChunkGraph) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.hasCycleLocked()
}

// hasCycleLocked is the internal implementation that assumes the lock is held.
func (g *ChunkGraph) hasCycleLocked() bool {
	// Color states: 0 = white (unvisited), 1 = gray (in progress), 2 = black (done).
	colors := make(map[string]int, len(g.nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1

		for _, depID := range g.edges[id] {
			switch colors[depID] {
			case 1:
				// Back edge - cycle.
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
		}

		colors[id] = 2
		return false
	}

	for _, id := range g.order {
		if colors[id] == 0 {
			if visit(id) {
				return true
			}
		}
	}
	return false
}

// TopologicalSort returns chunk IDs in an order where all dependencies
// come before the chunks that depend on them.
// Returns an error if the graph contains a cycle.
func (g *ChunkGraph) TopologicalSort() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.hasCycleLocked() {
		return nil, ErrCycleDetected
	}

	visited := make(map[string]bool, len(g.nodes))
	var result []string

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true

		for _, depID := range g.edges[id] {
			visit(depID)
		}
		result = append(result, id)
	}

	for _, id := range g.order {
		visit(id)
	}
	return result, nil
}

// Ready returns the chunks whose dependency sets are fully satisfied and
// that are not yet running or terminal. These can execute in parallel.
func (g *ChunkGraph) Ready() []*models.Chunk {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []*models.Chunk
	for _, id := range g.order {
		c := g.nodes[id]
		switch c.Status {
		case models.ChunkStatusUnassigned, models.ChunkStatusRetrying:
		default:
			continue
		}

		satisfied := true
		for _, depID := range g.edges[id] {
			if !g.succeeded[depID] {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, c)
		}
	}
	return ready
}

// MarkSucceeded records a chunk as successfully completed, unblocking
// its dependents on the next Ready call.
func (g *ChunkGraph) MarkSucceeded(chunkID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.succeeded[chunkID] = true
	delete(g.failed, chunkID)
}

// MarkFailed records a chunk as permanently failed. Dependents of a failed
// chunk are never reported ready.
func (g *ChunkGraph) MarkFailed(chunkID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failed[chunkID] = true
}

// Resolved returns true once every chunk is terminal or transitively
// blocked by a failed chunk. At that point no further scheduling pass can
// make progress.
func (g *ChunkGraph) Resolved() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, id := range g.order {
		c := g.nodes[id]
		if c.Status.Terminal() {
			continue
		}
		if !g.blockedByFailureLocked(id, make(map[string]bool)) {
			return false
		}
	}
	return true
}

// BlockedByFailure returns true if the chunk transitively depends on a
// failed chunk and therefore can never run.
func (g *ChunkGraph) BlockedByFailure(chunkID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.blockedByFailureLocked(chunkID, make(map[string]bool))
}

func (g *ChunkGraph) blockedByFailureLocked(chunkID string, seen map[string]bool) bool {
	if seen[chunkID] {
		return false
	}
	seen[chunkID] = true

	for _, depID := range g.edges[chunkID] {
		if g.failed[depID] {
			return true
		}
		if g.blockedByFailureLocked(depID, seen) {
			return true
		}
	}
	return false
}

// Get returns the chunk for a given ID, or nil if not found.
func (g *ChunkGraph) Get(chunkID string) *models.Chunk {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[chunkID]
}

// Size returns the number of chunks in the graph.
func (g *ChunkGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Chunks returns all chunks in insertion order.
func (g *ChunkGraph) Chunks() []*models.Chunk {
	g.mu.RLock()
	defer g.mu.RUnlock()

	chunks := make([]*models.Chunk, 0, len(g.order))
	for _, id := range g.order {
		chunks = append(chunks, g.nodes[id])
	}
	return chunks
}

// Dependencies returns the IDs of chunks the given chunk depends on.
func (g *ChunkGraph) Dependencies(chunkID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edges[chunkID]
}

// Dependents returns the IDs of chunks that depend on the given chunk.
func (g *ChunkGraph) Dependents(chunkID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var dependents []string
	for _, id := range g.order {
		for _, depID := range g.edges[id] {
			if depID == chunkID {
				dependents = append(dependents, id)
				break
			}
		}
	}
	return dependents
}

// SucceededCount returns the number of chunks marked succeeded.
func (g *ChunkGraph) SucceededCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.succeeded)
}

// FailedCount returns the number of chunks marked failed.
func (g *ChunkGraph) FailedCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.failed)
}
