package graph

import (
	"errors"
	"testing"

	"github.com/chunkflow/chunkflow/pkg/models"
)

func chunk(id string, deps ...string) *models.Chunk {
	return &models.Chunk{
		ID:        id,
		TaskID:    "task-1",
		Status:    models.ChunkStatusUnassigned,
		DependsOn: deps,
	}
}

func TestBuildDetectsCycle(t *testing.T) {
	g := New()
	err := g.Build([]*models.Chunk{
		chunk("a", "c"),
		chunk("b", "a"),
		chunk("c", "b"),
	})
	if !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected cycle error, got %v", err)
	}
}

func TestBuildRejectsSelfDependency(t *testing.T) {
	g := New()
	err := g.Build([]*models.Chunk{chunk("a", "a")})
	if !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected cycle error for self-dependency, got %v", err)
	}
}

func TestBuildRejectsUnknownDependency(t *testing.T) {
	g := New()
	err := g.Build([]*models.Chunk{chunk("a", "missing")})
	if err == nil {
		t.Fatal("expected error for unknown dependency")
	}
}

func TestTopologicalSortOrdersDependenciesFirst(t *testing.T) {
	g := New()
	if err := g.Build([]*models.Chunk{
		chunk("a"),
		chunk("b", "a"),
		chunk("c", "b"),
	}); err != nil {
		t.Fatalf("build: %v", err)
	}

	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("topological sort: %v", err)
	}

	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	if pos["a"] > pos["b"] || pos["b"] > pos["c"] {
		t.Errorf("expected a before b before c, got %v", order)
	}
}

func TestReadyHonorsDependencies(t *testing.T) {
	g := New()
	if err := g.Build([]*models.Chunk{
		chunk("a"),
		chunk("b", "a"),
	}); err != nil {
		t.Fatalf("build: %v", err)
	}

	ready := g.Ready()
	if len(ready) != 1 || ready[0].ID != "a" {
		t.Fatalf("expected only chunk a ready, got %v", ids(ready))
	}

	g.Get("a").Status = models.ChunkStatusSucceeded
	g.MarkSucceeded("a")

	ready = g.Ready()
	if len(ready) != 1 || ready[0].ID != "b" {
		t.Fatalf("expected only chunk b ready after a succeeded, got %v", ids(ready))
	}
}

func TestReadySkipsRunningAndTerminal(t *testing.T) {
	g := New()
	if err := g.Build([]*models.Chunk{chunk("a"), chunk("b")}); err != nil {
		t.Fatalf("build: %v", err)
	}

	g.Get("a").Status = models.ChunkStatusRunning
	g.Get("b").Status = models.ChunkStatusFailed

	if ready := g.Ready(); len(ready) != 0 {
		t.Errorf("expected no ready chunks, got %v", ids(ready))
	}
}

func TestReadyIncludesRetrying(t *testing.T) {
	g := New()
	if err := g.Build([]*models.Chunk{chunk("a")}); err != nil {
		t.Fatalf("build: %v", err)
	}

	g.Get("a").Status = models.ChunkStatusRetrying
	if ready := g.Ready(); len(ready) != 1 {
		t.Errorf("expected retrying chunk to be ready, got %v", ids(ready))
	}
}

func TestBlockedByFailure(t *testing.T) {
	g := New()
	if err := g.Build([]*models.Chunk{
		chunk("a"),
		chunk("b", "a"),
		chunk("c", "b"),
	}); err != nil {
		t.Fatalf("build: %v", err)
	}

	g.Get("a").Status = models.ChunkStatusFailed
	g.MarkFailed("a")

	if !g.BlockedByFailure("b") {
		t.Error("expected b to be blocked by failed a")
	}
	if !g.BlockedByFailure("c") {
		t.Error("expected c to be transitively blocked by failed a")
	}
	if g.BlockedByFailure("a") {
		t.Error("expected a itself to not be blocked")
	}
}

func TestResolved(t *testing.T) {
	g := New()
	if err := g.Build([]*models.Chunk{
		chunk("a"),
		chunk("b", "a"),
	}); err != nil {
		t.Fatalf("build: %v", err)
	}

	if g.Resolved() {
		t.Error("expected unresolved graph with pending chunks")
	}

	// Failed root blocks the dependent: nothing can progress, graph is resolved.
	g.Get("a").Status = models.ChunkStatusFailed
	g.MarkFailed("a")

	if !g.Resolved() {
		t.Error("expected graph to be resolved when remaining chunks are blocked by failure")
	}
}

func ids(chunks []*models.Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.ID
	}
	return out
}
