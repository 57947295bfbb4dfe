package balance

import (
	"errors"
	"testing"

	"github.com/chunkflow/chunkflow/pkg/models"
)

func workers(specs ...models.Worker) []*models.Worker {
	out := make([]*models.Worker, len(specs))
	for i := range specs {
		out[i] = &specs[i]
	}
	return out
}

func TestNewByName(t *testing.T) {
	for _, name := range []string{"round-robin", "weighted-round-robin", "least-connections", "capability"} {
		b, err := New(name)
		if err != nil {
			t.Fatalf("New(%q): %v", name, err)
		}
		if b.Name() != name {
			t.Errorf("expected name %q, got %q", name, b.Name())
		}
	}

	if _, err := New("bogus"); err == nil {
		t.Error("expected error for unknown balancer")
	}

	// Empty name defaults to round-robin.
	b, err := New("")
	if err != nil || b.Name() != "round-robin" {
		t.Errorf("expected round-robin default, got %v, %v", b, err)
	}
}

func TestRoundRobinFairness(t *testing.T) {
	// 3 equally-healthy workers, 9 chunks: exactly 3 each.
	rr := NewRoundRobin()
	eligible := workers(
		models.Worker{ID: "w1", Capacity: 9},
		models.Worker{ID: "w2", Capacity: 9},
		models.Worker{ID: "w3", Capacity: 9},
	)

	counts := make(map[string]int)
	for i := 0; i < 9; i++ {
		w, err := rr.Pick(nil, eligible)
		if err != nil {
			t.Fatalf("pick %d: %v", i, err)
		}
		counts[w.ID]++
	}

	for _, id := range []string{"w1", "w2", "w3"} {
		if counts[id] != 3 {
			t.Errorf("expected worker %s to receive 3 chunks, got %d", id, counts[id])
		}
	}
}

func TestRoundRobinEmpty(t *testing.T) {
	rr := NewRoundRobin()
	if _, err := rr.Pick(nil, nil); !errors.Is(err, ErrNoWorkers) {
		t.Fatalf("expected ErrNoWorkers, got %v", err)
	}
}

func TestWeightedRoundRobinProportions(t *testing.T) {
	wrr := NewWeightedRoundRobin()
	eligible := workers(
		models.Worker{ID: "big", Capacity: 10, Weight: 3},
		models.Worker{ID: "small", Capacity: 10, Weight: 1},
	)

	counts := make(map[string]int)
	for i := 0; i < 8; i++ {
		w, err := wrr.Pick(nil, eligible)
		if err != nil {
			t.Fatalf("pick %d: %v", i, err)
		}
		counts[w.ID]++
	}

	if counts["big"] != 6 || counts["small"] != 2 {
		t.Errorf("expected 6/2 split by weight, got big=%d small=%d", counts["big"], counts["small"])
	}
}

func TestLeastConnections(t *testing.T) {
	lc := NewLeastConnections()
	eligible := workers(
		models.Worker{ID: "busy", Capacity: 5, Load: 3},
		models.Worker{ID: "idle", Capacity: 5, Load: 0},
		models.Worker{ID: "mid", Capacity: 5, Load: 1},
	)

	w, err := lc.Pick(nil, eligible)
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if w.ID != "idle" {
		t.Errorf("expected least-loaded worker idle, got %s", w.ID)
	}
}

func TestCapabilityBalancer(t *testing.T) {
	cb := NewCapability()
	eligible := workers(
		models.Worker{ID: "builder", Capacity: 5, Capabilities: []string{"build"}, Load: 2},
		models.Worker{ID: "tester", Capacity: 5, Capabilities: []string{"test"}, Load: 0},
		models.Worker{ID: "builder2", Capacity: 5, Capabilities: []string{"build"}, Load: 1},
	)

	chunk := &models.Chunk{ID: "c1", Capability: "build"}
	w, err := cb.Pick(chunk, eligible)
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if w.ID != "builder2" {
		t.Errorf("expected least-loaded build worker builder2, got %s", w.ID)
	}

	// No worker matches the tag.
	missing := &models.Chunk{ID: "c2", Capability: "deploy"}
	if _, err := cb.Pick(missing, eligible); !errors.Is(err, ErrNoWorkers) {
		t.Fatalf("expected ErrNoWorkers for unmatched capability, got %v", err)
	}
}
