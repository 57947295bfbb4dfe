package merge

import (
	"encoding/json"
	"testing"

	"github.com/chunkflow/chunkflow/pkg/models"
)

func TestConcatJoinsInOrder(t *testing.T) {
	m := Concat{}
	out, err := m.Merge([]*models.ChunkResult{
		{ChunkID: "a", Output: "first"},
		{ChunkID: "b", Output: ""},
		{ChunkID: "c", Output: "third"},
	}, nil)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if out != "first\nthird" {
		t.Errorf("expected empty outputs skipped, got %q", out)
	}
}

func TestWeightedOrdersByEffort(t *testing.T) {
	chunks := map[string]*models.Chunk{
		"a": {ID: "a", Effort: 1},
		"b": {ID: "b", Effort: 5},
		"c": {ID: "c", Effort: 5},
	}
	m := Weighted{}
	out, err := m.Merge([]*models.ChunkResult{
		{ChunkID: "a", Output: "light"},
		{ChunkID: "c", Output: "heavy-c"},
		{ChunkID: "b", Output: "heavy-b"},
	}, chunks)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if out != "heavy-b\nheavy-c\nlight" {
		t.Errorf("expected effort-descending order with ID tiebreak, got %q", out)
	}
}

func TestWeightedIsDeterministic(t *testing.T) {
	chunks := map[string]*models.Chunk{
		"a": {ID: "a", Effort: 2},
		"b": {ID: "b", Effort: 2},
	}
	results := []*models.ChunkResult{
		{ChunkID: "b", Output: "bee"},
		{ChunkID: "a", Output: "ay"},
	}
	m := Weighted{}
	first, err := m.Merge(results, chunks)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := m.Merge(results, chunks)
		if err != nil {
			t.Fatalf("Merge: %v", err)
		}
		if again != first {
			t.Fatalf("merge output changed between runs: %q vs %q", first, again)
		}
	}
}

func TestJSONMergeShape(t *testing.T) {
	m := JSON{}
	out, err := m.Merge([]*models.ChunkResult{
		{ChunkID: "a", WorkerID: "w1", Output: "one"},
	}, nil)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}

	var decoded []map[string]string
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("unmarshaling merged output: %v", err)
	}
	if len(decoded) != 1 || decoded[0]["chunk_id"] != "a" || decoded[0]["output"] != "one" {
		t.Errorf("unexpected merged output: %q", out)
	}
}

func TestNewMergeFactory(t *testing.T) {
	for _, name := range []string{"concat", "weighted", "json"} {
		m, err := New(name)
		if err != nil {
			t.Fatalf("New(%q): %v", name, err)
		}
		if m.Name() != name {
			t.Errorf("New(%q): got %q", name, m.Name())
		}
	}
	if m, err := New(""); err != nil || m.Name() != "concat" {
		t.Error("expected concat as the default merge function")
	}
	if _, err := New("bogus"); err == nil {
		t.Error("expected error for unknown merge function")
	}
}
