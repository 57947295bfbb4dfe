// Package merge combines partial chunk results into a task's final output.
package merge

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/chunkflow/chunkflow/pkg/models"
)

// Func merges succeeded chunk results into one output. Implementations
// must be deterministic for the same inputs so retried chunks never change
// the merged result.
type Func interface {
	// Name returns the merge function's configuration name.
	Name() string
	// Merge combines the results. chunks provides the chunk metadata for
	// each result, keyed by chunk ID.
	Merge(results []*models.ChunkResult, chunks map[string]*models.Chunk) (string, error)
}

// New returns the merge function registered under the given name.
func New(name string) (Func, error) {
	switch name {
	case "concat", "":
		return Concat{}, nil
	case "weighted":
		return Weighted{}, nil
	case "json":
		return JSON{}, nil
	default:
		return nil, fmt.Errorf("unknown merge function %q", name)
	}
}

// Concat joins outputs in completion submission order.
type Concat struct{}

// Name returns "concat".
func (Concat) Name() string { return "concat" }

// Merge joins non-empty outputs with newlines.
func (Concat) Merge(results []*models.ChunkResult, _ map[string]*models.Chunk) (string, error) {
	var parts []string
	for _, r := range results {
		if r.Output != "" {
			parts = append(parts, r.Output)
		}
	}
	return strings.Join(parts, "\n"), nil
}

// Weighted orders outputs by chunk effort, heaviest first, so the largest
// contributions lead the merged result. Ties break by chunk ID.
type Weighted struct{}

// Name returns "weighted".
func (Weighted) Name() string { return "weighted" }

// Merge sorts results by descending effort before joining.
func (Weighted) Merge(results []*models.ChunkResult, chunks map[string]*models.Chunk) (string, error) {
	ordered := make([]*models.ChunkResult, len(results))
	copy(ordered, results)

	effort := func(r *models.ChunkResult) int {
		if c, ok := chunks[r.ChunkID]; ok {
			return c.Effort
		}
		return 0
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		ei, ej := effort(ordered[i]), effort(ordered[j])
		if ei != ej {
			return ei > ej
		}
		return ordered[i].ChunkID < ordered[j].ChunkID
	})

	return Concat{}.Merge(ordered, chunks)
}

// JSON emits the results as a JSON array of chunk outputs, preserving
// submission order.
type JSON struct{}

// Name returns "json".
func (JSON) Name() string { return "json" }

type jsonResult struct {
	ChunkID  string `json:"chunk_id"`
	WorkerID string `json:"worker_id"`
	Output   string `json:"output"`
}

// Merge marshals all results, including empty outputs.
func (JSON) Merge(results []*models.ChunkResult, _ map[string]*models.Chunk) (string, error) {
	out := make([]jsonResult, 0, len(results))
	for _, r := range results {
		out = append(out, jsonResult{ChunkID: r.ChunkID, WorkerID: r.WorkerID, Output: r.Output})
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("marshaling merged results: %w", err)
	}
	return string(data), nil
}
