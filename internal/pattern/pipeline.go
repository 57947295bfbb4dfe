package pattern

import (
	"github.com/chunkflow/chunkflow/internal/balance"
	"github.com/chunkflow/chunkflow/internal/graph"
	"github.com/chunkflow/chunkflow/internal/worker"
	"github.com/chunkflow/chunkflow/pkg/models"
)

// Pipeline schedules chunks stage by stage in dependency order. Each
// stage admits at most StageBuffer in-flight chunks, so a slow stage
// backpressures the ones feeding it instead of piling up work.
type Pipeline struct {
	cfg Config
}

// NewPipeline creates the pipeline pattern.
func NewPipeline(cfg Config) *Pipeline {
	return &Pipeline{cfg: cfg}
}

// Name returns "pipeline".
func (p *Pipeline) Name() string { return "pipeline" }

// Plan assigns ready chunks whose stage still has buffer room. Stages are
// the chunks' depths in the dependency graph.
func (p *Pipeline) Plan(g *graph.ChunkGraph, pool *worker.Pool, allow func(string) bool, lb balance.Balancer) (*models.AssignmentPlan, error) {
	stages := stageOf(g)

	// Count chunks already in flight per stage.
	inFlight := make(map[int]int)
	for _, c := range g.Chunks() {
		switch c.Status {
		case models.ChunkStatusAssigned, models.ChunkStatusRunning:
			inFlight[stages[c.ID]]++
		}
	}

	plan := &models.AssignmentPlan{Pattern: p.Name()}
	tracker := newCapacityTracker()

	for _, chunk := range g.Ready() {
		stage := stages[chunk.ID]
		if inFlight[stage] >= p.cfg.StageBuffer {
			continue
		}

		w, err := lb.Pick(chunk, eligible(pool, chunk, allow, tracker))
		if err != nil {
			continue
		}
		plan.Add(chunk.ID, w.ID)
		tracker.take(w.ID)
		inFlight[stage]++
	}
	return plan, nil
}

// stageOf computes each chunk's stage as its depth in the dependency
// graph: roots are stage 0, and every chunk sits one stage past its
// deepest dependency.
func stageOf(g *graph.ChunkGraph) map[string]int {
	stages := make(map[string]int, g.Size())

	order, err := g.TopologicalSort()
	if err != nil {
		return stages
	}
	for _, id := range order {
		depth := 0
		for _, depID := range g.Dependencies(id) {
			if d := stages[depID] + 1; d > depth {
				depth = d
			}
		}
		stages[id] = depth
	}
	return stages
}
