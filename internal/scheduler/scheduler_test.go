package scheduler

import (
	"strings"
	"testing"
	"time"

	"github.com/chunkflow/chunkflow/internal/balance"
	"github.com/chunkflow/chunkflow/internal/breaker"
	"github.com/chunkflow/chunkflow/internal/graph"
	"github.com/chunkflow/chunkflow/internal/pattern"
	"github.com/chunkflow/chunkflow/internal/worker"
	"github.com/chunkflow/chunkflow/pkg/models"
)

func testChunk(id string, deps ...string) *models.Chunk {
	return &models.Chunk{
		ID:        id,
		TaskID:    "task-1",
		Effort:    1,
		DependsOn: deps,
		Status:    models.ChunkStatusUnassigned,
	}
}

func testGraph(t *testing.T, chunks ...*models.Chunk) *graph.ChunkGraph {
	t.Helper()
	g := graph.New()
	if err := g.Build(chunks); err != nil {
		t.Fatalf("building graph: %v", err)
	}
	return g
}

func testScheduler(t *testing.T, br *breaker.Breaker, maxPasses int, workers ...*models.Worker) (*Scheduler, *worker.Pool) {
	t.Helper()
	pool := worker.NewPool()
	for _, w := range workers {
		if err := pool.Register(w, nil); err != nil {
			t.Fatalf("registering worker %s: %v", w.ID, err)
		}
	}
	pat, err := pattern.New("scatter-gather", pattern.Config{})
	if err != nil {
		t.Fatalf("creating pattern: %v", err)
	}
	return New(pat, balance.NewRoundRobin(), br, pool, maxPasses), pool
}

func TestScheduleCommitsAssignments(t *testing.T) {
	br := breaker.New(breaker.DefaultConfig())
	s, pool := testScheduler(t, br, 0,
		&models.Worker{ID: "w1", Capacity: 2},
		&models.Worker{ID: "w2", Capacity: 2},
	)
	g := testGraph(t, testChunk("c1"), testChunk("c2"))

	plan, err := s.Schedule("task-1", g)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if len(plan.Assignments) != 2 {
		t.Fatalf("expected 2 assignments, got %d", len(plan.Assignments))
	}
	if plan.TaskID != "task-1" {
		t.Errorf("expected task ID on plan, got %q", plan.TaskID)
	}

	for _, a := range plan.Assignments {
		chunk := g.Get(a.ChunkID)
		if chunk.Status != models.ChunkStatusAssigned {
			t.Errorf("chunk %s: expected assigned status, got %s", a.ChunkID, chunk.Status)
		}
		if chunk.AssignedTo != a.WorkerID {
			t.Errorf("chunk %s: AssignedTo %q does not match plan %q", a.ChunkID, chunk.AssignedTo, a.WorkerID)
		}
	}

	if got := pool.Get("w1").Load + pool.Get("w2").Load; got != 2 {
		t.Errorf("expected total committed load 2, got %d", got)
	}
}

func TestScheduleExcludesOpenBreaker(t *testing.T) {
	cfg := breaker.DefaultConfig()
	cfg.FailureThreshold = 1
	br := breaker.New(cfg)
	br.RecordFailure("w1")

	s, _ := testScheduler(t, br, 0,
		&models.Worker{ID: "w1", Capacity: 4},
		&models.Worker{ID: "w2", Capacity: 4},
	)
	g := testGraph(t, testChunk("c1"), testChunk("c2"), testChunk("c3"))

	plan, err := s.Schedule("task-1", g)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if len(plan.Assignments) != 3 {
		t.Fatalf("expected 3 assignments, got %d", len(plan.Assignments))
	}
	for _, a := range plan.Assignments {
		if a.WorkerID == "w1" {
			t.Errorf("chunk %s assigned to worker with open breaker", a.ChunkID)
		}
	}
}

func TestScheduleCapsHalfOpenTrials(t *testing.T) {
	cfg := breaker.DefaultConfig()
	cfg.FailureThreshold = 1
	cfg.HalfOpenTrials = 1
	cfg.RecoveryTimeout = 10 * time.Second
	br := breaker.New(cfg)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	br.SetClock(func() time.Time { return now })
	br.RecordFailure("w1")
	now = now.Add(11 * time.Second)

	s, pool := testScheduler(t, br, 0, &models.Worker{ID: "w1", Capacity: 4})
	g := testGraph(t, testChunk("c1"), testChunk("c2"))

	plan, err := s.Schedule("task-1", g)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	// Half-open admits a single trial chunk; the second reservation fails
	// and its load is rolled back.
	if len(plan.Assignments) != 1 {
		t.Fatalf("expected 1 trial assignment, got %d", len(plan.Assignments))
	}
	if pool.Get("w1").Load != 1 {
		t.Errorf("expected load 1 after rollback, got %d", pool.Get("w1").Load)
	}
}

func TestScheduleEscalatesUnplacedChunks(t *testing.T) {
	br := breaker.New(breaker.DefaultConfig())
	s, _ := testScheduler(t, br, 3, &models.Worker{ID: "w1", Capabilities: []string{"go"}, Capacity: 4})

	orphan := testChunk("c1")
	orphan.Capability = "haskell"
	g := testGraph(t, orphan)

	for pass := 1; pass <= 2; pass++ {
		if _, err := s.Schedule("task-1", g); err != nil {
			t.Fatalf("pass %d: %v", pass, err)
		}
		if orphan.Status != models.ChunkStatusUnassigned {
			t.Fatalf("pass %d: chunk failed before pass budget", pass)
		}
	}

	if _, err := s.Schedule("task-1", g); err != nil {
		t.Fatalf("final pass: %v", err)
	}
	if orphan.Status != models.ChunkStatusFailed {
		t.Fatalf("expected chunk failed after 3 passes, got %s", orphan.Status)
	}
	if !strings.Contains(orphan.Error, "no eligible worker") {
		t.Errorf("expected no-eligible-worker error, got %q", orphan.Error)
	}
	if !g.Resolved() {
		t.Error("expected graph resolved after escalation")
	}
}

func TestSchedulePassCounterResetsWhenPlaced(t *testing.T) {
	br := breaker.New(breaker.DefaultConfig())
	s, pool := testScheduler(t, br, 2, &models.Worker{ID: "w1", Capacity: 1})
	g := testGraph(t, testChunk("c1"), testChunk("c2"))

	// Pass 1 places one chunk; the other waits (pass count 1).
	plan, err := s.Schedule("task-1", g)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if len(plan.Assignments) != 1 {
		t.Fatalf("expected 1 assignment with capacity 1, got %d", len(plan.Assignments))
	}

	// The first chunk completes, freeing capacity.
	first := plan.Assignments[0].ChunkID
	g.Get(first).Status = models.ChunkStatusSucceeded
	g.MarkSucceeded(first)
	pool.DecLoad("w1")

	// Pass 2 places the waiting chunk before it hits the budget.
	plan, err = s.Schedule("task-1", g)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if len(plan.Assignments) != 1 {
		t.Fatalf("expected waiting chunk placed, got %d assignments", len(plan.Assignments))
	}
	for _, c := range g.Chunks() {
		if c.Status == models.ChunkStatusFailed {
			t.Errorf("chunk %s failed despite eventual placement", c.ID)
		}
	}
}

func TestNoEligibleWorkerErrorMessage(t *testing.T) {
	err := &NoEligibleWorkerError{ChunkID: "c1", Capability: "go", Passes: 5}
	if !strings.Contains(err.Error(), "c1") || !strings.Contains(err.Error(), "go") {
		t.Errorf("error message missing details: %q", err.Error())
	}
}
