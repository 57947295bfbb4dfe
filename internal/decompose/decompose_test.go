package decompose

import (
	"errors"
	"testing"
	"time"

	"github.com/chunkflow/chunkflow/pkg/models"
)

func newTask(description string) *models.Task {
	return &models.Task{
		ID:          "task-1",
		Description: description,
		Status:      models.TaskStatusPending,
		CreatedAt:   time.Now(),
	}
}

func TestDecomposeEmptyTask(t *testing.T) {
	d := New()

	_, err := d.Decompose(newTask("   "), StrategyPipeline, 10)
	if !errors.Is(err, ErrEmptyTask) {
		t.Fatalf("expected ErrEmptyTask, got %v", err)
	}

	_, err = d.Decompose(nil, StrategyPipeline, 10)
	if !errors.Is(err, ErrEmptyTask) {
		t.Fatalf("expected ErrEmptyTask for nil task, got %v", err)
	}
}

func TestDecomposeInvalidMaxChunkSize(t *testing.T) {
	d := New()
	if _, err := d.Decompose(newTask("do work"), StrategyPipeline, 0); err == nil {
		t.Fatal("expected error for non-positive maxChunkSize")
	}
}

func TestPipelineStagesAreSequential(t *testing.T) {
	d := New()
	g, err := d.Decompose(newTask("fetch input\ntransform input\nwrite output"), StrategyPipeline, 10)
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}

	chunks := g.Chunks()
	if len(chunks) != 3 {
		t.Fatalf("expected 3 stages, got %d", len(chunks))
	}
	if len(chunks[0].DependsOn) != 0 {
		t.Errorf("first stage should have no dependencies, got %v", chunks[0].DependsOn)
	}
	for i := 1; i < len(chunks); i++ {
		if len(chunks[i].DependsOn) != 1 || chunks[i].DependsOn[0] != chunks[i-1].ID {
			t.Errorf("stage %d should depend only on stage %d", i, i-1)
		}
	}
}

func TestScatterGatherShape(t *testing.T) {
	d := New()
	g, err := d.Decompose(newTask("part one; part two; part three"), StrategyScatterGather, 10)
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}

	chunks := g.Chunks()
	if len(chunks) != 4 {
		t.Fatalf("expected 3 scatter + 1 gather chunks, got %d", len(chunks))
	}

	gather := chunks[len(chunks)-1]
	if !gather.Gather {
		t.Fatal("expected last chunk to be the gather chunk")
	}
	if len(gather.DependsOn) != 3 {
		t.Errorf("gather should depend on all 3 scatter chunks, got %v", gather.DependsOn)
	}
	for _, c := range chunks[:3] {
		if len(c.DependsOn) != 0 {
			t.Errorf("scatter chunk %s should be independent, got deps %v", c.ID, c.DependsOn)
		}
	}
}

func TestSplitRespectsBound(t *testing.T) {
	d := New()
	desc := "one two three four five six seven eight nine ten eleven twelve"
	g, err := d.Decompose(newTask(desc), StrategySplit, 4)
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}

	for _, c := range g.Chunks() {
		if c.Effort > 4 {
			t.Errorf("chunk %s effort %d exceeds bound 4", c.ID, c.Effort)
		}
	}
}

func TestChunkTooLarge(t *testing.T) {
	d := New()
	_, err := d.Decompose(newTask("a stage with far too many words to fit"), StrategyPipeline, 3)

	var tooLarge *ChunkTooLargeError
	if !errors.As(err, &tooLarge) {
		t.Fatalf("expected ChunkTooLargeError, got %v", err)
	}
	if tooLarge.Max != 3 {
		t.Errorf("expected bound 3 in error, got %d", tooLarge.Max)
	}
}

func TestCapabilityTagParsing(t *testing.T) {
	d := New()
	g, err := d.Decompose(newTask("[build] compile the tree\n[test] run the suite"), StrategyPipeline, 10)
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}

	chunks := g.Chunks()
	if chunks[0].Capability != "build" {
		t.Errorf("expected capability build, got %q", chunks[0].Capability)
	}
	if chunks[1].Capability != "test" {
		t.Errorf("expected capability test, got %q", chunks[1].Capability)
	}
	if chunks[0].Description != "compile the tree" {
		t.Errorf("tag should be stripped from description, got %q", chunks[0].Description)
	}
}

func TestDeterministicChunkIDs(t *testing.T) {
	d := New()
	task := newTask("alpha; beta; gamma")

	g1, err := d.Decompose(task, StrategyScatterGather, 10)
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}
	g2, err := d.Decompose(task, StrategyScatterGather, 10)
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}

	c1, c2 := g1.Chunks(), g2.Chunks()
	if len(c1) != len(c2) {
		t.Fatalf("chunk counts differ: %d vs %d", len(c1), len(c2))
	}
	for i := range c1 {
		if c1[i].ID != c2[i].ID {
			t.Errorf("chunk %d ID differs across runs: %s vs %s", i, c1[i].ID, c2[i].ID)
		}
	}
}

func TestAcyclicityAcrossStrategies(t *testing.T) {
	d := New()
	desc := "step one\nstep two\nstep three\nstep four"

	for _, strategy := range []Strategy{StrategyPipeline, StrategyScatterGather, StrategySplit} {
		g, err := d.Decompose(newTask(desc), strategy, 20)
		if err != nil {
			t.Fatalf("strategy %s: %v", strategy, err)
		}
		if g.HasCycle() {
			t.Errorf("strategy %s produced a cyclic graph", strategy)
		}
	}
}
