package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/chunkflow/chunkflow/pkg/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)
	if err := db.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestTaskRoundTrip(t *testing.T) {
	db := testDB(t)

	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	task := &models.Task{
		ID:               "t1",
		Description:      "index the corpus",
		Complexity:       7,
		Priority:         2,
		Status:           models.TaskStatusRunning,
		Pattern:          "scatter-gather",
		Strategy:         "scatter-gather",
		FailureThreshold: 0.2,
		CreatedAt:        created,
	}
	if err := db.SaveTask(task); err != nil {
		t.Fatalf("SaveTask: %v", err)
	}

	got, err := db.GetTask("t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got == nil {
		t.Fatal("expected task, got nil")
	}
	if got.Status != models.TaskStatusRunning || got.FailureThreshold != 0.2 {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.CompletedAt != nil {
		t.Error("expected no completion timestamp yet")
	}

	// Terminal update.
	done := created.Add(time.Minute)
	task.Status = models.TaskStatusCompleted
	task.CompletedAt = &done
	if err := db.SaveTask(task); err != nil {
		t.Fatalf("SaveTask update: %v", err)
	}
	got, err = db.GetTask("t1")
	if err != nil {
		t.Fatalf("GetTask after update: %v", err)
	}
	if got.Status != models.TaskStatusCompleted || got.CompletedAt == nil {
		t.Errorf("expected terminal task, got %+v", got)
	}
}

func TestGetTaskMissingReturnsNil(t *testing.T) {
	db := testDB(t)
	got, err := db.GetTask("missing")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing task, got %+v", got)
	}
}

func TestChunkRoundTrip(t *testing.T) {
	db := testDB(t)
	if err := db.SaveTask(&models.Task{ID: "t1", Description: "d", Status: models.TaskStatusDecomposed, CreatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}

	chunks := []*models.Chunk{
		{ID: "c1", TaskID: "t1", Description: "first", Effort: 2, Status: models.ChunkStatusUnassigned},
		{ID: "c2", TaskID: "t1", Description: "second", Effort: 1, DependsOn: []string{"c1"}, Capability: "build", Gather: true, Status: models.ChunkStatusUnassigned},
	}
	if err := db.SaveChunks(chunks); err != nil {
		t.Fatalf("SaveChunks: %v", err)
	}

	// Status update on re-save.
	chunks[0].Status = models.ChunkStatusSucceeded
	chunks[0].Result = "out"
	chunks[0].AssignedTo = "w1"
	if err := db.SaveChunks(chunks); err != nil {
		t.Fatalf("SaveChunks update: %v", err)
	}

	got, err := db.ChunksForTask("t1")
	if err != nil {
		t.Fatalf("ChunksForTask: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(got))
	}
	if got[0].Status != models.ChunkStatusSucceeded || got[0].Result != "out" {
		t.Errorf("chunk update not persisted: %+v", got[0])
	}
	if len(got[1].DependsOn) != 1 || got[1].DependsOn[0] != "c1" {
		t.Errorf("dependencies not preserved: %+v", got[1].DependsOn)
	}
	if !got[1].Gather || got[1].Capability != "build" {
		t.Errorf("chunk metadata not preserved: %+v", got[1])
	}
}

func TestOutcomeRoundTrip(t *testing.T) {
	db := testDB(t)
	if err := db.SaveTask(&models.Task{ID: "t1", Description: "d", Status: models.TaskStatusPartial, CreatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}

	outcome := &models.TaskOutcome{
		TaskID:    "t1",
		Status:    models.TaskStatusPartial,
		Result:    "merged",
		Succeeded: 8,
		Failed: []models.ChunkFailure{
			{ChunkID: "c9", Error: "boom", Attempts: 3},
		},
		Duration: 90 * time.Second,
	}
	if err := db.SaveOutcome(outcome); err != nil {
		t.Fatalf("SaveOutcome: %v", err)
	}

	got, err := db.GetOutcome("t1")
	if err != nil {
		t.Fatalf("GetOutcome: %v", err)
	}
	if got == nil {
		t.Fatal("expected outcome, got nil")
	}
	if got.Status != models.TaskStatusPartial || got.Succeeded != 8 || got.Duration != 90*time.Second {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if len(got.Failed) != 1 || got.Failed[0].ChunkID != "c9" || got.Failed[0].Attempts != 3 {
		t.Errorf("failure detail mismatch: %+v", got.Failed)
	}

	if missing, err := db.GetOutcome("nope"); err != nil || missing != nil {
		t.Errorf("expected nil for missing outcome, got %+v err %v", missing, err)
	}
}

func TestListTasksOrdering(t *testing.T) {
	db := testDB(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		task := &models.Task{ID: id, Description: id, Status: models.TaskStatusPending, CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := db.SaveTask(task); err != nil {
			t.Fatal(err)
		}
	}

	tasks, err := db.ListTasks()
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 3 || tasks[0].ID != "new" || tasks[2].ID != "old" {
		ids := make([]string, len(tasks))
		for i, task := range tasks {
			ids[i] = task.ID
		}
		t.Errorf("expected newest-first ordering, got %v", ids)
	}
}
