// Package monitor drives execution of assignment plans: it dispatches
// chunks to their workers, applies retry and circuit-breaker policy on
// failures, enforces bulkhead isolation, and aggregates the final task
// outcome.
package monitor

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chunkflow/chunkflow/internal/breaker"
	"github.com/chunkflow/chunkflow/internal/bulkhead"
	"github.com/chunkflow/chunkflow/internal/event"
	"github.com/chunkflow/chunkflow/internal/graph"
	"github.com/chunkflow/chunkflow/internal/merge"
	"github.com/chunkflow/chunkflow/internal/retry"
	"github.com/chunkflow/chunkflow/internal/worker"
	"github.com/chunkflow/chunkflow/pkg/models"
)

// Monitor executes dispatch waves and owns all chunk mutation during
// execution. One goroutine handles one chunk, so chunk records never see
// concurrent writers.
type Monitor struct {
	pool    *worker.Pool
	br      *breaker.Breaker
	bh      *bulkhead.Bulkhead
	policy  retry.Policy
	mergeFn merge.Func
	emitter *event.Emitter
	// chunkTimeout bounds a single invocation attempt.
	chunkTimeout time.Duration
	// sleep is injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a monitor. A nil emitter disables progress events.
func New(pool *worker.Pool, br *breaker.Breaker, bh *bulkhead.Bulkhead, policy retry.Policy, mergeFn merge.Func, emitter *event.Emitter, chunkTimeout time.Duration) *Monitor {
	if chunkTimeout <= 0 {
		chunkTimeout = 5 * time.Minute
	}
	return &Monitor{
		pool:         pool,
		br:           br,
		bh:           bh,
		policy:       policy,
		mergeFn:      mergeFn,
		emitter:      emitter,
		chunkTimeout: chunkTimeout,
		sleep:        sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Execute runs one dispatch wave: every assignment in the plan is issued
// concurrently, no chunk waits on a sibling. Execute returns once all
// dispatched chunks reach succeeded, failed or retrying.
func (m *Monitor) Execute(ctx context.Context, g *graph.ChunkGraph, plan *models.AssignmentPlan) error {
	if plan.Empty() {
		return nil
	}

	wave, ctx := errgroup.WithContext(ctx)
	for _, a := range plan.Assignments {
		chunk := g.Get(a.ChunkID)
		if chunk == nil {
			continue
		}
		workerID := a.WorkerID
		wave.Go(func() error {
			return m.runChunk(ctx, g, chunk, workerID)
		})
	}
	return wave.Wait()
}

// runChunk executes one chunk on its worker, holding a bulkhead slot for
// the chunk's capability class for the duration.
func (m *Monitor) runChunk(ctx context.Context, g *graph.ChunkGraph, chunk *models.Chunk, workerID string) error {
	if err := m.bh.Acquire(ctx, chunk.Capability); err != nil {
		chunk.Status = models.ChunkStatusUnassigned
		chunk.AssignedTo = ""
		m.pool.DecLoad(workerID)
		return err
	}
	defer m.bh.Release(chunk.Capability)
	defer m.pool.DecLoad(workerID)

	chunk.Status = models.ChunkStatusRunning
	m.emit(event.Event{Type: event.TypeChunkStarted, TaskID: chunk.TaskID, ChunkID: chunk.ID, WorkerID: workerID})

	result, err := m.invoke(ctx, chunk, workerID)
	if err == nil {
		chunk.Status = models.ChunkStatusSucceeded
		chunk.Result = result.Output
		chunk.Error = ""
		g.MarkSucceeded(chunk.ID)
		m.br.RecordSuccess(workerID)
		m.emit(event.Event{Type: event.TypeChunkSucceeded, TaskID: chunk.TaskID, ChunkID: chunk.ID, WorkerID: workerID})
		return nil
	}

	m.br.RecordFailure(workerID)
	chunk.Error = err.Error()

	if ctx.Err() != nil {
		chunk.Status = models.ChunkStatusFailed
		g.MarkFailed(chunk.ID)
		return ctx.Err()
	}

	chunk.RetryCount++
	delay, ok := m.policy.NextDelay(chunk.RetryCount)
	if !ok {
		chunk.Status = models.ChunkStatusFailed
		g.MarkFailed(chunk.ID)
		log.Printf("[monitor] chunk %s failed permanently after %d attempts: %v", chunk.ID, chunk.RetryCount+1, err)
		m.emit(event.Event{Type: event.TypeChunkFailed, TaskID: chunk.TaskID, ChunkID: chunk.ID, WorkerID: workerID, Err: err})
		return nil
	}

	m.emit(event.Event{Type: event.TypeChunkRetrying, TaskID: chunk.TaskID, ChunkID: chunk.ID, WorkerID: workerID, Err: err, Attempt: chunk.RetryCount})
	if err := m.sleep(ctx, delay); err != nil {
		chunk.Status = models.ChunkStatusFailed
		g.MarkFailed(chunk.ID)
		return err
	}

	// Back to the scheduler, which may route the retry to another worker.
	chunk.AssignedTo = ""
	chunk.Status = models.ChunkStatusRetrying
	return nil
}

// invoke runs a single attempt under the per-chunk timeout.
func (m *Monitor) invoke(ctx context.Context, chunk *models.Chunk, workerID string) (*models.ChunkResult, error) {
	inv := m.pool.Invoker(workerID)
	if inv == nil {
		return nil, fmt.Errorf("worker %s has no invoker", workerID)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, m.chunkTimeout)
	defer cancel()

	start := time.Now()
	result, err := inv.Invoke(attemptCtx, chunk)
	if err != nil {
		if attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, fmt.Errorf("chunk %s timed out after %s on worker %s", chunk.ID, m.chunkTimeout, workerID)
		}
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("worker %s returned no result for chunk %s", workerID, chunk.ID)
	}
	if result.Duration == 0 {
		result.Duration = time.Since(start)
	}
	result.ChunkID = chunk.ID
	result.WorkerID = workerID
	return result, nil
}

// Aggregate computes the terminal task outcome once the graph is resolved.
// Succeeded outputs are merged in graph order so retries of deterministic
// chunks never change the merged result. Chunks blocked behind a failure
// count as failed for the threshold policy. The task record is read-only
// here; the caller applies the terminal status under its own lock.
func (m *Monitor) Aggregate(task *models.Task, g *graph.ChunkGraph) (*models.TaskOutcome, error) {
	chunks := g.Chunks()
	byID := make(map[string]*models.Chunk, len(chunks))
	var results []*models.ChunkResult
	var failed []models.ChunkFailure

	for _, c := range chunks {
		byID[c.ID] = c
		switch {
		case c.Status == models.ChunkStatusSucceeded:
			results = append(results, &models.ChunkResult{ChunkID: c.ID, WorkerID: c.AssignedTo, Output: c.Result})
		case c.Status == models.ChunkStatusFailed:
			failed = append(failed, models.ChunkFailure{ChunkID: c.ID, Error: c.Error, Attempts: c.RetryCount + 1})
		default:
			failed = append(failed, models.ChunkFailure{ChunkID: c.ID, Error: "blocked by failed dependency", Attempts: c.RetryCount})
		}
	}

	status := models.TaskStatusCompleted
	if len(failed) > 0 {
		ratio := float64(len(failed)) / float64(len(chunks))
		if ratio <= task.FailureThreshold {
			status = models.TaskStatusPartial
		} else {
			status = models.TaskStatusFailed
		}
	}

	merged, err := m.mergeFn.Merge(results, byID)
	if err != nil {
		return nil, fmt.Errorf("merging results for task %s: %w", task.ID, err)
	}

	outcome := &models.TaskOutcome{
		TaskID:    task.ID,
		Status:    status,
		Result:    merged,
		Succeeded: len(results),
		Failed:    failed,
	}
	if !task.CreatedAt.IsZero() {
		outcome.Duration = time.Since(task.CreatedAt)
	}

	m.emit(event.Event{
		Type:    event.TypeTaskCompleted,
		TaskID:  task.ID,
		Message: fmt.Sprintf("%d succeeded, %d failed", len(results), len(failed)),
	})
	return outcome, nil
}

func (m *Monitor) emit(ev event.Event) {
	if m.emitter != nil {
		m.emitter.Emit(ev)
	}
}
