// Package orchestrator is the engine facade. It wires together:
// decomposer -> graph -> scheduler -> monitor -> aggregation, and owns
// every task record for the task's lifetime.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chunkflow/chunkflow/internal/balance"
	"github.com/chunkflow/chunkflow/internal/breaker"
	"github.com/chunkflow/chunkflow/internal/bulkhead"
	"github.com/chunkflow/chunkflow/internal/decompose"
	"github.com/chunkflow/chunkflow/internal/event"
	"github.com/chunkflow/chunkflow/internal/graph"
	"github.com/chunkflow/chunkflow/internal/merge"
	"github.com/chunkflow/chunkflow/internal/monitor"
	"github.com/chunkflow/chunkflow/internal/pattern"
	"github.com/chunkflow/chunkflow/internal/retry"
	"github.com/chunkflow/chunkflow/internal/scheduler"
	"github.com/chunkflow/chunkflow/internal/state"
	"github.com/chunkflow/chunkflow/internal/worker"
	"github.com/chunkflow/chunkflow/pkg/models"
)

// ErrStopped indicates the orchestrator was stopped before the task
// finished.
var ErrStopped = errors.New("orchestrator stopped")

// Config contains the engine-wide defaults and policy knobs.
type Config struct {
	// Pattern is the default orchestration pattern.
	Pattern string
	// Balancer is the default load-balancing algorithm.
	Balancer string
	// Strategy is the default decomposition strategy.
	Strategy string
	// Merge is the merge function for aggregating chunk results.
	Merge string
	// MaxChunkSize caps the effort of a single chunk at decomposition.
	MaxChunkSize int
	// FailureThreshold is the default fraction of chunks allowed to fail.
	FailureThreshold float64
	// MaxPasses bounds scheduling passes a chunk may go unplaced.
	MaxPasses int
	// ChunkTimeout bounds one chunk invocation attempt.
	ChunkTimeout time.Duration
	// PollInterval is the pause between scheduling passes that place nothing.
	PollInterval time.Duration
	// EventBuffer sizes the progress event channel.
	EventBuffer int
	// Retry configures the per-chunk retry policy.
	Retry retry.Config
	// Breaker configures the per-worker circuit breakers.
	Breaker breaker.Config
	// Patterns configures pattern-specific behavior.
	Patterns pattern.Config
	// BulkheadSizes maps capability classes to execution slot budgets.
	BulkheadSizes map[string]int
	// BulkheadDefault is the slot budget for unlisted classes.
	BulkheadDefault int
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Pattern:          "scatter-gather",
		Balancer:         "round-robin",
		Strategy:         "split",
		Merge:            "concat",
		MaxChunkSize:     50,
		FailureThreshold: 0,
		MaxPasses:        10,
		ChunkTimeout:     5 * time.Minute,
		PollInterval:     250 * time.Millisecond,
		EventBuffer:      256,
		Retry:            retry.DefaultConfig(),
		Breaker:          breaker.DefaultConfig(),
		Patterns:         pattern.DefaultConfig(),
		BulkheadDefault:  8,
	}
}

// SubmitRequest describes one task submission. Empty selector fields fall
// back to the engine defaults.
type SubmitRequest struct {
	// Description is the free-text task description.
	Description string
	// Strategy selects the decomposition strategy.
	Strategy string
	// Pattern selects the orchestration pattern, fixed for the task's lifetime.
	Pattern string
	// Balancer selects the load-balancing algorithm.
	Balancer string
	// Priority orders this task relative to others.
	Priority int
	// FailureThreshold overrides the engine default for this task.
	// Must lie in [0, 1); zero means every chunk must succeed.
	FailureThreshold float64
}

// taskRun tracks one task's in-flight orchestration.
type taskRun struct {
	task    *models.Task
	graph   *graph.ChunkGraph
	outcome chan *models.TaskOutcome
	// result is set once terminal, for polling.
	result *models.TaskOutcome
}

// Orchestrator coordinates the full workflow from submission to outcome.
type Orchestrator struct {
	cfg        Config
	pool       *worker.Pool
	br         *breaker.Breaker
	bh         *bulkhead.Bulkhead
	decomposer *decompose.Decomposer
	mon        *monitor.Monitor
	emitter    *event.Emitter
	// store is optional; nil disables persistence.
	store *state.DB

	mu        sync.Mutex
	tasks     map[string]*taskRun
	paused    bool
	pauseCond *sync.Cond

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates an orchestrator over the given worker pool. store may be
// nil to run without persistence.
func New(cfg Config, pool *worker.Pool, store *state.DB) (*Orchestrator, error) {
	def := DefaultConfig()
	if cfg.Pattern == "" {
		cfg.Pattern = def.Pattern
	}
	if cfg.Balancer == "" {
		cfg.Balancer = def.Balancer
	}
	if cfg.Strategy == "" {
		cfg.Strategy = def.Strategy
	}
	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = def.MaxChunkSize
	}
	if cfg.MaxPasses <= 0 {
		cfg.MaxPasses = def.MaxPasses
	}
	if cfg.ChunkTimeout <= 0 {
		cfg.ChunkTimeout = def.ChunkTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}
	if cfg.BulkheadDefault <= 0 {
		cfg.BulkheadDefault = def.BulkheadDefault
	}
	if cfg.FailureThreshold < 0 || cfg.FailureThreshold >= 1 {
		return nil, fmt.Errorf("failure threshold %v outside [0, 1)", cfg.FailureThreshold)
	}

	policy, err := retry.New(cfg.Retry)
	if err != nil {
		return nil, fmt.Errorf("building retry policy: %w", err)
	}
	mergeFn, err := merge.New(cfg.Merge)
	if err != nil {
		return nil, fmt.Errorf("building merge function: %w", err)
	}
	// Validate the default selections up front rather than at first submit.
	if _, err := balance.New(cfg.Balancer); err != nil {
		return nil, err
	}
	if _, err := pattern.New(cfg.Pattern, cfg.Patterns); err != nil {
		return nil, err
	}

	emitter := event.NewEmitter(cfg.EventBuffer)
	br := breaker.New(cfg.Breaker)
	br.OnTransition(func(workerID string, from, to breaker.State) {
		emitter.Emit(event.Event{
			Type:     event.TypeBreakerTransition,
			WorkerID: workerID,
			Message:  fmt.Sprintf("%s -> %s", from, to),
		})
	})
	bh := bulkhead.New(cfg.BulkheadSizes, cfg.BulkheadDefault)

	o := &Orchestrator{
		cfg:        cfg,
		pool:       pool,
		br:         br,
		bh:         bh,
		decomposer: decompose.New(),
		mon:        monitor.New(pool, br, bh, policy, mergeFn, emitter, cfg.ChunkTimeout),
		emitter:    emitter,
		store:      store,
		tasks:      make(map[string]*taskRun),
		stopCh:     make(chan struct{}),
	}
	o.pauseCond = sync.NewCond(&o.mu)
	return o, nil
}

// Submit accepts a task and starts orchestrating it. The task ID returns
// immediately; the terminal outcome is delivered on the channel from
// Outcome and through the event stream.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	select {
	case <-o.stopCh:
		return "", ErrStopped
	default:
	}

	// Validated here so the gather policy and aggregation always see the
	// same threshold.
	if req.FailureThreshold < 0 || req.FailureThreshold >= 1 {
		return "", fmt.Errorf("failure threshold %v outside [0, 1)", req.FailureThreshold)
	}

	task := &models.Task{
		ID:               uuid.New().String()[:8],
		Description:      req.Description,
		Priority:         req.Priority,
		Status:           models.TaskStatusPending,
		Pattern:          req.Pattern,
		Strategy:         req.Strategy,
		FailureThreshold: req.FailureThreshold,
		CreatedAt:        time.Now(),
	}
	if task.Pattern == "" {
		task.Pattern = o.cfg.Pattern
	}
	if task.Strategy == "" {
		task.Strategy = o.cfg.Strategy
	}
	if task.FailureThreshold <= 0 {
		task.FailureThreshold = o.cfg.FailureThreshold
	}

	balancerName := req.Balancer
	if balancerName == "" {
		balancerName = o.cfg.Balancer
	}
	lb, err := balance.New(balancerName)
	if err != nil {
		return "", err
	}

	patCfg := o.cfg.Patterns
	if task.FailureThreshold > 0 {
		patCfg.FailureThreshold = task.FailureThreshold
	}
	pat, err := pattern.New(task.Pattern, patCfg)
	if err != nil {
		return "", err
	}
	if _, err := decompose.ParseStrategy(task.Strategy); err != nil {
		return "", err
	}

	run := &taskRun{task: task, outcome: make(chan *models.TaskOutcome, 1)}
	o.mu.Lock()
	o.tasks[task.ID] = run
	o.mu.Unlock()

	o.saveTask(task)
	o.emitter.Emit(event.Event{Type: event.TypeTaskSubmitted, TaskID: task.ID, Message: task.Description})

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(ctx, run, pat, lb)
	}()
	return task.ID, nil
}

// run drives one task from decomposition to terminal outcome.
func (o *Orchestrator) run(ctx context.Context, run *taskRun, pat pattern.Pattern, lb balance.Balancer) {
	task := run.task

	strategy, _ := decompose.ParseStrategy(task.Strategy)
	g, err := o.decomposer.Decompose(task, strategy, o.cfg.MaxChunkSize)
	if err != nil {
		o.finishWithError(run, fmt.Errorf("decomposing task: %w", err))
		return
	}
	o.mu.Lock()
	run.graph = g
	run.task.Status = models.TaskStatusDecomposed
	o.mu.Unlock()

	o.saveTask(task)
	o.saveChunks(g)
	o.emitter.Emit(event.Event{
		Type:    event.TypeTaskDecomposed,
		TaskID:  task.ID,
		Message: fmt.Sprintf("%d chunks, strategy %s", g.Size(), task.Strategy),
	})

	sched := scheduler.New(pat, lb, o.br, o.pool, o.cfg.MaxPasses)

	running := false
	for !g.Resolved() {
		select {
		case <-ctx.Done():
			o.finishWithError(run, ctx.Err())
			return
		case <-o.stopCh:
			o.finishWithError(run, ErrStopped)
			return
		default:
		}

		o.waitIfPaused()

		plan, err := sched.Schedule(task.ID, g)
		if err != nil {
			o.finishWithError(run, fmt.Errorf("scheduling: %w", err))
			return
		}

		if plan.Empty() {
			if g.Resolved() {
				break
			}
			// Nothing placeable right now: workers full, breakers open, or
			// retry delays pending. Back off before the next pass.
			if err := sleepCtx(ctx, o.cfg.PollInterval); err != nil {
				o.finishWithError(run, err)
				return
			}
			continue
		}

		if !running {
			o.setStatus(run, models.TaskStatusScheduled)
			o.saveTask(task)
		}
		for _, a := range plan.Assignments {
			o.emitter.Emit(event.Event{Type: event.TypeChunkAssigned, TaskID: task.ID, ChunkID: a.ChunkID, WorkerID: a.WorkerID})
		}

		o.setStatus(run, models.TaskStatusRunning)
		running = true
		if err := o.mon.Execute(ctx, g, plan); err != nil {
			o.saveChunks(g)
			o.finishWithError(run, fmt.Errorf("executing dispatch wave: %w", err))
			return
		}
		o.saveChunks(g)
	}

	outcome, err := o.mon.Aggregate(task, g)
	if err != nil {
		o.finishWithError(run, fmt.Errorf("aggregating results: %w", err))
		return
	}
	o.finish(run, outcome)
}

// finishWithError delivers a terminal failed outcome carrying the error.
// Callers always receive an outcome, never a bare error.
func (o *Orchestrator) finishWithError(run *taskRun, err error) {
	task := run.task
	log.Printf("[orchestrator] task %s failed: %v", task.ID, err)

	outcome := &models.TaskOutcome{
		TaskID:   task.ID,
		Status:   models.TaskStatusFailed,
		Failed:   []models.ChunkFailure{{Error: err.Error()}},
		Duration: time.Since(task.CreatedAt),
	}
	o.emitter.Emit(event.Event{Type: event.TypeTaskCompleted, TaskID: task.ID, Err: err})
	o.finish(run, outcome)
}

// finish applies the terminal status to the task record and delivers the
// outcome. All task writes happen under o.mu so Task() snapshots stay
// consistent with the run loop.
func (o *Orchestrator) finish(run *taskRun, outcome *models.TaskOutcome) {
	now := time.Now()
	o.mu.Lock()
	run.task.Status = outcome.Status
	run.task.CompletedAt = &now
	run.result = outcome
	o.mu.Unlock()

	o.saveTask(run.task)
	if o.store != nil {
		if err := o.store.SaveOutcome(outcome); err != nil {
			log.Printf("[orchestrator] persisting outcome for task %s: %v", outcome.TaskID, err)
		}
	}

	run.outcome <- outcome
	close(run.outcome)
}

// Outcome returns the channel delivering the task's terminal outcome.
func (o *Orchestrator) Outcome(taskID string) (<-chan *models.TaskOutcome, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	run, ok := o.tasks[taskID]
	if !ok {
		return nil, false
	}
	return run.outcome, true
}

// Result polls for a task's terminal outcome, nil while still running.
func (o *Orchestrator) Result(taskID string) (*models.TaskOutcome, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	run, ok := o.tasks[taskID]
	if !ok {
		return nil, false
	}
	return run.result, true
}

// Task returns a copy of the task record.
func (o *Orchestrator) Task(taskID string) (*models.Task, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	run, ok := o.tasks[taskID]
	if !ok {
		return nil, false
	}
	cp := *run.task
	return &cp, true
}

// Graph returns the task's chunk graph for inspection, nil before
// decomposition completes.
func (o *Orchestrator) Graph(taskID string) *graph.ChunkGraph {
	o.mu.Lock()
	defer o.mu.Unlock()
	if run, ok := o.tasks[taskID]; ok {
		return run.graph
	}
	return nil
}

// Events returns the progress event stream.
func (o *Orchestrator) Events() <-chan event.Event {
	return o.emitter.Events()
}

// Pause stops new scheduling passes. In-flight chunks run to completion.
func (o *Orchestrator) Pause() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paused = true
	log.Printf("[orchestrator] paused")
}

// Resume restarts scheduling after a pause.
func (o *Orchestrator) Resume() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paused = false
	o.pauseCond.Broadcast()
	log.Printf("[orchestrator] resumed")
}

// IsPaused reports whether scheduling is paused.
func (o *Orchestrator) IsPaused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused
}

// Stop aborts all in-flight tasks and waits for their loops to exit.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		close(o.stopCh)
		o.Resume()
		o.wg.Wait()
		o.emitter.Close()
	})
}

// setStatus updates the task record under the lock; the run goroutine is
// the only writer, Task() snapshots are the readers.
func (o *Orchestrator) setStatus(run *taskRun, status models.TaskStatus) {
	o.mu.Lock()
	run.task.Status = status
	o.mu.Unlock()
}

func (o *Orchestrator) waitIfPaused() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for o.paused {
		select {
		case <-o.stopCh:
			return
		default:
		}
		o.pauseCond.Wait()
	}
}

func (o *Orchestrator) saveTask(task *models.Task) {
	if o.store == nil {
		return
	}
	if err := o.store.SaveTask(task); err != nil {
		log.Printf("[orchestrator] persisting task %s: %v", task.ID, err)
	}
}

func (o *Orchestrator) saveChunks(g *graph.ChunkGraph) {
	if o.store == nil {
		return
	}
	if err := o.store.SaveChunks(g.Chunks()); err != nil {
		log.Printf("[orchestrator] persisting chunks: %v", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
