package worker

import (
	"fmt"
	"sync"

	"github.com/chunkflow/chunkflow/pkg/models"
)

// Pool is the registry of worker descriptors and their invokers.
// Load counters and health are the only mutable shared state in the engine;
// all mutation goes through the pool so updates are single-writer per record.
type Pool struct {
	mu       sync.RWMutex
	workers  map[string]*models.Worker
	invokers map[string]Invoker
	// order preserves registration order for deterministic iteration.
	order []string
}

// NewPool creates an empty worker pool.
func NewPool() *Pool {
	return &Pool{
		workers:  make(map[string]*models.Worker),
		invokers: make(map[string]Invoker),
	}
}

// Register adds a worker and its invoker to the pool.
// Workers registered without explicit health start healthy.
func (p *Pool) Register(w *models.Worker, inv Invoker) error {
	if w == nil || w.ID == "" {
		return fmt.Errorf("worker must have an ID")
	}
	if w.Capacity <= 0 {
		return fmt.Errorf("worker %s must have positive capacity", w.ID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.workers[w.ID]; exists {
		return fmt.Errorf("worker %s already registered", w.ID)
	}
	if w.Health == "" {
		w.Health = models.WorkerHealthy
	}
	p.workers[w.ID] = w
	p.invokers[w.ID] = inv
	p.order = append(p.order, w.ID)
	return nil
}

// Unregister removes a worker from the pool.
func (p *Pool) Unregister(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.workers[id]; !exists {
		return
	}
	delete(p.workers, id)
	delete(p.invokers, id)
	for i, wid := range p.order {
		if wid == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// Invoker returns the invoker for a worker, or nil if unknown.
func (p *Pool) Invoker(id string) Invoker {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.invokers[id]
}

// Get returns a copy of the worker descriptor, or nil if unknown.
func (p *Pool) Get(id string) *models.Worker {
	p.mu.RLock()
	defer p.mu.RUnlock()

	w, ok := p.workers[id]
	if !ok {
		return nil
	}
	cp := *w
	return &cp
}

// Snapshot returns copies of all worker descriptors in registration order.
// Copies keep scheduling passes race-free against concurrent load updates.
func (p *Pool) Snapshot() []*models.Worker {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.Worker, 0, len(p.order))
	for _, id := range p.order {
		cp := *p.workers[id]
		out = append(out, &cp)
	}
	return out
}

// Eligible returns copies of workers that are not unreachable, advertise
// the capability, have free capacity, and pass the allow filter (used for
// circuit-breaker exclusion). A nil allow admits every worker.
func (p *Pool) Eligible(capability string, allow func(workerID string) bool) []*models.Worker {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []*models.Worker
	for _, id := range p.order {
		w := p.workers[id]
		if w.Health == models.WorkerUnreachable {
			continue
		}
		if !w.HasCapability(capability) {
			continue
		}
		if w.Available() == 0 {
			continue
		}
		if allow != nil && !allow(id) {
			continue
		}
		cp := *w
		out = append(out, &cp)
	}
	return out
}

// IncLoad increments a worker's load counter, respecting its capacity.
func (p *Pool) IncLoad(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.workers[id]
	if !ok {
		return fmt.Errorf("unknown worker %s", id)
	}
	if w.Load >= w.Capacity {
		return fmt.Errorf("worker %s at capacity (%d)", id, w.Capacity)
	}
	w.Load++
	return nil
}

// DecLoad decrements a worker's load counter.
func (p *Pool) DecLoad(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w, ok := p.workers[id]; ok && w.Load > 0 {
		w.Load--
	}
}

// SetHealth updates a worker's health status.
func (p *Pool) SetHealth(id string, health models.WorkerHealth) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w, ok := p.workers[id]; ok {
		w.Health = health
	}
}

// Health returns a worker's health, or unreachable if unknown.
func (p *Pool) Health(id string) models.WorkerHealth {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if w, ok := p.workers[id]; ok {
		return w.Health
	}
	return models.WorkerUnreachable
}

// Size returns the number of registered workers.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.workers)
}

// Sync reconciles the pool against a declarative worker list: new workers
// are registered, existing descriptors updated in place (load preserved),
// and workers absent from the list are unregistered.
func (p *Pool) Sync(workers []*models.Worker, invokerFor func(*models.Worker) Invoker) error {
	keep := make(map[string]bool, len(workers))

	for _, w := range workers {
		keep[w.ID] = true

		p.mu.Lock()
		existing, ok := p.workers[w.ID]
		if ok {
			existing.Capabilities = w.Capabilities
			existing.Capacity = w.Capacity
			existing.Priority = w.Priority
			existing.Weight = w.Weight
			existing.Command = w.Command
			p.invokers[w.ID] = invokerFor(existing)
			p.mu.Unlock()
			continue
		}
		p.mu.Unlock()

		if err := p.Register(w, invokerFor(w)); err != nil {
			return fmt.Errorf("register worker %s: %w", w.ID, err)
		}
	}

	for _, id := range p.idsSnapshot() {
		if !keep[id] {
			p.Unregister(id)
		}
	}
	return nil
}

func (p *Pool) idsSnapshot() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, len(p.order))
	copy(ids, p.order)
	return ids
}
