// Package breaker implements the per-worker circuit breaker state machine.
package breaker

import (
	"log"
	"sync"
	"time"
)

// State is the circuit breaker state.
type State string

const (
	// StateClosed allows normal assignment.
	StateClosed State = "closed"
	// StateOpen forbids assignment until the recovery timeout elapses.
	StateOpen State = "open"
	// StateHalfOpen allows a limited number of trial chunks.
	StateHalfOpen State = "half-open"
)

// Config holds circuit breaker thresholds.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold int
	// SuccessThreshold is the number of consecutive half-open successes that closes it.
	SuccessThreshold int
	// RecoveryTimeout is how long the breaker stays open before half-open.
	RecoveryTimeout time.Duration
	// HalfOpenTrials caps concurrent trial chunks while half-open.
	HalfOpenTrials int
}

// DefaultConfig returns the default breaker thresholds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenTrials:   1,
	}
}

// workerState is the breaker bookkeeping for one worker.
type workerState struct {
	state     State
	failures  int
	successes int
	openedAt  time.Time
	// trials counts in-flight half-open trial chunks.
	trials int
}

// Breaker tracks circuit state per worker. Mutations happen on every
// execution outcome; the execution monitor is the sole writer.
type Breaker struct {
	mu     sync.Mutex
	cfg    Config
	states map[string]*workerState
	// now is injectable for tests.
	now func() time.Time
	// onTransition, if set, is called after a state change.
	onTransition func(workerID string, from, to State)
}

// New creates a breaker with the given thresholds.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultConfig().SuccessThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultConfig().RecoveryTimeout
	}
	if cfg.HalfOpenTrials <= 0 {
		cfg.HalfOpenTrials = DefaultConfig().HalfOpenTrials
	}
	return &Breaker{
		cfg:    cfg,
		states: make(map[string]*workerState),
		now:    time.Now,
	}
}

// SetClock overrides the breaker's time source, for tests.
func (b *Breaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// OnTransition registers a callback invoked after every state change.
func (b *Breaker) OnTransition(fn func(workerID string, from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTransition = fn
}

// Allow reports whether the worker may receive a chunk. An open breaker
// whose recovery timeout has elapsed transitions to half-open and admits
// up to the configured number of trial chunks.
func (b *Breaker) Allow(workerID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	ws := b.state(workerID)
	switch ws.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(ws.openedAt) < b.cfg.RecoveryTimeout {
			return false
		}
		b.transition(workerID, ws, StateHalfOpen)
		ws.successes = 0
		ws.trials = 1
		return true
	case StateHalfOpen:
		if ws.trials >= b.cfg.HalfOpenTrials {
			return false
		}
		ws.trials++
		return true
	}
	return false
}

// CanAssign reports whether the worker could receive a chunk without
// consuming a half-open trial slot. Scheduling passes use this to filter
// candidates; the winning assignment is then reserved with Allow.
func (b *Breaker) CanAssign(workerID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	ws := b.state(workerID)
	switch ws.state {
	case StateClosed:
		return true
	case StateOpen:
		return b.now().Sub(ws.openedAt) >= b.cfg.RecoveryTimeout
	case StateHalfOpen:
		return ws.trials < b.cfg.HalfOpenTrials
	}
	return false
}

// RecordSuccess records a successful chunk execution for the worker.
func (b *Breaker) RecordSuccess(workerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ws := b.state(workerID)
	switch ws.state {
	case StateClosed:
		ws.failures = 0
	case StateHalfOpen:
		if ws.trials > 0 {
			ws.trials--
		}
		ws.successes++
		if ws.successes >= b.cfg.SuccessThreshold {
			b.transition(workerID, ws, StateClosed)
			ws.failures = 0
			ws.successes = 0
		}
	}
}

// RecordFailure records a failed chunk execution for the worker.
// Reaching the failure threshold while closed opens the breaker; any
// failure while half-open reopens it immediately.
func (b *Breaker) RecordFailure(workerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ws := b.state(workerID)
	switch ws.state {
	case StateClosed:
		ws.failures++
		if ws.failures >= b.cfg.FailureThreshold {
			b.open(workerID, ws)
		}
	case StateHalfOpen:
		b.open(workerID, ws)
	}
}

// StateOf returns the worker's current breaker state.
func (b *Breaker) StateOf(workerID string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state(workerID).state
}

// ConsecutiveFailures returns the worker's consecutive failure count.
func (b *Breaker) ConsecutiveFailures(workerID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state(workerID).failures
}

func (b *Breaker) state(workerID string) *workerState {
	ws, ok := b.states[workerID]
	if !ok {
		ws = &workerState{state: StateClosed}
		b.states[workerID] = ws
	}
	return ws
}

func (b *Breaker) open(workerID string, ws *workerState) {
	b.transition(workerID, ws, StateOpen)
	ws.openedAt = b.now()
	ws.successes = 0
	ws.trials = 0
}

// transition changes state and fires the callback. Caller holds b.mu.
func (b *Breaker) transition(workerID string, ws *workerState, to State) {
	from := ws.state
	if from == to {
		return
	}
	ws.state = to
	log.Printf("[breaker] worker %s: %s -> %s", workerID, from, to)
	if b.onTransition != nil {
		// Fire outside the lock to avoid deadlock with callbacks that
		// query the breaker.
		fn := b.onTransition
		go fn(workerID, from, to)
	}
}
