// Package retry provides the per-chunk retry policies applied by the
// execution monitor.
package retry

import (
	"fmt"
	"math/rand"
	"time"
)

// Policy decides whether and when a failed chunk execution is retried.
type Policy interface {
	// Name returns the policy's configuration name.
	Name() string
	// NextDelay returns the delay before the given retry attempt
	// (1-indexed) and whether a retry is permitted at all.
	NextDelay(attempt int) (time.Duration, bool)
}

// Config holds the parameters for building a retry policy.
type Config struct {
	// Policy selects the policy: "exponential", "linear" or "immediate".
	Policy string
	// MaxRetries is the retry budget after the initial attempt.
	MaxRetries int
	// InitialDelay is the first retry delay (exponential/linear).
	InitialDelay time.Duration
	// Multiplier grows the delay between exponential retries.
	Multiplier float64
	// MaxDelay caps the delay for exponential backoff.
	MaxDelay time.Duration
	// Increment is the fixed step for linear backoff.
	Increment time.Duration
	// Jitter adds up to 10% random variance to exponential delays.
	Jitter bool
	// ImmediateBudget is how many zero-delay retries the immediate policy
	// spends before escalating to exponential backoff.
	ImmediateBudget int
}

// DefaultConfig returns the default retry parameters.
func DefaultConfig() Config {
	return Config{
		Policy:          "exponential",
		MaxRetries:      5,
		InitialDelay:    time.Second,
		Multiplier:      2,
		MaxDelay:        60 * time.Second,
		Increment:       time.Second,
		ImmediateBudget: 2,
	}
}

// New builds a policy from config.
func New(cfg Config) (Policy, error) {
	def := DefaultConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.Increment <= 0 {
		cfg.Increment = def.Increment
	}
	if cfg.ImmediateBudget <= 0 {
		cfg.ImmediateBudget = def.ImmediateBudget
	}

	switch cfg.Policy {
	case "exponential", "":
		return NewExponential(cfg.InitialDelay, cfg.Multiplier, cfg.MaxDelay, cfg.MaxRetries, cfg.Jitter), nil
	case "linear":
		return NewLinear(cfg.InitialDelay, cfg.Increment, cfg.MaxRetries), nil
	case "immediate":
		exp := NewExponential(cfg.InitialDelay, cfg.Multiplier, cfg.MaxDelay, cfg.MaxRetries, cfg.Jitter)
		return NewImmediate(cfg.ImmediateBudget, exp), nil
	default:
		return nil, fmt.Errorf("unknown retry policy %q", cfg.Policy)
	}
}

// Exponential backs off geometrically: initial, initial*m, initial*m^2...
// capped at maxDelay, up to maxRetries attempts.
type Exponential struct {
	initial    time.Duration
	multiplier float64
	maxDelay   time.Duration
	maxRetries int
	jitter     bool
}

// NewExponential creates an exponential backoff policy.
func NewExponential(initial time.Duration, multiplier float64, maxDelay time.Duration, maxRetries int, jitter bool) *Exponential {
	return &Exponential{
		initial:    initial,
		multiplier: multiplier,
		maxDelay:   maxDelay,
		maxRetries: maxRetries,
		jitter:     jitter,
	}
}

// Name returns "exponential".
func (e *Exponential) Name() string { return "exponential" }

// NextDelay returns the delay before the attempt, or false once the
// retry budget is exhausted.
func (e *Exponential) NextDelay(attempt int) (time.Duration, bool) {
	if attempt < 1 || attempt > e.maxRetries {
		return 0, false
	}

	delay := e.initial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * e.multiplier)
		if delay >= e.maxDelay {
			delay = e.maxDelay
			break
		}
	}
	if delay > e.maxDelay {
		delay = e.maxDelay
	}

	if e.jitter {
		// Up to 10% variance spreads thundering retries.
		delay += time.Duration(rand.Int63n(int64(delay)/10 + 1))
	}
	return delay, true
}

// Linear backs off by a fixed increment: initial, initial+step, ...
type Linear struct {
	initial    time.Duration
	increment  time.Duration
	maxRetries int
}

// NewLinear creates a linear backoff policy.
func NewLinear(initial, increment time.Duration, maxRetries int) *Linear {
	return &Linear{initial: initial, increment: increment, maxRetries: maxRetries}
}

// Name returns "linear".
func (l *Linear) Name() string { return "linear" }

// NextDelay returns the delay before the attempt, or false once the
// retry budget is exhausted.
func (l *Linear) NextDelay(attempt int) (time.Duration, bool) {
	if attempt < 1 || attempt > l.maxRetries {
		return 0, false
	}
	return l.initial + time.Duration(attempt-1)*l.increment, true
}

// Immediate retries with zero delay for known-transient errors, then
// escalates to the wrapped exponential policy once its budget is spent.
type Immediate struct {
	budget   int
	fallback Policy
}

// NewImmediate creates an immediate-retry policy with an escalation fallback.
func NewImmediate(budget int, fallback Policy) *Immediate {
	return &Immediate{budget: budget, fallback: fallback}
}

// Name returns "immediate".
func (im *Immediate) Name() string { return "immediate" }

// NextDelay returns zero delay within the immediate budget, then defers
// to the fallback policy with the attempt counter rebased.
func (im *Immediate) NextDelay(attempt int) (time.Duration, bool) {
	if attempt < 1 {
		return 0, false
	}
	if attempt <= im.budget {
		return 0, true
	}
	if im.fallback == nil {
		return 0, false
	}
	return im.fallback.NextDelay(attempt - im.budget)
}
