package breaker

import (
	"testing"
	"time"
)

// testClock is a manually-advanced time source.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBreaker(cfg Config) (*Breaker, *testClock) {
	b := New(cfg)
	clock := &testClock{now: time.Unix(1000, 0)}
	b.SetClock(clock.Now)
	return b, clock
}

func TestBreakerStartsClosed(t *testing.T) {
	b, _ := newTestBreaker(DefaultConfig())

	if got := b.StateOf("w1"); got != StateClosed {
		t.Fatalf("expected closed, got %s", got)
	}
	if !b.Allow("w1") {
		t.Error("closed breaker should allow assignment")
	}
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 3, SuccessThreshold: 2, RecoveryTimeout: time.Minute, HalfOpenTrials: 1})

	b.RecordFailure("w1")
	b.RecordFailure("w1")
	if got := b.StateOf("w1"); got != StateClosed {
		t.Fatalf("expected closed below threshold, got %s", got)
	}

	b.RecordFailure("w1")
	if got := b.StateOf("w1"); got != StateOpen {
		t.Fatalf("expected open after 3 consecutive failures, got %s", got)
	}
	if b.Allow("w1") {
		t.Error("open breaker must forbid assignment")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 3, SuccessThreshold: 1, RecoveryTimeout: time.Minute, HalfOpenTrials: 1})

	b.RecordFailure("w1")
	b.RecordFailure("w1")
	b.RecordSuccess("w1")
	b.RecordFailure("w1")
	b.RecordFailure("w1")

	if got := b.StateOf("w1"); got != StateClosed {
		t.Fatalf("non-consecutive failures must not open the breaker, got %s", got)
	}
}

func TestBreakerHalfOpenAfterRecoveryTimeout(t *testing.T) {
	cfg := Config{FailureThreshold: 2, SuccessThreshold: 2, RecoveryTimeout: 30 * time.Second, HalfOpenTrials: 1}
	b, clock := newTestBreaker(cfg)

	b.RecordFailure("w1")
	b.RecordFailure("w1")
	if b.Allow("w1") {
		t.Fatal("open breaker must deny before recovery timeout")
	}

	clock.Advance(29 * time.Second)
	if b.Allow("w1") {
		t.Fatal("breaker must stay open until the full timeout elapses")
	}

	clock.Advance(2 * time.Second)
	if !b.Allow("w1") {
		t.Fatal("breaker should admit a trial after recovery timeout")
	}
	if got := b.StateOf("w1"); got != StateHalfOpen {
		t.Fatalf("expected half-open, got %s", got)
	}

	// Trial cap: only one in-flight trial allowed.
	if b.Allow("w1") {
		t.Error("half-open breaker must cap trial chunks")
	}
}

func TestBreakerClosesAfterSuccessThreshold(t *testing.T) {
	cfg := Config{FailureThreshold: 2, SuccessThreshold: 2, RecoveryTimeout: 10 * time.Second, HalfOpenTrials: 1}
	b, clock := newTestBreaker(cfg)

	b.RecordFailure("w1")
	b.RecordFailure("w1")
	clock.Advance(11 * time.Second)

	// First trial succeeds.
	if !b.Allow("w1") {
		t.Fatal("expected first trial to be admitted")
	}
	b.RecordSuccess("w1")
	if got := b.StateOf("w1"); got != StateHalfOpen {
		t.Fatalf("one success below threshold should stay half-open, got %s", got)
	}

	// Second trial succeeds - breaker closes.
	if !b.Allow("w1") {
		t.Fatal("expected second trial to be admitted")
	}
	b.RecordSuccess("w1")
	if got := b.StateOf("w1"); got != StateClosed {
		t.Fatalf("expected closed after success threshold, got %s", got)
	}
	if !b.Allow("w1") {
		t.Error("closed breaker should allow assignment again")
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cfg := Config{FailureThreshold: 2, SuccessThreshold: 2, RecoveryTimeout: 10 * time.Second, HalfOpenTrials: 1}
	b, clock := newTestBreaker(cfg)

	b.RecordFailure("w1")
	b.RecordFailure("w1")
	clock.Advance(11 * time.Second)

	if !b.Allow("w1") {
		t.Fatal("expected trial to be admitted")
	}
	b.RecordFailure("w1")

	if got := b.StateOf("w1"); got != StateOpen {
		t.Fatalf("half-open failure must reopen immediately, got %s", got)
	}
	if b.Allow("w1") {
		t.Error("reopened breaker must deny assignment")
	}
}

func TestBreakerTracksWorkersIndependently(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 1, SuccessThreshold: 1, RecoveryTimeout: time.Minute, HalfOpenTrials: 1})

	b.RecordFailure("w1")

	if b.Allow("w1") {
		t.Error("w1 breaker should be open")
	}
	if !b.Allow("w2") {
		t.Error("w2 breaker should be unaffected")
	}
}
