package retry

import (
	"testing"
	"time"
)

func TestExponentialBackoffTiming(t *testing.T) {
	// initial 1s, multiplier 2, max delay 60s, max retries 5:
	// delays 1s, 2s, 4s, 8s, 16s, then permanent failure on the 6th attempt.
	p := NewExponential(time.Second, 2, 60*time.Second, 5, false)

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}
	for i, expected := range want {
		delay, ok := p.NextDelay(i + 1)
		if !ok {
			t.Fatalf("attempt %d: expected retry to be permitted", i+1)
		}
		if delay != expected {
			t.Errorf("attempt %d: expected delay %s, got %s", i+1, expected, delay)
		}
	}

	if _, ok := p.NextDelay(6); ok {
		t.Error("expected permanent failure on the 6th attempt")
	}
}

func TestExponentialCapsAtMaxDelay(t *testing.T) {
	p := NewExponential(time.Second, 2, 5*time.Second, 10, false)

	delay, ok := p.NextDelay(10)
	if !ok {
		t.Fatal("expected retry within budget")
	}
	if delay != 5*time.Second {
		t.Errorf("expected delay capped at 5s, got %s", delay)
	}
}

func TestExponentialJitterBounds(t *testing.T) {
	p := NewExponential(time.Second, 2, 60*time.Second, 5, true)

	for i := 0; i < 20; i++ {
		delay, ok := p.NextDelay(3)
		if !ok {
			t.Fatal("expected retry within budget")
		}
		base := 4 * time.Second
		if delay < base || delay > base+base/10+time.Nanosecond {
			t.Errorf("jittered delay %s outside [%s, %s]", delay, base, base+base/10)
		}
	}
}

func TestLinearBackoff(t *testing.T) {
	p := NewLinear(2*time.Second, time.Second, 3)

	want := []time.Duration{2 * time.Second, 3 * time.Second, 4 * time.Second}
	for i, expected := range want {
		delay, ok := p.NextDelay(i + 1)
		if !ok {
			t.Fatalf("attempt %d: expected retry", i+1)
		}
		if delay != expected {
			t.Errorf("attempt %d: expected %s, got %s", i+1, expected, delay)
		}
	}

	if _, ok := p.NextDelay(4); ok {
		t.Error("expected budget exhaustion after 3 retries")
	}
}

func TestImmediateEscalatesToExponential(t *testing.T) {
	exp := NewExponential(time.Second, 2, 60*time.Second, 2, false)
	p := NewImmediate(2, exp)

	// First two retries are immediate.
	for attempt := 1; attempt <= 2; attempt++ {
		delay, ok := p.NextDelay(attempt)
		if !ok || delay != 0 {
			t.Errorf("attempt %d: expected immediate retry, got %s ok=%v", attempt, delay, ok)
		}
	}

	// Escalation: attempts 3 and 4 map to exponential attempts 1 and 2.
	delay, ok := p.NextDelay(3)
	if !ok || delay != time.Second {
		t.Errorf("attempt 3: expected 1s exponential delay, got %s ok=%v", delay, ok)
	}
	delay, ok = p.NextDelay(4)
	if !ok || delay != 2*time.Second {
		t.Errorf("attempt 4: expected 2s exponential delay, got %s ok=%v", delay, ok)
	}

	// Combined budget exhausted.
	if _, ok := p.NextDelay(5); ok {
		t.Error("expected exhaustion after immediate + exponential budgets")
	}
}

func TestNewFromConfig(t *testing.T) {
	tests := []struct {
		policy string
		want   string
	}{
		{"exponential", "exponential"},
		{"", "exponential"},
		{"linear", "linear"},
		{"immediate", "immediate"},
	}
	for _, tt := range tests {
		p, err := New(Config{Policy: tt.policy})
		if err != nil {
			t.Fatalf("New(%q): %v", tt.policy, err)
		}
		if p.Name() != tt.want {
			t.Errorf("New(%q): expected %q, got %q", tt.policy, tt.want, p.Name())
		}
	}

	if _, err := New(Config{Policy: "bogus"}); err == nil {
		t.Error("expected error for unknown policy")
	}
}
