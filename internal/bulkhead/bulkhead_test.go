package bulkhead

import (
	"context"
	"testing"
	"time"
)

func TestBulkheadCapsPartition(t *testing.T) {
	b := New(map[string]int{"build": 2}, 4)

	if !b.TryAcquire("build") || !b.TryAcquire("build") {
		t.Fatal("expected 2 build slots to be available")
	}
	if b.TryAcquire("build") {
		t.Error("expected build partition to be exhausted at 2 slots")
	}

	b.Release("build")
	if !b.TryAcquire("build") {
		t.Error("expected slot to be available after release")
	}
}

func TestBulkheadPartitionsAreIsolated(t *testing.T) {
	b := New(map[string]int{"build": 1, "test": 1}, 4)

	if !b.TryAcquire("build") {
		t.Fatal("expected build slot")
	}
	// Exhausting build must not affect test.
	if !b.TryAcquire("test") {
		t.Error("test partition must not share slots with build")
	}
}

func TestBulkheadDefaultSize(t *testing.T) {
	b := New(nil, 2)

	if b.Size("anything") != 2 {
		t.Errorf("expected default size 2, got %d", b.Size("anything"))
	}
	if !b.TryAcquire("anything") || !b.TryAcquire("anything") {
		t.Fatal("expected 2 default slots")
	}
	if b.TryAcquire("anything") {
		t.Error("expected default partition exhausted")
	}
}

func TestBulkheadAcquireRespectsContext(t *testing.T) {
	b := New(map[string]int{"build": 1}, 1)

	if !b.TryAcquire("build") {
		t.Fatal("expected initial slot")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := b.Acquire(ctx, "build"); err == nil {
		t.Error("expected Acquire to fail when partition is full and context expires")
	}
}
