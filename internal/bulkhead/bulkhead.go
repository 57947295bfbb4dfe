// Package bulkhead isolates execution slot budgets per capability class so
// a misbehaving worker class cannot exhaust slots needed by another.
package bulkhead

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Bulkhead partitions execution slots by capability class. Classes never
// share a slot budget.
type Bulkhead struct {
	mu sync.Mutex
	// partitions maps capability class to its slot semaphore.
	partitions map[string]*semaphore.Weighted
	sizes      map[string]int
	// defaultSize is used for classes without an explicit partition.
	defaultSize int
}

// New creates a bulkhead. Classes absent from sizes get defaultSize slots.
func New(sizes map[string]int, defaultSize int) *Bulkhead {
	if defaultSize <= 0 {
		defaultSize = 4
	}
	b := &Bulkhead{
		partitions:  make(map[string]*semaphore.Weighted),
		sizes:       make(map[string]int, len(sizes)),
		defaultSize: defaultSize,
	}
	for class, size := range sizes {
		if size > 0 {
			b.sizes[class] = size
		}
	}
	return b
}

// Acquire blocks until a slot in the class's partition is available or the
// context is cancelled.
func (b *Bulkhead) Acquire(ctx context.Context, class string) error {
	return b.partition(class).Acquire(ctx, 1)
}

// TryAcquire takes a slot without blocking, reporting whether it succeeded.
func (b *Bulkhead) TryAcquire(class string) bool {
	return b.partition(class).TryAcquire(1)
}

// Release returns a slot to the class's partition.
func (b *Bulkhead) Release(class string) {
	b.partition(class).Release(1)
}

// Size returns the slot budget for a class.
func (b *Bulkhead) Size(class string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if size, ok := b.sizes[class]; ok {
		return size
	}
	return b.defaultSize
}

func (b *Bulkhead) partition(class string) *semaphore.Weighted {
	b.mu.Lock()
	defer b.mu.Unlock()

	sem, ok := b.partitions[class]
	if !ok {
		size := b.sizes[class]
		if size <= 0 {
			size = b.defaultSize
		}
		sem = semaphore.NewWeighted(int64(size))
		b.partitions[class] = sem
	}
	return sem
}
