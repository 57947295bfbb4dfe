// Package worker provides the worker pool and chunk invocation boundary.
// Workers are external executors; the engine holds non-owning descriptors
// keyed by identifier.
package worker

import (
	"context"

	"github.com/chunkflow/chunkflow/pkg/models"
)

// Invoker executes a single chunk against an external worker.
// Implementations must honor context cancellation and deadlines.
type Invoker interface {
	Invoke(ctx context.Context, chunk *models.Chunk) (*models.ChunkResult, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, chunk *models.Chunk) (*models.ChunkResult, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, chunk *models.Chunk) (*models.ChunkResult, error) {
	return f(ctx, chunk)
}
