package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chunkflow/chunkflow/internal/exec"
	"github.com/chunkflow/chunkflow/pkg/models"
)

// CommandInvoker executes chunks by running an external command per
// invocation. The chunk is passed through CHUNK_ID, CHUNK_TASK_ID and
// CHUNK_DESCRIPTION environment variables; stdout becomes the result.
type CommandInvoker struct {
	workerID string
	command  string
	runner   exec.CommandRunner
}

// NewCommandInvoker creates an invoker for a command-backed worker.
func NewCommandInvoker(workerID, command string, runner exec.CommandRunner) *CommandInvoker {
	if runner == nil {
		runner = exec.NewRunner()
	}
	return &CommandInvoker{
		workerID: workerID,
		command:  command,
		runner:   runner,
	}
}

// Invoke runs the worker command for the chunk.
func (ci *CommandInvoker) Invoke(ctx context.Context, chunk *models.Chunk) (*models.ChunkResult, error) {
	env := []string{
		"CHUNK_ID=" + chunk.ID,
		"CHUNK_TASK_ID=" + chunk.TaskID,
		"CHUNK_DESCRIPTION=" + chunk.Description,
		"CHUNK_CAPABILITY=" + chunk.Capability,
	}

	start := time.Now()
	out, err := ci.runner.RunShell(ctx, env, ci.command)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("worker %s command failed: %w: %s", ci.workerID, err, strings.TrimSpace(string(out)))
	}

	return &models.ChunkResult{
		ChunkID:  chunk.ID,
		WorkerID: ci.workerID,
		Output:   strings.TrimSpace(string(out)),
		Duration: time.Since(start),
	}, nil
}

var _ Invoker = (*CommandInvoker)(nil)
