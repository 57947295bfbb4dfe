// Package exec provides an interface for command execution.
package exec

import (
	"context"
)

// CommandRunner defines the interface for running external commands.
// This abstraction allows mocking command execution in tests.
type CommandRunner interface {
	// Run executes a command and returns combined stdout/stderr output.
	// Extra environment variables are appended to the process environment.
	Run(ctx context.Context, env []string, name string, args ...string) (output []byte, err error)

	// RunShell executes a shell command through "sh -c".
	RunShell(ctx context.Context, env []string, command string) (output []byte, err error)
}
