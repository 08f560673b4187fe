package domain

import (
	"context"
	"time"
)

// CommandSpec is what the engine asks a runner to do: one shell command in
// a working directory, with the merged job+step environment. Label carries
// the job's runner label; the provisioning collaborator interprets it.
type CommandSpec struct {
	Command string
	Dir     string
	Env     map[string]string
	Label   string
}

type CommandResult struct {
	ExitCode int
	Output   string
	Duration time.Duration
}

// CommandRunner is the runner-provisioning collaborator reduced to its one
// capability: run a command, return its exit status. A non-nil error means
// the command could not be started at all, not that it exited non-zero.
type CommandRunner interface {
	Run(ctx context.Context, spec CommandSpec) (CommandResult, error)
}

// RunnerFunc adapts a function to the CommandRunner interface.
type RunnerFunc func(ctx context.Context, spec CommandSpec) (CommandResult, error)

func (f RunnerFunc) Run(ctx context.Context, spec CommandSpec) (CommandResult, error) {
	return f(ctx, spec)
}

// CacheStore is the external blob store backing the cache, with
// read-after-write consistency per key.
type CacheStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, blob []byte) error
}

// StatusReporter receives the terminal state of a run. Reporting is
// best-effort; a reporter error never changes a run's outcome.
type StatusReporter interface {
	Report(ctx context.Context, run Run) error
}
