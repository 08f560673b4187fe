// Package exec_local runs step commands on the local host. It is the
// degenerate runner-provisioning collaborator: the runner label selects
// nothing, every job shares the host toolchain.
package exec_local

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/davarch/ci-runner/internal/domain"
)

type Runner struct {
	shell   string
	timeout time.Duration
	log     *zap.Logger
}

func New(shell string, stepTimeout time.Duration, log *zap.Logger) *Runner {
	if shell == "" {
		shell = "/bin/sh"
	}
	return &Runner{shell: shell, timeout: stepTimeout, log: log}
}

// Run executes the command under the configured shell and returns its exit
// status. A non-nil error means the command never started; a non-zero exit
// is a normal result, not an error.
func (r *Runner) Run(ctx context.Context, spec domain.CommandSpec) (domain.CommandResult, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.shell, "-c", spec.Command)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), flattenEnv(spec.Env)...)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err := cmd.Run()
	took := time.Since(start)

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return domain.CommandResult{}, err
		}
	}

	res := domain.CommandResult{
		ExitCode: cmd.ProcessState.ExitCode(),
		Output:   out.String(),
		Duration: took,
	}
	r.log.Debug("command finished",
		zap.String("command", spec.Command),
		zap.Int("exit", res.ExitCode),
		zap.Duration("took", took),
	)
	return res, nil
}

func flattenEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
