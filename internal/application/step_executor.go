package application

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/davarch/ci-runner/internal/domain"
)

// StepExecutor runs one step to completion through the CommandRunner port.
// Steps with a retry budget absorb transient failures (spawn errors and
// non-zero exits alike) behind bounded exponential backoff; once the budget
// is exhausted the failure surfaces as an ordinary step failure.
type StepExecutor struct {
	runner domain.CommandRunner
	log    *zap.Logger

	retryInitial time.Duration
	retryMax     time.Duration
}

func NewStepExecutor(runner domain.CommandRunner, log *zap.Logger) *StepExecutor {
	return &StepExecutor{
		runner:       runner,
		log:          log,
		retryInitial: 300 * time.Millisecond,
		retryMax:     5 * time.Second,
	}
}

// Execute returns the step's RunResult. The error is non-nil exactly when
// the result status is not succeeded: a *domain.StepError for failures, the
// context error for cancellation.
func (e *StepExecutor) Execute(ctx context.Context, dir string, job domain.Job, step domain.Step) (domain.RunResult, error) {
	start := time.Now()
	spec := domain.CommandSpec{
		Command: step.Command,
		Dir:     dir,
		Env:     mergeEnv(job.Env, step.Env),
		Label:   job.RunsOn,
	}

	var last domain.CommandResult
	attempts := 0
	op := func() error {
		attempts++
		res, err := e.runner.Run(ctx, spec)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		last = res
		if res.ExitCode != 0 {
			return &domain.StepError{Step: step.Name, ExitCode: res.ExitCode}
		}
		return nil
	}

	var err error
	if step.Retries > 0 {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = e.retryInitial
		bo.MaxInterval = e.retryMax
		err = backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(step.Retries)), ctx))
	} else {
		err = op()
	}

	result := domain.RunResult{
		Step:     step.Name,
		ExitCode: last.ExitCode,
		Duration: time.Since(start),
		Output:   last.Output,
	}

	switch {
	case err == nil:
		result.Status = domain.StatusSucceeded
		return result, nil
	case ctx.Err() != nil:
		result.Status = domain.StatusCancelled
		return result, ctx.Err()
	default:
		result.Status = domain.StatusFailed
		var stepErr *domain.StepError
		if !errors.As(err, &stepErr) {
			// Never spawned: retries exhausted on an infrastructure
			// error. Reclassified as a step failure per the error
			// taxonomy, with the cause in the captured output.
			result.ExitCode = -1
			result.Output = err.Error()
			stepErr = &domain.StepError{Step: step.Name, ExitCode: -1}
		}
		if attempts > 1 {
			e.log.Warn("step failed after retries",
				zap.String("step", step.Name),
				zap.Int("attempts", attempts),
			)
		}
		return result, stepErr
	}
}

func mergeEnv(job, step map[string]string) map[string]string {
	if len(job) == 0 && len(step) == 0 {
		return nil
	}
	out := make(map[string]string, len(job)+len(step))
	for k, v := range job {
		out[k] = v
	}
	for k, v := range step {
		out[k] = v
	}
	return out
}
