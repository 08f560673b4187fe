package application

import (
	"context"

	"go.uber.org/zap"

	"github.com/davarch/ci-runner/internal/domain"
)

// JobRunner executes one job's steps strictly in declaration order. The
// first non-zero exit aborts the remaining steps; those never produce a
// RunResult. Declared caches are restored before their step and persisted
// only once the whole job has succeeded.
type JobRunner struct {
	steps *StepExecutor
	cache *CacheManager
	log   *zap.Logger
	met   *Metrics
}

func NewJobRunner(steps *StepExecutor, cache *CacheManager, log *zap.Logger, met *Metrics) *JobRunner {
	return &JobRunner{steps: steps, cache: cache, log: log, met: met}
}

type pendingPersist struct {
	key   string
	paths []string
}

// RunJob never returns an error: the outcome is the JobResult's status.
func (r *JobRunner) RunJob(ctx context.Context, dir string, job domain.Job) domain.JobResult {
	out := domain.JobResult{Job: job.Name, Status: domain.StatusRunning}
	var persists []pendingPersist

	for _, step := range job.Steps {
		if ctx.Err() != nil {
			out.Status = domain.StatusCancelled
			return out
		}

		cached := false
		if step.Cache != nil {
			key, err := r.cache.ComputeKey(dir, *step.Cache)
			if err != nil {
				r.log.Warn("cache key computation failed",
					zap.String("job", job.Name),
					zap.String("step", step.Name),
					zap.Error(err),
				)
			} else {
				hit, rerr := r.cache.Restore(ctx, dir, key)
				if rerr != nil {
					r.log.Warn("cache restore failed, treating as miss",
						zap.String("key", key),
						zap.Error(rerr),
					)
				}
				cached = hit
				if !hit {
					persists = append(persists, pendingPersist{key: key, paths: step.Cache.Paths})
				}
			}
		}

		if cached && step.SkipOnHit {
			res := domain.RunResult{
				Step:   step.Name,
				Status: domain.StatusSucceeded,
				Cached: true,
			}
			out.Results = append(out.Results, res)
			r.met.StepFinished(domain.StatusSucceeded)
			continue
		}

		res, err := r.steps.Execute(ctx, dir, job, step)
		res.Cached = cached
		out.Results = append(out.Results, res)
		r.met.StepFinished(res.Status)

		if err != nil {
			out.Status = res.Status
			r.log.Info("job aborted",
				zap.String("job", job.Name),
				zap.String("step", step.Name),
				zap.String("status", string(res.Status)),
			)
			return out
		}
	}

	// Persist only after full success, and never from a cancelled run.
	for _, p := range persists {
		if ctx.Err() != nil {
			break
		}
		if err := r.cache.Persist(ctx, dir, p.key, p.paths); err != nil && err != ErrCacheConflict {
			r.log.Warn("cache persist failed", zap.String("key", p.key), zap.Error(err))
		}
	}

	out.Status = domain.StatusSucceeded
	return out
}
