package cli

import (
	"go.uber.org/zap"

	"github.com/davarch/ci-runner/internal/application"
	"github.com/davarch/ci-runner/internal/domain"
	"github.com/davarch/ci-runner/internal/infrastructure/cache_fs"
	"github.com/davarch/ci-runner/internal/infrastructure/config"
	"github.com/davarch/ci-runner/internal/infrastructure/exec_local"
	"github.com/davarch/ci-runner/internal/infrastructure/report_http"
)

// buildScheduler wires the engine: local command runner, filesystem cache
// backend, optional status webhook, scheduler bounded by configured
// capacity. Graph validation of the definition happens inside.
func buildScheduler(log *zap.Logger, cfg config.Config, pipeline domain.Pipeline, met *application.Metrics) (*application.Scheduler, error) {
	store := cache_fs.New(cfg.Cache.Dir)
	cache := application.NewCacheManager(store, log, met)
	runner := exec_local.New(cfg.Engine.Shell, cfg.Engine.StepTimeout, log)
	steps := application.NewStepExecutor(runner, log)
	jobs := application.NewJobRunner(steps, cache, log, met)

	var reporter domain.StatusReporter
	if cfg.Report.URL != "" {
		reporter = report_http.New(cfg.Report.URL, cfg.Report.Token, cfg.Report.Timeout)
	}

	return application.NewScheduler(log, pipeline, jobs, reporter, cfg.Engine.WorkDir, cfg.Engine.Capacity, met)
}
