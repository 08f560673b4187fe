package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/davarch/ci-runner/internal/application"
	"github.com/davarch/ci-runner/internal/infrastructure/api_http"
	"github.com/davarch/ci-runner/internal/infrastructure/config"
	"github.com/davarch/ci-runner/internal/infrastructure/logging"
	"github.com/davarch/ci-runner/internal/infrastructure/pipeline_yaml"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine as an HTTP service consuming repository events",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		log := logging.New()
		defer func() { _ = log.Sync() }()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			log.Fatal("config", zap.Error(err))
		}

		pipeline, err := pipeline_yaml.Load(pipelinePath)
		if err != nil {
			log.Fatal("pipeline definition", zap.Error(err))
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		met := application.NewMetrics(reg)

		sched, err := buildScheduler(log, cfg, pipeline, met)
		if err != nil {
			log.Fatal("scheduler", zap.Error(err))
		}

		watchAndReload(pipelinePath, log, sched)

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		api := api_http.New(log, sched, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{
			Addr:              cfg.Serve.Addr,
			Handler:           api.Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server", zap.Error(err))
				cancel()
			}
		}()

		go janitor(ctx, sched, cfg.Serve.Retention, log)

		log.Info("start",
			zap.String("version", version),
			zap.String("pipeline", pipeline.Name),
			zap.Int("jobs", len(pipeline.Jobs)),
			zap.String("addr", cfg.Serve.Addr),
			zap.Int64("capacity", cfg.Engine.Capacity),
			zap.String("cache", cfg.Cache.Dir),
			zap.Duration("retention", cfg.Serve.Retention),
		)

		<-ctx.Done()
		log.Info("shutting down")

		shutCtx, shutCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutCancel()
		_ = srv.Shutdown(shutCtx)
		sched.Shutdown(shutCtx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func janitor(ctx context.Context, sched *application.Scheduler, retention time.Duration, log *zap.Logger) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := sched.Prune(retention); n > 0 {
				log.Debug("pruned finished runs", zap.Int("count", n))
			}
		}
	}
}

// watchAndReload swaps the pipeline definition when the file changes on
// disk. Edits are debounced; a definition that fails to parse or validate
// leaves the previous one active.
func watchAndReload(path string, log *zap.Logger, sched *application.Scheduler) {
	if path == "" {
		return
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("fsnotify init failed", zap.Error(err))
		return
	}

	go func() {
		defer func() { _ = w.Close() }()

		var timer *time.Timer
		fire := func() {
			pipeline, err := pipeline_yaml.Load(path)
			if err != nil {
				log.Warn("pipeline reload failed, keeping previous definition", zap.Error(err))
				return
			}
			if err := sched.UpdatePipeline(pipeline); err != nil {
				log.Warn("pipeline reload rejected, keeping previous definition", zap.Error(err))
			}
		}

		startTimer := func() {
			if timer == nil {
				timer = time.AfterFunc(pipeline_yaml.WatchInterval, fire)
				return
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(pipeline_yaml.WatchInterval)
		}

		if err := w.Add(dir); err != nil {
			log.Warn("fsnotify add dir failed", zap.String("dir", dir), zap.Error(err))
			return
		}

		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}

				if filepath.Base(ev.Name) != base {
					continue
				}

				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					startTimer()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("fsnotify error", zap.Error(err))
			}
		}
	}()
}
