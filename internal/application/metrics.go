package application

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/davarch/ci-runner/internal/domain"
)

// Metrics counts run, step and cache outcomes. A nil *Metrics is valid and
// records nothing, so the engine can be embedded without a registry.
type Metrics struct {
	runs           *prometheus.CounterVec
	steps          *prometheus.CounterVec
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	cacheConflicts prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ci_runner_runs_total",
			Help: "Pipeline runs by terminal status.",
		}, []string{"status"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ci_runner_steps_total",
			Help: "Executed steps by terminal status.",
		}, []string{"status"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ci_runner_cache_hits_total",
			Help: "Cache restores that found an entry.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ci_runner_cache_misses_total",
			Help: "Cache restores that found nothing.",
		}),
		cacheConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ci_runner_cache_write_conflicts_total",
			Help: "Cache writes skipped because another writer held the key.",
		}),
	}
	reg.MustRegister(m.runs, m.steps, m.cacheHits, m.cacheMisses, m.cacheConflicts)
	return m
}

func (m *Metrics) RunFinished(status domain.RunStatus) {
	if m != nil {
		m.runs.WithLabelValues(string(status)).Inc()
	}
}

func (m *Metrics) StepFinished(status domain.RunStatus) {
	if m != nil {
		m.steps.WithLabelValues(string(status)).Inc()
	}
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.cacheMisses.Inc()
	}
}

func (m *Metrics) CacheConflict() {
	if m != nil {
		m.cacheConflicts.Inc()
	}
}
