package application

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/davarch/ci-runner/internal/domain"
)

// Scheduler resolves incoming events against the pipeline's triggers and
// owns the lifecycle of runs: one run per qualifying event, jobs dispatched
// in topological layers, global concurrency bounded by runner capacity, and
// a superseding event cancelling the in-flight run for the same (kind, ref).
type Scheduler struct {
	log      *zap.Logger
	jobs     *JobRunner
	reporter domain.StatusReporter
	met      *Metrics
	sem      *semaphore.Weighted
	workRoot string

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu       sync.Mutex
	pipeline domain.Pipeline
	graph    *domain.Graph
	runs     map[uuid.UUID]*runState
	inflight map[flightKey]*runState
	wg       sync.WaitGroup
}

type flightKey struct {
	kind domain.EventKind
	ref  string
}

type runState struct {
	mu     sync.Mutex
	run    domain.Run
	cancel context.CancelFunc
	done   chan struct{}
}

func (st *runState) snapshot() domain.Run {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := st.run
	out.Jobs = make([]domain.JobResult, len(st.run.Jobs))
	copy(out.Jobs, st.run.Jobs)
	return out
}

// NewScheduler validates the pipeline's job graph up front: a cyclic or
// dangling needs declaration fails here, before any event is accepted.
func NewScheduler(log *zap.Logger, pipeline domain.Pipeline, jobs *JobRunner, reporter domain.StatusReporter, workRoot string, capacity int64, met *Metrics) (*Scheduler, error) {
	graph, err := domain.BuildGraph(pipeline.Jobs)
	if err != nil {
		return nil, err
	}
	if capacity <= 0 {
		capacity = 1
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Scheduler{
		log:        log,
		jobs:       jobs,
		reporter:   reporter,
		met:        met,
		sem:        semaphore.NewWeighted(capacity),
		workRoot:   workRoot,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		pipeline:   pipeline,
		graph:      graph,
		runs:       make(map[uuid.UUID]*runState),
		inflight:   make(map[flightKey]*runState),
	}, nil
}

// UpdatePipeline swaps the definition for subsequent runs. A definition
// whose graph does not validate is rejected and the previous one kept.
func (s *Scheduler) UpdatePipeline(pipeline domain.Pipeline) error {
	graph, err := domain.BuildGraph(pipeline.Jobs)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.pipeline = pipeline
	s.graph = graph
	s.mu.Unlock()
	s.log.Info("pipeline definition updated",
		zap.String("pipeline", pipeline.Name),
		zap.Int("jobs", len(pipeline.Jobs)),
	)
	return nil
}

// Submit starts at most one run for the event. It returns false with a nil
// error when no trigger matches, and a ConfigError for malformed events.
// However many triggers an event satisfies, exactly one run starts; the
// distinct-ref-type rule means a push and a tag push for the same commit
// arrive as two events and therefore two independent runs.
func (s *Scheduler) Submit(event domain.Event) (domain.Run, bool, error) {
	if err := event.Validate(); err != nil {
		return domain.Run{}, false, err
	}

	s.mu.Lock()
	pipeline := s.pipeline
	graph := s.graph
	if !pipeline.Matches(event) {
		s.mu.Unlock()
		return domain.Run{}, false, nil
	}

	key := flightKey{kind: event.Kind, ref: event.Ref}
	if prev, ok := s.inflight[key]; ok {
		s.log.Info("superseding in-flight run",
			zap.String("run", prev.run.ID.String()),
			zap.String("ref", event.Ref),
			zap.String("kind", string(event.Kind)),
		)
		prev.cancel()
	}

	runCtx, cancel := context.WithCancel(s.baseCtx)
	st := &runState{
		run: domain.Run{
			ID:       uuid.New(),
			Pipeline: pipeline.Name,
			Event:    event,
			Status:   domain.StatusPending,
			Started:  time.Now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.runs[st.run.ID] = st
	s.inflight[key] = st
	s.wg.Add(1)
	s.mu.Unlock()

	s.log.Info("run started",
		zap.String("run", st.run.ID.String()),
		zap.String("kind", string(event.Kind)),
		zap.String("ref", event.Ref),
	)

	go s.execute(runCtx, st, pipeline, graph, key)
	return st.snapshot(), true, nil
}

func (s *Scheduler) execute(ctx context.Context, st *runState, pipeline domain.Pipeline, graph *domain.Graph, key flightKey) {
	defer s.wg.Done()

	st.mu.Lock()
	st.run.Status = domain.StatusRunning
	st.mu.Unlock()

	dir := filepath.Join(s.workRoot, st.run.ID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.log.Error("workdir creation failed", zap.String("dir", dir), zap.Error(err))
		s.finish(ctx, st, domain.StatusFailed, key)
		return
	}

	jobByName := make(map[string]domain.Job, len(pipeline.Jobs))
	for _, j := range pipeline.Jobs {
		jobByName[j.Name] = j
	}

	statuses := make(map[string]domain.RunStatus, len(pipeline.Jobs))
	var statusMu sync.Mutex

	for _, layer := range graph.Layers() {
		results := make([]domain.JobResult, len(layer))
		var g errgroup.Group

		for i, name := range layer {
			i, name := i, name
			g.Go(func() error {
				job := jobByName[name]

				statusMu.Lock()
				blocked := ""
				for _, dep := range graph.Dependencies(name) {
					if statuses[dep] != domain.StatusSucceeded {
						blocked = dep
						break
					}
				}
				statusMu.Unlock()

				var res domain.JobResult
				switch {
				case blocked != "":
					res = domain.JobResult{Job: name, Status: domain.StatusSkipped}
					s.log.Info("job skipped, dependency did not succeed",
						zap.String("job", name),
						zap.String("dependency", blocked),
					)
				case s.sem.Acquire(ctx, 1) != nil:
					res = domain.JobResult{Job: name, Status: domain.StatusCancelled}
				default:
					res = s.jobs.RunJob(ctx, dir, job)
					s.sem.Release(1)
				}

				statusMu.Lock()
				statuses[name] = res.Status
				statusMu.Unlock()
				results[i] = res
				return nil
			})
		}
		_ = g.Wait()

		st.mu.Lock()
		st.run.Jobs = append(st.run.Jobs, results...)
		st.mu.Unlock()
	}

	terminal := domain.StatusSucceeded
	if ctx.Err() != nil {
		terminal = domain.StatusCancelled
	} else {
		for _, status := range statuses {
			if status != domain.StatusSucceeded {
				terminal = domain.StatusFailed
				break
			}
		}
	}
	s.finish(ctx, st, terminal, key)
}

func (s *Scheduler) finish(ctx context.Context, st *runState, terminal domain.RunStatus, key flightKey) {
	st.mu.Lock()
	st.run.Status = terminal
	st.run.Finished = time.Now()
	st.mu.Unlock()

	s.mu.Lock()
	if s.inflight[key] == st {
		delete(s.inflight, key)
	}
	s.mu.Unlock()

	close(st.done)
	s.met.RunFinished(terminal)
	s.log.Info("run finished",
		zap.String("run", st.run.ID.String()),
		zap.String("status", string(terminal)),
		zap.Duration("took", st.run.Finished.Sub(st.run.Started)),
	)

	if s.reporter != nil {
		reportCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.reporter.Report(reportCtx, st.snapshot()); err != nil {
			s.log.Warn("status report failed", zap.Error(err))
		}
	}
}

// Run returns a snapshot of one run.
func (s *Scheduler) Run(id uuid.UUID) (domain.Run, bool) {
	s.mu.Lock()
	st, ok := s.runs[id]
	s.mu.Unlock()
	if !ok {
		return domain.Run{}, false
	}
	return st.snapshot(), true
}

// Runs returns snapshots of all known runs, newest first.
func (s *Scheduler) Runs() []domain.Run {
	s.mu.Lock()
	states := make([]*runState, 0, len(s.runs))
	for _, st := range s.runs {
		states = append(states, st)
	}
	s.mu.Unlock()

	out := make([]domain.Run, len(states))
	for i, st := range states {
		out[i] = st.snapshot()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Started.After(out[j].Started) })
	return out
}

// WaitRun blocks until the run reaches a terminal status.
func (s *Scheduler) WaitRun(ctx context.Context, id uuid.UUID) (domain.Run, error) {
	s.mu.Lock()
	st, ok := s.runs[id]
	s.mu.Unlock()
	if !ok {
		return domain.Run{}, domain.Configf("unknown run %s", id)
	}
	select {
	case <-st.done:
		return st.snapshot(), nil
	case <-ctx.Done():
		return st.snapshot(), ctx.Err()
	}
}

// Cancel signals one run's jobs to stop. Its partially written cache keys
// are never persisted.
func (s *Scheduler) Cancel(id uuid.UUID) bool {
	s.mu.Lock()
	st, ok := s.runs[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	st.cancel()
	return true
}

// Prune drops finished runs older than the retention window and removes
// their working directories. It returns how many were dropped.
func (s *Scheduler) Prune(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)
	s.mu.Lock()
	var drop []*runState
	for id, st := range s.runs {
		st.mu.Lock()
		finished := st.run.Finished
		terminal := st.run.Status != domain.StatusPending && st.run.Status != domain.StatusRunning
		st.mu.Unlock()
		if terminal && !finished.IsZero() && finished.Before(cutoff) {
			drop = append(drop, st)
			delete(s.runs, id)
		}
	}
	s.mu.Unlock()

	for _, st := range drop {
		_ = os.RemoveAll(filepath.Join(s.workRoot, st.run.ID.String()))
	}
	return len(drop)
}

// Shutdown cancels nothing by itself; it waits for in-flight runs to drain
// until ctx expires, then cancels whatever is left.
func (s *Scheduler) Shutdown(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.baseCancel()
		<-done
	}
	s.baseCancel()
}
