// Package build is the orchestrator's entry point: it selects packages,
// constructs the task graph, runs it through the bounded worker queue, and
// aggregates per-task statistics into one build outcome.
package build

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tylerbutler/hoist/internal/cache"
	"github.com/tylerbutler/hoist/internal/logfields"
	"github.com/tylerbutler/hoist/internal/metrics"
	"github.com/tylerbutler/hoist/internal/project"
	"github.com/tylerbutler/hoist/internal/scheduler"
	"github.com/tylerbutler/hoist/internal/selection"
	"github.com/tylerbutler/hoist/internal/taskgraph"
)

// Request describes one build run.
type Request struct {
	Selection selection.PackageSelectionCriteria
	Filter    selection.PackageFilter

	// Tasks are the task names to run in each selected package. Defaults to
	// ["build"].
	Tasks []string

	// IncludeDependencies expands the selection with the closure of
	// cross-release-group dependencies of the selected packages.
	IncludeDependencies bool

	// Concurrency caps simultaneous handler invocations; zero means the CPU
	// count.
	Concurrency int
}

// Outcome is the aggregate result of a build run plus per-task statistics.
type Outcome struct {
	ID       string
	Result   taskgraph.BuildResult
	Duration time.Duration

	Packages int
	Tasks    []taskgraph.Execution

	CacheHits     int
	CacheMisses   int
	BytesRestored int64
	TimeSaved     time.Duration
}

// ExitCode maps the outcome onto a process exit status.
func (o *Outcome) ExitCode() int {
	if o.Result == taskgraph.Failed {
		return 1
	}
	return 0
}

// Service wires the selection, graph, cache, and scheduling layers together.
type Service struct {
	project  *project.BuildProject
	registry *taskgraph.Registry
	cache    *cache.Manager
	recorder metrics.Recorder
}

// NewService creates a build service. The cache manager may be nil to build
// without caching; a nil recorder disables metrics.
func NewService(p *project.BuildProject, registry *taskgraph.Registry, mgr *cache.Manager, recorder metrics.Recorder) *Service {
	if registry == nil {
		registry = taskgraph.DefaultRegistry()
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Service{project: p, registry: registry, cache: mgr, recorder: recorder}
}

// Build runs one build: select, filter, construct the graph, execute, and
// aggregate. Graph-construction and selection problems return an error; task
// failures are reported through the outcome instead.
func (s *Service) Build(ctx context.Context, req Request) (*Outcome, error) {
	id := uuid.NewString()
	start := time.Now()

	criteria := req.Selection
	if criteria.Empty() {
		// No criteria means the whole project.
		criteria.ReleaseGroups = []string{"*"}
		criteria.ReleaseGroupRoots = []string{"*"}
	}
	tasks := req.Tasks
	if len(tasks) == 0 {
		tasks = []string{"build"}
	}

	pkgs, err := selection.SelectPackages(s.project, criteria)
	if err != nil {
		return nil, err
	}
	pkgs = selection.FilterPackages(pkgs, req.Filter)

	if req.IncludeDependencies {
		closure, err := project.AllDependencies(s.project, pkgs)
		if err != nil {
			return nil, err
		}
		seen := make(map[string]struct{}, len(pkgs))
		for _, pkg := range pkgs {
			seen[pkg.Name] = struct{}{}
		}
		for _, pkg := range closure.Packages {
			if _, ok := seen[pkg.Name]; !ok {
				pkgs = append(pkgs, pkg)
			}
		}
	}

	graph, err := taskgraph.NewBuilder(s.project, s.registry, s.cache).Build(pkgs, tasks)
	if err != nil {
		return nil, err
	}

	queue := scheduler.NewQueue(req.Concurrency)
	s.recorder.SetWorkerConcurrency(queue.Concurrency())
	slog.Info("Build starting",
		logfields.BuildID(id),
		logfields.Count(len(pkgs)),
		logfields.Workers(queue.Concurrency()))

	result, err := graph.Root.Run(ctx, queue)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{
		ID:       id,
		Result:   result,
		Duration: time.Since(start),
		Packages: len(pkgs),
	}
	for _, leaf := range graph.Leaves() {
		exec := leaf.Execution()
		outcome.Tasks = append(outcome.Tasks, exec)
		if exec.CacheHit {
			outcome.CacheHits++
			outcome.BytesRestored += exec.BytesRestored
			outcome.TimeSaved += exec.TimeSaved
		} else if exec.Status == taskgraph.StatusRan {
			outcome.CacheMisses++
		}
		if exec.Status == taskgraph.StatusRan {
			s.recorder.ObserveTaskDuration(exec.Name, exec.Duration)
		}
		s.recorder.IncTaskResult(exec.Result.String())
	}
	s.recorder.ObserveBuildDuration(outcome.Duration)
	s.recorder.IncBuildOutcome(result.String())

	slog.Info("Build finished",
		logfields.BuildID(id),
		logfields.Result(result.String()),
		logfields.Duration(outcome.Duration),
		slog.Int("cache_hits", outcome.CacheHits),
		slog.Int("cache_misses", outcome.CacheMisses))
	return outcome, nil
}
