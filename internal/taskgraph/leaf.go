package taskgraph

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tylerbutler/hoist/internal/cache"
	"github.com/tylerbutler/hoist/internal/logfields"
	"github.com/tylerbutler/hoist/internal/project"
	"github.com/tylerbutler/hoist/internal/scheduler"
)

// InputsFunc computes the cache key inputs for a leaf task at check time.
type InputsFunc func(ctx context.Context) (cache.KeyInputs, error)

// LeafConfig carries everything a leaf task needs beyond its graph position.
type LeafConfig struct {
	Handler Handler
	Script  string
	Outputs []string // glob patterns relative to the package directory
	Weight  int
	Cache   *cache.Manager // nil disables caching for this task
	Inputs  InputsFunc
}

// Execution is the recorded outcome of one leaf task.
type Execution struct {
	Name          string
	Status        Status
	Result        BuildResult
	Duration      time.Duration
	CacheKey      string
	CacheHit      bool
	BytesRestored int64
	TimeSaved     time.Duration
	Stdout        []byte
	Stderr        []byte
	Err           error
}

// LeafTask is a runnable graph node bound to a handler invocation. A leaf
// runs at most once no matter how many parents reach it; later callers wait
// on the first run's outcome.
type LeafTask struct {
	baseTask
	cfg LeafConfig

	dependentLeafTasks []*LeafTask

	initOnce  sync.Once
	startOnce sync.Once
	done      chan struct{}
	exec      Execution
	runErr    error

	checkOnce sync.Once
	upToDate  bool
	checkErr  error
	restored  *cache.RestoreResult
	cacheKey  string
}

// NewLeafTask creates an unstarted leaf for the given package and task name.
// An empty taskName marks the leaf unnamed.
func NewLeafTask(pkg *project.Package, taskName, command string, cfg LeafConfig) *LeafTask {
	return &LeafTask{
		baseTask: baseTask{
			pkg:      pkg,
			taskName: taskName,
			command:  command,
			weight:   cfg.Weight,
		},
		cfg:  cfg,
		done: make(chan struct{}),
	}
}

func (t *LeafTask) AddDependentTasks(deps []Task, isDefault bool) {
	// Leaves have no subtasks to forward to; defaults and explicit
	// dependencies land in the same place.
	t.addDependentTasks(deps)
}

func (t *LeafTask) AddDependentLeafTasks(leaves []*LeafTask) {
	for _, leaf := range leaves {
		// A leaf shared between steps of a sequential group would otherwise
		// end up waiting on its own completion.
		if leaf == t {
			continue
		}
		t.dependentLeafTasks = append(t.dependentLeafTasks, leaf)
	}
}

func (t *LeafTask) CollectLeafTasks(set map[*LeafTask]struct{}) {
	set[t] = struct{}{}
}

func (t *LeafTask) InitializeDependentLeafTasks() {
	t.initOnce.Do(func() {
		t.AddDependentLeafTasks(t.collectDependentLeaves())
		for _, dep := range t.dependentTasks {
			dep.InitializeDependentLeafTasks()
		}
	})
}

// Execution returns the recorded outcome. Valid only after Run has returned.
func (t *LeafTask) Execution() Execution { return t.exec }

func (t *LeafTask) cacheable() bool {
	return t.cfg.Cache != nil && len(t.cfg.Outputs) > 0 && t.cfg.Inputs != nil
}

// IsUpToDate checks the cache once and memoizes the answer. On a hit it
// restores the cached outputs into the package directory, so a true answer
// means the outputs are already on disk.
func (t *LeafTask) IsUpToDate(ctx context.Context) (bool, error) {
	t.checkOnce.Do(func() {
		if !t.cacheable() {
			return
		}
		inputs, err := t.cfg.Inputs(ctx)
		if err != nil {
			t.checkErr = err
			return
		}
		key, err := cache.ComputeKey(inputs)
		if err != nil {
			t.checkErr = err
			return
		}
		t.cacheKey = key

		res, err := t.cfg.Cache.Restore(ctx, key)
		if err != nil {
			t.checkErr = err
			return
		}
		if !res.Hit {
			return
		}
		if err := cache.WriteOutputs(t.pkg.Directory, res.Outputs); err != nil {
			t.checkErr = err
			return
		}
		t.restored = res
		t.upToDate = true
	})
	return t.upToDate, t.checkErr
}

// Run executes the leaf through the worker queue. It is safe to call from
// multiple parents concurrently. A handler failure is a Failed result, not an
// error; the error return is reserved for orchestration breakage such as
// cancellation.
func (t *LeafTask) Run(ctx context.Context, q *scheduler.Queue) (BuildResult, error) {
	t.startOnce.Do(func() {
		go t.run(ctx, q)
	})
	select {
	case <-t.done:
		return t.exec.Result, t.runErr
	case <-ctx.Done():
		return Failed, ctx.Err()
	}
}

func (t *LeafTask) run(ctx context.Context, q *scheduler.Queue) {
	defer close(t.done)
	t.exec = Execution{Name: t.FullName(), Status: StatusPending, Result: Failed}

	// Kick off all dependencies before waiting on any, then collect their
	// results. The queue, not this loop, decides actual parallelism. Every
	// started dependency is awaited even after a failure so no dependency
	// goroutine is still writing its record once this task completes.
	for _, dep := range t.dependentLeafTasks {
		dep.Start(ctx, q)
	}
	depFailed := false
	for _, dep := range t.dependentLeafTasks {
		res, err := dep.Run(ctx, q)
		if err != nil {
			depFailed = true
			t.runErr = err
		} else if res == Failed {
			slog.Debug("Skipping task, dependency failed",
				logfields.Task(t.FullName()), logfields.Task(dep.FullName()))
			depFailed = true
		}
	}
	if depFailed {
		t.exec.Status = StatusSkipped
		t.exec.Result = Failed
		return
	}

	upToDate, err := t.IsUpToDate(ctx)
	if err != nil {
		slog.Warn("Cache check failed, running task",
			logfields.Task(t.FullName()), logfields.Error(err))
	}
	t.exec.CacheKey = t.cacheKey
	if upToDate {
		slog.Debug("Task restored from cache",
			logfields.Task(t.FullName()), logfields.CacheKey(t.cacheKey))
		t.exec.Status = StatusFromCache
		t.exec.Result = UpToDate
		t.exec.CacheHit = true
		t.exec.BytesRestored = t.restored.Bytes
		t.exec.TimeSaved = t.restored.TimeSaved
		return
	}

	err = q.Execute(ctx, t.Weight(), func(ctx context.Context) error {
		t.invoke(ctx)
		return nil
	})
	if err != nil {
		// Cancelled while still queued.
		t.exec.Status = StatusSkipped
		t.exec.Result = Failed
		t.exec.Err = err
		t.runErr = err
	}
}

func (t *LeafTask) invoke(ctx context.Context) {
	start := time.Now()
	slog.Debug("Running task", logfields.Task(t.FullName()), logfields.Command(t.command))

	resp, err := t.cfg.Handler.Run(ctx, &Request{
		Package: t.pkg,
		Command: t.command,
		Script:  t.cfg.Script,
		Dir:     t.pkg.Directory,
	})
	t.exec.Duration = time.Since(start)
	t.exec.Status = StatusRan
	if err != nil {
		t.exec.Result = Failed
		t.exec.Err = err
		return
	}
	t.exec.Result = resp.Result
	t.exec.Stdout = resp.Stdout
	t.exec.Stderr = resp.Stderr

	if resp.Result == Success && t.cacheable() && t.cacheKey != "" {
		t.store(ctx)
	}
}

func (t *LeafTask) store(ctx context.Context) {
	outputs, err := cache.CollectOutputs(t.pkg.Directory, t.cfg.Outputs)
	if err != nil {
		slog.Warn("Collecting task outputs failed, not caching",
			logfields.Task(t.FullName()), logfields.Error(err))
		return
	}
	err = t.cfg.Cache.Store(ctx, t.cacheKey, outputs, cache.EntryMeta{Duration: t.exec.Duration})
	if err != nil {
		slog.Warn("Caching task outputs failed",
			logfields.Task(t.FullName()), logfields.CacheKey(t.cacheKey), logfields.Error(err))
	}
}

// Start begins the leaf without waiting for it.
func (t *LeafTask) Start(ctx context.Context, q *scheduler.Queue) {
	t.startOnce.Do(func() {
		go t.run(ctx, q)
	})
}
