package taskgraph

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/tylerbutler/hoist/internal/project"
	"github.com/tylerbutler/hoist/internal/scheduler"
)

// GroupTask composes subtasks under one name, e.g. a "build" task made of
// compile and bundle steps. Subtasks always run concurrently; a sequential
// group expresses its ordering through leaf-level dependency chains instead
// of serialized execution, so independent leaves inside ordered steps can
// still overlap when the chains allow it.
type GroupTask struct {
	baseTask
	subtasks   []Task
	sequential bool
	initOnce   sync.Once
}

// NewGroupTask creates a group. Groups are always named.
func NewGroupTask(pkg *project.Package, taskName string, subtasks []Task, sequential bool) *GroupTask {
	return &GroupTask{
		baseTask: baseTask{
			pkg:      pkg,
			taskName: taskName,
			command:  taskName,
		},
		subtasks:   subtasks,
		sequential: sequential,
	}
}

// AddDependentTasks attaches explicit dependencies to the group itself, where
// InitializeDependentLeafTasks later fans them out to every subtask. Default
// dependencies instead reach only the unnamed subtasks: a named subtask has
// its own definition and declares its own dependencies.
func (g *GroupTask) AddDependentTasks(deps []Task, isDefault bool) {
	if !isDefault {
		g.addDependentTasks(deps)
		return
	}
	for _, sub := range g.subtasks {
		if sub.TaskName() == "" {
			sub.AddDependentTasks(deps, true)
		}
	}
}

func (g *GroupTask) AddDependentLeafTasks(leaves []*LeafTask) {
	for _, sub := range g.subtasks {
		sub.AddDependentLeafTasks(leaves)
	}
}

func (g *GroupTask) CollectLeafTasks(set map[*LeafTask]struct{}) {
	for _, sub := range g.subtasks {
		sub.CollectLeafTasks(set)
	}
}

func (g *GroupTask) InitializeDependentLeafTasks() {
	g.initOnce.Do(func() {
		if leaves := g.collectDependentLeaves(); len(leaves) > 0 {
			g.AddDependentLeafTasks(leaves)
		}
		if g.sequential {
			// Each step waits for every leaf of every earlier step. Leaves
			// the step itself contains are excluded: a subtask shared
			// between steps must not wait on its own leaves.
			prev := make(map[*LeafTask]struct{})
			for _, sub := range g.subtasks {
				if len(prev) > 0 {
					own := make(map[*LeafTask]struct{})
					sub.CollectLeafTasks(own)
					deps := make([]*LeafTask, 0, len(prev))
					for leaf := range prev {
						if _, shared := own[leaf]; !shared {
							deps = append(deps, leaf)
						}
					}
					sub.AddDependentLeafTasks(deps)
				}
				sub.CollectLeafTasks(prev)
			}
		}
		for _, sub := range g.subtasks {
			sub.InitializeDependentLeafTasks()
		}
		for _, dep := range g.dependentTasks {
			dep.InitializeDependentLeafTasks()
		}
	})
}

// IsUpToDate reports whether every subtask is up to date. Checks run
// concurrently; any error aborts the check.
func (g *GroupTask) IsUpToDate(ctx context.Context) (bool, error) {
	var stale atomic.Bool
	eg, ctx := errgroup.WithContext(ctx)
	for _, sub := range g.subtasks {
		eg.Go(func() error {
			ok, err := sub.IsUpToDate(ctx)
			if err != nil {
				return err
			}
			if !ok {
				stale.Store(true)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return false, err
	}
	return !stale.Load(), nil
}

// Run executes all subtasks concurrently and aggregates the worst result. An
// empty group is trivially up to date. Task failures arrive as Failed
// results; a non-nil error means the run itself was disrupted (cancellation)
// and does cancel the remaining subtasks.
func (g *GroupTask) Run(ctx context.Context, q *scheduler.Queue) (BuildResult, error) {
	if len(g.subtasks) == 0 {
		return UpToDate, nil
	}
	var (
		mu    sync.Mutex
		worst = UpToDate
	)
	eg, ctx := errgroup.WithContext(ctx)
	for _, sub := range g.subtasks {
		eg.Go(func() error {
			res, err := sub.Run(ctx, q)
			if err != nil {
				return err
			}
			mu.Lock()
			worst = WorstOf(worst, res)
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return Failed, err
	}
	return worst, nil
}
