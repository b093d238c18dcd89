package taskgraph

import (
	"context"

	"github.com/tylerbutler/hoist/internal/project"
	"github.com/tylerbutler/hoist/internal/scheduler"
)

// Task is one node in the build graph: either a LeafTask bound to a handler
// invocation or a GroupTask composing subtasks. Tasks form a DAG; cycles are
// rejected at construction.
type Task interface {
	// FullName is the task identity: "<package>#<name>" for named tasks,
	// "<package>#[<command>]" for ad hoc bracket tasks.
	FullName() string

	// TaskName is the declared task name, or empty for unnamed tasks. The
	// dependency propagation rules treat named and unnamed subtasks
	// differently, so named-ness is an explicit tag.
	TaskName() string

	Package() *project.Package
	Command() string
	Weight() int

	// AddDependentTasks records task-level dependencies. Groups forward
	// default dependencies to their unnamed subtasks only; explicit
	// dependencies attach to the node itself.
	AddDependentTasks(deps []Task, isDefault bool)

	// AddDependentLeafTasks records leaf-level dependencies ("must
	// physically complete before this output is read"). Groups forward
	// unconditionally to every subtask.
	AddDependentLeafTasks(leaves []*LeafTask)

	// DependentTasks returns the task-level dependency list.
	DependentTasks() []Task

	// CollectLeafTasks inserts every reachable LeafTask into set. The set
	// deduplicates by reference: a leaf reachable via two group paths counts
	// once.
	CollectLeafTasks(set map[*LeafTask]struct{})

	// InitializeDependentLeafTasks converts task-level dependencies into the
	// leaf-level edges the scheduler honors, and wires sequential-group
	// ordering chains. Called once after the whole graph is built.
	InitializeDependentLeafTasks()

	// IsUpToDate reports whether the task's prior output satisfies its
	// current inputs, consulting the cache manager.
	IsUpToDate(ctx context.Context) (bool, error)

	// Run executes the task through the worker queue and returns its result.
	Run(ctx context.Context, q *scheduler.Queue) (BuildResult, error)
}

// baseTask carries the state shared by leaf and group tasks.
type baseTask struct {
	pkg            *project.Package
	taskName       string // "" = unnamed
	command        string
	weight         int
	dependentTasks []Task
}

func (t *baseTask) TaskName() string          { return t.taskName }
func (t *baseTask) Package() *project.Package { return t.pkg }
func (t *baseTask) Command() string           { return t.command }

func (t *baseTask) FullName() string {
	if t.taskName != "" {
		return t.pkg.Name + "#" + t.taskName
	}
	return t.pkg.Name + "#[" + t.command + "]"
}

func (t *baseTask) Weight() int {
	if t.weight <= 0 {
		return 1
	}
	return t.weight
}

func (t *baseTask) DependentTasks() []Task { return t.dependentTasks }

// addDependentTasks is the base mechanism: dependencies attach to this node.
func (t *baseTask) addDependentTasks(deps []Task) {
	t.dependentTasks = append(t.dependentTasks, deps...)
}

// collectDependentLeaves flattens this node's task-level dependencies into a
// deduplicated leaf slice.
func (t *baseTask) collectDependentLeaves() []*LeafTask {
	if len(t.dependentTasks) == 0 {
		return nil
	}
	set := make(map[*LeafTask]struct{})
	for _, dep := range t.dependentTasks {
		dep.CollectLeafTasks(set)
	}
	return leafSetSlice(set)
}

func leafSetSlice(set map[*LeafTask]struct{}) []*LeafTask {
	if len(set) == 0 {
		return nil
	}
	leaves := make([]*LeafTask, 0, len(set))
	for leaf := range set {
		leaves = append(leaves, leaf)
	}
	return leaves
}
