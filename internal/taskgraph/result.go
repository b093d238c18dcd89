// Package taskgraph builds and executes the per-package task dependency
// graph: leaf tasks bound to handlers, group tasks composing them, and the
// dependency propagation rules connecting them.
package taskgraph

// BuildResult is the outcome of a task or an aggregation of tasks. The
// ordering matters: Failed > Success > UpToDate, so aggregation is a max.
type BuildResult int

const (
	// UpToDate means the task's prior output is still valid; nothing ran.
	UpToDate BuildResult = iota
	// Success means the task executed and completed.
	Success
	// Failed means the task executed and failed, or was skipped because a
	// dependency failed.
	Failed
)

func (r BuildResult) String() string {
	switch r {
	case UpToDate:
		return "up-to-date"
	case Success:
		return "success"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// WorstOf returns the more severe of two results.
func WorstOf(a, b BuildResult) BuildResult {
	if a > b {
		return a
	}
	return b
}

// Status records how a leaf task reached its result, for reporting.
type Status int

const (
	StatusPending Status = iota
	StatusSkipped
	StatusFromCache
	StatusRan
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSkipped:
		return "skipped"
	case StatusFromCache:
		return "from-cache"
	case StatusRan:
		return "ran"
	default:
		return "unknown"
	}
}
