// Package metrics defines observability hooks for build, task, and cache
// activity. The default NoopRecorder makes instrumentation optional.
package metrics

import "time"

// Recorder defines observability hooks for build and task metrics.
// Implementations must tolerate nil receivers so injection stays optional.
type Recorder interface {
	ObserveTaskDuration(task string, d time.Duration)
	ObserveBuildDuration(d time.Duration)
	IncTaskResult(result string)
	IncBuildOutcome(outcome string)
	IncCacheHit()
	IncCacheMiss()
	ObserveCacheRestoreDuration(d time.Duration)
	SetWorkerConcurrency(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not
// configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveTaskDuration(string, time.Duration)    {}
func (NoopRecorder) ObserveBuildDuration(time.Duration)           {}
func (NoopRecorder) IncTaskResult(string)                         {}
func (NoopRecorder) IncBuildOutcome(string)                       {}
func (NoopRecorder) IncCacheHit()                                 {}
func (NoopRecorder) IncCacheMiss()                                {}
func (NoopRecorder) ObserveCacheRestoreDuration(time.Duration)    {}
func (NoopRecorder) SetWorkerConcurrency(int)                     {}
