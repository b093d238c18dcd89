package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once              sync.Once
	taskDuration      *prom.HistogramVec
	buildDuration     prom.Histogram
	taskResults       *prom.CounterVec
	buildOutcome      *prom.CounterVec
	cacheEvents       *prom.CounterVec
	cacheRestore      prom.Histogram
	workerConcurrency prom.Gauge
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.taskDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "hoist",
			Name:      "task_duration_seconds",
			Help:      "Duration of individual task executions",
			Buckets:   prom.DefBuckets,
		}, []string{"task"})
		pr.buildDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "hoist",
			Name:      "build_duration_seconds",
			Help:      "Total build duration",
			Buckets:   prom.DefBuckets,
		})
		pr.taskResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "hoist",
			Name:      "task_results_total",
			Help:      "Task result counts by outcome",
		}, []string{"result"})
		pr.buildOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "hoist",
			Name:      "build_outcomes_total",
			Help:      "Build outcomes by final status",
		}, []string{"outcome"})
		pr.cacheEvents = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "hoist",
			Name:      "cache_events_total",
			Help:      "Cache restore attempts by hit/miss",
		}, []string{"event"})
		pr.cacheRestore = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "hoist",
			Name:      "cache_restore_duration_seconds",
			Help:      "Duration of cache restores",
			Buckets:   prom.DefBuckets,
		})
		pr.workerConcurrency = prom.NewGauge(prom.GaugeOpts{
			Namespace: "hoist",
			Name:      "worker_concurrency",
			Help:      "Configured worker pool concurrency for the current build",
		})
		reg.MustRegister(pr.taskDuration, pr.buildDuration, pr.taskResults, pr.buildOutcome, pr.cacheEvents, pr.cacheRestore, pr.workerConcurrency)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveTaskDuration(task string, d time.Duration) {
	if p == nil || p.taskDuration == nil {
		return
	}
	p.taskDuration.WithLabelValues(task).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveBuildDuration(d time.Duration) {
	if p == nil || p.buildDuration == nil {
		return
	}
	p.buildDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncTaskResult(result string) {
	if p == nil || p.taskResults == nil {
		return
	}
	p.taskResults.WithLabelValues(result).Inc()
}

func (p *PrometheusRecorder) IncBuildOutcome(outcome string) {
	if p == nil || p.buildOutcome == nil {
		return
	}
	p.buildOutcome.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) IncCacheHit() {
	if p == nil || p.cacheEvents == nil {
		return
	}
	p.cacheEvents.WithLabelValues("hit").Inc()
}

func (p *PrometheusRecorder) IncCacheMiss() {
	if p == nil || p.cacheEvents == nil {
		return
	}
	p.cacheEvents.WithLabelValues("miss").Inc()
}

func (p *PrometheusRecorder) ObserveCacheRestoreDuration(d time.Duration) {
	if p == nil || p.cacheRestore == nil {
		return
	}
	p.cacheRestore.Observe(d.Seconds())
}

func (p *PrometheusRecorder) SetWorkerConcurrency(n int) {
	if p == nil || p.workerConcurrency == nil {
		return
	}
	p.workerConcurrency.Set(float64(n))
}
