// Package metrics collects the daemon's Prometheus series and implements
// the narrow hook interfaces scheduler, notify and cache each define so
// none of them import this package directly.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jorgemgr94/imgdaemon/internal/priority"
	"github.com/jorgemgr94/imgdaemon/internal/task"
)

// Metrics owns every counter/gauge/histogram the daemon exposes on its
// debug HTTP surface's /metrics endpoint. Register it against its own
// prometheus.Registry rather than the global default so tests can build
// one per case without collector-already-registered panics.
type Metrics struct {
	registry *prometheus.Registry

	queueDepth    prometheus.Gauge
	tasksSubmitted *prometheus.CounterVec
	taskOutcomes  *prometheus.CounterVec

	cacheBytesUsed prometheus.Gauge
	cacheFull      prometheus.Gauge

	notifyDropped        prometheus.Counter
	notifyListenerErrors prometheus.Counter

	sourceJobsActive prometheus.Gauge
}

// New builds and registers every series against a fresh registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "imgdaemon",
		Subsystem: "scheduler",
		Name:      "queue_depth",
		Help:      "Number of runnable tasks currently queued.",
	})
	m.tasksSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "imgdaemon",
		Subsystem: "scheduler",
		Name:      "tasks_submitted_total",
		Help:      "Tasks submitted or upgraded, by priority level.",
	}, []string{"priority"})
	m.taskOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "imgdaemon",
		Subsystem: "scheduler",
		Name:      "task_outcomes_total",
		Help:      "Tasks reaching a terminal state, by outcome and priority.",
	}, []string{"state", "priority"})

	m.cacheBytesUsed = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "imgdaemon",
		Subsystem: "cache",
		Name:      "bytes_used",
		Help:      "Estimated bytes currently occupied by cached thumbnails and previews.",
	})
	m.cacheFull = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "imgdaemon",
		Subsystem: "cache",
		Name:      "full",
		Help:      "1 when the cache has hit its configured byte ceiling, 0 otherwise.",
	})

	m.notifyDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "imgdaemon",
		Subsystem: "notify",
		Name:      "dropped_total",
		Help:      "Notifications dropped because the bus queue was full.",
	})
	m.notifyListenerErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "imgdaemon",
		Subsystem: "notify",
		Name:      "listener_errors_total",
		Help:      "Write failures while relaying a notification to a connected listener.",
	})

	m.sourceJobsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "imgdaemon",
		Subsystem: "sourcejob",
		Name:      "active",
		Help:      "Number of source jobs currently producing batches.",
	})

	m.registry.MustRegister(
		m.queueDepth, m.tasksSubmitted, m.taskOutcomes,
		m.cacheBytesUsed, m.cacheFull,
		m.notifyDropped, m.notifyListenerErrors,
		m.sourceJobsActive,
	)
	return m
}

// Registry exposes the underlying collector registry for promhttp.Handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveQueueDepth implements scheduler.Metrics.
func (m *Metrics) ObserveQueueDepth(n int) { m.queueDepth.Set(float64(n)) }

// ObserveSubmit implements scheduler.Metrics.
func (m *Metrics) ObserveSubmit(p priority.Priority) {
	m.tasksSubmitted.WithLabelValues(p.String()).Inc()
}

// ObserveOutcome implements scheduler.Metrics.
func (m *Metrics) ObserveOutcome(state task.State, p priority.Priority) {
	m.taskOutcomes.WithLabelValues(state.String(), p.String()).Inc()
}

// ObserveCacheUsage implements cache.Metrics.
func (m *Metrics) ObserveCacheUsage(bytesUsed int64, full bool) {
	m.cacheBytesUsed.Set(float64(bytesUsed))
	if full {
		m.cacheFull.Set(1)
	} else {
		m.cacheFull.Set(0)
	}
}

// ObserveNotifyDropped implements notify.Metrics.
func (m *Metrics) ObserveNotifyDropped() { m.notifyDropped.Inc() }

// ObserveNotifyListenerError implements notify.Metrics.
func (m *Metrics) ObserveNotifyListenerError() { m.notifyListenerErrors.Inc() }

// ObserveSourceJobsActive implements sourcejob.Metrics.
func (m *Metrics) ObserveSourceJobsActive(n int) { m.sourceJobsActive.Set(float64(n)) }
