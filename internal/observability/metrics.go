package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	activeExecutions prometheus.Gauge
	executionsTotal  *prometheus.CounterVec
	eventsAppended   prometheus.Counter
	cleanupRemovals  prometheus.Counter

	toolInvocationTotal    *prometheus.CounterVec
	toolInvocationDuration *prometheus.HistogramVec
	toolHeartbeats         prometheus.Counter

	poolQueueSize prometheus.Gauge
	poolRunning   prometheus.Gauge

	archivedExecutions prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
	registry    *prometheus.Registry
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			activeExecutions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_executions",
					Help: "Current number of executions held by the registry.",
				},
			),
			executionsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "executions_total",
					Help: "Executions reaching a terminal state by outcome.",
				},
				[]string{"outcome"},
			),
			eventsAppended: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "execution_events_appended_total",
					Help: "Total events appended across all executions.",
				},
			),
			cleanupRemovals: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "execution_cleanup_removals_total",
					Help: "Executions removed by the retention sweep.",
				},
			),
			toolInvocationTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_invocation_total",
					Help: "Tool invocations by tool name and status.",
				},
				[]string{"tool", "status"},
			),
			toolInvocationDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_invocation_duration_seconds",
					Help:    "Tool invocation duration in seconds by tool name.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolHeartbeats: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "tool_heartbeats_total",
					Help: "Heartbeats emitted while waiting on tool invocations.",
				},
			),
			poolQueueSize: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "workpool_queue_size",
					Help: "Tasks waiting in the shared worker pool.",
				},
			),
			poolRunning: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "workpool_running",
					Help: "Tasks currently running on the shared worker pool.",
				},
			),
			archivedExecutions: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "archived_executions_total",
					Help: "Terminal executions archived to the history store.",
				},
			),
		}

		registry = prometheus.NewRegistry()
		registry.MustRegister(
			m.activeExecutions,
			m.executionsTotal,
			m.eventsAppended,
			m.cleanupRemovals,
			m.toolInvocationTotal,
			m.toolInvocationDuration,
			m.toolHeartbeats,
			m.poolQueueSize,
			m.poolRunning,
			m.archivedExecutions,
		)

		metricsInst = m
	})
	return metricsInst
}

// EnsureRegistered forces metric registration. Safe to call from every
// package that records metrics.
func EnsureRegistered() {
	getMetrics()
}

// MetricsHandler returns the HTTP handler serving the metrics endpoint
func MetricsHandler() http.Handler {
	getMetrics()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// SetActiveExecutions sets the active executions gauge
func SetActiveExecutions(n int) {
	getMetrics().activeExecutions.Set(float64(n))
}

// RecordExecutionOutcome records a terminal execution outcome
// (completed, errored, cancelled)
func RecordExecutionOutcome(outcome string) {
	getMetrics().executionsTotal.WithLabelValues(outcome).Inc()
}

// RecordEventAppended counts one appended event
func RecordEventAppended() {
	getMetrics().eventsAppended.Inc()
}

// RecordCleanupRemovals counts executions removed by the retention sweep
func RecordCleanupRemovals(n int) {
	getMetrics().cleanupRemovals.Add(float64(n))
}

// RecordToolInvocation records a tool invocation result
func RecordToolInvocation(tool string, duration time.Duration, status string) {
	m := getMetrics()
	m.toolInvocationTotal.WithLabelValues(tool, status).Inc()
	m.toolInvocationDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordToolHeartbeat counts one emitted heartbeat
func RecordToolHeartbeat() {
	getMetrics().toolHeartbeats.Inc()
}

// SetPoolQueueSize sets the worker pool queue gauge
func SetPoolQueueSize(n int) {
	getMetrics().poolQueueSize.Set(float64(n))
}

// SetPoolRunning sets the worker pool running gauge
func SetPoolRunning(n int) {
	getMetrics().poolRunning.Set(float64(n))
}

// RecordArchivedExecutions counts executions archived to history
func RecordArchivedExecutions(n int) {
	getMetrics().archivedExecutions.Add(float64(n))
}
