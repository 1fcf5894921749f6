package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the broker's Prometheus collectors. It also implements the
// storage layer's MetricsHook so Pebble latencies land in the same registry.
type Metrics struct {
	registry *prometheus.Registry

	TasksEnqueued prometheus.Counter
	Polls         *prometheus.CounterVec
	Acks          *prometheus.CounterVec
	Updates       *prometheus.CounterVec
	ExpiredLeases prometheus.Counter

	storageWrite prometheus.Histogram
	storageRead  prometheus.Histogram
	batchCommit  prometheus.Histogram
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		TasksEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tasq_tasks_enqueued_total",
			Help: "Tasks accepted into a queue.",
		}),
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tasq_polls_total",
			Help: "Poll requests by result.",
		}, []string{"result"}),
		Acks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tasq_acks_total",
			Help: "Ack requests by result.",
		}, []string{"result"}),
		Updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tasq_task_updates_total",
			Help: "Terminal task updates by final state.",
		}, []string{"state"}),
		ExpiredLeases: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tasq_expired_leases_total",
			Help: "Leases reclaimed by the expiry sweeper.",
		}),
		storageWrite: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tasq_storage_write_seconds",
			Help:    "Pebble single-key write latency.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		storageRead: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tasq_storage_read_seconds",
			Help:    "Pebble point read latency.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		batchCommit: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tasq_storage_batch_commit_seconds",
			Help:    "Pebble batch commit latency.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.TasksEnqueued,
		m.Polls,
		m.Acks,
		m.Updates,
		m.ExpiredLeases,
		m.storageWrite,
		m.storageRead,
		m.batchCommit,
	)
	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveWrite implements pebblestore.MetricsHook.
func (m *Metrics) ObserveWrite(elapsed time.Duration, bytes int) {
	m.storageWrite.Observe(elapsed.Seconds())
}

// ObserveRead implements pebblestore.MetricsHook.
func (m *Metrics) ObserveRead(elapsed time.Duration, bytes int) {
	m.storageRead.Observe(elapsed.Seconds())
}

// ObserveBatchCommit implements pebblestore.MetricsHook.
func (m *Metrics) ObserveBatchCommit(elapsed time.Duration, numOps int, bytes int) {
	m.batchCommit.Observe(elapsed.Seconds())
}
