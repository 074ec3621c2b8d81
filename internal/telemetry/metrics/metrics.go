// Package metrics defines the pipeline's prometheus collectors, grounded
// on pkg/datastorage/metrics's NewMetricsWithRegistry constructor shape
// so tests can use an isolated registry instead of the global default one.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every counter/histogram/gauge the pipeline emits.
type Metrics struct {
	JobsProcessed   *prometheus.CounterVec
	JobRetries      *prometheus.CounterVec
	JobDeadLettered *prometheus.CounterVec
	JobDuration     *prometheus.HistogramVec

	EvidenceWritten *prometheus.CounterVec
	CounterIncrements prometheus.Counter
	ReconcileEnqueued prometheus.Counter

	ReconciliationsRun   *prometheus.CounterVec
	ReconciliationScore  prometheus.Histogram

	OutboxPublished prometheus.Counter
	OutboxFailed    prometheus.Counter
	OutboxBacklog   prometheus.Gauge

	GraphNodesMerged prometheus.Counter
	GraphEdgesMerged prometheus.Counter

	FilesMarkedForDeletion prometheus.Counter
	FilesSwept             prometheus.Counter

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New builds a Metrics registered against the global default registry.
func New(namespace string) *Metrics {
	return NewWithRegistry(namespace, prometheus.DefaultRegisterer)
}

// NewWithRegistry builds a Metrics registered against reg, so tests can
// use a private prometheus.NewRegistry() and avoid duplicate-registration
// panics across parallel specs.
func NewWithRegistry(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	m := &Metrics{
		JobsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_processed_total",
			Help: "Jobs processed by type and terminal status.",
		}, []string{"job_type", "status"}),
		JobRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "job_retries_total",
			Help: "Job redeliveries by type.",
		}, []string{"job_type"}),
		JobDeadLettered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_dead_lettered_total",
			Help: "Jobs moved to the dead-letter queue by type.",
		}, []string{"job_type"}),
		JobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "job_duration_seconds",
			Help:    "Job processing duration by type.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job_type"}),

		EvidenceWritten: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "evidence_written_total",
			Help: "Evidence rows written by source worker kind.",
		}, []string{"source_worker"}),
		CounterIncrements: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "evidence_counter_increments_total",
			Help: "Atomic evidence counter increments performed by Validation.",
		}),
		ReconcileEnqueued: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconcile_jobs_enqueued_total",
			Help: "Reconcile jobs enqueued (should equal relationship hash count).",
		}),

		ReconciliationsRun: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconciliations_total",
			Help: "Reconciliations run by verdict.",
		}, []string{"verdict"}),
		ReconciliationScore: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "reconciliation_confidence",
			Help:    "Final confidence score distribution.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),

		OutboxPublished: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "outbox_published_total",
			Help: "Outbox rows published to the queue.",
		}),
		OutboxFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "outbox_publish_failed_total",
			Help: "Outbox rows that exceeded max publish attempts.",
		}),
		OutboxBacklog: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "outbox_backlog",
			Help: "PENDING outbox rows observed on the last poll.",
		}),

		GraphNodesMerged: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "graph_nodes_merged_total",
			Help: "POI nodes merged into the graph store.",
		}),
		GraphEdgesMerged: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "graph_edges_merged_total",
			Help: "Relationship edges merged into the graph store.",
		}),

		FilesMarkedForDeletion: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "files_marked_for_deletion_total",
			Help: "Files whose status moved to PENDING_DELETION.",
		}),
		FilesSwept: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "files_swept_total",
			Help: "Files removed along with their graph nodes.",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "Operator API requests by route and status code.",
		}, []string{"route", "method", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "Operator API request duration by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	return m
}
