package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors shared across the ingress,
// worker, and scheduler processes.
type Metrics struct {
	RequestsAccepted  prometheus.Counter
	RequestsRejected  *prometheus.CounterVec
	AttachmentsSaved  prometheus.Counter
	QueueDepth        prometheus.Gauge
	TasksFired        prometheus.Counter
	TaskFireFailures  prometheus.Counter
	TaskFireDuration  prometheus.Histogram
	SchedulerJobCount prometheus.Gauge
}

// New creates the Prometheus collectors, registering them with the
// default registry.
func New() *Metrics {
	return &Metrics{
		RequestsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mxrelay_requests_accepted_total",
			Help: "Total number of /process-email requests accepted and queued",
		}),
		RequestsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mxrelay_requests_rejected_total",
			Help: "Total number of /process-email requests rejected, by reason",
		}, []string{"reason"}),
		AttachmentsSaved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mxrelay_attachments_saved_total",
			Help: "Total number of attachment files persisted to disk",
		}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "mxrelay_queue_depth",
			Help: "Approximate depth of the durable work queue",
		}),
		TasksFired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mxrelay_scheduled_tasks_fired_total",
			Help: "Total number of scheduled task firings attempted",
		}),
		TaskFireFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mxrelay_scheduled_task_fire_failures_total",
			Help: "Total number of scheduled task firings whose self-callback failed",
		}),
		TaskFireDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "mxrelay_scheduled_task_fire_duration_seconds",
			Help:    "Time spent in the scheduled task self-callback",
			Buckets: prometheus.DefBuckets,
		}),
		SchedulerJobCount: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "mxrelay_scheduler_job_count",
			Help: "Number of jobs currently known to the scheduler job store",
		}),
	}
}
