package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_runner_jobs_processed_total",
		Help: "Total number of jobs processed, by terminal status",
	}, []string{"status", "queue"})

	JobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "queue_runner_job_duration_seconds",
		Help:    "Time taken to execute jobs in seconds",
		Buckets: prometheus.DefBuckets,
	})

	ReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queue_runner_broker_reconnects_total",
		Help: "Total number of broker reconnect attempts",
	})

	ResultWriteFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queue_runner_result_write_failures_total",
		Help: "Total number of failed result store writes",
	})

	SupervisorState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "queue_runner_supervisor_state",
		Help: "Current supervisor state (0=starting 1=securing 2=connecting 3=running 4=draining 5=stopped 6=failed)",
	})
)
