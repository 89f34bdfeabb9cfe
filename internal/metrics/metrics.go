package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kyc_jobs_submitted_total",
		Help: "Verification jobs accepted by the gateway.",
	})

	EnqueueFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kyc_enqueue_failures_total",
		Help: "Job references that were persisted but could not be enqueued.",
	})

	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kyc_jobs_finished_total",
		Help: "Pipeline runs by terminal status (needs_review, approved) or failure class.",
	}, []string{"outcome"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kyc_stage_duration_seconds",
		Help:    "Latency of external verification stage calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage", "result"})

	PushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kyc_realtime_pushes_total",
		Help: "Realtime kycUpdate pushes by result (delivered, offline, failed).",
	}, []string{"result"})

	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kyc_realtime_connections",
		Help: "Users currently registered in the connection registry.",
	})

	StuckProcessing = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kyc_jobs_stuck_processing",
		Help: "Jobs seen in processing for longer than the queue visibility timeout at the last sweep.",
	})
)
