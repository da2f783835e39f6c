package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline metrics
var (
	// JobsProcessed counts the total number of jobs by terminal status.
	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vod",
			Name:      "jobs_processed_total",
			Help:      "Total number of transcoding jobs processed",
		},
		[]string{"status"},
	)

	// StageDuration tracks the time spent in each pipeline stage.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vod",
			Name:      "job_stage_duration_seconds",
			Help:      "Time spent in each pipeline stage",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"stage"},
	)

	// ActiveJobs tracks the number of jobs currently in flight.
	ActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vod",
			Name:      "active_jobs",
			Help:      "Number of jobs currently in flight",
		},
	)

	// EncodeQueueWait tracks time spent waiting for an encoder slot.
	EncodeQueueWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vod",
			Name:      "encode_queue_wait_seconds",
			Help:      "Time jobs spend waiting for an encoder slot",
			Buckets:   []float64{0.1, 1, 5, 30, 60, 300, 900},
		},
	)

	// ChunksReceived counts upload chunks accepted into sessions.
	ChunksReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vod",
			Name:      "upload_chunks_received_total",
			Help:      "Total number of upload chunks received",
		},
	)

	// ArtifactBytesUploaded counts bytes pushed to object storage.
	ArtifactBytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vod",
			Name:      "artifact_bytes_uploaded_total",
			Help:      "Total bytes of artifacts uploaded to object storage",
		},
	)

	// SessionsSwept counts upload sessions reclaimed by the sweeper.
	SessionsSwept = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vod",
			Name:      "sessions_swept_total",
			Help:      "Upload sessions and orphan files reclaimed by the sweeper",
		},
		[]string{"kind"},
	)
)

// API metrics
var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vod",
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP request duration.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vod",
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// UploadsRejected counts uploads turned away by the intake limiter.
	UploadsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vod",
			Subsystem: "api",
			Name:      "uploads_rejected_total",
			Help:      "Uploads rejected because the intake limit was reached",
		},
	)
)

// RecordSuccess records a successfully completed job.
func RecordSuccess() {
	JobsProcessed.WithLabelValues("completed").Inc()
}

// RecordFailure records a failed job.
func RecordFailure() {
	JobsProcessed.WithLabelValues("failed").Inc()
}

// RecordCancelled records a cancelled job.
func RecordCancelled() {
	JobsProcessed.WithLabelValues("cancelled").Inc()
}
