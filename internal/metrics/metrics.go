package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Job outcomes
const (
	OutcomeSuccess = "success"
	OutcomeRetry   = "retry"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

var (
	jobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docflow_jobs_processed_total",
			Help: "Jobs finished by the worker, by type and outcome.",
		},
		[]string{"job_type", "outcome"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docflow_job_duration_seconds",
			Help:    "Handler wall time per job.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"job_type"},
	)

	jobsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docflow_jobs_enqueued_total",
			Help: "Jobs written to the queue, by type.",
		},
		[]string{"job_type"},
	)

	chunksInserted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docflow_chunks_inserted_total",
			Help: "Document chunks written by ingestion.",
		},
	)

	inferenceTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docflow_inference_tokens_total",
			Help: "Tokens reported by the inference service, by model and direction.",
		},
		[]string{"model", "direction"},
	)

	inferenceLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docflow_inference_latency_seconds",
			Help:    "Inference call latency.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		},
		[]string{"model", "success"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docflow_http_requests_total",
			Help: "HTTP requests served, by route and status code.",
		},
		[]string{"method", "route", "status"},
	)
)

func init() {
	register(
		jobsProcessed, jobDuration, jobsEnqueued, chunksInserted,
		inferenceTokens, inferenceLatency, httpRequests,
	)
}

// ObserveJob records one processed job
func ObserveJob(jobType, outcome string, d time.Duration) {
	jobsProcessed.WithLabelValues(jobType, outcome).Inc()
	jobDuration.WithLabelValues(jobType).Observe(d.Seconds())
}

// IncJobsEnqueued counts a job written by a producer
func IncJobsEnqueued(jobType string) {
	jobsEnqueued.WithLabelValues(jobType).Inc()
}

// AddChunksInserted counts chunks written for a version
func AddChunksInserted(n int) {
	if n > 0 {
		chunksInserted.Add(float64(n))
	}
}

// ObserveInference records a single inference call
func ObserveInference(model string, success bool, d time.Duration, promptTokens, completionTokens int64) {
	inferenceLatency.WithLabelValues(model, strconv.FormatBool(success)).Observe(d.Seconds())
	if promptTokens > 0 {
		inferenceTokens.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		inferenceTokens.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
}

// ObserveHTTPRequest records one served request
func ObserveHTTPRequest(method, route string, status int) {
	if route == "" {
		route = "unmatched"
	}
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
