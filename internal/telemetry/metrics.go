package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsSubmitted     = prometheus.NewCounter(prometheus.CounterOpts{Name: "pods_jobs_submitted_total", Help: "Creation jobs accepted by the API"})
	JobsCompleted     = prometheus.NewCounter(prometheus.CounterOpts{Name: "pods_jobs_completed_total", Help: "Creation jobs that reached completed"})
	JobsFailed        = prometheus.NewCounter(prometheus.CounterOpts{Name: "pods_jobs_failed_total", Help: "Creation jobs that reached failed"})
	DispatchSuccess   = prometheus.NewCounter(prometheus.CounterOpts{Name: "pods_dispatch_success_total", Help: "Fan-out tasks enqueued successfully"})
	DispatchFailures  = prometheus.NewCounter(prometheus.CounterOpts{Name: "pods_dispatch_failures_total", Help: "Fan-out task enqueues that failed"})
	WorkerSuccess     = prometheus.NewCounter(prometheus.CounterOpts{Name: "pods_worker_success_total", Help: "Fan-out tasks completed successfully"})
	WorkerFailures    = prometheus.NewCounter(prometheus.CounterOpts{Name: "pods_worker_failures_total", Help: "Fan-out tasks that failed and will retry"})
	WorkerDeadLetter  = prometheus.NewCounter(prometheus.CounterOpts{Name: "pods_worker_dead_letter_total", Help: "Fan-out tasks moved to the DLQ"})
	ChunksSynthesized = prometheus.NewCounter(prometheus.CounterOpts{Name: "pods_speech_chunks_total", Help: "Speech chunks synthesized"})
	DraftsRejected    = prometheus.NewCounter(prometheus.CounterOpts{Name: "pods_drafts_rejected_total", Help: "Drafts rejected by the classification gate"})
	RateLimitRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "pods_rate_limit_rejects_total", Help: "Submissions rejected by the rate limiter"})
	QueueDepthGauge   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "pods_queue_depth", Help: "Ready queue depth"})
	InFlightGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "pods_inflight", Help: "Tasks currently leased"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsSubmitted,
			JobsCompleted,
			JobsFailed,
			DispatchSuccess,
			DispatchFailures,
			WorkerSuccess,
			WorkerFailures,
			WorkerDeadLetter,
			ChunksSynthesized,
			DraftsRejected,
			RateLimitRejects,
			QueueDepthGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
