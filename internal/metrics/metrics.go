// Package metrics exposes Prometheus instrumentation and the runtime
// counters backing the admin metrics endpoint.
package metrics

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Counter: responses served straight from the cache.
	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pocketllm_cache_hits_total",
			Help: "Total number of chat responses served from cache.",
		},
	)

	// Counter: chat requests by path (sync / stream).
	ChatRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pocketllm_chat_requests_total",
			Help: "Total number of chat requests.",
		},
		[]string{"mode"},
	)

	// Histogram: model inference duration in seconds.
	InferenceDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pocketllm_inference_duration_seconds",
			Help:    "Model inference latency in seconds.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	// Histogram: HTTP latency in seconds.
	HTTPLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pocketllm_http_latency_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
		},
		[]string{"path", "method", "status_code"},
	)
)

// Register is called once in main() to register metrics.
func Register() {
	prometheus.MustRegister(
		CacheHitsTotal,
		ChatRequestsTotal,
		InferenceDurationSeconds,
		HTTPLatencySeconds,
	)
}

// Handler exposes the /metrics endpoint for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Runtime tracks process-lifetime counters for the admin metrics response.
type Runtime struct {
	startedAt     time.Time
	totalRequests atomic.Int64
}

func NewRuntime() *Runtime {
	return &Runtime{startedAt: time.Now()}
}

func (r *Runtime) IncRequests() {
	r.totalRequests.Add(1)
}

func (r *Runtime) TotalRequests() int64 {
	return r.totalRequests.Load()
}

func (r *Runtime) Uptime() time.Duration {
	return time.Since(r.startedAt)
}

// Middleware measures request latency and counts requests.
func Middleware(rt *Runtime) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rec := &statusRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rec, r)

			rt.IncRequests()
			HTTPLatencySeconds.
				WithLabelValues(r.URL.Path, r.Method, strconv.Itoa(rec.statusCode)).
				Observe(time.Since(start).Seconds())
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.statusCode = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streaming working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
