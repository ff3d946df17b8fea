package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	authOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_operations_total",
			Help: "Authentication operations by outcome.",
		},
		[]string{"op", "result"},
	)

	passwordHashSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "auth_password_hash_seconds",
		Help:    "Time spent computing password hashes.",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})

	mailHandoffs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mail_handoffs_total",
			Help: "Email requests handed to the delivery transport by outcome.",
		},
		[]string{"kind", "result"},
	)

	initOnce sync.Once
)

// Init registers metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			authOperations, passwordHashSeconds, mailHandoffs,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAuth counts one authentication operation.
func ObserveAuth(op, result string) {
	authOperations.WithLabelValues(op, result).Inc()
}

// ObservePasswordHash records the duration of one hash computation.
func ObservePasswordHash(d time.Duration) {
	passwordHashSeconds.Observe(d.Seconds())
}

// ObserveMail counts one email handoff.
func ObserveMail(kind, result string) {
	mailHandoffs.WithLabelValues(kind, result).Inc()
}

// Instrument measures request count, latency and in-flight requests.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &StatusWriter{ResponseWriter: w, Code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.Code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// StatusWriter records the status code written by a handler.
type StatusWriter struct {
	http.ResponseWriter
	Code int
}

func (w *StatusWriter) WriteHeader(code int) {
	w.Code = code
	w.ResponseWriter.WriteHeader(code)
}
