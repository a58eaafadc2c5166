package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	CheckinDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkin_decisions_total",
			Help: "Check-in and undo decisions by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	CheckinConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "checkin_version_conflicts_total",
			Help: "Conditional ticket writes that lost to a concurrent writer",
		},
	)

	AuditFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkin_audit_failures_total",
			Help: "Audit entries that could not be delivered, by cause",
		},
		[]string{"cause"},
	)

	AuditQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "checkin_audit_queue_depth",
			Help: "Audit entries waiting for delivery",
		},
	)

	AttendanceCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "attendance_cache_hits_total",
			Help: "Attendance snapshots served from cache",
		},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"handler", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handler", "method"},
	)
)

// Register registers all collectors with the default registry.
func Register() {
	prometheus.MustRegister(CheckinDecisionsTotal)
	prometheus.MustRegister(CheckinConflictsTotal)
	prometheus.MustRegister(AuditFailuresTotal)
	prometheus.MustRegister(AuditQueueDepth)
	prometheus.MustRegister(AttendanceCacheHitsTotal)
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
}

// Instrument wraps a handler with request count and latency metrics.
func Instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		HTTPRequestDuration.WithLabelValues(name, r.Method).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(name, r.Method, strconv.Itoa(wrapped.statusCode)).Inc()
	})
}

// responseWriter captures the status code. It forwards Flush and
// unwraps for http.ResponseController so SSE handlers keep working
// behind it.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
