package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Business metrics
	casesRegistered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cases_registered_total",
			Help: "Total number of cases registered",
		},
		[]string{"type"},
	)

	casesStatusChanged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cases_status_changed_total",
			Help: "Total number of case status changes",
		},
		[]string{"from_status", "to_status", "trigger"},
	)

	statusOverrides = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cases_status_overrides_total",
			Help: "Admin status changes that bypassed the transition graph",
		},
	)

	evidenceUploaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evidence_uploaded_total",
			Help: "Total number of evidence files stored",
		},
		[]string{"file_type"},
	)

	// Realtime metrics
	realtimeSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_subscribers",
			Help: "Number of connected realtime subscribers",
		},
	)

	realtimeDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_messages_dropped_total",
			Help: "Messages not delivered because a subscriber was unreachable",
		},
		[]string{"event"},
	)

	eventExportFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_export_failures_total",
			Help: "Domain events that could not be written to the event stream",
		},
		[]string{"type"},
	)

	outreachEmails = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_emails_total",
			Help: "Invitation emails sent to opposite parties",
		},
		[]string{"result"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware creates HTTP metrics middleware
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := routePattern(r)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// routePattern uses the matched chi pattern so case ids don't become labels
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// RecordCaseRegistered records a case registration
func RecordCaseRegistered(caseType string) {
	casesRegistered.WithLabelValues(caseType).Inc()
}

// RecordCaseStatusChange records a case status change
func RecordCaseStatusChange(fromStatus, toStatus, trigger string) {
	casesStatusChanged.WithLabelValues(fromStatus, toStatus, trigger).Inc()
}

// RecordStatusOverride records an admin override
func RecordStatusOverride() {
	statusOverrides.Inc()
}

// RecordEvidenceUploaded records a stored evidence file
func RecordEvidenceUploaded(fileType string) {
	evidenceUploaded.WithLabelValues(fileType).Inc()
}

// SubscriberConnected adjusts the realtime subscriber gauge
func SubscriberConnected() { realtimeSubscribers.Inc() }

// SubscriberDisconnected adjusts the realtime subscriber gauge
func SubscriberDisconnected() { realtimeSubscribers.Dec() }

// RecordRealtimeDropped records an undelivered realtime message
func RecordRealtimeDropped(event string) {
	realtimeDropped.WithLabelValues(event).Inc()
}

// RecordEventExportFailure records a failed event stream write
func RecordEventExportFailure(eventType string) {
	eventExportFailures.WithLabelValues(eventType).Inc()
}

// RecordOutreachEmail records an invitation email attempt
func RecordOutreachEmail(sent bool) {
	result := "failed"
	if sent {
		result = "sent"
	}
	outreachEmails.WithLabelValues(result).Inc()
}
