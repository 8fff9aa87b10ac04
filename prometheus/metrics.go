package prometheus

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
var (
	HTTPRequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_http_requests_total",
			Help: "Total number of HTTP requests by endpoint and status",
		},
		[]string{"endpoint", "method", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method", "status"},
	)

	ThrottledCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_throttled_requests_total",
			Help: "Total number of requests rejected by the rate throttle",
		},
		[]string{"scope"},
	)

	PermissionDeniedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_permission_denied_total",
			Help: "Total number of permission-denied responses",
		},
		[]string{"reason"},
	)
)

// Ingestion metrics
var (
	IngestRecordCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_ingest_records_total",
			Help: "Upstream records processed by loader and outcome",
		},
		[]string{"loader", "outcome"}, // outcome: "ok", "failed", "skipped"
	)

	IngestDeletedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_ingest_orphans_deleted_total",
			Help: "Local entities deleted by the orphan sweep",
		},
		[]string{"loader"},
	)

	IngestRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_ingest_run_duration_seconds",
			Help:    "Duration of loader runs in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800},
		},
		[]string{"loader", "status"},
	)
)

// Workflow, notification, search and database metrics
var (
	TransitionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_workflow_transitions_total",
			Help: "Publisher workflow transitions by machine, destination state and outcome",
		},
		[]string{"machine", "state", "outcome"},
	)

	NotificationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_notifications_total",
			Help: "Workflow notifications by key and delivery outcome",
		},
		[]string{"key", "outcome"},
	)

	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_search_duration_seconds",
			Help:    "Duration of search backend queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	IndexingFailureCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_indexing_failures_total",
			Help: "Search index writes that failed after the canonical write succeeded",
		},
		[]string{"content_type"},
	)

	DBOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_db_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

func init() {
	prometheus.MustRegister(HTTPRequestCounter)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(ThrottledCounter)
	prometheus.MustRegister(PermissionDeniedCounter)

	prometheus.MustRegister(IngestRecordCounter)
	prometheus.MustRegister(IngestDeletedCounter)
	prometheus.MustRegister(IngestRunDuration)

	prometheus.MustRegister(TransitionCounter)
	prometheus.MustRegister(NotificationCounter)
	prometheus.MustRegister(SearchDuration)
	prometheus.MustRegister(IndexingFailureCounter)
	prometheus.MustRegister(DBOperationDuration)
}

// GetPrometheusHandler returns an HTTP handler for the Prometheus metrics
func GetPrometheusHandler() http.Handler {
	return promhttp.Handler()
}

// TrackDBOperation measures database operation durations
func TrackDBOperation(operation string) func(time.Time) {
	startTime := time.Now()
	return func(time.Time) {
		DBOperationDuration.With(prometheus.Labels{"operation": operation}).Observe(time.Since(startTime).Seconds())
	}
}

// TrackSearch measures search backend query durations
func TrackSearch(backend string) func(time.Time) {
	startTime := time.Now()
	return func(time.Time) {
		SearchDuration.With(prometheus.Labels{"backend": backend}).Observe(time.Since(startTime).Seconds())
	}
}

// ObserveIngestRun records a finished loader run
func ObserveIngestRun(loader, status string, d time.Duration) {
	IngestRunDuration.With(prometheus.Labels{"loader": loader, "status": status}).Observe(d.Seconds())
}

// RecordIngestRecord records the outcome of one upstream record
func RecordIngestRecord(loader, outcome string) {
	IngestRecordCounter.With(prometheus.Labels{"loader": loader, "outcome": outcome}).Inc()
}

// RecordOrphansDeleted records orphan sweep deletions
func RecordOrphansDeleted(loader string, n int) {
	IngestDeletedCounter.With(prometheus.Labels{"loader": loader}).Add(float64(n))
}

// RecordTransition records a workflow transition attempt
func RecordTransition(machine, state, outcome string) {
	TransitionCounter.With(prometheus.Labels{"machine": machine, "state": state, "outcome": outcome}).Inc()
}

// RecordNotification records a notification delivery outcome
func RecordNotification(key, outcome string) {
	NotificationCounter.With(prometheus.Labels{"key": key, "outcome": outcome}).Inc()
}

// RecordThrottled records a throttled request
func RecordThrottled(scope string) {
	ThrottledCounter.With(prometheus.Labels{"scope": scope}).Inc()
}

// RecordPermissionDenied records a 403 response
func RecordPermissionDenied(reason string) {
	PermissionDeniedCounter.With(prometheus.Labels{"reason": reason}).Inc()
}

// RecordIndexingFailure records a failed index write
func RecordIndexingFailure(contentType string) {
	IndexingFailureCounter.With(prometheus.Labels{"content_type": contentType}).Inc()
}

// MetricsMiddleware creates a middleware function that captures metrics for each request
func MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(c.Response().Status)
			endpoint := c.Path()
			method := c.Request().Method

			RequestDuration.With(prometheus.Labels{
				"endpoint": endpoint,
				"method":   method,
				"status":   status,
			}).Observe(duration)

			HTTPRequestCounter.With(prometheus.Labels{
				"endpoint": endpoint,
				"method":   method,
				"status":   status,
			}).Inc()

			return err
		}
	}
}
