package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// BookingsCreated counts create outcomes by payment initiation result.
	BookingsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookings_created_total",
			Help: "Total number of bookings created, by payment initiation outcome",
		},
		[]string{"payment"},
	)

	// ReconcileTransitions counts local status transitions applied by
	// reconciliation, by resulting status.
	ReconcileTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_reconcile_transitions_total",
			Help: "Total number of booking status transitions applied from gateway state",
		},
		[]string{"to"},
	)

	SweepRuns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "booking_sweep_runs_total",
			Help: "Total number of reconciliation sweeps executed",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(BookingsCreated)
	prometheus.MustRegister(ReconcileTransitions)
	prometheus.MustRegister(SweepRuns)
}

// Middleware records request counts and latencies per chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		endpoint := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			endpoint = rctx.RoutePattern()
		}

		httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(ww.Status())).Inc()
		httpRequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}

// Handler exposes the prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
