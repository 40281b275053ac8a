package telemetry

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/variantlabs/decider/internal/project"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	httpDur = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	// Decisions counts completed decision pipeline runs by outcome source
	// ("none" when no variation was decided).
	Decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "decisions_total",
			Help: "Decision pipeline outcomes by source",
		},
		[]string{"source"},
	)
	// ProfileStoreFailures counts caught profile-store errors by operation.
	ProfileStoreFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "profile_store_failures_total",
			Help: "Caught user-profile store failures",
		},
		[]string{"op"},
	)
	// ConfigLookupErrors counts typed config lookup errors by entity kind.
	ConfigLookupErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "config_lookup_errors_total",
			Help: "Config index lookups for unknown keys or ids",
		},
		[]string{"kind"},
	)
	// SnapshotReloads counts datafile reloads that installed a new index.
	SnapshotReloads = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "snapshot_reloads_total",
		Help: "Datafile reloads that produced a new config snapshot",
	})
)

func Init() {
	prometheus.MustRegister(httpReqs, httpDur, Decisions, ProfileStoreFailures, ConfigLookupErrors, SnapshotReloads)
}

// ErrorCounter is a report.Handler that counts typed config lookup errors.
type ErrorCounter struct{}

func (ErrorCounter) HandleError(err error) {
	var lookupErr *project.LookupError
	if errors.As(err, &lookupErr) {
		ConfigLookupErrors.WithLabelValues(string(lookupErr.Kind)).Inc()
		return
	}
	ConfigLookupErrors.WithLabelValues("other").Inc()
}

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// get route pattern if available
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}

		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(ww, r)

		httpReqs.WithLabelValues(route, r.Method, http.StatusText(ww.status)).Inc()
		httpDur.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
