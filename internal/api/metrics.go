package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const unmatched = "unmatched"

var (
	apiRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskgate_api_requests_total",
			Help: "API requests by method, route and status class.",
		},
		[]string{"method", "route", "class"},
	)

	apiRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskgate_api_request_duration_seconds",
			Help:    "API request latency. Progress streams and ?wait=true lookups are excluded.",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"method", "route"},
	)

	progressStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "taskgate_api_progress_streams",
		Help: "Open server-sent progress streams.",
	})
)

func init() {
	prometheus.MustRegister(apiRequestsTotal, apiRequestDuration, progressStreams)
}

// metricsMiddleware counts every request by chi route pattern and status
// class. Requests that hold the connection for the life of a run are counted
// but kept out of the latency histogram.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := routePattern(r)
		apiRequestsTotal.WithLabelValues(r.Method, route, statusClass(ww.Status())).Inc()
		if !longLived(r, route) {
			apiRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		}
	})
}

// routePattern extracts the matched chi route pattern, falling back to "unmatched".
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return unmatched
}

// statusClass buckets a status code as "2xx", "4xx" and so on. A handler
// that never wrote a header answered 200.
func statusClass(code int) string {
	if code == 0 {
		code = http.StatusOK
	}
	return fmt.Sprintf("%dxx", code/100)
}

func longLived(r *http.Request, route string) bool {
	return route == "/v1/tasks/{key}/progress" ||
		(route == "/v1/tasks/{key}" && r.URL.Query().Get("wait") == "true")
}

func metricsHandler() http.Handler {
	return promhttp.Handler()
}
