package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const unmatched = "unmatched"

// streamRoutes are long-lived responses. Their duration measures how long a
// client stayed subscribed, so it is kept out of the latency histogram.
var streamRoutes = map[string]bool{
	"/v1/events":    true,
	"/v1/events/ws": true,
}

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ember_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ember_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	httpInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ember_http_requests_in_flight",
			Help: "Number of HTTP requests being served, including open event streams.",
		},
		[]string{"stream"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(httpInFlight)

	httpInFlight.WithLabelValues("true")
	httpInFlight.WithLabelValues("false")
}

// metricsMiddleware records request count and duration for every HTTP request.
// Uses the chi route pattern (not the raw path) to avoid unbounded cardinality.
// The route is only known after routing, so in-flight streams are recognised
// by their raw path.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stream := streamRoutes[r.URL.Path]
		inFlight := httpInFlight.WithLabelValues(strconv.FormatBool(stream))
		inFlight.Inc()
		defer inFlight.Dec()

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		path := routePattern(r)
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		if !streamRoutes[path] {
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
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

// metricsHandler serves the default registry, in OpenMetrics format when the
// scraper asks for it.
func metricsHandler() http.Handler {
	return promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
