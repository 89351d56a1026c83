package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// HTTPMetricsMeterName is the name used for the HTTP metrics meter
	HTTPMetricsMeterName = "github.com/stacklok/seqci-proxy/http"

	unknownRoute = "unknown_route"
)

// HTTPMetrics holds the OpenTelemetry instruments for HTTP metrics
type HTTPMetrics struct {
	requestDuration metric.Float64Histogram
	requestsTotal   metric.Int64Counter
	activeRequests  metric.Int64UpDownCounter
}

// NewHTTPMetrics creates a new HTTPMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewHTTPMetrics(provider metric.MeterProvider) (*HTTPMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(HTTPMetricsMeterName)

	// Proxied requests and log streams can be long lived, hence the wide buckets.
	requestDuration, err := meter.Float64Histogram(
		"seqci_http_request_duration_seconds",
		metric.WithDescription("Duration of HTTP requests in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, err
	}

	requestsTotal, err := meter.Int64Counter(
		"seqci_http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	activeRequests, err := meter.Int64UpDownCounter(
		"seqci_http_active_requests",
		metric.WithDescription("Number of currently in-flight HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return &HTTPMetrics{
		requestDuration: requestDuration,
		requestsTotal:   requestsTotal,
		activeRequests:  activeRequests,
	}, nil
}

// Middleware returns an HTTP middleware that records metrics for each request.
// If HTTPMetrics is nil, it returns a pass-through middleware.
func (m *HTTPMetrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The request context may be cancelled once ServeHTTP returns.
		ctx := r.Context()
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		m.activeRequests.Add(ctx, 1)
		next.ServeHTTP(ww, r)
		m.activeRequests.Add(ctx, -1)

		// Route pattern ("/{name}/logs") rather than the raw path keeps cardinality bounded.
		attrs := []attribute.KeyValue{
			attribute.String("method", r.Method),
			attribute.String("route", routePattern(r)),
			attribute.String("status_code", strconv.Itoa(ww.Status())),
		}

		m.requestDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
		m.requestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	})
}

// routePattern extracts the matched chi route pattern, or unknownRoute when
// the request did not match any route.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return unknownRoute
}

// MetricsMiddleware creates middleware from a MeterProvider.
func MetricsMiddleware(provider metric.MeterProvider) (func(http.Handler) http.Handler, error) {
	metrics, err := NewHTTPMetrics(provider)
	if err != nil {
		return nil, err
	}

	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return metrics.Middleware(next)
	}, nil
}
