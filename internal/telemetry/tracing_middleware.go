package telemetry

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TracerName is the name used for the HTTP tracer
	TracerName = "github.com/stacklok/seqci-proxy/http"

	// AttrInstance is set on request spans that address a sequencer instance
	AttrInstance = attribute.Key("seqci.instance")
)

// untracedPaths are polled by orchestrators and scrapers; tracing them only adds noise
var untracedPaths = map[string]struct{}{
	"/healthz": {},
	"/readyz":  {},
	"/metrics": {},
}

// TracingMiddleware starts a server span per request, continuing any trace
// propagated by the caller. A nil provider yields a pass-through middleware.
func TracingMiddleware(provider trace.TracerProvider) func(http.Handler) http.Handler {
	if provider == nil {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	tracer := provider.Tracer(TracerName)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, skip := untracedPaths[r.URL.Path]; skip {
				next.ServeHTTP(w, r)
				return
			}

			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			// The name is replaced by the route pattern once chi has routed the request.
			ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
					semconv.UserAgentOriginal(r.UserAgent()),
				),
			)
			defer span.End()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			route := routePattern(r)
			span.SetName(r.Method + " " + route)
			span.SetAttributes(
				semconv.HTTPRouteKey.String(route),
				semconv.HTTPResponseStatusCode(ww.Status()),
			)
			if name := chi.URLParam(r, "name"); name != "" {
				span.SetAttributes(AttrInstance.String(name))
			}

			if ww.Status() >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(ww.Status()))
			} else {
				span.SetStatus(codes.Ok, "")
			}
		})
	}
}
