// Package api provides the HTTP surface of the sequencer proxy.
package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stacklok/seqci-proxy/internal/engine"
	"github.com/stacklok/seqci-proxy/internal/lifecycle"
	"github.com/stacklok/seqci-proxy/internal/registry"
)

// DefaultLogTail is the number of log lines returned when n is omitted
const DefaultLogTail = 25

//go:generate mockgen -destination=mocks/mock_instance_manager.go -package=mocks -source=server.go InstanceManager

// InstanceManager is the lifecycle surface driven by the HTTP API
type InstanceManager interface {
	Start(ctx context.Context, tenant *registry.Tenant, opts lifecycle.StartOptions) (*registry.Instance, error)
	Stop(ctx context.Context, tenant *registry.Tenant, name string) error
	Resolve(ctx context.Context, tenant *registry.Tenant, name string) (*registry.Instance, error)
	Logs(ctx context.Context, tenant *registry.Tenant, name string, tail engine.Tail) (io.ReadCloser, error)
	CheckReadiness(ctx context.Context) error
}

// Forwarder relays a request to the sequencer behind inst
type Forwarder interface {
	Forward(w http.ResponseWriter, r *http.Request, inst *registry.Instance)
}

// ServerOption configures the API server
type ServerOption func(*serverConfig)

type serverConfig struct {
	middlewares    []func(http.Handler) http.Handler
	metricsHandler http.Handler
	defaultTail    int
	startTimeout   time.Duration
}

// WithMiddlewares adds middleware to the server
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithMetricsHandler serves h on /metrics
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.metricsHandler = h
	}
}

// WithDefaultTail sets the log line count used when n is omitted
func WithDefaultTail(n int) ServerOption {
	return func(cfg *serverConfig) {
		if n >= 0 {
			cfg.defaultTail = n
		}
	}
}

// WithStartTimeout bounds a single /start request, image pull included
func WithStartTimeout(d time.Duration) ServerOption {
	return func(cfg *serverConfig) {
		cfg.startTimeout = d
	}
}

// NewServer creates the HTTP router. Authentication is expected to be
// installed through WithMiddlewares; handlers read the tenant it attaches.
func NewServer(mgr InstanceManager, fwd Forwarder, opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{defaultTail: DefaultLogTail}
	for _, opt := range opts {
		opt(cfg)
	}

	routes := &Routes{
		manager:      mgr,
		forwarder:    fwd,
		defaultTail:  cfg.defaultTail,
		startTimeout: cfg.startTimeout,
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	r.Get("/healthz", routes.health)
	r.Get("/readyz", routes.readiness)
	if cfg.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.metricsHandler)
	}

	r.Get("/start", routes.start)
	r.Post("/start", routes.start)

	r.Route("/{name}", func(r chi.Router) {
		r.Get("/stop", routes.stop)
		r.Post("/stop", routes.stop)
		r.Get("/logs", routes.logs)
		r.HandleFunc("/", routes.forward)
		r.HandleFunc("/*", routes.forward)
	})

	return r
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.DebugContext(r.Context(), "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
