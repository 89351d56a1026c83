package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry encapsulates OpenTelemetry providers and handles their lifecycle.
type Telemetry struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	metricsHandler http.Handler
}

// Option is a function that configures the telemetry setup
type Option func(*telemetryConfig)

type telemetryConfig struct {
	config *Config
}

// WithTelemetryConfig sets the telemetry configuration
func WithTelemetryConfig(cfg *Config) Option {
	return func(tc *telemetryConfig) {
		tc.config = cfg
	}
}

// New creates and initializes a new Telemetry instance based on the configuration.
// If telemetry is disabled or configuration is nil, returns a Telemetry with no-op providers.
// The caller is responsible for calling Shutdown when the application exits.
func New(ctx context.Context, opts ...Option) (*Telemetry, error) {
	cfg := &telemetryConfig{}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.config == nil || !cfg.config.Enabled {
		slog.Debug("Telemetry disabled")
		return newNoOpTelemetry(ctx)
	}

	if err := cfg.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry configuration: %w", err)
	}

	slog.Info("Initializing telemetry",
		"service_name", cfg.config.GetServiceName(),
		"service_version", cfg.config.GetServiceVersion(),
		"service_instance_id", processInstanceID,
	)

	tracerProvider, err := NewTracerProvider(ctx,
		WithTracerServiceName(cfg.config.GetServiceName()),
		WithTracerServiceVersion(cfg.config.GetServiceVersion()),
		WithTracingConfig(cfg.config.Tracing),
		WithTracerEndpoint(cfg.config.GetEndpoint()),
		WithTracerInsecure(cfg.config.Insecure),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer provider: %w", err)
	}

	meterOpts := []MeterProviderOption{
		WithMeterServiceName(cfg.config.GetServiceName()),
		WithMeterServiceVersion(cfg.config.GetServiceVersion()),
		WithMetricsConfig(cfg.config.Metrics),
		WithMeterEndpoint(cfg.config.GetEndpoint()),
		WithMeterInsecure(cfg.config.Insecure),
	}

	var metricsHandler http.Handler
	if cfg.config.Metrics != nil && cfg.config.Metrics.Enabled && cfg.config.Metrics.UsesPrometheus() {
		reg := newPrometheusRegistry(cfg.config.GetServiceVersion())
		meterOpts = append(meterOpts, WithPrometheusRegisterer(reg))
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	}

	meterProvider, err := NewMeterProvider(ctx, meterOpts...)
	if err != nil {
		if shutdownable, ok := tracerProvider.(*sdktrace.TracerProvider); ok {
			_ = shutdownable.Shutdown(ctx)
		}
		return nil, fmt.Errorf("failed to create meter provider: %w", err)
	}

	slog.Info("Telemetry initialized successfully")

	return &Telemetry{
		tracerProvider: tracerProvider,
		meterProvider:  meterProvider,
		metricsHandler: metricsHandler,
	}, nil
}

func newNoOpTelemetry(ctx context.Context) (*Telemetry, error) {
	tracerProvider, err := NewTracerProvider(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create no-op tracer provider: %w", err)
	}

	meterProvider, err := NewMeterProvider(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create no-op meter provider: %w", err)
	}

	return &Telemetry{
		tracerProvider: tracerProvider,
		meterProvider:  meterProvider,
	}, nil
}

// TracerProvider returns the configured tracer provider
func (t *Telemetry) TracerProvider() trace.TracerProvider {
	return t.tracerProvider
}

// MeterProvider returns the configured meter provider
func (t *Telemetry) MeterProvider() metric.MeterProvider {
	return t.meterProvider
}

// MetricsHandler returns the Prometheus scrape handler, or nil when the
// prometheus exporter is not enabled
func (t *Telemetry) MetricsHandler() http.Handler {
	return t.metricsHandler
}

// Tracer returns a named tracer from the tracer provider
func (t *Telemetry) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	return t.tracerProvider.Tracer(name, opts...)
}

// Meter returns a named meter from the meter provider
func (t *Telemetry) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	return t.meterProvider.Meter(name, opts...)
}

// Shutdown flushes pending spans and metrics and stops the SDK providers.
// Both providers are shut down even when the first one fails.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if tp, ok := t.tracerProvider.(*sdktrace.TracerProvider); ok {
		if err := tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown tracer provider: %w", err))
		}
	}
	if mp, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
		if err := mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown meter provider: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	slog.Info("Telemetry shut down", "service_instance_id", processInstanceID)
	return nil
}

// newPrometheusRegistry returns the registry behind /metrics: runtime and
// process collectors plus a build info gauge identifying this proxy process.
func newPrometheusRegistry(version string) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "seqci_proxy_build_info",
			Help: "Always 1; labels identify the running seqci-proxy build and process.",
			ConstLabels: prometheus.Labels{
				"version":     version,
				"instance_id": processInstanceID,
			},
		}, func() float64 { return 1 }),
	)
	return reg
}
