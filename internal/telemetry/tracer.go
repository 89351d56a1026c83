package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerProviderOption is a function that configures the tracer provider setup
type TracerProviderOption func(*tracerProviderConfig)

type tracerProviderConfig struct {
	serviceName    string
	serviceVersion string
	tracingConfig  *TracingConfig
	endpoint       string
	insecure       bool
	exporter       sdktrace.SpanExporter
}

// WithTracerServiceName sets the service name for the tracer provider
func WithTracerServiceName(name string) TracerProviderOption {
	return func(cfg *tracerProviderConfig) {
		cfg.serviceName = name
	}
}

// WithTracerServiceVersion sets the service version for the tracer provider
func WithTracerServiceVersion(version string) TracerProviderOption {
	return func(cfg *tracerProviderConfig) {
		cfg.serviceVersion = version
	}
}

// WithTracingConfig sets the tracing configuration
func WithTracingConfig(tc *TracingConfig) TracerProviderOption {
	return func(cfg *tracerProviderConfig) {
		cfg.tracingConfig = tc
	}
}

// WithTracerEndpoint sets the OTLP endpoint spans are exported to
func WithTracerEndpoint(endpoint string) TracerProviderOption {
	return func(cfg *tracerProviderConfig) {
		cfg.endpoint = endpoint
	}
}

// WithTracerInsecure sends spans over plain HTTP
func WithTracerInsecure(insecure bool) TracerProviderOption {
	return func(cfg *tracerProviderConfig) {
		cfg.insecure = insecure
	}
}

// WithSpanExporter replaces the OTLP exporter, mainly for tests
func WithSpanExporter(exporter sdktrace.SpanExporter) TracerProviderOption {
	return func(cfg *tracerProviderConfig) {
		cfg.exporter = exporter
	}
}

// NewTracerProvider creates a TracerProvider exporting over OTLP, or a no-op
// provider when tracing is disabled. The caller must Shutdown SDK providers.
func NewTracerProvider(ctx context.Context, opts ...TracerProviderOption) (trace.TracerProvider, error) {
	cfg := &tracerProviderConfig{
		serviceName:    DefaultServiceName,
		serviceVersion: "unknown",
		endpoint:       DefaultEndpoint,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.tracingConfig == nil || !cfg.tracingConfig.Enabled {
		slog.Info("Tracing disabled, using no-op tracer provider")
		return noop.NewTracerProvider(), nil
	}

	res, err := newResource(ctx, cfg.serviceName, cfg.serviceVersion)
	if err != nil {
		return nil, err
	}

	exporter := cfg.exporter
	if exporter == nil {
		exporter, err = otlptracehttp.New(ctx, otlpTraceOptions(cfg.endpoint, cfg.insecure)...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
		}
	}

	ratio := cfg.tracingConfig.GetSampling()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(newLifecycleSampler(ratio))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if cfg.insecure {
		slog.Warn("Tracing configured with insecure connection, spans are sent over unencrypted HTTP")
	}
	slog.Info("Tracing initialized",
		"endpoint", cfg.endpoint,
		"sampling_ratio", ratio,
		"insecure", cfg.insecure,
	)
	return tp, nil
}

func otlpTraceOptions(endpoint string, insecure bool) []otlptracehttp.Option {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
	if insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return opts
}

// lifecycleSampler records every root span for a start or stop request and
// samples the rest (proxied sequencer traffic) at the configured ratio.
type lifecycleSampler struct {
	ratio sdktrace.Sampler
}

func newLifecycleSampler(ratio float64) sdktrace.Sampler {
	return lifecycleSampler{ratio: sdktrace.TraceIDRatioBased(ratio)}
}

// ShouldSample implements sdktrace.Sampler
func (s lifecycleSampler) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	if isLifecycleRequest(p.Attributes) {
		return sdktrace.AlwaysSample().ShouldSample(p)
	}
	return s.ratio.ShouldSample(p)
}

// Description implements sdktrace.Sampler
func (s lifecycleSampler) Description() string {
	return fmt.Sprintf("LifecycleSampler{%s}", s.ratio.Description())
}

func isLifecycleRequest(attrs []attribute.KeyValue) bool {
	for _, kv := range attrs {
		if kv.Key != semconv.URLPathKey {
			continue
		}
		path := strings.TrimSuffix(kv.Value.AsString(), "/")
		if path == "/start" {
			return true
		}
		// /{name}/stop
		rest, ok := strings.CutSuffix(path, "/stop")
		return ok && strings.Count(rest, "/") == 1 && len(rest) > 1
	}
	return false
}
