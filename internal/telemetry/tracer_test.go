package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestNewTracerProvider(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		opts       []TracerProviderOption
		expectNoOp bool
	}{
		{
			name:       "returns no-op provider when no config provided",
			opts:       []TracerProviderOption{},
			expectNoOp: true,
		},
		{
			name: "returns no-op provider when tracing disabled",
			opts: []TracerProviderOption{
				WithTracingConfig(&TracingConfig{Enabled: false}),
			},
			expectNoOp: true,
		},
		{
			name: "returns SDK provider when tracing enabled",
			opts: []TracerProviderOption{
				WithTracingConfig(&TracingConfig{Enabled: true, Sampling: 0.5}),
				WithTracerServiceName("seqci-proxy-test"),
				WithTracerServiceVersion("v0.0.1"),
				WithTracerInsecure(true),
				WithSpanExporter(tracetest.NewInMemoryExporter()),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			tp, err := NewTracerProvider(ctx, tt.opts...)
			require.NoError(t, err)
			require.NotNil(t, tp)

			if tt.expectNoOp {
				_, ok := tp.(noop.TracerProvider)
				assert.True(t, ok, "expected no-op tracer provider")
				return
			}

			sdkTP, ok := tp.(*sdktrace.TracerProvider)
			require.True(t, ok, "expected SDK tracer provider")
			require.NoError(t, sdkTP.Shutdown(ctx))
		})
	}
}

func TestTracerProviderOptions(t *testing.T) {
	t.Parallel()

	cfg := &tracerProviderConfig{}
	tc := &TracingConfig{Enabled: true}
	for _, opt := range []TracerProviderOption{
		WithTracerServiceName("svc"),
		WithTracerServiceVersion("v1"),
		WithTracingConfig(tc),
		WithTracerEndpoint("collector:4318"),
		WithTracerInsecure(true),
	} {
		opt(cfg)
	}

	assert.Equal(t, "svc", cfg.serviceName)
	assert.Equal(t, "v1", cfg.serviceVersion)
	assert.Same(t, tc, cfg.tracingConfig)
	assert.Equal(t, "collector:4318", cfg.endpoint)
	assert.True(t, cfg.insecure)
}

func TestTracerProvider_Resource(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	exporter := tracetest.NewInMemoryExporter()
	tp, err := NewTracerProvider(ctx,
		WithTracingConfig(&TracingConfig{Enabled: true, Sampling: 1}),
		WithTracerServiceVersion("v1.2.3"),
		WithSpanExporter(exporter),
	)
	require.NoError(t, err)
	sdkTP := tp.(*sdktrace.TracerProvider)

	_, span := sdkTP.Tracer("test").Start(ctx, "lifecycle.Start")
	span.End()
	require.NoError(t, sdkTP.ForceFlush(ctx))
	require.NoError(t, sdkTP.Shutdown(ctx))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	attrs := spans[0].Resource.Attributes()
	assert.Contains(t, attrs, semconv.ServiceName(DefaultServiceName))
	assert.Contains(t, attrs, semconv.ServiceVersion("v1.2.3"))
	assert.Contains(t, attrs, semconv.ServiceNamespace(ServiceNamespace))
	assert.Contains(t, attrs, semconv.ServiceInstanceID(processInstanceID))
}

func TestLifecycleSampler(t *testing.T) {
	t.Parallel()

	sampler := newLifecycleSampler(0)
	assert.Contains(t, sampler.Description(), "LifecycleSampler")

	tests := []struct {
		name string
		path string
		want sdktrace.SamplingDecision
	}{
		{name: "start", path: "/start", want: sdktrace.RecordAndSample},
		{name: "stop", path: "/4f2b3c60ae32/stop", want: sdktrace.RecordAndSample},
		{name: "stop with trailing slash", path: "/4f2b3c60ae32/stop/", want: sdktrace.RecordAndSample},
		{name: "proxied rpc", path: "/4f2b3c60ae32", want: sdktrace.Drop},
		{name: "proxied sub path ending in stop", path: "/4f2b3c60ae32/rpc/stop", want: sdktrace.Drop},
		{name: "logs", path: "/4f2b3c60ae32/logs", want: sdktrace.Drop},
		{name: "no path attribute", want: sdktrace.Drop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var attrs []attribute.KeyValue
			if tt.path != "" {
				attrs = append(attrs, semconv.URLPath(tt.path))
			}
			res := sampler.ShouldSample(sdktrace.SamplingParameters{
				ParentContext: context.Background(),
				TraceID:       trace.TraceID{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
				Name:          "POST " + tt.path,
				Kind:          trace.SpanKindServer,
				Attributes:    attrs,
			})
			assert.Equal(t, tt.want, res.Decision)
		})
	}
}
