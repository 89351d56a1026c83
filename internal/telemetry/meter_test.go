package telemetry

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func TestNewMeterProvider(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		opts       []MeterProviderOption
		expectNoOp bool
	}{
		{
			name:       "returns no-op provider when no config provided",
			opts:       []MeterProviderOption{},
			expectNoOp: true,
		},
		{
			name: "returns no-op provider when metrics disabled",
			opts: []MeterProviderOption{
				WithMetricsConfig(&MetricsConfig{Enabled: false}),
			},
			expectNoOp: true,
		},
		{
			name: "returns SDK provider with otlp exporter",
			opts: []MeterProviderOption{
				WithMetricsConfig(&MetricsConfig{Enabled: true}),
				WithMeterInsecure(true),
			},
		},
		{
			name: "returns SDK provider with prometheus exporter",
			opts: []MeterProviderOption{
				WithMetricsConfig(&MetricsConfig{Enabled: true, Exporter: MetricsExporterPrometheus}),
				WithPrometheusRegisterer(prometheus.NewRegistry()),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			mp, err := NewMeterProvider(ctx, tt.opts...)
			require.NoError(t, err)
			require.NotNil(t, mp)

			if tt.expectNoOp {
				_, ok := mp.(noop.MeterProvider)
				assert.True(t, ok, "expected no-op meter provider")
				return
			}

			sdkMP, ok := mp.(*sdkmetric.MeterProvider)
			require.True(t, ok, "expected SDK meter provider")
			// No collector is running, so flush errors on shutdown are expected.
			_ = sdkMP.Shutdown(ctx)
		})
	}
}

func TestNewMeterProvider_PrometheusRegistersCollector(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	reg := prometheus.NewRegistry()
	mp, err := NewMeterProvider(ctx,
		WithMetricsConfig(&MetricsConfig{Enabled: true, Exporter: MetricsExporterPrometheus}),
		WithPrometheusRegisterer(reg),
	)
	require.NoError(t, err)
	defer func() { _ = mp.(*sdkmetric.MeterProvider).Shutdown(ctx) }()

	counter, err := mp.Meter("test").Int64Counter("seqci_test_events")
	require.NoError(t, err)
	counter.Add(ctx, 3)

	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range families {
		if mf.GetName() == "seqci_test_events_total" {
			found = true
			require.Len(t, mf.GetMetric(), 1)
			assert.InDelta(t, 3.0, mf.GetMetric()[0].GetCounter().GetValue(), 0.0001)
		}
	}
	assert.True(t, found, "expected counter to be exposed through the registry")
}

func TestMeterProviderOptions(t *testing.T) {
	t.Parallel()

	cfg := &meterProviderConfig{}
	reg := prometheus.NewRegistry()
	metricsCfg := &MetricsConfig{Enabled: true}

	WithMeterServiceName("my-service")(cfg)
	WithMeterServiceVersion("2.0.0")(cfg)
	WithMetricsConfig(metricsCfg)(cfg)
	WithMeterEndpoint("collector.example.com:4318")(cfg)
	WithMeterInsecure(true)(cfg)
	WithPrometheusRegisterer(reg)(cfg)

	assert.Equal(t, "my-service", cfg.serviceName)
	assert.Equal(t, "2.0.0", cfg.serviceVersion)
	assert.Equal(t, metricsCfg, cfg.metricsConfig)
	assert.Equal(t, "collector.example.com:4318", cfg.endpoint)
	assert.True(t, cfg.insecure)
	assert.Equal(t, reg, cfg.registerer)
}
