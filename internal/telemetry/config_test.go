package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	assert.Equal(t, DefaultServiceName, cfg.GetServiceName())
	assert.Equal(t, "unknown", cfg.GetServiceVersion())
	assert.Equal(t, DefaultEndpoint, cfg.GetEndpoint())

	cfg = &Config{ServiceName: "svc", ServiceVersion: "1.2.3", Endpoint: "otel:4318"}
	assert.Equal(t, "svc", cfg.GetServiceName())
	assert.Equal(t, "1.2.3", cfg.GetServiceVersion())
	assert.Equal(t, "otel:4318", cfg.GetEndpoint())

	assert.Equal(t, DefaultSampling, (&TracingConfig{}).GetSampling())
	assert.Equal(t, 0.5, (&TracingConfig{Sampling: 0.5}).GetSampling())
}

func TestMetricsConfig_Exporter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		cfg            *MetricsConfig
		wantOTLP       bool
		wantPrometheus bool
	}{
		{name: "nil defaults to otlp", cfg: nil, wantOTLP: true},
		{name: "empty defaults to otlp", cfg: &MetricsConfig{}, wantOTLP: true},
		{name: "prometheus only", cfg: &MetricsConfig{Exporter: MetricsExporterPrometheus}, wantPrometheus: true},
		{name: "both", cfg: &MetricsConfig{Exporter: MetricsExporterBoth}, wantOTLP: true, wantPrometheus: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.wantOTLP, tt.cfg.UsesOTLP())
			assert.Equal(t, tt.wantPrometheus, tt.cfg.UsesPrometheus())
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     *Config
		wantErr string
	}{
		{name: "nil config is valid", cfg: nil},
		{name: "disabled config skips validation", cfg: &Config{Tracing: &TracingConfig{Enabled: true, Sampling: 7}}},
		{
			name: "valid enabled config",
			cfg: &Config{
				Enabled: true,
				Tracing: &TracingConfig{Enabled: true, Sampling: 1},
				Metrics: &MetricsConfig{Enabled: true, Exporter: MetricsExporterBoth},
			},
		},
		{
			name:    "sampling out of range",
			cfg:     &Config{Enabled: true, Tracing: &TracingConfig{Enabled: true, Sampling: 1.5}},
			wantErr: "tracing: sampling must be between 0.0 and 1.0",
		},
		{
			name:    "unknown exporter",
			cfg:     &Config{Enabled: true, Metrics: &MetricsConfig{Enabled: true, Exporter: "statsd"}},
			wantErr: "metrics: exporter must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
