// Package telemetry provides OpenTelemetry instrumentation for the sequencer proxy.
// Traces are exported over OTLP; metrics over OTLP, a Prometheus scrape endpoint, or both.
package telemetry

import (
	"errors"
	"fmt"
)

const (
	// DefaultServiceName is the default service name for telemetry
	DefaultServiceName = "seqci-proxy"

	// DefaultEndpoint is the default OTLP endpoint for telemetry
	DefaultEndpoint = "localhost:4318"

	// DefaultSampling is the default trace sampling rate (5%)
	DefaultSampling = 0.05
)

const (
	// MetricsExporterOTLP pushes metrics to the OTLP endpoint
	MetricsExporterOTLP = "otlp"

	// MetricsExporterPrometheus serves metrics on /metrics
	MetricsExporterPrometheus = "prometheus"

	// MetricsExporterBoth enables both exporters
	MetricsExporterBoth = "both"
)

// Config represents the root telemetry configuration
type Config struct {
	// Enabled controls whether telemetry is enabled globally.
	// When false, no telemetry providers are initialized.
	Enabled bool `yaml:"enabled"`

	// ServiceName identifies the service, defaults to "seqci-proxy"
	ServiceName string `yaml:"serviceName,omitempty"`

	// ServiceVersion defaults to the build version when empty
	ServiceVersion string `yaml:"serviceVersion,omitempty"`

	// Endpoint is the OTLP collector endpoint in "host:port" form
	Endpoint string `yaml:"endpoint,omitempty"`

	// Insecure allows plain HTTP to the collector
	Insecure bool `yaml:"insecure,omitempty"`

	// Tracing contains tracing-specific configuration
	Tracing *TracingConfig `yaml:"tracing,omitempty"`

	// Metrics contains metrics-specific configuration
	Metrics *MetricsConfig `yaml:"metrics,omitempty"`
}

// TracingConfig defines tracing-specific configuration
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`

	// Sampling is the trace sampling ratio (0.0 to 1.0)
	Sampling float64 `yaml:"sampling,omitempty"`
}

// MetricsConfig defines metrics-specific configuration
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`

	// Exporter selects otlp, prometheus or both. Defaults to otlp.
	Exporter string `yaml:"exporter,omitempty"`
}

// GetServiceName returns the service name, using default if not specified
func (c *Config) GetServiceName() string {
	if c.ServiceName == "" {
		return DefaultServiceName
	}
	return c.ServiceName
}

// GetServiceVersion returns the service version, using "unknown" if not specified
func (c *Config) GetServiceVersion() string {
	if c.ServiceVersion == "" {
		return "unknown"
	}
	return c.ServiceVersion
}

// GetEndpoint returns the endpoint, using default if not specified
func (c *Config) GetEndpoint() string {
	if c.Endpoint == "" {
		return DefaultEndpoint
	}
	return c.Endpoint
}

// GetSampling returns the sampling ratio.
// Zero is treated as unset and yields DefaultSampling.
func (c *TracingConfig) GetSampling() float64 {
	if c.Sampling == 0.0 {
		return DefaultSampling
	}
	return c.Sampling
}

// GetExporter returns the configured metrics exporter
func (c *MetricsConfig) GetExporter() string {
	if c == nil || c.Exporter == "" {
		return MetricsExporterOTLP
	}
	return c.Exporter
}

// UsesOTLP reports whether metrics are pushed over OTLP
func (c *MetricsConfig) UsesOTLP() bool {
	e := c.GetExporter()
	return e == MetricsExporterOTLP || e == MetricsExporterBoth
}

// UsesPrometheus reports whether metrics are served for scraping
func (c *MetricsConfig) UsesPrometheus() bool {
	e := c.GetExporter()
	return e == MetricsExporterPrometheus || e == MetricsExporterBoth
}

// Validate validates the telemetry configuration
func (c *Config) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}

	var errs []error

	if c.Tracing != nil {
		if err := c.Tracing.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("tracing: %w", err))
		}
	}

	if c.Metrics != nil {
		if err := c.Metrics.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("metrics: %w", err))
		}
	}

	return errors.Join(errs...)
}

// Validate validates the tracing configuration
func (c *TracingConfig) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}

	if c.Sampling < 0 || c.Sampling > 1.0 {
		return fmt.Errorf("sampling must be between 0.0 and 1.0, got %f", c.Sampling)
	}

	return nil
}

// Validate validates the metrics configuration
func (c *MetricsConfig) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}

	switch c.GetExporter() {
	case MetricsExporterOTLP, MetricsExporterPrometheus, MetricsExporterBoth:
		return nil
	default:
		return fmt.Errorf("exporter must be one of otlp, prometheus, both; got %q", c.Exporter)
	}
}
