package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/stacklok/seqci-proxy/internal/app"
	"github.com/stacklok/seqci-proxy/internal/config"
	"github.com/stacklok/seqci-proxy/internal/telemetry"
	"github.com/stacklok/seqci-proxy/internal/versions"
)

const (
	defaultGracefulTimeout  = 30 * time.Second
	telemetryShutdownBudget = 5 * time.Second
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the proxy server",
		Long: `Start the proxy server.

The configuration file (--config) selects the sequencer image, the port range
handed to containers, the registry database and the users file seeding
tenants. Every setting has a default and SEQCI_* environment variables
override the file.

See the examples/ directory for a sample configuration.`,
		RunE: runServe,
	}

	cmd.Flags().String("address", "", "Address to listen on (overrides server.address)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	address, err := cmd.Flags().GetString("address")
	if err != nil {
		return fmt.Errorf("failed to get address flag: %w", err)
	}

	tel, err := initTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), telemetryShutdownBudget)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown telemetry", "error", err)
		}
	}()

	opts := []app.ProxyAppOptions{
		app.WithConfig(cfg),
		app.WithMeterProvider(tel.MeterProvider()),
		app.WithTracerProvider(tel.TracerProvider()),
	}
	if address != "" {
		opts = append(opts, app.WithAddress(address))
	}
	if h := tel.MetricsHandler(); h != nil {
		opts = append(opts, app.WithMetricsHandler(h))
	}

	proxyApp, err := app.NewProxyApp(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create proxy app: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- proxyApp.Start()
	}()

	select {
	case err := <-errCh:
		_ = proxyApp.Close()
		return err
	case <-ctx.Done():
	}

	if err := proxyApp.Stop(defaultGracefulTimeout); err != nil {
		return err
	}
	return <-errCh
}

func initTelemetry(ctx context.Context, cfg *config.Config) (*telemetry.Telemetry, error) {
	if cfg.Telemetry != nil && cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = versions.GetVersionInfo().Version
	}

	tel, err := telemetry.New(ctx, telemetry.WithTelemetryConfig(cfg.Telemetry))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	otel.SetTracerProvider(tel.TracerProvider())
	otel.SetMeterProvider(tel.MeterProvider())
	return tel, nil
}
