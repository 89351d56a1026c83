// Package app provides application lifecycle management for the proxy server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stacklok/seqci-proxy/internal/config"
)

// ProxyApp encapsulates all components needed to run the proxy server.
// It provides lifecycle management and graceful shutdown capabilities.
type ProxyApp struct {
	config     *config.Config
	components *AppComponents
	httpServer *http.Server

	ctx        context.Context
	cancelFunc context.CancelFunc
	cleanups   []func() error
}

// Start runs the HTTP server and the reconciliation coordinator. It blocks
// until Stop is called or either of them fails.
func (app *ProxyApp) Start() error {
	g, ctx := errgroup.WithContext(app.ctx)

	g.Go(func() error {
		return app.components.Reconciler.Start(ctx)
	})

	g.Go(func() error {
		slog.Info("Server listening", "address", app.httpServer.Addr)
		if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// Stop gracefully stops the application with the given timeout. In-flight
// requests are drained before the engine and database are released.
func (app *ProxyApp) Stop(timeout time.Duration) error {
	slog.Info("Shutting down server...")

	var errs []error
	if err := app.components.Reconciler.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop reconciliation coordinator: %w", err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server forced to shutdown: %w", err))
	}

	if app.cancelFunc != nil {
		app.cancelFunc()
	}
	if err := app.Close(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		slog.Info("Server shutdown complete")
	}
	return errors.Join(errs...)
}

// Close releases the engine client and database connection owned by the app
func (app *ProxyApp) Close() error {
	cleanups := app.cleanups
	app.cleanups = nil
	return runCleanups(cleanups)
}

// GetConfig returns the application configuration
func (app *ProxyApp) GetConfig() *config.Config {
	return app.config
}

// GetHTTPServer returns the HTTP server
func (app *ProxyApp) GetHTTPServer() *http.Server {
	return app.httpServer
}

// Components returns the wired application components
func (app *ProxyApp) Components() *AppComponents {
	return app.components
}

// runCleanups runs cleanups in reverse order of acquisition
func runCleanups(cleanups []func() error) error {
	var errs []error
	for i := len(cleanups) - 1; i >= 0; i-- {
		if err := cleanups[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
