package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/seqci-proxy/database"
	"github.com/stacklok/seqci-proxy/internal/api"
	"github.com/stacklok/seqci-proxy/internal/auth"
	"github.com/stacklok/seqci-proxy/internal/config"
	"github.com/stacklok/seqci-proxy/internal/db"
	"github.com/stacklok/seqci-proxy/internal/engine"
	"github.com/stacklok/seqci-proxy/internal/lifecycle"
	"github.com/stacklok/seqci-proxy/internal/ports"
	"github.com/stacklok/seqci-proxy/internal/proxy"
	"github.com/stacklok/seqci-proxy/internal/reconcile"
	"github.com/stacklok/seqci-proxy/internal/registry"
	"github.com/stacklok/seqci-proxy/internal/telemetry"
	"github.com/stacklok/seqci-proxy/internal/tenants"
)

const (
	defaultReadHeaderTimeout = 10 * time.Second
	defaultIdleTimeout       = 60 * time.Second
	defaultEngineWait        = 30 * time.Second
)

// defaultPublicPaths are paths that never require authentication
var defaultPublicPaths = []string{"/healthz", "/readyz"}

// ProxyAppOptions is a function that configures the proxy app builder
type ProxyAppOptions func(*proxyAppConfig) error

// proxyAppConfig supports dependency injection for testing while providing
// production defaults
type proxyAppConfig struct {
	config *config.Config

	// Optional component overrides (primarily for testing)
	store  registry.Store
	engine engine.Engine

	// HTTP server options
	address           string
	middlewares       []func(http.Handler) http.Handler
	readHeaderTimeout time.Duration
	writeTimeout      time.Duration
	idleTimeout       time.Duration

	engineWait time.Duration
	dbOptions  []db.ConnectionOption

	// Telemetry components
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	metricsHandler http.Handler
}

func baseConfig(opts ...ProxyAppOptions) (*proxyAppConfig, error) {
	cfg := &proxyAppConfig{
		readHeaderTimeout: defaultReadHeaderTimeout,
		idleTimeout:       defaultIdleTimeout,
		engineWait:        defaultEngineWait,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.address == "" {
		cfg.address = cfg.config.Server.Address
	}

	return cfg, nil
}

// NewProxyApp wires storage, the container engine, the lifecycle manager
// and the HTTP server. Injected components are not closed by the app.
func NewProxyApp(ctx context.Context, opts ...ProxyAppOptions) (*ProxyApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	var cleanups []func() error
	cleanupNeeded := true
	defer func() {
		if cleanupNeeded {
			_ = runCleanups(cleanups)
		}
	}()

	conn, err := buildStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build storage: %w", err)
	}
	if conn != nil {
		cleanups = append(cleanups, conn.Close)
	}

	if err := seedTenants(ctx, cfg); err != nil {
		return nil, err
	}

	closeEngine, err := buildEngine(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build container engine: %w", err)
	}
	if closeEngine != nil {
		cleanups = append(cleanups, closeEngine)
	}

	mgr, err := buildManager(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build lifecycle manager: %w", err)
	}

	httpServer, err := buildHTTPServer(cfg, mgr)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	coordinator := reconcile.New(mgr, cfg.config.Reconcile.GetInterval())

	appCtx, cancel := context.WithCancel(ctx)
	cleanupNeeded = false

	return &ProxyApp{
		config: cfg.config,
		components: &AppComponents{
			Reconciler: coordinator,
			Manager:    mgr,
			Store:      cfg.store,
			Engine:     cfg.engine,
			Database:   conn,
		},
		httpServer: httpServer,
		ctx:        appCtx,
		cancelFunc: cancel,
		cleanups:   cleanups,
	}, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) ProxyAppOptions {
	return func(cfg *proxyAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress sets the HTTP server address
func WithAddress(addr string) ProxyAppOptions {
	return func(cfg *proxyAppConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		host, port, ok := strings.Cut(addr, ":")
		if !ok || port == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		if host == "localhost" {
			host = "127.0.0.1"
		}
		if host == "" {
			host = "0.0.0.0"
		}

		if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares replaces the default HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ProxyAppOptions {
	return func(cfg *proxyAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithWriteTimeout bounds response writes. Zero, the default, leaves
// proxied streams and log tails unbounded.
func WithWriteTimeout(d time.Duration) ProxyAppOptions {
	return func(cfg *proxyAppConfig) error {
		if d < 0 {
			return fmt.Errorf("write timeout cannot be negative")
		}
		cfg.writeTimeout = d
		return nil
	}
}

// WithStore injects the instance registry (for testing)
func WithStore(s registry.Store) ProxyAppOptions {
	return func(cfg *proxyAppConfig) error {
		cfg.store = s
		return nil
	}
}

// WithEngine injects the container engine (for testing)
func WithEngine(e engine.Engine) ProxyAppOptions {
	return func(cfg *proxyAppConfig) error {
		cfg.engine = e
		return nil
	}
}

// WithEngineWait bounds how long startup waits for the container engine
func WithEngineWait(d time.Duration) ProxyAppOptions {
	return func(cfg *proxyAppConfig) error {
		cfg.engineWait = d
		return nil
	}
}

// WithDatabaseOptions passes options to the registry database connection
func WithDatabaseOptions(opts ...db.ConnectionOption) ProxyAppOptions {
	return func(cfg *proxyAppConfig) error {
		cfg.dbOptions = append(cfg.dbOptions, opts...)
		return nil
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider
func WithMeterProvider(mp metric.MeterProvider) ProxyAppOptions {
	return func(cfg *proxyAppConfig) error {
		cfg.meterProvider = mp
		return nil
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider
func WithTracerProvider(tp trace.TracerProvider) ProxyAppOptions {
	return func(cfg *proxyAppConfig) error {
		cfg.tracerProvider = tp
		return nil
	}
}

// WithMetricsHandler serves h on the public /metrics path
func WithMetricsHandler(h http.Handler) ProxyAppOptions {
	return func(cfg *proxyAppConfig) error {
		cfg.metricsHandler = h
		return nil
	}
}

// buildStorage opens and migrates the registry database unless a store was
// injected. The returned connection is nil in the injected case.
func buildStorage(ctx context.Context, b *proxyAppConfig) (*db.Connection, error) {
	if b.store != nil {
		return nil, nil
	}

	slog.Info("Initializing instance registry", "driver", b.config.Database.Driver)
	conn, err := db.NewConnection(ctx, &b.config.Database, b.dbOptions...)
	if err != nil {
		return nil, err
	}

	if err := database.MigrateUp(conn); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to apply migrations: %w", err), conn.Close())
	}

	var storeOpts []registry.Option
	if b.tracerProvider != nil {
		storeOpts = append(storeOpts, registry.WithTracer(b.tracerProvider.Tracer(registry.StoreTracerName)))
	}
	store, err := registry.NewSQLStore(conn, storeOpts...)
	if err != nil {
		return nil, errors.Join(err, conn.Close())
	}

	b.store = store
	return conn, nil
}

func seedTenants(ctx context.Context, b *proxyAppConfig) error {
	path := b.config.Auth.UsersFile
	if path == "" {
		slog.Warn("No users file configured, skipping tenant seeding")
		return nil
	}

	created, err := tenants.SeedFile(ctx, b.store, path)
	if err != nil {
		return fmt.Errorf("failed to seed tenants: %w", err)
	}
	slog.Info("Tenants seeded", "file", path, "created", created)
	return nil
}

// buildEngine connects to docker unless an engine was injected and returns
// the close function for engines the app owns
func buildEngine(ctx context.Context, b *proxyAppConfig) (func() error, error) {
	var closeFn func() error
	if b.engine == nil {
		docker, err := engine.NewDocker(&b.config.Container)
		if err != nil {
			return nil, err
		}
		b.engine = docker
		closeFn = docker.Close
	}

	if err := engine.WaitReady(ctx, b.engine, b.engineWait); err != nil {
		if closeFn != nil {
			_ = closeFn()
		}
		return nil, err
	}
	slog.Info("Container engine ready", "image", b.config.Container.Image)
	return closeFn, nil
}

func buildManager(b *proxyAppConfig) (*lifecycle.Manager, error) {
	pc := b.config.Ports
	allocOpts := []ports.Option{
		ports.WithRange(pc.Min, pc.Max),
		ports.WithMaxAttempts(pc.MaxAttempts),
	}
	if pc.ShouldProbeHost() {
		allocOpts = append(allocOpts, ports.WithHostProbe(b.config.Container.HostIP))
	}
	alloc, err := ports.NewAllocator(b.store, allocOpts...)
	if err != nil {
		return nil, err
	}

	mgrOpts := []lifecycle.Option{
		lifecycle.WithRevealForeign(b.config.Auth.RevealForeignInstances),
		lifecycle.WithOrphanGracePeriod(b.config.Reconcile.GetOrphanGracePeriod()),
	}
	if b.tracerProvider != nil {
		mgrOpts = append(mgrOpts, lifecycle.WithTracer(b.tracerProvider.Tracer(lifecycle.TracerName)))
	}
	if b.meterProvider != nil {
		lm, err := telemetry.NewLifecycleMetrics(b.meterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create lifecycle metrics: %w", err)
		}
		rm, err := telemetry.NewReconcileMetrics(b.meterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create reconcile metrics: %w", err)
		}
		mgrOpts = append(mgrOpts, lifecycle.WithMetrics(lm), lifecycle.WithReconcileMetrics(rm))
		slog.Info("Lifecycle metrics enabled")
	}

	return lifecycle.NewManager(b.store, b.engine, alloc, mgrOpts...)
}

// buildHTTPServer builds the HTTP server with router and middleware
func buildHTTPServer(b *proxyAppConfig, mgr *lifecycle.Manager) (*http.Server, error) {
	slog.Info("Initializing HTTP server")

	middlewares := b.middlewares
	if middlewares == nil {
		middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			api.LoggingMiddleware,
		}
	}

	// Prepended so requests rejected by auth are measured and traced too
	if b.meterProvider != nil {
		metricsMiddleware, err := telemetry.MetricsMiddleware(b.meterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics middleware: %w", err)
		}
		middlewares = append([]func(http.Handler) http.Handler{metricsMiddleware}, middlewares...)
		slog.Info("HTTP metrics middleware enabled")
	}
	if b.tracerProvider != nil {
		middlewares = append([]func(http.Handler) http.Handler{telemetry.TracingMiddleware(b.tracerProvider)}, middlewares...)
	}

	authMw, err := auth.NewMiddleware(b.store, b.config.Auth.Realm)
	if err != nil {
		return nil, fmt.Errorf("failed to build auth middleware: %w", err)
	}
	publicPaths := defaultPublicPaths
	if b.metricsHandler != nil {
		publicPaths = append([]string{"/metrics"}, publicPaths...)
	}
	middlewares = append(middlewares, auth.WrapWithPublicPaths(authMw, publicPaths))

	fwd, err := proxy.New(b.config.Container.HostIP, mgr, proxy.WithErrorWriter(api.WriteError))
	if err != nil {
		return nil, fmt.Errorf("failed to build reverse proxy: %w", err)
	}

	serverOpts := []api.ServerOption{
		api.WithMiddlewares(middlewares...),
		api.WithDefaultTail(b.config.Logs.DefaultTail),
		api.WithStartTimeout(b.config.Server.GetStartTimeout()),
	}
	if b.metricsHandler != nil {
		serverOpts = append(serverOpts, api.WithMetricsHandler(b.metricsHandler))
	}
	router := api.NewServer(mgr, fwd, serverOpts...)

	server := &http.Server{
		Addr:              b.address,
		Handler:           router,
		ReadHeaderTimeout: b.readHeaderTimeout,
		WriteTimeout:      b.writeTimeout,
		IdleTimeout:       b.idleTimeout,
	}

	slog.Info("HTTP server configured", "address", b.address)
	return server, nil
}
