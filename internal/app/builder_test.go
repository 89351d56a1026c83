package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/stacklok/seqci-proxy/database"
	"github.com/stacklok/seqci-proxy/internal/config"
	"github.com/stacklok/seqci-proxy/internal/db"
	"github.com/stacklok/seqci-proxy/internal/engine/enginetest"
	"github.com/stacklok/seqci-proxy/internal/registry"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Container.Image = "ghcr.io/dojoengine/katana:v1.0.0"
	cfg.Database.Path = filepath.Join(t.TempDir(), "seqci.db")
	cfg.Ports.Min = 41000
	cfg.Ports.Max = 41999
	return cfg
}

func sqliteStore(t *testing.T) registry.Store {
	t.Helper()
	store, err := registry.NewSQLStore(database.SetupSQLite(t))
	require.NoError(t, err)
	return store
}

func TestBaseConfig_RequiresConfig(t *testing.T) {
	t.Parallel()

	_, err := baseConfig()
	require.Error(t, err)

	cfg, err := baseConfig(WithConfig(testConfig(t)))
	require.NoError(t, err)
	assert.Equal(t, ":5050", cfg.address, "address defaults to the configured one")
	assert.Equal(t, defaultEngineWait, cfg.engineWait)
}

func TestWithAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		addr    string
		wantErr bool
	}{
		{name: "port only", addr: ":5050"},
		{name: "ip and port", addr: "127.0.0.1:8080"},
		{name: "localhost", addr: "localhost:8080"},
		{name: "empty", addr: "", wantErr: true},
		{name: "no port", addr: "127.0.0.1", wantErr: true},
		{name: "empty port", addr: "127.0.0.1:", wantErr: true},
		{name: "bad port", addr: ":http-alt", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &proxyAppConfig{}
			err := WithAddress(tt.addr)(cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.addr, cfg.address)
		})
	}
}

func TestWithWriteTimeout(t *testing.T) {
	t.Parallel()

	cfg := &proxyAppConfig{}
	require.NoError(t, WithWriteTimeout(time.Minute)(cfg))
	assert.Equal(t, time.Minute, cfg.writeTimeout)
	assert.Error(t, WithWriteTimeout(-time.Second)(cfg))
}

func TestNewProxyApp_InjectedComponents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := sqliteStore(t)
	fake := enginetest.NewFake()

	app, err := NewProxyApp(ctx,
		WithConfig(testConfig(t)),
		WithStore(store),
		WithEngine(fake),
		WithAddress("127.0.0.1:0"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	assert.Nil(t, app.Components().Database, "injected store owns no connection")
	assert.Same(t, fake, app.Components().Engine)
	assert.NotNil(t, app.Components().Manager)
	assert.Equal(t, "127.0.0.1:0", app.GetHTTPServer().Addr)
	assert.Zero(t, app.GetHTTPServer().WriteTimeout, "streams are not cut by a write deadline")
}

func TestNewProxyApp_OpensAndMigratesDatabase(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cfg := testConfig(t)
	app, err := NewProxyApp(ctx, WithConfig(cfg), WithEngine(enginetest.NewFake()))
	require.NoError(t, err)

	require.NotNil(t, app.Components().Database)
	_, err = app.Components().Store.CreateTenant(ctx, "alice", "mykey")
	require.NoError(t, err, "schema applied")

	require.NoError(t, app.Close())
	require.NoError(t, app.Close(), "close is idempotent")
}

func TestNewProxyApp_DatabaseLock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cfg := testConfig(t)
	first, err := NewProxyApp(ctx, WithConfig(cfg), WithEngine(enginetest.NewFake()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = first.Close() })

	_, err = NewProxyApp(ctx, WithConfig(cfg), WithEngine(enginetest.NewFake()))
	require.ErrorIs(t, err, db.ErrLocked)

	second, err := NewProxyApp(ctx, WithConfig(cfg), WithEngine(enginetest.NewFake()),
		WithDatabaseOptions(db.WithoutFileLock()))
	require.NoError(t, err, "admin commands share the database with a running server")
	require.NoError(t, second.Close())
}

func TestNewProxyApp_SeedsTenants(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cfg := testConfig(t)
	cfg.Auth.UsersFile = filepath.Join(t.TempDir(), "users.csv")
	require.NoError(t, os.WriteFile(cfg.Auth.UsersFile, []byte("alice,mykey\nbob,otherkey\n"), 0o600))

	store := sqliteStore(t)
	app, err := NewProxyApp(ctx, WithConfig(cfg), WithStore(store), WithEngine(enginetest.NewFake()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	tenants, err := store.ListTenants(ctx)
	require.NoError(t, err)
	assert.Len(t, tenants, 2)
}

func TestNewProxyApp_Failures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("malformed users file", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig(t)
		cfg.Auth.UsersFile = filepath.Join(t.TempDir(), "users.csv")
		require.NoError(t, os.WriteFile(cfg.Auth.UsersFile, []byte("alice\n"), 0o600))

		_, err := NewProxyApp(ctx, WithConfig(cfg), WithStore(sqliteStore(t)), WithEngine(enginetest.NewFake()))
		assert.ErrorContains(t, err, "failed to seed tenants")
	})

	t.Run("engine unreachable", func(t *testing.T) {
		t.Parallel()
		fake := enginetest.NewFake()
		fake.SetUnavailable(true)

		_, err := NewProxyApp(ctx,
			WithConfig(testConfig(t)),
			WithStore(sqliteStore(t)),
			WithEngine(fake),
			WithEngineWait(50*time.Millisecond),
		)
		assert.ErrorIs(t, err, enginetest.ErrUnavailable)
	})
}

func TestBuildHTTPServer_PublicPaths(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	app, err := NewProxyApp(ctx,
		WithConfig(testConfig(t)),
		WithStore(sqliteStore(t)),
		WithEngine(enginetest.NewFake()),
		WithMeterProvider(sdkmetric.NewMeterProvider()),
		WithMetricsHandler(metrics),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	tests := []struct {
		path       string
		wantStatus int
	}{
		{path: "/healthz", wantStatus: http.StatusOK},
		{path: "/readyz", wantStatus: http.StatusOK},
		{path: "/metrics", wantStatus: http.StatusOK},
		{path: "/start", wantStatus: http.StatusUnauthorized},
		{path: "/4f2b3c60ae32/logs", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rr := httptest.NewRecorder()
			app.GetHTTPServer().Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Contains(t, rr.Header().Get("WWW-Authenticate"), `realm="seqci-proxy"`)
			}
		})
	}
}
