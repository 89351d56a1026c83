package database

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	tclog "github.com/testcontainers/testcontainers-go/log"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/stacklok/seqci-proxy/internal/config"
	"github.com/stacklok/seqci-proxy/internal/db"
)

// PostgresTestEnv enables tests that start a Postgres container
const PostgresTestEnv = "SEQCI_TEST_POSTGRES"

type nopLogger struct{}

func (*nopLogger) Printf(_ string, _ ...any) {}

var _ tclog.Logger = (*nopLogger)(nil)

var (
	dbName = "testdb"
	dbUser = "testuser"
	dbPass = "testpass"
)

// SetupSQLite opens a migrated sqlite registry in a temporary directory
func SetupSQLite(t *testing.T) *db.Connection {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Driver: config.DatabaseDriverSQLite,
		Path:   filepath.Join(t.TempDir(), "registry.db"),
	}
	conn, err := db.NewConnection(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, MigrateUp(conn))
	return conn
}

// SetupPostgres starts a Postgres container, opens a migrated registry on it
// and registers cleanup. The test is skipped unless SEQCI_TEST_POSTGRES is set.
func SetupPostgres(t *testing.T) *db.Connection {
	t.Helper()

	if ok, _ := strconv.ParseBool(os.Getenv(PostgresTestEnv)); !ok {
		t.Skipf("set %s=1 to run tests against a Postgres container", PostgresTestEnv)
	}

	ctx := context.Background()

	postgresContainer, err := postgres.Run(
		ctx,
		"postgres:16-alpine",
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPass),
		postgres.BasicWaitStrategies(),
		tc.WithLogger(&nopLogger{}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { tc.CleanupContainer(t, postgresContainer) })

	host, err := postgresContainer.Host(ctx)
	require.NoError(t, err)
	port, err := postgresContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	pwFile := filepath.Join(t.TempDir(), "pgpass")
	require.NoError(t, os.WriteFile(pwFile, []byte(dbPass), 0600))

	cfg := &config.DatabaseConfig{
		Driver:       config.DatabaseDriverPostgres,
		Host:         host,
		Port:         port.Int(),
		User:         dbUser,
		PasswordFile: pwFile,
		Database:     dbName,
		SSLMode:      "disable",
	}
	conn, err := db.NewConnection(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	// Exercise a full rollback before handing the schema to the test.
	require.NoError(t, MigrateUp(conn))
	require.NoError(t, MigrateDown(conn))
	require.NoError(t, MigrateUp(conn))

	return conn
}
