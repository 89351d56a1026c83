// Package database provides the registry schema and its migration tooling.
package database

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/stacklok/seqci-proxy/internal/db"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationsFromSource returns a migration source driver from the embedded migrations.
func migrationsFromSource() (source.Driver, error) {
	return iofs.New(migrationsFS, "migrations")
}

// Migrator is the interface for the migration tooling.
type Migrator interface {
	Up() error
	Down() error
	Steps(int) error
	Version() (uint, bool, error)
	Close() error
}

type migrator struct {
	m   *migrate.Migrate
	src source.Driver
}

// NewMigrator returns a Migrator operating on the given connection.
// The connection stays owned by the caller: closing the Migrator only
// releases the embedded migration source.
func NewMigrator(conn *db.Connection) (Migrator, error) {
	if conn == nil || conn.DB == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	src, err := migrationsFromSource()
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	var (
		driver     migratedb.Driver
		driverName string
	)
	switch conn.Dialect {
	case db.DialectPostgres:
		driverName = "pgx5"
		driver, err = pgxmigrate.WithInstance(conn.DB, &pgxmigrate.Config{})
	default:
		driverName = "sqlite"
		driver, err = sqlitemigrate.WithInstance(conn.DB, &sqlitemigrate.Config{})
	}
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("failed to create %s migration driver: %w", driverName, err)
	}

	m, err := migrate.NewWithInstance("iofs", src, driverName, driver)
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	m.Log = &slogMigrateLogger{}

	return &migrator{m: m, src: src}, nil
}

func (mg *migrator) Up() error                    { return ignoreNoChange(mg.m.Up()) }
func (mg *migrator) Down() error                  { return ignoreNoChange(mg.m.Down()) }
func (mg *migrator) Steps(n int) error            { return mg.m.Steps(n) }
func (mg *migrator) Version() (uint, bool, error) { return mg.m.Version() }

// Close releases the migration source. migrate.Migrate.Close is not used
// because it would also close the shared *sql.DB.
func (mg *migrator) Close() error {
	return mg.src.Close()
}

func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

// MigrateUp applies every pending migration on conn
func MigrateUp(conn *db.Connection) error {
	m, err := NewMigrator(conn)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	if err := m.Up(); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	slog.Info("Database schema up to date", "version", version, "dirty", dirty, "driver", conn.Dialect.String())
	return nil
}

// MigrateDown reverts every applied migration on conn
func MigrateDown(conn *db.Connection) error {
	m, err := NewMigrator(conn)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	if err := m.Down(); err != nil {
		return fmt.Errorf("failed to revert migrations: %w", err)
	}
	return nil
}

type slogMigrateLogger struct{}

func (*slogMigrateLogger) Printf(format string, v ...any) {
	slog.Debug(fmt.Sprintf(format, v...), "component", "migrate")
}

func (*slogMigrateLogger) Verbose() bool {
	return false
}
