// Package db contains code for connecting to the registry database.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gofrs/flock"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "modernc.org/sqlite"              // registers the "sqlite" driver

	"github.com/stacklok/seqci-proxy/internal/config"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 5 * time.Minute
	defaultPingTimeout     = 30 * time.Second
	sqliteBusyTimeoutMs    = 5000
)

// ErrLocked is returned when another process holds the sqlite database lock
var ErrLocked = errors.New("database is locked by another process")

// Connection wraps the database handle together with the SQL dialect it speaks
type Connection struct {
	DB      *sql.DB
	Dialect Dialect

	lock *flock.Flock
}

// ConnectionOption configures NewConnection
type ConnectionOption func(*connectionConfig)

type connectionConfig struct {
	pingTimeout time.Duration
	skipLock    bool
}

// WithPingTimeout bounds how long NewConnection retries the initial ping
func WithPingTimeout(d time.Duration) ConnectionOption {
	return func(c *connectionConfig) {
		c.pingTimeout = d
	}
}

// WithoutFileLock skips the exclusive sqlite file lock. Read-only CLI
// commands use it so they can run next to a serving process.
func WithoutFileLock() ConnectionOption {
	return func(c *connectionConfig) {
		c.skipLock = true
	}
}

// NewConnection opens the registry database described by cfg and verifies it
// is reachable, retrying the initial ping with exponential backoff
func NewConnection(ctx context.Context, cfg *config.DatabaseConfig, opts ...ConnectionOption) (*Connection, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration is required")
	}

	connCfg := &connectionConfig{pingTimeout: defaultPingTimeout}
	for _, opt := range opts {
		opt(connCfg)
	}

	var (
		conn *Connection
		err  error
	)
	switch cfg.Driver {
	case config.DatabaseDriverSQLite, "":
		conn, err = openSQLite(cfg, connCfg)
	case config.DatabaseDriverPostgres:
		conn, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := conn.pingWithRetry(ctx, connCfg.pingTimeout); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			slog.Error("Failed to close database connection after ping failure", "error", closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return conn, nil
}

func openSQLite(cfg *config.DatabaseConfig, connCfg *connectionConfig) (*Connection, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	inMemory := cfg.Path == ":memory:"
	var lock *flock.Flock
	if !inMemory {
		if dir := filepath.Dir(cfg.Path); dir != "" {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}

		if !connCfg.skipLock {
			lock = flock.New(cfg.Path + ".lock")
			locked, err := lock.TryLock()
			if err != nil {
				return nil, fmt.Errorf("failed to acquire database lock: %w", err)
			}
			if !locked {
				return nil, fmt.Errorf("%w: %s", ErrLocked, cfg.Path)
			}
		}
	}

	sqlDB, err := sql.Open("sqlite", sqliteDSN(cfg.Path))
	if err != nil {
		if lock != nil {
			_ = lock.Unlock()
		}
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// sqlite serializes writers; a single connection avoids SQLITE_BUSY under
	// concurrent requests and keeps an in-memory database shared.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	slog.Info("Opened sqlite registry", "path", cfg.Path)

	return &Connection{DB: sqlDB, Dialect: DialectSQLite, lock: lock}, nil
}

func sqliteDSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", sqliteBusyTimeoutMs))
	q.Add("_pragma", "foreign_keys(1)")
	if path != ":memory:" {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	q.Set("_time_format", "sqlite")
	return "file:" + path + "?" + q.Encode()
}

func openPostgres(cfg *config.DatabaseConfig) (*Connection, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("database host is required")
	}
	if cfg.Port == 0 {
		return nil, fmt.Errorf("database port is required")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("database user is required")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("database name is required")
	}

	maxOpenConns := cfg.MaxOpenConns
	if maxOpenConns == 0 {
		maxOpenConns = defaultMaxOpenConns
	}

	maxIdleConns := cfg.MaxIdleConns
	if maxIdleConns == 0 {
		maxIdleConns = defaultMaxIdleConns
	}

	connMaxLifetime := defaultConnMaxLifetime
	if cfg.ConnMaxLifetime != "" {
		duration, err := time.ParseDuration(cfg.ConnMaxLifetime)
		if err != nil {
			return nil, fmt.Errorf("invalid connection max lifetime: %w", err)
		}
		connMaxLifetime = duration
	}

	connStr, err := cfg.GetConnectionString()
	if err != nil {
		return nil, fmt.Errorf("failed to build connection string: %w", err)
	}

	sqlDB, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	slog.Info("Opened postgres registry",
		"user", cfg.User, "host", cfg.Host, "port", cfg.Port, "database", cfg.Database)

	return &Connection{DB: sqlDB, Dialect: DialectPostgres}, nil
}

func (c *Connection) pingWithRetry(ctx context.Context, maxElapsed time.Duration) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, c.DB.PingContext(ctx)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(maxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Warn("Database not reachable yet, retrying", "error", err, "retry_in", next)
		}),
	)
	return err
}

// Close closes the database connection and releases the sqlite file lock
func (c *Connection) Close() error {
	var errs []error
	if c.DB != nil {
		slog.Info("Closing database connection")
		errs = append(errs, c.DB.Close())
	}
	if c.lock != nil {
		errs = append(errs, c.lock.Unlock())
	}
	return errors.Join(errs...)
}

// Ping verifies the database connection is still alive
func (c *Connection) Ping(ctx context.Context) error {
	if c.DB != nil {
		return c.DB.PingContext(ctx)
	}
	return fmt.Errorf("database connection is nil")
}
