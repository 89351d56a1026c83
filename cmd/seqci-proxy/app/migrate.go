package app

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/stacklok/seqci-proxy/database"
	"github.com/stacklok/seqci-proxy/internal/db"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration tool",
		Long:  `Database migration tool for managing schema versions. Use with 'up' or 'down' subcommands.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Usage()
		},
	}

	cmd.PersistentFlags().BoolP("yes", "y", false, "Answer yes to all questions")
	cmd.PersistentFlags().UintP("num-steps", "n", 0, "Number of steps to migrate (0 = all)")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending database migrations",
		Long: `Apply pending database migrations to bring the registry schema up to date.
The server applies migrations itself on startup; this command exists for
operators who prefer to migrate ahead of a rollout.`,
		RunE: runMigrateUp,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Migrate the database down",
		Long: `Migrate the registry schema down by reverting migrations.
WARNING: This operation can result in data loss. Use with caution.

Examples:
  # Migrate down by 1 step
  seqci-proxy migrate down --config config.yaml --num-steps 1 --yes

  # Migrate down all the way (WARNING: destroys all data)
  seqci-proxy migrate down --config config.yaml --yes`,
		RunE: runMigrateDown,
	})

	return cmd
}

// setupMigration opens the configured database. The sqlite file lock is
// taken so migrations never run under a live server.
func setupMigration(cmd *cobra.Command) (database.Migrator, *db.Connection, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}

	conn, err := db.NewConnection(cmd.Context(), &cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	m, err := database.NewMigrator(conn)
	if err != nil {
		return nil, nil, errors.Join(err, conn.Close())
	}
	return m, conn, nil
}

func closeMigration(m database.Migrator, conn *db.Connection) {
	if err := m.Close(); err != nil {
		slog.Error("Error closing migration source", "error", err)
	}
	if err := conn.Close(); err != nil {
		slog.Error("Error closing database connection", "error", err)
	}
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	numSteps, err := cmd.Flags().GetUint("num-steps")
	if err != nil {
		return fmt.Errorf("failed to get num-steps flag: %w", err)
	}
	if numSteps > math.MaxInt {
		return fmt.Errorf("number of steps exceeds maximum allowed value")
	}

	m, conn, err := setupMigration(cmd)
	if err != nil {
		return err
	}
	defer closeMigration(m, conn)

	if numSteps == 0 {
		slog.Info("Applying database migrations...", "driver", conn.Dialect.String())
		err = m.Up()
	} else {
		slog.Info("Applying database migrations...", "driver", conn.Dialect.String(), "steps", numSteps)
		err = m.Steps(int(numSteps)) // #nosec G115 -- overflow checked above
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	displayMigrationVersion(m, false)
	return nil
}

func runMigrateDown(cmd *cobra.Command, _ []string) error {
	numSteps, err := cmd.Flags().GetUint("num-steps")
	if err != nil {
		return fmt.Errorf("failed to get num-steps flag: %w", err)
	}
	if numSteps > math.MaxInt {
		return fmt.Errorf("number of steps exceeds maximum allowed value")
	}

	if err := confirmMigrateDown(cmd, numSteps); err != nil {
		return err
	}

	m, conn, err := setupMigration(cmd)
	if err != nil {
		return err
	}
	defer closeMigration(m, conn)

	if err := executeMigrateDown(m, numSteps); err != nil {
		return err
	}

	displayMigrationVersion(m, numSteps == 0)
	return nil
}

func confirmMigrateDown(cmd *cobra.Command, numSteps uint) error {
	yes, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return fmt.Errorf("failed to get yes flag: %w", err)
	}
	if yes {
		return nil
	}

	var prompt string
	if numSteps == 0 {
		prompt = "WARNING: This will migrate down ALL steps and delete every tenant and instance record. Continue?"
	} else {
		prompt = fmt.Sprintf("WARNING: This will migrate down %d step(s) and may result in data loss. Continue?", numSteps)
	}

	if !confirm(cmd.InOrStdin(), cmd.ErrOrStderr(), prompt) {
		slog.Info("Migration cancelled")
		return fmt.Errorf("migration cancelled by user")
	}
	return nil
}

func executeMigrateDown(m database.Migrator, numSteps uint) error {
	var err error
	if numSteps == 0 {
		slog.Warn("Migrating down all steps - this will remove all schema!")
		err = m.Down()
	} else {
		slog.Info("Migrating down", "steps", numSteps)
		err = m.Steps(-1 * int(numSteps)) // #nosec G115 -- overflow checked by caller
	}

	if err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("No migrations to revert - database is already at the oldest version")
			return nil
		}
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("Migration completed successfully")
	return nil
}

func displayMigrationVersion(m database.Migrator, removedAll bool) {
	version, dirty, err := m.Version()
	if err != nil {
		if removedAll && errors.Is(err, migrate.ErrNilVersion) {
			slog.Info("Database schema has been completely removed")
		} else {
			slog.Warn("Failed to get migration version", "error", err)
		}
		return
	}

	if dirty {
		slog.Warn("Database is in a dirty state - manual intervention may be required", "version", version)
	} else {
		slog.Info("Current migration version", "version", version)
	}
}

// confirm asks a yes/no question on out and reads the answer from in
func confirm(in io.Reader, out io.Writer, prompt string) bool {
	_, _ = fmt.Fprintf(out, "%s (yes/no): ", prompt)
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}
