package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/stacklok/seqci-proxy/database"
	"github.com/stacklok/seqci-proxy/internal/db"
	"github.com/stacklok/seqci-proxy/internal/registry"
)

func newTenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants and their API keys",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Usage()
		},
	}

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Register a tenant",
		Long: `Register a tenant. When --api-key is omitted a random key is generated
and printed; it is the only time the generated key is shown besides 'tenant list'.`,
		Args: cobra.NoArgs,
		RunE: runTenantAdd,
	}
	addCmd.Flags().String("name", "", "Tenant name (required)")
	addCmd.Flags().String("api-key", "", "API key (generated when empty)")
	addCmd.Flags().Bool("api-key-stdin", false, "Read the API key from standard input")
	_ = addCmd.MarkFlagRequired("name")
	addCmd.MarkFlagsMutuallyExclusive("api-key", "api-key-stdin")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		Args:  cobra.NoArgs,
		RunE:  runTenantList,
	}

	removeCmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove a tenant that owns no instances",
		Args:  cobra.NoArgs,
		RunE:  runTenantRemove,
	}
	removeCmd.Flags().String("api-key", "", "API key of the tenant to remove (required)")
	_ = removeCmd.MarkFlagRequired("api-key")

	cmd.AddCommand(addCmd, listCmd, removeCmd)
	return cmd
}

// openStore opens the registry next to a possibly running server, so the
// sqlite single-writer lock is not taken
func openStore(ctx context.Context, cmd *cobra.Command) (registry.Store, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}

	conn, err := db.NewConnection(ctx, &cfg.Database, db.WithoutFileLock())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	closeFn := func() {
		if err := conn.Close(); err != nil {
			slog.Error("Error closing database connection", "error", err)
		}
	}

	if err := database.MigrateUp(conn); err != nil {
		closeFn()
		return nil, nil, err
	}

	store, err := registry.NewSQLStore(conn)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return store, closeFn, nil
}

func runTenantAdd(cmd *cobra.Command, _ []string) error {
	name, err := cmd.Flags().GetString("name")
	if err != nil {
		return fmt.Errorf("failed to get name flag: %w", err)
	}
	apiKey, err := cmd.Flags().GetString("api-key")
	if err != nil {
		return fmt.Errorf("failed to get api-key flag: %w", err)
	}
	fromStdin, err := cmd.Flags().GetBool("api-key-stdin")
	if err != nil {
		return fmt.Errorf("failed to get api-key-stdin flag: %w", err)
	}
	if fromStdin {
		if apiKey, err = readAPIKey(cmd); err != nil {
			return err
		}
	}

	ctx := cmd.Context()
	store, closeFn, err := openStore(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	tenant, err := store.CreateTenant(ctx, name, apiKey)
	if err != nil {
		if errors.Is(err, registry.ErrTenantExists) {
			return fmt.Errorf("a tenant with this API key already exists")
		}
		return fmt.Errorf("failed to create tenant: %w", err)
	}

	slog.Info("Tenant created", "tenant", tenant.Name)
	_, err = fmt.Fprintln(cmd.OutOrStdout(), tenant.APIKey)
	return err
}

const maxAPIKeyLength = 256

// readAPIKey reads a key from stdin, without echo when stdin is a terminal
func readAPIKey(cmd *cobra.Command) (string, error) {
	reader := cmd.InOrStdin()
	if f, ok := reader.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		_, _ = fmt.Fprint(cmd.ErrOrStderr(), "API key: ")
		key, err := term.ReadPassword(int(f.Fd()))
		_, _ = fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("failed to read API key: %w", err)
		}
		reader = bytes.NewReader(key)
	}

	data, err := io.ReadAll(io.LimitReader(reader, maxAPIKeyLength+1))
	if err != nil {
		return "", fmt.Errorf("failed to read API key: %w", err)
	}
	key := strings.TrimSpace(string(data))
	switch {
	case key == "":
		return "", fmt.Errorf("API key cannot be empty")
	case len(key) > maxAPIKeyLength:
		return "", fmt.Errorf("API key is longer than %d bytes", maxAPIKeyLength)
	case strings.ContainsAny(key, " \t\r\n,"):
		return "", fmt.Errorf("API key must not contain whitespace or commas")
	}
	return key, nil
}

func runTenantList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	store, closeFn, err := openStore(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	tenants, err := store.ListTenants(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tenants: %w", err)
	}
	instances, err := store.ListInstances(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to list instances: %w", err)
	}

	owned := make(map[string]int, len(tenants))
	for _, inst := range instances {
		owned[inst.OwnerAPIKey]++
	}

	rows := make([][]string, 0, len(tenants))
	for _, t := range tenants {
		rows = append(rows, []string{t.Name, t.APIKey, strconv.Itoa(owned[t.APIKey]), formatTime(t.CreatedAt)})
	}
	return renderTable(cmd.OutOrStdout(), []string{"NAME", "API KEY", "INSTANCES", "CREATED"}, rows)
}

func runTenantRemove(cmd *cobra.Command, _ []string) error {
	apiKey, err := cmd.Flags().GetString("api-key")
	if err != nil {
		return fmt.Errorf("failed to get api-key flag: %w", err)
	}

	ctx := cmd.Context()
	store, closeFn, err := openStore(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	switch err := store.DeleteTenant(ctx, apiKey); {
	case errors.Is(err, registry.ErrTenantNotFound):
		return fmt.Errorf("no tenant has this API key")
	case errors.Is(err, registry.ErrTenantInUse):
		return fmt.Errorf("tenant still owns instances; stop them first")
	case err != nil:
		return fmt.Errorf("failed to remove tenant: %w", err)
	}

	slog.Info("Tenant removed")
	return nil
}
