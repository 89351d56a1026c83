package app

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/stacklok/seqci-proxy/internal/app"
	"github.com/stacklok/seqci-proxy/internal/db"
	"github.com/stacklok/seqci-proxy/internal/registry"
)

const shortIDLength = 12

func newInstanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instance",
		Short: "Inspect and clean up sequencer instances",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Usage()
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered instances",
		Args:  cobra.NoArgs,
		RunE:  runInstanceList,
	}
	listCmd.Flags().String("api-key", "", "Only list instances owned by this API key")

	reapCmd := &cobra.Command{
		Use:   "reap",
		Short: "Run one reconciliation pass",
		Long: `Run one reconciliation pass: registry rows whose container is gone are
deleted, terminated containers are removed with their rows, and managed
containers that no row refers to are removed once they are older than
reconcile.orphanGracePeriod.`,
		Args: cobra.NoArgs,
		RunE: runInstanceReap,
	}

	cmd.AddCommand(listCmd, reapCmd)
	return cmd
}

func runInstanceList(cmd *cobra.Command, _ []string) error {
	owner, err := cmd.Flags().GetString("api-key")
	if err != nil {
		return fmt.Errorf("failed to get api-key flag: %w", err)
	}

	ctx := cmd.Context()
	store, closeFn, err := openStore(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	instances, err := store.ListInstances(ctx, owner)
	if err != nil {
		return fmt.Errorf("failed to list instances: %w", err)
	}
	tenants, err := store.ListTenants(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tenants: %w", err)
	}
	names := make(map[string]string, len(tenants))
	for _, t := range tenants {
		names[t.APIKey] = t.Name
	}

	rows := make([][]string, 0, len(instances))
	for _, inst := range instances {
		rows = append(rows, instanceRow(inst, names[inst.OwnerAPIKey]))
	}
	return renderTable(cmd.OutOrStdout(),
		[]string{"NAME", "TENANT", "PORT", "CONTAINER", "BLOCK TIME", "NO MINING", "CREATED"}, rows)
}

func instanceRow(inst *registry.Instance, tenant string) []string {
	containerID := inst.ContainerID
	if len(containerID) > shortIDLength {
		containerID = containerID[:shortIDLength]
	}
	blockTime := "-"
	if inst.BlockTime != nil {
		blockTime = strconv.FormatUint(*inst.BlockTime, 10) + "ms"
	}
	return []string{
		inst.Name,
		tenant,
		strconv.Itoa(inst.ProxiedPort),
		containerID,
		blockTime,
		strconv.FormatBool(inst.NoMining),
		formatTime(inst.CreatedAt),
	}
}

func runInstanceReap(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	proxyApp, err := app.NewProxyApp(ctx,
		app.WithConfig(cfg),
		app.WithDatabaseOptions(db.WithoutFileLock()),
	)
	if err != nil {
		return fmt.Errorf("failed to create proxy app: %w", err)
	}
	defer func() {
		if err := proxyApp.Close(); err != nil {
			slog.Error("Error closing proxy app", "error", err)
		}
	}()

	report, err := proxyApp.Components().Manager.Reconcile(ctx)
	if report != nil {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(),
			"instances: %d, stale rows removed: %d, exited containers removed: %d, orphans removed: %d, skipped: %d\n",
			report.Instances, len(report.StaleRows), len(report.ExitedContainers), len(report.Orphans), report.Skipped)
	}
	if err != nil {
		return fmt.Errorf("reconciliation incomplete: %w", err)
	}
	return nil
}
