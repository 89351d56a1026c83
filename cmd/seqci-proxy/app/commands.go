// Package app provides the entry point for the seqci-proxy application.
package app

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/stacklok/seqci-proxy/internal/config"
	"github.com/stacklok/seqci-proxy/internal/versions"
)

// NewRootCmd creates a new root command for the proxy.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "seqci-proxy",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Short:             "Sequencer CI proxy",
		Long: `seqci-proxy starts disposable Katana sequencer containers on demand for
CI tenants and reverse proxies JSON-RPC traffic to them.`,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				SetupLogging(true)
			}
		},
		Run: func(cmd *cobra.Command, _ []string) {
			// If no subcommand is provided, print help
			if err := cmd.Help(); err != nil {
				slog.Error("Error displaying help", "error", err)
			}
		},
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("config", "", "Path to configuration file (YAML format)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newTenantCmd())
	rootCmd.AddCommand(newInstanceCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versions.GetVersionInfo()
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return fmt.Errorf("failed to get format flag: %w", err)
			}

			if format == "json" {
				output, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to format version info as JSON: %w", err)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(output))
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "seqci-proxy %s (commit %s, built %s, %s, %s)\n",
				info.Version, info.Commit, info.BuildDate, info.GoVersion, info.Platform)
			return err
		},
	}
	cmd.Flags().String("format", "", "Output format (json)")
	return cmd
}

// loadConfig loads the configuration named by the --config flag. Without a
// file, defaults and SEQCI_* environment overrides apply.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}

	var opts []config.Option
	if configPath != "" {
		opts = append(opts, config.WithConfigPath(configPath))
	}

	cfg, err := config.LoadConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}
