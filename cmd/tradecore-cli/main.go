package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tradecore/internal/config"
)

const version = "0.1.0"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	cancel()
	if err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the tradecore-cli command tree.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tradecore-cli",
		Short: "Inspect and operate a tradecore-trader",
		Long: `tradecore-cli talks to a running tradecore-trader over gRPC, manages the
candle archive used for replays, and runs offline replays against it.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "configuration file (default $TRADECORE_CONFIG or "+config.DefaultPath+")")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newWatchCmd())
	root.AddCommand(newSymbolsCmd())
	root.AddCommand(newArchiveCmd())
	root.AddCommand(newReplayCmd())
	root.AddCommand(newJournalCmd())
	root.AddCommand(newConfigCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tradecore-cli %s\n", version)
		},
	}
}

// configPath resolves the --config flag against the environment default.
func configPath(cmd *cobra.Command) string {
	flag, _ := cmd.Flags().GetString("config")
	return config.Path(flag)
}

// loadConfig reads and validates the configuration named by --config.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath(cmd))
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// readConfig is loadConfig without validation.
func readConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Read(configPath(cmd))
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}
