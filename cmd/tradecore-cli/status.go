package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tradecore/internal/dashboard"
	"tradecore/pkg/tradecore"
)

const defaultAddr = "localhost:50051"

func newStatusCmd() *cobra.Command {
	var (
		addr    string
		asJSON  bool
		sortBy  string
		width   int
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the trader's portfolio, risk and recent activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := parseSortMode(sortBy)
			if err != nil {
				return err
			}
			client, err := tradecore.NewClient(addr)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			snap, err := client.Snapshot(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}
			fmt.Fprintln(out, dashboard.HeaderText(snap, mode))
			fmt.Fprintln(out, dashboard.Render(snap, mode, width))
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", defaultAddr, "status service gRPC address")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw snapshot as JSON")
	cmd.Flags().StringVar(&sortBy, "sort", "pnl", "position sort: pnl, expo, sym or age")
	cmd.Flags().IntVar(&width, "width", 100, "render width in columns")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	return cmd
}

func newWatchCmd() *cobra.Command {
	var (
		addr  string
		kinds []string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream status events as JSON lines",
		Long: `watch prints one JSON object per status event until interrupted.
Kinds are signal, rejection, order, fill and error; none means all.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := tradecore.NewClient(addr)
			if err != nil {
				return err
			}
			defer client.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			for evt, err := range client.Watch(cmd.Context(), kinds...) {
				if err != nil {
					return err
				}
				if err := enc.Encode(evt); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", defaultAddr, "status service gRPC address")
	cmd.Flags().StringSliceVar(&kinds, "kinds", nil, "event kinds to include (comma separated)")
	return cmd
}

func parseSortMode(s string) (int, error) {
	for mode := 0; mode < dashboard.SortModeCount; mode++ {
		if strings.EqualFold(s, dashboard.SortModeLabel(mode)) {
			return mode, nil
		}
	}
	return 0, fmt.Errorf("unknown sort mode %q", s)
}
