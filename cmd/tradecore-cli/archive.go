package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"tradecore/internal/domain"
	"tradecore/internal/feed"
	"tradecore/internal/store"
	"tradecore/internal/util"
)

func newSymbolsCmd() *cobra.Command {
	var timeframe string
	cmd := &cobra.Command{
		Use:   "symbols",
		Short: "List symbols in the candle archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			tf := domain.Timeframe(timeframe)
			if _, err := tf.Duration(); err != nil {
				return err
			}
			archive := store.NewParquetStore(cfg.Storage.DataDir)
			syms, err := archive.ListSymbols(cmd.Context(), tf)
			if err != nil {
				return err
			}
			for _, s := range syms {
				fmt.Fprintln(cmd.OutOrStdout(), s)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&timeframe, "timeframe", "1m", "archive timeframe")
	return cmd
}

func newArchiveCmd() *cobra.Command {
	var timeframe, start, end string
	cmd := &cobra.Command{
		Use:   "archive SYMBOL...",
		Short: "Download historical candles from Alpaca into the Parquet archive",
		Long: `archive fetches closed bars for each symbol over [start, end] and merges
them into the archive under storage.data_dir. Bars still forming are skipped.
Example: tradecore-cli archive AAPL MSFT --timeframe 15m --start 2024-03-01`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Alpaca.APIKey == "" || cfg.Alpaca.APISecret == "" {
				return fmt.Errorf("archive needs Alpaca credentials (APCA_API_KEY_ID, APCA_API_SECRET_KEY)")
			}
			tf := domain.Timeframe(timeframe)
			dur, err := tf.Duration()
			if err != nil {
				return err
			}
			from, to, err := parseWindow(start, end)
			if err != nil {
				return err
			}

			logger := util.NewLoggerTo(os.Stderr, cfg.Logging.Level, "text")
			src := feed.NewAlpacaFeed(cfg.AlpacaFeed(), logger.With("feed", "alpaca"))
			archive := store.NewParquetStore(cfg.Storage.DataDir)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SYMBOL\tBARS\tFIRST\tLAST")
			now := time.Now().UTC()
			for _, sym := range args {
				key := domain.Key{Symbol: strings.ToUpper(sym), Timeframe: tf}
				candles, err := src.History(cmd.Context(), key, from, to)
				if err != nil {
					return err
				}
				closed := candles[:0]
				for _, c := range candles {
					if !c.Start.Add(dur).After(now) {
						closed = append(closed, c)
					}
				}
				if len(closed) == 0 {
					fmt.Fprintf(w, "%s\t0\t-\t-\n", key.Symbol)
					continue
				}
				if err := archive.WriteCandles(cmd.Context(), closed); err != nil {
					return fmt.Errorf("writing %s: %w", key, err)
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", key.Symbol, len(closed),
					closed[0].Start.Format(time.RFC3339), closed[len(closed)-1].Start.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&timeframe, "timeframe", "1m", "bar timeframe (1m, 5m, 15m, 1h, 4h, 1d)")
	cmd.Flags().StringVar(&start, "start", "", "first day, YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "end", "", "last day, YYYY-MM-DD (default today)")
	cmd.MarkFlagRequired("start")
	return cmd
}

// parseWindow turns inclusive YYYY-MM-DD days into a [from, to) range.
// An empty end runs to now.
func parseWindow(start, end string) (from, to time.Time, err error) {
	from, err = time.Parse(time.DateOnly, start)
	if err != nil {
		return from, to, fmt.Errorf("invalid start date %q: %w", start, err)
	}
	if end == "" {
		return from, time.Now().UTC(), nil
	}
	last, err := time.Parse(time.DateOnly, end)
	if err != nil {
		return from, to, fmt.Errorf("invalid end date %q: %w", end, err)
	}
	to = last.AddDate(0, 0, 1)
	if to.Before(from) {
		return from, to, fmt.Errorf("end %s before start %s", end, start)
	}
	return from, to, nil
}
