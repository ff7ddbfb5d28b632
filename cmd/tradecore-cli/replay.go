package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"tradecore/internal/broker"
	"tradecore/internal/dashboard"
	"tradecore/internal/engine"
	"tradecore/internal/feed"
	"tradecore/internal/ledger"
	"tradecore/internal/status"
	"tradecore/internal/store"
	"tradecore/internal/util"
)

func newReplayCmd() *cobra.Command {
	var (
		start, end string
		pace       time.Duration
		record     bool
		width      int
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Run the configured markets over archived candles with the simulator",
		Long: `replay drives the full decision pipeline from the Parquet archive,
filling orders with the simulated broker, and prints the final dashboard.
The configured feed and broker are overridden; everything else is used as is.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := readConfig(cmd)
			if err != nil {
				return err
			}
			cfg.Feed.Mode = "replay"
			cfg.Execution.Broker = "simulator"
			if start != "" {
				cfg.Feed.ReplayStart = start
			}
			if end != "" {
				cfg.Feed.ReplayEnd = end
			}
			if cmd.Flags().Changed("pace") {
				cfg.Feed.ReplayPace = pace
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			from, to, err := cfg.ReplayWindow()
			if err != nil {
				return err
			}

			logger := util.NewLoggerTo(os.Stderr, cfg.Logging.Level, "text")
			archive := store.NewParquetStore(cfg.Storage.DataDir)
			board := status.NewBoard(cfg.Server.StatusHistory)
			opts := engine.Options{Reporter: board, Logger: logger}

			var recorder *store.Recorder
			if record {
				if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
					return err
				}
				journal, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
				if err != nil {
					return err
				}
				defer journal.Close()
				recorder = store.NewRecorder(journal, cfg.Storage.JournalBuffer, logger.With("component", "recorder"))
				opts.Journal = recorder
			}

			ec := cfg.Engine()
			if cfg.Feed.Calendar != "continuous" && cfg.Alpaca.APIKey != "" && cfg.Alpaca.APISecret != "" {
				if err := feed.LoadCalendar(cmd.Context(), cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL,
					ec.Pipeline.Calendar, from, to); err != nil {
					logger.Warn("exchange calendar not loaded, assuming regular hours", "error", err)
				}
			}
			eng, err := engine.NewEngine(ec,
				feed.NewReplayFeed(archive, from, to, cfg.Feed.ReplayPace),
				broker.NewSimulatorBroker(cfg.Simulator, logger.With("broker", "simulator")),
				ledger.New(cfg.Portfolio, logger.With("component", "ledger")),
				opts,
			)
			if err != nil {
				return err
			}
			var markets []string
			for _, k := range eng.Markets() {
				markets = append(markets, k.String())
			}
			board.Attach(eng, markets)

			recDone := make(chan error, 1)
			recCtx, stopRecorder := context.WithCancel(context.Background())
			if recorder != nil {
				go func() { recDone <- recorder.Run(recCtx) }()
			}

			began := time.Now()
			runErr := eng.Run(cmd.Context())
			stopRecorder()
			if recorder != nil {
				if err := <-recDone; err != nil {
					logger.Warn("recorder", "error", err)
				}
			}
			if runErr != nil {
				return runErr
			}

			snap := board.Snapshot().Wire()
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, dashboard.Render(snap, dashboard.SortPnL, width))
			fmt.Fprintf(out, "\nreplay %s .. %s  markets=%d  equity=%s  realized=%s  return=%s  elapsed=%s\n",
				from.Format(time.DateOnly), to.Format(time.DateOnly), len(markets),
				dashboard.FormatMoney(snap.Portfolio.Equity),
				dashboard.FormatPnL(snap.Portfolio.RealizedPnL),
				dashboard.FormatPct(snap.Portfolio.Equity/cfg.Portfolio.InitialCash-1),
				time.Since(began).Round(time.Millisecond),
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "first day, YYYY-MM-DD (default feed.replay_start)")
	cmd.Flags().StringVar(&end, "end", "", "last day, YYYY-MM-DD (default feed.replay_end or today)")
	cmd.Flags().DurationVar(&pace, "pace", 0, "delay between candles")
	cmd.Flags().BoolVar(&record, "record", false, "write signals, orders and fills to the SQLite journal")
	cmd.Flags().IntVar(&width, "width", 100, "render width in columns")
	return cmd
}
