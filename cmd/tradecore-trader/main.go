package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"tradecore/internal/api"
	"tradecore/internal/broker"
	"tradecore/internal/config"
	"tradecore/internal/engine"
	"tradecore/internal/feed"
	"tradecore/internal/httpapi"
	"tradecore/internal/ledger"
	"tradecore/internal/status"
	"tradecore/internal/store"
	"tradecore/internal/util"
)

func main() {
	cfgFlag := flag.String("config", "", "path to the YAML configuration")
	flag.Parse()

	cfg, err := config.Load(config.Path(*cfgFlag))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("trader stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	archive := store.NewParquetStore(cfg.Storage.DataDir)

	if dir := filepath.Dir(cfg.Storage.SQLitePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating journal directory: %w", err)
		}
	}
	journal, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return err
	}
	defer journal.Close()
	recorder := store.NewRecorder(journal, cfg.Storage.JournalBuffer, logger.With("component", "recorder"))

	ec := cfg.Engine()
	calStart, calEnd := time.Now().AddDate(0, 0, -30), time.Now().AddDate(1, 0, 0)
	var src feed.Feed
	switch cfg.Feed.Mode {
	case "replay":
		start, end, err := cfg.ReplayWindow()
		if err != nil {
			return err
		}
		src = feed.NewReplayFeed(archive, start, end, cfg.Feed.ReplayPace)
		calStart, calEnd = start, end
	default:
		src = feed.NewAlpacaFeed(cfg.AlpacaFeed(), logger.With("feed", "alpaca"))
	}
	if cfg.Feed.Calendar != "continuous" && cfg.Alpaca.APIKey != "" && cfg.Alpaca.APISecret != "" {
		if err := feed.LoadCalendar(ctx, cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL,
			ec.Pipeline.Calendar, calStart, calEnd); err != nil {
			logger.Warn("exchange calendar not loaded, assuming regular hours", "error", err)
		}
	}

	var venue broker.Broker
	switch cfg.Execution.Broker {
	case "alpaca":
		venue = broker.NewAlpacaBroker(cfg.AlpacaBroker(), logger.With("broker", "alpaca"))
	default:
		venue = broker.NewSimulatorBroker(cfg.Simulator, logger.With("broker", "simulator"))
	}

	board := status.NewBoard(cfg.Server.StatusHistory)
	eng, err := engine.NewEngine(ec, src, venue, ledger.New(cfg.Portfolio, logger.With("component", "ledger")), engine.Options{
		Journal:  recorder,
		Reporter: board,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	var markets []string
	for _, k := range eng.Markets() {
		markets = append(markets, k.String())
	}
	board.Attach(eng, markets)

	grpcServer := api.NewServer(cfg.GRPCAddr(), board, logger.With("component", "grpc"))
	httpServer := httpapi.NewStatusServer(board, httpapi.Options{
		Resumer: eng,
		Orders:  journal,
		Signals: journal,
		Candles: archive,
		Log:     logger.With("component", "http"),
	})

	logger.Info("tradecore-trader starting",
		"feed", cfg.Feed.Mode,
		"broker", venue.Name(),
		"markets", len(markets),
		"grpc", cfg.GRPCAddr(),
		"http", cfg.HTTPAddr(),
	)

	// The recorder outlives the engine so the final snapshot is written.
	recCtx, stopRecorder := context.WithCancel(context.Background())
	recDone := make(chan error, 1)
	go func() { recDone <- recorder.Run(recCtx) }()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return grpcServer.ListenAndServe(gctx) })
	g.Go(func() error { return httpServer.ListenAndServe(gctx, cfg.HTTPAddr()) })
	g.Go(func() error {
		err := eng.Run(gctx)
		if err == nil && cfg.Feed.Mode == "replay" {
			snap := eng.Portfolio()
			logger.Info("replay finished",
				"equity", snap.Equity,
				"realized_pnl", snap.RealizedPnL,
				"drawdown", snap.Drawdown,
			)
			return errReplayDone
		}
		return err
	})

	err = g.Wait()
	stopRecorder()
	if rerr := <-recDone; rerr != nil {
		logger.Warn("recorder", "error", rerr)
	}
	if dropped := recorder.Dropped(); dropped > 0 {
		logger.Warn("journal records dropped", "count", dropped)
	}
	if errors.Is(err, errReplayDone) {
		return nil
	}
	return err
}

// errReplayDone stops the servers once a replay has run to completion.
var errReplayDone = errors.New("replay complete")
