package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tradecore/internal/domain"
)

func TestParquetStorePath(t *testing.T) {
	ps := NewParquetStore("/data")

	p := ps.candlePath(domain.Key{Symbol: "aapl", Timeframe: domain.Timeframe15m})
	want := filepath.Join("/data", "candles", "15m", "AAPL.parquet")
	if p != want {
		t.Errorf("candlePath mismatch:\n  got  %s\n  want %s", p, want)
	}
	if !strings.Contains(p, "15m") {
		t.Errorf("candlePath should contain timeframe segment '15m': %s", p)
	}
}

func candle(symbol string, tf domain.Timeframe, start time.Time, close float64) domain.Candle {
	return domain.Candle{
		Symbol: symbol, Timeframe: tf, Start: start,
		Open: close - 1, High: close + 1, Low: close - 2, Close: close, Volume: 1000, Closed: true,
	}
}

func TestParquetStoreWriteReadCandles(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	t0 := time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC)
	candles := []domain.Candle{
		candle("AAPL", domain.Timeframe1h, t0.Add(time.Hour), 186.0),
		candle("AAPL", domain.Timeframe1h, t0, 185.5),
	}
	if err := ps.WriteCandles(ctx, candles); err != nil {
		t.Fatalf("WriteCandles: %v", err)
	}

	key := domain.Key{Symbol: "AAPL", Timeframe: domain.Timeframe1h}
	got, err := ps.ReadCandles(ctx, key, t0.Add(-time.Hour), t0.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("ReadCandles: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadCandles returned %d candles, want 2", len(got))
	}
	if got[0].Close != 185.5 || got[1].Close != 186.0 {
		t.Errorf("closes = %v, %v; want 185.5, 186.0 in time order", got[0].Close, got[1].Close)
	}
	if !got[0].Start.Equal(t0) {
		t.Errorf("first start = %v, want %v", got[0].Start, t0)
	}
	if got[0].Timeframe != domain.Timeframe1h || !got[0].Closed {
		t.Errorf("first candle = %+v, want closed 1h candle", got[0])
	}

	got, err = ps.ReadCandles(ctx, key, t0.Add(30*time.Minute), t0.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("ReadCandles: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("range read returned %d candles, want 1", len(got))
	}
}

func TestParquetStoreMergeCandles(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	if err := ps.WriteCandles(ctx, []domain.Candle{candle("MSFT", domain.Timeframe1d, t0, 403)}); err != nil {
		t.Fatalf("WriteCandles (first): %v", err)
	}
	// A second batch merges; a repeated start replaces the stored candle.
	second := []domain.Candle{
		candle("MSFT", domain.Timeframe1d, t0, 404),
		candle("MSFT", domain.Timeframe1d, t0.AddDate(0, 0, 3), 408),
	}
	if err := ps.WriteCandles(ctx, second); err != nil {
		t.Fatalf("WriteCandles (second): %v", err)
	}

	got, err := ps.ReadCandles(ctx, domain.Key{Symbol: "MSFT", Timeframe: domain.Timeframe1d}, t0, t0.AddDate(1, 0, 0))
	if err != nil {
		t.Fatalf("ReadCandles: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadCandles returned %d candles after merge, want 2", len(got))
	}
	if got[0].Close != 404 {
		t.Errorf("replaced close = %v, want 404", got[0].Close)
	}
}

func TestParquetStoreMissingArchive(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	got, err := ps.ReadCandles(context.Background(), domain.Key{Symbol: "NONE", Timeframe: domain.Timeframe1d}, time.Time{}, time.Now())
	if err != nil {
		t.Fatalf("ReadCandles on missing archive returned error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("ReadCandles on missing archive returned %d candles", len(got))
	}
}

func TestParquetStoreListSymbols(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()
	t0 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	candles := []domain.Candle{
		candle("GOOGL", domain.Timeframe1d, t0, 140.5),
		candle("AAPL", domain.Timeframe1d, t0, 185.5),
		candle("TSLA", domain.Timeframe1h, t0, 250),
	}
	if err := ps.WriteCandles(ctx, candles); err != nil {
		t.Fatalf("WriteCandles: %v", err)
	}

	symbols, err := ps.ListSymbols(ctx, domain.Timeframe1d)
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if len(symbols) != 2 || symbols[0] != "AAPL" || symbols[1] != "GOOGL" {
		t.Errorf("ListSymbols = %v, want [AAPL GOOGL]", symbols)
	}
}

func openSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore(%q) returned error: %v", dbPath, err)
	}
	t.Cleanup(func() {
		if cerr := s.Close(); cerr != nil {
			t.Errorf("Close() returned error: %v", cerr)
		}
	})
	return s
}

func TestSQLiteStoreOpen(t *testing.T) {
	s := openSQLite(t)
	if err := s.db.Ping(); err != nil {
		t.Fatalf("db.Ping() returned error: %v", err)
	}
}

func TestSQLiteOrdersAndFills(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)

	o := domain.Order{
		ID: "o1", Symbol: "AAPL", Side: domain.OrderSideBuy, PositionSide: domain.Long,
		Effect: domain.EffectOpen, Type: domain.OrderTypeMarket, TimeInForce: domain.TimeInForceDay,
		Qty: 10, Status: domain.OrderStatusSubmitted, CreatedAt: now, UpdatedAt: now,
	}
	if err := s.SaveOrder(ctx, o); err != nil {
		t.Fatalf("SaveOrder: %v", err)
	}
	o.Status, o.FilledQty, o.FilledAvgPrice, o.Reconcile = domain.OrderStatusFilled, 10, 101, true
	if err := s.SaveOrder(ctx, o); err != nil {
		t.Fatalf("SaveOrder (update): %v", err)
	}

	got, err := s.GetOrder(ctx, "o1")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.Status != domain.OrderStatusFilled || got.FilledQty != 10 || !got.Reconcile {
		t.Errorf("GetOrder = %+v, want filled 10 flagged", got)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, now)
	}
	if _, err := s.GetOrder(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetOrder(missing) error = %v, want ErrNotFound", err)
	}

	list, err := s.ListOrders(ctx, domain.OrderStatusFilled, 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListOrders(filled) = %v, %v; want one order", list, err)
	}
	list, err = s.ListOrders(ctx, domain.OrderStatusRejected, 10)
	if err != nil || len(list) != 0 {
		t.Errorf("ListOrders(rejected) = %v, %v; want none", list, err)
	}

	f := domain.Fill{ID: "f1", OrderID: "o1", Symbol: "AAPL", Side: domain.OrderSideBuy,
		PositionSide: domain.Long, Effect: domain.EffectOpen, Qty: 10, Price: 101, Timestamp: now}
	for i := 0; i < 2; i++ {
		if err := s.SaveFill(ctx, f); err != nil {
			t.Fatalf("SaveFill #%d: %v", i, err)
		}
	}
	fills, err := s.ListFills(ctx, "o1")
	if err != nil {
		t.Fatalf("ListFills: %v", err)
	}
	if len(fills) != 1 || fills[0].Price != 101 {
		t.Errorf("ListFills = %+v, want one fill at 101", fills)
	}
}

func TestSQLiteSnapshots(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	if _, err := s.LatestSnapshot(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("LatestSnapshot on empty journal error = %v, want ErrNotFound", err)
	}
	t0 := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)
	for i, eq := range []float64{10000, 10250} {
		snap := domain.PortfolioSnapshot{
			Cash: 9000, Equity: eq, Timestamp: t0.Add(time.Duration(i) * time.Minute),
			Positions: []domain.Position{{Symbol: "AAPL", Side: domain.Long, Qty: 10, EntryPrice: 100}},
		}
		if err := s.SaveSnapshot(ctx, snap); err != nil {
			t.Fatalf("SaveSnapshot: %v", err)
		}
	}
	got, err := s.LatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("LatestSnapshot: %v", err)
	}
	if got.Equity != 10250 {
		t.Errorf("LatestSnapshot equity = %v, want 10250", got.Equity)
	}
	if len(got.Positions) != 1 || got.Positions[0].Symbol != "AAPL" {
		t.Errorf("LatestSnapshot positions = %+v", got.Positions)
	}
}

func TestSQLiteSignals(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	t0 := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)

	for i, sym := range []string{"AAPL", "MSFT", "AAPL"} {
		sig := domain.Signal{
			ID: sym + string(rune('0'+i)), Symbol: sym, Timeframe: domain.Timeframe15m, Direction: domain.Long,
			Entry: 100, StopLoss: 98, TakeProfit: 104, Confidence: 0.7, CreatedAt: t0.Add(time.Duration(i) * time.Minute),
			Contributions: []domain.Contribution{{Source: domain.SourceIndicator, Name: "rsi(14)", Direction: domain.Long, Confidence: 0.7, Weight: 1}},
		}
		if err := s.SaveSignal(ctx, sig); err != nil {
			t.Fatalf("SaveSignal: %v", err)
		}
	}

	got, err := s.ListSignals(ctx, "AAPL", 10)
	if err != nil {
		t.Fatalf("ListSignals: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListSignals(AAPL) returned %d, want 2", len(got))
	}
	if got[0].ID != "AAPL2" {
		t.Errorf("newest signal = %s, want AAPL2", got[0].ID)
	}
	if len(got[0].Contributions) != 1 || got[0].Contributions[0].Name != "rsi(14)" {
		t.Errorf("contributions = %+v", got[0].Contributions)
	}

	all, err := s.ListSignals(ctx, "", 2)
	if err != nil || len(all) != 2 {
		t.Errorf("ListSignals(all, 2) = %d, %v; want 2", len(all), err)
	}
}

func TestRecorderWritesJournal(t *testing.T) {
	s := openSQLite(t)
	rec := NewRecorder(s, 16, nil)
	now := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)

	o := domain.Order{ID: "o1", Symbol: "AAPL", Side: domain.OrderSideBuy, PositionSide: domain.Long,
		Effect: domain.EffectOpen, Type: domain.OrderTypeMarket, TimeInForce: domain.TimeInForceDay,
		Qty: 5, Status: domain.OrderStatusFilled, FilledQty: 5, CreatedAt: now, UpdatedAt: now}
	rec.AppendSignal(domain.Signal{ID: "s1", Symbol: "AAPL", Direction: domain.Long, CreatedAt: now})
	rec.AppendTrade(o, []domain.Fill{{ID: "f1", OrderID: "o1", Symbol: "AAPL", Qty: 5, Price: 100, Timestamp: now}})
	rec.AppendSnapshot(domain.PortfolioSnapshot{Equity: 10000, Timestamp: now})

	// A cancelled context makes Run flush the queue and return.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := rec.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	ctx = context.Background()
	if _, err := s.GetOrder(ctx, "o1"); err != nil {
		t.Errorf("order not journaled: %v", err)
	}
	if fills, _ := s.ListFills(ctx, "o1"); len(fills) != 1 {
		t.Errorf("fills journaled = %d, want 1", len(fills))
	}
	if sigs, _ := s.ListSignals(ctx, "AAPL", 10); len(sigs) != 1 {
		t.Errorf("signals journaled = %d, want 1", len(sigs))
	}
	if snap, err := s.LatestSnapshot(ctx); err != nil || snap.Equity != 10000 {
		t.Errorf("snapshot journaled = %+v, %v", snap, err)
	}
}

func TestRecorderDropsWhenFull(t *testing.T) {
	rec := NewRecorder(nil, 1, nil)
	rec.AppendSnapshot(domain.PortfolioSnapshot{})
	rec.AppendSnapshot(domain.PortfolioSnapshot{})
	rec.AppendSnapshot(domain.PortfolioSnapshot{})
	if got := rec.Dropped(); got != 2 {
		t.Errorf("Dropped() = %d, want 2", got)
	}
}
