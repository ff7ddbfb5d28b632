// Package store defines storage interfaces for the candle archive and the
// trading journal, with Parquet and SQLite implementations and a
// non-blocking recorder that feeds the journal from the engine.
package store

import (
	"context"
	"time"

	"tradecore/internal/domain"
)

// CandleStore persists and retrieves closed candles.
type CandleStore interface {
	// WriteCandles persists a batch of candles, replacing any stored candle
	// with the same (symbol, timeframe, start).
	WriteCandles(ctx context.Context, candles []domain.Candle) error

	// ReadCandles returns candles for key within [start, end], oldest first.
	ReadCandles(ctx context.Context, key domain.Key, start, end time.Time) ([]domain.Candle, error)

	// ListSymbols returns all symbols archived for the timeframe.
	ListSymbols(ctx context.Context, tf domain.Timeframe) ([]string, error)
}

// OrderStore persists orders and their fills.
type OrderStore interface {
	// SaveOrder inserts or replaces an order.
	SaveOrder(ctx context.Context, order domain.Order) error

	// GetOrder retrieves a single order by its ID.
	GetOrder(ctx context.Context, id string) (domain.Order, error)

	// ListOrders returns the most recent orders, newest first. An empty
	// status matches every order.
	ListOrders(ctx context.Context, status domain.OrderStatus, limit int) ([]domain.Order, error)

	// SaveFill inserts a fill; a fill id already stored is ignored.
	SaveFill(ctx context.Context, fill domain.Fill) error

	// ListFills returns the fills of an order, oldest first.
	ListFills(ctx context.Context, orderID string) ([]domain.Fill, error)
}

// SnapshotStore persists portfolio snapshots.
type SnapshotStore interface {
	// SaveSnapshot appends a snapshot.
	SaveSnapshot(ctx context.Context, snap domain.PortfolioSnapshot) error

	// LatestSnapshot returns the most recent snapshot.
	LatestSnapshot(ctx context.Context) (domain.PortfolioSnapshot, error)
}

// SignalStore persists trading signals.
type SignalStore interface {
	// SaveSignal inserts a new signal into storage.
	SaveSignal(ctx context.Context, signal domain.Signal) error

	// ListSignals returns the most recent signals for a symbol, up to
	// limit. An empty symbol matches every symbol.
	ListSignals(ctx context.Context, symbol string, limit int) ([]domain.Signal, error)
}

// JournalStore is everything the Recorder writes to.
type JournalStore interface {
	OrderStore
	SnapshotStore
	SignalStore
}
