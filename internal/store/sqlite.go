package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tradecore/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ OrderStore = (*SQLiteStore)(nil)
var _ SnapshotStore = (*SQLiteStore)(nil)
var _ SignalStore = (*SQLiteStore)(nil)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id               TEXT PRIMARY KEY,
	venue_id         TEXT NOT NULL DEFAULT '',
	symbol           TEXT NOT NULL,
	side             TEXT NOT NULL,
	position_side    TEXT NOT NULL,
	effect           TEXT NOT NULL,
	type             TEXT NOT NULL,
	time_in_force    TEXT NOT NULL,
	qty              REAL NOT NULL,
	limit_price      REAL NOT NULL DEFAULT 0,
	stop_price       REAL NOT NULL DEFAULT 0,
	status           TEXT NOT NULL,
	filled_qty       REAL NOT NULL DEFAULT 0,
	filled_avg_price REAL NOT NULL DEFAULT 0,
	signal_id        TEXT NOT NULL DEFAULT '',
	reason           TEXT NOT NULL DEFAULT '',
	reconcile        INTEGER NOT NULL DEFAULT 0,
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS orders_status ON orders(status, created_at);

CREATE TABLE IF NOT EXISTS fills (
	id             TEXT PRIMARY KEY,
	order_id       TEXT NOT NULL,
	venue_order_id TEXT NOT NULL DEFAULT '',
	symbol         TEXT NOT NULL,
	side           TEXT NOT NULL,
	position_side  TEXT NOT NULL,
	effect         TEXT NOT NULL,
	qty            REAL NOT NULL,
	price          REAL NOT NULL,
	commission     REAL NOT NULL DEFAULT 0,
	ts             INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS fills_order ON fills(order_id, ts);

CREATE TABLE IF NOT EXISTS snapshots (
	seq            INTEGER PRIMARY KEY AUTOINCREMENT,
	ts             INTEGER NOT NULL,
	cash           REAL NOT NULL,
	equity         REAL NOT NULL,
	realized_pnl   REAL NOT NULL,
	unrealized_pnl REAL NOT NULL,
	high_water     REAL NOT NULL,
	drawdown       REAL NOT NULL,
	exposure       REAL NOT NULL,
	daily_pnl      REAL NOT NULL,
	daily_trades   INTEGER NOT NULL,
	positions      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS signals (
	id            TEXT PRIMARY KEY,
	symbol        TEXT NOT NULL,
	timeframe     TEXT NOT NULL,
	direction     TEXT NOT NULL,
	entry         REAL NOT NULL,
	stop_loss     REAL NOT NULL,
	take_profit   REAL NOT NULL,
	confidence    REAL NOT NULL,
	atr           REAL NOT NULL,
	stop_source   TEXT NOT NULL,
	kill_zone     TEXT NOT NULL,
	contributions TEXT NOT NULL,
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS signals_symbol ON signals(symbol, created_at);
`

// SQLiteStore implements OrderStore, SnapshotStore and SignalStore backed by
// a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// journal tables and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One connection serializes writers; SQLite allows a single writer anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configuring %s: %w", dbPath, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema in %s: %w", dbPath, err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func ms(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMS(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMilli(v).UTC()
}

// ---------------------------------------------------------------------------
// OrderStore implementation
// ---------------------------------------------------------------------------

const orderColumns = `id, venue_id, symbol, side, position_side, effect, type, time_in_force, qty,
	limit_price, stop_price, status, filled_qty, filled_avg_price, signal_id, reason, reconcile,
	created_at, updated_at`

// SaveOrder inserts or replaces an order.
func (s *SQLiteStore) SaveOrder(ctx context.Context, o domain.Order) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.VenueID, o.Symbol, string(o.Side), string(o.PositionSide), string(o.Effect),
		string(o.Type), string(o.TimeInForce), o.Qty, o.LimitPrice, o.StopPrice, string(o.Status),
		o.FilledQty, o.FilledAvgPrice, o.SignalID, o.Reason, o.Reconcile, ms(o.CreatedAt), ms(o.UpdatedAt))
	if err != nil {
		return fmt.Errorf("saving order %s: %w", o.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(r rowScanner) (domain.Order, error) {
	var o domain.Order
	var side, posSide, effect, typ, tif, status string
	var created, updated int64
	err := r.Scan(&o.ID, &o.VenueID, &o.Symbol, &side, &posSide, &effect, &typ, &tif, &o.Qty,
		&o.LimitPrice, &o.StopPrice, &status, &o.FilledQty, &o.FilledAvgPrice, &o.SignalID, &o.Reason,
		&o.Reconcile, &created, &updated)
	if err != nil {
		return o, err
	}
	o.Side = domain.OrderSide(side)
	o.PositionSide = domain.Direction(posSide)
	o.Effect = domain.Effect(effect)
	o.Type = domain.OrderType(typ)
	o.TimeInForce = domain.TimeInForce(tif)
	o.Status = domain.OrderStatus(status)
	o.CreatedAt, o.UpdatedAt = fromMS(created), fromMS(updated)
	return o, nil
}

// GetOrder retrieves a single order by its ID.
func (s *SQLiteStore) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return o, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	return o, err
}

// ListOrders returns the most recent orders matching status, newest first.
func (s *SQLiteStore) ListOrders(ctx context.Context, status domain.OrderStatus, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE (? = '' OR status = ?) ORDER BY created_at DESC LIMIT ?`, string(status), string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// SaveFill inserts a fill; a duplicate fill id is ignored.
func (s *SQLiteStore) SaveFill(ctx context.Context, f domain.Fill) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO fills
		(id, order_id, venue_order_id, symbol, side, position_side, effect, qty, price, commission, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.OrderID, f.VenueOrderID, f.Symbol, string(f.Side), string(f.PositionSide), string(f.Effect),
		f.Qty, f.Price, f.Commission, ms(f.Timestamp))
	if err != nil {
		return fmt.Errorf("saving fill %s: %w", f.ID, err)
	}
	return nil
}

// ListFills returns the fills of an order, oldest first.
func (s *SQLiteStore) ListFills(ctx context.Context, orderID string) ([]domain.Fill, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, order_id, venue_order_id, symbol, side, position_side,
		effect, qty, price, commission, ts FROM fills WHERE order_id = ? ORDER BY ts, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing fills: %w", err)
	}
	defer rows.Close()

	var out []domain.Fill
	for rows.Next() {
		var f domain.Fill
		var side, posSide, effect string
		var ts int64
		if err := rows.Scan(&f.ID, &f.OrderID, &f.VenueOrderID, &f.Symbol, &side, &posSide, &effect,
			&f.Qty, &f.Price, &f.Commission, &ts); err != nil {
			return nil, err
		}
		f.Side = domain.OrderSide(side)
		f.PositionSide = domain.Direction(posSide)
		f.Effect = domain.Effect(effect)
		f.Timestamp = fromMS(ts)
		out = append(out, f)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// SnapshotStore implementation
// ---------------------------------------------------------------------------

// SaveSnapshot appends a portfolio snapshot. Positions are stored as JSON.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap domain.PortfolioSnapshot) error {
	positions, err := json.Marshal(snap.Positions)
	if err != nil {
		return err
	}
	ts := snap.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO snapshots
		(ts, cash, equity, realized_pnl, unrealized_pnl, high_water, drawdown, exposure, daily_pnl, daily_trades, positions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ms(ts), snap.Cash, snap.Equity, snap.RealizedPnL, snap.UnrealizedPnL, snap.HighWater,
		snap.Drawdown, snap.Exposure, snap.DailyPnL, snap.DailyTrades, string(positions))
	if err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the most recently appended snapshot.
func (s *SQLiteStore) LatestSnapshot(ctx context.Context) (domain.PortfolioSnapshot, error) {
	var snap domain.PortfolioSnapshot
	var ts int64
	var positions string
	err := s.db.QueryRowContext(ctx, `SELECT ts, cash, equity, realized_pnl, unrealized_pnl, high_water,
		drawdown, exposure, daily_pnl, daily_trades, positions FROM snapshots ORDER BY seq DESC LIMIT 1`).
		Scan(&ts, &snap.Cash, &snap.Equity, &snap.RealizedPnL, &snap.UnrealizedPnL, &snap.HighWater,
			&snap.Drawdown, &snap.Exposure, &snap.DailyPnL, &snap.DailyTrades, &positions)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, fmt.Errorf("snapshot: %w", ErrNotFound)
	}
	if err != nil {
		return snap, err
	}
	snap.Timestamp = fromMS(ts)
	if err := json.Unmarshal([]byte(positions), &snap.Positions); err != nil {
		return snap, fmt.Errorf("decoding snapshot positions: %w", err)
	}
	return snap, nil
}

// ---------------------------------------------------------------------------
// SignalStore implementation
// ---------------------------------------------------------------------------

// SaveSignal inserts a new signal into the database.
func (s *SQLiteStore) SaveSignal(ctx context.Context, sig domain.Signal) error {
	contribs, err := json.Marshal(sig.Contributions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT OR IGNORE INTO signals
		(id, symbol, timeframe, direction, entry, stop_loss, take_profit, confidence, atr, stop_source,
		kill_zone, contributions, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.ID, sig.Symbol, string(sig.Timeframe), string(sig.Direction), sig.Entry, sig.StopLoss,
		sig.TakeProfit, sig.Confidence, sig.ATR, sig.StopSource, sig.KillZone, string(contribs), ms(sig.CreatedAt))
	if err != nil {
		return fmt.Errorf("saving signal %s: %w", sig.ID, err)
	}
	return nil
}

// ListSignals returns the most recent signals for a symbol, up to limit.
func (s *SQLiteStore) ListSignals(ctx context.Context, symbol string, limit int) ([]domain.Signal, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, symbol, timeframe, direction, entry, stop_loss,
		take_profit, confidence, atr, stop_source, kill_zone, contributions, created_at FROM signals
		WHERE (? = '' OR symbol = ?) ORDER BY created_at DESC, id LIMIT ?`, symbol, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("listing signals: %w", err)
	}
	defer rows.Close()

	var out []domain.Signal
	for rows.Next() {
		var sig domain.Signal
		var tf, dir, contribs string
		var created int64
		if err := rows.Scan(&sig.ID, &sig.Symbol, &tf, &dir, &sig.Entry, &sig.StopLoss, &sig.TakeProfit,
			&sig.Confidence, &sig.ATR, &sig.StopSource, &sig.KillZone, &contribs, &created); err != nil {
			return nil, err
		}
		sig.Timeframe = domain.Timeframe(tf)
		sig.Direction = domain.Direction(dir)
		sig.CreatedAt = fromMS(created)
		if err := json.Unmarshal([]byte(contribs), &sig.Contributions); err != nil {
			return nil, fmt.Errorf("decoding contributions of %s: %w", sig.ID, err)
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}
