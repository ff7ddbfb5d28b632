// Package ledger implements the portfolio ledger: the single writer of cash,
// positions, realized and unrealized P&L, drawdown and daily history.
//
// All mutations are serialized by one mutex. Reads take a consistent
// snapshot under the same lock.
package ledger

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/domain"
)

// Config holds the ledger's starting state and retention.
type Config struct {
	InitialCash float64 `yaml:"initial_cash"`
	HistoryDays int     `yaml:"history_days"`
}

// DefaultConfig returns the ledger defaults.
func DefaultConfig() Config {
	return Config{InitialCash: 100000, HistoryDays: 365}
}

// maxRemembered bounds the set of applied fill ids.
const maxRemembered = 100000

type posKey struct {
	symbol string
	side   domain.Direction
}

// Ledger is the portfolio of one trading session.
type Ledger struct {
	mu sync.RWMutex

	cash      decimal.Decimal
	realized  decimal.Decimal
	positions map[posKey]*domain.Position
	highWater float64
	drawdown  float64

	applied map[string]struct{}
	order   []string // applied ids, oldest first

	day         string
	dayRealized decimal.Decimal
	dayTrades   int
	dayOrders   map[string]struct{}
	history     []domain.DailySnapshot
	historyDays int

	updated time.Time
	log     *slog.Logger
}

// New creates a Ledger holding cfg.InitialCash and no positions.
func New(cfg Config, log *slog.Logger) *Ledger {
	if cfg.HistoryDays <= 0 {
		cfg.HistoryDays = DefaultConfig().HistoryDays
	}
	if log == nil {
		log = slog.Default().With("component", "ledger")
	}
	return &Ledger{
		cash:        decimal.NewFromFloat(cfg.InitialCash),
		positions:   make(map[posKey]*domain.Position),
		highWater:   cfg.InitialCash,
		applied:     make(map[string]struct{}),
		dayOrders:   make(map[string]struct{}),
		historyDays: cfg.HistoryDays,
		log:         log,
	}
}

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

// ApplyFill books one execution. A fill id already applied leaves the
// ledger unchanged and reports applied=false. A closing fill without a
// matching position, or larger than it, is refused with
// ErrReconciliationMismatch.
func (l *Ledger) ApplyFill(f domain.Fill) (snap domain.PortfolioSnapshot, applied bool, err error) {
	if f.ID == "" || f.Qty <= 0 || f.Price <= 0 {
		return l.Snapshot(), false, fmt.Errorf("%w: malformed fill %+v", domain.ErrReconciliationMismatch, f)
	}
	side := f.PositionSide
	if side != domain.Long && side != domain.Short {
		return l.Snapshot(), false, fmt.Errorf("%w: fill %s has no position side", domain.ErrReconciliationMismatch, f.ID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, dup := l.applied[f.ID]; dup {
		return l.snapshotLocked(), false, nil
	}
	l.roll(f.Timestamp)

	key := posKey{f.Symbol, side}
	qty, px, fee := dec(f.Qty), dec(f.Price), dec(f.Commission)
	notional := qty.Mul(px)
	sign := dec(side.Sign())

	switch f.Effect {
	case domain.EffectClose:
		pos, ok := l.positions[key]
		if !ok {
			return l.snapshotLocked(), false, fmt.Errorf("%w: close fill %s for %s %s without a position",
				domain.ErrReconciliationMismatch, f.ID, side, f.Symbol)
		}
		if f.Qty > pos.Qty+1e-9 {
			return l.snapshotLocked(), false, fmt.Errorf("%w: close fill %s qty %v exceeds position %v",
				domain.ErrReconciliationMismatch, f.ID, f.Qty, pos.Qty)
		}
		pnl := px.Sub(dec(pos.EntryPrice)).Mul(qty).Mul(sign).Sub(fee)
		l.cash = l.cash.Add(notional.Mul(sign)).Sub(fee)
		l.realized = l.realized.Add(pnl)
		l.dayRealized = l.dayRealized.Add(pnl)
		pos.RealizedPnL += pnl.InexactFloat64()
		pos.Qty -= f.Qty
		pos.MarkPrice = f.Price
		pos.UpdatedAt = f.Timestamp
		if pos.Qty <= 1e-9 {
			delete(l.positions, key)
		} else {
			pos.UnrealizedPnL = side.Sign() * (pos.MarkPrice - pos.EntryPrice) * pos.Qty
		}
		l.log.Info("position reduced", "symbol", f.Symbol, "side", side, "qty", f.Qty, "price", f.Price, "pnl", pnl.StringFixed(2))

	default:
		pos, ok := l.positions[key]
		if !ok {
			pos = &domain.Position{Symbol: f.Symbol, Side: side, OpenedAt: f.Timestamp}
			l.positions[key] = pos
		}
		total := pos.Qty + f.Qty
		pos.EntryPrice = (pos.EntryPrice*pos.Qty + f.Price*f.Qty) / total
		pos.Qty = total
		pos.MarkPrice = f.Price
		pos.UnrealizedPnL = side.Sign() * (pos.MarkPrice - pos.EntryPrice) * pos.Qty
		pos.UpdatedAt = f.Timestamp
		l.cash = l.cash.Sub(notional.Mul(sign)).Sub(fee)
		if _, seen := l.dayOrders[f.OrderID]; !seen {
			l.dayOrders[f.OrderID] = struct{}{}
			l.dayTrades++
		}
	}

	l.remember(f.ID)
	l.updated = f.Timestamp
	l.updateDrawdown()
	return l.snapshotLocked(), true, nil
}

// Applied reports whether a fill id has been booked.
func (l *Ledger) Applied(fillID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.applied[fillID]
	return ok
}

func (l *Ledger) remember(id string) {
	l.applied[id] = struct{}{}
	l.order = append(l.order, id)
	if len(l.order) > maxRemembered {
		delete(l.applied, l.order[0])
		l.order = l.order[1:]
	}
}

// Mark revalues open positions on symbol at price. Cash and realized P&L are
// untouched.
func (l *Ledger) Mark(symbol string, price float64, at time.Time) domain.PortfolioSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.roll(at)
	for k, p := range l.positions {
		if k.symbol != symbol {
			continue
		}
		p.MarkPrice = price
		p.UnrealizedPnL = k.side.Sign() * (price - p.EntryPrice) * p.Qty
		p.UpdatedAt = at
	}
	if at.After(l.updated) {
		l.updated = at
	}
	l.updateDrawdown()
	return l.snapshotLocked()
}

// Roll closes the trading day if at falls on a later UTC date.
func (l *Ledger) Roll(at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.roll(at)
	l.updateDrawdown()
}

func (l *Ledger) roll(at time.Time) {
	if at.IsZero() {
		return
	}
	d := at.UTC().Format(time.DateOnly)
	if l.day == "" {
		l.day = d
		return
	}
	if d <= l.day {
		return
	}
	eq := l.equityLocked()
	l.history = append(l.history, domain.DailySnapshot{
		Date:        l.day,
		Equity:      eq,
		Cash:        l.cash.InexactFloat64(),
		RealizedPnL: l.realized.InexactFloat64(),
		DailyPnL:    l.dayRealized.InexactFloat64(),
		Drawdown:    l.drawdown,
		Trades:      l.dayTrades,
	})
	if n := len(l.history) - l.historyDays; n > 0 {
		l.history = append(l.history[:0], l.history[n:]...)
	}
	l.log.Info("trading day closed", "date", l.day, "equity", eq, "daily_pnl", l.dayRealized.StringFixed(2), "trades", l.dayTrades)
	l.day = d
	l.dayRealized = decimal.Zero
	l.dayTrades = 0
	l.dayOrders = make(map[string]struct{})
}

func (l *Ledger) equityLocked() float64 {
	eq := l.cash.InexactFloat64()
	for k, p := range l.positions {
		eq += k.side.Sign() * p.MarketValue()
	}
	return eq
}

func (l *Ledger) updateDrawdown() {
	eq := l.equityLocked()
	if eq > l.highWater {
		l.highWater = eq
	}
	if l.highWater > 0 {
		l.drawdown = (l.highWater - eq) / l.highWater
	}
}

// HasPosition reports whether (symbol, side) is open.
func (l *Ledger) HasPosition(symbol string, side domain.Direction) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.positions[posKey{symbol, side}]
	return ok
}

// Snapshot returns a consistent copy of the portfolio.
func (l *Ledger) Snapshot() domain.PortfolioSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshotLocked()
}

func (l *Ledger) snapshotLocked() domain.PortfolioSnapshot {
	s := domain.PortfolioSnapshot{
		Cash:        l.cash.InexactFloat64(),
		Equity:      l.equityLocked(),
		RealizedPnL: l.realized.InexactFloat64(),
		HighWater:   l.highWater,
		Drawdown:    l.drawdown,
		DailyPnL:    l.dayRealized.InexactFloat64(),
		DailyTrades: l.dayTrades,
		History:     append([]domain.DailySnapshot(nil), l.history...),
		Timestamp:   l.updated,
	}
	for _, p := range l.positions {
		s.Positions = append(s.Positions, *p)
		s.UnrealizedPnL += p.UnrealizedPnL
	}
	sort.Slice(s.Positions, func(i, j int) bool {
		if s.Positions[i].Symbol != s.Positions[j].Symbol {
			return s.Positions[i].Symbol < s.Positions[j].Symbol
		}
		return s.Positions[i].Side < s.Positions[j].Side
	})
	if s.Equity > 0 {
		s.Exposure = s.GrossExposure() / s.Equity
	}
	return s
}
