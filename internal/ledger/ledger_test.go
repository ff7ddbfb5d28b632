package ledger

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/domain"
)

var t0 = time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)

func newLedger(cash float64) *Ledger {
	return New(Config{InitialCash: cash}, nil)
}

func fill(id string, effect domain.Effect, qty, price, fee float64) domain.Fill {
	return domain.Fill{
		ID: id, OrderID: "ord-" + string(effect), Symbol: "AAPL",
		Side:         domain.SideFor(domain.Long, effect),
		PositionSide: domain.Long, Effect: effect,
		Qty: qty, Price: price, Commission: fee, Timestamp: t0,
	}
}

func TestVolumeWeightedEntry(t *testing.T) {
	l := newLedger(10000)
	for i, f := range []struct{ qty, px float64 }{{3, 100}, {3, 102}, {4, 105}} {
		_, ok, err := l.ApplyFill(fill(string(rune('a'+i)), domain.EffectOpen, f.qty, f.px, 0))
		require.NoError(t, err)
		require.True(t, ok)
	}
	snap := l.Snapshot()
	pos, ok := snap.Position("AAPL", domain.Long)
	require.True(t, ok)
	assert.Equal(t, 10.0, pos.Qty)
	assert.InDelta(t, (3*100.0+3*102+4*105)/10, pos.EntryPrice, 1e-9)
	assert.InDelta(t, 10000-1026.0, snap.Cash, 1e-9)
	assert.Equal(t, 1, snap.DailyTrades, "fills of one order count as one trade")
}

func TestClosingFillRealizesPnL(t *testing.T) {
	l := newLedger(10000)
	_, _, err := l.ApplyFill(fill("open", domain.EffectOpen, 10, 100, 1))
	require.NoError(t, err)

	snap, ok, err := l.ApplyFill(fill("close", domain.EffectClose, 4, 110, 1))
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, (110-100)*4-1.0, snap.RealizedPnL, 1e-9)
	assert.InDelta(t, 10000-1000-1+440-1.0, snap.Cash, 1e-9)

	snap = l.Mark("AAPL", 105, t0.Add(time.Minute))
	pos, ok := snap.Position("AAPL", domain.Long)
	require.True(t, ok)
	assert.Equal(t, 6.0, pos.Qty)
	assert.InDelta(t, 30.0, pos.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 39.0, snap.RealizedPnL, 1e-9, "mark leaves realized P&L alone")
	assert.InDelta(t, 10000-1+39+30.0, snap.Equity, 1e-9)
}

func TestShortPosition(t *testing.T) {
	l := newLedger(10000)
	open := fill("s1", domain.EffectOpen, 10, 50, 0)
	open.PositionSide, open.Side = domain.Short, domain.OrderSideSell
	_, _, err := l.ApplyFill(open)
	require.NoError(t, err)

	snap := l.Mark("AAPL", 45, t0)
	pos, _ := snap.Position("AAPL", domain.Short)
	assert.InDelta(t, 50.0, pos.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 10050.0, snap.Equity, 1e-9)

	cl := fill("s2", domain.EffectClose, 10, 45, 0)
	cl.PositionSide, cl.Side = domain.Short, domain.OrderSideBuy
	snap, _, err = l.ApplyFill(cl)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, snap.RealizedPnL, 1e-9)
	assert.Empty(t, snap.Positions)
}

func TestDuplicateFillAppliedOnce(t *testing.T) {
	l := newLedger(10000)
	f := fill("dup", domain.EffectOpen, 5, 100, 0)
	first, ok, err := l.ApplyFill(f)
	require.NoError(t, err)
	require.True(t, ok)

	second, ok, err := l.ApplyFill(f)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, first.Cash, second.Cash)
	assert.Equal(t, first.Positions, second.Positions)
	assert.True(t, l.Applied("dup"))
}

func TestZeroQuantityPositionRemoved(t *testing.T) {
	l := newLedger(10000)
	_, _, _ = l.ApplyFill(fill("o", domain.EffectOpen, 5, 100, 0))
	snap, _, err := l.ApplyFill(fill("c", domain.EffectClose, 5, 101, 0))
	require.NoError(t, err)
	assert.Empty(t, snap.Positions)
	assert.False(t, l.HasPosition("AAPL", domain.Long))
}

func TestCloseWithoutPositionRefused(t *testing.T) {
	l := newLedger(10000)
	before := l.Snapshot()
	_, ok, err := l.ApplyFill(fill("c", domain.EffectClose, 1, 100, 0))
	assert.False(t, ok)
	assert.True(t, errors.Is(err, domain.ErrReconciliationMismatch))
	assert.Equal(t, before.Cash, l.Snapshot().Cash)

	_, _, _ = l.ApplyFill(fill("o", domain.EffectOpen, 2, 100, 0))
	_, ok, err = l.ApplyFill(fill("c2", domain.EffectClose, 3, 100, 0))
	assert.False(t, ok)
	assert.True(t, errors.Is(err, domain.ErrReconciliationMismatch))
	assert.False(t, l.Applied("c2"))
}

func TestDrawdownTracksHighWater(t *testing.T) {
	l := newLedger(10000)
	_, _, _ = l.ApplyFill(fill("o", domain.EffectOpen, 100, 50, 0))
	l.Mark("AAPL", 60, t0)
	snap := l.Mark("AAPL", 48, t0)
	assert.InDelta(t, 11000.0, snap.HighWater, 1e-9)
	assert.InDelta(t, (11000-9800)/11000.0, snap.Drawdown, 1e-9)
	assert.InDelta(t, 4800/9800.0, snap.Exposure, 1e-9)
}

func TestDailyRollover(t *testing.T) {
	l := New(Config{InitialCash: 10000, HistoryDays: 2}, nil)
	_, _, _ = l.ApplyFill(fill("o", domain.EffectOpen, 10, 100, 0))
	_, _, _ = l.ApplyFill(fill("c", domain.EffectClose, 10, 90, 0))
	assert.InDelta(t, -100.0, l.Snapshot().DailyPnL, 1e-9)

	for d := 1; d <= 3; d++ {
		l.Roll(t0.AddDate(0, 0, d))
	}
	snap := l.Snapshot()
	assert.Zero(t, snap.DailyPnL)
	assert.Zero(t, snap.DailyTrades)
	require.Len(t, snap.History, 2, "history is capped")
	assert.Equal(t, "2024-03-06", snap.History[1].Date)
}

func TestFirstDayRecorded(t *testing.T) {
	l := newLedger(10000)
	_, _, _ = l.ApplyFill(fill("o", domain.EffectOpen, 1, 100, 0))
	l.Roll(t0.AddDate(0, 0, 1))
	snap := l.Snapshot()
	require.Len(t, snap.History, 1)
	assert.Equal(t, "2024-03-04", snap.History[0].Date)
	assert.Equal(t, 1, snap.History[0].Trades)
}

func TestConcurrentFills(t *testing.T) {
	l := newLedger(1e6)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f := fill("f"+time.Duration(i).String(), domain.EffectOpen, 1, 100, 0)
			_, _, _ = l.ApplyFill(f)
			_, _, _ = l.ApplyFill(f)
		}(i)
	}
	wg.Wait()
	pos, ok := l.Snapshot().Position("AAPL", domain.Long)
	require.True(t, ok)
	assert.Equal(t, 50.0, pos.Qty)
}
