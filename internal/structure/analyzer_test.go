package structure

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/domain"
)

var t0 = time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)

func candle(i int, o, h, l, c float64) domain.Candle {
	return domain.Candle{
		Symbol: "AAPL", Timeframe: domain.Timeframe1m,
		Start: t0.Add(time.Duration(i) * time.Minute),
		Open:  o, High: h, Low: l, Close: c, Closed: true,
	}
}

func ofKind(evs []domain.StructureEvent, kind domain.StructureKind) []domain.StructureEvent {
	var out []domain.StructureEvent
	for _, e := range evs {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func TestFairValueGapLifecycle(t *testing.T) {
	a := NewAnalyzer(DefaultConfig(), nil)

	a.Update(candle(0, 98, 100, 97, 99.5))
	a.Update(candle(1, 99.5, 106, 99, 105.5))
	evs := a.Update(candle(2, 105.5, 108, 105, 107))

	gaps := ofKind(evs, domain.FairValueGap)
	require.Len(t, gaps, 1)
	gap := gaps[0]
	assert.Equal(t, domain.Long, gap.Bias)
	assert.Equal(t, 100.0, gap.Low)
	assert.Equal(t, 105.0, gap.High)
	assert.Equal(t, domain.StatusOpen, gap.Status)

	evs = a.Update(candle(3, 104, 104, 102, 103))
	gaps = ofKind(evs, domain.FairValueGap)
	require.Len(t, gaps, 1)
	assert.Equal(t, gap.ID, gaps[0].ID)
	assert.Equal(t, domain.StatusPartiallyFilled, gaps[0].Status)
	assert.Len(t, ofKind(a.Active(), domain.FairValueGap), 1)

	evs = a.Update(candle(4, 103, 106, 100, 105.5))
	gaps = ofKind(evs, domain.FairValueGap)
	require.Len(t, gaps, 1)
	assert.Equal(t, domain.StatusFilled, gaps[0].Status)
	assert.Empty(t, ofKind(a.Active(), domain.FairValueGap), "filled gaps leave the active set")
}

func eventByID(evs []domain.StructureEvent, id int64) (domain.StructureEvent, bool) {
	for _, e := range evs {
		if e.ID == id {
			return e, true
		}
	}
	return domain.StructureEvent{}, false
}

func TestFairValueGapFilledByTradingThrough(t *testing.T) {
	a := NewAnalyzer(DefaultConfig(), nil)
	a.Update(candle(0, 98, 100, 97, 99.5))
	a.Update(candle(1, 99.5, 106, 99, 105.5))
	gaps := ofKind(a.Update(candle(2, 105.5, 108, 105, 107)), domain.FairValueGap)
	require.Len(t, gaps, 1)
	id := gaps[0].ID

	ev, ok := eventByID(a.Update(candle(3, 104, 104, 102, 103)), id)
	require.True(t, ok)
	assert.Equal(t, domain.StatusPartiallyFilled, ev.Status)

	// Parts of the gap were never revisited, but the low went through its floor.
	ev, ok = eventByID(a.Update(candle(4, 100.5, 101, 98, 98.5)), id)
	require.True(t, ok)
	assert.Equal(t, domain.StatusFilled, ev.Status)
	_, live := eventByID(a.Active(), id)
	assert.False(t, live, "filled gaps leave the active set")
}

func TestBearishGapFilledAtItsHigh(t *testing.T) {
	a := NewAnalyzer(DefaultConfig(), nil)
	a.Update(candle(0, 108, 109, 105, 106))
	a.Update(candle(1, 106, 106.5, 99, 99.5))
	a.Update(candle(2, 99.5, 100, 97, 98))

	evs := a.Update(candle(3, 98, 99.5, 97.5, 99))
	assert.Empty(t, ofKind(evs, domain.FairValueGap), "below the gap")

	evs = a.Update(candle(4, 99, 105.5, 98.5, 104))
	gaps := ofKind(evs, domain.FairValueGap)
	require.Len(t, gaps, 1)
	assert.Equal(t, domain.Short, gaps[0].Bias)
	assert.Equal(t, domain.StatusFilled, gaps[0].Status)
}

func TestGapBelowMinimumIgnored(t *testing.T) {
	a := NewAnalyzer(DefaultConfig(), nil)
	a.Update(candle(0, 99.9, 100, 99.8, 99.95))
	a.Update(candle(1, 99.95, 100.1, 99.9, 100.05))
	evs := a.Update(candle(2, 100.05, 100.2, 100.05, 100.15))
	assert.Empty(t, ofKind(evs, domain.FairValueGap))
}

func TestBearishGap(t *testing.T) {
	a := NewAnalyzer(DefaultConfig(), nil)
	a.Update(candle(0, 108, 109, 105, 106))
	a.Update(candle(1, 106, 106.5, 99, 99.5))
	evs := a.Update(candle(2, 99.5, 100, 97, 98))
	gaps := ofKind(evs, domain.FairValueGap)
	require.Len(t, gaps, 1)
	assert.Equal(t, domain.Short, gaps[0].Bias)
	assert.Equal(t, 100.0, gaps[0].Low)
	assert.Equal(t, 105.0, gaps[0].High)
}

// structureSeries confirms a swing high at 12, breaks it with a displacement
// candle, retests the resulting order block and finally closes through it.
var structureSeries = [][4]float64{
	{10, 10.5, 9.5, 10},
	{10, 11, 9.8, 10.8},
	{10.8, 12, 10.6, 11.5},
	{11.5, 11.6, 10.8, 11},
	{11, 11.2, 10.2, 10.4},
	{10.4, 12.8, 10.3, 12.6},
	{12.6, 13, 12.2, 12.9},
	{12.9, 13, 11, 11.5},
	{11.5, 11.6, 9.9, 10},
}

func feed(a *Analyzer, upto int) [][]domain.StructureEvent {
	out := make([][]domain.StructureEvent, 0, upto)
	for i, r := range structureSeries[:upto] {
		out = append(out, a.Update(candle(i, r[0], r[1], r[2], r[3])))
	}
	return out
}

func TestSwingConfirmationLag(t *testing.T) {
	a := NewAnalyzer(DefaultConfig(), nil)
	steps := feed(a, 5)
	for i := 0; i < 4; i++ {
		assert.Empty(t, ofKind(steps[i], domain.SwingHigh), "candle %d", i)
	}
	highs := ofKind(steps[4], domain.SwingHigh)
	require.Len(t, highs, 1)
	assert.Equal(t, 12.0, highs[0].High)
	assert.Equal(t, t0.Add(2*time.Minute), highs[0].From)
}

func TestBreakOfStructureAndOrderBlock(t *testing.T) {
	a := NewAnalyzer(DefaultConfig(), nil)
	steps := feed(a, 6)

	bos := ofKind(steps[5], domain.BreakOfStructure)
	require.Len(t, bos, 1)
	assert.Equal(t, domain.Long, bos[0].Bias)
	assert.Equal(t, 12.0, bos[0].Low)
	assert.Equal(t, domain.Long, a.Trend())

	obs := ofKind(steps[5], domain.OrderBlock)
	require.Len(t, obs, 1)
	ob := obs[0]
	assert.Equal(t, domain.Long, ob.Bias)
	assert.Equal(t, 10.2, ob.Low)
	assert.Equal(t, 11.2, ob.High)
	assert.Equal(t, t0.Add(4*time.Minute), ob.From)
	assert.Equal(t, domain.StatusUntested, ob.Status)
}

func TestOrderBlockMitigationAndChangeOfCharacter(t *testing.T) {
	a := NewAnalyzer(DefaultConfig(), nil)
	steps := feed(a, len(structureSeries))

	var bullID int64
	for _, e := range ofKind(steps[5], domain.OrderBlock) {
		bullID = e.ID
	}

	mitigated := ofKind(steps[7], domain.OrderBlock)
	require.Len(t, mitigated, 1)
	assert.Equal(t, bullID, mitigated[0].ID)
	assert.Equal(t, domain.StatusMitigated, mitigated[0].Status)

	last := steps[8]
	choch := ofKind(last, domain.ChangeOfCharacter)
	require.Len(t, choch, 1)
	assert.Equal(t, domain.Short, choch[0].Bias)
	assert.Equal(t, domain.Short, a.Trend())

	var invalidated, bearish bool
	for _, e := range ofKind(last, domain.OrderBlock) {
		switch {
		case e.ID == bullID:
			invalidated = e.Status == domain.StatusInvalidated
		case e.Bias == domain.Short:
			bearish = true
			assert.Equal(t, 12.2, e.Low)
			assert.Equal(t, 13.0, e.High)
		}
	}
	assert.True(t, invalidated, "close below the block invalidates it")
	assert.True(t, bearish, "the reversal forms a bearish block")

	for _, e := range a.Active() {
		assert.NotEqual(t, bullID, e.ID)
	}
}

func TestHistoryPruned(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEvents = 3
	a := NewAnalyzer(cfg, nil)
	feed(a, len(structureSeries))
	assert.LessOrEqual(t, len(a.History()), 3)
	assert.LessOrEqual(t, len(a.Swings()), 3)
}

func TestSwingLabels(t *testing.T) {
	a := NewAnalyzer(DefaultConfig(), nil)
	feed(a, len(structureSeries))
	high, ok := a.LastSwing(domain.SwingHigh)
	require.True(t, ok)
	assert.Equal(t, 13.0, high.High)
	assert.Equal(t, "HH", high.Label)
}
