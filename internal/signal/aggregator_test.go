package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/domain"
)

var t0 = time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)

type fakeExposure struct {
	positions map[string]domain.Direction
}

func (f fakeExposure) HasPosition(symbol string, side domain.Direction) bool {
	return f.positions[symbol] == side
}

func (f fakeExposure) HasWorkingOrder(string, domain.Direction) bool { return false }

func newAggregator(t *testing.T, cfg Config, exp Exposure) *Aggregator {
	t.Helper()
	a, err := NewAggregator(cfg, exp, nil)
	require.NoError(t, err)
	return a
}

func baseInput(at time.Time) Input {
	return Input{
		Candle: domain.Candle{
			Symbol: "AAPL", Timeframe: domain.Timeframe15m, Start: at,
			Open: 99, High: 100.5, Low: 98.8, Close: 100, Closed: true,
		},
		Readings: []domain.IndicatorReading{
			{Name: "rsi(14)", Kind: "rsi", Values: []float64{25}, Signal: domain.Long, Confidence: 0.8},
			{Name: "atr(14)", Kind: "atr", Values: []float64{2}, Signal: domain.Neutral},
		},
		Patterns: []domain.PatternMatch{
			{Name: "hammer", Kind: "candlestick", Signal: domain.Long, Confidence: 0.7},
		},
		Trend: domain.Neutral,
	}
}

func TestConfluenceWithATRStop(t *testing.T) {
	a := newAggregator(t, DefaultConfig(), nil)
	sig, ok, err := a.Aggregate(baseInput(t0))
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, domain.Long, sig.Direction)
	assert.Equal(t, 100.0, sig.Entry)
	assert.InDelta(t, 97.0, sig.StopLoss, 1e-9)
	assert.InDelta(t, 106.0, sig.TakeProfit, 1e-9)
	assert.Equal(t, "atr", sig.StopSource)
	assert.InDelta(t, (1.0*0.8+1.5*0.7)/2.5, sig.Confidence, 1e-9)
	assert.Len(t, sig.Contributions, 2)
	assert.NotEmpty(t, sig.ID)
	assert.NoError(t, sig.Validate())
}

func TestSingleSourceBelowConfluence(t *testing.T) {
	a := newAggregator(t, DefaultConfig(), nil)
	in := baseInput(t0)
	in.Patterns = nil
	_, ok, err := a.Aggregate(in)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConflictingSourcesProduceNothing(t *testing.T) {
	a := newAggregator(t, DefaultConfig(), nil)
	in := baseInput(t0)
	in.Patterns[0].Signal = domain.Short
	_, ok, err := a.Aggregate(in)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStructureSufficientOrderBlock(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StructureSufficient = true
	a := newAggregator(t, cfg, nil)

	ob := domain.StructureEvent{
		ID: 7, Kind: domain.OrderBlock, Low: 98, High: 99,
		Status: domain.StatusUntested, Bias: domain.Long, Strength: 0.9,
	}
	in := baseInput(t0)
	in.Readings = in.Readings[1:] // ATR only
	in.Patterns = nil
	in.Events = []domain.StructureEvent{ob}
	in.Active = []domain.StructureEvent{ob}
	in.Trend = domain.Long

	sig, ok, err := a.Aggregate(in)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "order_block", sig.StopSource)
	assert.InDelta(t, 98-0.25*2, sig.StopLoss, 1e-9)

	in.Trend = domain.Short
	_, ok, _ = a.Aggregate(in)
	assert.False(t, ok, "a block against the trend is not sufficient alone")
}

func TestStructuralStopUsesNearestLevel(t *testing.T) {
	a := newAggregator(t, DefaultConfig(), nil)
	in := baseInput(t0)
	in.Swings = []domain.StructureEvent{
		{Kind: domain.SwingLow, Low: 95, High: 95},
		{Kind: domain.SwingLow, Low: 97.5, High: 97.5},
		{Kind: domain.SwingHigh, Low: 110, High: 110},
	}
	sig, ok, err := a.Aggregate(in)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, string(domain.SwingLow), sig.StopSource)
	assert.InDelta(t, 97.0, sig.StopLoss, 1e-9)
	assert.InDelta(t, 110.0, sig.TakeProfit, 1e-9, "swing high offers more than 2R")
}

func TestSuppressedByOpenPosition(t *testing.T) {
	a := newAggregator(t, DefaultConfig(), fakeExposure{positions: map[string]domain.Direction{"AAPL": domain.Long}})
	_, ok, err := a.Aggregate(baseInput(t0))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKillZoneFilter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KillZoneFilter = true
	a := newAggregator(t, cfg, nil)

	_, ok, _ := a.Aggregate(baseInput(t0))
	assert.False(t, ok, "14:30 UTC is outside every kill zone")

	sig, ok, err := a.Aggregate(baseInput(time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new_york", sig.KillZone)
}

func TestNoStopWithoutATROrStructure(t *testing.T) {
	a := newAggregator(t, DefaultConfig(), nil)
	in := baseInput(t0)
	in.Readings = in.Readings[:1]
	_, ok, err := a.Aggregate(in)
	require.NoError(t, err)
	assert.False(t, ok)
}
