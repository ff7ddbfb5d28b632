package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/domain"
	"tradecore/internal/indicator"
	"tradecore/internal/pattern"
	"tradecore/internal/signal"
	"tradecore/internal/util"
)

var testStart = time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)

// risingCandle returns the i-th candle of a steady one-minute uptrend.
func risingCandle(i int) domain.Candle {
	open := 100 + 0.5*float64(i)
	cl := open + 1
	return domain.Candle{
		Symbol: "AAPL", Timeframe: domain.Timeframe1m,
		Start: testStart.Add(time.Duration(i) * time.Minute),
		Open:  open, High: cl + 0.2, Low: open - 0.2, Close: cl, Volume: 1000, Closed: true,
	}
}

func crossPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Indicators: []indicator.Params{
			{Type: "ma_cross", MA: "sma", Fast: 2, Slow: 3},
			{Type: "atr", Period: 2},
		},
		// Keep patterns out of the vote.
		Patterns: pattern.Config{MinConfidence: 1.01, ChartWindow: 20},
	}
}

func newTestPipeline(t *testing.T, cfg PipelineConfig, agg *signal.Aggregator) *Pipeline {
	t.Helper()
	p, err := NewPipeline(domain.Key{Symbol: "AAPL", Timeframe: domain.Timeframe1m}, cfg, nil, agg, nil)
	require.NoError(t, err)
	return p
}

func TestPipelineCrossoverSignal(t *testing.T) {
	agg, err := signal.NewAggregator(signal.Config{Confluence: 1}, nil, nil)
	require.NoError(t, err)
	p := newTestPipeline(t, crossPipelineConfig(), agg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := p.Process(ctx, risingCandle(i))
		require.NoError(t, err)
		assert.False(t, res.HasSignal, "candle %d", i)
	}

	res, err := p.Process(ctx, risingCandle(2))
	require.NoError(t, err)
	require.True(t, res.HasSignal)

	sig := res.Signal
	assert.Equal(t, domain.Long, sig.Direction)
	assert.Equal(t, "AAPL", sig.Symbol)
	assert.Equal(t, domain.Timeframe1m, sig.Timeframe)
	assert.InDelta(t, 102.0, sig.Entry, 1e-9)
	assert.InDelta(t, 99.9, sig.StopLoss, 1e-6)
	assert.InDelta(t, 106.2, sig.TakeProfit, 1e-6)
	assert.Equal(t, "atr", sig.StopSource)
	assert.Equal(t, testStart.Add(2*time.Minute), sig.CreatedAt)
	require.Len(t, sig.Contributions, 1)
	assert.Equal(t, domain.SourceIndicator, sig.Contributions[0].Source)
	assert.Equal(t, p.Last(), risingCandle(2).Start)

	// The averages stay crossed, so the next candle is quiet.
	res, err = p.Process(ctx, risingCandle(3))
	require.NoError(t, err)
	assert.False(t, res.HasSignal)
}

func TestPipelineRejectsOutOfOrder(t *testing.T) {
	p := newTestPipeline(t, crossPipelineConfig(), nil)
	ctx := context.Background()

	_, err := p.Process(ctx, risingCandle(1))
	require.NoError(t, err)

	_, err = p.Process(ctx, risingCandle(1))
	assert.ErrorIs(t, err, domain.ErrOutOfOrder, "duplicate")

	_, err = p.Process(ctx, risingCandle(0))
	assert.ErrorIs(t, err, domain.ErrOutOfOrder, "older")

	assert.Equal(t, risingCandle(1).Start, p.Last(), "rejected candles change nothing")
}

func TestPipelineRejectsForeignCandle(t *testing.T) {
	p := newTestPipeline(t, crossPipelineConfig(), nil)
	c := risingCandle(0)
	c.Symbol = "MSFT"
	_, err := p.Process(context.Background(), c)
	assert.Error(t, err)

	c = risingCandle(0)
	c.Timeframe = domain.Timeframe1h
	_, err = p.Process(context.Background(), c)
	assert.Error(t, err)
}

func TestPipelineGapResetsIndicators(t *testing.T) {
	p := newTestPipeline(t, crossPipelineConfig(), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := p.Process(ctx, risingCandle(i))
		require.NoError(t, err)
		assert.NoError(t, res.Gap)
	}

	res, err := p.Process(ctx, risingCandle(6))
	require.NoError(t, err)
	require.Error(t, res.Gap)
	assert.ErrorIs(t, res.Gap, domain.ErrDataGap)
	// Rebuilding from one candle leaves no averages to read.
	for _, r := range res.Readings {
		assert.NotEqual(t, "ma_cross", r.Kind)
	}
}

func TestPipelineToleratesConfiguredGap(t *testing.T) {
	cfg := crossPipelineConfig()
	cfg.MaxMissing = 2
	p := newTestPipeline(t, cfg, nil)
	ctx := context.Background()

	_, err := p.Process(ctx, risingCandle(0))
	require.NoError(t, err)
	res, err := p.Process(ctx, risingCandle(3))
	require.NoError(t, err)
	assert.NoError(t, res.Gap)
}

// sessionBars returns seven hourly SPY candles per weekday from 2 January
// 2024, stamped 09:00 to 15:00 New York time as the venue labels them.
func sessionBars(days int) []domain.Candle {
	var out []domain.Candle
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	for len(out) < days*7 {
		if wd := day.Weekday(); wd != time.Saturday && wd != time.Sunday {
			for h := 14; h <= 20; h++ {
				px := 470 + float64(len(out)%9) - 0.3*float64(len(out)%4)
				out = append(out, domain.Candle{
					Symbol: "SPY", Timeframe: domain.Timeframe1h,
					Start: day.Add(time.Duration(h) * time.Hour),
					Open:  px - 0.4, High: px + 0.8, Low: px - 0.9, Close: px, Volume: 5000, Closed: true,
				})
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return out
}

func TestPipelineIgnoresMarketClosures(t *testing.T) {
	p, err := NewPipeline(domain.Key{Symbol: "SPY", Timeframe: domain.Timeframe1h}, PipelineConfig{}, nil, nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	kinds := map[string]bool{}
	for _, c := range sessionBars(8) {
		res, err := p.Process(ctx, c)
		require.NoError(t, err)
		require.NoError(t, res.Gap, "candle at %s", c.Start)
		for _, r := range res.Readings {
			kinds[r.Kind] = true
		}
	}
	assert.True(t, kinds["rsi"], "indicators warmed up across sessions: %v", kinds)
	assert.True(t, kinds["macd"], "indicators warmed up across sessions: %v", kinds)
}

func TestPipelineSessionGapStillResets(t *testing.T) {
	p, err := NewPipeline(domain.Key{Symbol: "SPY", Timeframe: domain.Timeframe1h}, PipelineConfig{}, nil, nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	bars := sessionBars(2)
	for _, c := range bars[:7] {
		_, err := p.Process(ctx, c)
		require.NoError(t, err)
	}
	// The next session opens without its 09:00 and 10:00 bars.
	res, err := p.Process(ctx, bars[9])
	require.NoError(t, err)
	assert.ErrorIs(t, res.Gap, domain.ErrDataGap)
}

func TestPipelineContinuousCalendarCountsClosures(t *testing.T) {
	cfg := PipelineConfig{Calendar: util.ContinuousCalendar()}
	p, err := NewPipeline(domain.Key{Symbol: "SPY", Timeframe: domain.Timeframe1h}, cfg, nil, nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	bars := sessionBars(2)
	for _, c := range bars[:7] {
		_, err := p.Process(ctx, c)
		require.NoError(t, err)
	}
	res, err := p.Process(ctx, bars[7])
	require.NoError(t, err)
	assert.ErrorIs(t, res.Gap, domain.ErrDataGap, "overnight hours are missing on a market that never closes")
}

func TestPipelineCancelledContext(t *testing.T) {
	p := newTestPipeline(t, crossPipelineConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Process(ctx, risingCandle(0))
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, p.Last().IsZero())
}

func TestNewPipelineDefaults(t *testing.T) {
	p, err := NewPipeline(domain.Key{Symbol: "SPY", Timeframe: domain.Timeframe15m}, PipelineConfig{}, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.Key{Symbol: "SPY", Timeframe: domain.Timeframe15m}, p.Key())
	assert.Equal(t, pattern.DefaultConfig().ChartWindow, p.patterns.Window())

	_, err = NewPipeline(domain.Key{Symbol: "SPY", Timeframe: "bogus"}, PipelineConfig{}, nil, nil, nil)
	assert.Error(t, err)

	_, err = NewPipeline(domain.Key{Symbol: "SPY", Timeframe: domain.Timeframe1m},
		PipelineConfig{Indicators: []indicator.Params{{Type: "nope"}}}, nil, nil, nil)
	assert.Error(t, err)
}
