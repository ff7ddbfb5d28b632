package pattern

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/domain"
)

var t0 = time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)

// ohlc builds consecutive one-minute candles from [open, high, low, close]
// tuples.
func ohlc(rows ...[4]float64) []domain.Candle {
	out := make([]domain.Candle, len(rows))
	for i, r := range rows {
		out[i] = domain.Candle{
			Symbol: "AAPL", Timeframe: domain.Timeframe1m,
			Start: t0.Add(time.Duration(i) * time.Minute),
			Open:  r[0], High: r[1], Low: r[2], Close: r[3], Closed: true,
		}
	}
	return out
}

func names(ms []domain.PatternMatch) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Name
	}
	return out
}

func find(t *testing.T, ms []domain.PatternMatch, name string) domain.PatternMatch {
	t.Helper()
	for _, m := range ms {
		if m.Name == name {
			return m
		}
	}
	t.Fatalf("pattern %q not in %v", name, names(ms))
	return domain.PatternMatch{}
}

func TestHammer(t *testing.T) {
	d := NewDetector(DefaultConfig())
	got := d.Scan(ohlc([4]float64{10, 10.6, 7, 10.5}))
	m := find(t, got, "hammer")
	assert.Equal(t, domain.Long, m.Signal)
	assert.Equal(t, 1.0, m.Confidence, "lower shadow 6x body saturates")
	assert.Equal(t, 1, m.Bars)
}

func TestDojiConfidenceScalesWithBody(t *testing.T) {
	d := NewDetector(Config{MinConfidence: 0})
	tight := find(t, d.Scan(ohlc([4]float64{10, 11, 9, 10.01})), "doji")
	loose := find(t, d.Scan(ohlc([4]float64{10, 11, 9, 10.08})), "doji")
	assert.InDelta(t, 0.9, tight.Confidence, 1e-9)
	assert.Less(t, loose.Confidence, tight.Confidence)
	assert.Equal(t, domain.Neutral, tight.Signal)
}

func TestMinConfidenceFilters(t *testing.T) {
	d := NewDetector(Config{MinConfidence: 0.95})
	assert.Empty(t, d.Scan(ohlc([4]float64{10, 11, 9, 10.01})))
}

func TestBullishEngulfing(t *testing.T) {
	d := NewDetector(DefaultConfig())
	got := d.Scan(ohlc(
		[4]float64{10, 10.2, 8.8, 9},
		[4]float64{8.9, 10.6, 8.8, 10.5},
	))
	m := find(t, got, "bullish_engulfing")
	assert.Equal(t, domain.Long, m.Signal)
	assert.InDelta(t, 0.8, m.Confidence, 1e-9)
	assert.Equal(t, t0, m.From)
	assert.Equal(t, t0.Add(time.Minute), m.To)
}

func TestMorningStar(t *testing.T) {
	d := NewDetector(DefaultConfig())
	got := d.Scan(ohlc(
		[4]float64{12, 12.1, 9.9, 10},
		[4]float64{9.8, 10, 9.6, 9.9},
		[4]float64{10, 11.6, 9.9, 11.5},
	))
	m := find(t, got, "morning_star")
	assert.Equal(t, domain.Long, m.Signal)
	assert.InDelta(t, 0.75, m.Confidence, 1e-9)
	assert.Equal(t, 3, m.Bars)
}

func TestThreeWhiteSoldiers(t *testing.T) {
	d := NewDetector(DefaultConfig())
	got := d.Scan(ohlc(
		[4]float64{10, 11.1, 9.9, 11},
		[4]float64{10.8, 12.1, 10.7, 12},
		[4]float64{11.8, 13.1, 11.7, 13},
	))
	m := find(t, got, "three_white_soldiers")
	assert.Equal(t, domain.Long, m.Signal)
	assert.Greater(t, m.Confidence, 0.8)
}

func TestSupportBounce(t *testing.T) {
	d := NewDetector(Config{MinConfidence: 0.3, ChartWindow: 20})
	got := d.Scan(ohlc(
		[4]float64{102, 103, 100, 101},
		[4]float64{101, 102.5, 101, 102},
		[4]float64{102, 102.5, 100.05, 101},
		[4]float64{100.5, 102.2, 100.1, 102},
	))
	m := find(t, got, "support_bounce")
	assert.Equal(t, "chart", m.Kind)
	assert.Equal(t, domain.Long, m.Signal)
	assert.InDelta(t, 0.4, m.Confidence, 1e-9)
}

func TestDoubleBottom(t *testing.T) {
	d := NewDetector(DefaultConfig())
	got := d.Scan(ohlc(
		[4]float64{105.5, 106, 105, 105.6},
		[4]float64{100.7, 101.5, 100, 100.8},
		[4]float64{103, 104, 102, 103.1},
		[4]float64{104.5, 106, 103, 104.6},
		[4]float64{103, 104, 102, 103.1},
		[4]float64{100.8, 101.5, 100.2, 100.9},
		[4]float64{102, 103, 101, 102.1},
		[4]float64{103, 107.5, 102.8, 107},
	))
	m := find(t, got, "double_bottom")
	assert.Equal(t, domain.Long, m.Signal)
	assert.InDelta(t, 1-(0.2/100.2)/0.005*0.5, m.Confidence, 1e-9)
}

func TestScanIsStateless(t *testing.T) {
	d := NewDetector(DefaultConfig())
	window := ohlc(
		[4]float64{10, 10.2, 8.8, 9},
		[4]float64{8.9, 10.6, 8.8, 10.5},
	)
	first := d.Scan(window)
	second := d.Scan(window)
	require.NotEmpty(t, first)
	assert.Equal(t, first, second)
	assert.Empty(t, d.Scan(nil))
}
