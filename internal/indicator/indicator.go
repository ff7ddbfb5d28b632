// Package indicator implements streaming technical indicators. Every
// indicator keeps only the rolling state its period needs and updates in
// O(1) amortized time per closed candle, except CCI, whose mean deviation is
// O(period).
package indicator

import (
	"fmt"
	"math"
	"time"

	"tradecore/internal/domain"
)

// Indicator is the capability shared by every indicator instance.
type Indicator interface {
	// Name identifies the instance including its parameters, e.g. "rsi(14)".
	Name() string

	// Kind returns the registry type, e.g. "rsi".
	Kind() string

	// Update folds one closed candle into the state. The boolean is false
	// while history is shorter than RequiredHistory; no reading exists then.
	Update(c domain.Candle) (domain.IndicatorReading, bool)

	// Reset drops all accumulated state.
	Reset()

	// RequiredHistory is the number of candles needed for the first reading.
	RequiredHistory() int
}

// Params configures one indicator instance. Zero fields fall back to the
// conventional defaults of the indicator type.
type Params struct {
	Type       string  `yaml:"type"`
	Period     int     `yaml:"period"`
	Fast       int     `yaml:"fast"`
	Slow       int     `yaml:"slow"`
	Signal     int     `yaml:"signal"`
	Smooth     int     `yaml:"smooth"`
	StdDev     float64 `yaml:"stddev"`
	Overbought float64 `yaml:"overbought"`
	Oversold   float64 `yaml:"oversold"`
	MA         string  `yaml:"ma"` // averaging flavour for ma_cross
}

func orDefault[T int | float64](v, def T) T {
	if v == 0 {
		return def
	}
	return v
}

func reading(ind Indicator, c domain.Candle, dir domain.Direction, conf float64, values ...float64) domain.IndicatorReading {
	return domain.IndicatorReading{
		Name:       ind.Name(),
		Kind:       ind.Kind(),
		Values:     values,
		Signal:     dir,
		Confidence: clamp01(conf),
		Timestamp:  readingTime(c),
	}
}

// readingTime stamps a reading at the close of its candle when the
// timeframe is known, otherwise at the candle start.
func readingTime(c domain.Candle) time.Time {
	if d, err := c.Timeframe.Duration(); err == nil {
		return c.Start.Add(d)
	}
	return c.Start
}

// ---------------------------------------------------------------------------
// Moving averages
// ---------------------------------------------------------------------------

// MovingAverage emits one of the SMA/EMA/WMA/HMA flavours. It reads long when
// price closes above a rising average and short below a falling one.
type MovingAverage struct {
	kind   string
	period int
	avg    averager
	prev   float64
	primed bool
}

// NewMovingAverage builds a moving average of the given kind: "sma", "ema",
// "wma" or "hma".
func NewMovingAverage(kind string, period int) (*MovingAverage, error) {
	avg, err := newAverager(kind, period)
	if err != nil {
		return nil, err
	}
	return &MovingAverage{kind: kind, period: period, avg: avg}, nil
}

func newAverager(kind string, period int) (averager, error) {
	if period < 1 {
		return nil, fmt.Errorf("%s: period must be positive, got %d", kind, period)
	}
	switch kind {
	case "sma":
		return newSMA(period), nil
	case "ema":
		return newEMA(period), nil
	case "wma":
		return newWMA(period), nil
	case "hma":
		return newHMA(period), nil
	}
	return nil, fmt.Errorf("unknown moving average %q", kind)
}

func (m *MovingAverage) Name() string         { return fmt.Sprintf("%s(%d)", m.kind, m.period) }
func (m *MovingAverage) Kind() string         { return m.kind }
func (m *MovingAverage) RequiredHistory() int { return m.avg.required() }

func (m *MovingAverage) Reset() {
	m.avg.reset()
	m.prev, m.primed = 0, false
}

func (m *MovingAverage) Update(c domain.Candle) (domain.IndicatorReading, bool) {
	v, ok := m.avg.add(c.Close)
	if !ok {
		return domain.IndicatorReading{}, false
	}
	dir := domain.Neutral
	var conf float64
	if m.primed && v != 0 {
		dist := (c.Close - v) / v
		switch {
		case dist > 0 && v > m.prev:
			dir, conf = domain.Long, 0.3+math.Abs(dist)*35
		case dist < 0 && v < m.prev:
			dir, conf = domain.Short, 0.3+math.Abs(dist)*35
		}
	}
	m.prev, m.primed = v, true
	return reading(m, c, dir, conf, v), true
}

// ---------------------------------------------------------------------------
// Crossover
// ---------------------------------------------------------------------------

// MACross compares a fast and a slow average. It reads long only on the
// candle where the fast average first rises above the slow one, short on the
// candle where it first falls below, and neutral otherwise. When both
// averages become available the initial relation counts as a crossing.
type MACross struct {
	kind       string
	fast, slow int
	f, s       averager
	relation   int // +1 fast above, -1 below, 0 unknown
}

// NewMACross builds a crossover over two averages of the same kind.
func NewMACross(kind string, fast, slow int) (*MACross, error) {
	if fast >= slow {
		return nil, fmt.Errorf("ma_cross: fast period %d must be below slow %d", fast, slow)
	}
	f, err := newAverager(kind, fast)
	if err != nil {
		return nil, err
	}
	s, err := newAverager(kind, slow)
	if err != nil {
		return nil, err
	}
	return &MACross{kind: kind, fast: fast, slow: slow, f: f, s: s}, nil
}

func (x *MACross) Name() string {
	return fmt.Sprintf("ma_cross(%s,%d,%d)", x.kind, x.fast, x.slow)
}
func (x *MACross) Kind() string         { return "ma_cross" }
func (x *MACross) RequiredHistory() int { return max(x.f.required(), x.s.required()) }

func (x *MACross) Reset() {
	x.f.reset()
	x.s.reset()
	x.relation = 0
}

func (x *MACross) Update(c domain.Candle) (domain.IndicatorReading, bool) {
	fv, okF := x.f.add(c.Close)
	sv, okS := x.s.add(c.Close)
	if !okF || !okS {
		return domain.IndicatorReading{}, false
	}
	dir := domain.Neutral
	var conf float64
	spread := 0.0
	if sv != 0 {
		spread = math.Abs(fv-sv) / sv
	}
	switch {
	case fv > sv:
		if x.relation != 1 {
			dir, conf = domain.Long, 0.5+spread*50
		}
		x.relation = 1
	case fv < sv:
		if x.relation != -1 {
			dir, conf = domain.Short, 0.5+spread*50
		}
		x.relation = -1
	}
	return reading(x, c, dir, conf, fv, sv), true
}
