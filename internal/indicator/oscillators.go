package indicator

import (
	"fmt"
	"math"

	"tradecore/internal/domain"
)

// ---------------------------------------------------------------------------
// RSI
// ---------------------------------------------------------------------------

// RSI is the relative strength index with Wilder smoothing. A zero average
// loss yields 100; a flat series (no gains and no losses) yields 50.
type RSI struct {
	period               int
	overbought, oversold float64
	gain, loss           wilder
	prevClose            float64
	hasPrev              bool
}

// NewRSI builds an RSI with the given period and signal levels.
func NewRSI(period int, overbought, oversold float64) (*RSI, error) {
	if period < 1 {
		return nil, fmt.Errorf("rsi: period must be positive, got %d", period)
	}
	if !(oversold < overbought) {
		return nil, fmt.Errorf("rsi: oversold %v must be below overbought %v", oversold, overbought)
	}
	return &RSI{
		period:     period,
		overbought: overbought,
		oversold:   oversold,
		gain:       wilder{period: period},
		loss:       wilder{period: period},
	}, nil
}

func (r *RSI) Name() string         { return fmt.Sprintf("rsi(%d)", r.period) }
func (r *RSI) Kind() string         { return "rsi" }
func (r *RSI) RequiredHistory() int { return r.period + 1 }

func (r *RSI) Reset() {
	r.gain.reset()
	r.loss.reset()
	r.prevClose, r.hasPrev = 0, false
}

func (r *RSI) Update(c domain.Candle) (domain.IndicatorReading, bool) {
	if !r.hasPrev {
		r.prevClose, r.hasPrev = c.Close, true
		return domain.IndicatorReading{}, false
	}
	change := c.Close - r.prevClose
	r.prevClose = c.Close
	ag, okG := r.gain.add(math.Max(change, 0))
	al, okL := r.loss.add(math.Max(-change, 0))
	if !okG || !okL {
		return domain.IndicatorReading{}, false
	}

	var v float64
	switch {
	case al == 0 && ag == 0:
		v = 50
	case al == 0:
		v = 100
	default:
		v = 100 - 100/(1+ag/al)
	}

	dir := domain.Neutral
	var conf float64
	switch {
	case v < r.oversold:
		dir, conf = domain.Long, 0.5+(r.oversold-v)/r.oversold
	case v > r.overbought:
		dir, conf = domain.Short, 0.5+(v-r.overbought)/(100-r.overbought)
	}
	return reading(r, c, dir, conf, v), true
}

// ---------------------------------------------------------------------------
// Stochastic
// ---------------------------------------------------------------------------

// Stochastic computes %K over the high/low range of the last K candles and
// %D as its simple average over D candles. A %K/%D cross inside the
// oversold (overbought) zone reads long (short).
type Stochastic struct {
	k, d                 int
	overbought, oversold float64
	hi, lo               *extremum
	dAvg                 *sma
	prevK, prevD         float64
	primed               bool
}

// NewStochastic builds a stochastic oscillator.
func NewStochastic(k, d int, overbought, oversold float64) (*Stochastic, error) {
	if k < 1 || d < 1 {
		return nil, fmt.Errorf("stochastic: periods must be positive, got %d/%d", k, d)
	}
	return &Stochastic{
		k: k, d: d,
		overbought: overbought, oversold: oversold,
		hi:   newExtremum(k, true),
		lo:   newExtremum(k, false),
		dAvg: newSMA(d),
	}, nil
}

func (s *Stochastic) Name() string         { return fmt.Sprintf("stochastic(%d,%d)", s.k, s.d) }
func (s *Stochastic) Kind() string         { return "stochastic" }
func (s *Stochastic) RequiredHistory() int { return s.k + s.d - 1 }

func (s *Stochastic) Reset() {
	s.hi.reset()
	s.lo.reset()
	s.dAvg.reset()
	s.prevK, s.prevD, s.primed = 0, 0, false
}

func (s *Stochastic) Update(c domain.Candle) (domain.IndicatorReading, bool) {
	hh, okH := s.hi.add(c.High)
	ll, okL := s.lo.add(c.Low)
	if !okH || !okL {
		return domain.IndicatorReading{}, false
	}
	k := 50.0
	if hh > ll {
		k = (c.Close - ll) / (hh - ll) * 100
	}
	d, ok := s.dAvg.add(k)
	if !ok {
		return domain.IndicatorReading{}, false
	}

	dir := domain.Neutral
	var conf float64
	if s.primed {
		switch {
		case s.prevK <= s.prevD && k > d && min(k, d) < s.oversold:
			dir, conf = domain.Long, 0.5+(s.oversold-min(k, d))/s.oversold*0.5
		case s.prevK >= s.prevD && k < d && max(k, d) > s.overbought:
			dir, conf = domain.Short, 0.5+(max(k, d)-s.overbought)/(100-s.overbought)*0.5
		}
	}
	s.prevK, s.prevD, s.primed = k, d, true
	return reading(s, c, dir, conf, k, d), true
}

// ---------------------------------------------------------------------------
// MACD
// ---------------------------------------------------------------------------

// MACD emits [macd, signal, histogram]. It reads long when the histogram
// turns positive (MACD crosses above its signal line) and short when it
// turns negative.
type MACD struct {
	fast, slow, signal int
	f, s, sig          *ema
	prevHist           float64
	primed             bool
}

// NewMACD builds a MACD with fast/slow/signal EMA periods.
func NewMACD(fast, slow, signal int) (*MACD, error) {
	if fast < 1 || slow < 1 || signal < 1 || fast >= slow {
		return nil, fmt.Errorf("macd: invalid periods %d/%d/%d", fast, slow, signal)
	}
	return &MACD{
		fast: fast, slow: slow, signal: signal,
		f: newEMA(fast), s: newEMA(slow), sig: newEMA(signal),
	}, nil
}

func (m *MACD) Name() string         { return fmt.Sprintf("macd(%d,%d,%d)", m.fast, m.slow, m.signal) }
func (m *MACD) Kind() string         { return "macd" }
func (m *MACD) RequiredHistory() int { return m.slow + m.signal - 1 }

func (m *MACD) Reset() {
	m.f.reset()
	m.s.reset()
	m.sig.reset()
	m.prevHist, m.primed = 0, false
}

func (m *MACD) Update(c domain.Candle) (domain.IndicatorReading, bool) {
	fv, okF := m.f.add(c.Close)
	sv, okS := m.s.add(c.Close)
	if !okF || !okS {
		return domain.IndicatorReading{}, false
	}
	line := fv - sv
	sig, ok := m.sig.add(line)
	if !ok {
		return domain.IndicatorReading{}, false
	}
	hist := line - sig

	dir := domain.Neutral
	var conf float64
	if m.primed {
		scale := math.Abs(line) + math.Abs(sig)
		strength := 0.0
		if scale > 0 {
			strength = math.Abs(hist) / scale
		}
		switch {
		case m.prevHist <= 0 && hist > 0:
			dir, conf = domain.Long, 0.5+strength
		case m.prevHist >= 0 && hist < 0:
			dir, conf = domain.Short, 0.5+strength
		}
	}
	m.prevHist, m.primed = hist, true
	return reading(m, c, dir, conf, line, sig, hist), true
}

// ---------------------------------------------------------------------------
// Bollinger bands
// ---------------------------------------------------------------------------

// Bollinger emits [middle, upper, lower, %B] using the population standard
// deviation of the window. %B below 0 reads long, above 1 reads short.
type Bollinger struct {
	period int
	width  float64
	win    *ring
	sum    float64
	sumSq  float64
}

// NewBollinger builds bands of the given period and standard-deviation width.
func NewBollinger(period int, width float64) (*Bollinger, error) {
	if period < 2 || width <= 0 {
		return nil, fmt.Errorf("bollinger: invalid period %d or width %v", period, width)
	}
	return &Bollinger{period: period, width: width, win: newRing(period)}, nil
}

func (b *Bollinger) Name() string         { return fmt.Sprintf("bollinger(%d,%g)", b.period, b.width) }
func (b *Bollinger) Kind() string         { return "bollinger" }
func (b *Bollinger) RequiredHistory() int { return b.period }

func (b *Bollinger) Reset() {
	b.win.reset()
	b.sum, b.sumSq = 0, 0
}

func (b *Bollinger) Update(c domain.Candle) (domain.IndicatorReading, bool) {
	x := c.Close
	old, full := b.win.push(x)
	b.sum += x
	b.sumSq += x * x
	if full {
		b.sum -= old
		b.sumSq -= old * old
	}
	if !b.win.ready() {
		return domain.IndicatorReading{}, false
	}
	n := float64(b.period)
	mean := b.sum / n
	std := math.Sqrt(math.Max(0, b.sumSq/n-mean*mean))
	upper, lower := mean+b.width*std, mean-b.width*std
	pctB := 0.5
	if upper > lower {
		pctB = (x - lower) / (upper - lower)
	}

	dir := domain.Neutral
	var conf float64
	switch {
	case pctB < 0:
		dir, conf = domain.Long, 0.5-pctB
	case pctB > 1:
		dir, conf = domain.Short, 0.5+(pctB-1)
	}
	return reading(b, c, dir, conf, mean, upper, lower, pctB), true
}

// ---------------------------------------------------------------------------
// ATR
// ---------------------------------------------------------------------------

// ATR is the Wilder-smoothed average true range. It is non-directional; the
// aggregator and risk sizing consume its value.
type ATR struct {
	period    int
	avg       wilder
	prevClose float64
	hasPrev   bool
}

// NewATR builds an average true range.
func NewATR(period int) (*ATR, error) {
	if period < 1 {
		return nil, fmt.Errorf("atr: period must be positive, got %d", period)
	}
	return &ATR{period: period, avg: wilder{period: period}}, nil
}

func (a *ATR) Name() string         { return fmt.Sprintf("atr(%d)", a.period) }
func (a *ATR) Kind() string         { return "atr" }
func (a *ATR) RequiredHistory() int { return a.period }

func (a *ATR) Reset() {
	a.avg.reset()
	a.prevClose, a.hasPrev = 0, false
}

func (a *ATR) Update(c domain.Candle) (domain.IndicatorReading, bool) {
	tr := c.High - c.Low
	if a.hasPrev {
		tr = math.Max(tr, math.Max(math.Abs(c.High-a.prevClose), math.Abs(c.Low-a.prevClose)))
	}
	a.prevClose, a.hasPrev = c.Close, true
	v, ok := a.avg.add(tr)
	if !ok {
		return domain.IndicatorReading{}, false
	}
	return reading(a, c, domain.Neutral, 0, v), true
}

// ---------------------------------------------------------------------------
// Williams %R
// ---------------------------------------------------------------------------

// WilliamsR is -100·(HH − close)/(HH − LL) over the last period candles,
// ranging from -100 to 0. A flat range yields -50. At or above overbought
// it reads short; at or below oversold, long.
type WilliamsR struct {
	period               int
	overbought, oversold float64
	hi, lo               *extremum
}

// NewWilliamsR builds a Williams %R oscillator.
func NewWilliamsR(period int, overbought, oversold float64) (*WilliamsR, error) {
	if period < 1 {
		return nil, fmt.Errorf("williams_r: period must be positive, got %d", period)
	}
	if !(oversold < overbought) || oversold < -100 || overbought > 0 {
		return nil, fmt.Errorf("williams_r: levels %v/%v must satisfy -100 <= oversold < overbought <= 0", oversold, overbought)
	}
	return &WilliamsR{
		period:     period,
		overbought: overbought,
		oversold:   oversold,
		hi:         newExtremum(period, true),
		lo:         newExtremum(period, false),
	}, nil
}

func (w *WilliamsR) Name() string         { return fmt.Sprintf("williams_r(%d)", w.period) }
func (w *WilliamsR) Kind() string         { return "williams_r" }
func (w *WilliamsR) RequiredHistory() int { return w.period }

func (w *WilliamsR) Reset() {
	w.hi.reset()
	w.lo.reset()
}

func (w *WilliamsR) Update(c domain.Candle) (domain.IndicatorReading, bool) {
	hh, okH := w.hi.add(c.High)
	ll, okL := w.lo.add(c.Low)
	if !okH || !okL {
		return domain.IndicatorReading{}, false
	}
	v := -50.0
	if hh > ll {
		v = (hh - c.Close) / (hh - ll) * -100
	}

	dir := domain.Neutral
	var conf float64
	switch {
	case v >= w.overbought:
		dir = domain.Short
		if w.overbought < 0 {
			conf = 0.5 + (v-w.overbought)/-w.overbought*0.5
		}
	case v <= w.oversold:
		dir = domain.Long
		if w.oversold > -100 {
			conf = 0.5 + (w.oversold-v)/(w.oversold+100)*0.5
		}
	}
	return reading(w, c, dir, conf, v), true
}

// ---------------------------------------------------------------------------
// CCI
// ---------------------------------------------------------------------------

// CCI is the commodity channel index of the typical price (H+L+C)/3:
// (tp − SMA(tp)) / (0.015 · mean absolute deviation). The mean deviation
// depends on the current average, so it costs O(period) per candle. A
// window without deviation yields 0. At or above overbought it reads short;
// at or below oversold, long.
type CCI struct {
	period               int
	overbought, oversold float64
	tp                   *sma
}

const cciConstant = 0.015

// NewCCI builds a commodity channel index.
func NewCCI(period int, overbought, oversold float64) (*CCI, error) {
	if period < 2 {
		return nil, fmt.Errorf("cci: period must be at least 2, got %d", period)
	}
	if !(oversold < overbought) {
		return nil, fmt.Errorf("cci: oversold %v must be below overbought %v", oversold, overbought)
	}
	return &CCI{period: period, overbought: overbought, oversold: oversold, tp: newSMA(period)}, nil
}

func (x *CCI) Name() string         { return fmt.Sprintf("cci(%d)", x.period) }
func (x *CCI) Kind() string         { return "cci" }
func (x *CCI) RequiredHistory() int { return x.period }

func (x *CCI) Reset() { x.tp.reset() }

func (x *CCI) Update(c domain.Candle) (domain.IndicatorReading, bool) {
	tp := (c.High + c.Low + c.Close) / 3
	mean, ok := x.tp.add(tp)
	if !ok {
		return domain.IndicatorReading{}, false
	}
	var dev float64
	for _, v := range x.tp.win.buf {
		dev += math.Abs(v - mean)
	}
	dev /= float64(x.period)

	var v float64
	if dev > 0 {
		v = (tp - mean) / (cciConstant * dev)
	}

	dir := domain.Neutral
	var conf float64
	switch {
	case v >= x.overbought:
		dir, conf = domain.Short, math.Abs(v)/(2*math.Abs(x.overbought))
	case v <= x.oversold:
		dir, conf = domain.Long, math.Abs(v)/(2*math.Abs(x.oversold))
	}
	return reading(x, c, dir, conf, v), true
}
