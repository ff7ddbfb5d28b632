// Package structure tracks market structure for one symbol/timeframe: swing
// points, breaks of structure, changes of character, order blocks and fair
// value gaps.
//
// A swing is confirmed only after SwingLookahead further candles have closed
// without exceeding it, so every swing event is emitted exactly
// SwingLookahead candles after the candle that formed it.
package structure

import (
	"log/slog"
	"math"
	"time"

	"tradecore/internal/domain"
)

// Config controls structure detection.
type Config struct {
	SwingLookback         int     `yaml:"swing_lookback"`
	SwingLookahead        int     `yaml:"swing_lookahead"`
	MinGapFraction        float64 `yaml:"min_gap_fraction"`
	DisplacementBodyRatio float64 `yaml:"displacement_body_ratio"`
	MaxOrderBlocks        int     `yaml:"max_order_blocks"`
	MaxEvents             int     `yaml:"max_events"`
}

// DefaultConfig returns the analyzer defaults.
func DefaultConfig() Config {
	return Config{
		SwingLookback:         2,
		SwingLookahead:        2,
		MinGapFraction:        0.001,
		DisplacementBodyRatio: 0.6,
		MaxOrderBlocks:        10,
		MaxEvents:             200,
	}
}

const minBuffer = 50

type swing struct {
	price  float64
	at     time.Time
	broken bool
}

// zone is a live order block or fair value gap.
type zone struct {
	ev domain.StructureEvent
}

// Analyzer owns the rolling structure state of one pipeline. It is not safe
// for concurrent use.
type Analyzer struct {
	cfg     Config
	log     *slog.Logger
	candles []domain.Candle
	bufCap  int

	trend    domain.Direction
	lastHigh *swing
	lastLow  *swing
	swings   []domain.StructureEvent
	blocks   []*zone
	gaps     []*zone
	history  []domain.StructureEvent
	nextID   int64
}

// NewAnalyzer creates an Analyzer. Zero config fields take defaults.
func NewAnalyzer(cfg Config, log *slog.Logger) *Analyzer {
	def := DefaultConfig()
	if cfg.SwingLookback <= 0 {
		cfg.SwingLookback = def.SwingLookback
	}
	if cfg.SwingLookahead <= 0 {
		cfg.SwingLookahead = def.SwingLookahead
	}
	if cfg.MinGapFraction <= 0 {
		cfg.MinGapFraction = def.MinGapFraction
	}
	if cfg.DisplacementBodyRatio <= 0 {
		cfg.DisplacementBodyRatio = def.DisplacementBodyRatio
	}
	if cfg.MaxOrderBlocks <= 0 {
		cfg.MaxOrderBlocks = def.MaxOrderBlocks
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = def.MaxEvents
	}
	if log == nil {
		log = slog.Default().With("component", "structure")
	}
	return &Analyzer{
		cfg:    cfg,
		log:    log,
		bufCap: max(minBuffer, cfg.SwingLookback+cfg.SwingLookahead+1),
		trend:  domain.Neutral,
	}
}

// Update folds one closed candle into the structure and returns the events
// emitted on it: newly confirmed swings, breaks, new zones and zone status
// transitions.
func (a *Analyzer) Update(c domain.Candle) []domain.StructureEvent {
	a.candles = append(a.candles, c)
	if len(a.candles) > a.bufCap {
		a.candles = append(a.candles[:0], a.candles[len(a.candles)-a.bufCap:]...)
	}

	var out []domain.StructureEvent
	out = append(out, a.updateZones(c)...)
	out = append(out, a.confirmSwings()...)
	out = append(out, a.detectBreak(c)...)
	out = append(out, a.detectGap()...)

	a.record(out)
	return out
}

// Trend returns the structural bias established by the latest break, or by
// swing sequence before any break: ascending highs and lows are bullish,
// descending ones bearish.
func (a *Analyzer) Trend() domain.Direction { return a.trend }

// Active returns the order blocks and fair value gaps that are still live.
func (a *Analyzer) Active() []domain.StructureEvent {
	out := make([]domain.StructureEvent, 0, len(a.blocks)+len(a.gaps))
	for _, z := range a.blocks {
		out = append(out, z.ev)
	}
	for _, z := range a.gaps {
		out = append(out, z.ev)
	}
	return out
}

// Swings returns the confirmed swing points, oldest first.
func (a *Analyzer) Swings() []domain.StructureEvent {
	return append([]domain.StructureEvent(nil), a.swings...)
}

// History returns the retained events, oldest first.
func (a *Analyzer) History() []domain.StructureEvent {
	return append([]domain.StructureEvent(nil), a.history...)
}

// LastSwing returns the most recent confirmed swing high or low.
func (a *Analyzer) LastSwing(kind domain.StructureKind) (domain.StructureEvent, bool) {
	for i := len(a.swings) - 1; i >= 0; i-- {
		if a.swings[i].Kind == kind {
			return a.swings[i], true
		}
	}
	return domain.StructureEvent{}, false
}

func (a *Analyzer) newEvent(kind domain.StructureKind, lo, hi float64, from, to time.Time, status domain.ZoneStatus, bias domain.Direction) domain.StructureEvent {
	a.nextID++
	return domain.StructureEvent{
		ID: a.nextID, Kind: kind,
		Low: lo, High: hi, From: from, To: to,
		Status: status, Bias: bias, UpdatedAt: to,
	}
}

func (a *Analyzer) record(evs []domain.StructureEvent) {
	a.history = append(a.history, evs...)
	if n := len(a.history) - a.cfg.MaxEvents; n > 0 {
		a.history = append(a.history[:0], a.history[n:]...)
	}
	if n := len(a.swings) - a.cfg.MaxEvents; n > 0 {
		a.swings = append(a.swings[:0], a.swings[n:]...)
	}
}

// ---------------------------------------------------------------------------
// Swings
// ---------------------------------------------------------------------------

func (a *Analyzer) confirmSwings() []domain.StructureEvent {
	k := len(a.candles) - 1 - a.cfg.SwingLookahead
	if k < a.cfg.SwingLookback {
		return nil
	}
	cand := a.candles[k]
	isHigh, isLow := true, true
	for j := k - a.cfg.SwingLookback; j < k; j++ {
		isHigh = isHigh && cand.High > a.candles[j].High
		isLow = isLow && cand.Low < a.candles[j].Low
	}
	for j := k + 1; j < len(a.candles); j++ {
		isHigh = isHigh && cand.High >= a.candles[j].High
		isLow = isLow && cand.Low <= a.candles[j].Low
	}

	var out []domain.StructureEvent
	if isHigh {
		ev := a.newEvent(domain.SwingHigh, cand.High, cand.High, cand.Start, cand.Start, domain.StatusUntested, domain.Short)
		if prev, ok := a.LastSwing(domain.SwingHigh); ok {
			ev.Label = label(cand.High > prev.High, "HH", "LH")
		}
		ev.UpdatedAt = a.candles[len(a.candles)-1].Start
		a.lastHigh = &swing{price: cand.High, at: cand.Start}
		a.swings = append(a.swings, ev)
		out = append(out, ev)
	}
	if isLow {
		ev := a.newEvent(domain.SwingLow, cand.Low, cand.Low, cand.Start, cand.Start, domain.StatusUntested, domain.Long)
		if prev, ok := a.LastSwing(domain.SwingLow); ok {
			ev.Label = label(cand.Low > prev.Low, "HL", "LL")
		}
		ev.UpdatedAt = a.candles[len(a.candles)-1].Start
		a.lastLow = &swing{price: cand.Low, at: cand.Start}
		a.swings = append(a.swings, ev)
		out = append(out, ev)
	}
	if len(out) > 0 && a.trend == domain.Neutral {
		a.trend = a.swingTrend()
	}
	return out
}

func label(cond bool, yes, no string) string {
	if cond {
		return yes
	}
	return no
}

// swingTrend classifies the last two highs and lows.
func (a *Analyzer) swingTrend() domain.Direction {
	var hi, lo []float64
	for i := len(a.swings) - 1; i >= 0 && (len(hi) < 2 || len(lo) < 2); i-- {
		s := a.swings[i]
		if s.Kind == domain.SwingHigh && len(hi) < 2 {
			hi = append(hi, s.High)
		}
		if s.Kind == domain.SwingLow && len(lo) < 2 {
			lo = append(lo, s.Low)
		}
	}
	if len(hi) < 2 || len(lo) < 2 {
		return domain.Neutral
	}
	switch {
	case hi[0] > hi[1] && lo[0] > lo[1]:
		return domain.Long
	case hi[0] < hi[1] && lo[0] < lo[1]:
		return domain.Short
	}
	return domain.Neutral
}

// ---------------------------------------------------------------------------
// Breaks and order blocks
// ---------------------------------------------------------------------------

// detectBreak fires when the close crosses the latest unbroken swing. A break
// in the direction of the established trend (or with no trend yet) is a
// break of structure; the first break against it is a change of character.
func (a *Analyzer) detectBreak(c domain.Candle) []domain.StructureEvent {
	var dir domain.Direction
	var level *swing
	switch {
	case a.lastHigh != nil && !a.lastHigh.broken && c.Close > a.lastHigh.price:
		dir, level = domain.Long, a.lastHigh
	case a.lastLow != nil && !a.lastLow.broken && c.Close < a.lastLow.price:
		dir, level = domain.Short, a.lastLow
	default:
		return nil
	}
	level.broken = true

	kind := domain.BreakOfStructure
	if a.trend == dir.Opposite() {
		kind = domain.ChangeOfCharacter
	}
	a.trend = dir

	lo, hi := level.price, c.Close
	if dir == domain.Short {
		lo, hi = c.Close, level.price
	}
	ev := a.newEvent(kind, lo, hi, level.at, c.Start, domain.StatusUntested, dir)
	ev.Strength = clamp01(math.Abs(c.Close-level.price) / level.price / 0.005)
	a.log.Debug("structure break", "kind", kind, "bias", dir, "level", level.price, "close", c.Close)

	out := []domain.StructureEvent{ev}
	if ob, ok := a.orderBlock(dir); ok {
		out = append(out, ob)
	}
	return out
}

// orderBlock finds the last opposite-direction candle before the displacement
// that produced a break in dir.
func (a *Analyzer) orderBlock(dir domain.Direction) (domain.StructureEvent, bool) {
	n := len(a.candles)
	j := n - 1
	best := 0.0
	for ; j >= 0; j-- {
		c := a.candles[j]
		if (dir == domain.Long && c.Bearish()) || (dir == domain.Short && c.Bullish()) {
			break
		}
		if r := c.Range(); r > 0 {
			best = math.Max(best, c.Body()/r)
		}
	}
	if j < 0 || best < a.cfg.DisplacementBodyRatio {
		return domain.StructureEvent{}, false
	}
	src := a.candles[j]
	for _, z := range a.blocks {
		if z.ev.From.Equal(src.Start) && z.ev.Bias == dir {
			return domain.StructureEvent{}, false
		}
	}

	last := a.candles[n-1]
	ev := a.newEvent(domain.OrderBlock, src.Low, src.High, src.Start, last.Start, domain.StatusUntested, dir)
	ev.Strength = clamp01(best)
	a.blocks = append(a.blocks, &zone{ev: ev})
	if len(a.blocks) > a.cfg.MaxOrderBlocks {
		a.blocks = append(a.blocks[:0], a.blocks[len(a.blocks)-a.cfg.MaxOrderBlocks:]...)
	}
	return ev, true
}

// ---------------------------------------------------------------------------
// Fair value gaps
// ---------------------------------------------------------------------------

func (a *Analyzer) detectGap() []domain.StructureEvent {
	n := len(a.candles)
	if n < 3 {
		return nil
	}
	c1, c2, c3 := a.candles[n-3], a.candles[n-2], a.candles[n-1]
	ref := c2.Close
	if ref <= 0 {
		return nil
	}

	var lo, hi float64
	var bias domain.Direction
	switch {
	case c1.High < c3.Low:
		lo, hi, bias = c1.High, c3.Low, domain.Long
	case c1.Low > c3.High:
		lo, hi, bias = c3.High, c1.Low, domain.Short
	default:
		return nil
	}
	size := (hi - lo) / ref
	if size < a.cfg.MinGapFraction {
		return nil
	}
	ev := a.newEvent(domain.FairValueGap, lo, hi, c1.Start, c3.Start, domain.StatusOpen, bias)
	ev.Strength = clamp01(size / (a.cfg.MinGapFraction * 10))
	a.gaps = append(a.gaps, &zone{ev: ev})
	if len(a.gaps) > a.cfg.MaxEvents {
		a.gaps = append(a.gaps[:0], a.gaps[len(a.gaps)-a.cfg.MaxEvents:]...)
	}
	return []domain.StructureEvent{ev}
}

// ---------------------------------------------------------------------------
// Zone lifecycle
// ---------------------------------------------------------------------------

// updateZones applies candle c to every live zone formed before it.
func (a *Analyzer) updateZones(c domain.Candle) []domain.StructureEvent {
	var out []domain.StructureEvent

	live := a.gaps[:0]
	for _, z := range a.gaps {
		if prev := z.ev.Status; a.fillGap(z, c) && z.ev.Status != prev {
			out = append(out, z.ev)
		}
		if z.ev.Status != domain.StatusFilled {
			live = append(live, z)
		}
	}
	a.gaps = live

	blocks := a.blocks[:0]
	for _, z := range a.blocks {
		if prev := z.ev.Status; a.testBlock(z, c) && z.ev.Status != prev {
			out = append(out, z.ev)
		}
		if z.ev.Status != domain.StatusInvalidated {
			blocks = append(blocks, z)
		}
	}
	a.blocks = blocks
	return out
}

// fillGap marks the gap partially filled when c trades into it and filled
// when c reaches its far edge: the low of a bullish gap or the high of a
// bearish one.
func (a *Analyzer) fillGap(z *zone, c domain.Candle) bool {
	var into, through bool
	if z.ev.Bias == domain.Long {
		into, through = c.Low < z.ev.High, c.Low <= z.ev.Low
	} else {
		into, through = c.High > z.ev.Low, c.High >= z.ev.High
	}
	switch {
	case through:
		z.ev.Status = domain.StatusFilled
	case into:
		z.ev.Status = domain.StatusPartiallyFilled
	default:
		return false
	}
	z.ev.UpdatedAt = c.Start
	return true
}

// testBlock marks a block mitigated when price trades back into it and
// invalidated when a candle closes beyond its far edge.
func (a *Analyzer) testBlock(z *zone, c domain.Candle) bool {
	if !c.Start.After(z.ev.To) {
		return false
	}
	var touched, broken bool
	if z.ev.Bias == domain.Long {
		touched, broken = c.Low <= z.ev.High, c.Close < z.ev.Low
	} else {
		touched, broken = c.High >= z.ev.Low, c.Close > z.ev.High
	}
	switch {
	case broken:
		z.ev.Status = domain.StatusInvalidated
	case touched && z.ev.Status == domain.StatusUntested:
		z.ev.Status = domain.StatusMitigated
	default:
		return false
	}
	z.ev.UpdatedAt = c.Start
	return true
}

func clamp01(x float64) float64 {
	if x < 0 || math.IsNaN(x) {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
