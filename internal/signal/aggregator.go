// Package signal combines indicator readings, pattern matches and structure
// events into directional trade signals with structural stops and targets.
package signal

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"tradecore/internal/domain"
	"tradecore/internal/util"
)

// Weights scale each contribution's confidence before voting.
type Weights struct {
	Indicator    float64 `yaml:"indicator"`
	Pattern      float64 `yaml:"pattern"`
	Structure    float64 `yaml:"structure"`
	Break        float64 `yaml:"break"`
	OrderBlock   float64 `yaml:"order_block"`
	FairValueGap float64 `yaml:"fair_value_gap"`
	Swing        float64 `yaml:"swing"`
}

// Config controls aggregation.
type Config struct {
	Confluence          int            `yaml:"confluence"`
	MinConfidence       float64        `yaml:"min_confidence"`
	StructureSufficient bool           `yaml:"structure_sufficient"`
	Weights             Weights        `yaml:"weights"`
	ATRStopMultiple     float64        `yaml:"atr_stop_multiple"`
	ATRBuffer           float64        `yaml:"atr_buffer"`
	RewardRisk          float64        `yaml:"reward_risk"`
	KillZoneFilter      bool           `yaml:"kill_zone_filter"`
	KillZones           []util.Session `yaml:"kill_zones"`
}

// DefaultConfig returns the aggregator defaults.
func DefaultConfig() Config {
	return Config{
		Confluence: 2,
		Weights: Weights{
			Indicator: 1.0, Pattern: 1.5, Structure: 2.5,
			Break: 3.0, OrderBlock: 2.5, FairValueGap: 2.0, Swing: 1.0,
		},
		ATRStopMultiple: 1.5,
		ATRBuffer:       0.25,
		RewardRisk:      2.0,
		KillZones:       util.DefaultSessions(),
	}
}

// Exposure is the read-only view of open positions and working orders used
// to suppress duplicate signals.
type Exposure interface {
	HasPosition(symbol string, side domain.Direction) bool
	HasWorkingOrder(symbol string, side domain.Direction) bool
}

// Input is everything one pipeline produced for a closed candle.
type Input struct {
	Candle   domain.Candle
	Readings []domain.IndicatorReading
	Patterns []domain.PatternMatch
	Events   []domain.StructureEvent // emitted on this candle
	Active   []domain.StructureEvent // live order blocks and gaps
	Swings   []domain.StructureEvent // confirmed swings, oldest first
	Trend    domain.Direction
}

// Aggregator turns an Input into at most one Signal. It holds no per-symbol
// state and may be shared by pipelines.
type Aggregator struct {
	cfg      Config
	calendar *util.SessionCalendar
	exposure Exposure
	log      *slog.Logger
}

// NewAggregator creates an Aggregator. exposure may be nil.
func NewAggregator(cfg Config, exposure Exposure, log *slog.Logger) (*Aggregator, error) {
	def := DefaultConfig()
	if cfg.Confluence <= 0 {
		cfg.Confluence = def.Confluence
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = def.Weights
	}
	if cfg.ATRStopMultiple <= 0 {
		cfg.ATRStopMultiple = def.ATRStopMultiple
	}
	if cfg.RewardRisk <= 0 {
		cfg.RewardRisk = def.RewardRisk
	}
	if cfg.KillZones == nil {
		cfg.KillZones = def.KillZones
	}
	cal, err := util.NewSessionCalendar(cfg.KillZones)
	if err != nil {
		return nil, fmt.Errorf("kill zones: %w", err)
	}
	if log == nil {
		log = slog.Default().With("component", "signal")
	}
	return &Aggregator{cfg: cfg, calendar: cal, exposure: exposure, log: log}, nil
}

// Aggregate returns a signal when enough sources agree. The error is
// non-nil only for an internally inconsistent signal (ErrInvalidSignal).
func (a *Aggregator) Aggregate(in Input) (domain.Signal, bool, error) {
	contribs, atr := a.contributions(in)
	dir, ok := a.decide(contribs, in.Trend)
	if !ok {
		return domain.Signal{}, false, nil
	}

	c := in.Candle
	zone, inZone := a.calendar.Active(c.Start)
	if a.cfg.KillZoneFilter && !inZone {
		a.log.Debug("signal outside kill zones", "symbol", c.Symbol, "direction", dir)
		return domain.Signal{}, false, nil
	}
	if a.exposure != nil && (a.exposure.HasPosition(c.Symbol, dir) || a.exposure.HasWorkingOrder(c.Symbol, dir)) {
		a.log.Debug("signal suppressed by open exposure", "symbol", c.Symbol, "direction", dir)
		return domain.Signal{}, false, nil
	}

	var agree []domain.Contribution
	var wSum, wcSum, oppose float64
	for _, k := range contribs {
		switch k.Direction {
		case dir:
			agree = append(agree, k)
			wSum += k.Weight
			wcSum += k.Weight * k.Confidence
		case dir.Opposite():
			oppose += k.Weight * k.Confidence
		}
	}
	conf := 0.0
	if wSum > 0 {
		conf = wcSum / wSum * (wcSum / (wcSum + oppose))
	}
	if conf < a.cfg.MinConfidence {
		return domain.Signal{}, false, nil
	}

	stop, source, ok := a.stop(dir, c.Close, atr, in)
	if !ok {
		a.log.Debug("no stop level available", "symbol", c.Symbol, "direction", dir)
		return domain.Signal{}, false, nil
	}
	sig := domain.Signal{
		ID:            uuid.NewString(),
		Symbol:        c.Symbol,
		Timeframe:     c.Timeframe,
		Direction:     dir,
		Entry:         c.Close,
		StopLoss:      stop,
		Confidence:    conf,
		ATR:           atr,
		StopSource:    source,
		KillZone:      zone,
		Contributions: agree,
		CreatedAt:     c.Start,
	}
	sig.TakeProfit = a.target(dir, sig.Entry, sig.RiskDistance(), in.Swings)

	if err := sig.Validate(); err != nil {
		return domain.Signal{}, false, err
	}
	return sig, true, nil
}

// contributions collects every directional input with its weight and
// returns the latest ATR value.
func (a *Aggregator) contributions(in Input) ([]domain.Contribution, float64) {
	w := a.cfg.Weights
	var out []domain.Contribution
	var atr float64
	for _, r := range in.Readings {
		if r.Kind == "atr" {
			atr = r.Value()
			continue
		}
		if r.Signal == domain.Neutral || r.Signal == "" {
			continue
		}
		out = append(out, domain.Contribution{
			Source: domain.SourceIndicator, Name: r.Name,
			Direction: r.Signal, Confidence: r.Confidence, Weight: w.Indicator,
		})
	}
	for _, p := range in.Patterns {
		if p.Signal == domain.Neutral || p.Signal == "" {
			continue
		}
		out = append(out, domain.Contribution{
			Source: domain.SourcePattern, Name: p.Name,
			Direction: p.Signal, Confidence: p.Confidence, Weight: w.Pattern,
		})
	}
	for _, e := range in.Events {
		if !e.Active() || e.Bias == domain.Neutral {
			continue
		}
		conf := e.Strength
		if conf == 0 {
			conf = 0.5
		}
		name := string(e.Kind)
		if e.Status == domain.StatusMitigated || e.Status == domain.StatusPartiallyFilled {
			name += ":" + string(e.Status)
		}
		out = append(out, domain.Contribution{
			Source: domain.SourceStructure, Name: name,
			Direction: e.Bias, Confidence: conf, Weight: a.structureWeight(e.Kind),
		})
	}
	return out, atr
}

func (a *Aggregator) structureWeight(kind domain.StructureKind) float64 {
	w := a.cfg.Weights
	var v float64
	switch kind {
	case domain.BreakOfStructure, domain.ChangeOfCharacter:
		v = w.Break
	case domain.OrderBlock:
		v = w.OrderBlock
	case domain.FairValueGap:
		v = w.FairValueGap
	case domain.SwingHigh, domain.SwingLow:
		v = w.Swing
	}
	if v == 0 {
		v = w.Structure
	}
	return v
}

// decide picks the direction most sources agree on. Each source votes for
// the direction with the larger weighted confidence; a tied source abstains.
func (a *Aggregator) decide(contribs []domain.Contribution, trend domain.Direction) (domain.Direction, bool) {
	type tally struct{ long, short float64 }
	bySource := map[domain.Source]*tally{}
	for _, k := range contribs {
		t := bySource[k.Source]
		if t == nil {
			t = &tally{}
			bySource[k.Source] = t
		}
		switch k.Direction {
		case domain.Long:
			t.long += k.Weight * k.Confidence
		case domain.Short:
			t.short += k.Weight * k.Confidence
		}
	}

	var nLong, nShort int
	var vLong, vShort float64
	for _, t := range bySource {
		vLong += t.long
		vShort += t.short
		switch {
		case t.long > t.short:
			nLong++
		case t.short > t.long:
			nShort++
		}
	}

	var dir domain.Direction
	switch {
	case nLong > nShort, nLong == nShort && vLong > vShort:
		dir = domain.Long
	case nShort > nLong, nLong == nShort && vShort > vLong:
		dir = domain.Short
	default:
		return domain.Neutral, false
	}

	n := nLong
	if dir == domain.Short {
		n = nShort
	}
	if n >= a.cfg.Confluence {
		return dir, true
	}
	if a.cfg.StructureSufficient && a.freshBlock(contribs, dir, trend) {
		return dir, true
	}
	return domain.Neutral, false
}

// freshBlock reports an untested order block formed on this candle in the
// trend direction.
func (a *Aggregator) freshBlock(contribs []domain.Contribution, dir, trend domain.Direction) bool {
	if dir != trend {
		return false
	}
	for _, k := range contribs {
		if k.Source == domain.SourceStructure && k.Name == string(domain.OrderBlock) && k.Direction == dir {
			return true
		}
	}
	return false
}

// stop places the stop beyond the nearest invalidating structural level,
// falling back to a multiple of ATR.
func (a *Aggregator) stop(dir domain.Direction, entry, atr float64, in Input) (float64, string, bool) {
	level, source := math.NaN(), ""
	consider := func(p float64, name string) {
		if dir == domain.Long && p < entry && (math.IsNaN(level) || p > level) {
			level, source = p, name
		}
		if dir == domain.Short && p > entry && (math.IsNaN(level) || p < level) {
			level, source = p, name
		}
	}
	for _, z := range in.Active {
		if !z.Active() || z.Bias != dir {
			continue
		}
		if dir == domain.Long {
			consider(z.Low, string(z.Kind))
		} else {
			consider(z.High, string(z.Kind))
		}
	}
	for _, s := range in.Swings {
		if dir == domain.Long && s.Kind == domain.SwingLow {
			consider(s.Low, string(s.Kind))
		}
		if dir == domain.Short && s.Kind == domain.SwingHigh {
			consider(s.High, string(s.Kind))
		}
	}

	if !math.IsNaN(level) {
		buf := a.cfg.ATRBuffer * atr
		if buf == 0 {
			buf = level * 0.001
		}
		return level - dir.Sign()*buf, source, true
	}
	if atr <= 0 {
		return 0, "", false
	}
	return entry - dir.Sign()*a.cfg.ATRStopMultiple*atr, "atr", true
}

// target returns reward_risk × risk beyond entry, or the nearest opposing
// swing when it offers at least that much.
func (a *Aggregator) target(dir domain.Direction, entry, risk float64, swings []domain.StructureEvent) float64 {
	want := entry + dir.Sign()*a.cfg.RewardRisk*risk
	best := math.NaN()
	for _, s := range swings {
		var p float64
		switch {
		case dir == domain.Long && s.Kind == domain.SwingHigh:
			p = s.High
		case dir == domain.Short && s.Kind == domain.SwingLow:
			p = s.Low
		default:
			continue
		}
		if (p-entry)*dir.Sign() < a.cfg.RewardRisk*risk {
			continue
		}
		if math.IsNaN(best) || math.Abs(p-entry) < math.Abs(best-entry) {
			best = p
		}
	}
	if math.IsNaN(best) {
		return want
	}
	return best
}
