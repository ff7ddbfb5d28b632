package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"tradecore/internal/domain"
	"tradecore/internal/indicator"
	"tradecore/internal/pattern"
	"tradecore/internal/signal"
	"tradecore/internal/structure"
	"tradecore/internal/util"
)

// PipelineConfig configures the analysis stages of one (symbol, timeframe).
type PipelineConfig struct {
	Indicators []indicator.Params `yaml:"indicators"`
	Patterns   pattern.Config     `yaml:"patterns"`
	Structure  structure.Config   `yaml:"structure"`
	// MaxMissing is how many consecutive candles may be absent before the
	// indicators are reset. Only candles the calendar expects count.
	MaxMissing int `yaml:"max_missing"`
	// Calendar decides which candles are expected. Nil means US equity
	// regular hours.
	Calendar *util.TradingCalendar `yaml:"-"`
}

// DefaultIndicators is the indicator set used when none is configured.
func DefaultIndicators() []indicator.Params {
	return []indicator.Params{
		{Type: "ma_cross", Fast: 10, Slow: 20, MA: "ema"},
		{Type: "rsi", Period: 14},
		{Type: "macd", Fast: 12, Slow: 26, Signal: 9},
		{Type: "bollinger", Period: 20, StdDev: 2},
		{Type: "stochastic", Period: 14, Smooth: 3},
		{Type: "atr", Period: 14},
	}
}

// Result is everything a pipeline produced for one candle.
type Result struct {
	Candle    domain.Candle
	Readings  []domain.IndicatorReading
	Patterns  []domain.PatternMatch
	Events    []domain.StructureEvent
	Signal    domain.Signal
	HasSignal bool
	// Gap is non-nil (wrapping ErrDataGap) when candles were missing before
	// this one and the indicators were rebuilt from scratch.
	Gap error
}

// Pipeline runs indicators, patterns and structure for one (symbol,
// timeframe) and aggregates their outputs. Process must not be called
// concurrently; distinct pipelines share nothing but the aggregator.
type Pipeline struct {
	key        domain.Key
	interval   time.Duration
	maxMissing int
	calendar   *util.TradingCalendar

	indicators *indicator.Engine
	patterns   *pattern.Detector
	structure  *structure.Analyzer
	aggregator *signal.Aggregator

	window []domain.Candle
	last   time.Time
	log    *slog.Logger
}

// NewPipeline builds the analysis stages for key. reg may be nil to use the
// built-in indicator registry.
func NewPipeline(key domain.Key, cfg PipelineConfig, reg *indicator.Registry, agg *signal.Aggregator, log *slog.Logger) (*Pipeline, error) {
	interval, err := key.Timeframe.Duration()
	if err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", key, err)
	}
	if reg == nil {
		reg = indicator.DefaultRegistry()
	}
	params := cfg.Indicators
	if len(params) == 0 {
		params = DefaultIndicators()
	}
	ind, err := reg.NewEngine(params)
	if err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", key, err)
	}
	if cfg.Patterns == (pattern.Config{}) {
		cfg.Patterns = pattern.DefaultConfig()
	}
	if cfg.MaxMissing < 0 {
		cfg.MaxMissing = 0
	}
	if cfg.Calendar == nil {
		cfg.Calendar = util.NewTradingCalendar()
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("symbol", key.Symbol, "timeframe", key.Timeframe)
	return &Pipeline{
		key:        key,
		interval:   interval,
		maxMissing: cfg.MaxMissing,
		calendar:   cfg.Calendar,
		indicators: ind,
		patterns:   pattern.NewDetector(cfg.Patterns),
		structure:  structure.NewAnalyzer(cfg.Structure, log.With("component", "structure")),
		aggregator: agg,
		log:        log.With("component", "pipeline"),
	}, nil
}

// Key returns the pipeline's (symbol, timeframe).
func (p *Pipeline) Key() domain.Key { return p.key }

// Last returns the start of the last processed candle.
func (p *Pipeline) Last() time.Time { return p.last }

// Structure exposes the analyzer for read-only inspection.
func (p *Pipeline) Structure() *structure.Analyzer { return p.structure }

// Process folds one closed candle into the pipeline. Candles not strictly
// after the previous one are rejected with ErrOutOfOrder and change nothing.
// An internally inconsistent signal is dropped and reported with
// ErrInvalidSignal alongside the rest of the result.
func (p *Pipeline) Process(ctx context.Context, c domain.Candle) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if c.Symbol != p.key.Symbol || (c.Timeframe != "" && c.Timeframe != p.key.Timeframe) {
		return Result{}, fmt.Errorf("pipeline %s: candle for %s/%s", p.key, c.Symbol, c.Timeframe)
	}
	if c.Timeframe == "" {
		c.Timeframe = p.key.Timeframe
	}
	if !p.last.IsZero() && !c.Start.After(p.last) {
		return Result{}, fmt.Errorf("%w: %s candle %s not after %s",
			domain.ErrOutOfOrder, p.key, c.Start.Format(time.RFC3339), p.last.Format(time.RFC3339))
	}

	res := Result{Candle: c}
	if !p.last.IsZero() {
		if missing := p.calendar.ExpectedBars(p.last, c.Start, p.interval); missing > p.maxMissing {
			res.Gap = fmt.Errorf("%w: %s missing %d candles before %s",
				domain.ErrDataGap, p.key, missing, c.Start.Format(time.RFC3339))
			p.indicators.Reset()
			p.window = p.window[:0]
			p.log.Info("data gap, indicators reset", "missing", missing, "at", c.Start)
		}
	}
	p.last = c.Start

	p.window = append(p.window, c)
	if n := p.patterns.Window(); len(p.window) > n {
		p.window = append(p.window[:0], p.window[len(p.window)-n:]...)
	}
	window := p.window

	// Each stage writes only its own state and result slot.
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		res.Readings = p.indicators.Update(c)
		return nil
	})
	g.Go(func() error {
		res.Patterns = p.patterns.Scan(window)
		return nil
	})
	g.Go(func() error {
		res.Events = p.structure.Update(c)
		return nil
	})
	if err := g.Wait(); err != nil {
		return res, err
	}

	if p.aggregator == nil {
		return res, nil
	}
	sig, ok, err := p.aggregator.Aggregate(signal.Input{
		Candle:   c,
		Readings: res.Readings,
		Patterns: res.Patterns,
		Events:   res.Events,
		Active:   p.structure.Active(),
		Swings:   p.structure.Swings(),
		Trend:    p.structure.Trend(),
	})
	if err != nil {
		p.log.Error("invalid signal dropped", "error", err)
		return res, err
	}
	if ok {
		res.Signal, res.HasSignal = sig, true
		p.log.Info("signal", "id", sig.ID, "direction", sig.Direction, "entry", sig.Entry,
			"stop", sig.StopLoss, "target", sig.TakeProfit, "confidence", sig.Confidence)
	}
	return res, nil
}
