package indicator

import (
	"fmt"
	"sort"

	"tradecore/internal/domain"
)

// Factory builds an indicator instance from its parameters.
type Factory func(p Params) (Indicator, error)

// Registry maps indicator type names to factories. Instances are selected by
// configuration at startup.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a Registry holding every built-in indicator.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, kind := range []string{"sma", "ema", "wma", "hma"} {
		kind := kind
		r.Register(kind, func(p Params) (Indicator, error) {
			return NewMovingAverage(kind, orDefault(p.Period, 20))
		})
	}
	r.Register("ma_cross", func(p Params) (Indicator, error) {
		ma := p.MA
		if ma == "" {
			ma = "sma"
		}
		return NewMACross(ma, orDefault(p.Fast, 10), orDefault(p.Slow, 20))
	})
	r.Register("rsi", func(p Params) (Indicator, error) {
		return NewRSI(orDefault(p.Period, 14), orDefault(p.Overbought, 70), orDefault(p.Oversold, 30))
	})
	r.Register("stochastic", func(p Params) (Indicator, error) {
		return NewStochastic(orDefault(p.Period, 14), orDefault(p.Smooth, 3), orDefault(p.Overbought, 80), orDefault(p.Oversold, 20))
	})
	r.Register("macd", func(p Params) (Indicator, error) {
		return NewMACD(orDefault(p.Fast, 12), orDefault(p.Slow, 26), orDefault(p.Signal, 9))
	})
	r.Register("bollinger", func(p Params) (Indicator, error) {
		return NewBollinger(orDefault(p.Period, 20), orDefault(p.StdDev, 2))
	})
	r.Register("williams_r", func(p Params) (Indicator, error) {
		return NewWilliamsR(orDefault(p.Period, 14), orDefault(p.Overbought, -20), orDefault(p.Oversold, -80))
	})
	r.Register("cci", func(p Params) (Indicator, error) {
		return NewCCI(orDefault(p.Period, 20), orDefault(p.Overbought, 100), orDefault(p.Oversold, -100))
	})
	r.Register("atr", func(p Params) (Indicator, error) {
		return NewATR(orDefault(p.Period, 14))
	})
	return r
}

// Register adds or replaces the factory for kind.
func (r *Registry) Register(kind string, f Factory) {
	r.factories[kind] = f
}

// Build creates one indicator from its parameters.
func (r *Registry) Build(p Params) (Indicator, error) {
	f, ok := r.factories[p.Type]
	if !ok {
		return nil, fmt.Errorf("unknown indicator type %q", p.Type)
	}
	return f(p)
}

// List returns a sorted slice of all registered type names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewEngine builds an Engine holding one instance per parameter set.
func (r *Registry) NewEngine(params []Params) (*Engine, error) {
	e := &Engine{}
	for i, p := range params {
		ind, err := r.Build(p)
		if err != nil {
			return nil, fmt.Errorf("indicator %d: %w", i, err)
		}
		e.indicators = append(e.indicators, ind)
	}
	return e, nil
}

// Engine runs the configured indicators of one pipeline. It is not safe for
// concurrent use; each pipeline owns its own Engine.
type Engine struct {
	indicators []Indicator
}

// NewEngine wraps already-built indicators.
func NewEngine(indicators ...Indicator) *Engine {
	return &Engine{indicators: indicators}
}

// Update feeds one closed candle to every indicator and returns the readings
// that exist. Indicators still warming up contribute nothing.
func (e *Engine) Update(c domain.Candle) []domain.IndicatorReading {
	out := make([]domain.IndicatorReading, 0, len(e.indicators))
	for _, ind := range e.indicators {
		if r, ok := ind.Update(c); ok {
			out = append(out, r)
		}
	}
	return out
}

// Reset clears every indicator, e.g. after a data gap.
func (e *Engine) Reset() {
	for _, ind := range e.indicators {
		ind.Reset()
	}
}

// RequiredHistory returns the longest warm-up among the indicators.
func (e *Engine) RequiredHistory() int {
	n := 0
	for _, ind := range e.indicators {
		n = max(n, ind.RequiredHistory())
	}
	return n
}

// Names lists the configured instances.
func (e *Engine) Names() []string {
	names := make([]string, len(e.indicators))
	for i, ind := range e.indicators {
		names[i] = ind.Name()
	}
	return names
}
