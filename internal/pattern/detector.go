// Package pattern detects candlestick and short chart patterns on a bounded
// trailing window of closed candles. Detection is stateless: every Scan
// recomputes from the window it is given.
package pattern

import (
	"math"
	"sort"

	"tradecore/internal/domain"
)

// Config controls pattern detection.
type Config struct {
	// MinConfidence drops matches below this score.
	MinConfidence float64 `yaml:"min_confidence"`
	// ChartWindow is the number of trailing candles chart patterns read.
	ChartWindow int `yaml:"chart_window"`
}

// DefaultConfig returns the detector defaults.
func DefaultConfig() Config {
	return Config{MinConfidence: 0.6, ChartWindow: 20}
}

// Detector evaluates the trailing window of one pipeline.
type Detector struct {
	cfg Config
}

// NewDetector creates a Detector. A zero ChartWindow disables chart patterns.
func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Window returns how many trailing candles Scan can use.
func (d *Detector) Window() int { return max(3, d.cfg.ChartWindow) }

// Scan returns every pattern matching at the end of window, strongest first.
// window must be in time order; only its tail is read.
func (d *Detector) Scan(window []domain.Candle) []domain.PatternMatch {
	var out []domain.PatternMatch
	for _, p := range candlestickPatterns {
		if len(window) < p.bars {
			continue
		}
		if m, ok := p.fn(window[len(window)-p.bars:]); ok {
			out = append(out, m)
		}
	}
	if d.cfg.ChartWindow > 0 {
		tail := window[max(0, len(window)-d.cfg.ChartWindow):]
		out = append(out, levels(tail)...)
		out = append(out, doubles(tail)...)
		out = append(out, triangles(tail)...)
	}

	kept := out[:0]
	for _, m := range out {
		if m.Confidence >= d.cfg.MinConfidence {
			kept = append(kept, m)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Confidence > kept[j].Confidence })
	return kept
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
