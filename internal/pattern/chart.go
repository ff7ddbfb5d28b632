package pattern

import (
	"math"

	"tradecore/internal/domain"
)

const (
	levelTolerance   = 0.002 // touch distance as a fraction of the level
	levelMinTouches  = 2
	levelFullTouches = 5
	doubleTolerance  = 0.005 // max distance between the two extremes
	doubleMinDepth   = 0.015 // neckline distance from the extremes
	doubleMinSpacing = 3
	flatSlope        = 0.001 // per-bar slope as a fraction of price
)

func chartMatch(name string, cs []domain.Candle, dir domain.Direction, conf float64) domain.PatternMatch {
	m := match(name, cs, dir, conf)
	m.Kind = "chart"
	return m
}

// levels detects a bounce off the window's support or a rejection at its
// resistance on the latest candle. Confidence grows with the number of
// earlier touches.
func levels(cs []domain.Candle) []domain.PatternMatch {
	if len(cs) < levelMinTouches+2 {
		return nil
	}
	hist, last := cs[:len(cs)-1], cs[len(cs)-1]
	support, resistance := math.Inf(1), math.Inf(-1)
	for _, c := range hist {
		support = math.Min(support, c.Low)
		resistance = math.Max(resistance, c.High)
	}

	var out []domain.PatternMatch
	if touches := countTouches(hist, support, true); touches >= levelMinTouches &&
		near(last.Low, support) && last.Close > support && last.Bullish() {
		out = append(out, chartMatch("support_bounce", cs, domain.Long, float64(touches)/levelFullTouches))
	}
	if touches := countTouches(hist, resistance, false); touches >= levelMinTouches &&
		near(last.High, resistance) && last.Close < resistance && last.Bearish() {
		out = append(out, chartMatch("resistance_rejection", cs, domain.Short, float64(touches)/levelFullTouches))
	}
	return out
}

func near(price, level float64) bool {
	return level > 0 && math.Abs(price-level)/level <= levelTolerance
}

func countTouches(cs []domain.Candle, level float64, low bool) int {
	n := 0
	for _, c := range cs {
		p := c.High
		if low {
			p = c.Low
		}
		if near(p, level) {
			n++
		}
	}
	return n
}

// doubles detects double bottoms and double tops that the latest candle
// confirms by closing through the neckline.
func doubles(cs []domain.Candle) []domain.PatternMatch {
	if len(cs) < doubleMinSpacing+3 {
		return nil
	}
	hist, last := cs[:len(cs)-1], cs[len(cs)-1]
	var out []domain.PatternMatch

	// Double bottom: the two lowest pivots, a neckline between them.
	if i, j, ok := twoExtremes(hist, true); ok {
		a, b := hist[i].Low, hist[j].Low
		neck := math.Inf(-1)
		for _, c := range hist[i+1 : j] {
			neck = math.Max(neck, c.High)
		}
		base := math.Max(a, b)
		diff := math.Abs(a-b) / base
		if diff <= doubleTolerance && (neck-base)/base >= doubleMinDepth && last.Close > neck {
			out = append(out, chartMatch("double_bottom", cs[i:], domain.Long, 1-diff/doubleTolerance*0.5))
		}
	}
	if i, j, ok := twoExtremes(hist, false); ok {
		a, b := hist[i].High, hist[j].High
		neck := math.Inf(1)
		for _, c := range hist[i+1 : j] {
			neck = math.Min(neck, c.Low)
		}
		top := math.Min(a, b)
		diff := math.Abs(a-b) / top
		if diff <= doubleTolerance && (top-neck)/top >= doubleMinDepth && last.Close < neck {
			out = append(out, chartMatch("double_top", cs[i:], domain.Short, 1-diff/doubleTolerance*0.5))
		}
	}
	return out
}

// twoExtremes returns the indices of the two most extreme local pivots
// (lows when low is set) at least doubleMinSpacing bars apart, i < j.
func twoExtremes(cs []domain.Candle, low bool) (int, int, bool) {
	val := func(i int) float64 {
		if low {
			return cs[i].Low
		}
		return -cs[i].High
	}
	var pivots []int
	for i := 1; i < len(cs)-1; i++ {
		if val(i) <= val(i-1) && val(i) <= val(i+1) {
			pivots = append(pivots, i)
		}
	}
	best, second := -1, -1
	for _, p := range pivots {
		if best < 0 || val(p) < val(best) {
			best = p
		}
	}
	if best < 0 {
		return 0, 0, false
	}
	for _, p := range pivots {
		if p == best || absInt(p-best) < doubleMinSpacing {
			continue
		}
		if second < 0 || val(p) < val(second) {
			second = p
		}
	}
	if second < 0 {
		return 0, 0, false
	}
	return min(best, second), max(best, second), true
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// triangles fits least-squares lines through highs and lows over the window.
// Flat highs with rising lows is ascending (long); falling highs with flat
// lows is descending (short). Confidence is the mean R² of the two fits.
func triangles(cs []domain.Candle) []domain.PatternMatch {
	if len(cs) < 8 {
		return nil
	}
	highs := make([]float64, len(cs))
	lows := make([]float64, len(cs))
	var mean float64
	for i, c := range cs {
		highs[i], lows[i] = c.High, c.Low
		mean += c.Close
	}
	mean /= float64(len(cs))
	if mean <= 0 {
		return nil
	}
	hs, hr2 := regress(highs)
	ls, lr2 := regress(lows)
	hs, ls = hs/mean, ls/mean

	flatH, flatL := math.Abs(hs) < flatSlope, math.Abs(ls) < flatSlope
	conf := (hr2 + lr2) / 2
	switch {
	case flatH && ls > flatSlope:
		return []domain.PatternMatch{chartMatch("ascending_triangle", cs, domain.Long, math.Max(conf, lr2))}
	case flatL && hs < -flatSlope:
		return []domain.PatternMatch{chartMatch("descending_triangle", cs, domain.Short, math.Max(conf, hr2))}
	}
	return nil
}

// regress returns the slope per index and R² of y over 0..n-1.
func regress(y []float64) (slope, r2 float64) {
	n := float64(len(y))
	var sx, sy, sxx, sxy, syy float64
	for i, v := range y {
		x := float64(i)
		sx += x
		sy += v
		sxx += x * x
		sxy += x * v
		syy += v * v
	}
	den := n*sxx - sx*sx
	if den == 0 {
		return 0, 0
	}
	slope = (n*sxy - sx*sy) / den
	vy := n*syy - sy*sy
	if vy <= 0 {
		return slope, 1
	}
	cov := n*sxy - sx*sy
	return slope, cov * cov / (den * vy)
}
