package pattern

import (
	"tradecore/internal/domain"
)

// Geometric thresholds for candlestick patterns.
const (
	dojiBodyRatio        = 0.05
	spinningBodyRatio    = 0.3
	marubozuBodyRatio    = 0.95
	hammerBodyPosition   = 0.6
	hammerShadowRatio    = 2.0
	hammerOppositeRatio  = 0.5
	starBodyRatio        = 0.3 // middle body vs first body
	soldierBodyRatio     = 0.6
	strongBodyRangeRatio = 0.5
)

type candleFn func(cs []domain.Candle) (domain.PatternMatch, bool)

// candlestickPatterns lists detectors by the number of trailing candles they
// read.
var candlestickPatterns = []struct {
	bars int
	fn   candleFn
}{
	{1, doji},
	{1, hammer},
	{1, shootingStar},
	{1, spinningTop},
	{1, marubozu},
	{2, engulfing},
	{2, harami},
	{3, star},
	{3, threeSoldiers},
}

func match(name string, cs []domain.Candle, dir domain.Direction, conf float64) domain.PatternMatch {
	return domain.PatternMatch{
		Name:       name,
		Kind:       "candlestick",
		From:       cs[0].Start,
		To:         cs[len(cs)-1].Start,
		Bars:       len(cs),
		Signal:     dir,
		Confidence: clamp01(conf),
	}
}

func doji(cs []domain.Candle) (domain.PatternMatch, bool) {
	c := cs[0]
	rng := c.Range()
	if rng <= 0 {
		return domain.PatternMatch{}, false
	}
	ratio := c.Body() / rng
	if ratio > dojiBodyRatio {
		return domain.PatternMatch{}, false
	}
	return match("doji", cs, domain.Neutral, 1-ratio/dojiBodyRatio), true
}

func hammer(cs []domain.Candle) (domain.PatternMatch, bool) {
	c := cs[0]
	body, rng := c.Body(), c.Range()
	if body <= 0 || rng <= 0 {
		return domain.PatternMatch{}, false
	}
	position := (min(c.Open, c.Close) - c.Low) / rng
	lower := c.LowerShadow() / body
	upper := c.UpperShadow() / body
	if position < hammerBodyPosition || lower < hammerShadowRatio || upper > hammerOppositeRatio {
		return domain.PatternMatch{}, false
	}
	return match("hammer", cs, domain.Long, lower/(hammerShadowRatio*1.5)), true
}

func shootingStar(cs []domain.Candle) (domain.PatternMatch, bool) {
	c := cs[0]
	body, rng := c.Body(), c.Range()
	if body <= 0 || rng <= 0 {
		return domain.PatternMatch{}, false
	}
	position := (max(c.Open, c.Close) - c.Low) / rng
	upper := c.UpperShadow() / body
	lower := c.LowerShadow() / body
	if position > 1-hammerBodyPosition || upper < hammerShadowRatio || lower > hammerOppositeRatio {
		return domain.PatternMatch{}, false
	}
	return match("shooting_star", cs, domain.Short, upper/(hammerShadowRatio*1.5)), true
}

func spinningTop(cs []domain.Candle) (domain.PatternMatch, bool) {
	c := cs[0]
	body, rng := c.Body(), c.Range()
	if body <= 0 || rng <= 0 {
		return domain.PatternMatch{}, false
	}
	ratio := body / rng
	if ratio <= dojiBodyRatio || ratio > spinningBodyRatio || c.UpperShadow() < body || c.LowerShadow() < body {
		return domain.PatternMatch{}, false
	}
	return match("spinning_top", cs, domain.Neutral, 1-ratio), true
}

func marubozu(cs []domain.Candle) (domain.PatternMatch, bool) {
	c := cs[0]
	rng := c.Range()
	if rng <= 0 {
		return domain.PatternMatch{}, false
	}
	ratio := c.Body() / rng
	if ratio < marubozuBodyRatio {
		return domain.PatternMatch{}, false
	}
	conf := 0.5 + (ratio-marubozuBodyRatio)/(1-marubozuBodyRatio)*0.5
	if c.Bullish() {
		return match("bullish_marubozu", cs, domain.Long, conf), true
	}
	return match("bearish_marubozu", cs, domain.Short, conf), true
}

func engulfing(cs []domain.Candle) (domain.PatternMatch, bool) {
	prev, curr := cs[0], cs[1]
	pb, cb := prev.Body(), curr.Body()
	if pb <= 0 || cb <= pb {
		return domain.PatternMatch{}, false
	}
	conf := cb / pb / 2
	switch {
	case prev.Bearish() && curr.Bullish() && curr.Open <= prev.Close && curr.Close >= prev.Open:
		return match("bullish_engulfing", cs, domain.Long, conf), true
	case prev.Bullish() && curr.Bearish() && curr.Open >= prev.Close && curr.Close <= prev.Open:
		return match("bearish_engulfing", cs, domain.Short, conf), true
	}
	return domain.PatternMatch{}, false
}

func harami(cs []domain.Candle) (domain.PatternMatch, bool) {
	prev, curr := cs[0], cs[1]
	pb, cb := prev.Body(), curr.Body()
	if pb <= 0 || cb <= 0 || cb >= pb {
		return domain.PatternMatch{}, false
	}
	hi, lo := max(prev.Open, prev.Close), min(prev.Open, prev.Close)
	if max(curr.Open, curr.Close) >= hi || min(curr.Open, curr.Close) <= lo {
		return domain.PatternMatch{}, false
	}
	conf := 1 - cb/pb
	switch {
	case prev.Bearish() && curr.Bullish():
		return match("bullish_harami", cs, domain.Long, conf), true
	case prev.Bullish() && curr.Bearish():
		return match("bearish_harami", cs, domain.Short, conf), true
	}
	return domain.PatternMatch{}, false
}

// star detects morning and evening stars: a strong candle, a small middle
// body, and a third candle closing past the first body's midpoint.
func star(cs []domain.Candle) (domain.PatternMatch, bool) {
	a, b, c := cs[0], cs[1], cs[2]
	ab := a.Body()
	if ab <= 0 || a.Range() <= 0 || ab/a.Range() < strongBodyRangeRatio || b.Body() > starBodyRatio*ab {
		return domain.PatternMatch{}, false
	}
	mid := (a.Open + a.Close) / 2
	half := ab / 2
	switch {
	case a.Bearish() && c.Bullish() && c.Close > mid:
		return match("morning_star", cs, domain.Long, 0.5+(c.Close-mid)/half*0.5), true
	case a.Bullish() && c.Bearish() && c.Close < mid:
		return match("evening_star", cs, domain.Short, 0.5+(mid-c.Close)/half*0.5), true
	}
	return domain.PatternMatch{}, false
}

// threeSoldiers detects three white soldiers and three black crows: three
// strong same-direction bodies, each opening inside the previous body and
// closing beyond it.
func threeSoldiers(cs []domain.Candle) (domain.PatternMatch, bool) {
	bull, bear := true, true
	var ratioSum float64
	for i, c := range cs {
		rng := c.Range()
		if rng <= 0 {
			return domain.PatternMatch{}, false
		}
		ratio := c.Body() / rng
		if ratio < soldierBodyRatio {
			return domain.PatternMatch{}, false
		}
		ratioSum += ratio
		bull = bull && c.Bullish()
		bear = bear && c.Bearish()
		if i == 0 {
			continue
		}
		p := cs[i-1]
		lo, hi := min(p.Open, p.Close), max(p.Open, p.Close)
		inside := c.Open >= lo && c.Open <= hi
		bull = bull && inside && c.Close > p.Close
		bear = bear && inside && c.Close < p.Close
	}
	conf := ratioSum / float64(len(cs))
	switch {
	case bull:
		return match("three_white_soldiers", cs, domain.Long, conf), true
	case bear:
		return match("three_black_crows", cs, domain.Short, conf), true
	}
	return domain.PatternMatch{}, false
}
