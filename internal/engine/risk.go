package engine

import (
	"fmt"
	"math"

	"tradecore/internal/domain"
)

// SizingMethod selects how a signal is turned into a quantity.
type SizingMethod string

const (
	SizingFixedFractional SizingMethod = "fixed_fractional"
	SizingPercentEquity   SizingMethod = "percent_equity"
	SizingVolatility      SizingMethod = "volatility"
	SizingKelly           SizingMethod = "kelly"
)

// KellyConfig parameterises capped Kelly sizing.
type KellyConfig struct {
	WinRate float64 `yaml:"win_rate"`
	Payoff  float64 `yaml:"payoff"` // average win / average loss
	Scale   float64 `yaml:"scale"`
	Cap     float64 `yaml:"cap"`
}

// RiskConfig holds sizing parameters and hard limits. A limit of zero or
// less disables that check.
type RiskConfig struct {
	Method            SizingMethod `yaml:"sizing_method"`
	RiskPerTrade      float64      `yaml:"risk_per_trade"`
	PercentEquity     float64      `yaml:"percent_equity"`
	VolatilityMult    float64      `yaml:"volatility_multiple"`
	Kelly             KellyConfig  `yaml:"kelly"`
	ScaleByConfidence bool         `yaml:"scale_by_confidence"`
	LotSize           float64      `yaml:"lot_size"` // 0 allows fractional quantities

	MaxPosition    float64 `yaml:"max_position"`
	MaxExposure    float64 `yaml:"max_exposure"`
	MaxDailyLoss   float64 `yaml:"max_daily_loss"`
	MaxDrawdown    float64 `yaml:"max_drawdown"`
	MaxPositions   int     `yaml:"max_positions"`
	MaxDailyTrades int     `yaml:"max_daily_trades"`
}

// DefaultRiskConfig returns the default sizing and limits.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		Method:         SizingFixedFractional,
		RiskPerTrade:   0.01,
		PercentEquity:  0.10,
		VolatilityMult: 2.0,
		Kelly:          KellyConfig{WinRate: 0.6, Payoff: 1.5, Scale: 0.5, Cap: 0.25},
		LotSize:        1,
		MaxPosition:    0.20,
		MaxExposure:    1.00,
		MaxDailyLoss:   0.05,
		MaxDrawdown:    0.15,
		MaxPositions:   10,
		MaxDailyTrades: 100,
	}
}

// RiskManager sizes signals and enforces pre-trade limits. It is stateless
// apart from its configuration; every decision reads the snapshot it is
// given.
type RiskManager struct {
	cfg RiskConfig
}

// NewRiskManager creates a RiskManager. An empty Method means
// fixed-fractional sizing.
func NewRiskManager(cfg RiskConfig) *RiskManager {
	if cfg.Method == "" {
		cfg.Method = SizingFixedFractional
	}
	return &RiskManager{cfg: cfg}
}

// Config returns the manager's configuration.
func (rm *RiskManager) Config() RiskConfig { return rm.cfg }

func reject(limit domain.Limit, method SizingMethod, format string, args ...any) domain.RiskDecision {
	return domain.RiskDecision{Limit: limit, Reason: fmt.Sprintf(format, args...), Method: string(method)}
}

// Evaluate sizes sig against the portfolio and checks limits in order:
// position, exposure, daily_loss, drawdown, positions, daily_trades. The
// first violation rejects. A zero size is itself a rejection.
func (rm *RiskManager) Evaluate(sig domain.Signal, snap domain.PortfolioSnapshot) domain.RiskDecision {
	m := rm.cfg.Method
	equity := snap.Equity
	if equity <= 0 {
		return reject(domain.LimitSize, m, "non-positive equity %.2f", equity)
	}
	dist := sig.RiskDistance()
	if dist <= 0 || sig.Entry <= 0 {
		return reject(domain.LimitSize, m, "no risk distance")
	}

	qty, err := rm.size(sig, equity, dist)
	if err != nil {
		return reject(domain.LimitSize, m, "%v", err)
	}
	if rm.cfg.LotSize > 0 {
		qty = math.Floor(qty/rm.cfg.LotSize) * rm.cfg.LotSize
	}
	if qty <= 0 {
		return reject(domain.LimitSize, m, "computed size is zero")
	}

	notional := qty * sig.Entry
	c := rm.cfg
	switch {
	case c.MaxPosition > 0 && notional/equity > c.MaxPosition:
		return reject(domain.LimitPosition, m, "position %.1f%% of equity exceeds %.1f%%", notional/equity*100, c.MaxPosition*100)
	case c.MaxExposure > 0 && (snap.GrossExposure()+notional)/equity > c.MaxExposure:
		return reject(domain.LimitExposure, m, "exposure %.1f%% would exceed %.1f%%", (snap.GrossExposure()+notional)/equity*100, c.MaxExposure*100)
	case c.MaxDailyLoss > 0 && snap.DailyPnL < 0 && -snap.DailyPnL/equity >= c.MaxDailyLoss:
		return reject(domain.LimitDailyLoss, m, "daily loss %.2f reached limit", -snap.DailyPnL)
	case c.MaxDrawdown > 0 && snap.Drawdown >= c.MaxDrawdown:
		return reject(domain.LimitDrawdown, m, "drawdown %.1f%% reached %.1f%%", snap.Drawdown*100, c.MaxDrawdown*100)
	case c.MaxPositions > 0 && len(snap.Positions) >= c.MaxPositions:
		return reject(domain.LimitPositions, m, "%d open positions", len(snap.Positions))
	case c.MaxDailyTrades > 0 && snap.DailyTrades >= c.MaxDailyTrades:
		return reject(domain.LimitDailyTrades, m, "%d trades today", snap.DailyTrades)
	}

	return domain.RiskDecision{
		Approved:   true,
		Size:       qty,
		RiskAmount: qty * dist,
		Method:     string(m),
	}
}

func (rm *RiskManager) size(sig domain.Signal, equity, dist float64) (float64, error) {
	c := rm.cfg
	scale := 1.0
	if c.ScaleByConfidence {
		scale = sig.Confidence
	}
	switch c.Method {
	case SizingFixedFractional:
		return equity * c.RiskPerTrade * scale / dist, nil
	case SizingPercentEquity:
		return equity * c.PercentEquity * scale / sig.Entry, nil
	case SizingVolatility:
		vol := sig.ATR * c.VolatilityMult
		if vol <= 0 {
			vol = dist
		}
		return equity * c.RiskPerTrade * scale / vol, nil
	case SizingKelly:
		f := KellyFraction(c.Kelly)
		return equity * f * scale / sig.Entry, nil
	}
	return 0, fmt.Errorf("unknown sizing method %q", c.Method)
}

// KellyFraction returns (p·b − (1−p)) / b scaled and capped. Non-positive
// edges yield zero.
func KellyFraction(k KellyConfig) float64 {
	if k.Payoff <= 0 {
		return 0
	}
	f := (k.WinRate*k.Payoff - (1 - k.WinRate)) / k.Payoff
	if k.Scale > 0 {
		f *= k.Scale
	}
	if k.Cap > 0 && f > k.Cap {
		f = k.Cap
	}
	return math.Max(0, f)
}

// State reports the snapshot against the configured limits.
func (rm *RiskManager) State(snap domain.PortfolioSnapshot) domain.RiskState {
	c := rm.cfg
	st := domain.RiskState{
		Equity:         snap.Equity,
		Drawdown:       snap.Drawdown,
		MaxDrawdown:    c.MaxDrawdown,
		DailyPnL:       snap.DailyPnL,
		MaxDailyLoss:   c.MaxDailyLoss * snap.Equity,
		Exposure:       snap.Exposure,
		MaxExposure:    c.MaxExposure,
		OpenPositions:  len(snap.Positions),
		MaxPositions:   c.MaxPositions,
		DailyTrades:    snap.DailyTrades,
		MaxDailyTrades: c.MaxDailyTrades,
		Level:          "low",
	}
	if c.MaxDrawdown > 0 {
		switch r := snap.Drawdown / c.MaxDrawdown; {
		case r >= 0.8:
			st.Level = "critical"
		case r >= 0.6:
			st.Level = "high"
		case r >= 0.3:
			st.Level = "medium"
		}
		st.Halted = snap.Drawdown >= c.MaxDrawdown
	}
	if c.MaxDailyLoss > 0 && snap.Equity > 0 && snap.DailyPnL < 0 && -snap.DailyPnL/snap.Equity >= c.MaxDailyLoss {
		st.Halted = true
	}
	return st
}
