// Package domain holds the data model shared by every stage of the trading
// core: candles, analysis outputs, signals, risk decisions, orders, fills and
// portfolio state.
package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Timeframe is a candle interval such as "1m", "15m", "1h" or "1d".
type Timeframe string

// Common timeframes.
const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// Duration parses the timeframe into a time.Duration. Supported units are
// m (minutes), h (hours) and d (days).
func (tf Timeframe) Duration() (time.Duration, error) {
	s := string(tf)
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid timeframe %q", s)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q", s)
	}
	switch strings.ToLower(s[len(s)-1:]) {
	case "m":
		return time.Duration(n) * time.Minute, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	case "d":
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("invalid timeframe %q", s)
}

// Candle is one OHLCV interval. A closed candle is immutable.
type Candle struct {
	Symbol    string
	Timeframe Timeframe
	Start     time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Closed    bool
}

// Body returns the absolute distance between open and close.
func (c Candle) Body() float64 {
	if c.Close > c.Open {
		return c.Close - c.Open
	}
	return c.Open - c.Close
}

// Range returns high minus low.
func (c Candle) Range() float64 { return c.High - c.Low }

// Bullish reports whether the candle closed above its open.
func (c Candle) Bullish() bool { return c.Close > c.Open }

// Bearish reports whether the candle closed below its open.
func (c Candle) Bearish() bool { return c.Close < c.Open }

// UpperShadow returns the wick above the body.
func (c Candle) UpperShadow() float64 { return c.High - max(c.Open, c.Close) }

// LowerShadow returns the wick below the body.
func (c Candle) LowerShadow() float64 { return min(c.Open, c.Close) - c.Low }

// Key identifies a pipeline: one symbol on one timeframe.
type Key struct {
	Symbol    string
	Timeframe Timeframe
}

func (k Key) String() string { return k.Symbol + "/" + string(k.Timeframe) }

// ---------------------------------------------------------------------------
// Direction
// ---------------------------------------------------------------------------

// Direction is the directional bias of a reading, pattern, event, signal or
// position side.
type Direction string

const (
	Long    Direction = "long"
	Short   Direction = "short"
	Neutral Direction = "neutral"
)

// Opposite returns the opposing direction. Neutral is its own opposite.
func (d Direction) Opposite() Direction {
	switch d {
	case Long:
		return Short
	case Short:
		return Long
	}
	return Neutral
}

// Sign returns +1 for long, -1 for short and 0 for neutral.
func (d Direction) Sign() float64 {
	switch d {
	case Long:
		return 1
	case Short:
		return -1
	}
	return 0
}

// ---------------------------------------------------------------------------
// Analysis outputs
// ---------------------------------------------------------------------------

// IndicatorReading is one indicator instance's output for one closed candle.
// Values holds the scalar (len 1) or vector output, e.g. MACD line, signal
// and histogram.
type IndicatorReading struct {
	Name       string // e.g. "rsi(14)"
	Kind       string // registry type, e.g. "rsi"
	Values     []float64
	Signal     Direction
	Confidence float64
	Timestamp  time.Time
}

// Value returns the primary value of the reading.
func (r IndicatorReading) Value() float64 {
	if len(r.Values) == 0 {
		return 0
	}
	return r.Values[0]
}

// PatternMatch is a candlestick or chart pattern found on the trailing window.
type PatternMatch struct {
	Name       string
	Kind       string // "candlestick" or "chart"
	From       time.Time
	To         time.Time
	Bars       int
	Signal     Direction
	Confidence float64
}

// StructureKind enumerates market-structure events.
type StructureKind string

const (
	SwingHigh         StructureKind = "swing_high"
	SwingLow          StructureKind = "swing_low"
	BreakOfStructure  StructureKind = "break_of_structure"
	ChangeOfCharacter StructureKind = "change_of_character"
	OrderBlock        StructureKind = "order_block"
	FairValueGap      StructureKind = "fair_value_gap"
)

// ZoneStatus is the validity of a structure event. Order blocks move through
// untested → mitigated → invalidated; fair value gaps through open →
// partially_filled → filled. Swings and breaks are informational and stay
// untested.
type ZoneStatus string

const (
	StatusUntested        ZoneStatus = "untested"
	StatusMitigated       ZoneStatus = "mitigated"
	StatusInvalidated     ZoneStatus = "invalidated"
	StatusOpen            ZoneStatus = "open"
	StatusPartiallyFilled ZoneStatus = "partially_filled"
	StatusFilled          ZoneStatus = "filled"
)

// StructureEvent is one swing, break, order block or fair value gap.
type StructureEvent struct {
	ID        int64
	Kind      StructureKind
	Low       float64 // price range covered by the event
	High      float64
	From      time.Time // formation candle range
	To        time.Time
	Status    ZoneStatus
	Bias      Direction
	Label     string  // HH/HL/LH/LL for swings
	Strength  float64 // 0..1
	UpdatedAt time.Time
}

// Active reports whether the zone can still act as support/resistance.
func (e StructureEvent) Active() bool {
	switch e.Status {
	case StatusInvalidated, StatusFilled:
		return false
	}
	return true
}

// ---------------------------------------------------------------------------
// Signals and risk
// ---------------------------------------------------------------------------

// Source identifies which analysis stage a contribution came from.
type Source string

const (
	SourceIndicator Source = "indicator"
	SourcePattern   Source = "pattern"
	SourceStructure Source = "structure"
)

// Contribution is one reading, pattern or structure event counted toward a
// signal.
type Contribution struct {
	Source     Source
	Name       string
	Direction  Direction
	Confidence float64
	Weight     float64
}

// Signal is an aggregated directional trade proposal.
type Signal struct {
	ID            string
	Symbol        string
	Timeframe     Timeframe
	Direction     Direction
	Entry         float64
	StopLoss      float64
	TakeProfit    float64
	Confidence    float64
	ATR           float64 // latest volatility reading, 0 when unavailable
	StopSource    string  // structural level or "atr"
	KillZone      string
	Contributions []Contribution
	CreatedAt     time.Time
}

// Validate checks the stop/target geometry. A long signal needs
// stop < entry < target, a short one target < entry < stop.
func (s Signal) Validate() error {
	if s.Entry <= 0 {
		return fmt.Errorf("%w: entry %v not positive", ErrInvalidSignal, s.Entry)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalidSignal, s.Confidence)
	}
	switch s.Direction {
	case Long:
		if !(s.StopLoss < s.Entry && s.TakeProfit > s.Entry) {
			return fmt.Errorf("%w: long stop %v / target %v around entry %v", ErrInvalidSignal, s.StopLoss, s.TakeProfit, s.Entry)
		}
	case Short:
		if !(s.StopLoss > s.Entry && s.TakeProfit < s.Entry) {
			return fmt.Errorf("%w: short stop %v / target %v around entry %v", ErrInvalidSignal, s.StopLoss, s.TakeProfit, s.Entry)
		}
	default:
		return fmt.Errorf("%w: direction %q", ErrInvalidSignal, s.Direction)
	}
	return nil
}

// RiskDistance returns |entry - stop|.
func (s Signal) RiskDistance() float64 {
	d := s.Entry - s.StopLoss
	if d < 0 {
		return -d
	}
	return d
}

// Limit names a hard risk limit.
type Limit string

const (
	LimitNone        Limit = ""
	LimitSize        Limit = "size"
	LimitPosition    Limit = "position"
	LimitExposure    Limit = "exposure"
	LimitDailyLoss   Limit = "daily_loss"
	LimitDrawdown    Limit = "drawdown"
	LimitPositions   Limit = "positions"
	LimitDailyTrades Limit = "daily_trades"
)

// RiskDecision is the RiskManager's verdict on a signal.
type RiskDecision struct {
	Approved   bool
	Reason     string
	Limit      Limit
	Size       float64 // units
	RiskAmount float64 // currency
	Method     string
}

// Err returns nil for an approved decision and a *RejectionError otherwise.
func (d RiskDecision) Err() error {
	if d.Approved {
		return nil
	}
	return &RejectionError{Limit: d.Limit, Reason: d.Reason}
}

// RiskState is the current position of the portfolio against its limits.
type RiskState struct {
	Equity         float64
	Drawdown       float64
	MaxDrawdown    float64
	DailyPnL       float64
	MaxDailyLoss   float64 // currency
	Exposure       float64
	MaxExposure    float64
	OpenPositions  int
	MaxPositions   int
	DailyTrades    int
	MaxDailyTrades int
	Level          string // low, medium, high, critical
	Halted         bool   // drawdown or daily loss limit reached
}

// ---------------------------------------------------------------------------
// Orders and fills
// ---------------------------------------------------------------------------

// OrderSide is the side sent to the venue.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType is the order's execution style.
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// TimeInForce controls how long an order rests at the venue.
type TimeInForce string

const (
	TimeInForceDay TimeInForce = "day"
	TimeInForceGTC TimeInForce = "gtc"
	TimeInForceIOC TimeInForce = "ioc"
)

// OrderStatus is a state in the order lifecycle.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusSubmitted       OrderStatus = "submitted"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusExpired         OrderStatus = "expired"
)

// Terminal reports whether no further transitions (other than late fills)
// are possible.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusRejected, OrderStatusCancelled, OrderStatusExpired:
		return true
	}
	return false
}

// Working reports whether the order still occupies the venue.
func (s OrderStatus) Working() bool {
	switch s {
	case OrderStatusPending, OrderStatusSubmitted, OrderStatusPartiallyFilled:
		return true
	}
	return false
}

// Effect says whether an order opens/increases or reduces a position.
type Effect string

const (
	EffectOpen  Effect = "open"
	EffectClose Effect = "close"
)

// Order is a request sent to the execution venue.
type Order struct {
	ID             string
	VenueID        string
	Symbol         string
	Side           OrderSide
	PositionSide   Direction
	Effect         Effect
	Type           OrderType
	TimeInForce    TimeInForce
	Qty            float64
	LimitPrice     float64
	StopPrice      float64
	Status         OrderStatus
	FilledQty      float64
	FilledAvgPrice float64
	SignalID       string
	Reason         string // rejection or cancellation reason
	Reconcile      bool   // flagged for external reconciliation
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Remaining returns the unfilled quantity.
func (o Order) Remaining() float64 { return o.Qty - o.FilledQty }

// SideFor returns the venue side that moves a position of the given side in
// the given direction.
func SideFor(pos Direction, effect Effect) OrderSide {
	opening := effect == EffectOpen
	if (pos == Long) == opening {
		return OrderSideBuy
	}
	return OrderSideSell
}

// Fill is one execution against an order. ID is unique per execution and is
// the idempotency key.
type Fill struct {
	ID           string
	OrderID      string
	VenueOrderID string
	Symbol       string
	Side         OrderSide
	PositionSide Direction
	Effect       Effect
	Qty          float64
	Price        float64
	Commission   float64
	Timestamp    time.Time
}

// ---------------------------------------------------------------------------
// Portfolio
// ---------------------------------------------------------------------------

// Position is an open exposure on one (symbol, side).
type Position struct {
	Symbol        string
	Side          Direction
	Qty           float64
	EntryPrice    float64 // volume-weighted
	MarkPrice     float64
	UnrealizedPnL float64
	RealizedPnL   float64
	OpenedAt      time.Time
	UpdatedAt     time.Time
}

// MarketValue returns |qty × mark|.
func (p Position) MarketValue() float64 {
	mark := p.MarkPrice
	if mark == 0 {
		mark = p.EntryPrice
	}
	return p.Qty * mark
}

// DailySnapshot is the end-of-day record kept in portfolio history.
type DailySnapshot struct {
	Date        string // YYYY-MM-DD, UTC
	Equity      float64
	Cash        float64
	RealizedPnL float64
	DailyPnL    float64
	Drawdown    float64
	Trades      int
}

// PortfolioSnapshot is a consistent read of the ledger.
type PortfolioSnapshot struct {
	Cash          float64
	Equity        float64
	RealizedPnL   float64
	UnrealizedPnL float64
	HighWater     float64
	Drawdown      float64 // fraction of high-water equity
	Exposure      float64 // gross market value / equity
	DailyPnL      float64 // realized today
	DailyTrades   int
	Positions     []Position
	History       []DailySnapshot
	Timestamp     time.Time
}

// Position returns the open position for (symbol, side), if any.
func (s PortfolioSnapshot) Position(symbol string, side Direction) (Position, bool) {
	for _, p := range s.Positions {
		if p.Symbol == symbol && p.Side == side {
			return p, true
		}
	}
	return Position{}, false
}

// GrossExposure returns Σ |qty × mark|.
func (s PortfolioSnapshot) GrossExposure() float64 {
	var v float64
	for _, p := range s.Positions {
		v += p.MarketValue()
	}
	return v
}
