package tradecore

import "time"

// Position is an open position as reported by the status service.
type Position struct {
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Qty           float64   `json:"qty"`
	EntryPrice    float64   `json:"entryPrice"`
	MarkPrice     float64   `json:"markPrice"`
	UnrealizedPnL float64   `json:"unrealizedPnl"`
	RealizedPnL   float64   `json:"realizedPnl"`
	OpenedAt      time.Time `json:"openedAt"`
}

// Portfolio holds the ledger metrics.
type Portfolio struct {
	Cash          float64    `json:"cash"`
	Equity        float64    `json:"equity"`
	RealizedPnL   float64    `json:"realizedPnl"`
	UnrealizedPnL float64    `json:"unrealizedPnl"`
	HighWater     float64    `json:"highWater"`
	Drawdown      float64    `json:"drawdown"`
	Exposure      float64    `json:"exposure"`
	DailyPnL      float64    `json:"dailyPnl"`
	DailyTrades   int        `json:"dailyTrades"`
	Positions     []Position `json:"positions"`
	Timestamp     time.Time  `json:"timestamp"`
}

// Risk is the portfolio measured against the risk limits.
type Risk struct {
	Level          string  `json:"level"`
	Halted         bool    `json:"halted"`
	Equity         float64 `json:"equity"`
	Drawdown       float64 `json:"drawdown"`
	MaxDrawdown    float64 `json:"maxDrawdown"`
	DailyPnL       float64 `json:"dailyPnl"`
	MaxDailyLoss   float64 `json:"maxDailyLoss"`
	Exposure       float64 `json:"exposure"`
	MaxExposure    float64 `json:"maxExposure"`
	OpenPositions  int     `json:"openPositions"`
	MaxPositions   int     `json:"maxPositions"`
	DailyTrades    int     `json:"dailyTrades"`
	MaxDailyTrades int     `json:"maxDailyTrades"`
}

// Signal is an aggregated trade proposal.
type Signal struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Timeframe  string    `json:"timeframe"`
	Direction  string    `json:"direction"`
	Entry      float64   `json:"entry"`
	StopLoss   float64   `json:"stopLoss"`
	TakeProfit float64   `json:"takeProfit"`
	Confidence float64   `json:"confidence"`
	StopSource string    `json:"stopSource,omitempty"`
	KillZone   string    `json:"killZone,omitempty"`
	Sources    []string  `json:"sources"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Rejection is a signal declined by the risk manager.
type Rejection struct {
	Signal Signal    `json:"signal"`
	Limit  string    `json:"limit"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Order is the lifecycle state of one order.
type Order struct {
	ID             string    `json:"id"`
	VenueID        string    `json:"venueId,omitempty"`
	Symbol         string    `json:"symbol"`
	Side           string    `json:"side"`
	PositionSide   string    `json:"positionSide"`
	Effect         string    `json:"effect"`
	Type           string    `json:"type"`
	Qty            float64   `json:"qty"`
	LimitPrice     float64   `json:"limitPrice,omitempty"`
	Status         string    `json:"status"`
	FilledQty      float64   `json:"filledQty"`
	FilledAvgPrice float64   `json:"filledAvgPrice"`
	Reason         string    `json:"reason,omitempty"`
	Reconcile      bool      `json:"reconcile,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Fill is one execution.
type Fill struct {
	ID         string    `json:"id"`
	OrderID    string    `json:"orderId"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Effect     string    `json:"effect"`
	Qty        float64   `json:"qty"`
	Price      float64   `json:"price"`
	Commission float64   `json:"commission"`
	Timestamp  time.Time `json:"timestamp"`
}

// ErrorEntry is an error surfaced to the operator.
type ErrorEntry struct {
	Symbol  string    `json:"symbol,omitempty"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Snapshot is the full status view.
type Snapshot struct {
	Portfolio  Portfolio         `json:"portfolio"`
	Risk       Risk              `json:"risk"`
	Paused     map[string]string `json:"paused"`
	Markets    []string          `json:"markets"`
	Signals    []Signal          `json:"signals"`
	Rejections []Rejection       `json:"rejections"`
	Orders     []Order           `json:"orders"`
	Fills      []Fill            `json:"fills"`
	Errors     []ErrorEntry      `json:"errors"`
	At         time.Time         `json:"at"`
}

// Event is one streamed status change. Exactly one payload is set,
// matching Kind.
type Event struct {
	Kind      string      `json:"kind"`
	At        time.Time   `json:"at"`
	Signal    *Signal     `json:"signal,omitempty"`
	Rejection *Rejection  `json:"rejection,omitempty"`
	Order     *Order      `json:"order,omitempty"`
	Fill      *Fill       `json:"fill,omitempty"`
	Error     *ErrorEntry `json:"error,omitempty"`
}
