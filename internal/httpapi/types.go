// Package httpapi provides an HTTP REST API and WebSocket event stream for
// tradecore-trader, serving the same data as the gRPC status service in
// JSON format.
package httpapi

import (
	"time"

	"tradecore/internal/domain"
	"tradecore/pkg/tradecore"
)

// CandleJSON is the JSON representation of an archived candle.
type CandleJSON struct {
	Start  time.Time `json:"start"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// CandlesResponse is the response for GET /api/candles/{symbol}.
type CandlesResponse struct {
	Symbol    string       `json:"symbol"`
	Timeframe string       `json:"timeframe"`
	Candles   []CandleJSON `json:"candles"`
}

// SignalsResponse is the response for GET /api/signals.
type SignalsResponse struct {
	Source  string             `json:"source"` // "journal" or "live"
	Signals []tradecore.Signal `json:"signals"`
}

// OrdersResponse is the response for GET /api/orders.
type OrdersResponse struct {
	Source string            `json:"source"`
	Orders []tradecore.Order `json:"orders"`
}

// FillsResponse is the response for GET /api/orders/{id}/fills.
type FillsResponse struct {
	OrderID string           `json:"orderId"`
	Fills   []tradecore.Fill `json:"fills"`
}

// ResumeResponse is the response for POST /api/symbols/{symbol}/resume.
type ResumeResponse struct {
	Symbol  string `json:"symbol"`
	Resumed bool   `json:"resumed"`
}

func convertCandles(cs []domain.Candle) []CandleJSON {
	out := make([]CandleJSON, 0, len(cs))
	for _, c := range cs {
		out = append(out, CandleJSON{
			Start:  c.Start,
			Open:   c.Open,
			High:   c.High,
			Low:    c.Low,
			Close:  c.Close,
			Volume: c.Volume,
		})
	}
	return out
}
