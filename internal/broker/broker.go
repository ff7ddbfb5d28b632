// Package broker defines the execution venue interface and provides an
// Alpaca adapter and an in-process simulator.
package broker

import (
	"context"
	"time"

	"tradecore/internal/domain"
)

// Ack is the venue's answer to a submission.
type Ack struct {
	VenueID  string
	Rejected bool
	Reason   string
}

// OrderUpdate is a venue-side status change that is not a fill, such as a
// confirmed cancel, an expiry or a late rejection.
type OrderUpdate struct {
	OrderID string
	VenueID string
	Status  domain.OrderStatus
	Reason  string
	At      time.Time
}

// Event carries either a fill or an order update.
type Event struct {
	Fill   *domain.Fill
	Update *OrderUpdate
}

// Broker abstracts an execution venue. Fills are delivered at least once on
// Events, keyed by a unique fill id, possibly before SubmitOrder returns.
type Broker interface {
	// Name returns the broker identifier (e.g. "alpaca", "simulator").
	Name() string

	// SubmitOrder sends an order to the venue. A venue refusal is an Ack
	// with Rejected set; an error means the outcome is unknown.
	SubmitOrder(ctx context.Context, order domain.Order) (Ack, error)

	// CancelOrder requests cancellation. Success means the request was
	// accepted, not that no further fills will arrive.
	CancelOrder(ctx context.Context, order domain.Order) error

	// Events returns the venue's fill and order-update stream.
	Events() <-chan Event
}

// PriceObserver is implemented by brokers that need the latest closed
// candle to match resting orders.
type PriceObserver interface {
	OnCandle(c domain.Candle)
}
