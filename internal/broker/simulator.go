package broker

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradecore/internal/domain"
)

// Compile-time interface check.
var (
	_ Broker        = (*SimulatorBroker)(nil)
	_ PriceObserver = (*SimulatorBroker)(nil)
)

// SimulatorConfig controls simulated execution.
type SimulatorConfig struct {
	Commission    float64       `yaml:"commission"`     // flat, per fill
	Slippage      float64       `yaml:"slippage"`       // fraction of price against the taker
	PartialFills  int           `yaml:"partial_fills"`  // executions are split into this many fills
	Latency       time.Duration `yaml:"latency"`        // delay before a submission is acknowledged
	RejectSymbols []string      `yaml:"reject_symbols"` // symbols the venue refuses
	// Manual disables automatic matching; fills come only from Fill.
	Manual bool `yaml:"manual"`
}

type simOrder struct {
	order   domain.Order
	venueID string
	filled  float64
	done    bool
}

// SimulatorBroker implements the Broker interface for paper trading and
// replay. It matches orders against the latest closed candle in memory.
type SimulatorBroker struct {
	cfg    SimulatorConfig
	mu     sync.Mutex
	orders map[string]*simOrder // by venue id
	byID   map[string]string    // order id -> venue id
	last   map[string]domain.Candle
	events chan Event
	now    func() time.Time
	log    *slog.Logger
}

// NewSimulatorBroker creates a SimulatorBroker.
func NewSimulatorBroker(cfg SimulatorConfig, log *slog.Logger) *SimulatorBroker {
	if cfg.PartialFills <= 0 {
		cfg.PartialFills = 1
	}
	if log == nil {
		log = slog.Default().With("broker", "simulator")
	}
	return &SimulatorBroker{
		cfg:    cfg,
		orders: make(map[string]*simOrder),
		byID:   make(map[string]string),
		last:   make(map[string]domain.Candle),
		events: make(chan Event, 1024),
		now:    time.Now,
		log:    log,
	}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// Events returns the fill and update stream.
func (b *SimulatorBroker) Events() <-chan Event { return b.events }

// SubmitOrder acknowledges the order and, unless Manual is set, executes it
// immediately when it is marketable against the last known candle.
func (b *SimulatorBroker) SubmitOrder(ctx context.Context, order domain.Order) (Ack, error) {
	if b.cfg.Latency > 0 {
		select {
		case <-ctx.Done():
			return Ack{}, ctx.Err()
		case <-time.After(b.cfg.Latency):
		}
	}
	if order.Qty <= 0 {
		return Ack{Rejected: true, Reason: "quantity must be positive"}, nil
	}
	if slices.Contains(b.cfg.RejectSymbols, order.Symbol) {
		return Ack{Rejected: true, Reason: fmt.Sprintf("symbol %s not tradable", order.Symbol)}, nil
	}

	so := &simOrder{order: order, venueID: uuid.NewString()}
	var out []Event
	b.mu.Lock()
	b.orders[so.venueID] = so
	b.byID[order.ID] = so.venueID
	if !b.cfg.Manual {
		if c, ok := b.last[order.Symbol]; ok {
			if px, ok := marketable(order, c.Close, c.Close, c.Close); ok {
				out = b.execute(so, px)
			}
		}
		if !so.done && order.TimeInForce == domain.TimeInForceIOC {
			so.done = true
			out = append(out, b.update(so, domain.OrderStatusCancelled, "ioc not marketable"))
		}
	}
	b.mu.Unlock()

	ack := Ack{VenueID: so.venueID}
	go b.emit(out)
	return ack, nil
}

// CancelOrder cancels the unfilled remainder of a working order.
func (b *SimulatorBroker) CancelOrder(_ context.Context, order domain.Order) error {
	b.mu.Lock()
	so, ok := b.lookup(order)
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrUnknownOrder, order.ID)
	}
	if so.done {
		b.mu.Unlock()
		return nil
	}
	so.done = true
	ev := b.update(so, domain.OrderStatusCancelled, "cancel requested")
	b.mu.Unlock()
	b.emit([]Event{ev})
	return nil
}

// OnCandle records the latest candle for its symbol and matches resting
// orders against it.
func (b *SimulatorBroker) OnCandle(c domain.Candle) {
	var out []Event
	b.mu.Lock()
	b.last[c.Symbol] = c
	if !b.cfg.Manual {
		for _, so := range b.orders {
			if so.done || so.order.Symbol != c.Symbol {
				continue
			}
			if px, ok := marketable(so.order, c.Open, c.High, c.Low); ok {
				out = append(out, b.execute(so, px)...)
			} else if so.order.Type == domain.OrderTypeMarket {
				out = append(out, b.execute(so, c.Close)...)
			}
		}
	}
	b.mu.Unlock()
	b.emit(out)
}

// Fill emits a manual execution of qty at price against an order known by
// order id or venue id.
func (b *SimulatorBroker) Fill(id string, qty, price float64) (domain.Fill, error) {
	b.mu.Lock()
	so, ok := b.lookup(domain.Order{ID: id, VenueID: id})
	if !ok {
		b.mu.Unlock()
		return domain.Fill{}, fmt.Errorf("%w: %s", domain.ErrUnknownOrder, id)
	}
	f := b.newFill(so, qty, price)
	so.filled += qty
	b.mu.Unlock()
	b.emit([]Event{{Fill: &f}})
	return f, nil
}

// Emit pushes a raw event, e.g. to redeliver a fill.
func (b *SimulatorBroker) Emit(ev Event) { b.emit([]Event{ev}) }

func (b *SimulatorBroker) emit(evs []Event) {
	for _, ev := range evs {
		b.events <- ev
	}
}

func (b *SimulatorBroker) lookup(o domain.Order) (*simOrder, bool) {
	if so, ok := b.orders[o.VenueID]; ok {
		return so, true
	}
	so, ok := b.orders[b.byID[o.ID]]
	return so, ok
}

// marketable returns the execution price for order given a candle's open,
// high and low.
func marketable(o domain.Order, open, high, low float64) (float64, bool) {
	buy := o.Side == domain.OrderSideBuy
	switch o.Type {
	case domain.OrderTypeMarket:
		return open, true
	case domain.OrderTypeLimit:
		if buy && low <= o.LimitPrice {
			return min(open, o.LimitPrice), true
		}
		if !buy && high >= o.LimitPrice {
			return max(open, o.LimitPrice), true
		}
	case domain.OrderTypeStop:
		if buy && high >= o.StopPrice {
			return max(open, o.StopPrice), true
		}
		if !buy && low <= o.StopPrice {
			return min(open, o.StopPrice), true
		}
	case domain.OrderTypeStopLimit:
		if (buy && high >= o.StopPrice) || (!buy && low <= o.StopPrice) {
			return o.LimitPrice, true
		}
	}
	return 0, false
}

// execute fills the remainder of so at px, split into PartialFills parts.
func (b *SimulatorBroker) execute(so *simOrder, px float64) []Event {
	if so.order.Side == domain.OrderSideBuy {
		px *= 1 + b.cfg.Slippage
	} else {
		px *= 1 - b.cfg.Slippage
	}
	remaining := so.order.Qty - so.filled
	if remaining <= 0 {
		return nil
	}
	parts := b.cfg.PartialFills
	out := make([]Event, 0, parts)
	for i := 0; i < parts; i++ {
		q := remaining / float64(parts)
		if i == parts-1 {
			q = so.order.Qty - so.filled
		}
		f := b.newFill(so, q, px)
		so.filled += q
		out = append(out, Event{Fill: &f})
	}
	so.done = true
	b.log.Debug("simulated execution", "order_id", so.order.ID, "symbol", so.order.Symbol, "qty", remaining, "price", px)
	return out
}

// newFill stamps fills with the latest candle time when one is known so that
// replays book fills on the simulated clock.
func (b *SimulatorBroker) newFill(so *simOrder, qty, px float64) domain.Fill {
	ts := b.now()
	if c, ok := b.last[so.order.Symbol]; ok {
		ts = c.Start
	}
	return domain.Fill{
		ID:           uuid.NewString(),
		OrderID:      so.order.ID,
		VenueOrderID: so.venueID,
		Symbol:       so.order.Symbol,
		Side:         so.order.Side,
		PositionSide: so.order.PositionSide,
		Effect:       so.order.Effect,
		Qty:          qty,
		Price:        px,
		Commission:   b.cfg.Commission,
		Timestamp:    ts,
	}
}

func (b *SimulatorBroker) update(so *simOrder, st domain.OrderStatus, reason string) Event {
	return Event{Update: &OrderUpdate{
		OrderID: so.order.ID, VenueID: so.venueID,
		Status: st, Reason: reason, At: b.now(),
	}}
}
