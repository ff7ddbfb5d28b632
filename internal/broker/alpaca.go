package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"tradecore/internal/domain"
	"tradecore/internal/util"
)

// Compile-time interface check.
var _ Broker = (*AlpacaBroker)(nil)

// AlpacaConfig holds credentials and polling settings.
type AlpacaConfig struct {
	APIKey            string
	APISecret         string
	BaseURL           string
	PollInterval      time.Duration
	RequestsPerMinute int
}

type tracked struct {
	order     domain.Order
	venueID   string
	filledQty decimal.Decimal
	avgPrice  decimal.Decimal
	status    domain.OrderStatus
}

// AlpacaBroker implements the Broker interface using the Alpaca trading
// API. Fills are discovered by polling each working order's cumulative
// filled quantity.
type AlpacaBroker struct {
	client  *alpaca.Client
	limiter *util.RateLimiter
	poll    time.Duration

	mu      sync.Mutex
	tracked map[string]*tracked // by venue id
	// unresolved holds submissions whose outcome was unknown when
	// SubmitOrder returned, by client order id.
	unresolved map[string]domain.Order
	events     chan Event
	log        *slog.Logger
}

// NewAlpacaBroker creates a new AlpacaBroker configured with the given
// credentials and API endpoint.
func NewAlpacaBroker(cfg AlpacaConfig, log *slog.Logger) *AlpacaBroker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 180
	}
	if log == nil {
		log = slog.Default().With("broker", "alpaca")
	}
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		BaseURL:   cfg.BaseURL,
	})
	return &AlpacaBroker{
		client:  client,
		limiter: util.NewRateLimiter(cfg.RequestsPerMinute, 10),
		poll:    cfg.PollInterval,
		tracked:    make(map[string]*tracked),
		unresolved: make(map[string]domain.Order),
		events:     make(chan Event, 1024),
		log:        log,
	}
}

// Name returns "alpaca".
func (b *AlpacaBroker) Name() string {
	return "alpaca"
}

// Events returns the fill and update stream produced by Run.
func (b *AlpacaBroker) Events() <-chan Event { return b.events }

// SubmitOrder places the order with Alpaca using the order id as the client
// order id.
func (b *AlpacaBroker) SubmitOrder(ctx context.Context, order domain.Order) (Ack, error) {
	req, err := placeRequest(order)
	if err != nil {
		return Ack{Rejected: true, Reason: err.Error()}, nil
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return Ack{}, err
	}

	type result struct {
		o   *alpaca.Order
		err error
	}
	done := make(chan result, 1)
	go func() {
		o, err := b.client.PlaceOrder(req)
		if err == nil {
			// Tracked even when the caller stopped waiting.
			b.track(order, o.ID)
		}
		done <- result{o, err}
	}()

	var res result
	select {
	case <-ctx.Done():
		b.mu.Lock()
		b.unresolved[order.ID] = order
		b.mu.Unlock()
		b.log.Warn("order submission outcome unknown", "order_id", order.ID, "symbol", order.Symbol, "error", ctx.Err())
		return Ack{}, ctx.Err()
	case res = <-done:
	}
	if res.err != nil {
		b.log.Warn("alpaca rejected order", "order_id", order.ID, "symbol", order.Symbol, "error", res.err)
		return Ack{Rejected: true, Reason: res.err.Error()}, nil
	}
	b.log.Info("order placed", "order_id", order.ID, "venue_id", res.o.ID, "symbol", order.Symbol, "qty", order.Qty)
	return Ack{VenueID: res.o.ID}, nil
}

func (b *AlpacaBroker) track(order domain.Order, venueID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.unresolved, order.ID)
	if _, ok := b.tracked[venueID]; ok {
		return
	}
	b.tracked[venueID] = &tracked{order: order, venueID: venueID, status: domain.OrderStatusSubmitted}
}

// Tracked reports whether the order with the given client order id is
// being polled for fills.
func (b *AlpacaBroker) Tracked(orderID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range b.tracked {
		if t.order.ID == orderID {
			return true
		}
	}
	return false
}

// resolve looks up submissions with an unknown outcome by client order id.
// Found orders are tracked; orders the venue has never seen are dropped.
func (b *AlpacaBroker) resolve(ctx context.Context) {
	b.mu.Lock()
	pending := make([]domain.Order, 0, len(b.unresolved))
	for _, o := range b.unresolved {
		pending = append(pending, o)
	}
	b.mu.Unlock()

	for _, order := range pending {
		if err := b.limiter.Wait(ctx); err != nil {
			return
		}
		o, err := b.client.GetOrderByClientOrderID(order.ID)
		var apiErr *alpaca.APIError
		switch {
		case err == nil:
			b.track(order, o.ID)
			b.log.Info("unresolved order found at venue", "order_id", order.ID, "venue_id", o.ID)
		case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound:
			b.mu.Lock()
			delete(b.unresolved, order.ID)
			b.mu.Unlock()
			b.log.Info("unresolved order unknown at venue", "order_id", order.ID)
		default:
			b.log.Warn("unresolved order lookup failed", "order_id", order.ID, "error", err)
		}
	}
}

// CancelOrder requests cancellation by venue id.
func (b *AlpacaBroker) CancelOrder(ctx context.Context, order domain.Order) error {
	if order.VenueID == "" {
		return fmt.Errorf("%w: %s has no venue id", domain.ErrUnknownOrder, order.ID)
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := b.client.CancelOrder(order.VenueID); err != nil {
		return fmt.Errorf("%w: cancel %s: %v", domain.ErrExecutionFailure, order.VenueID, err)
	}
	return nil
}

// Run polls tracked orders until ctx is cancelled.
func (b *AlpacaBroker) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			b.pollOnce(ctx)
		}
	}
}

func (b *AlpacaBroker) pollOnce(ctx context.Context) {
	b.resolve(ctx)

	b.mu.Lock()
	ids := make([]string, 0, len(b.tracked))
	for id := range b.tracked {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	for _, id := range ids {
		if err := b.limiter.Wait(ctx); err != nil {
			return
		}
		var o *alpaca.Order
		err := util.Retry(ctx, 3, 200*time.Millisecond, func() error {
			var err error
			o, err = b.client.GetOrder(id)
			return err
		})
		if err != nil {
			b.log.Warn("order poll failed", "venue_id", id, "error", err)
			continue
		}

		b.mu.Lock()
		t := b.tracked[id]
		var evs []Event
		if t != nil {
			evs = progress(t, o.Status, o.FilledQty, o.FilledAvgPrice, time.Now())
			if t.status.Terminal() {
				delete(b.tracked, id)
			}
		}
		b.mu.Unlock()
		for _, ev := range evs {
			select {
			case b.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

// progress turns the venue's cumulative view of an order into fill and
// status events. A fill's id is the venue id plus the cumulative quantity,
// so repeated polls of the same state produce the same id.
func progress(t *tracked, status string, filledQty decimal.Decimal, avg *decimal.Decimal, at time.Time) []Event {
	var out []Event
	if filledQty.GreaterThan(t.filledQty) && avg != nil {
		delta := filledQty.Sub(t.filledQty)
		px := avg.Mul(filledQty).Sub(t.avgPrice.Mul(t.filledQty)).Div(delta)
		f := domain.Fill{
			ID:           t.venueID + ":" + filledQty.String(),
			OrderID:      t.order.ID,
			VenueOrderID: t.venueID,
			Symbol:       t.order.Symbol,
			Side:         t.order.Side,
			PositionSide: t.order.PositionSide,
			Effect:       t.order.Effect,
			Qty:          delta.InexactFloat64(),
			Price:        px.InexactFloat64(),
			Timestamp:    at,
		}
		t.filledQty, t.avgPrice = filledQty, *avg
		out = append(out, Event{Fill: &f})
	}

	st := mapStatus(status)
	if st != t.status && st.Terminal() && st != domain.OrderStatusFilled {
		out = append(out, Event{Update: &OrderUpdate{
			OrderID: t.order.ID, VenueID: t.venueID, Status: st,
			Reason: "venue status " + status, At: at,
		}})
	}
	t.status = st
	return out
}

func mapStatus(s string) domain.OrderStatus {
	switch strings.ToLower(s) {
	case "partially_filled":
		return domain.OrderStatusPartiallyFilled
	case "filled":
		return domain.OrderStatusFilled
	case "canceled", "cancelled":
		return domain.OrderStatusCancelled
	case "expired", "done_for_day":
		return domain.OrderStatusExpired
	case "rejected", "suspended":
		return domain.OrderStatusRejected
	}
	return domain.OrderStatusSubmitted
}

func placeRequest(o domain.Order) (alpaca.PlaceOrderRequest, error) {
	qty := decimal.NewFromFloat(o.Qty)
	req := alpaca.PlaceOrderRequest{
		Symbol:        o.Symbol,
		Qty:           &qty,
		ClientOrderID: o.ID,
	}
	switch o.Side {
	case domain.OrderSideBuy:
		req.Side = alpaca.Buy
	case domain.OrderSideSell:
		req.Side = alpaca.Sell
	default:
		return req, fmt.Errorf("unsupported side %q", o.Side)
	}
	switch o.Type {
	case domain.OrderTypeMarket:
		req.Type = alpaca.Market
	case domain.OrderTypeLimit:
		req.Type = alpaca.Limit
	case domain.OrderTypeStop:
		req.Type = alpaca.Stop
	case domain.OrderTypeStopLimit:
		req.Type = alpaca.StopLimit
	default:
		return req, fmt.Errorf("unsupported order type %q", o.Type)
	}
	switch o.TimeInForce {
	case domain.TimeInForceGTC:
		req.TimeInForce = alpaca.GTC
	case domain.TimeInForceIOC:
		req.TimeInForce = alpaca.IOC
	default:
		req.TimeInForce = alpaca.Day
	}
	if o.LimitPrice > 0 {
		lp := decimal.NewFromFloat(o.LimitPrice)
		req.LimitPrice = &lp
	}
	if o.StopPrice > 0 {
		sp := decimal.NewFromFloat(o.StopPrice)
		req.StopPrice = &sp
	}
	return req, nil
}
