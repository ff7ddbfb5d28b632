package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/domain"
)

func TestAlpacaBrokerName(t *testing.T) {
	b := NewAlpacaBroker(AlpacaConfig{APIKey: "key", APISecret: "secret", BaseURL: "https://paper-api.alpaca.markets"}, nil)
	if got := b.Name(); got != "alpaca" {
		t.Errorf("AlpacaBroker.Name() = %q, want %q", got, "alpaca")
	}
}

func TestSimulatorBrokerName(t *testing.T) {
	b := NewSimulatorBroker(SimulatorConfig{}, nil)
	if got := b.Name(); got != "simulator" {
		t.Errorf("SimulatorBroker.Name() = %q, want %q", got, "simulator")
	}
}

func marketBuy(id string, qty float64) domain.Order {
	return domain.Order{
		ID: id, Symbol: "AAPL", Side: domain.OrderSideBuy,
		PositionSide: domain.Long, Effect: domain.EffectOpen,
		Type: domain.OrderTypeMarket, TimeInForce: domain.TimeInForceDay, Qty: qty,
	}
}

func nextFill(t *testing.T, b Broker) domain.Fill {
	t.Helper()
	for {
		select {
		case ev := <-b.Events():
			if ev.Fill != nil {
				return *ev.Fill
			}
		case <-time.After(time.Second):
			t.Fatal("no fill delivered")
		}
	}
}

func TestSimulatorMarketOrderFillsAtLastClose(t *testing.T) {
	b := NewSimulatorBroker(SimulatorConfig{Commission: 1, PartialFills: 2}, nil)
	b.OnCandle(domain.Candle{Symbol: "AAPL", Start: time.Unix(0, 0), Open: 99, High: 101, Low: 98, Close: 100})

	ack, err := b.SubmitOrder(context.Background(), marketBuy("o1", 10))
	require.NoError(t, err)
	require.False(t, ack.Rejected)
	require.NotEmpty(t, ack.VenueID)

	f1, f2 := nextFill(t, b), nextFill(t, b)
	assert.Equal(t, 10.0, f1.Qty+f2.Qty)
	assert.Equal(t, 100.0, f1.Price)
	assert.Equal(t, "o1", f1.OrderID)
	assert.Equal(t, ack.VenueID, f2.VenueOrderID)
	assert.Equal(t, 1.0, f1.Commission)
	assert.NotEqual(t, f1.ID, f2.ID)
}

func TestSimulatorRestingLimit(t *testing.T) {
	b := NewSimulatorBroker(SimulatorConfig{}, nil)
	o := marketBuy("o2", 5)
	o.Type, o.LimitPrice = domain.OrderTypeLimit, 95
	_, err := b.SubmitOrder(context.Background(), o)
	require.NoError(t, err)

	b.OnCandle(domain.Candle{Symbol: "AAPL", Open: 99, High: 100, Low: 96, Close: 97})
	select {
	case ev := <-b.Events():
		t.Fatalf("unexpected event %+v", ev)
	default:
	}

	b.OnCandle(domain.Candle{Symbol: "AAPL", Open: 96, High: 97, Low: 94, Close: 95.5})
	f := nextFill(t, b)
	assert.Equal(t, 95.0, f.Price)
	assert.Equal(t, 5.0, f.Qty)
}

func TestSimulatorRejectsSymbol(t *testing.T) {
	b := NewSimulatorBroker(SimulatorConfig{RejectSymbols: []string{"AAPL"}}, nil)
	ack, err := b.SubmitOrder(context.Background(), marketBuy("o3", 1))
	require.NoError(t, err)
	assert.True(t, ack.Rejected)
}

func TestSimulatorLatencyHonoursContext(t *testing.T) {
	b := NewSimulatorBroker(SimulatorConfig{Latency: time.Second}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := b.SubmitOrder(ctx, marketBuy("o4", 1))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestSimulatorManualFillAndCancel(t *testing.T) {
	b := NewSimulatorBroker(SimulatorConfig{Manual: true}, nil)
	_, err := b.SubmitOrder(context.Background(), marketBuy("o5", 10))
	require.NoError(t, err)

	f, err := b.Fill("o5", 4, 101)
	require.NoError(t, err)
	assert.Equal(t, f, nextFill(t, b))

	require.NoError(t, b.CancelOrder(context.Background(), domain.Order{ID: "o5"}))
	ev := <-b.Events()
	require.NotNil(t, ev.Update)
	assert.Equal(t, domain.OrderStatusCancelled, ev.Update.Status)

	_, err = b.Fill("missing", 1, 1)
	assert.True(t, errors.Is(err, domain.ErrUnknownOrder))
}

func TestProgressDerivesIncrementalFills(t *testing.T) {
	tr := &tracked{order: marketBuy("o6", 10), venueID: "v6", status: domain.OrderStatusSubmitted}
	avg1 := decimal.NewFromInt(100)
	evs := progress(tr, "partially_filled", decimal.NewFromInt(4), &avg1, time.Unix(0, 0))
	require.Len(t, evs, 1)
	assert.Equal(t, "v6:4", evs[0].Fill.ID)
	assert.Equal(t, 4.0, evs[0].Fill.Qty)
	assert.Equal(t, 100.0, evs[0].Fill.Price)

	// Same state polled again yields nothing.
	assert.Empty(t, progress(tr, "partially_filled", decimal.NewFromInt(4), &avg1, time.Unix(1, 0)))

	avg2 := decimal.NewFromFloat(101.2)
	evs = progress(tr, "filled", decimal.NewFromInt(10), &avg2, time.Unix(2, 0))
	require.Len(t, evs, 1)
	assert.Equal(t, 6.0, evs[0].Fill.Qty)
	assert.InDelta(t, 102.0, evs[0].Fill.Price, 1e-9)
	assert.Equal(t, domain.OrderStatusFilled, tr.status)
}

func TestProgressReportsCancel(t *testing.T) {
	tr := &tracked{order: marketBuy("o7", 10), venueID: "v7", status: domain.OrderStatusSubmitted}
	evs := progress(tr, "canceled", decimal.Zero, nil, time.Unix(0, 0))
	require.Len(t, evs, 1)
	assert.Equal(t, domain.OrderStatusCancelled, evs[0].Update.Status)
}

func TestPlaceRequest(t *testing.T) {
	o := marketBuy("o8", 3)
	o.Type, o.LimitPrice, o.TimeInForce = domain.OrderTypeLimit, 99.5, domain.TimeInForceGTC
	req, err := placeRequest(o)
	require.NoError(t, err)
	assert.Equal(t, alpaca.Buy, req.Side)
	assert.Equal(t, alpaca.Limit, req.Type)
	assert.Equal(t, alpaca.GTC, req.TimeInForce)
	assert.Equal(t, "3", req.Qty.String())
	assert.Equal(t, "99.5", req.LimitPrice.String())
	assert.Equal(t, "o8", req.ClientOrderID)

	o.Side = "hold"
	_, err = placeRequest(o)
	assert.Error(t, err)
}

// slowVenue accepts orders only after delay. Orders it knows by client id
// are listed in byClientID; everything else is unknown.
func slowVenue(t *testing.T, delay time.Duration, status int, byClientID map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v2/orders":
			time.Sleep(delay)
			w.WriteHeader(status)
			if status != http.StatusOK {
				fmt.Fprint(w, `{"code":50010000,"message":"gateway timeout"}`)
				return
			}
			fmt.Fprint(w, `{"id":"venue-1","client_order_id":"o1","symbol":"AAPL","status":"accepted","qty":"2","filled_qty":"0"}`)
		case r.URL.Path == "/v2/orders:by_client_order_id":
			id, ok := byClientID[r.URL.Query().Get("client_order_id")]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				fmt.Fprint(w, `{"code":40410000,"message":"order not found"}`)
				return
			}
			fmt.Fprintf(w, `{"id":%q,"symbol":"AAPL","status":"accepted","qty":"2","filled_qty":"0"}`, id)
		case r.Method == http.MethodGet && len(r.URL.Path) > len("/v2/orders/"):
			id := r.URL.Path[len("/v2/orders/"):]
			fmt.Fprintf(w, `{"id":%q,"symbol":"AAPL","status":"filled","qty":"2","filled_qty":"2","filled_avg_price":"101.5"}`, id)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAlpacaLateAcceptedOrderIsTracked(t *testing.T) {
	srv := slowVenue(t, 300*time.Millisecond, http.StatusOK, nil)
	b := NewAlpacaBroker(AlpacaConfig{APIKey: "key", APISecret: "secret", BaseURL: srv.URL}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := b.SubmitOrder(ctx, marketBuy("o1", 2))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.Eventually(t, func() bool { return b.Tracked("o1") }, 2*time.Second, 10*time.Millisecond)
	b.pollOnce(context.Background())

	f := nextFill(t, b)
	assert.Equal(t, "o1", f.OrderID)
	assert.Equal(t, "venue-1", f.VenueOrderID)
	assert.Equal(t, 2.0, f.Qty)
	assert.InDelta(t, 101.5, f.Price, 1e-9)
	assert.False(t, b.Tracked("o1"), "filled orders stop being polled")
}

func TestAlpacaUnresolvedOrderFoundByClientID(t *testing.T) {
	srv := slowVenue(t, 300*time.Millisecond, http.StatusGatewayTimeout, map[string]string{"o2": "venue-2"})
	b := NewAlpacaBroker(AlpacaConfig{APIKey: "key", APISecret: "secret", BaseURL: srv.URL}, nil)

	for _, id := range []string{"o2", "o3"} {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		_, err := b.SubmitOrder(ctx, marketBuy(id, 2))
		cancel()
		require.ErrorIs(t, err, context.DeadlineExceeded, id)
	}

	b.pollOnce(context.Background())
	f := nextFill(t, b)
	assert.Equal(t, "o2", f.OrderID)
	assert.Equal(t, "venue-2", f.VenueOrderID)

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Empty(t, b.unresolved, "o2 is tracked and o3 is unknown at the venue")
}
