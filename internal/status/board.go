// Package status keeps an in-memory view of recent trading activity for the
// operator surfaces, with bounded history per kind and pub/sub for
// streaming to gRPC and WebSocket clients.
package status

import (
	"sync"
	"time"

	"tradecore/internal/domain"
)

// Kind names an event type on the board.
type Kind string

const (
	KindSignal    Kind = "signal"
	KindRejection Kind = "rejection"
	KindOrder     Kind = "order"
	KindFill      Kind = "fill"
	KindError     Kind = "error"
)

// Rejection is a signal the risk manager declined.
type Rejection struct {
	Signal   domain.Signal
	Decision domain.RiskDecision
	At       time.Time
}

// ErrorRecord is an error surfaced to the operator.
type ErrorRecord struct {
	Symbol  string
	Message string
	At      time.Time
}

// Event is emitted to subscribers whenever the board records something.
// Exactly one payload field is set, matching Kind.
type Event struct {
	Kind      Kind
	At        time.Time
	Signal    *domain.Signal
	Rejection *Rejection
	Order     *domain.Order
	Fill      *domain.Fill
	Error     *ErrorRecord
}

// Provider is the live state the board does not own.
type Provider interface {
	Portfolio() domain.PortfolioSnapshot
	Risk() domain.RiskState
	Paused() map[string]string
}

// Snapshot is a consistent read of the board plus the provider's state.
type Snapshot struct {
	Portfolio  domain.PortfolioSnapshot
	Risk       domain.RiskState
	Paused     map[string]string
	Markets    []string
	Signals    []domain.Signal
	Rejections []Rejection
	Orders     []domain.Order
	Fills      []domain.Fill
	Errors     []ErrorRecord
	At         time.Time
}

// ring is a fixed-capacity FIFO keeping the newest items.
type ring[T any] struct {
	items []T
	next  int
	full  bool
}

func newRing[T any](n int) *ring[T] { return &ring[T]{items: make([]T, n)} }

func (r *ring[T]) push(v T) {
	r.items[r.next] = v
	r.next = (r.next + 1) % len(r.items)
	if r.next == 0 {
		r.full = true
	}
}

// newest returns up to len(items) entries, newest first.
func (r *ring[T]) newest() []T {
	n := r.next
	if r.full {
		n = len(r.items)
	}
	out := make([]T, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, r.items[(r.next-i+len(r.items))%len(r.items)])
	}
	return out
}

// Board records recent signals, rejections, orders, fills and errors. It
// implements the engine's Reporter.
type Board struct {
	mu         sync.RWMutex
	provider   Provider
	markets    []string
	signals    *ring[domain.Signal]
	rejections *ring[Rejection]
	orders     *ring[domain.Order]
	fills      *ring[domain.Fill]
	errors     *ring[ErrorRecord]
	now        func() time.Time

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]chan Event
}

// NewBoard creates a board keeping the last size entries of each kind.
func NewBoard(size int) *Board {
	if size <= 0 {
		size = 100
	}
	return &Board{
		signals:    newRing[domain.Signal](size),
		rejections: newRing[Rejection](size),
		orders:     newRing[domain.Order](size),
		fills:      newRing[domain.Fill](size),
		errors:     newRing[ErrorRecord](size),
		now:        time.Now,
		subs:       make(map[int]chan Event),
	}
}

// Attach sets the provider of portfolio, risk and pause state and the
// market list shown in snapshots.
func (b *Board) Attach(p Provider, markets []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.provider = p
	b.markets = append([]string(nil), markets...)
}

// ReportSignal records an emitted signal.
func (b *Board) ReportSignal(sig domain.Signal) {
	at := b.now()
	b.mu.Lock()
	b.signals.push(sig)
	b.mu.Unlock()
	b.publish(Event{Kind: KindSignal, At: at, Signal: &sig})
}

// ReportRejection records a signal declined by risk.
func (b *Board) ReportRejection(sig domain.Signal, d domain.RiskDecision) {
	r := Rejection{Signal: sig, Decision: d, At: b.now()}
	b.mu.Lock()
	b.rejections.push(r)
	b.mu.Unlock()
	b.publish(Event{Kind: KindRejection, At: r.At, Rejection: &r})
}

// ReportOrder records an order state change.
func (b *Board) ReportOrder(o domain.Order) {
	at := b.now()
	b.mu.Lock()
	b.orders.push(o)
	b.mu.Unlock()
	b.publish(Event{Kind: KindOrder, At: at, Order: &o})
}

// ReportFill records a booked fill.
func (b *Board) ReportFill(f domain.Fill) {
	at := b.now()
	b.mu.Lock()
	b.fills.push(f)
	b.mu.Unlock()
	b.publish(Event{Kind: KindFill, At: at, Fill: &f})
}

// ReportError records an error for symbol; symbol may be empty.
func (b *Board) ReportError(symbol string, err error) {
	if err == nil {
		return
	}
	e := ErrorRecord{Symbol: symbol, Message: err.Error(), At: b.now()}
	b.mu.Lock()
	b.errors.push(e)
	b.mu.Unlock()
	b.publish(Event{Kind: KindError, At: e.At, Error: &e})
}

func (b *Board) publish(evt Event) {
	b.subsMu.Lock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			// Slow subscriber, drop event.
		}
	}
	b.subsMu.Unlock()
}

// Snapshot returns copies of the recent lists, newest first, together with
// the provider's current state.
func (b *Board) Snapshot() Snapshot {
	b.mu.RLock()
	snap := Snapshot{
		Markets:    append([]string(nil), b.markets...),
		Signals:    b.signals.newest(),
		Rejections: b.rejections.newest(),
		Orders:     b.orders.newest(),
		Fills:      b.fills.newest(),
		Errors:     b.errors.newest(),
		At:         b.now(),
	}
	p := b.provider
	b.mu.RUnlock()

	if p != nil {
		snap.Portfolio = p.Portfolio()
		snap.Risk = p.Risk()
		snap.Paused = p.Paused()
	}
	return snap
}

// Subscribe creates a new subscription channel for board events.
func (b *Board) Subscribe(bufSize int) (id int, ch <-chan Event) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	id = b.nextSubID
	b.nextSubID++
	c := make(chan Event, bufSize)
	b.subs[id] = c
	return id, c
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Board) Unsubscribe(id int) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	if ch, ok := b.subs[id]; ok {
		close(ch)
		delete(b.subs, id)
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Board) Subscribers() int {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	return len(b.subs)
}
