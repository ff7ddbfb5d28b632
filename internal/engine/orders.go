package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradecore/internal/broker"
	"tradecore/internal/domain"
)

const qtyEpsilon = 1e-9

// maxRememberedFills bounds the set of applied fill ids.
const maxRememberedFills = 100000

// ExecutionConfig controls order submission.
type ExecutionConfig struct {
	SubmitTimeout time.Duration      `yaml:"submit_timeout"`
	FillTimeout   time.Duration      `yaml:"fill_timeout"`
	OrderType     domain.OrderType   `yaml:"order_type"`
	TimeInForce   domain.TimeInForce `yaml:"time_in_force"`
	// LimitOffset places limit entries this fraction through the signal
	// entry price.
	LimitOffset float64 `yaml:"limit_offset"`
	// Retention is how long terminal orders stay queryable.
	Retention time.Duration `yaml:"retention"`
}

// DefaultExecutionConfig returns the execution defaults.
func DefaultExecutionConfig() ExecutionConfig {
	return ExecutionConfig{
		SubmitTimeout: 10 * time.Second,
		FillTimeout:   2 * time.Minute,
		OrderType:     domain.OrderTypeMarket,
		TimeInForce:   domain.TimeInForceDay,
		Retention:     24 * time.Hour,
	}
}

// FillApplier books fills. *ledger.Ledger implements it.
type FillApplier interface {
	ApplyFill(f domain.Fill) (domain.PortfolioSnapshot, bool, error)
}

// Hooks receive order lifecycle notifications. Any may be nil. They are
// called without the manager's lock held.
type Hooks struct {
	OnOrder func(o domain.Order)
	OnFill  func(f domain.Fill, o domain.Order, snap domain.PortfolioSnapshot)
	OnError func(symbol string, err error)
}

// OrderManager drives the order state machine and is the only path by which
// fills reach the ledger.
type OrderManager struct {
	cfg    ExecutionConfig
	broker broker.Broker
	ledger FillApplier
	hooks  Hooks
	now    func() time.Time
	log    *slog.Logger

	mu        sync.Mutex
	orders    map[string]*domain.Order
	venue     map[string]string // venue id -> order id
	fills     map[string]struct{}
	fillOrder []string // applied fill ids, oldest first
	fillCap   int
	paused    map[string]string // symbol -> reason
}

// NewOrderManager creates an OrderManager.
func NewOrderManager(cfg ExecutionConfig, b broker.Broker, l FillApplier, hooks Hooks, log *slog.Logger) *OrderManager {
	def := DefaultExecutionConfig()
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = def.SubmitTimeout
	}
	if cfg.FillTimeout <= 0 {
		cfg.FillTimeout = def.FillTimeout
	}
	if cfg.OrderType == "" {
		cfg.OrderType = def.OrderType
	}
	if cfg.TimeInForce == "" {
		cfg.TimeInForce = def.TimeInForce
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if log == nil {
		log = slog.Default().With("component", "orders")
	}
	return &OrderManager{
		cfg:     cfg,
		broker:  b,
		ledger:  l,
		hooks:   hooks,
		now:     time.Now,
		log:     log,
		orders:  make(map[string]*domain.Order),
		venue:   make(map[string]string),
		fills:   make(map[string]struct{}),
		fillCap: maxRememberedFills,
		paused:  make(map[string]string),
	}
}

// EntryOrder builds the opening order for an approved signal.
func (m *OrderManager) EntryOrder(sig domain.Signal, qty float64) domain.Order {
	o := domain.Order{
		Symbol:       sig.Symbol,
		Side:         domain.SideFor(sig.Direction, domain.EffectOpen),
		PositionSide: sig.Direction,
		Effect:       domain.EffectOpen,
		Type:         m.cfg.OrderType,
		TimeInForce:  m.cfg.TimeInForce,
		Qty:          qty,
		SignalID:     sig.ID,
	}
	if o.Type == domain.OrderTypeLimit || o.Type == domain.OrderTypeStopLimit {
		o.LimitPrice = sig.Entry * (1 + sig.Direction.Sign()*m.cfg.LimitOffset)
	}
	if o.Type == domain.OrderTypeStop || o.Type == domain.OrderTypeStopLimit {
		o.StopPrice = sig.Entry
	}
	return o
}

// ExitOrder builds a market order closing qty of a position.
func ExitOrder(symbol string, side domain.Direction, qty float64, reason string) domain.Order {
	return domain.Order{
		Symbol:       symbol,
		Side:         domain.SideFor(side, domain.EffectClose),
		PositionSide: side,
		Effect:       domain.EffectClose,
		Type:         domain.OrderTypeMarket,
		TimeInForce:  domain.TimeInForceDay,
		Qty:          qty,
		Reason:       reason,
	}
}

// Submit registers o as pending and sends it to the broker, waiting at most
// SubmitTimeout for the acknowledgment. Fills may be applied while the
// submission is in flight. A venue refusal or timeout leaves the order
// rejected and returns ErrExecutionFailure; a timeout also flags it for
// reconciliation.
func (m *OrderManager) Submit(ctx context.Context, o domain.Order) (domain.Order, error) {
	m.mu.Lock()
	if reason, ok := m.paused[o.Symbol]; ok {
		m.mu.Unlock()
		return o, fmt.Errorf("%w: %s: %s", domain.ErrSymbolPaused, o.Symbol, reason)
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	now := m.now()
	o.Status = domain.OrderStatusPending
	o.CreatedAt, o.UpdatedAt = now, now
	stored := o
	m.orders[o.ID] = &stored
	m.mu.Unlock()
	m.notifyOrder(o)

	sctx, cancel := context.WithTimeout(ctx, m.cfg.SubmitTimeout)
	ack, err := m.broker.SubmitOrder(sctx, o)
	cancel()

	m.mu.Lock()
	cur := m.orders[o.ID]
	switch {
	case err != nil:
		if cur.Status == domain.OrderStatusPending {
			cur.Status = domain.OrderStatusRejected
		}
		cur.Reason = fmt.Sprintf("submission failed: %v", err)
		if errors.Is(err, context.DeadlineExceeded) {
			cur.Reason = "submission timed out"
			cur.Reconcile = true
		}
		err = fmt.Errorf("%w: %s %s: %s", domain.ErrExecutionFailure, o.Symbol, o.ID, cur.Reason)
	case ack.Rejected:
		if cur.Status == domain.OrderStatusPending {
			cur.Status = domain.OrderStatusRejected
		}
		cur.Reason = ack.Reason
		err = fmt.Errorf("%w: %s %s rejected: %s", domain.ErrExecutionFailure, o.Symbol, o.ID, ack.Reason)
	default:
		cur.VenueID = ack.VenueID
		m.venue[ack.VenueID] = o.ID
		if cur.Status == domain.OrderStatusPending {
			cur.Status = domain.OrderStatusSubmitted
		}
	}
	cur.UpdatedAt = m.now()
	out := *cur
	m.mu.Unlock()

	if err != nil {
		m.log.Warn("order submission failed", "order_id", o.ID, "symbol", o.Symbol, "error", err)
	} else {
		m.log.Info("order submitted", "order_id", o.ID, "venue_id", out.VenueID, "symbol", o.Symbol, "side", o.Side, "qty", o.Qty)
	}
	m.notifyOrder(out)
	return out, err
}

// ApplyFill books a fill exactly once. Duplicates are ignored. Fills for
// unknown orders, fills that would overfill an order, and fills the ledger
// refuses pause the symbol and return ErrReconciliationMismatch.
func (m *OrderManager) ApplyFill(f domain.Fill) error {
	m.mu.Lock()
	if _, dup := m.fills[f.ID]; dup {
		m.mu.Unlock()
		m.log.Debug("duplicate fill ignored", "fill_id", f.ID)
		return nil
	}
	o := m.resolve(f.OrderID, f.VenueOrderID)
	if o == nil {
		err := fmt.Errorf("%w: fill %s references unknown order %q/%q", domain.ErrReconciliationMismatch, f.ID, f.OrderID, f.VenueOrderID)
		m.pauseLocked(f.Symbol, err.Error())
		m.mu.Unlock()
		m.notifyError(f.Symbol, err)
		return err
	}
	if o.FilledQty+f.Qty > o.Qty+qtyEpsilon {
		err := fmt.Errorf("%w: fill %s overfills order %s (%v + %v > %v)", domain.ErrReconciliationMismatch, f.ID, o.ID, o.FilledQty, f.Qty, o.Qty)
		o.Reconcile = true
		m.pauseLocked(o.Symbol, err.Error())
		out := *o
		m.mu.Unlock()
		m.notifyOrder(out)
		m.notifyError(out.Symbol, err)
		return err
	}

	f.OrderID, f.VenueOrderID = o.ID, o.VenueID
	f.Symbol, f.Side = o.Symbol, o.Side
	f.PositionSide, f.Effect = o.PositionSide, o.Effect

	snap, _, err := m.ledger.ApplyFill(f)
	if err != nil {
		o.Reconcile = true
		m.pauseLocked(o.Symbol, err.Error())
		out := *o
		m.mu.Unlock()
		m.notifyOrder(out)
		m.notifyError(out.Symbol, err)
		return err
	}
	m.rememberFill(f.ID)

	total := o.FilledQty + f.Qty
	o.FilledAvgPrice = (o.FilledAvgPrice*o.FilledQty + f.Price*f.Qty) / total
	o.FilledQty = total
	if !o.Status.Terminal() || o.Status == domain.OrderStatusFilled {
		if o.FilledQty >= o.Qty-qtyEpsilon {
			o.Status = domain.OrderStatusFilled
		} else {
			o.Status = domain.OrderStatusPartiallyFilled
		}
	}
	o.UpdatedAt = m.now()
	out := *o
	m.mu.Unlock()

	m.log.Info("fill applied", "fill_id", f.ID, "order_id", out.ID, "symbol", out.Symbol, "qty", f.Qty, "price", f.Price, "status", out.Status)
	if m.hooks.OnFill != nil {
		m.hooks.OnFill(f, out, snap)
	}
	m.notifyOrder(out)
	return nil
}

// ApplyUpdate records a venue-side terminal status.
func (m *OrderManager) ApplyUpdate(u broker.OrderUpdate) {
	m.mu.Lock()
	o := m.resolve(u.OrderID, u.VenueID)
	if o == nil || o.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	o.Status = u.Status
	o.Reason = u.Reason
	o.UpdatedAt = m.now()
	out := *o
	m.mu.Unlock()
	m.notifyOrder(out)
}

// Cancel requests cancellation of a working order. The unfilled remainder
// becomes cancelled; fills already applied stay, and late fills are still
// booked.
func (m *OrderManager) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	o, ok := m.orders[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrUnknownOrder, id)
	}
	if !o.Status.Working() {
		m.mu.Unlock()
		return nil
	}
	req := *o
	m.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, m.cfg.SubmitTimeout)
	err := m.broker.CancelOrder(cctx, req)
	cancel()
	if err != nil {
		return fmt.Errorf("cancel %s: %w", id, err)
	}

	m.mu.Lock()
	if o.Status.Working() {
		o.Status = domain.OrderStatusCancelled
		o.Reason = "cancel requested"
		o.UpdatedAt = m.now()
	}
	out := *o
	m.mu.Unlock()
	m.notifyOrder(out)
	return nil
}

// Sweep flags working orders without progress for FillTimeout, marking them
// expired for reconciliation, and drops terminal orders past retention. It
// returns the orders it flagged.
func (m *OrderManager) Sweep(now time.Time) []domain.Order {
	var flagged []domain.Order
	m.mu.Lock()
	for id, o := range m.orders {
		switch {
		case o.Status.Working() && now.Sub(o.UpdatedAt) > m.cfg.FillTimeout:
			o.Status = domain.OrderStatusExpired
			o.Reconcile = true
			o.Reason = "no venue progress before fill timeout"
			o.UpdatedAt = now
			flagged = append(flagged, *o)
		case o.Status.Terminal() && !o.Reconcile && now.Sub(o.UpdatedAt) > m.cfg.Retention:
			delete(m.orders, id)
			delete(m.venue, o.VenueID)
		}
	}
	m.mu.Unlock()
	for _, o := range flagged {
		m.log.Warn("order timed out", "order_id", o.ID, "symbol", o.Symbol, "filled", o.FilledQty, "qty", o.Qty)
		m.notifyOrder(o)
	}
	return flagged
}

// HasWorkingOrder reports a working order on (symbol, side).
func (m *OrderManager) HasWorkingOrder(symbol string, side domain.Direction) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.Symbol == symbol && o.PositionSide == side && o.Status.Working() {
			return true
		}
	}
	return false
}

// Order returns a copy of an order.
func (m *OrderManager) Order(id string) (domain.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.Order{}, false
	}
	return *o, true
}

// Orders returns all retained orders, newest first.
func (m *OrderManager) Orders() []domain.Order {
	m.mu.Lock()
	out := make([]domain.Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, *o)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Paused returns the pause reason for symbol.
func (m *OrderManager) Paused(symbol string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.paused[symbol]
	return r, ok
}

// PausedSymbols returns every paused symbol with its reason.
func (m *OrderManager) PausedSymbols() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.paused))
	for k, v := range m.paused {
		out[k] = v
	}
	return out
}

// Resume lifts a reconciliation pause once the mismatch has been resolved
// externally. It reports whether the symbol was paused.
func (m *OrderManager) Resume(symbol string) bool {
	m.mu.Lock()
	_, ok := m.paused[symbol]
	delete(m.paused, symbol)
	m.mu.Unlock()
	if ok {
		m.log.Info("symbol resumed", "symbol", symbol)
	}
	return ok
}

func (m *OrderManager) resolve(orderID, venueID string) *domain.Order {
	if o, ok := m.orders[orderID]; ok {
		return o
	}
	if id, ok := m.venue[venueID]; ok {
		return m.orders[id]
	}
	return nil
}

func (m *OrderManager) rememberFill(id string) {
	m.fills[id] = struct{}{}
	m.fillOrder = append(m.fillOrder, id)
	if len(m.fillOrder) > m.fillCap {
		delete(m.fills, m.fillOrder[0])
		m.fillOrder = m.fillOrder[1:]
	}
}

func (m *OrderManager) pauseLocked(symbol, reason string) {
	if symbol == "" {
		return
	}
	m.paused[symbol] = reason
	m.log.Error("reconciliation mismatch, symbol paused", "symbol", symbol, "reason", reason)
}

func (m *OrderManager) notifyOrder(o domain.Order) {
	if m.hooks.OnOrder != nil {
		m.hooks.OnOrder(o)
	}
}

func (m *OrderManager) notifyError(symbol string, err error) {
	if m.hooks.OnError != nil {
		m.hooks.OnError(symbol, err)
	}
}
