// Package engine drives the trading core: it pulls candles from the market
// data feed through one Pipeline per (symbol, timeframe), sizes and vets
// signals with the RiskManager, submits and tracks orders through the
// OrderManager, and runs protective exits for the positions it opened.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tradecore/internal/broker"
	"tradecore/internal/domain"
	"tradecore/internal/feed"
	"tradecore/internal/indicator"
	"tradecore/internal/ledger"
	"tradecore/internal/signal"
)

// Config assembles the engine's sections.
type Config struct {
	Markets   []domain.Key
	Pipeline  PipelineConfig
	Signal    signal.Config
	Risk      RiskConfig
	Execution ExecutionConfig
	// SweepInterval is how often stale orders are flagged and a portfolio
	// snapshot is journaled.
	SweepInterval time.Duration
	// ResubscribeDelay is the pause before a finished subscription is
	// restarted.
	ResubscribeDelay time.Duration
	// StopOnFeedEnd ends Run once every subscription is exhausted, as in
	// replay.
	StopOnFeedEnd bool
}

// Journal persists the trading record. Implementations must not block.
type Journal interface {
	AppendSignal(sig domain.Signal)
	AppendTrade(o domain.Order, fills []domain.Fill)
	AppendSnapshot(snap domain.PortfolioSnapshot)
}

// Reporter receives everything the status surface shows.
type Reporter interface {
	ReportSignal(sig domain.Signal)
	ReportRejection(sig domain.Signal, d domain.RiskDecision)
	ReportOrder(o domain.Order)
	ReportFill(f domain.Fill)
	ReportError(symbol string, err error)
}

// Options carries optional collaborators.
type Options struct {
	Registry *indicator.Registry
	Journal  Journal
	Reporter Reporter
	Logger   *slog.Logger
}

type nopJournal struct{}

func (nopJournal) AppendSignal(domain.Signal)               {}
func (nopJournal) AppendTrade(domain.Order, []domain.Fill) {}
func (nopJournal) AppendSnapshot(domain.PortfolioSnapshot) {}

type nopReporter struct{}

func (nopReporter) ReportSignal(domain.Signal)                         {}
func (nopReporter) ReportRejection(domain.Signal, domain.RiskDecision) {}
func (nopReporter) ReportOrder(domain.Order)                           {}
func (nopReporter) ReportFill(domain.Fill)                             {}
func (nopReporter) ReportError(string, error)                          {}

type planKey struct {
	symbol string
	side   domain.Direction
}

// exitPlan holds the protective levels of a position opened from a signal.
type exitPlan struct {
	signalID  string
	stop      float64
	target    float64
	exitOrder string // working exit order id
}

// Engine is the composition of the decision core for one trading session.
type Engine struct {
	cfg       Config
	feed      feed.Feed
	broker    broker.Broker
	ledger    *ledger.Ledger
	risk      *RiskManager
	orders    *OrderManager
	pipelines []*Pipeline
	journal   Journal
	reporter  Reporter
	log       *slog.Logger

	mu      sync.Mutex
	plans   map[planKey]*exitPlan
	pending map[string]exitPlan // entry order id -> plan

	symMu   sync.Mutex
	symbols map[string]*sync.Mutex // serializes entries per symbol
}

// NewEngine wires the engine. The ledger is the only state shared between
// pipelines.
func NewEngine(cfg Config, f feed.Feed, b broker.Broker, l *ledger.Ledger, opts Options) (*Engine, error) {
	if len(cfg.Markets) == 0 {
		return nil, errors.New("engine: no markets configured")
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 15 * time.Second
	}
	if cfg.ResubscribeDelay <= 0 {
		cfg.ResubscribeDelay = 5 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		cfg:      cfg,
		feed:     f,
		broker:   b,
		ledger:   l,
		risk:     NewRiskManager(cfg.Risk),
		journal:  opts.Journal,
		reporter: opts.Reporter,
		log:      log.With("component", "engine"),
		plans:    make(map[planKey]*exitPlan),
		pending:  make(map[string]exitPlan),
		symbols:  make(map[string]*sync.Mutex),
	}
	if e.journal == nil {
		e.journal = nopJournal{}
	}
	if e.reporter == nil {
		e.reporter = nopReporter{}
	}
	e.orders = NewOrderManager(cfg.Execution, b, l, Hooks{
		OnOrder: e.onOrder,
		OnFill:  e.onFill,
		OnError: e.onError,
	}, log.With("component", "orders"))

	agg, err := signal.NewAggregator(cfg.Signal, exposure{ledger: l, orders: e.orders}, log.With("component", "signal"))
	if err != nil {
		return nil, err
	}
	seen := make(map[domain.Key]bool)
	for _, key := range cfg.Markets {
		if seen[key] {
			continue
		}
		seen[key] = true
		p, err := NewPipeline(key, cfg.Pipeline, opts.Registry, agg, log)
		if err != nil {
			return nil, err
		}
		e.pipelines = append(e.pipelines, p)
	}
	return e, nil
}

// exposure is the aggregator's read-only view of positions and orders.
type exposure struct {
	ledger *ledger.Ledger
	orders *OrderManager
}

func (x exposure) HasPosition(symbol string, side domain.Direction) bool {
	return x.ledger.HasPosition(symbol, side)
}

func (x exposure) HasWorkingOrder(symbol string, side domain.Direction) bool {
	return x.orders.HasWorkingOrder(symbol, side)
}

// Run processes every subscription until ctx is cancelled or, with
// StopOnFeedEnd, until all feeds are exhausted.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.consume(gctx) })
	g.Go(func() error { return e.sweepLoop(gctx) })
	if runner, ok := e.broker.(interface{ Run(context.Context) error }); ok {
		g.Go(func() error { return runner.Run(gctx) })
	}

	var feeds sync.WaitGroup
	for _, p := range e.pipelines {
		feeds.Add(1)
		g.Go(func() error {
			defer feeds.Done()
			return e.runPipeline(gctx, p)
		})
	}
	if e.cfg.StopOnFeedEnd {
		go func() {
			feeds.Wait()
			// Let in-flight executions land before stopping.
			select {
			case <-time.After(250 * time.Millisecond):
			case <-gctx.Done():
			}
			cancel()
		}()
	}

	e.log.Info("engine started", "markets", len(e.pipelines), "broker", e.broker.Name())
	err := g.Wait()
	e.journal.AppendSnapshot(e.ledger.Snapshot())
	e.log.Info("engine stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (e *Engine) runPipeline(ctx context.Context, p *Pipeline) error {
	key := p.Key()
	for {
		for c, err := range e.feed.Subscribe(ctx, key) {
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				e.log.Warn("feed error", "market", key.String(), "error", err)
				e.reporter.ReportError(key.Symbol, err)
				continue
			}
			e.HandleCandle(ctx, p, c)
		}
		if ctx.Err() != nil || e.cfg.StopOnFeedEnd {
			return nil
		}
		e.log.Info("subscription ended, restarting", "market", key.String())
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(e.cfg.ResubscribeDelay):
		}
	}
}

// HandleCandle runs one closed candle through its pipeline, marks the
// portfolio, checks protective exits and acts on any signal.
func (e *Engine) HandleCandle(ctx context.Context, p *Pipeline, c domain.Candle) {
	res, err := p.Process(ctx, c)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInvalidSignal):
		e.reporter.ReportError(c.Symbol, err)
	case ctx.Err() != nil:
		return
	default:
		e.log.Warn("candle rejected", "market", p.Key().String(), "error", err)
		e.reporter.ReportError(c.Symbol, err)
		return
	}
	if res.Gap != nil {
		e.reporter.ReportError(c.Symbol, res.Gap)
	}

	if obs, ok := e.broker.(broker.PriceObserver); ok {
		obs.OnCandle(res.Candle)
	}
	e.ledger.Mark(c.Symbol, c.Close, c.Start)
	e.checkExits(ctx, res.Candle)

	if res.HasSignal {
		e.act(ctx, res.Signal)
	}
}

func (e *Engine) symbolLock(symbol string) *sync.Mutex {
	e.symMu.Lock()
	defer e.symMu.Unlock()
	l, ok := e.symbols[symbol]
	if !ok {
		l = &sync.Mutex{}
		e.symbols[symbol] = l
	}
	return l
}

// act vets and submits an entry. Pipelines of one symbol on different
// timeframes take turns, so the exposure check and the order it guards are
// atomic per symbol.
func (e *Engine) act(ctx context.Context, sig domain.Signal) {
	lock := e.symbolLock(sig.Symbol)
	lock.Lock()
	defer lock.Unlock()
	if e.ledger.HasPosition(sig.Symbol, sig.Direction) || e.orders.HasWorkingOrder(sig.Symbol, sig.Direction) {
		e.log.Info("signal dropped, exposure already open", "signal_id", sig.ID, "symbol", sig.Symbol,
			"timeframe", sig.Timeframe, "direction", sig.Direction)
		return
	}

	e.reporter.ReportSignal(sig)
	e.journal.AppendSignal(sig)

	d := e.risk.Evaluate(sig, e.ledger.Snapshot())
	if !d.Approved {
		e.log.Info("signal rejected by risk", "signal_id", sig.ID, "symbol", sig.Symbol, "limit", d.Limit, "reason", d.Reason)
		e.reporter.ReportRejection(sig, d)
		return
	}

	o := e.orders.EntryOrder(sig, d.Size)
	o.ID = uuid.NewString()
	e.mu.Lock()
	e.pending[o.ID] = exitPlan{signalID: sig.ID, stop: sig.StopLoss, target: sig.TakeProfit}
	e.mu.Unlock()

	if _, err := e.orders.Submit(ctx, o); err != nil {
		e.reporter.ReportError(sig.Symbol, err)
	}
}

// checkExits submits a closing market order when c trades through the stop
// or the target of an open position. A candle touching both counts as a
// stop.
func (e *Engine) checkExits(ctx context.Context, c domain.Candle) {
	for _, side := range []domain.Direction{domain.Long, domain.Short} {
		k := planKey{c.Symbol, side}
		e.mu.Lock()
		plan, ok := e.plans[k]
		if !ok || plan.exitOrder != "" {
			e.mu.Unlock()
			continue
		}
		reason := ""
		switch side {
		case domain.Long:
			if c.Low <= plan.stop {
				reason = "stop_loss"
			} else if c.High >= plan.target {
				reason = "take_profit"
			}
		case domain.Short:
			if c.High >= plan.stop {
				reason = "stop_loss"
			} else if c.Low <= plan.target {
				reason = "take_profit"
			}
		}
		if reason == "" {
			e.mu.Unlock()
			continue
		}
		pos, open := e.ledger.Snapshot().Position(c.Symbol, side)
		if !open {
			delete(e.plans, k)
			e.mu.Unlock()
			continue
		}
		o := ExitOrder(c.Symbol, side, pos.Qty, reason)
		o.ID = uuid.NewString()
		plan.exitOrder = o.ID
		e.mu.Unlock()

		e.log.Info("protective exit", "symbol", c.Symbol, "side", side, "reason", reason, "qty", pos.Qty, "price", c.Close)
		if _, err := e.orders.Submit(ctx, o); err != nil {
			e.reporter.ReportError(c.Symbol, err)
			e.mu.Lock()
			if plan.exitOrder == o.ID {
				plan.exitOrder = ""
			}
			e.mu.Unlock()
		}
	}
}

func (e *Engine) onFill(f domain.Fill, o domain.Order, snap domain.PortfolioSnapshot) {
	e.reporter.ReportFill(f)
	e.journal.AppendTrade(o, []domain.Fill{f})

	k := planKey{o.Symbol, o.PositionSide}
	e.mu.Lock()
	defer e.mu.Unlock()
	switch o.Effect {
	case domain.EffectOpen:
		if p, ok := e.pending[o.ID]; ok {
			cur, exists := e.plans[k]
			if !exists || cur.signalID != p.signalID {
				p.exitOrder = ""
				if exists {
					p.exitOrder = cur.exitOrder
				}
				e.plans[k] = &p
			}
		}
	case domain.EffectClose:
		if _, open := snap.Position(o.Symbol, o.PositionSide); !open {
			delete(e.plans, k)
		}
	}
}

func (e *Engine) onOrder(o domain.Order) {
	e.reporter.ReportOrder(o)
	e.journal.AppendTrade(o, nil)
	if o.Effect != domain.EffectClose || !o.Status.Terminal() {
		return
	}
	e.mu.Lock()
	if p, ok := e.plans[planKey{o.Symbol, o.PositionSide}]; ok && p.exitOrder == o.ID {
		// Re-arm for whatever the exit left open.
		p.exitOrder = ""
	}
	e.mu.Unlock()
}

func (e *Engine) onError(symbol string, err error) {
	e.reporter.ReportError(symbol, err)
}

func (e *Engine) consume(ctx context.Context) error {
	events := e.broker.Events()
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case ev, ok := <-events:
					if !ok {
						return nil
					}
					e.handleEvent(ev)
				default:
					return nil
				}
			}
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			e.handleEvent(ev)
		}
	}
}

func (e *Engine) handleEvent(ev broker.Event) {
	if ev.Fill != nil {
		// Mismatches reach the status surface through the OnError hook.
		_ = e.orders.ApplyFill(*ev.Fill)
	}
	if ev.Update != nil {
		e.orders.ApplyUpdate(*ev.Update)
	}
}

func (e *Engine) sweepLoop(ctx context.Context) error {
	t := time.NewTicker(e.cfg.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			e.Sweep(now)
		}
	}
}

// Sweep flags orders stuck without venue progress, forgets entry plans of
// orders no longer retained and journals a portfolio snapshot.
func (e *Engine) Sweep(now time.Time) {
	for _, o := range e.orders.Sweep(now) {
		e.reporter.ReportError(o.Symbol, fmt.Errorf("%w: order %s made no progress, flagged for reconciliation",
			domain.ErrExecutionFailure, o.ID))
	}
	e.mu.Lock()
	for id := range e.pending {
		if _, ok := e.orders.Order(id); !ok {
			delete(e.pending, id)
		}
	}
	e.mu.Unlock()
	e.journal.AppendSnapshot(e.ledger.Snapshot())
}

// ---------------------------------------------------------------------------
// Read-only views for the status surface
// ---------------------------------------------------------------------------

// Portfolio returns the current ledger snapshot.
func (e *Engine) Portfolio() domain.PortfolioSnapshot { return e.ledger.Snapshot() }

// Risk returns the portfolio's position against the risk limits.
func (e *Engine) Risk() domain.RiskState { return e.risk.State(e.ledger.Snapshot()) }

// Orders returns the retained orders, newest first.
func (e *Engine) Orders() []domain.Order { return e.orders.Orders() }

// Paused returns the symbols whose order submission is paused.
func (e *Engine) Paused() map[string]string { return e.orders.PausedSymbols() }

// Resume lifts a reconciliation pause on symbol.
func (e *Engine) Resume(symbol string) bool { return e.orders.Resume(symbol) }

// Markets lists the pipelines' keys.
func (e *Engine) Markets() []domain.Key {
	out := make([]domain.Key, len(e.pipelines))
	for i, p := range e.pipelines {
		out[i] = p.Key()
	}
	return out
}

// Pipeline returns the pipeline for key.
func (e *Engine) Pipeline(key domain.Key) (*Pipeline, bool) {
	for _, p := range e.pipelines {
		if p.Key() == key {
			return p, true
		}
	}
	return nil, false
}
