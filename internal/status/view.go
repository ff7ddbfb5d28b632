package status

import (
	"tradecore/internal/domain"
	"tradecore/pkg/tradecore"
)

// Wire converts the snapshot to the client-facing representation.
func (s Snapshot) Wire() tradecore.Snapshot {
	out := tradecore.Snapshot{
		Portfolio:  WirePortfolio(s.Portfolio),
		Risk:       WireRisk(s.Risk),
		Paused:     s.Paused,
		Markets:    s.Markets,
		Signals:    make([]tradecore.Signal, 0, len(s.Signals)),
		Rejections: make([]tradecore.Rejection, 0, len(s.Rejections)),
		Orders:     make([]tradecore.Order, 0, len(s.Orders)),
		Fills:      make([]tradecore.Fill, 0, len(s.Fills)),
		Errors:     make([]tradecore.ErrorEntry, 0, len(s.Errors)),
		At:         s.At,
	}
	if out.Paused == nil {
		out.Paused = map[string]string{}
	}
	for _, sig := range s.Signals {
		out.Signals = append(out.Signals, WireSignal(sig))
	}
	for _, r := range s.Rejections {
		out.Rejections = append(out.Rejections, wireRejection(r))
	}
	for _, o := range s.Orders {
		out.Orders = append(out.Orders, WireOrder(o))
	}
	for _, f := range s.Fills {
		out.Fills = append(out.Fills, WireFill(f))
	}
	for _, e := range s.Errors {
		out.Errors = append(out.Errors, wireError(e))
	}
	return out
}

// Wire converts the event to the client-facing representation.
func (e Event) Wire() tradecore.Event {
	out := tradecore.Event{Kind: string(e.Kind), At: e.At}
	switch {
	case e.Signal != nil:
		s := WireSignal(*e.Signal)
		out.Signal = &s
	case e.Rejection != nil:
		r := wireRejection(*e.Rejection)
		out.Rejection = &r
	case e.Order != nil:
		o := WireOrder(*e.Order)
		out.Order = &o
	case e.Fill != nil:
		f := WireFill(*e.Fill)
		out.Fill = &f
	case e.Error != nil:
		x := wireError(*e.Error)
		out.Error = &x
	}
	return out
}

// WirePortfolio converts a ledger snapshot.
func WirePortfolio(p domain.PortfolioSnapshot) tradecore.Portfolio {
	out := tradecore.Portfolio{
		Cash:          p.Cash,
		Equity:        p.Equity,
		RealizedPnL:   p.RealizedPnL,
		UnrealizedPnL: p.UnrealizedPnL,
		HighWater:     p.HighWater,
		Drawdown:      p.Drawdown,
		Exposure:      p.Exposure,
		DailyPnL:      p.DailyPnL,
		DailyTrades:   p.DailyTrades,
		Positions:     make([]tradecore.Position, 0, len(p.Positions)),
		Timestamp:     p.Timestamp,
	}
	for _, pos := range p.Positions {
		out.Positions = append(out.Positions, tradecore.Position{
			Symbol:        pos.Symbol,
			Side:          string(pos.Side),
			Qty:           pos.Qty,
			EntryPrice:    pos.EntryPrice,
			MarkPrice:     pos.MarkPrice,
			UnrealizedPnL: pos.UnrealizedPnL,
			RealizedPnL:   pos.RealizedPnL,
			OpenedAt:      pos.OpenedAt,
		})
	}
	return out
}

// WireRisk converts a risk state.
func WireRisk(r domain.RiskState) tradecore.Risk {
	return tradecore.Risk{
		Level:          r.Level,
		Halted:         r.Halted,
		Equity:         r.Equity,
		Drawdown:       r.Drawdown,
		MaxDrawdown:    r.MaxDrawdown,
		DailyPnL:       r.DailyPnL,
		MaxDailyLoss:   r.MaxDailyLoss,
		Exposure:       r.Exposure,
		MaxExposure:    r.MaxExposure,
		OpenPositions:  r.OpenPositions,
		MaxPositions:   r.MaxPositions,
		DailyTrades:    r.DailyTrades,
		MaxDailyTrades: r.MaxDailyTrades,
	}
}

// WireSignal converts a signal; contributions are reduced to their names.
func WireSignal(s domain.Signal) tradecore.Signal {
	out := tradecore.Signal{
		ID:         s.ID,
		Symbol:     s.Symbol,
		Timeframe:  string(s.Timeframe),
		Direction:  string(s.Direction),
		Entry:      s.Entry,
		StopLoss:   s.StopLoss,
		TakeProfit: s.TakeProfit,
		Confidence: s.Confidence,
		StopSource: s.StopSource,
		KillZone:   s.KillZone,
		Sources:    make([]string, 0, len(s.Contributions)),
		CreatedAt:  s.CreatedAt,
	}
	for _, c := range s.Contributions {
		out.Sources = append(out.Sources, c.Name)
	}
	return out
}

// WireOrder converts an order.
func WireOrder(o domain.Order) tradecore.Order {
	return tradecore.Order{
		ID:             o.ID,
		VenueID:        o.VenueID,
		Symbol:         o.Symbol,
		Side:           string(o.Side),
		PositionSide:   string(o.PositionSide),
		Effect:         string(o.Effect),
		Type:           string(o.Type),
		Qty:            o.Qty,
		LimitPrice:     o.LimitPrice,
		Status:         string(o.Status),
		FilledQty:      o.FilledQty,
		FilledAvgPrice: o.FilledAvgPrice,
		Reason:         o.Reason,
		Reconcile:      o.Reconcile,
		UpdatedAt:      o.UpdatedAt,
	}
}

// WireFill converts a fill.
func WireFill(f domain.Fill) tradecore.Fill {
	return tradecore.Fill{
		ID:         f.ID,
		OrderID:    f.OrderID,
		Symbol:     f.Symbol,
		Side:       string(f.Side),
		Effect:     string(f.Effect),
		Qty:        f.Qty,
		Price:      f.Price,
		Commission: f.Commission,
		Timestamp:  f.Timestamp,
	}
}

func wireRejection(r Rejection) tradecore.Rejection {
	return tradecore.Rejection{
		Signal: WireSignal(r.Signal),
		Limit:  string(r.Decision.Limit),
		Reason: r.Decision.Reason,
		At:     r.At,
	}
}

func wireError(e ErrorRecord) tradecore.ErrorEntry {
	return tradecore.ErrorEntry{Symbol: e.Symbol, Message: e.Message, At: e.At}
}
