// Package dashboard provides aggregation and rendering of the trader's
// status snapshot, shared by the console client and the CLI.
package dashboard

import (
	"math"
	"sort"
	"strings"

	"tradecore/pkg/tradecore"
)

// SymbolStats holds aggregated execution statistics for a single symbol.
type SymbolStats struct {
	Symbol     string
	Fills      int
	BuyQty     float64
	SellQty    float64
	AvgBuy     float64 // volume-weighted buy price
	AvgSell    float64 // volume-weighted sell price
	High       float64
	Low        float64
	First      float64 // first fill price (by timestamp)
	Last       float64 // last fill price (by timestamp)
	Notional   float64 // sum(price * qty)
	Commission float64
}

// AggregateFills computes per-symbol statistics from a slice of fills.
// Fills are sorted by timestamp per symbol so First and Last are temporal.
func AggregateFills(fills []tradecore.Fill) map[string]*SymbolStats {
	groups := make(map[string][]int)
	for i := range fills {
		groups[fills[i].Symbol] = append(groups[fills[i].Symbol], i)
	}

	m := make(map[string]*SymbolStats, len(groups))
	for sym, indices := range groups {
		sort.SliceStable(indices, func(a, b int) bool {
			return fills[indices[a]].Timestamp.Before(fills[indices[b]].Timestamp)
		})

		s := &SymbolStats{Symbol: sym, Low: math.MaxFloat64}
		var buyCost, sellCost float64
		for j, idx := range indices {
			f := &fills[idx]
			s.Fills++
			s.Notional += f.Price * f.Qty
			s.Commission += f.Commission
			if f.Side == "buy" {
				s.BuyQty += f.Qty
				buyCost += f.Price * f.Qty
			} else {
				s.SellQty += f.Qty
				sellCost += f.Price * f.Qty
			}
			if f.Price > s.High {
				s.High = f.Price
			}
			if f.Price < s.Low {
				s.Low = f.Price
			}
			if j == 0 {
				s.First = f.Price
			}
			s.Last = f.Price
		}
		if s.BuyQty > 0 {
			s.AvgBuy = buyCost / s.BuyQty
		}
		if s.SellQty > 0 {
			s.AvgSell = sellCost / s.SellQty
		}
		m[sym] = s
	}
	return m
}

// Sort modes for the positions table.
const (
	SortPnL       = 0 // unrealized P&L, best first (default)
	SortExposure  = 1 // notional at mark, largest first
	SortSymbol    = 2 // alphabetical
	SortAge       = 3 // oldest position first
	SortModeCount = 4
)

// SortModeLabel returns a short label for the given sort mode.
func SortModeLabel(mode int) string {
	switch mode {
	case SortPnL:
		return "PNL"
	case SortExposure:
		return "EXPO"
	case SortSymbol:
		return "SYM"
	case SortAge:
		return "AGE"
	default:
		return "?"
	}
}

func notional(p tradecore.Position) float64 {
	mark := p.MarkPrice
	if mark == 0 {
		mark = p.EntryPrice
	}
	return math.Abs(p.Qty) * mark
}

// SortPositions sorts positions in place by the given sort mode. Ties fall
// back to the symbol so the order is stable across refreshes.
func SortPositions(ps []tradecore.Position, mode int) {
	sort.SliceStable(ps, func(i, j int) bool {
		a, b := ps[i], ps[j]
		switch mode {
		case SortExposure:
			if na, nb := notional(a), notional(b); na != nb {
				return na > nb
			}
		case SortAge:
			if !a.OpenedAt.Equal(b.OpenedAt) {
				return a.OpenedAt.Before(b.OpenedAt)
			}
		case SortSymbol:
		default:
			if a.UnrealizedPnL != b.UnrealizedPnL {
				return a.UnrealizedPnL > b.UnrealizedPnL
			}
		}
		return a.Symbol < b.Symbol
	})
}

// View is the computed content of one dashboard frame.
type View struct {
	Positions   []tradecore.Position
	LongExpo    float64
	ShortExpo   float64
	Stats       []*SymbolStats // by notional, largest first
	OpenOrders  []tradecore.Order
	PausedCount int
}

// ComputeView builds a View from a snapshot. The snapshot is not modified.
func ComputeView(snap tradecore.Snapshot, sortMode int) View {
	v := View{
		Positions:   append([]tradecore.Position(nil), snap.Portfolio.Positions...),
		PausedCount: len(snap.Paused),
	}
	SortPositions(v.Positions, sortMode)
	for _, p := range v.Positions {
		if p.Side == "short" {
			v.ShortExpo += notional(p)
		} else {
			v.LongExpo += notional(p)
		}
	}

	for _, s := range AggregateFills(snap.Fills) {
		v.Stats = append(v.Stats, s)
	}
	sort.Slice(v.Stats, func(i, j int) bool {
		if v.Stats[i].Notional != v.Stats[j].Notional {
			return v.Stats[i].Notional > v.Stats[j].Notional
		}
		return v.Stats[i].Symbol < v.Stats[j].Symbol
	})

	for _, o := range snap.Orders {
		if IsOpenStatus(o.Status) {
			v.OpenOrders = append(v.OpenOrders, o)
		}
	}
	return v
}

// IsOpenStatus reports whether an order status is non-terminal.
func IsOpenStatus(status string) bool {
	switch strings.ToLower(status) {
	case "pending", "submitted", "partially_filled":
		return true
	}
	return false
}
