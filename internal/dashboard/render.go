package dashboard

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"tradecore/pkg/tradecore"
)

var (
	sectionStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("6"))
	symbolStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	gainStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	colHeaderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	priceStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	warnStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	haltStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("1"))
)

func pnlStyle(v float64) lipgloss.Style {
	switch {
	case v > 0:
		return gainStyle
	case v < 0:
		return lossStyle
	default:
		return dimStyle
	}
}

func levelStyle(level string) lipgloss.Style {
	switch level {
	case "low":
		return gainStyle
	case "medium":
		return warnStyle
	default:
		return lossStyle
	}
}

// PadOrTrunc pads s with spaces to width, or truncates if longer.
func PadOrTrunc(s string, width int) string {
	if width <= 0 {
		return s
	}
	n := len(s)
	if n >= width {
		return s[:width]
	}
	return s + strings.Repeat(" ", width-n)
}

// HeaderText returns the one-line summary used for the console header bar.
func HeaderText(snap tradecore.Snapshot, sortMode int) string {
	p := snap.Portfolio
	return fmt.Sprintf(
		" %s    equity: %s  day: %s  dd: %s  risk: %s    sort: %s ",
		snap.At.Local().Format("2006-01-02 15:04:05"),
		FormatMoney(p.Equity),
		FormatPnL(p.DailyPnL),
		FormatPct(-p.Drawdown),
		snap.Risk.Level,
		SortModeLabel(sortMode),
	)
}

// Render draws the full dashboard body for a snapshot.
func Render(snap tradecore.Snapshot, sortMode, width int) string {
	v := ComputeView(snap, sortMode)
	var b strings.Builder

	renderAccount(&b, snap, v, width)
	b.WriteString("\n")
	renderPositions(&b, v, width)
	b.WriteString("\n")
	renderOrders(&b, v, width)
	b.WriteString("\n")
	renderSignals(&b, snap, width)
	if len(v.Stats) > 0 {
		b.WriteString("\n")
		renderStats(&b, v, width)
	}
	if len(snap.Paused) > 0 || len(snap.Errors) > 0 {
		b.WriteString("\n")
		renderAlerts(&b, snap, width)
	}
	return b.String()
}

func section(b *strings.Builder, title string, width int) {
	b.WriteString(sectionStyle.Render(PadOrTrunc(" "+title+" ", width)))
	b.WriteString("\n")
}

func renderAccount(b *strings.Builder, snap tradecore.Snapshot, v View, width int) {
	p, r := snap.Portfolio, snap.Risk
	section(b, "ACCOUNT", width)
	if r.Halted {
		b.WriteString(haltStyle.Render(" TRADING HALTED "))
		b.WriteString("\n")
	}
	fmt.Fprintf(b, "  equity %s  cash %s  high %s\n",
		priceStyle.Render(FormatMoney(p.Equity)),
		priceStyle.Render(FormatMoney(p.Cash)),
		dimStyle.Render(FormatMoney(p.HighWater)))
	fmt.Fprintf(b, "  realized %s  unrealized %s  day %s\n",
		pnlStyle(p.RealizedPnL).Render(FormatPnL(p.RealizedPnL)),
		pnlStyle(p.UnrealizedPnL).Render(FormatPnL(p.UnrealizedPnL)),
		pnlStyle(p.DailyPnL).Render(FormatPnL(p.DailyPnL)))
	fmt.Fprintf(b, "  risk %s  drawdown %s  exposure %s (long %s short %s)  positions %s  trades %s\n",
		levelStyle(r.Level).Render(strings.ToUpper(r.Level)),
		FormatPct(-p.Drawdown),
		FormatPct(p.Exposure),
		FormatNotional(v.LongExpo),
		FormatNotional(v.ShortExpo),
		FormatRatio(r.OpenPositions, r.MaxPositions),
		FormatRatio(r.DailyTrades, r.MaxDailyTrades))
	if len(snap.Markets) > 0 {
		b.WriteString(dimStyle.Render("  markets " + strings.Join(snap.Markets, " ")))
		b.WriteString("\n")
	}
}

func renderPositions(b *strings.Builder, v View, width int) {
	section(b, fmt.Sprintf("POSITIONS (%d)", len(v.Positions)), width)
	if len(v.Positions) == 0 {
		b.WriteString(dimStyle.Render("  no open positions"))
		b.WriteString("\n")
		return
	}
	b.WriteString(colHeaderStyle.Render(fmt.Sprintf("  %-8s %-5s %9s %9s %9s %12s %12s",
		"SYMBOL", "SIDE", "QTY", "ENTRY", "MARK", "UNREAL", "REAL")))
	b.WriteString("\n")
	for _, p := range v.Positions {
		b.WriteString("  ")
		b.WriteString(symbolStyle.Render(fmt.Sprintf("%-8s", p.Symbol)))
		fmt.Fprintf(b, " %-5s %9s ", p.Side, FormatQty(p.Qty))
		b.WriteString(priceStyle.Render(fmt.Sprintf("%9s %9s", FormatPrice(p.EntryPrice), FormatPrice(p.MarkPrice))))
		b.WriteString(" ")
		b.WriteString(pnlStyle(p.UnrealizedPnL).Render(fmt.Sprintf("%12s", FormatPnL(p.UnrealizedPnL))))
		b.WriteString(" ")
		b.WriteString(pnlStyle(p.RealizedPnL).Render(fmt.Sprintf("%12s", FormatPnL(p.RealizedPnL))))
		b.WriteString("\n")
	}
}

func renderOrders(b *strings.Builder, v View, width int) {
	section(b, fmt.Sprintf("OPEN ORDERS (%d)", len(v.OpenOrders)), width)
	if len(v.OpenOrders) == 0 {
		b.WriteString(dimStyle.Render("  none"))
		b.WriteString("\n")
		return
	}
	for _, o := range v.OpenOrders {
		b.WriteString("  ")
		b.WriteString(symbolStyle.Render(fmt.Sprintf("%-8s", o.Symbol)))
		fmt.Fprintf(b, " %-4s %-5s %-6s %9s filled %s @ %s  %s\n",
			o.Side, o.Effect, o.Type, FormatQty(o.Qty),
			FormatQty(o.FilledQty), FormatPrice(o.FilledAvgPrice),
			dimStyle.Render(o.Status))
	}
}

func renderSignals(b *strings.Builder, snap tradecore.Snapshot, width int) {
	section(b, fmt.Sprintf("SIGNALS (%d)", len(snap.Signals)), width)
	if len(snap.Signals) == 0 {
		b.WriteString(dimStyle.Render("  none"))
		b.WriteString("\n")
		return
	}
	for _, s := range snap.Signals {
		style := gainStyle
		if s.Direction == "short" {
			style = lossStyle
		}
		b.WriteString("  ")
		b.WriteString(dimStyle.Render(s.CreatedAt.Local().Format("15:04:05")))
		b.WriteString(" ")
		b.WriteString(symbolStyle.Render(fmt.Sprintf("%-8s", s.Symbol)))
		b.WriteString(" ")
		b.WriteString(style.Render(fmt.Sprintf("%-5s", s.Direction)))
		fmt.Fprintf(b, " %4s entry %s stop %s target %s conf %.2f  %s\n",
			s.Timeframe, FormatPrice(s.Entry), FormatPrice(s.StopLoss), FormatPrice(s.TakeProfit),
			s.Confidence, dimStyle.Render(strings.Join(s.Sources, ",")))
	}
	for _, r := range snap.Rejections {
		b.WriteString("  ")
		b.WriteString(lossStyle.Render("x"))
		fmt.Fprintf(b, " %-8s %-5s %s: %s\n", r.Signal.Symbol, r.Signal.Direction, r.Limit, r.Reason)
	}
}

func renderStats(b *strings.Builder, v View, width int) {
	section(b, "EXECUTIONS", width)
	b.WriteString(colHeaderStyle.Render(fmt.Sprintf("  %-8s %5s %9s %9s %9s %9s %9s %8s",
		"SYMBOL", "FILLS", "BOUGHT", "AVG BUY", "SOLD", "AVG SELL", "NOTIONAL", "FEES")))
	b.WriteString("\n")
	for _, s := range v.Stats {
		b.WriteString("  ")
		b.WriteString(symbolStyle.Render(fmt.Sprintf("%-8s", s.Symbol)))
		fmt.Fprintf(b, " %5d %9s %9s %9s %9s %9s %8s\n",
			s.Fills, FormatQty(s.BuyQty), FormatPrice(s.AvgBuy),
			FormatQty(s.SellQty), FormatPrice(s.AvgSell),
			FormatNotional(s.Notional), FormatMoney(s.Commission))
	}
}

func renderAlerts(b *strings.Builder, snap tradecore.Snapshot, width int) {
	section(b, "ALERTS", width)
	symbols := make([]string, 0, len(snap.Paused))
	for sym := range snap.Paused {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		b.WriteString("  ")
		b.WriteString(warnStyle.Render("paused"))
		fmt.Fprintf(b, " %s: %s\n", sym, snap.Paused[sym])
	}
	for _, e := range snap.Errors {
		b.WriteString("  ")
		b.WriteString(lossStyle.Render("error"))
		fmt.Fprintf(b, " %s %s %s\n", e.At.Local().Format("15:04:05"), e.Symbol, e.Message)
	}
}
