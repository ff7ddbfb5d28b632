package dashboard

import (
	"fmt"
	"math"
	"strings"
)

// FormatInt formats an integer with comma separators.
func FormatInt(n int) string {
	neg := n < 0
	if neg {
		n = -n
	}
	s := fmt.Sprintf("%d", n)
	if len(s) > 3 {
		var b strings.Builder
		start := len(s) % 3
		if start > 0 {
			b.WriteString(s[:start])
		}
		for i := start; i < len(s); i += 3 {
			if b.Len() > 0 {
				b.WriteByte(',')
			}
			b.WriteString(s[i : i+3])
		}
		s = b.String()
	}
	if neg {
		return "-" + s
	}
	return s
}

// FormatMoney formats a dollar amount with comma separators and cents.
func FormatMoney(v float64) string {
	cents := int(math.Round(math.Abs(v) * 100))
	s := fmt.Sprintf("%s.%02d", FormatInt(cents/100), cents%100)
	if v < 0 && cents > 0 {
		return "-" + s
	}
	return s
}

// FormatPnL formats a profit or loss with an explicit sign.
func FormatPnL(v float64) string {
	s := FormatMoney(v)
	if strings.HasPrefix(s, "-") || s == "0.00" {
		return s
	}
	return "+" + s
}

// FormatNotional formats a dollar notional with B/M/K suffixes.
func FormatNotional(v float64) string {
	a := math.Abs(v)
	switch {
	case a >= 1e9:
		return fmt.Sprintf("%.1fB", v/1e9)
	case a >= 1e6:
		return fmt.Sprintf("%.1fM", v/1e6)
	case a >= 1e3:
		return fmt.Sprintf("%.1fK", v/1e3)
	default:
		return fmt.Sprintf("%.0f", v)
	}
}

// FormatPrice formats a price with two decimals, or "-" for zero.
func FormatPrice(p float64) string {
	if p == math.MaxFloat64 || p == 0 {
		return "-"
	}
	return fmt.Sprintf("%.2f", p)
}

// FormatPct formats a fraction as a signed percentage. Values of 100% and
// above drop the decimal to keep width compact.
func FormatPct(f float64) string {
	pct := f * 100
	sign := "+"
	if pct < 0 {
		sign = "-"
		pct = -pct
	}
	if pct >= 100 {
		return fmt.Sprintf("%s%.0f%%", sign, pct)
	}
	return fmt.Sprintf("%s%.1f%%", sign, pct)
}

// FormatRatio formats a used/limit pair such as "3/10". A limit of zero or
// less is shown as unlimited.
func FormatRatio(used, limit int) string {
	if limit <= 0 {
		return fmt.Sprintf("%d/-", used)
	}
	return fmt.Sprintf("%d/%d", used, limit)
}

// FormatQty formats a share quantity, dropping decimals for whole lots.
func FormatQty(q float64) string {
	if q == math.Trunc(q) && math.Abs(q) < 1e15 {
		return FormatInt(int(q))
	}
	return fmt.Sprintf("%.4g", q)
}
