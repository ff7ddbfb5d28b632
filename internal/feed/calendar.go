package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"tradecore/internal/util"
)

// calendarSource is the subset of *alpaca.Client the calendar loader uses.
type calendarSource interface {
	GetCalendar(req alpaca.GetCalendarRequest) ([]alpaca.CalendarDay, error)
}

// LoadCalendar fills cal with the exchange sessions Alpaca publishes for
// start..end, so holidays and early closes are known to gap detection.
// baseURL is the trading API endpoint.
func LoadCalendar(ctx context.Context, apiKey, apiSecret, baseURL string, cal *util.TradingCalendar, start, end time.Time) error {
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})
	return loadCalendar(ctx, client, cal, start, end)
}

func loadCalendar(ctx context.Context, src calendarSource, cal *util.TradingCalendar, start, end time.Time) error {
	var days []alpaca.CalendarDay
	err := util.Retry(ctx, 3, time.Second, func() error {
		var err error
		days, err = src.GetCalendar(alpaca.GetCalendarRequest{Start: start, End: end})
		return err
	})
	if err != nil {
		return fmt.Errorf("get calendar: %w", err)
	}
	out := make([]util.TradingDay, len(days))
	for i, d := range days {
		out[i] = util.TradingDay{Date: d.Date, Open: d.Open, Close: d.Close}
	}
	return cal.SetDays(start, end, out)
}
