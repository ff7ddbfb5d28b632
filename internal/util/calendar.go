package util

import (
	"fmt"
	"sync"
	"time"
	_ "time/tzdata" // America/New_York without a system zoneinfo
)

// Session is a named daily UTC window such as a kill zone. Start and End are
// "HH:MM"; a window whose End is not after its Start wraps past midnight.
type Session struct {
	Name  string `yaml:"name"`
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// DefaultSessions returns the London, New York and Asian kill zones.
func DefaultSessions() []Session {
	return []Session{
		{Name: "london", Start: "02:00", End: "05:00"},
		{Name: "new_york", Start: "07:00", End: "10:00"},
		{Name: "asian", Start: "20:00", End: "23:00"},
	}
}

type window struct {
	name       string
	start, end time.Duration // offsets from UTC midnight
}

func (w window) contains(off time.Duration) bool {
	if w.start < w.end {
		return off >= w.start && off < w.end
	}
	return off >= w.start || off < w.end
}

// SessionCalendar answers which session, if any, a timestamp falls in.
type SessionCalendar struct {
	windows []window
}

// NewSessionCalendar parses the given sessions.
func NewSessionCalendar(sessions []Session) (*SessionCalendar, error) {
	c := &SessionCalendar{}
	for _, s := range sessions {
		start, err := parseClock(s.Start)
		if err != nil {
			return nil, fmt.Errorf("session %q start: %w", s.Name, err)
		}
		end, err := parseClock(s.End)
		if err != nil {
			return nil, fmt.Errorf("session %q end: %w", s.Name, err)
		}
		c.windows = append(c.windows, window{name: s.Name, start: start, end: end})
	}
	return c, nil
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func offset(t time.Time) time.Duration {
	t = t.UTC()
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second
}

// Active returns the name of the first session containing t.
func (c *SessionCalendar) Active(t time.Time) (string, bool) {
	off := offset(t)
	for _, w := range c.windows {
		if w.contains(off) {
			return w.name, true
		}
	}
	return "", false
}

// NextOpen returns the name and start time of the next session opening
// strictly after t.
func (c *SessionCalendar) NextOpen(t time.Time) (string, time.Time) {
	if len(c.windows) == 0 {
		return "", time.Time{}
	}
	t = t.UTC()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	var (
		name string
		best time.Time
	)
	for _, w := range c.windows {
		open := midnight.Add(w.start)
		if !open.After(t) {
			open = open.Add(24 * time.Hour)
		}
		if best.IsZero() || open.Before(best) {
			name, best = w.name, open
		}
	}
	return name, best
}

// TradingDay is one session of an exchange calendar. Date, Open and Close
// are as published: "2006-01-02" and "15:04" in the exchange time zone.
type TradingDay struct {
	Date  string
	Open  string
	Close string
}

type session struct {
	open, close time.Time
}

// TradingCalendar knows when an exchange is open. Without loaded days it
// assumes regular US equity hours, 09:30 to 16:00 New York time on weekdays.
// Loaded days replace that rule over the range they cover, so a date in the
// range with no session is a holiday.
type TradingCalendar struct {
	loc        *time.Location
	continuous bool

	mu       sync.RWMutex
	days     map[string]session
	from, to string // loaded range, inclusive dates
}

// NewTradingCalendar returns the US equity calendar.
func NewTradingCalendar() *TradingCalendar {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.FixedZone("EST", -5*60*60)
	}
	return &TradingCalendar{loc: loc, days: make(map[string]session)}
}

// ContinuousCalendar returns a calendar that never closes.
func ContinuousCalendar() *TradingCalendar {
	return &TradingCalendar{loc: time.UTC, continuous: true, days: make(map[string]session)}
}

// Location returns the exchange time zone.
func (c *TradingCalendar) Location() *time.Location { return c.loc }

// SetDays loads published sessions covering from..to (dates in the exchange
// zone, inclusive).
func (c *TradingCalendar) SetDays(from, to time.Time, days []TradingDay) error {
	parsed := make(map[string]session, len(days))
	for _, d := range days {
		date, err := time.ParseInLocation("2006-01-02", d.Date, c.loc)
		if err != nil {
			return fmt.Errorf("calendar day %q: %w", d.Date, err)
		}
		open, err := parseClock(d.Open)
		if err != nil {
			return fmt.Errorf("calendar day %s open: %w", d.Date, err)
		}
		cl, err := parseClock(d.Close)
		if err != nil {
			return fmt.Errorf("calendar day %s close: %w", d.Date, err)
		}
		parsed[d.Date] = session{open: atClock(date, open), close: atClock(date, cl)}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.days = parsed
	c.from = from.In(c.loc).Format("2006-01-02")
	c.to = to.In(c.loc).Format("2006-01-02")
	return nil
}

func atClock(date time.Time, off time.Duration) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(),
		int(off/time.Hour), int(off%time.Hour/time.Minute), 0, 0, date.Location())
}

// sessionOn returns the session of the exchange-zone date of day.
func (c *TradingCalendar) sessionOn(day time.Time) (session, bool) {
	day = day.In(c.loc)
	key := day.Format("2006-01-02")
	c.mu.RLock()
	s, ok := c.days[key]
	loaded := c.from != "" && key >= c.from && key <= c.to
	c.mu.RUnlock()
	if ok {
		return s, true
	}
	if loaded {
		return session{}, false
	}
	if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return session{}, false
	}
	date := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, c.loc)
	return session{
		open:  atClock(date, 9*time.Hour+30*time.Minute),
		close: atClock(date, 16*time.Hour),
	}, true
}

// IsMarketOpen reports whether t falls inside a session.
func (c *TradingCalendar) IsMarketOpen(t time.Time) bool {
	if c.continuous {
		return true
	}
	s, ok := c.sessionOn(t)
	return ok && !t.Before(s.open) && t.Before(s.close)
}

// NextOpen returns the first session open strictly after t.
func (c *TradingCalendar) NextOpen(t time.Time) time.Time {
	if c.continuous {
		return t
	}
	day := t.In(c.loc)
	for i := 0; i < maxCalendarDays; i++ {
		if s, ok := c.sessionOn(day); ok && s.open.After(t) {
			return s.open
		}
		day = day.AddDate(0, 0, 1)
	}
	return time.Time{}
}

const maxCalendarDays = 4000

// ExpectedBars counts the bars of length interval strictly between the
// bars starting at after and before that the exchange should have
// produced. An intraday bar is expected when it overlaps a session; a bar
// of a day or longer is expected for every trading day.
func (c *TradingCalendar) ExpectedBars(after, before time.Time, interval time.Duration) int {
	if interval <= 0 || !before.After(after) {
		return 0
	}
	if c.continuous {
		return max(int(before.Sub(after)/interval)-1, 0)
	}

	first := after.In(c.loc)
	last := before.In(c.loc)
	if interval >= 24*time.Hour {
		n := 0
		day := first.AddDate(0, 0, 1)
		for i := 0; i < maxCalendarDays && day.Format("2006-01-02") < last.Format("2006-01-02"); i++ {
			if _, ok := c.sessionOn(day); ok {
				n++
			}
			day = day.AddDate(0, 0, 1)
		}
		return n
	}

	// Bar starts are after + k*interval for k >= 1, before excluded. A bar
	// overlaps [open, close) when open-interval < start < close.
	n := 0
	day := first
	for i := 0; i < maxCalendarDays; i++ {
		s, ok := c.sessionOn(day)
		if ok {
			lo := floorDiv(s.open.Add(-interval).Sub(after), interval) + 1
			if lo < 1 {
				lo = 1
			}
			end := s.close
			if before.Before(end) {
				end = before
			}
			hi := ceilDiv(end.Sub(after), interval) - 1
			if hi >= lo {
				n += int(hi - lo + 1)
			}
		}
		if day.Format("2006-01-02") >= last.Format("2006-01-02") {
			break
		}
		day = day.AddDate(0, 0, 1)
	}
	return n
}

func floorDiv(a, b time.Duration) int64 {
	q := a / b
	if a%b != 0 && a < 0 {
		q--
	}
	return int64(q)
}

func ceilDiv(a, b time.Duration) int64 {
	q := a / b
	if a%b != 0 && a > 0 {
		q++
	}
	return int64(q)
}
