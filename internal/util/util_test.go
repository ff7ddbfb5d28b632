package util

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3

	err := Retry(context.Background(), maxAttempts, 0, func() error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestRetryPermanent(t *testing.T) {
	attempts := 0
	base := errors.New("order rejected")

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		return Permanent(base)
	})

	if attempts != 1 {
		t.Errorf("Retry called fn %d times, want 1", attempts)
	}
	if !errors.Is(err, base) || !errors.Is(err, ErrPermanent) {
		t.Errorf("Retry error = %v, want wrapped permanent %v", err, base)
	}
}

func TestRateLimiterBurst(t *testing.T) {
	rl := NewRateLimiter(60, 2)
	if !rl.Allow() || !rl.Allow() {
		t.Fatal("burst of 2 should allow two immediate calls")
	}
	if rl.Allow() {
		t.Error("third immediate call should be limited")
	}
}

func TestRateLimiterWaitCancelled(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	rl.Allow()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait error = %v, want deadline exceeded", err)
	}
}

func TestSessionCalendar(t *testing.T) {
	cal, err := NewSessionCalendar(DefaultSessions())
	if err != nil {
		t.Fatalf("NewSessionCalendar: %v", err)
	}

	cases := []struct {
		at   time.Time
		want string
	}{
		{time.Date(2024, 3, 4, 2, 0, 0, 0, time.UTC), "london"},
		{time.Date(2024, 3, 4, 4, 59, 0, 0, time.UTC), "london"},
		{time.Date(2024, 3, 4, 5, 0, 0, 0, time.UTC), ""},
		{time.Date(2024, 3, 4, 8, 30, 0, 0, time.UTC), "new_york"},
		{time.Date(2024, 3, 4, 21, 0, 0, 0, time.UTC), "asian"},
		{time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC), ""},
	}
	for _, tc := range cases {
		got, _ := cal.Active(tc.at)
		if got != tc.want {
			t.Errorf("Active(%s) = %q, want %q", tc.at.Format("15:04"), got, tc.want)
		}
	}
}

func TestSessionCalendarWrapsMidnight(t *testing.T) {
	cal, err := NewSessionCalendar([]Session{{Name: "overnight", Start: "22:00", End: "01:00"}})
	if err != nil {
		t.Fatalf("NewSessionCalendar: %v", err)
	}
	if _, ok := cal.Active(time.Date(2024, 3, 4, 0, 30, 0, 0, time.UTC)); !ok {
		t.Error("00:30 should fall in a 22:00-01:00 session")
	}
	if _, ok := cal.Active(time.Date(2024, 3, 4, 1, 30, 0, 0, time.UTC)); ok {
		t.Error("01:30 should be outside a 22:00-01:00 session")
	}
}

func TestSessionCalendarNextOpen(t *testing.T) {
	cal, _ := NewSessionCalendar(DefaultSessions())
	name, at := cal.NextOpen(time.Date(2024, 3, 4, 23, 30, 0, 0, time.UTC))
	if name != "london" || !at.Equal(time.Date(2024, 3, 5, 2, 0, 0, 0, time.UTC)) {
		t.Errorf("NextOpen = %s %v, want london 2024-03-05 02:00", name, at)
	}
}

func TestSessionCalendarBadClock(t *testing.T) {
	if _, err := NewSessionCalendar([]Session{{Name: "x", Start: "25:00", End: "01:00"}}); err == nil {
		t.Error("expected error for invalid clock")
	}
}

func TestNewLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	NewLoggerTo(&buf, "debug", "text").Debug("hello", "k", 1)
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("text logger output = %q", buf.String())
	}
	buf.Reset()
	NewLoggerTo(&buf, "warn", "json").Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info should be filtered at warn level, got %q", buf.String())
	}
}

func TestTradingCalendarRegularHours(t *testing.T) {
	c := NewTradingCalendar()
	cases := []struct {
		at   time.Time
		want bool
	}{
		{time.Date(2024, 1, 8, 14, 30, 0, 0, time.UTC), true},  // Monday 09:30 EST
		{time.Date(2024, 1, 8, 14, 29, 0, 0, time.UTC), false}, // pre-market
		{time.Date(2024, 1, 8, 21, 0, 0, 0, time.UTC), false},  // 16:00 EST, closed
		{time.Date(2024, 7, 8, 13, 30, 0, 0, time.UTC), true},  // 09:30 EDT
		{time.Date(2024, 1, 6, 15, 0, 0, 0, time.UTC), false},  // Saturday
	}
	for _, tc := range cases {
		if got := c.IsMarketOpen(tc.at); got != tc.want {
			t.Errorf("IsMarketOpen(%v) = %v, want %v", tc.at, got, tc.want)
		}
	}

	friday := time.Date(2024, 1, 5, 20, 0, 0, 0, time.UTC)
	if got, want := c.NextOpen(friday), time.Date(2024, 1, 8, 14, 30, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("NextOpen(Friday close) = %v, want %v", got, want)
	}
}

func TestTradingCalendarExpectedBars(t *testing.T) {
	c := NewTradingCalendar()
	at := func(day, hour, min int) time.Time { return time.Date(2024, 1, day, hour, min, 0, 0, time.UTC) }
	cases := []struct {
		name          string
		after, before time.Time
		interval      time.Duration
		want          int
	}{
		{"consecutive minutes", at(8, 15, 0), at(8, 15, 1), time.Minute, 0},
		{"intraday hole", at(8, 15, 0), at(8, 15, 4), time.Minute, 3},
		{"overnight", at(8, 20, 59), at(9, 14, 30), time.Minute, 0},
		{"overnight with missing open", at(8, 20, 59), at(9, 14, 32), time.Minute, 2},
		{"weekend hourly", at(5, 20, 0), at(8, 14, 0), time.Hour, 0},
		{"missing hourly bar", at(8, 14, 0), at(8, 16, 0), time.Hour, 1},
		{"daily over weekend", at(5, 5, 0), at(8, 5, 0), 24 * time.Hour, 0},
		{"daily missing Monday", at(5, 5, 0), at(9, 5, 0), 24 * time.Hour, 1},
	}
	for _, tc := range cases {
		if got := c.ExpectedBars(tc.after, tc.before, tc.interval); got != tc.want {
			t.Errorf("%s: ExpectedBars = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestTradingCalendarLoadedHoliday(t *testing.T) {
	c := NewTradingCalendar()
	from := time.Date(2024, 1, 12, 12, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 16, 12, 0, 0, 0, time.UTC)
	// Martin Luther King Jr. Day, Monday 15th, is absent.
	err := c.SetDays(from, to, []TradingDay{
		{Date: "2024-01-12", Open: "09:30", Close: "16:00"},
		{Date: "2024-01-16", Open: "09:30", Close: "13:00"},
	})
	if err != nil {
		t.Fatalf("SetDays: %v", err)
	}
	if c.IsMarketOpen(time.Date(2024, 1, 15, 15, 0, 0, 0, time.UTC)) {
		t.Error("market open on a holiday")
	}
	if c.IsMarketOpen(time.Date(2024, 1, 16, 19, 0, 0, 0, time.UTC)) {
		t.Error("market open after an early close")
	}
	friday := time.Date(2024, 1, 12, 20, 0, 0, 0, time.UTC)
	tuesday := time.Date(2024, 1, 16, 14, 0, 0, 0, time.UTC)
	if got := c.ExpectedBars(friday, tuesday, time.Hour); got != 0 {
		t.Errorf("ExpectedBars over the long weekend = %d, want 0", got)
	}
	if err := c.SetDays(from, to, []TradingDay{{Date: "2024-01-12", Open: "9h", Close: "16:00"}}); err == nil {
		t.Error("SetDays accepted a malformed clock")
	}
}

func TestContinuousCalendar(t *testing.T) {
	c := ContinuousCalendar()
	sat := time.Date(2024, 1, 6, 3, 0, 0, 0, time.UTC)
	if !c.IsMarketOpen(sat) {
		t.Error("continuous calendar closed")
	}
	if got := c.ExpectedBars(sat, sat.Add(5*time.Minute), time.Minute); got != 4 {
		t.Errorf("ExpectedBars = %d, want 4", got)
	}
}
