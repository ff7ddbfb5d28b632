package feed

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"tradecore/internal/domain"
	"tradecore/internal/util"
)

// Compile-time interface check.
var _ Feed = (*AlpacaFeed)(nil)

// AlpacaConfig configures the polling bar feed.
type AlpacaConfig struct {
	APIKey    string
	APISecret string
	DataURL   string
	// Source is the Alpaca data feed, "iex" or "sip".
	Source       string        `yaml:"source"`
	PollInterval time.Duration `yaml:"poll_interval"`
	// Warmup is how many historical candles a new subscription replays so
	// indicators are ready when live candles arrive.
	Warmup            int `yaml:"warmup"`
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// barSource is the subset of *marketdata.Client the feed uses.
type barSource interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// AlpacaFeed polls the Alpaca market-data API for closed bars.
type AlpacaFeed struct {
	cfg     AlpacaConfig
	client  barSource
	limiter *util.RateLimiter
	now     func() time.Time
	log     *slog.Logger
}

// NewAlpacaFeed creates an AlpacaFeed.
func NewAlpacaFeed(cfg AlpacaConfig, log *slog.Logger) *AlpacaFeed {
	opts := marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	}
	if cfg.DataURL != "" {
		opts.BaseURL = cfg.DataURL
	}
	return newAlpacaFeed(cfg, marketdata.NewClient(opts), log)
}

func newAlpacaFeed(cfg AlpacaConfig, client barSource, log *slog.Logger) *AlpacaFeed {
	if cfg.Source == "" {
		cfg.Source = "iex"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.Warmup < 0 {
		cfg.Warmup = 0
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 180
	}
	if log == nil {
		log = slog.Default().With("feed", "alpaca")
	}
	return &AlpacaFeed{
		cfg:     cfg,
		client:  client,
		limiter: util.NewRateLimiter(cfg.RequestsPerMinute, 5),
		now:     time.Now,
		log:     log,
	}
}

// Subscribe polls for bars of key. Only bars whose interval has fully
// elapsed are yielded.
func (f *AlpacaFeed) Subscribe(ctx context.Context, key domain.Key) iter.Seq2[domain.Candle, error] {
	return func(yield func(domain.Candle, error) bool) {
		interval, err := key.Timeframe.Duration()
		if err != nil {
			yield(domain.Candle{}, err)
			return
		}
		tf, err := TimeFrame(key.Timeframe)
		if err != nil {
			yield(domain.Candle{}, err)
			return
		}

		var last time.Time
		since := f.now().Add(-time.Duration(f.cfg.Warmup+1) * interval)
		for {
			now := f.now()
			bars, err := f.fetch(ctx, key.Symbol, tf, since, now)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if !yield(domain.Candle{}, fmt.Errorf("bars %s: %w", key, err)) {
					return
				}
			}
			for _, b := range bars {
				if b.Timestamp.Add(interval).After(now) {
					break // still forming
				}
				if !last.IsZero() && !b.Timestamp.After(last) {
					continue
				}
				last = b.Timestamp
				if !yield(toCandle(key, b), nil) {
					return
				}
			}
			if !last.IsZero() {
				since = last.Add(interval)
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(f.cfg.PollInterval):
			}
		}
	}
}

func (f *AlpacaFeed) fetch(ctx context.Context, symbol string, tf marketdata.TimeFrame, start, end time.Time) ([]marketdata.Bar, error) {
	var bars []marketdata.Bar
	err := util.Retry(ctx, 3, time.Second, func() error {
		if err := f.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		var err error
		bars, err = f.client.GetBars(symbol, marketdata.GetBarsRequest{
			TimeFrame: tf,
			Start:     start,
			End:       end,
			Feed:      marketdata.Feed(f.cfg.Source),
		})
		return err
	})
	return bars, err
}

// History fetches the closed bars of key in [start, end], e.g. to build
// the replay archive.
func (f *AlpacaFeed) History(ctx context.Context, key domain.Key, start, end time.Time) ([]domain.Candle, error) {
	tf, err := TimeFrame(key.Timeframe)
	if err != nil {
		return nil, err
	}
	bars, err := f.fetch(ctx, key.Symbol, tf, start, end)
	if err != nil {
		return nil, fmt.Errorf("bars %s: %w", key, err)
	}
	out := make([]domain.Candle, 0, len(bars))
	for _, b := range bars {
		out = append(out, toCandle(key, b))
	}
	return out, nil
}

func toCandle(key domain.Key, b marketdata.Bar) domain.Candle {
	return domain.Candle{
		Symbol:    strings.ToUpper(key.Symbol),
		Timeframe: key.Timeframe,
		Start:     b.Timestamp.UTC(),
		Open:      b.Open,
		High:      b.High,
		Low:       b.Low,
		Close:     b.Close,
		Volume:    float64(b.Volume),
		Closed:    true,
	}
}

// TimeFrame maps a timeframe such as "15m", "1h" or "1d" to the Alpaca
// representation.
func TimeFrame(tf domain.Timeframe) (marketdata.TimeFrame, error) {
	s := string(tf)
	if len(s) < 2 {
		return marketdata.TimeFrame{}, fmt.Errorf("invalid timeframe %q", s)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return marketdata.TimeFrame{}, fmt.Errorf("invalid timeframe %q", s)
	}
	switch strings.ToLower(s[len(s)-1:]) {
	case "m":
		return marketdata.NewTimeFrame(n, marketdata.Min), nil
	case "h":
		return marketdata.NewTimeFrame(n, marketdata.Hour), nil
	case "d":
		return marketdata.NewTimeFrame(n, marketdata.Day), nil
	}
	return marketdata.TimeFrame{}, fmt.Errorf("invalid timeframe %q", s)
}
