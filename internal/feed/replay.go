package feed

import (
	"context"
	"iter"
	"time"

	"tradecore/internal/domain"
	"tradecore/internal/store"
)

// Compile-time interface check.
var _ Feed = (*ReplayFeed)(nil)

// ReplayFeed replays archived candles in time order.
type ReplayFeed struct {
	store store.CandleStore
	start time.Time
	end   time.Time
	// pace is the delay between candles; zero replays as fast as the
	// consumer reads.
	pace time.Duration
}

// NewReplayFeed replays candles in [start, end] from s. A zero end means
// no upper bound.
func NewReplayFeed(s store.CandleStore, start, end time.Time, pace time.Duration) *ReplayFeed {
	if end.IsZero() {
		end = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return &ReplayFeed{store: s, start: start, end: end, pace: pace}
}

// Subscribe yields the archived candles of key and ends.
func (f *ReplayFeed) Subscribe(ctx context.Context, key domain.Key) iter.Seq2[domain.Candle, error] {
	return func(yield func(domain.Candle, error) bool) {
		candles, err := f.store.ReadCandles(ctx, key, f.start, f.end)
		if err != nil {
			yield(domain.Candle{}, err)
			return
		}
		for i, c := range candles {
			if ctx.Err() != nil {
				return
			}
			if i > 0 && f.pace > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(f.pace):
				}
			}
			c.Closed = true
			if !yield(c, nil) {
				return
			}
		}
	}
}
