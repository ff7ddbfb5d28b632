// Package feed provides market data subscriptions: a polling Alpaca feed for
// live trading and a replay feed over the Parquet candle archive.
package feed

import (
	"context"
	"iter"

	"tradecore/internal/domain"
)

// Feed produces closed candles for one (symbol, timeframe).
//
// Subscribe returns a lazy, possibly unbounded sequence. Candles arrive in
// increasing start order but may skip intervals. A non-nil error element
// reports a transient failure; the sequence continues after it unless the
// context is done. Every call starts a fresh subscription.
type Feed interface {
	Subscribe(ctx context.Context, key domain.Key) iter.Seq2[domain.Candle, error]
}
