package store

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"tradecore/internal/domain"
)

// record is one queued journal write.
type record struct {
	signal   *domain.Signal
	order    *domain.Order
	fills    []domain.Fill
	snapshot *domain.PortfolioSnapshot
}

// Recorder queues journal writes from the trading path and applies them on
// its own goroutine. Appends never block: when the queue is full the record
// is dropped and counted.
type Recorder struct {
	store   JournalStore
	queue   chan record
	dropped atomic.Int64
	log     *slog.Logger
}

// NewRecorder creates a Recorder with room for size pending records.
func NewRecorder(s JournalStore, size int, log *slog.Logger) *Recorder {
	if size <= 0 {
		size = 4096
	}
	if log == nil {
		log = slog.Default().With("component", "recorder")
	}
	return &Recorder{store: s, queue: make(chan record, size), log: log}
}

// AppendSignal queues a signal.
func (r *Recorder) AppendSignal(sig domain.Signal) {
	r.enqueue(record{signal: &sig})
}

// AppendTrade queues an order state and any fills that produced it.
func (r *Recorder) AppendTrade(o domain.Order, fills []domain.Fill) {
	r.enqueue(record{order: &o, fills: fills})
}

// AppendSnapshot queues a portfolio snapshot.
func (r *Recorder) AppendSnapshot(snap domain.PortfolioSnapshot) {
	r.enqueue(record{snapshot: &snap})
}

func (r *Recorder) enqueue(rec record) {
	select {
	case r.queue <- rec:
	default:
		if n := r.dropped.Add(1); n == 1 || n%1000 == 0 {
			r.log.Warn("journal queue full, record dropped", "dropped", n)
		}
	}
}

// Dropped returns how many records were discarded.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Run writes queued records until ctx is cancelled, then flushes what is
// still queued.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.flush()
			return nil
		case rec := <-r.queue:
			r.write(ctx, rec)
		}
	}
}

func (r *Recorder) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case rec := <-r.queue:
			r.write(ctx, rec)
		default:
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, rec record) {
	var err error
	switch {
	case rec.signal != nil:
		err = r.store.SaveSignal(ctx, *rec.signal)
	case rec.order != nil:
		for _, f := range rec.fills {
			if err = r.store.SaveFill(ctx, f); err != nil {
				break
			}
		}
		if err == nil {
			err = r.store.SaveOrder(ctx, *rec.order)
		}
	case rec.snapshot != nil:
		err = r.store.SaveSnapshot(ctx, *rec.snapshot)
	}
	if err != nil {
		r.log.Error("journal write failed", "error", err)
	}
}
