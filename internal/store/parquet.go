package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"tradecore/internal/domain"
)

// Compile-time interface check.
var _ CandleStore = (*ParquetStore)(nil)

// ParquetStore implements CandleStore using one Parquet file per symbol and
// timeframe.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// CandleRecord is the Parquet schema for candle data.
type CandleRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timeframe string  `parquet:"timeframe"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms, candle start
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    float64 `parquet:"volume"`
}

func toRecord(c domain.Candle) CandleRecord {
	return CandleRecord{
		Symbol:    strings.ToUpper(c.Symbol),
		Timeframe: string(c.Timeframe),
		Timestamp: c.Start.UnixMilli(),
		Open:      c.Open,
		High:      c.High,
		Low:       c.Low,
		Close:     c.Close,
		Volume:    c.Volume,
	}
}

func (r CandleRecord) candle() domain.Candle {
	return domain.Candle{
		Symbol:    r.Symbol,
		Timeframe: domain.Timeframe(r.Timeframe),
		Start:     time.UnixMilli(r.Timestamp).UTC(),
		Open:      r.Open,
		High:      r.High,
		Low:       r.Low,
		Close:     r.Close,
		Volume:    r.Volume,
		Closed:    true,
	}
}

// ---------------------------------------------------------------------------
// CandleStore implementation
// ---------------------------------------------------------------------------

// WriteCandles writes candles to Parquet files organized by timeframe and
// symbol, merging with what is already archived:
//
//	<DataDir>/candles/<timeframe>/<SYMBOL>.parquet
func (s *ParquetStore) WriteCandles(_ context.Context, candles []domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	groups := make(map[domain.Key][]CandleRecord)
	for _, c := range candles {
		if c.Timeframe == "" {
			return fmt.Errorf("candle %s at %s has no timeframe", c.Symbol, c.Start)
		}
		k := domain.Key{Symbol: strings.ToUpper(c.Symbol), Timeframe: c.Timeframe}
		groups[k] = append(groups[k], toRecord(c))
	}

	for k, records := range groups {
		path := s.candlePath(k)

		// Read existing records to merge.
		existing, _ := readParquetFile[CandleRecord](path)
		merged := mergeCandleRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing candles for %s: %w", k, err)
		}
	}
	return nil
}

// ReadCandles reads the candles of key whose start lies in [start, end].
// A missing archive yields no candles and no error.
func (s *ParquetStore) ReadCandles(_ context.Context, key domain.Key, start, end time.Time) ([]domain.Candle, error) {
	path := s.candlePath(key)
	records, err := readParquetFile[CandleRecord](path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	lo, hi := start.UnixMilli(), end.UnixMilli()
	var out []domain.Candle
	for _, r := range records {
		if r.Timestamp >= lo && r.Timestamp <= hi {
			out = append(out, r.candle())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// ListSymbols lists all symbols that have candles for the timeframe.
func (s *ParquetStore) ListSymbols(_ context.Context, tf domain.Timeframe) ([]string, error) {
	dir := filepath.Join(s.DataDir, "candles", string(tf))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && strings.HasSuffix(name, ".parquet") {
			symbols = append(symbols, strings.TrimSuffix(name, ".parquet"))
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// candlePath returns the filesystem path for a candle Parquet file.
func (s *ParquetStore) candlePath(key domain.Key) string {
	return filepath.Join(s.DataDir, "candles", string(key.Timeframe), strings.ToUpper(key.Symbol)+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := parquet.WriteFile(tmp, records); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeCandleRecords deduplicates candle records by timestamp, preferring
// new records over existing ones.
func mergeCandleRecords(existing, incoming []CandleRecord) []CandleRecord {
	seen := make(map[int64]CandleRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}

	merged := make([]CandleRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
