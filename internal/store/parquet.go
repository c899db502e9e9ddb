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

	"quantlab/internal/domain"
)

// Compile-time interface checks.
var _ BarStore = (*ParquetStore)(nil)
var _ ArtifactStore = (*ParquetStore)(nil)

// ParquetStore implements BarStore and ArtifactStore using Parquet files on
// disk.
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

// BarRecord is the Parquet schema for daily bar data.
type BarRecord struct {
	Symbol     string  `parquet:"symbol"`
	Timestamp  int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open       float64 `parquet:"open"`
	High       float64 `parquet:"high"`
	Low        float64 `parquet:"low"`
	Close      float64 `parquet:"close"`
	Volume     int64   `parquet:"volume"`
	TradeCount int64   `parquet:"trade_count"`
	VWAP       float64 `parquet:"vwap"`
}

// EquityRecord is the Parquet schema for one equity curve point.
type EquityRecord struct {
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"`
	Value     float64 `parquet:"value"`
}

// TradeRecord is the Parquet schema for a closed backtest trade.
type TradeRecord struct {
	Symbol        string  `parquet:"symbol"`
	Side          string  `parquet:"side"`
	Shares        float64 `parquet:"shares"`
	EntryPrice    float64 `parquet:"entry_price"`
	EntryTime     int64   `parquet:"entry_time,timestamp(millisecond)"`
	ExitPrice     float64 `parquet:"exit_price"`
	ExitTime      int64   `parquet:"exit_time,timestamp(millisecond)"`
	PnL           float64 `parquet:"pnl"`
	PnLPercentage float64 `parquet:"pnl_percentage"`
	StopLoss      float64 `parquet:"stop_loss"`
	TakeProfit    float64 `parquet:"take_profit"`
	ExitReason    string  `parquet:"exit_reason"`
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// WriteBars writes bars to Parquet files grouped by symbol and year, merging
// with what is already on disk. Each symbol+year produces a file at:
//
//	<DataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) WriteBars(_ context.Context, market string, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	type key struct {
		symbol string
		year   int
	}
	groups := make(map[key][]BarRecord)
	for _, b := range bars {
		ts := b.Timestamp.UTC()
		k := key{symbol: strings.ToUpper(b.Symbol), year: ts.Year()}
		groups[k] = append(groups[k], BarRecord{
			Symbol:     k.symbol,
			Timestamp:  ts.UnixMilli(),
			Open:       b.Open,
			High:       b.High,
			Low:        b.Low,
			Close:      b.Close,
			Volume:     b.Volume,
			TradeCount: b.TradeCount,
			VWAP:       b.VWAP,
		})
	}

	for k, records := range groups {
		path := s.barPath(k.symbol, market, k.year)

		existing, _ := readParquetFile[BarRecord](path)
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", k.symbol, k.year, err)
		}
	}
	return nil
}

// ReadBars reads bars for symbol within [start, end], oldest first. Missing
// year files are skipped.
func (s *ParquetStore) ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error) {
	var bars []domain.Bar
	for year := start.UTC().Year(); year <= end.UTC().Year(); year++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := s.barPath(symbol, market, year)
		records, err := readParquetFile[BarRecord](path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}

		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if ts.Before(start) || ts.After(end) {
				continue
			}
			bars = append(bars, domain.Bar{
				Symbol:     r.Symbol,
				Timestamp:  ts,
				Open:       r.Open,
				High:       r.High,
				Low:        r.Low,
				Close:      r.Close,
				Volume:     r.Volume,
				TradeCount: r.TradeCount,
				VWAP:       r.VWAP,
			})
		}
	}
	return bars, nil
}

// ListSymbols lists all symbols that have bar data in the given market.
func (s *ParquetStore) ListSymbols(_ context.Context, market string) ([]string, error) {
	dir := filepath.Join(s.DataDir, market, "daily")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// ---------------------------------------------------------------------------
// ArtifactStore implementation
// ---------------------------------------------------------------------------

// WriteEquity writes a run's equity curve, replacing any earlier file.
func (s *ParquetStore) WriteEquity(_ context.Context, runID string, curve []domain.EquityPoint) error {
	records := make([]EquityRecord, len(curve))
	for i, p := range curve {
		records[i] = EquityRecord{Timestamp: p.Timestamp.UnixMilli(), Value: p.Value}
	}
	if err := writeParquetFile(s.runPath(runID, "equity"), records); err != nil {
		return fmt.Errorf("writing equity for run %s: %w", runID, err)
	}
	return nil
}

// ReadEquity reads a run's equity curve.
func (s *ParquetStore) ReadEquity(_ context.Context, runID string) ([]domain.EquityPoint, error) {
	records, err := readParquetFile[EquityRecord](s.runPath(runID, "equity"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	out := make([]domain.EquityPoint, len(records))
	for i, r := range records {
		out[i] = domain.EquityPoint{Timestamp: time.UnixMilli(r.Timestamp).UTC(), Value: r.Value}
	}
	return out, nil
}

// WriteTrades writes a run's closed trades, replacing any earlier file.
func (s *ParquetStore) WriteTrades(_ context.Context, runID string, trades []domain.Trade) error {
	records := make([]TradeRecord, len(trades))
	for i, t := range trades {
		records[i] = TradeRecord{
			Symbol:        t.Symbol,
			Side:          t.Side.String(),
			Shares:        t.Shares,
			EntryPrice:    t.EntryPrice,
			EntryTime:     t.EntryTime.UnixMilli(),
			ExitPrice:     t.ExitPrice,
			ExitTime:      t.ExitTime.UnixMilli(),
			PnL:           t.PnL,
			PnLPercentage: t.PnLPercentage,
			StopLoss:      t.StopLoss,
			TakeProfit:    t.TakeProfit,
			ExitReason:    t.ExitReason,
		}
	}
	if err := writeParquetFile(s.runPath(runID, "trades"), records); err != nil {
		return fmt.Errorf("writing trades for run %s: %w", runID, err)
	}
	return nil
}

// ReadTrades reads a run's closed trades.
func (s *ParquetStore) ReadTrades(_ context.Context, runID string) ([]domain.Trade, error) {
	records, err := readParquetFile[TradeRecord](s.runPath(runID, "trades"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	out := make([]domain.Trade, 0, len(records))
	for _, r := range records {
		side, err := domain.ParseSide(r.Side)
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", runID, err)
		}
		out = append(out, domain.Trade{
			Symbol:        r.Symbol,
			Side:          side,
			Shares:        r.Shares,
			EntryPrice:    r.EntryPrice,
			EntryTime:     time.UnixMilli(r.EntryTime).UTC(),
			ExitPrice:     r.ExitPrice,
			ExitTime:      time.UnixMilli(r.ExitTime).UTC(),
			PnL:           r.PnL,
			PnLPercentage: r.PnLPercentage,
			StopLoss:      r.StopLoss,
			TakeProfit:    r.TakeProfit,
			ExitReason:    r.ExitReason,
		})
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// barPath returns the filesystem path for a bar Parquet file.
// Layout: <dataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) barPath(symbol, market string, year int) string {
	return filepath.Join(s.DataDir, market, "daily", strings.ToUpper(symbol), fmt.Sprintf("%d.parquet", year))
}

// runPath returns the filesystem path for a run artifact.
// Layout: <dataDir>/results/<runID>/<name>.parquet
func (s *ParquetStore) runPath(runID, name string) string {
	return filepath.Join(s.DataDir, "results", runID, name+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return parquet.ReadFile[T](path)
}

// mergeBarRecords deduplicates bar records by (symbol, timestamp), preferring
// new records over existing ones.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
