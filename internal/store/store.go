// Package store defines storage interfaces for historical bars and backtest
// run results, with Parquet, SQLite and CSV implementations.
package store

import (
	"context"
	"errors"
	"time"

	"quantlab/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars for a market.
	WriteBars(ctx context.Context, market string, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and market within [start, end].
	ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market string) ([]string, error)
}

// ArtifactStore keeps the bulky per-run series: the equity curve and the
// closed trade log.
type ArtifactStore interface {
	WriteEquity(ctx context.Context, runID string, curve []domain.EquityPoint) error
	ReadEquity(ctx context.Context, runID string) ([]domain.EquityPoint, error)
	WriteTrades(ctx context.Context, runID string, trades []domain.Trade) error
	ReadTrades(ctx context.Context, runID string) ([]domain.Trade, error)
}

// RunRecord is the summary row for one backtest run. Payload carries the
// full serialized result.
type RunRecord struct {
	ID             string
	Strategy       string
	Symbol         string
	CreatedAt      time.Time
	InitialCapital float64
	FinalCapital   float64
	TotalReturn    float64
	SharpeRatio    float64
	MaxDrawdown    float64
	TradeCount     int
	Error          string
	Payload        []byte
}

// RunFilter narrows ListRuns. Zero fields match everything.
type RunFilter struct {
	Strategy string
	Symbol   string
	Limit    int
}

// ResultStore persists and retrieves backtest run summaries and their trades.
type ResultStore interface {
	// SaveRun inserts a run and its trades atomically.
	SaveRun(ctx context.Context, run RunRecord, trades []domain.Trade) error

	// GetRun retrieves a single run by ID.
	GetRun(ctx context.Context, id string) (*RunRecord, error)

	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context, f RunFilter) ([]RunRecord, error)

	// ListTrades returns the trades recorded for a run in exit order.
	ListTrades(ctx context.Context, runID string) ([]domain.Trade, error)
}
