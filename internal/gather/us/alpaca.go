// Package us fetches US equity daily bars from the Alpaca market-data API.
package us

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"quantlab/internal/domain"
	"quantlab/internal/gather"
	"quantlab/internal/store"
	"quantlab/internal/util"
)

var _ gather.Gatherer = (*DailyBarFetcher)(nil)

// barSource is the slice of marketdata.Client the fetcher needs.
type barSource interface {
	GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error)
}

// Options configures a DailyBarFetcher.
type Options struct {
	Symbols         []string
	Range           gather.DateRange // zero End means latest finished trading day
	Feed            string
	BatchSize       int // symbols per API call
	Workers         int
	RateLimitPerMin int
	MaxRetries      int
	RetryDelay      time.Duration
}

// Summary reports what a fetch did.
type Summary struct {
	End     time.Time
	Bars    int
	Fetched []string // symbols that returned data
	Skipped []string // already stored through End
	Empty   []string // returned no bars
	Failed  []string // batch errors after retries
}

// DailyBarFetcher downloads daily OHLCV bars for a fixed symbol list and
// writes them into a BarStore under the "us" market.
type DailyBarFetcher struct {
	source  barSource
	store   store.BarStore
	opts    Options
	limiter *util.RateLimiter
	lastDay func() (time.Time, error)
	log     *slog.Logger
}

// NewDailyBarFetcher builds a fetcher backed by the Alpaca market-data
// client. lastDay resolves an open-ended range; pass NewCalendarResolver or
// nil when Range.End is always set.
func NewDailyBarFetcher(apiKey, apiSecret, dataURL string, s store.BarStore, opts Options, lastDay func() (time.Time, error), log *slog.Logger) *DailyBarFetcher {
	co := marketdata.ClientOpts{APIKey: apiKey, APISecret: apiSecret}
	if dataURL != "" {
		co.BaseURL = dataURL
	}
	return newFetcher(marketdata.NewClient(co), s, opts, lastDay, log)
}

func newFetcher(src barSource, s store.BarStore, opts Options, lastDay func() (time.Time, error), log *slog.Logger) *DailyBarFetcher {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}
	if opts.Feed == "" {
		opts.Feed = "iex"
	}
	if log == nil {
		log = slog.Default()
	}
	return &DailyBarFetcher{
		source:  src,
		store:   s,
		opts:    opts,
		limiter: util.NewRateLimiter(opts.RateLimitPerMin, opts.Workers),
		lastDay: lastDay,
		log:     log.With("gatherer", "us-daily"),
	}
}

// Name returns the gatherer identifier.
func (f *DailyBarFetcher) Name() string { return "us-daily" }

// Run fetches and discards the summary.
func (f *DailyBarFetcher) Run(ctx context.Context) error {
	_, err := f.Fetch(ctx)
	return err
}

// Fetch downloads bars for every configured symbol not already stored
// through the end date. A failing batch is logged and listed in
// Summary.Failed; only cancellation or setup errors are returned.
func (f *DailyBarFetcher) Fetch(ctx context.Context) (*Summary, error) {
	end := f.opts.Range.End
	if end.IsZero() {
		if f.lastDay == nil {
			return nil, errors.New("open-ended range needs a trading calendar")
		}
		var err error
		if end, err = f.lastDay(); err != nil {
			return nil, fmt.Errorf("determining end date: %w", err)
		}
	}
	start := f.opts.Range.Start
	if end.Before(start) {
		return nil, fmt.Errorf("end %s before start %s", end.Format(time.DateOnly), start.Format(time.DateOnly))
	}

	sum := &Summary{End: end}
	var pending []string
	for _, sym := range normalizeSymbols(f.opts.Symbols) {
		done, err := f.storedThrough(ctx, sym, end)
		if err != nil {
			return nil, err
		}
		if done {
			sum.Skipped = append(sum.Skipped, sym)
			continue
		}
		pending = append(pending, sym)
	}

	var batches [][]string
	for i := 0; i < len(pending); i += f.opts.BatchSize {
		batches = append(batches, pending[i:min(i+f.opts.BatchSize, len(pending))])
	}
	f.log.Info("fetch starting",
		"start", start.Format(time.DateOnly),
		"end", end.Format(time.DateOnly),
		"pending", len(pending),
		"skipped", len(sum.Skipped),
		"batches", len(batches),
	)

	batchCh := make(chan []string)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for w := 0; w < min(f.opts.Workers, len(batches)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range batchCh {
				bars, err := f.fetchBatch(ctx, batch, start, end)
				if err == nil && len(bars) > 0 {
					err = f.store.WriteBars(ctx, string(domain.MarketUS), bars)
				}

				mu.Lock()
				if err != nil {
					f.log.Error("batch failed", "symbols", len(batch), "first", batch[0], "err", err)
					sum.Failed = append(sum.Failed, batch...)
				} else {
					hit := make(map[string]bool)
					for _, b := range bars {
						hit[b.Symbol] = true
					}
					for _, sym := range batch {
						if hit[sym] {
							sum.Fetched = append(sum.Fetched, sym)
						} else {
							sum.Empty = append(sum.Empty, sym)
						}
					}
					sum.Bars += len(bars)
				}
				mu.Unlock()
			}
		}()
	}

feed:
	for _, b := range batches {
		select {
		case batchCh <- b:
		case <-ctx.Done():
			break feed
		}
	}
	close(batchCh)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return sum, err
	}
	sort.Strings(sum.Fetched)
	sort.Strings(sum.Empty)
	sort.Strings(sum.Failed)
	f.log.Info("fetch complete",
		"bars", sum.Bars,
		"fetched", len(sum.Fetched),
		"empty", len(sum.Empty),
		"failed", len(sum.Failed),
	)
	return sum, nil
}

// storedThrough reports whether the store already holds a bar on or after
// end for the symbol.
func (f *DailyBarFetcher) storedThrough(ctx context.Context, symbol string, end time.Time) (bool, error) {
	bars, err := f.store.ReadBars(ctx, symbol, string(domain.MarketUS), end, end.AddDate(0, 0, 1))
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading stored bars for %s: %w", symbol, err)
	}
	return len(bars) > 0, nil
}

// fetchBatch calls GetMultiBars under the rate limiter with retries.
func (f *DailyBarFetcher) fetchBatch(ctx context.Context, symbols []string, start, end time.Time) ([]domain.Bar, error) {
	var multi map[string][]marketdata.Bar
	err := util.Retry(ctx, f.opts.MaxRetries, f.opts.RetryDelay, func() error {
		if err := f.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %w", util.ErrPermanent, err)
		}
		var err error
		multi, err = f.source.GetMultiBars(symbols, marketdata.GetBarsRequest{
			TimeFrame: marketdata.OneDay,
			Start:     start,
			End:       end.AddDate(0, 0, 1),
			Feed:      marketdata.Feed(f.opts.Feed),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("GetMultiBars: %w", err)
	}
	return convertBars(multi), nil
}

// convertBars flattens a GetMultiBars response into domain bars, sorted by
// symbol then time.
func convertBars(multi map[string][]marketdata.Bar) []domain.Bar {
	var bars []domain.Bar
	for symbol, in := range multi {
		sym := strings.ToUpper(symbol)
		for _, ab := range in {
			bars = append(bars, domain.Bar{
				Symbol:     sym,
				Timestamp:  ab.Timestamp.UTC(),
				Open:       ab.Open,
				High:       ab.High,
				Low:        ab.Low,
				Close:      ab.Close,
				Volume:     int64(ab.Volume),
				TradeCount: int64(ab.TradeCount),
				VWAP:       ab.VWAP,
			})
		}
	}
	sort.Slice(bars, func(i, j int) bool {
		if bars[i].Symbol != bars[j].Symbol {
			return bars[i].Symbol < bars[j].Symbol
		}
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
	return bars
}

func normalizeSymbols(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
