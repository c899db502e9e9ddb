package us

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"quantlab/internal/gather"
	"quantlab/internal/store"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

// fakeSource serves canned bars per symbol and records the calls it saw.
type fakeSource struct {
	mu       sync.Mutex
	bars     map[string][]marketdata.Bar
	failures int // first N calls fail
	calls    [][]string
}

func (f *fakeSource) GetMultiBars(symbols []string, _ marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, symbols)
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("503 service unavailable")
	}
	out := make(map[string][]marketdata.Bar)
	for _, s := range symbols {
		if b, ok := f.bars[s]; ok {
			out[s] = b
		}
	}
	return out, nil
}

func bar(date string, close float64) marketdata.Bar {
	return marketdata.Bar{
		Timestamp: day(date).Add(5 * time.Hour),
		Open:      close - 1, High: close + 1, Low: close - 2, Close: close,
		Volume: 1000, TradeCount: 10, VWAP: close,
	}
}

func TestConvertBars(t *testing.T) {
	got := convertBars(map[string][]marketdata.Bar{
		"msft": {bar("2024-01-03", 2), bar("2024-01-02", 1)},
		"AAPL": {bar("2024-01-02", 5)},
	})
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Symbol != "AAPL" || got[1].Symbol != "MSFT" || got[2].Symbol != "MSFT" {
		t.Errorf("symbols = %s %s %s", got[0].Symbol, got[1].Symbol, got[2].Symbol)
	}
	if !got[1].Timestamp.Before(got[2].Timestamp) {
		t.Error("bars not sorted by time within symbol")
	}
	if got[0].Volume != 1000 || got[0].TradeCount != 10 || got[0].Close != 5 {
		t.Errorf("AAPL bar = %+v", got[0])
	}
}

func TestFetchWritesBarsAndClassifiesSymbols(t *testing.T) {
	src := &fakeSource{bars: map[string][]marketdata.Bar{
		"AAPL": {bar("2024-01-02", 100), bar("2024-01-03", 101)},
		"MSFT": {bar("2024-01-02", 300)},
	}}
	ps := store.NewParquetStore(t.TempDir())
	f := newFetcher(src, ps, Options{
		Symbols:   []string{"aapl", "MSFT", "ZZZZ", "AAPL"},
		Range:     gather.DateRange{Start: day("2024-01-01"), End: day("2024-01-03")},
		BatchSize: 2,
		Workers:   2,
	}, nil, quiet)

	sum, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if sum.Bars != 3 {
		t.Errorf("Bars = %d, want 3", sum.Bars)
	}
	if len(sum.Fetched) != 2 || sum.Fetched[0] != "AAPL" || sum.Fetched[1] != "MSFT" {
		t.Errorf("Fetched = %v", sum.Fetched)
	}
	if len(sum.Empty) != 1 || sum.Empty[0] != "ZZZZ" {
		t.Errorf("Empty = %v", sum.Empty)
	}
	if len(src.calls) != 2 {
		t.Errorf("GetMultiBars calls = %d, want 2 batches", len(src.calls))
	}

	stored, err := ps.ReadBars(context.Background(), "AAPL", "us", day("2024-01-01"), day("2024-01-04"))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(stored) != 2 || stored[1].Close != 101 {
		t.Errorf("stored AAPL = %+v", stored)
	}

	// AAPL now reaches the end date and is skipped on the next pass.
	sum, err = f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	if len(sum.Skipped) != 1 || sum.Skipped[0] != "AAPL" {
		t.Errorf("Skipped = %v, want [AAPL]", sum.Skipped)
	}
}

func TestFetchRetriesThenRecordsFailure(t *testing.T) {
	src := &fakeSource{
		bars:     map[string][]marketdata.Bar{"AAPL": {bar("2024-01-02", 100)}},
		failures: 1,
	}
	f := newFetcher(src, store.NewParquetStore(t.TempDir()), Options{
		Symbols:    []string{"AAPL"},
		Range:      gather.DateRange{Start: day("2024-01-01"), End: day("2024-01-02")},
		MaxRetries: 2,
	}, nil, quiet)
	sum, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(sum.Fetched) != 1 || len(sum.Failed) != 0 {
		t.Errorf("after one transient failure: fetched=%v failed=%v", sum.Fetched, sum.Failed)
	}

	src.failures = 5
	f.opts.Symbols = []string{"MSFT"}
	sum, err = f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(sum.Failed) != 1 || sum.Failed[0] != "MSFT" {
		t.Errorf("Failed = %v, want [MSFT]", sum.Failed)
	}
}

func TestFetchOpenRangeUsesCalendar(t *testing.T) {
	f := newFetcher(&fakeSource{}, store.NewParquetStore(t.TempDir()), Options{
		Range: gather.DateRange{Start: day("2024-01-01")},
	}, nil, quiet)
	if _, err := f.Fetch(context.Background()); err == nil {
		t.Error("open range without calendar should fail")
	}

	f.lastDay = func() (time.Time, error) { return day("2024-02-01"), nil }
	sum, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !sum.End.Equal(day("2024-02-01")) {
		t.Errorf("End = %v", sum.End)
	}
}

type fakeCalendar []alpaca.CalendarDay

func (c fakeCalendar) GetCalendar(alpaca.GetCalendarRequest) ([]alpaca.CalendarDay, error) {
	return c, nil
}

func TestLatestFinishedDay(t *testing.T) {
	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	cal := fakeCalendar{
		{Date: "2024-03-07", Open: "09:30", Close: "16:00"},
		{Date: "2024-03-08", Open: "09:30", Close: "16:00"},
	}

	cases := []struct {
		now  time.Time
		want string
	}{
		{time.Date(2024, 3, 8, 12, 0, 0, 0, et), "2024-03-07"},
		{time.Date(2024, 3, 8, 20, 4, 0, 0, et), "2024-03-07"},
		{time.Date(2024, 3, 8, 20, 5, 0, 0, et), "2024-03-08"},
		{time.Date(2024, 3, 9, 10, 0, 0, 0, et), "2024-03-08"},
	}
	for _, tc := range cases {
		got, err := latestFinishedDay(cal, tc.now)
		if err != nil {
			t.Fatalf("latestFinishedDay(%v): %v", tc.now, err)
		}
		if got.Format(time.DateOnly) != tc.want {
			t.Errorf("latestFinishedDay(%v) = %s, want %s", tc.now, got.Format(time.DateOnly), tc.want)
		}
	}
}

func TestParseDateRange(t *testing.T) {
	if _, err := gather.ParseDateRange("2024-02-01", "2024-01-01"); err == nil {
		t.Error("reversed range accepted")
	}
	r, err := gather.ParseDateRange("2024-01-01", "")
	if err != nil || !r.End.IsZero() {
		t.Errorf("open range = %+v, %v", r, err)
	}
}
