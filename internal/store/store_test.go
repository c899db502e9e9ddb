package store

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"quantlab/internal/domain"
)

func TestParquetStorePath(t *testing.T) {
	ps := NewParquetStore("/data")

	bp := ps.barPath("aapl", "us", 2024)
	wantBarPath := filepath.Join("/data", "us", "daily", "AAPL", "2024.parquet")
	if bp != wantBarPath {
		t.Errorf("barPath mismatch:\n  got  %s\n  want %s", bp, wantBarPath)
	}

	rp := ps.runPath("run-1", "equity")
	wantRunPath := filepath.Join("/data", "results", "run-1", "equity.parquet")
	if rp != wantRunPath {
		t.Errorf("runPath mismatch:\n  got  %s\n  want %s", rp, wantRunPath)
	}
}

func TestParquetStoreWriteReadBars(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	bars := []domain.Bar{
		{
			Symbol:     "AAPL",
			Timestamp:  time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			Open:       185.0,
			High:       186.5,
			Low:        184.0,
			Close:      185.5,
			Volume:     50000000,
			TradeCount: 500000,
			VWAP:       185.25,
		},
		{
			Symbol:     "AAPL",
			Timestamp:  time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
			Open:       185.5,
			High:       187.0,
			Low:        185.0,
			Close:      186.0,
			Volume:     45000000,
			TradeCount: 450000,
			VWAP:       185.75,
		},
	}

	if err := ps.WriteBars(ctx, "us", bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	got, err := ps.ReadBars(ctx, "AAPL", "us", start, end)
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars, want 2", len(got))
	}
	if got[0].Close != 185.5 {
		t.Errorf("first bar Close = %v, want 185.5", got[0].Close)
	}
	if got[1].Close != 186.0 {
		t.Errorf("second bar Close = %v, want 186.0", got[1].Close)
	}

	narrow, err := ps.ReadBars(ctx, "AAPL", "us", bars[1].Timestamp, end)
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(narrow) != 1 {
		t.Errorf("ReadBars from Jan 3 returned %d bars, want 1", len(narrow))
	}

	none, err := ps.ReadBars(ctx, "NOPE", "us", start, end)
	if err != nil || len(none) != 0 {
		t.Errorf("ReadBars(unknown) = %v, %v, want empty and no error", none, err)
	}
}

func TestParquetStoreMergeBars(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	bars1 := []domain.Bar{
		{
			Symbol:    "MSFT",
			Timestamp: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			Open:      400.0, High: 405.0, Low: 399.0, Close: 403.0,
			Volume: 30000000,
		},
	}
	if err := ps.WriteBars(ctx, "us", bars1); err != nil {
		t.Fatalf("WriteBars (first): %v", err)
	}

	// Same symbol+year: merged, and the repeated timestamp is replaced.
	bars2 := []domain.Bar{
		{
			Symbol:    "MSFT",
			Timestamp: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			Open:      400.0, High: 405.0, Low: 399.0, Close: 404.0,
			Volume: 30000000,
		},
		{
			Symbol:    "MSFT",
			Timestamp: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
			Open:      403.0, High: 410.0, Low: 402.0, Close: 408.0,
			Volume: 35000000,
		},
	}
	if err := ps.WriteBars(ctx, "us", bars2); err != nil {
		t.Fatalf("WriteBars (second): %v", err)
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	got, err := ps.ReadBars(ctx, "MSFT", "us", start, end)
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars after merge, want 2", len(got))
	}
	if got[0].Close != 404.0 {
		t.Errorf("merged bar Close = %v, want 404 (newer write wins)", got[0].Close)
	}
}

func TestParquetStoreListSymbols(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	bars := []domain.Bar{
		{Symbol: "AAPL", Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Open: 185.0, High: 186.0, Low: 184.0, Close: 185.5, Volume: 50000000},
		{Symbol: "GOOGL", Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Open: 140.0, High: 141.0, Low: 139.0, Close: 140.5, Volume: 20000000},
	}
	if err := ps.WriteBars(ctx, "us", bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	symbols, err := ps.ListSymbols(ctx, "us")
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if len(symbols) != 2 {
		t.Fatalf("ListSymbols returned %d symbols, want 2", len(symbols))
	}
	if symbols[0] != "AAPL" || symbols[1] != "GOOGL" {
		t.Errorf("ListSymbols = %v, want [AAPL GOOGL]", symbols)
	}
}

func sampleTrades() []domain.Trade {
	at := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	return []domain.Trade{
		{Symbol: "AAPL", Side: domain.SideLong, Shares: 10, EntryPrice: 100, EntryTime: at, ExitPrice: 95, ExitTime: at.AddDate(0, 0, 3), PnL: -50, PnLPercentage: -0.05, StopLoss: 95, TakeProfit: 110, ExitReason: "Stop-loss triggered"},
		{Symbol: "AAPL", Side: domain.SideShort, Shares: 5, EntryPrice: 96, EntryTime: at.AddDate(0, 0, 4), ExitPrice: 90, ExitTime: at.AddDate(0, 0, 9), PnL: 30, PnLPercentage: 0.0625, StopLoss: 100.8, TakeProfit: 86.4, ExitReason: "End of backtest"},
	}
}

func TestParquetStoreArtifacts(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	curve := []domain.EquityPoint{
		{Timestamp: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), Value: 100000},
		{Timestamp: time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC), Value: 100250.5},
	}
	if err := ps.WriteEquity(ctx, "r1", curve); err != nil {
		t.Fatalf("WriteEquity: %v", err)
	}
	gotCurve, err := ps.ReadEquity(ctx, "r1")
	if err != nil {
		t.Fatalf("ReadEquity: %v", err)
	}
	if len(gotCurve) != 2 || gotCurve[1].Value != 100250.5 || !gotCurve[1].Timestamp.Equal(curve[1].Timestamp) {
		t.Errorf("ReadEquity = %+v", gotCurve)
	}

	if err := ps.WriteTrades(ctx, "r1", sampleTrades()); err != nil {
		t.Fatalf("WriteTrades: %v", err)
	}
	trades, err := ps.ReadTrades(ctx, "r1")
	if err != nil {
		t.Fatalf("ReadTrades: %v", err)
	}
	if len(trades) != 2 || trades[1].Side != domain.SideShort || trades[0].ExitReason != "Stop-loss triggered" {
		t.Errorf("ReadTrades = %+v", trades)
	}

	if _, err := ps.ReadEquity(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ReadEquity(missing) err = %v, want ErrNotFound", err)
	}
}

func openTestDB(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore(%q) returned error: %v", dbPath, err)
	}
	t.Cleanup(func() {
		if cerr := s.Close(); cerr != nil {
			t.Errorf("Close() returned error: %v", cerr)
		}
	})
	return s
}

func TestSQLiteStoreOpen(t *testing.T) {
	s := openTestDB(t)
	if err := s.db.Ping(); err != nil {
		t.Fatalf("db.Ping() returned error: %v", err)
	}
}

func TestSQLiteStoreSaveAndGetRun(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	run := RunRecord{
		ID:             "run-a",
		Strategy:       "sma-cross",
		Symbol:         "AAPL",
		CreatedAt:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		InitialCapital: 100000,
		FinalCapital:   99980,
		TotalReturn:    -0.0002,
		SharpeRatio:    -0.1,
		MaxDrawdown:    -0.01,
		TradeCount:     2,
		Payload:        []byte(`{"id":"run-a"}`),
	}
	if err := s.SaveRun(ctx, run, sampleTrades()); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	got, err := s.GetRun(ctx, "run-a")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Strategy != "sma-cross" || got.FinalCapital != 99980 || got.TradeCount != 2 {
		t.Errorf("GetRun = %+v", got)
	}
	if !got.CreatedAt.Equal(run.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, run.CreatedAt)
	}
	if string(got.Payload) != `{"id":"run-a"}` {
		t.Errorf("Payload = %s", got.Payload)
	}

	trades, err := s.ListTrades(ctx, "run-a")
	if err != nil {
		t.Fatalf("ListTrades: %v", err)
	}
	if len(trades) != 2 || trades[0].PnL != -50 || trades[1].Side != domain.SideShort {
		t.Errorf("ListTrades = %+v", trades)
	}

	if _, err := s.GetRun(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun(nope) err = %v, want ErrNotFound", err)
	}
	if err := s.SaveRun(ctx, run, nil); err == nil {
		t.Error("SaveRun with duplicate ID should fail")
	}
}

func TestSQLiteStoreListRuns(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	for i, r := range []struct{ id, strat, sym string }{
		{"r1", "macd", "AAPL"},
		{"r2", "macd", "MSFT"},
		{"r3", "rsi-reversion", "AAPL"},
	} {
		rec := RunRecord{ID: r.id, Strategy: r.strat, Symbol: r.sym, CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := s.SaveRun(ctx, rec, nil); err != nil {
			t.Fatalf("SaveRun(%s): %v", r.id, err)
		}
	}

	all, err := s.ListRuns(ctx, RunFilter{})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(all) != 3 || all[0].ID != "r3" {
		t.Errorf("ListRuns = %v, want newest (r3) first", ids(all))
	}

	macd, _ := s.ListRuns(ctx, RunFilter{Strategy: "macd"})
	if len(macd) != 2 {
		t.Errorf("ListRuns(macd) = %v", ids(macd))
	}
	aapl, _ := s.ListRuns(ctx, RunFilter{Symbol: "AAPL", Limit: 1})
	if len(aapl) != 1 || aapl[0].ID != "r3" {
		t.Errorf("ListRuns(AAPL, 1) = %v", ids(aapl))
	}
}

func ids(runs []RunRecord) []string {
	out := make([]string, len(runs))
	for i, r := range runs {
		out[i] = r.ID
	}
	return out
}

func TestTradesCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteTradesCSV(&buf, sampleTrades()); err != nil {
		t.Fatalf("WriteTradesCSV: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header + 2", len(lines))
	}
	if !strings.HasPrefix(lines[0], "symbol,side,shares") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[2], "short") || !strings.HasSuffix(lines[2], "End of backtest") {
		t.Errorf("row = %q", lines[2])
	}
}

func TestReadBarsCSV(t *testing.T) {
	in := `Date,Open,High,Low,Close,Volume,Adj Close
2024-01-03,11,12,10,11.5,2000,11.5
2024-01-02,10,11,9,10.5,1000,10.5
`
	bars, err := ReadBarsCSV(strings.NewReader(in), "spy")
	if err != nil {
		t.Fatalf("ReadBarsCSV: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("got %d bars, want 2", len(bars))
	}
	if bars[1].Symbol != "SPY" || bars[1].Close != 10.5 || bars[1].Volume != 1000 {
		t.Errorf("bar = %+v", bars[1])
	}
	if !bars[0].Timestamp.Equal(time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("timestamp = %v", bars[0].Timestamp)
	}

	if _, err := ReadBarsCSV(strings.NewReader("date,open,close\n"), "X"); err == nil {
		t.Error("missing columns should fail")
	}
	if _, err := ReadBarsCSV(strings.NewReader("date,open,high,low,close,volume\n2024-01-02,x,1,1,1,1\n"), "X"); err == nil {
		t.Error("bad number should fail")
	}
}
