package backtest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"quantlab/internal/config"
	"quantlab/internal/domain"
	"quantlab/internal/store"
	"quantlab/internal/strategy"
	"quantlab/internal/strategy/builtins"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

var day0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func waveBars(symbol string, n int) []domain.Bar {
	bars := make([]domain.Bar, n)
	for i := range bars {
		c := 100 + 10*math.Sin(float64(i)/5)
		bars[i] = domain.Bar{
			Symbol:    symbol,
			Timestamp: day0.AddDate(0, 0, i),
			Open:      c, High: c + 1, Low: c - 1, Close: c,
			Volume: 1000,
		}
	}
	return bars
}

// holdLong buys on the first bar and never signals an exit.
type holdLong struct{ strategy.Base }

func (holdLong) Name() string                                  { return "hold" }
func (holdLong) ShouldEnterLong(_ *domain.Frame, i int) bool   { return i == 0 }
func (holdLong) ShouldEnterShort(*domain.Frame, int) bool      { return false }
func (holdLong) ShouldExitLong(*domain.Frame, int) bool        { return false }
func (holdLong) ShouldExitShort(*domain.Frame, int) bool       { return false }

func factory(name string, p strategy.Params) (strategy.Strategy, error) {
	switch name {
	case "hold":
		return holdLong{strategy.Base{PositionSizeFraction: 1}}, nil
	case "boom":
		panic("factory exploded")
	}
	return builtins.New(name, p)
}

func newTestBacktester(t *testing.T, opts ...Option) (*Backtester, *store.ParquetStore) {
	t.Helper()
	cfg := config.Default()
	cfg.Risk.TakeProfitPercentage = 0.5
	cfg.Risk.StopLossPercentage = 0.5
	ps := store.NewParquetStore(t.TempDir())
	bt, err := New(cfg, ps, factory, quiet, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return bt, ps
}

func TestRunMissingDataReturnsFailedResult(t *testing.T) {
	bt, _ := newTestBacktester(t)
	res, err := bt.Run(context.Background(), Request{Strategy: "sma-cross", Symbol: "NONE", Start: day0, End: day0.AddDate(0, 1, 0)})
	if err != nil {
		t.Fatalf("Run returned error for missing data: %v", err)
	}
	if !errors.Is(res.Err, ErrMissingData) {
		t.Errorf("Err = %v, want ErrMissingData", res.Err)
	}
	if res.Error == "" || !res.Failed() {
		t.Error("failed result should carry an error message")
	}
	if len(res.EquityCurve) != 0 || res.TradeCount != 0 {
		t.Error("failed result should carry no simulation output")
	}
	if res.FinalCapital != res.InitialCapital {
		t.Errorf("FinalCapital = %v, want initial %v", res.FinalCapital, res.InitialCapital)
	}
	if !strings.Contains(res.Report(), "FAILED") {
		t.Errorf("Report = %q", res.Report())
	}
}

func TestRunUnknownStrategy(t *testing.T) {
	bt, _ := newTestBacktester(t)
	if _, err := bt.Run(context.Background(), Request{Strategy: "nope", Symbol: "AAPL"}); err == nil {
		t.Error("unknown strategy should be an error")
	}
	if _, err := bt.Run(context.Background(), Request{Symbol: "AAPL"}); err == nil {
		t.Error("empty strategy name should be an error")
	}
}

func TestRunFromStore(t *testing.T) {
	bt, ps := newTestBacktester(t)
	ctx := context.Background()
	if err := ps.WriteBars(ctx, "us", waveBars("AAPL", 120)); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	res, err := bt.Run(ctx, Request{Strategy: "sma-cross", Symbol: "aapl", Start: day0, End: day0.AddDate(1, 0, 0)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Failed() {
		t.Fatalf("run failed: %v", res.Err)
	}
	if res.Symbol != "AAPL" || res.Strategy != "sma-cross" {
		t.Errorf("identity = %s/%s", res.Strategy, res.Symbol)
	}
	if len(res.EquityCurve) != 120 {
		t.Errorf("equity points = %d, want 120", len(res.EquityCurve))
	}
	if res.TradeCount != len(res.Trades) || res.Performance.TotalTrades != res.TradeCount {
		t.Errorf("trade counts disagree: %d / %d / %d", res.TradeCount, len(res.Trades), res.Performance.TotalTrades)
	}
	if res.TradeCount == 0 {
		t.Error("a 120-bar sine wave should produce at least one crossover trade")
	}
	last := res.EquityCurve[len(res.EquityCurve)-1].Value
	if math.Abs(res.FinalCapital-last) > 1e-6 {
		t.Errorf("FinalCapital = %v, want last equity %v", res.FinalCapital, last)
	}
	want := (res.FinalCapital - res.InitialCapital) / res.InitialCapital
	if math.Abs(res.TotalReturn-want) > 1e-12 || math.Abs(res.Performance.TotalReturn-want) > 1e-9 {
		t.Errorf("TotalReturn = %v / %v, want %v", res.TotalReturn, res.Performance.TotalReturn, want)
	}
	if !res.Start.Equal(day0) || !res.End.Equal(day0.AddDate(0, 0, 119)) {
		t.Errorf("span = %v..%v", res.Start, res.End)
	}
	if !strings.Contains(res.Report(), "BACKTEST REPORT: sma-cross on AAPL") {
		t.Errorf("report header missing:\n%s", res.Report())
	}
}

func TestRunFrameKeepsGivenColumns(t *testing.T) {
	bt, _ := newTestBacktester(t)
	f := domain.NewFrame("XYZ", waveBars("XYZ", 40))
	given := make([]float64, 40)
	for i := range given {
		given[i] = 42
	}
	f.SetColumn("sma_12", given)

	res, err := bt.RunFrame(context.Background(), Request{Strategy: "sma-cross"}, f)
	if err != nil {
		t.Fatalf("RunFrame: %v", err)
	}
	if res.Symbol != "XYZ" {
		t.Errorf("Symbol = %q, want taken from frame", res.Symbol)
	}
	if v, _ := f.Value("sma_12", 30); v != 42 {
		t.Errorf("sma_12 overwritten: %v", v)
	}
	if !f.HasColumn("sma_26") || !f.HasColumn("atr_14") || !f.HasColumn("volatility_20") {
		t.Errorf("indicator columns not attached: %v", columnNames(f))
	}
}

func columnNames(f *domain.Frame) []string {
	var out []string
	for k := range f.Columns {
		out = append(out, k)
	}
	return out
}

func TestRunFrameEmpty(t *testing.T) {
	bt, _ := newTestBacktester(t)
	res, err := bt.RunFrame(context.Background(), Request{Strategy: "macd", Symbol: "X"}, domain.NewFrame("X", nil))
	if err != nil {
		t.Fatalf("RunFrame: %v", err)
	}
	if !errors.Is(res.Err, ErrMissingData) {
		t.Errorf("Err = %v, want ErrMissingData", res.Err)
	}
}

func TestParamsOverride(t *testing.T) {
	bt, _ := newTestBacktester(t)
	p := strategy.Params{FastPeriod: 3, SlowPeriod: 8}
	res, err := bt.RunFrame(context.Background(), Request{Strategy: "sma-cross", Params: &p}, domain.NewFrame("X", waveBars("X", 30)))
	if err != nil {
		t.Fatalf("RunFrame: %v", err)
	}
	if res.Params.FastPeriod != 3 || res.Params.SlowPeriod != 8 || res.Params.PositionSizeFraction != 0.1 {
		t.Errorf("Params = %+v", res.Params)
	}

	bad := strategy.Params{FastPeriod: 9, SlowPeriod: 3}
	if _, err := bt.RunFrame(context.Background(), Request{Strategy: "sma-cross", Params: &bad}, domain.NewFrame("X", waveBars("X", 30))); err == nil {
		t.Error("invalid override accepted")
	}
}

func TestRunBatchIsolatesFailures(t *testing.T) {
	bt, ps := newTestBacktester(t)
	ctx := context.Background()
	if err := ps.WriteBars(ctx, "us", waveBars("AAPL", 60)); err != nil {
		t.Fatal(err)
	}
	end := day0.AddDate(0, 3, 0)
	jobs := []Request{
		{Strategy: "hold", Symbol: "AAPL", Start: day0, End: end},
		{Strategy: "boom", Symbol: "AAPL", Start: day0, End: end},
		{Strategy: "hold", Symbol: "MISSING", Start: day0, End: end},
		{Strategy: "nope", Symbol: "AAPL", Start: day0, End: end},
		{Strategy: "sma-cross", Symbol: "AAPL", Start: day0, End: end},
	}
	results := bt.RunBatch(ctx, jobs, 2)
	if len(results) != len(jobs) {
		t.Fatalf("results = %d, want %d", len(results), len(jobs))
	}
	wantFailed := []bool{false, true, true, true, false}
	for i, r := range results {
		if r == nil {
			t.Fatalf("result %d is nil", i)
		}
		if r.Failed() != wantFailed[i] {
			t.Errorf("job %d (%s/%s) failed = %v (%v), want %v", i, jobs[i].Strategy, jobs[i].Symbol, r.Failed(), r.Err, wantFailed[i])
		}
		if r.ID == "" {
			t.Errorf("job %d has no ID", i)
		}
	}
	if !errors.Is(results[2].Err, ErrMissingData) {
		t.Errorf("missing symbol err = %v", results[2].Err)
	}
	if !strings.Contains(results[1].Error, "panic") {
		t.Errorf("panicking job error = %q", results[1].Error)
	}
	if results[0].TradeCount != 1 || results[0].Trades[0].ExitReason != "End of backtest" {
		t.Errorf("hold job trades = %+v", results[0].Trades)
	}
}

func TestRunBatchCancelled(t *testing.T) {
	bt, _ := newTestBacktester(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := bt.RunBatch(ctx, Sweep([]string{"hold"}, []string{"A", "B", "C"}, day0, day0.AddDate(0, 1, 0)), 1)
	for i, r := range results {
		if !r.Failed() {
			t.Errorf("job %d succeeded under a cancelled context", i)
		}
	}
}

func TestSweep(t *testing.T) {
	jobs := Sweep([]string{"macd", "rsi-reversion"}, []string{"AAPL", "MSFT", "SPY"}, day0, day0)
	if len(jobs) != 6 {
		t.Fatalf("len = %d, want 6", len(jobs))
	}
	if jobs[0].Strategy != "macd" || jobs[0].Symbol != "AAPL" || jobs[5].Strategy != "rsi-reversion" || jobs[5].Symbol != "SPY" {
		t.Errorf("order = %+v ... %+v", jobs[0], jobs[5])
	}
}

func TestPersistence(t *testing.T) {
	dir := t.TempDir()
	sq, err := store.NewSQLiteStore(filepath.Join(dir, "q.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer sq.Close()
	artifacts := store.NewParquetStore(filepath.Join(dir, "data"))

	bt, ps := newTestBacktester(t, WithResultStore(sq), WithArtifactStore(artifacts))
	ctx := context.Background()
	if err := ps.WriteBars(ctx, "us", waveBars("AAPL", 50)); err != nil {
		t.Fatal(err)
	}
	res, err := bt.Run(ctx, Request{Strategy: "hold", Symbol: "AAPL", Start: day0, End: day0.AddDate(0, 3, 0)})
	if err != nil || res.Failed() {
		t.Fatalf("Run: %v / %v", err, res.Err)
	}

	rec, err := sq.GetRun(ctx, res.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if rec.Strategy != "hold" || rec.TradeCount != 1 || rec.FinalCapital != res.FinalCapital {
		t.Errorf("record = %+v", rec)
	}
	if len(rec.Payload) == 0 {
		t.Error("payload not stored")
	}
	trades, err := sq.ListTrades(ctx, res.ID)
	if err != nil || len(trades) != 1 {
		t.Errorf("ListTrades = %d, %v", len(trades), err)
	}
	curve, err := artifacts.ReadEquity(ctx, res.ID)
	if err != nil || len(curve) != 50 {
		t.Errorf("ReadEquity = %d points, %v", len(curve), err)
	}

	failed, err := bt.Run(ctx, Request{Strategy: "hold", Symbol: "GONE", Start: day0, End: day0.AddDate(0, 1, 0)})
	if err != nil {
		t.Fatal(err)
	}
	rec, err = sq.GetRun(ctx, failed.ID)
	if err != nil || rec.Error == "" {
		t.Errorf("failed run record = %+v, %v", rec, err)
	}
	if _, err := artifacts.ReadEquity(ctx, failed.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("failed run wrote artifacts: %v", err)
	}
}

func TestAlignReturns(t *testing.T) {
	curve := []domain.EquityPoint{
		{Timestamp: day0, Value: 1},
		{Timestamp: day0.AddDate(0, 0, 1), Value: 1},
		{Timestamp: day0.AddDate(0, 0, 2), Value: 1},
		{Timestamp: day0.AddDate(0, 0, 3), Value: 1},
	}
	bars := []domain.Bar{
		{Timestamp: day0.Add(5 * time.Hour), Close: 100},
		{Timestamp: day0.AddDate(0, 0, 1).Add(5 * time.Hour), Close: 110},
		{Timestamp: day0.AddDate(0, 0, 3).Add(5 * time.Hour), Close: 121},
	}
	got := alignReturns(curve, bars)
	want := []float64{0.1, 0, 0}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Errorf("got[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestBenchmarkFeedsRelativeMetrics(t *testing.T) {
	bt, ps := newTestBacktester(t)
	bt.cfg.Backtest.Benchmark = "SPY"
	ctx := context.Background()
	if err := ps.WriteBars(ctx, "us", waveBars("AAPL", 60)); err != nil {
		t.Fatal(err)
	}
	if err := ps.WriteBars(ctx, "us", waveBars("SPY", 60)); err != nil {
		t.Fatal(err)
	}
	res, err := bt.Run(ctx, Request{Strategy: "hold", Symbol: "AAPL", Start: day0, End: day0.AddDate(0, 3, 0)})
	if err != nil || res.Failed() {
		t.Fatalf("Run: %v / %v", err, res.Err)
	}
	if res.Performance.Beta <= 0 {
		t.Errorf("Beta = %v, want positive when holding the benchmark's own path", res.Performance.Beta)
	}
}
