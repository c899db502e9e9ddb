package domain

import (
	"math"
	"testing"
	"time"
)

func TestTypesExist(t *testing.T) {
	bar := Bar{}
	if bar.Symbol != "" {
		t.Error("expected empty Symbol for zero-value Bar")
	}
	if !bar.Timestamp.IsZero() {
		t.Error("expected zero Timestamp for zero-value Bar")
	}
	if bar.Open != 0 || bar.High != 0 || bar.Low != 0 || bar.Close != 0 {
		t.Error("expected zero OHLC values for zero-value Bar")
	}

	if MarketUS != "us" {
		t.Errorf("MarketUS = %q, want us", MarketUS)
	}

	pos := Position{Symbol: "AAPL", Shares: 100, Side: SideLong}
	if pos.Side != SideLong {
		t.Errorf("pos.Side = %v, want %v", pos.Side, SideLong)
	}
}

func TestSideString(t *testing.T) {
	if SideLong.String() != "long" {
		t.Errorf("SideLong.String() = %q, want %q", SideLong.String(), "long")
	}
	if SideShort.String() != "short" {
		t.Errorf("SideShort.String() = %q, want %q", SideShort.String(), "short")
	}
	s, err := ParseSide("short")
	if err != nil || s != SideShort {
		t.Errorf("ParseSide(short) = %v, %v", s, err)
	}
	if _, err := ParseSide("flat"); err == nil {
		t.Error("ParseSide(flat) should fail")
	}
}

func TestPnLSign(t *testing.T) {
	if got := PnL(SideLong, 100, 110, 10); got != 100 {
		t.Errorf("long PnL = %v, want 100", got)
	}
	if got := PnL(SideShort, 100, 110, 10); got != -100 {
		t.Errorf("short PnL = %v, want -100", got)
	}
}

func TestPnLPercentageZeroDenominator(t *testing.T) {
	if got := PnLPercentage(50, 0, 10); got != 0 {
		t.Errorf("PnLPercentage with zero entry = %v, want 0", got)
	}
	if got := PnLPercentage(50, 100, 0); got != 0 {
		t.Errorf("PnLPercentage with zero shares = %v, want 0", got)
	}
	if got := PnLPercentage(50, 100, 10); got != 0.05 {
		t.Errorf("PnLPercentage = %v, want 0.05", got)
	}
}

func TestClosePosition(t *testing.T) {
	entry := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	exit := entry.Add(48 * time.Hour)
	pos := Position{Symbol: "MSFT", Side: SideShort, Shares: 5, EntryPrice: 200, EntryTime: entry, StopLoss: 210, TakeProfit: 180}

	tr := ClosePosition(pos, 190, exit, "Strategy exit")
	if tr.PnL != 50 {
		t.Errorf("PnL = %v, want 50", tr.PnL)
	}
	if tr.PnLPercentage != 0.05 {
		t.Errorf("PnLPercentage = %v, want 0.05", tr.PnLPercentage)
	}
	if tr.HoldingPeriod() != 48*time.Hour {
		t.Errorf("HoldingPeriod = %v, want 48h", tr.HoldingPeriod())
	}
	if tr.ExitReason != "Strategy exit" {
		t.Errorf("ExitReason = %q", tr.ExitReason)
	}
}

func TestShortMarketValue(t *testing.T) {
	pos := Position{Side: SideShort, Shares: 10, EntryPrice: 100}
	pos.MarkToMarket(90)
	if pos.UnrealizedPnL != 100 {
		t.Errorf("UnrealizedPnL = %v, want 100", pos.UnrealizedPnL)
	}
	if pos.MarketValue() != 1100 {
		t.Errorf("MarketValue = %v, want 1100", pos.MarketValue())
	}
}

func TestFrameValue(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := []Bar{
		{Timestamp: base.AddDate(0, 0, 1), Close: 11},
		{Timestamp: base, Close: 10},
	}
	f := NewFrame("X", bars)
	if f.Bars[0].Close != 10 {
		t.Fatalf("NewFrame should sort by timestamp, first close = %v", f.Bars[0].Close)
	}

	f.SetColumn("sma_2", []float64{math.NaN()})
	if _, ok := f.Value("sma_2", 0); ok {
		t.Error("NaN value should report ok=false")
	}
	if _, ok := f.Value("sma_2", 1); ok {
		t.Error("padded value should report ok=false")
	}
	if _, ok := f.Value("missing", 0); ok {
		t.Error("missing column should report ok=false")
	}
	if v, ok := f.Value(ColClose, 1); !ok || v != 11 {
		t.Errorf("Value(close, 1) = %v, %v", v, ok)
	}
	if _, ok := f.Value(ColClose, 5); ok {
		t.Error("out-of-range index should report ok=false")
	}
}
