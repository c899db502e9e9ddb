package indicators

import (
	"fmt"
	"sort"

	"quantlab/internal/domain"
)

// Options selects which indicator columns Attach builds. Zero periods are
// skipped.
type Options struct {
	SMAPeriods []int
	EMAPeriods []int

	MACDFast, MACDSlow, MACDSignal int

	RSIPeriod int

	BandPeriod int
	BandWidth  float64

	ATRPeriod        int
	VolatilityPeriod int
	PeriodsPerYear   int
}

// DefaultOptions covers every built-in strategy at its default parameters
// plus the ATR and volatility columns the engine reads.
func DefaultOptions() Options {
	return Options{
		SMAPeriods:       []int{12, 26},
		MACDFast:         12,
		MACDSlow:         26,
		MACDSignal:       9,
		RSIPeriod:        14,
		BandPeriod:       20,
		BandWidth:        2,
		ATRPeriod:        14,
		VolatilityPeriod: 20,
		PeriodsPerYear:   252,
	}
}

// Attach computes the configured indicators over f's bars and stores them
// as columns. It returns the names of the columns it set, sorted.
func Attach(f *domain.Frame, opts Options) []string {
	if f.Len() == 0 {
		return nil
	}
	n := f.Len()
	closes := f.Closes()
	high := make([]float64, n)
	low := make([]float64, n)
	for i, b := range f.Bars {
		high[i], low[i] = b.High, b.Low
	}

	var names []string
	set := func(name string, v []float64) {
		if v == nil {
			return
		}
		f.SetColumn(name, v)
		names = append(names, name)
	}

	for _, p := range uniq(opts.SMAPeriods) {
		set(fmt.Sprintf("sma_%d", p), SMA(closes, p))
	}
	for _, p := range uniq(opts.EMAPeriods) {
		set(fmt.Sprintf("ema_%d", p), EMA(closes, p))
	}
	if opts.MACDFast > 0 && opts.MACDSlow > 0 && opts.MACDSignal > 0 {
		line, sig, hist := MACD(closes, opts.MACDFast, opts.MACDSlow, opts.MACDSignal)
		set("macd", line)
		set("macd_signal", sig)
		set("macd_hist", hist)
	}
	if opts.RSIPeriod > 0 {
		set(fmt.Sprintf("rsi_%d", opts.RSIPeriod), RSI(closes, opts.RSIPeriod))
	}
	if opts.BandPeriod > 0 && opts.BandWidth > 0 {
		up, mid, lo := Bollinger(closes, opts.BandPeriod, opts.BandWidth)
		set(fmt.Sprintf("bb_upper_%d", opts.BandPeriod), up)
		set(fmt.Sprintf("bb_middle_%d", opts.BandPeriod), mid)
		set(fmt.Sprintf("bb_lower_%d", opts.BandPeriod), lo)
	}
	if opts.ATRPeriod > 0 {
		set(fmt.Sprintf("atr_%d", opts.ATRPeriod), ATR(high, low, closes, opts.ATRPeriod))
	}
	if opts.VolatilityPeriod > 0 {
		ppy := opts.PeriodsPerYear
		if ppy <= 0 {
			ppy = 252
		}
		set(fmt.Sprintf("volatility_%d", opts.VolatilityPeriod), Volatility(closes, opts.VolatilityPeriod, ppy))
	}

	sort.Strings(names)
	return names
}

func uniq(ps []int) []int {
	seen := make(map[int]bool, len(ps))
	var out []int
	for _, p := range ps {
		if p > 0 && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
