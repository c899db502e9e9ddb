package domain

import (
	"math"
	"sort"
)

// Standard column names. Indicator columns are free-form and agreed between
// whatever builds them and the strategies that read them.
const (
	ColOpen   = "open"
	ColHigh   = "high"
	ColLow    = "low"
	ColClose  = "close"
	ColVolume = "volume"
)

// Frame is a time-ordered table of bars for one symbol plus named indicator
// columns aligned index-for-index with Bars.
type Frame struct {
	Symbol  string
	Bars    []Bar
	Columns map[string][]float64
}

// NewFrame returns a Frame over bars, sorted by timestamp.
func NewFrame(symbol string, bars []Bar) *Frame {
	sorted := make([]Bar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return &Frame{
		Symbol:  symbol,
		Bars:    sorted,
		Columns: make(map[string][]float64),
	}
}

// Len returns the number of bars.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Bars)
}

// SetColumn attaches an indicator column. Short columns are padded with NaN.
func (f *Frame) SetColumn(name string, values []float64) {
	col := make([]float64, len(f.Bars))
	for i := range col {
		if i < len(values) {
			col[i] = values[i]
		} else {
			col[i] = math.NaN()
		}
	}
	f.Columns[name] = col
}

// HasColumn reports whether name is an OHLCV field or an attached column.
func (f *Frame) HasColumn(name string) bool {
	switch name {
	case ColOpen, ColHigh, ColLow, ColClose, ColVolume:
		return true
	}
	_, ok := f.Columns[name]
	return ok
}

// Value returns column name at bar i. ok is false when the column is absent,
// i is out of range, or the value is NaN.
func (f *Frame) Value(name string, i int) (float64, bool) {
	if f == nil || i < 0 || i >= len(f.Bars) {
		return 0, false
	}
	var v float64
	switch name {
	case ColOpen:
		v = f.Bars[i].Open
	case ColHigh:
		v = f.Bars[i].High
	case ColLow:
		v = f.Bars[i].Low
	case ColClose:
		v = f.Bars[i].Close
	case ColVolume:
		v = float64(f.Bars[i].Volume)
	default:
		col, ok := f.Columns[name]
		if !ok || i >= len(col) {
			return 0, false
		}
		v = col[i]
	}
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// Closes returns the close prices.
func (f *Frame) Closes() []float64 {
	out := make([]float64, len(f.Bars))
	for i, b := range f.Bars {
		out[i] = b.Close
	}
	return out
}
