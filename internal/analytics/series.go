package analytics

import (
	"math"
	"sort"
	"time"

	"quantlab/internal/domain"
)

// Returns is the period-over-period percentage change of values. A zero
// previous value yields a zero return.
func Returns(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] != 0 {
			out[i-1] = values[i]/values[i-1] - 1
		}
	}
	return out
}

func mean(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var s float64
	for _, v := range x {
		s += v
	}
	return s / float64(len(x))
}

// stdDev is the sample standard deviation (n-1). It is 0 for fewer than two
// points.
func stdDev(x []float64) float64 {
	if len(x) < 2 {
		return 0
	}
	m := mean(x)
	var ss float64
	for _, v := range x {
		ss += (v - m) * (v - m)
	}
	return math.Sqrt(ss / float64(len(x)-1))
}

func covariance(a, b []float64) float64 {
	if len(a) < 2 || len(a) != len(b) {
		return 0
	}
	ma, mb := mean(a), mean(b)
	var s float64
	for i := range a {
		s += (a[i] - ma) * (b[i] - mb)
	}
	return s / float64(len(a)-1)
}

// percentile uses linear interpolation between closest ranks, q in [0, 1].
func percentile(x []float64, q float64) float64 {
	if len(x) == 0 {
		return 0
	}
	s := append([]float64(nil), x...)
	sort.Float64s(s)
	rank := q * float64(len(s)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return s[lo]
	}
	return s[lo] + (s[hi]-s[lo])*(rank-float64(lo))
}

// Drawdown describes the deepest peak-to-trough decline of a series.
type Drawdown struct {
	Depth    float64 // (trough - peak) / peak, <= 0
	Duration int     // bars from the peak to recovery, or to the end if never recovered
	Peak     int
	Trough   int
}

// MaxDrawdown returns the deepest drawdown of values.
func MaxDrawdown(values []float64) Drawdown {
	var dd Drawdown
	if len(values) == 0 {
		return dd
	}
	peak, peakIdx := values[0], 0
	for i, v := range values {
		if v > peak {
			peak, peakIdx = v, i
			continue
		}
		if peak <= 0 {
			continue
		}
		if d := (v - peak) / peak; d < dd.Depth {
			dd = Drawdown{Depth: d, Peak: peakIdx, Trough: i}
		}
	}
	if dd.Depth == 0 {
		return dd
	}
	end := len(values) - 1
	for i := dd.Trough + 1; i < len(values); i++ {
		if values[i] >= values[dd.Peak] {
			end = i
			break
		}
	}
	dd.Duration = end - dd.Peak
	return dd
}

// MonthlyReturns resamples the curve to month-end values and returns the
// change between consecutive month ends. The first month has no prior month
// end and contributes no return.
func MonthlyReturns(curve []domain.EquityPoint) []float64 {
	if len(curve) == 0 {
		return nil
	}
	var ends []float64
	var cur time.Time
	for i, p := range curve {
		y, m, _ := p.Timestamp.Date()
		month := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
		if i == 0 || !month.Equal(cur) {
			ends = append(ends, p.Value)
			cur = month
			continue
		}
		ends[len(ends)-1] = p.Value
	}
	return Returns(ends)
}
