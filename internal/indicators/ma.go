// Package indicators computes technical-indicator series and attaches them
// to a domain.Frame under the column names the built-in strategies read.
// Every series is aligned to its input and carries NaN during warmup.
package indicators

import "math"

// SMA over the last p points.
func SMA(x []float64, p int) []float64 {
	if p <= 0 {
		return nil
	}
	out := make([]float64, len(x))
	var sum float64
	for i := range x {
		sum += x[i]
		if i >= p {
			sum -= x[i-p]
		}
		if i < p-1 {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(p)
	}
	return out
}

// EMA with smoothing 2/(p+1), seeded with the SMA of the first p points.
// Leading NaNs in x (as in a MACD line) are skipped before seeding.
func EMA(x []float64, p int) []float64 {
	if p <= 0 {
		return nil
	}
	out := nanSlice(len(x))
	start := 0
	for start < len(x) && math.IsNaN(x[start]) {
		start++
	}
	if len(x)-start < p {
		return out
	}
	var seed float64
	for i := start; i < start+p; i++ {
		seed += x[i]
	}
	k := 2.0 / float64(p+1)
	out[start+p-1] = seed / float64(p)
	for i := start + p; i < len(x); i++ {
		out[i] = (x[i]-out[i-1])*k + out[i-1]
	}
	return out
}

// MeanStd returns the rolling mean and population std over window p.
func MeanStd(x []float64, p int) (mean, std []float64) {
	if p <= 0 {
		return nil, nil
	}
	n := len(x)
	mean = make([]float64, n)
	std = make([]float64, n)

	var sum, sum2 float64
	for i := 0; i < n; i++ {
		sum += x[i]
		sum2 += x[i] * x[i]
		if i >= p {
			sum -= x[i-p]
			sum2 -= x[i-p] * x[i-p]
		}
		if i < p-1 {
			mean[i] = math.NaN()
			std[i] = math.NaN()
			continue
		}
		m := sum / float64(p)
		v := sum2/float64(p) - m*m
		if v < 0 {
			v = 0
		}
		mean[i] = m
		std[i] = math.Sqrt(v)
	}
	return mean, std
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
