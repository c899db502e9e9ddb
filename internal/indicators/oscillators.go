package indicators

import "math"

// MACD returns the MACD line (EMA fast - EMA slow), its signal EMA and the
// histogram.
func MACD(x []float64, fast, slow, signal int) (line, sig, hist []float64) {
	ef := EMA(x, fast)
	es := EMA(x, slow)
	line = make([]float64, len(x))
	for i := range x {
		line[i] = ef[i] - es[i] // NaN propagates through warmup
	}
	sig = EMA(line, signal)
	hist = make([]float64, len(x))
	for i := range x {
		hist[i] = line[i] - sig[i]
	}
	return line, sig, hist
}

// RSI with Wilder smoothing. The first value is at index p.
func RSI(x []float64, p int) []float64 {
	out := nanSlice(len(x))
	if p <= 0 || len(x) <= p {
		return out
	}
	var gain, loss float64
	for i := 1; i <= p; i++ {
		d := x[i] - x[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	gain /= float64(p)
	loss /= float64(p)
	out[p] = rsiValue(gain, loss)

	for i := p + 1; i < len(x); i++ {
		d := x[i] - x[i-1]
		var g, l float64
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		gain = (gain*float64(p-1) + g) / float64(p)
		loss = (loss*float64(p-1) + l) / float64(p)
		out[i] = rsiValue(gain, loss)
	}
	return out
}

func rsiValue(gain, loss float64) float64 {
	if loss == 0 {
		if gain == 0 {
			return 50
		}
		return 100
	}
	return 100 - 100/(1+gain/loss)
}

// Bollinger returns the upper, middle and lower bands at width standard
// deviations around the p-period SMA.
func Bollinger(x []float64, p int, width float64) (upper, middle, lower []float64) {
	mean, std := MeanStd(x, p)
	if mean == nil {
		return nil, nil, nil
	}
	upper = make([]float64, len(x))
	lower = make([]float64, len(x))
	for i := range x {
		upper[i] = mean[i] + width*std[i]
		lower[i] = mean[i] - width*std[i]
	}
	return upper, mean, lower
}

// ATR is the Wilder-smoothed average true range.
func ATR(high, low, close []float64, p int) []float64 {
	n := len(close)
	out := nanSlice(n)
	if p <= 0 || n <= p || len(high) != n || len(low) != n {
		return out
	}
	tr := make([]float64, n)
	for i := 1; i < n; i++ {
		tr[i] = math.Max(high[i]-low[i],
			math.Max(math.Abs(high[i]-close[i-1]), math.Abs(low[i]-close[i-1])))
	}
	var sum float64
	for i := 1; i <= p; i++ {
		sum += tr[i]
	}
	out[p] = sum / float64(p)
	for i := p + 1; i < n; i++ {
		out[i] = (out[i-1]*float64(p-1) + tr[i]) / float64(p)
	}
	return out
}

// Volatility is the annualized rolling sample std of simple returns over p
// periods.
func Volatility(x []float64, p, periodsPerYear int) []float64 {
	out := nanSlice(len(x))
	if p < 2 || len(x) <= p {
		return out
	}
	rets := make([]float64, len(x))
	for i := 1; i < len(x); i++ {
		if x[i-1] != 0 {
			rets[i] = x[i]/x[i-1] - 1
		}
	}
	ann := math.Sqrt(float64(periodsPerYear))
	for i := p; i < len(x); i++ {
		window := rets[i-p+1 : i+1]
		var mean float64
		for _, r := range window {
			mean += r
		}
		mean /= float64(p)
		var ss float64
		for _, r := range window {
			ss += (r - mean) * (r - mean)
		}
		out[i] = math.Sqrt(ss/float64(p-1)) * ann
	}
	return out
}
