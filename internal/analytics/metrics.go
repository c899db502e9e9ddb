// Package analytics computes performance statistics from an equity curve and
// a trade log. Every metric is defined on degenerate input (no trades, one
// bar, zero variance): it falls back to a sentinel and the fallback is named
// in Metrics.Degenerate.
package analytics

import (
	"encoding/json"
	"log/slog"
	"math"
	"sort"

	"quantlab/internal/domain"
)

// DefaultPeriodsPerYear is the number of daily bars in a trading year.
const DefaultPeriodsPerYear = 252

// Deviations at or below this are treated as zero, so a series of identical
// returns that picked up rounding noise still reads as zero variance.
const varianceEpsilon = 1e-12

// Options tunes Analyze.
type Options struct {
	RiskFreeRate   float64   // annual
	Benchmark      []float64 // per-period benchmark returns, aligned to the curve's returns
	PeriodsPerYear int
	Logger         *slog.Logger
}

// Ratio is a float that may legitimately be +Inf. It encodes infinities as
// the JSON strings "+Inf" and "-Inf".
type Ratio float64

// MarshalJSON implements json.Marshaler.
func (r Ratio) MarshalJSON() ([]byte, error) {
	switch {
	case math.IsInf(float64(r), 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(float64(r), -1):
		return []byte(`"-Inf"`), nil
	case math.IsNaN(float64(r)):
		return []byte(`null`), nil
	}
	return json.Marshal(float64(r))
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Ratio) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case `"+Inf"`:
		*r = Ratio(math.Inf(1))
		return nil
	case `"-Inf"`:
		*r = Ratio(math.Inf(-1))
		return nil
	case `null`:
		*r = Ratio(math.NaN())
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*r = Ratio(f)
	return nil
}

// Metrics is the full set of performance statistics for one run.
type Metrics struct {
	TotalReturn         float64 `json:"total_return"`
	AnnualizedReturn    float64 `json:"annualized_return"`
	Volatility          float64 `json:"volatility"`
	SharpeRatio         float64 `json:"sharpe_ratio"`
	SortinoRatio        float64 `json:"sortino_ratio"`
	CalmarRatio         float64 `json:"calmar_ratio"`
	OmegaRatio          Ratio   `json:"omega_ratio"`
	MaxDrawdown         float64 `json:"max_drawdown"`
	MaxDrawdownDuration int     `json:"max_drawdown_duration"`
	VaR95               float64 `json:"var_95"`
	CVaR95              float64 `json:"cvar_95"`

	Beta             float64 `json:"beta"`
	Alpha            float64 `json:"alpha"`
	TreynorRatio     float64 `json:"treynor_ratio"`
	InformationRatio float64 `json:"information_ratio"`

	TotalTrades           int     `json:"total_trades"`
	WinningTrades         int     `json:"winning_trades"`
	LosingTrades          int     `json:"losing_trades"`
	WinRate               float64 `json:"win_rate"`
	ProfitFactor          Ratio   `json:"profit_factor"`
	AverageWin            float64 `json:"average_win"`
	AverageLoss           float64 `json:"average_loss"`
	LargestWin            float64 `json:"largest_win"`
	LargestLoss           float64 `json:"largest_loss"`
	AvgTradeDurationHours float64 `json:"avg_trade_duration_hours"`

	BestMonth      float64 `json:"best_month"`
	WorstMonth     float64 `json:"worst_month"`
	PositiveMonths int     `json:"positive_months"`
	NegativeMonths int     `json:"negative_months"`

	// Degenerate names the metrics that fell back to a sentinel.
	Degenerate []string `json:"degenerate,omitempty"`
}

// IsDegenerate reports whether metric fell back to its sentinel.
func (m Metrics) IsDegenerate(metric string) bool {
	for _, d := range m.Degenerate {
		if d == metric {
			return true
		}
	}
	return false
}

// analysis accumulates sentinel fallbacks while metrics are computed.
type analysis struct {
	m   Metrics
	log *slog.Logger
}

func (a *analysis) degenerate(metric, why string) {
	a.m.Degenerate = append(a.m.Degenerate, metric)
	a.log.Debug("metric degenerate", "metric", metric, "reason", why)
}

// Analyze computes Metrics from an equity curve and the closed trades that
// produced it. It never panics on degenerate input.
func Analyze(curve []domain.EquityPoint, trades []domain.Trade, opts Options) Metrics {
	if opts.PeriodsPerYear <= 0 {
		opts.PeriodsPerYear = DefaultPeriodsPerYear
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	a := &analysis{log: log.With("component", "analytics")}

	values := domain.EquityValues(curve)
	rets := Returns(values)
	a.returnMetrics(values, rets, opts)
	a.benchmarkMetrics(rets, opts)
	a.tradeMetrics(trades)
	a.monthlyMetrics(curve)

	sort.Strings(a.m.Degenerate)
	return a.m
}

func (a *analysis) returnMetrics(values, rets []float64, opts Options) {
	ppy := float64(opts.PeriodsPerYear)
	annFactor := math.Sqrt(ppy)
	rfPeriod := opts.RiskFreeRate / ppy

	if len(values) > 0 && values[0] != 0 {
		a.m.TotalReturn = values[len(values)-1]/values[0] - 1
	} else {
		a.degenerate("total_return", "empty curve or zero starting value")
	}
	if n := len(values); n > 0 {
		if growth := 1 + a.m.TotalReturn; growth > 0 {
			a.m.AnnualizedReturn = math.Pow(growth, ppy/float64(n)) - 1
		} else {
			a.m.AnnualizedReturn = -1
		}
	}

	sd := stdDev(rets)
	if sd <= varianceEpsilon {
		sd = 0
	}
	a.m.Volatility = sd * annFactor

	excess := make([]float64, len(rets))
	for i, r := range rets {
		excess[i] = r - rfPeriod
	}
	if sd > varianceEpsilon {
		a.m.SharpeRatio = mean(excess) / sd * annFactor
	} else {
		a.degenerate("sharpe_ratio", "zero return variance")
	}

	var neg []float64
	for _, r := range rets {
		if r < 0 {
			neg = append(neg, r)
		}
	}
	if dsd := stdDev(neg); dsd > varianceEpsilon {
		a.m.SortinoRatio = mean(excess) / dsd * annFactor
	} else {
		a.degenerate("sortino_ratio", "no downside deviation")
	}

	dd := MaxDrawdown(values)
	a.m.MaxDrawdown = dd.Depth
	a.m.MaxDrawdownDuration = dd.Duration
	if dd.Depth < 0 {
		a.m.CalmarRatio = a.m.TotalReturn / math.Abs(dd.Depth)
	} else {
		a.degenerate("calmar_ratio", "no drawdown")
	}

	a.m.OmegaRatio = a.omega(rets, 0)

	if len(rets) > 0 {
		a.m.VaR95 = percentile(rets, 0.05)
		var tail []float64
		for _, r := range rets {
			if r <= a.m.VaR95 {
				tail = append(tail, r)
			}
		}
		a.m.CVaR95 = mean(tail)
	}
}

func (a *analysis) omega(rets []float64, threshold float64) Ratio {
	var gains, losses []float64
	for _, r := range rets {
		if r > threshold {
			gains = append(gains, r-threshold)
		} else {
			losses = append(losses, threshold-r)
		}
	}
	lossMean := mean(losses)
	if lossMean == 0 {
		if len(gains) == 0 {
			a.degenerate("omega_ratio", "no gaining or losing periods")
			return 0
		}
		a.degenerate("omega_ratio", "no losing periods")
		return Ratio(math.Inf(1))
	}
	return Ratio(mean(gains) / lossMean)
}

// benchmarkMetrics fills beta, alpha, treynor and information ratio. They
// stay 0 without a benchmark.
func (a *analysis) benchmarkMetrics(rets []float64, opts Options) {
	if len(opts.Benchmark) == 0 || len(rets) == 0 {
		return
	}
	n := len(rets)
	if len(opts.Benchmark) < n {
		n = len(opts.Benchmark)
	}
	r, b := rets[:n], opts.Benchmark[:n]
	ppy := float64(opts.PeriodsPerYear)
	rfPeriod := opts.RiskFreeRate / ppy

	varB := stdDev(b)
	varB *= varB
	if varB <= varianceEpsilon*varianceEpsilon {
		a.degenerate("beta", "zero benchmark variance")
		return
	}
	a.m.Beta = covariance(r, b) / varB
	a.m.Alpha = (mean(r) - rfPeriod - a.m.Beta*(mean(b)-rfPeriod)) * ppy

	if a.m.Beta != 0 {
		a.m.TreynorRatio = (a.m.AnnualizedReturn - opts.RiskFreeRate) / a.m.Beta
	} else {
		a.degenerate("treynor_ratio", "zero beta")
	}

	active := make([]float64, n)
	for i := range r {
		active[i] = r[i] - b[i]
	}
	if te := stdDev(active); te > varianceEpsilon {
		a.m.InformationRatio = mean(active) / te * math.Sqrt(ppy)
	} else {
		a.degenerate("information_ratio", "zero tracking error")
	}
}

func (a *analysis) tradeMetrics(trades []domain.Trade) {
	a.m.TotalTrades = len(trades)
	if len(trades) == 0 {
		a.degenerate("win_rate", "no trades")
		a.degenerate("profit_factor", "no trades")
		return
	}
	var grossProfit, grossLoss float64
	var hours float64
	for _, t := range trades {
		hours += t.HoldingPeriod().Hours()
		switch {
		case t.PnL > 0:
			a.m.WinningTrades++
			grossProfit += t.PnL
			if t.PnL > a.m.LargestWin {
				a.m.LargestWin = t.PnL
			}
		case t.PnL < 0:
			a.m.LosingTrades++
			grossLoss -= t.PnL
			if t.PnL < a.m.LargestLoss {
				a.m.LargestLoss = t.PnL
			}
		}
	}
	a.m.WinRate = float64(a.m.WinningTrades) / float64(len(trades))
	a.m.AvgTradeDurationHours = hours / float64(len(trades))
	if a.m.WinningTrades > 0 {
		a.m.AverageWin = grossProfit / float64(a.m.WinningTrades)
	}
	if a.m.LosingTrades > 0 {
		a.m.AverageLoss = -grossLoss / float64(a.m.LosingTrades)
	}

	switch {
	case grossLoss > 0:
		a.m.ProfitFactor = Ratio(grossProfit / grossLoss)
	case grossProfit > 0:
		a.m.ProfitFactor = Ratio(math.Inf(1))
		a.degenerate("profit_factor", "no losing trades")
	default:
		a.degenerate("profit_factor", "no gross profit or loss")
	}
}

func (a *analysis) monthlyMetrics(curve []domain.EquityPoint) {
	monthly := MonthlyReturns(curve)
	if len(monthly) == 0 {
		return
	}
	a.m.BestMonth, a.m.WorstMonth = monthly[0], monthly[0]
	for _, r := range monthly {
		a.m.BestMonth = math.Max(a.m.BestMonth, r)
		a.m.WorstMonth = math.Min(a.m.WorstMonth, r)
		switch {
		case r > 0:
			a.m.PositiveMonths++
		case r < 0:
			a.m.NegativeMonths++
		}
	}
}
