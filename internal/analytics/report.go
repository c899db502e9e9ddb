package analytics

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"quantlab/internal/domain"
)

// Header identifies the run a report describes.
type Header struct {
	Strategy       string
	Symbol         string
	Start, End     time.Time
	InitialCapital float64
	FinalCapital   float64
}

// Report renders a fixed-format plain-text summary of m.
func Report(h Header, m Metrics) string {
	var b strings.Builder
	line := func(label, value string) {
		fmt.Fprintf(&b, "%-26s %s\n", label+":", value)
	}
	rule := strings.Repeat("=", 50)

	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "BACKTEST REPORT: %s on %s\n", h.Strategy, h.Symbol)
	b.WriteString(rule + "\n")
	if !h.Start.IsZero() {
		line("Period", h.Start.Format("2006-01-02")+" to "+h.End.Format("2006-01-02"))
	}
	line("Initial Capital", money(h.InitialCapital))
	line("Final Capital", money(h.FinalCapital))
	line("Total Return", pct(m.TotalReturn))
	line("Annualized Return", pct(m.AnnualizedReturn))

	b.WriteString("\nRISK METRICS\n")
	line("Volatility", pct(m.Volatility))
	line("Sharpe Ratio", ratio(m.SharpeRatio))
	line("Sortino Ratio", ratio(m.SortinoRatio))
	line("Calmar Ratio", ratio(m.CalmarRatio))
	line("Omega Ratio", ratio(float64(m.OmegaRatio)))
	line("Max Drawdown", pct(m.MaxDrawdown))
	line("Max Drawdown Duration", fmt.Sprintf("%d bars", m.MaxDrawdownDuration))
	line("VaR (95%)", pct(m.VaR95))
	line("CVaR (95%)", pct(m.CVaR95))
	if m.Beta != 0 {
		line("Beta", ratio(m.Beta))
		line("Alpha", pct(m.Alpha))
		line("Treynor Ratio", ratio(m.TreynorRatio))
		line("Information Ratio", ratio(m.InformationRatio))
	}

	b.WriteString("\nTRADE STATISTICS\n")
	line("Total Trades", fmt.Sprintf("%d", m.TotalTrades))
	line("Winning Trades", fmt.Sprintf("%d", m.WinningTrades))
	line("Losing Trades", fmt.Sprintf("%d", m.LosingTrades))
	line("Win Rate", pct(m.WinRate))
	line("Profit Factor", ratio(float64(m.ProfitFactor)))
	line("Average Win", money(m.AverageWin))
	line("Average Loss", money(m.AverageLoss))
	line("Largest Win", money(m.LargestWin))
	line("Largest Loss", money(m.LargestLoss))
	line("Avg Trade Duration", fmt.Sprintf("%.1f hours", m.AvgTradeDurationHours))

	b.WriteString("\nMONTHLY\n")
	line("Best Month", pct(m.BestMonth))
	line("Worst Month", pct(m.WorstMonth))
	line("Positive Months", fmt.Sprintf("%d", m.PositiveMonths))
	line("Negative Months", fmt.Sprintf("%d", m.NegativeMonths))
	b.WriteString(rule + "\n")
	return b.String()
}

func money(v float64) string {
	if !domain.IsFinite(v) {
		return fmt.Sprint(v)
	}
	return "$" + decimal.NewFromFloat(v).StringFixed(2)
}

func pct(v float64) string {
	if !domain.IsFinite(v) {
		return fmt.Sprint(v)
	}
	return decimal.NewFromFloat(v).Shift(2).StringFixed(2) + "%"
}

func ratio(v float64) string {
	if math.IsInf(v, 1) {
		return "inf"
	}
	if !domain.IsFinite(v) {
		return fmt.Sprint(v)
	}
	return decimal.NewFromFloat(v).StringFixed(3)
}

