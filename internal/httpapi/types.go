package httpapi

import (
	"time"

	"quantlab/internal/store"
	"quantlab/internal/strategy"
)

// RunSummary is one row of GET /api/runs.
type RunSummary struct {
	ID             string    `json:"id"`
	Strategy       string    `json:"strategy"`
	Symbol         string    `json:"symbol"`
	CreatedAt      time.Time `json:"created_at"`
	InitialCapital float64   `json:"initial_capital"`
	FinalCapital   float64   `json:"final_capital"`
	TotalReturn    float64   `json:"total_return"`
	SharpeRatio    float64   `json:"sharpe_ratio"`
	MaxDrawdown    float64   `json:"max_drawdown"`
	TradeCount     int       `json:"trade_count"`
	Error          string    `json:"error,omitempty"`
}

func toSummary(r store.RunRecord) RunSummary {
	return RunSummary{
		ID:             r.ID,
		Strategy:       r.Strategy,
		Symbol:         r.Symbol,
		CreatedAt:      r.CreatedAt.UTC(),
		InitialCapital: r.InitialCapital,
		FinalCapital:   r.FinalCapital,
		TotalReturn:    r.TotalReturn,
		SharpeRatio:    r.SharpeRatio,
		MaxDrawdown:    r.MaxDrawdown,
		TradeCount:     r.TradeCount,
		Error:          r.Error,
	}
}

// BacktestRequest is the body of POST /api/backtests. Dates are YYYY-MM-DD;
// an empty end means today.
type BacktestRequest struct {
	Strategy string           `json:"strategy"`
	Symbol   string           `json:"symbol"`
	Start    string           `json:"start"`
	End      string           `json:"end,omitempty"`
	Params   *strategy.Params `json:"params,omitempty"`
}
