// Package domain holds the core value types shared across the backtester:
// bars, the column-oriented frame strategies read from, positions, trades
// and equity points.
package domain

import (
	"fmt"
	"math"
	"time"
)

// Market identifies the market a symbol trades on.
type Market string

const MarketUS Market = "us"

// Bar is a single OHLCV bar.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64
}

// ---------------------------------------------------------------------------
// Side
// ---------------------------------------------------------------------------

// Side is the direction of a position.
type Side int

const (
	SideLong Side = iota + 1
	SideShort
)

// String returns "long" or "short".
func (s Side) String() string {
	switch s {
	case SideLong:
		return "long"
	case SideShort:
		return "short"
	default:
		return fmt.Sprintf("Side(%d)", int(s))
	}
}

// ParseSide converts "long"/"short" into a Side.
func ParseSide(s string) (Side, error) {
	switch s {
	case "long":
		return SideLong, nil
	case "short":
		return SideShort, nil
	}
	return 0, fmt.Errorf("unknown side %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Side) UnmarshalText(b []byte) error {
	v, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ---------------------------------------------------------------------------
// Position / Trade
// ---------------------------------------------------------------------------

// Position is an open holding in one symbol.
type Position struct {
	Symbol        string    `json:"symbol"`
	Side          Side      `json:"side"`
	Shares        float64   `json:"shares"`
	EntryPrice    float64   `json:"entry_price"`
	EntryTime     time.Time `json:"entry_time"`
	CurrentPrice  float64   `json:"current_price"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	StopLoss      float64   `json:"stop_loss"`
	TakeProfit    float64   `json:"take_profit"`
}

// MarkToMarket sets the current price and recomputes unrealized pnl.
func (p *Position) MarkToMarket(price float64) {
	p.CurrentPrice = price
	p.UnrealizedPnL = PnL(p.Side, p.EntryPrice, price, p.Shares)
}

// CostBasis is the cash committed when the position was opened.
func (p *Position) CostBasis() float64 {
	return p.EntryPrice * p.Shares
}

// MarketValue is the position's contribution to portfolio value: the cash
// committed at entry plus unrealized pnl. For longs this equals
// shares × current price.
func (p *Position) MarketValue() float64 {
	return p.CostBasis() + p.UnrealizedPnL
}

// Trade is a closed position. Trades are immutable once created.
type Trade struct {
	Symbol        string    `json:"symbol"`
	Side          Side      `json:"side"`
	Shares        float64   `json:"shares"`
	EntryPrice    float64   `json:"entry_price"`
	EntryTime     time.Time `json:"entry_time"`
	ExitPrice     float64   `json:"exit_price"`
	ExitTime      time.Time `json:"exit_time"`
	PnL           float64   `json:"pnl"`
	PnLPercentage float64   `json:"pnl_percentage"`
	StopLoss      float64   `json:"stop_loss"`
	TakeProfit    float64   `json:"take_profit"`
	ExitReason    string    `json:"exit_reason"`
}

// HoldingPeriod returns the time between entry and exit.
func (t Trade) HoldingPeriod() time.Duration {
	return t.ExitTime.Sub(t.EntryTime)
}

// IsWin reports whether the trade made money.
func (t Trade) IsWin() bool { return t.PnL > 0 }

// PnL returns the profit of moving shares from entry to exit on the given side.
func PnL(side Side, entry, exit, shares float64) float64 {
	if side == SideShort {
		return (entry - exit) * shares
	}
	return (exit - entry) * shares
}

// PnLPercentage returns pnl / (entry × shares), or 0 when that is zero.
func PnLPercentage(pnl, entry, shares float64) float64 {
	denom := entry * shares
	if denom == 0 {
		return 0
	}
	return pnl / denom
}

// ClosePosition converts pos into a Trade at the given exit price.
func ClosePosition(pos Position, price float64, at time.Time, reason string) Trade {
	pnl := PnL(pos.Side, pos.EntryPrice, price, pos.Shares)
	return Trade{
		Symbol:        pos.Symbol,
		Side:          pos.Side,
		Shares:        pos.Shares,
		EntryPrice:    pos.EntryPrice,
		EntryTime:     pos.EntryTime,
		ExitPrice:     price,
		ExitTime:      at,
		PnL:           pnl,
		PnLPercentage: PnLPercentage(pnl, pos.EntryPrice, pos.Shares),
		StopLoss:      pos.StopLoss,
		TakeProfit:    pos.TakeProfit,
		ExitReason:    reason,
	}
}

// EquityPoint is one portfolio valuation on the equity curve.
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// EquityValues extracts the values of an equity curve.
func EquityValues(curve []EquityPoint) []float64 {
	out := make([]float64, len(curve))
	for i, p := range curve {
		out[i] = p.Value
	}
	return out
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
