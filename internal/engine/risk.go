package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"quantlab/internal/domain"
)

// ---------------------------------------------------------------------------
// Enumerations
// ---------------------------------------------------------------------------

// SizingMethod selects the position-sizing algorithm.
type SizingMethod int

const (
	SizingFixedPercentage SizingMethod = iota + 1
	SizingKellyCriterion
	SizingVolatilityBased
	SizingRiskParity
)

var sizingNames = map[SizingMethod]string{
	SizingFixedPercentage: "fixed_percentage",
	SizingKellyCriterion:  "kelly_criterion",
	SizingVolatilityBased: "volatility_based",
	SizingRiskParity:      "risk_parity",
}

func (m SizingMethod) String() string {
	if s, ok := sizingNames[m]; ok {
		return s
	}
	return fmt.Sprintf("SizingMethod(%d)", int(m))
}

// ParseSizingMethod converts a configuration string into a SizingMethod.
func ParseSizingMethod(s string) (SizingMethod, error) {
	for m, name := range sizingNames {
		if strings.EqualFold(s, name) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown position sizing method %q", s)
}

// StopLossType selects how stop-loss and take-profit levels are placed.
type StopLossType int

const (
	StopFixedPercentage StopLossType = iota + 1
	StopATRBased
	StopTrailing
	StopTimeBased
)

var stopNames = map[StopLossType]string{
	StopFixedPercentage: "fixed_percentage",
	StopATRBased:        "atr_based",
	StopTrailing:        "trailing",
	StopTimeBased:       "time_based",
}

func (t StopLossType) String() string {
	if s, ok := stopNames[t]; ok {
		return s
	}
	return fmt.Sprintf("StopLossType(%d)", int(t))
}

// ParseStopLossType converts a configuration string into a StopLossType.
func ParseStopLossType(s string) (StopLossType, error) {
	for t, name := range stopNames {
		if strings.EqualFold(s, name) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown stop loss type %q", s)
}

// ExitReason explains why a position was closed.
type ExitReason string

const (
	ExitStopLoss   ExitReason = "Stop-loss triggered"
	ExitTakeProfit ExitReason = "Take-profit triggered"
	ExitTime       ExitReason = "Time-based exit"
	ExitNone       ExitReason = "No exit signal"
	ExitStrategy   ExitReason = "Strategy exit"
	ExitEndOfRun   ExitReason = "End of backtest"
)

// ---------------------------------------------------------------------------
// RiskParameters
// ---------------------------------------------------------------------------

// RiskParameters configures a RiskManager. Treat it as immutable once a run
// starts.
type RiskParameters struct {
	SizingMethod             SizingMethod
	StopLossType             StopLossType
	MaxPositionSize          float64 // fraction of capital per position
	StopLossPercentage       float64
	TakeProfitPercentage     float64
	TrailingStopPercentage   float64
	TrailingProfitPercentage float64
	MaxPortfolioDrawdown     float64
	MaxExposure              float64 // 0 disables the check
	MaxVolatility            float64 // 0 disables the check
	KellyFraction            float64
	ATRMultiplier            float64
	MaxHoldingPeriod         time.Duration
}

// DefaultRiskParameters returns conservative defaults.
func DefaultRiskParameters() RiskParameters {
	return RiskParameters{
		SizingMethod:             SizingFixedPercentage,
		StopLossType:             StopFixedPercentage,
		MaxPositionSize:          0.10,
		StopLossPercentage:       0.05,
		TakeProfitPercentage:     0.10,
		TrailingStopPercentage:   0.03,
		TrailingProfitPercentage: 0.05,
		MaxPortfolioDrawdown:     0.20,
		KellyFraction:            0.25,
		ATRMultiplier:            2.0,
		MaxHoldingPeriod:         30 * 24 * time.Hour,
	}
}

// Validate rejects values that indicate a configuration mistake.
func (p RiskParameters) Validate() error {
	var errs []error
	if _, ok := sizingNames[p.SizingMethod]; !ok {
		errs = append(errs, fmt.Errorf("invalid sizing method %v", p.SizingMethod))
	}
	if _, ok := stopNames[p.StopLossType]; !ok {
		errs = append(errs, fmt.Errorf("invalid stop loss type %v", p.StopLossType))
	}
	fractions := []struct {
		name string
		v    float64
	}{
		{"max_position_size", p.MaxPositionSize},
		{"stop_loss_percentage", p.StopLossPercentage},
		{"trailing_stop_percentage", p.TrailingStopPercentage},
		{"max_portfolio_drawdown", p.MaxPortfolioDrawdown},
		{"kelly_fraction", p.KellyFraction},
	}
	for _, f := range fractions {
		if f.v <= 0 || f.v > 1 {
			errs = append(errs, fmt.Errorf("%s must be in (0, 1], got %v", f.name, f.v))
		}
	}
	if p.TakeProfitPercentage <= 0 {
		errs = append(errs, fmt.Errorf("take_profit_percentage must be positive, got %v", p.TakeProfitPercentage))
	}
	if p.TrailingProfitPercentage < 0 {
		errs = append(errs, fmt.Errorf("trailing_profit_percentage must not be negative, got %v", p.TrailingProfitPercentage))
	}
	if p.ATRMultiplier <= 0 {
		errs = append(errs, fmt.Errorf("atr_multiplier must be positive, got %v", p.ATRMultiplier))
	}
	if p.MaxExposure < 0 || p.MaxVolatility < 0 {
		errs = append(errs, errors.New("max_exposure and max_volatility must not be negative"))
	}
	if p.StopLossType == StopTimeBased && p.MaxHoldingPeriod <= 0 {
		errs = append(errs, errors.New("time_based stops need a positive max_holding_period"))
	}
	return errors.Join(errs...)
}

// ---------------------------------------------------------------------------
// RiskManager
// ---------------------------------------------------------------------------

// SizingInputs carries the optional statistics some sizing methods need. A
// nil field means "not available".
type SizingInputs struct {
	Volatility *float64
	WinRate    *float64
	AvgWin     *float64
	AvgLoss    *float64
}

// Float returns a pointer to v, for filling SizingInputs.
func Float(v float64) *float64 { return &v }

// Sizing is the outcome of a sizing decision.
type Sizing struct {
	Amount   float64
	Method   SizingMethod // method actually applied
	Fallback bool         // true when the configured method fell back to fixed_percentage
}

// LimitCheck is the outcome of a portfolio limit check. Degraded is set when
// the check itself failed and the policy failed open.
type LimitCheck struct {
	Allowed  bool
	Reason   string
	Drawdown float64
	Exposure float64
	Degraded bool
}

// RiskSummary is a snapshot of the risk state at the end of a run.
type RiskSummary struct {
	SizingMethod         string  `json:"sizing_method"`
	StopLossType         string  `json:"stop_loss_type"`
	MaxPositionSize      float64 `json:"max_position_size"`
	StopLossPercentage   float64 `json:"stop_loss_percentage"`
	TakeProfitPercentage float64 `json:"take_profit_percentage"`
	MaxPortfolioDrawdown float64 `json:"max_portfolio_drawdown"`
	PeakValue            float64 `json:"peak_value"`
	CurrentDrawdown      float64 `json:"current_drawdown"`
	MaxObservedDrawdown  float64 `json:"max_observed_drawdown"`
	RejectedEntries      int     `json:"rejected_entries"`
	DegradedChecks       int     `json:"degraded_checks"`
}

// RiskManager sizes positions, places and trails stops, and enforces
// portfolio limits. Its only state is the running peak and a few counters,
// so each run gets its own instance. Not safe for concurrent use.
type RiskManager struct {
	params RiskParameters
	log    *slog.Logger

	peak        float64
	drawdown    float64
	maxDrawdown float64
	rejected    int
	degraded    int
}

// NewRiskManager creates a RiskManager after validating params.
func NewRiskManager(params RiskParameters, log *slog.Logger) (*RiskManager, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("risk parameters: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &RiskManager{params: params, log: log.With("component", "risk")}, nil
}

// Params returns the configured parameters.
func (rm *RiskManager) Params() RiskParameters { return rm.params }

// PositionSize returns the cash amount to commit to a new position.
func (rm *RiskManager) PositionSize(capital, price float64, in SizingInputs) float64 {
	return rm.Size(capital, price, in).Amount
}

// Size is PositionSize with the decision details.
func (rm *RiskManager) Size(capital, price float64, in SizingInputs) Sizing {
	if capital <= 0 || price <= 0 || !domain.IsFinite(capital) || !domain.IsFinite(price) {
		return Sizing{Method: rm.params.SizingMethod}
	}
	fixed := Sizing{
		Amount:   capital * rm.params.MaxPositionSize,
		Method:   SizingFixedPercentage,
		Fallback: rm.params.SizingMethod != SizingFixedPercentage,
	}

	switch rm.params.SizingMethod {
	case SizingKellyCriterion:
		f, ok := rm.kellyFraction(in)
		if !ok {
			return fixed
		}
		return Sizing{Amount: capital * f, Method: SizingKellyCriterion}

	case SizingVolatilityBased, SizingRiskParity:
		// For a single asset risk parity reduces to inverse-volatility sizing.
		if in.Volatility == nil || *in.Volatility <= 0 || !domain.IsFinite(*in.Volatility) {
			return fixed
		}
		factor := clamp(1/(*in.Volatility*10), 0.1, 1.0)
		return Sizing{
			Amount: capital * rm.params.MaxPositionSize * factor,
			Method: rm.params.SizingMethod,
		}
	}
	fixed.Fallback = false
	return fixed
}

// kellyFraction returns the scaled, capped Kelly fraction. ok is false when
// an input is missing or avg loss is zero.
func (rm *RiskManager) kellyFraction(in SizingInputs) (float64, bool) {
	if in.WinRate == nil || in.AvgWin == nil || in.AvgLoss == nil {
		return 0, false
	}
	avgLoss := math.Abs(*in.AvgLoss)
	if avgLoss == 0 {
		return 0, false
	}
	b := *in.AvgWin / avgLoss
	if b <= 0 || !domain.IsFinite(b) {
		return 0, false
	}
	p := *in.WinRate
	q := 1 - p
	kelly := (b*p - q) / b
	return clamp(kelly*rm.params.KellyFraction, 0, rm.params.MaxPositionSize), true
}

// StopLoss returns the initial stop-loss price. atr may be nil; ATR-based
// stops fall back to the fixed percentage without it.
func (rm *RiskManager) StopLoss(entry float64, side domain.Side, atr *float64) float64 {
	if rm.params.StopLossType == StopATRBased && validATR(atr) {
		dist := *atr * rm.params.ATRMultiplier
		if side == domain.SideShort {
			return entry + dist
		}
		return entry - dist
	}
	pct := rm.params.StopLossPercentage
	if side == domain.SideShort {
		return entry * (1 + pct)
	}
	return entry * (1 - pct)
}

// TakeProfit returns the initial take-profit price. ATR-based targets sit at
// twice the stop distance.
func (rm *RiskManager) TakeProfit(entry float64, side domain.Side, atr *float64) float64 {
	if rm.params.StopLossType == StopATRBased && validATR(atr) {
		dist := *atr * rm.params.ATRMultiplier * 2
		if side == domain.SideShort {
			return entry - dist
		}
		return entry + dist
	}
	pct := rm.params.TakeProfitPercentage
	if side == domain.SideShort {
		return entry * (1 - pct)
	}
	return entry * (1 + pct)
}

// Trailing reports whether stops are ratcheted every bar.
func (rm *RiskManager) Trailing() bool {
	return rm.params.StopLossType == StopTrailing
}

// UpdateTrailingStop ratchets a stop toward price. Long stops never move
// down, short stops never move up.
func (rm *RiskManager) UpdateTrailingStop(current, price float64, side domain.Side) float64 {
	if !rm.Trailing() || !domain.IsFinite(price) {
		return current
	}
	pct := rm.params.TrailingStopPercentage
	if side == domain.SideShort {
		return math.Min(current, price*(1+pct))
	}
	return math.Max(current, price*(1-pct))
}

// UpdateTrailingProfit ratchets a take-profit away from price in the trade's
// favour. Long targets never move down, short targets never move up. A target
// the price has already reached is left in place so the exit check can fire.
func (rm *RiskManager) UpdateTrailingProfit(current, price float64, side domain.Side) float64 {
	if !rm.Trailing() || rm.params.TrailingProfitPercentage == 0 || !domain.IsFinite(price) {
		return current
	}
	pct := rm.params.TrailingProfitPercentage
	if side == domain.SideShort {
		if current > 0 && price <= current {
			return current
		}
		return math.Min(current, price*(1-pct))
	}
	if current > 0 && price >= current {
		return current
	}
	return math.Max(current, price*(1+pct))
}

// ShouldClosePosition checks, in order, stop-loss, take-profit and (for
// time_based stops) holding period. The first breach wins.
func (rm *RiskManager) ShouldClosePosition(pos domain.Position, price float64, at time.Time) (bool, ExitReason) {
	long := pos.Side != domain.SideShort

	if pos.StopLoss > 0 {
		if (long && price <= pos.StopLoss) || (!long && price >= pos.StopLoss) {
			return true, ExitStopLoss
		}
	}
	if pos.TakeProfit > 0 {
		if (long && price >= pos.TakeProfit) || (!long && price <= pos.TakeProfit) {
			return true, ExitTakeProfit
		}
	}
	if rm.params.StopLossType == StopTimeBased && !pos.EntryTime.IsZero() {
		if at.Sub(pos.EntryTime) >= rm.params.MaxHoldingPeriod {
			return true, ExitTime
		}
	}
	return false, ExitNone
}

// CheckPortfolioLimits decides whether new entries are allowed. It tracks the
// running peak of value and rejects when drawdown, gross exposure or
// exposure-weighted volatility exceed their caps. volatility may be nil.
//
// If the check cannot be computed (non-finite inputs, non-positive peak, or a
// panic) it fails open: Allowed is true and Degraded is set. Trading is never
// halted by a fault in the check itself.
func (rm *RiskManager) CheckPortfolioLimits(value float64, positions []domain.Position, volatility *float64) (res LimitCheck) {
	defer func() {
		if r := recover(); r != nil {
			res = rm.failOpen(fmt.Sprintf("limit check panicked: %v", r))
		}
	}()

	if !domain.IsFinite(value) {
		return rm.failOpen(fmt.Sprintf("portfolio value not finite: %v", value))
	}
	if value > rm.peak {
		rm.peak = value
	}
	if rm.peak <= 0 {
		return rm.failOpen(fmt.Sprintf("non-positive peak value: %v", rm.peak))
	}

	dd := (rm.peak - value) / rm.peak
	rm.drawdown = dd
	if dd > rm.maxDrawdown {
		rm.maxDrawdown = dd
	}
	res = LimitCheck{Allowed: true, Drawdown: dd}

	if dd > rm.params.MaxPortfolioDrawdown {
		return rm.reject(res, fmt.Sprintf("drawdown %.2f%% exceeds limit %.2f%%", dd*100, rm.params.MaxPortfolioDrawdown*100))
	}

	var gross float64
	for i := range positions {
		gross += math.Abs(positions[i].MarketValue())
	}
	if value > 0 {
		res.Exposure = gross / value
	}
	if rm.params.MaxExposure > 0 && res.Exposure > rm.params.MaxExposure {
		return rm.reject(res, fmt.Sprintf("exposure %.2f exceeds limit %.2f", res.Exposure, rm.params.MaxExposure))
	}
	if rm.params.MaxVolatility > 0 && volatility != nil && domain.IsFinite(*volatility) {
		// With nothing open the prospective position is weighted at max size.
		weight := res.Exposure
		if weight == 0 {
			weight = rm.params.MaxPositionSize
		}
		if v := *volatility * weight; v > rm.params.MaxVolatility {
			return rm.reject(res, fmt.Sprintf("portfolio volatility %.4f exceeds limit %.4f", v, rm.params.MaxVolatility))
		}
	}
	return res
}

func (rm *RiskManager) reject(res LimitCheck, reason string) LimitCheck {
	rm.rejected++
	res.Allowed = false
	res.Reason = reason
	return res
}

func (rm *RiskManager) failOpen(reason string) LimitCheck {
	rm.degraded++
	rm.log.Warn("portfolio limit check failed open", "reason", reason)
	return LimitCheck{Allowed: true, Reason: reason, Degraded: true}
}

// Summary returns the current risk state.
func (rm *RiskManager) Summary() RiskSummary {
	return RiskSummary{
		SizingMethod:         rm.params.SizingMethod.String(),
		StopLossType:         rm.params.StopLossType.String(),
		MaxPositionSize:      rm.params.MaxPositionSize,
		StopLossPercentage:   rm.params.StopLossPercentage,
		TakeProfitPercentage: rm.params.TakeProfitPercentage,
		MaxPortfolioDrawdown: rm.params.MaxPortfolioDrawdown,
		PeakValue:            rm.peak,
		CurrentDrawdown:      rm.drawdown,
		MaxObservedDrawdown:  rm.maxDrawdown,
		RejectedEntries:      rm.rejected,
		DegradedChecks:       rm.degraded,
	}
}

func validATR(atr *float64) bool {
	return atr != nil && *atr > 0 && domain.IsFinite(*atr)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
