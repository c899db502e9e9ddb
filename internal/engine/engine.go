// Package engine runs the bar-by-bar backtest simulation. The Engine drives a
// single position through its lifecycle, consulting a Strategy for signals
// and a RiskManager for sizing, stops and portfolio limits.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"quantlab/internal/domain"
	"quantlab/internal/strategy"
)

// ErrNoData is returned when the frame has no bars.
var ErrNoData = errors.New("engine: no bars to simulate")

// Config holds per-engine settings that are not risk policy.
type Config struct {
	InitialCapital float64

	// Aliases for the ATR and volatility columns read when placing stops and
	// sizing. Missing columns simply disable the dependent feature.
	ATRColumns        []string
	VolatilityColumns []string
}

// DefaultConfig returns a Config with 100,000 starting capital.
func DefaultConfig() Config {
	return Config{
		InitialCapital:    100000,
		ATRColumns:        []string{"atr_14", "atr"},
		VolatilityColumns: []string{"volatility_20", "volatility"},
	}
}

// RunOutput is the raw simulation output before analytics.
type RunOutput struct {
	Symbol         string               `json:"symbol"`
	Strategy       string               `json:"strategy"`
	InitialCapital float64              `json:"initial_capital"`
	FinalCapital   float64              `json:"final_capital"`
	EquityCurve    []domain.EquityPoint `json:"equity_curve"`
	Trades         []domain.Trade       `json:"trades"`
	Risk           RiskSummary          `json:"risk"`
	ExitCounts     map[string]int       `json:"exit_counts"`
	PositionsOpen  int                  `json:"positions_opened"`
	SkippedSignals int                  `json:"skipped_signals"`
}

// Engine orchestrates a backtest run. An Engine holds no run state and may be
// shared by concurrent runs; each Run builds its own simulation context and
// RiskManager.
type Engine struct {
	strat  strategy.Strategy
	params RiskParameters
	cfg    Config
	cols   strategy.Columns
	log    *slog.Logger
}

// New creates an Engine after validating the configuration.
func New(s strategy.Strategy, params RiskParameters, cfg Config, log *slog.Logger) (*Engine, error) {
	if s == nil {
		return nil, errors.New("engine: nil strategy")
	}
	if cfg.InitialCapital <= 0 || !domain.IsFinite(cfg.InitialCapital) {
		return nil, fmt.Errorf("engine: initial capital must be positive, got %v", cfg.InitialCapital)
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		strat:  s,
		params: params,
		cfg:    cfg,
		cols: strategy.Columns{
			"atr":        cfg.ATRColumns,
			"volatility": cfg.VolatilityColumns,
		},
		log: log.With("component", "engine", "strategy", s.Name()),
	}, nil
}

// simContext is the mutable state of one run. It is owned by Run and touched
// strictly in bar order.
type simContext struct {
	symbol   string
	frame    *domain.Frame
	risk     *RiskManager
	cash     float64
	position *domain.Position
	trades   []domain.Trade
	equity   []domain.EquityPoint
	exits    map[string]int
	opened   int
	skipped  int
	log      *slog.Logger
}

// Run simulates the strategy over frame. Only a cancelled ctx or an empty
// frame produce an error; data problems at individual bars mean no signal.
func (e *Engine) Run(ctx context.Context, frame *domain.Frame) (*RunOutput, error) {
	if frame.Len() == 0 {
		return nil, ErrNoData
	}
	rm, err := NewRiskManager(e.params, e.log)
	if err != nil {
		return nil, err
	}
	sc := &simContext{
		symbol: frame.Symbol,
		frame:  frame,
		risk:   rm,
		cash:   e.cfg.InitialCapital,
		equity: make([]domain.EquityPoint, 0, frame.Len()),
		exits:  make(map[string]int),
		log:    e.log.With("symbol", frame.Symbol),
	}

	for i := range frame.Bars {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e.step(sc, i)
	}

	last := frame.Len() - 1
	if sc.position != nil {
		e.closePosition(sc, last, ExitEndOfRun)
	}

	out := &RunOutput{
		Symbol:         sc.symbol,
		Strategy:       e.strat.Name(),
		InitialCapital: e.cfg.InitialCapital,
		FinalCapital:   sc.cash,
		EquityCurve:    sc.equity,
		Trades:         sc.trades,
		Risk:           rm.Summary(),
		ExitCounts:     sc.exits,
		PositionsOpen:  sc.opened,
		SkippedSignals: sc.skipped,
	}
	sc.log.Info("backtest finished",
		"bars", frame.Len(),
		"trades", len(sc.trades),
		"final_capital", sc.cash,
	)
	return out, nil
}

// step processes bar i: mark, record equity, exits, then entries.
func (e *Engine) step(sc *simContext, i int) {
	bar := sc.frame.Bars[i]
	price := bar.Close

	if sc.position != nil {
		p := sc.position
		p.MarkToMarket(price)
		p.StopLoss = sc.risk.UpdateTrailingStop(p.StopLoss, price, p.Side)
		p.TakeProfit = sc.risk.UpdateTrailingProfit(p.TakeProfit, price, p.Side)
	}

	sc.equity = append(sc.equity, domain.EquityPoint{
		Timestamp: bar.Timestamp,
		Value:     sc.portfolioValue(),
	})

	if sc.position != nil {
		if hit, reason := sc.risk.ShouldClosePosition(*sc.position, price, bar.Timestamp); hit {
			e.closePosition(sc, i, reason)
		} else if e.strategyExit(sc, i) {
			e.closePosition(sc, i, ExitStrategy)
		}
	}

	if sc.position == nil {
		e.tryEnter(sc, i)
	}
}

func (e *Engine) strategyExit(sc *simContext, i int) bool {
	if sc.position.Side == domain.SideShort {
		return e.signal(sc, i, "exit_short", e.strat.ShouldExitShort)
	}
	return e.signal(sc, i, "exit_long", e.strat.ShouldExitLong)
}

// tryEnter runs while flat. Portfolio limits are checked on every such bar,
// before the strategy is asked for a signal.
func (e *Engine) tryEnter(sc *simContext, i int) {
	vol := e.optional(sc.frame, "volatility", i)
	value := sc.portfolioValue()
	check := sc.risk.CheckPortfolioLimits(value, sc.openPositions(), vol)
	if !check.Allowed {
		sc.log.Debug("entries blocked by portfolio limits", "bar", i, "reason", check.Reason)
		return
	}

	var side domain.Side
	switch {
	case e.signal(sc, i, "enter_long", e.strat.ShouldEnterLong):
		side = domain.SideLong
	case e.signal(sc, i, "enter_short", e.strat.ShouldEnterShort):
		side = domain.SideShort
	default:
		return
	}

	bar := sc.frame.Bars[i]
	price := bar.Close
	if price <= 0 || !domain.IsFinite(price) {
		sc.skipped++
		sc.log.Debug("entry skipped: bad price", "bar", i, "price", price)
		return
	}

	sizing := sc.risk.Size(value, price, e.sizingInputs(sc, vol))
	amount := sizing.Amount
	if want := e.strategySize(sc, i, value); want < amount {
		amount = want
	}
	if amount > sc.cash {
		amount = sc.cash
	}
	shares := math.Floor(amount / price)
	if shares <= 0 {
		sc.skipped++
		sc.log.Debug("entry skipped: position too small", "bar", i, "amount", amount, "price", price)
		return
	}

	atr := e.optional(sc.frame, "atr", i)
	pos := &domain.Position{
		Symbol:     sc.symbol,
		Side:       side,
		Shares:     shares,
		EntryPrice: price,
		EntryTime:  bar.Timestamp,
		StopLoss:   sc.risk.StopLoss(price, side, atr),
		TakeProfit: sc.risk.TakeProfit(price, side, atr),
	}
	pos.MarkToMarket(price)

	sc.cash -= pos.CostBasis()
	sc.position = pos
	sc.opened++
	sc.log.Debug("position opened",
		"bar", i,
		"side", side.String(),
		"shares", shares,
		"price", price,
		"stop_loss", pos.StopLoss,
		"take_profit", pos.TakeProfit,
		"sizing", sizing.Method.String(),
		"sizing_fallback", sizing.Fallback,
	)
}

func (e *Engine) closePosition(sc *simContext, i int, reason ExitReason) {
	bar := sc.frame.Bars[i]
	pos := *sc.position
	trade := domain.ClosePosition(pos, bar.Close, bar.Timestamp, string(reason))

	sc.cash += pos.CostBasis() + trade.PnL
	sc.trades = append(sc.trades, trade)
	sc.exits[string(reason)]++
	sc.position = nil

	sc.log.Debug("position closed",
		"bar", i,
		"reason", string(reason),
		"pnl", trade.PnL,
	)
}

// signal calls a strategy decision, converting a panic into "no signal" so a
// bad bar never aborts the run.
func (e *Engine) signal(sc *simContext, i int, what string, fn func(*domain.Frame, int) bool) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			sc.log.Error("strategy panicked", "bar", i, "call", what, "panic", r)
			ok = false
		}
	}()
	return fn(sc.frame, i)
}

func (e *Engine) strategySize(sc *simContext, i int, capital float64) (amount float64) {
	defer func() {
		if r := recover(); r != nil {
			sc.log.Error("strategy panicked", "bar", i, "call", "position_size", "panic", r)
			amount = 0
		}
	}()
	amount = e.strat.PositionSize(sc.frame, i, capital)
	if !domain.IsFinite(amount) || amount < 0 {
		return 0
	}
	return amount
}

// sizingInputs gathers Kelly statistics from trades closed so far.
func (e *Engine) sizingInputs(sc *simContext, vol *float64) SizingInputs {
	in := SizingInputs{Volatility: vol}
	if len(sc.trades) == 0 {
		return in
	}
	var wins, losses int
	var winSum, lossSum float64
	for _, t := range sc.trades {
		if t.PnL > 0 {
			wins++
			winSum += t.PnL
		} else if t.PnL < 0 {
			losses++
			lossSum += t.PnL
		}
	}
	in.WinRate = Float(float64(wins) / float64(len(sc.trades)))
	if wins > 0 {
		in.AvgWin = Float(winSum / float64(wins))
	}
	if losses > 0 {
		in.AvgLoss = Float(lossSum / float64(losses))
	}
	return in
}

func (e *Engine) optional(f *domain.Frame, name string, i int) *float64 {
	v, ok := e.cols.Value(f, name, i)
	if !ok {
		return nil
	}
	return &v
}

func (sc *simContext) portfolioValue() float64 {
	v := sc.cash
	if sc.position != nil {
		v += sc.position.MarketValue()
	}
	return v
}

func (sc *simContext) openPositions() []domain.Position {
	if sc.position == nil {
		return nil
	}
	return []domain.Position{*sc.position}
}
