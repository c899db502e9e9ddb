// Package backtest ties the pieces of a run together: it loads bars, builds
// indicator columns, drives the engine, computes performance metrics and
// optionally persists the outcome.
package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"quantlab/internal/analytics"
	"quantlab/internal/config"
	"quantlab/internal/domain"
	"quantlab/internal/engine"
	"quantlab/internal/indicators"
	"quantlab/internal/store"
	"quantlab/internal/strategy"
)

// ErrMissingData marks a run that could not start because its input was
// empty or unusable.
var ErrMissingData = errors.New("missing data")

// Factory builds a fresh strategy instance. Every run gets its own.
type Factory func(name string, p strategy.Params) (strategy.Strategy, error)

// Request describes one backtest.
type Request struct {
	Strategy string
	Symbol   string
	Start    time.Time
	End      time.Time // zero means now

	// Params overrides the configured parameters for Strategy.
	Params *strategy.Params
}

// Result is the outcome of one run. A failed run carries Error and no
// simulation output.
type Result struct {
	ID             string               `json:"id"`
	Strategy       string               `json:"strategy"`
	Symbol         string               `json:"symbol"`
	Params         strategy.Params      `json:"params"`
	Start          time.Time            `json:"start"`
	End            time.Time            `json:"end"`
	InitialCapital float64              `json:"initial_capital"`
	FinalCapital   float64              `json:"final_capital"`
	TotalReturn    float64              `json:"total_return"`
	TradeCount     int                  `json:"trade_count"`
	Performance    analytics.Metrics    `json:"performance"`
	EquityCurve    []domain.EquityPoint `json:"equity_curve"`
	Trades         []domain.Trade       `json:"trades"`
	RiskSummary    engine.RiskSummary   `json:"risk_summary"`
	ExitCounts     map[string]int       `json:"exit_counts,omitempty"`
	Error          string               `json:"error,omitempty"`

	Err error `json:"-"`
}

func (r *Result) fail(err error) *Result {
	r.Err = err
	r.Error = err.Error()
	r.FinalCapital = r.InitialCapital
	return r
}

// Failed reports whether the run aborted.
func (r *Result) Failed() bool { return r.Err != nil || r.Error != "" }

// Report renders the text report for a successful run, or a one-line error.
func (r *Result) Report() string {
	if r.Failed() {
		return fmt.Sprintf("BACKTEST FAILED: %s on %s: %s\n", r.Strategy, r.Symbol, r.Error)
	}
	var b strings.Builder
	b.WriteString(analytics.Report(analytics.Header{
		Strategy:       r.Strategy,
		Symbol:         r.Symbol,
		Start:          r.Start,
		End:            r.End,
		InitialCapital: r.InitialCapital,
		FinalCapital:   r.FinalCapital,
	}, r.Performance))
	if len(r.ExitCounts) > 0 {
		b.WriteString("\nEXITS\n")
		for _, reason := range []engine.ExitReason{engine.ExitStopLoss, engine.ExitTakeProfit, engine.ExitTime, engine.ExitStrategy, engine.ExitEndOfRun} {
			if n := r.ExitCounts[string(reason)]; n > 0 {
				fmt.Fprintf(&b, "%-26s %d\n", string(reason)+":", n)
			}
		}
	}
	return b.String()
}

// Option configures a Backtester.
type Option func(*Backtester)

// WithResultStore saves a summary row and the trade log of every run.
func WithResultStore(s store.ResultStore) Option {
	return func(b *Backtester) { b.results = s }
}

// WithArtifactStore writes each run's equity curve and trades as files.
func WithArtifactStore(s store.ArtifactStore) Option {
	return func(b *Backtester) { b.artifacts = s }
}

// Backtester runs strategies against stored bars.
type Backtester struct {
	cfg       *config.Config
	risk      engine.RiskParameters
	bars      store.BarStore
	factory   Factory
	results   store.ResultStore
	artifacts store.ArtifactStore
	log       *slog.Logger
}

// New validates the risk configuration once and returns a Backtester. bars
// may be nil when only RunFrame is used.
func New(cfg *config.Config, bars store.BarStore, factory Factory, log *slog.Logger, opts ...Option) (*Backtester, error) {
	if factory == nil {
		return nil, errors.New("backtest: nil strategy factory")
	}
	rp, err := cfg.RiskParameters()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	b := &Backtester{
		cfg:     cfg,
		risk:    rp,
		bars:    bars,
		factory: factory,
		log:     log.With("component", "backtest"),
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// Run loads bars for the request from the bar store and simulates them.
// Data problems come back as a failed Result; the error return is reserved
// for invalid requests and cancellation.
func (b *Backtester) Run(ctx context.Context, req Request) (*Result, error) {
	if req.End.IsZero() {
		req.End = time.Now().UTC()
	}
	res, strat, err := b.prepare(req)
	if err != nil {
		return nil, err
	}
	if b.bars == nil {
		return nil, errors.New("backtest: no bar store configured")
	}

	bars, err := b.bars.ReadBars(ctx, req.Symbol, b.cfg.Backtest.Market, req.Start, req.End)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return b.finish(ctx, res.fail(fmt.Errorf("%w: loading bars for %s: %w", ErrMissingData, req.Symbol, err))), nil
	}
	if len(bars) == 0 {
		return b.finish(ctx, res.fail(fmt.Errorf("%w: no bars for %s between %s and %s",
			ErrMissingData, req.Symbol, req.Start.Format(time.DateOnly), req.End.Format(time.DateOnly)))), nil
	}
	return b.simulate(ctx, res, strat, domain.NewFrame(req.Symbol, bars))
}

// RunFrame simulates an in-memory frame, e.g. one read from CSV. Indicator
// columns already present on the frame are kept as given.
func (b *Backtester) RunFrame(ctx context.Context, req Request, frame *domain.Frame) (*Result, error) {
	if frame != nil && req.Symbol == "" {
		req.Symbol = frame.Symbol
	}
	res, strat, err := b.prepare(req)
	if err != nil {
		return nil, err
	}
	if frame == nil || frame.Len() == 0 {
		return b.finish(ctx, res.fail(fmt.Errorf("%w: empty input for %s", ErrMissingData, req.Symbol))), nil
	}
	return b.simulate(ctx, res, strat, frame)
}

// prepare resolves parameters and builds the strategy.
func (b *Backtester) prepare(req Request) (*Result, strategy.Strategy, error) {
	if req.Strategy == "" {
		return nil, nil, errors.New("backtest: strategy name is required")
	}
	params := b.cfg.StrategyParams(req.Strategy)
	if req.Params != nil {
		params = req.Params.WithDefaults()
	}
	strat, err := b.factory(req.Strategy, params)
	if err != nil {
		return nil, nil, err
	}
	return &Result{
		ID:             uuid.NewString(),
		Strategy:       strat.Name(),
		Symbol:         strings.ToUpper(req.Symbol),
		Params:         params,
		Start:          req.Start,
		End:            req.End,
		InitialCapital: b.cfg.Backtest.InitialCapital,
		FinalCapital:   b.cfg.Backtest.InitialCapital,
	}, strat, nil
}

func (b *Backtester) simulate(ctx context.Context, res *Result, strat strategy.Strategy, frame *domain.Frame) (*Result, error) {
	log := b.log.With("run_id", res.ID, "strategy", res.Strategy, "symbol", res.Symbol)

	attachMissing(frame, indicatorOptions(res.Params))
	if missing := strat.Columns().Missing(frame); len(missing) > 0 {
		log.Warn("indicator columns absent, affected signals stay off", "missing", missing)
	}

	ecfg := engine.DefaultConfig()
	ecfg.InitialCapital = b.cfg.Backtest.InitialCapital
	eng, err := engine.New(strat, b.risk, ecfg, log)
	if err != nil {
		return nil, err
	}
	out, err := eng.Run(ctx, frame)
	if errors.Is(err, engine.ErrNoData) {
		return b.finish(ctx, res.fail(fmt.Errorf("%w: %w", ErrMissingData, err))), nil
	}
	if err != nil {
		return nil, err
	}

	res.Start = frame.Bars[0].Timestamp
	res.End = frame.Bars[frame.Len()-1].Timestamp
	res.FinalCapital = out.FinalCapital
	res.TotalReturn = (out.FinalCapital - out.InitialCapital) / out.InitialCapital
	res.TradeCount = len(out.Trades)
	res.EquityCurve = out.EquityCurve
	res.Trades = out.Trades
	res.RiskSummary = out.Risk
	res.ExitCounts = out.ExitCounts
	res.Performance = analytics.Analyze(out.EquityCurve, out.Trades, analytics.Options{
		RiskFreeRate:   b.cfg.Backtest.RiskFreeRate,
		Benchmark:      b.benchmarkReturns(ctx, res, log),
		PeriodsPerYear: analytics.DefaultPeriodsPerYear,
		Logger:         log,
	})
	return b.finish(ctx, res), nil
}

// benchmarkReturns loads the configured benchmark over the run's span and
// aligns its close-to-close returns with the equity curve by calendar day.
// Days the benchmark lacks contribute a zero return. A missing benchmark
// disables the relative metrics.
func (b *Backtester) benchmarkReturns(ctx context.Context, res *Result, log *slog.Logger) []float64 {
	sym := b.cfg.Backtest.Benchmark
	if sym == "" || b.bars == nil || len(res.EquityCurve) < 2 {
		return nil
	}
	bars, err := b.bars.ReadBars(ctx, sym, b.cfg.Backtest.Market, res.Start.AddDate(0, 0, -1), res.End.AddDate(0, 0, 1))
	if err != nil || len(bars) == 0 {
		log.Warn("benchmark unavailable", "benchmark", sym, "err", err)
		return nil
	}
	return alignReturns(res.EquityCurve, bars)
}

func alignReturns(curve []domain.EquityPoint, bars []domain.Bar) []float64 {
	closes := make(map[string]float64, len(bars))
	for _, bar := range bars {
		closes[bar.Timestamp.UTC().Format(time.DateOnly)] = bar.Close
	}
	out := make([]float64, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev, okPrev := closes[curve[i-1].Timestamp.UTC().Format(time.DateOnly)]
		cur, okCur := closes[curve[i].Timestamp.UTC().Format(time.DateOnly)]
		if okPrev && okCur && prev > 0 {
			out[i-1] = cur/prev - 1
		}
	}
	return out
}

// finish persists res when stores are configured. Storage failures are
// logged; the result is returned either way.
func (b *Backtester) finish(ctx context.Context, res *Result) *Result {
	log := b.log.With("run_id", res.ID)
	if res.Failed() {
		log.Warn("backtest aborted", "strategy", res.Strategy, "symbol", res.Symbol, "err", res.Error)
	}
	if b.results != nil {
		payload, err := json.Marshal(res)
		if err != nil {
			log.Warn("encoding result payload", "err", err)
		}
		rec := store.RunRecord{
			ID:             res.ID,
			Strategy:       res.Strategy,
			Symbol:         res.Symbol,
			CreatedAt:      time.Now(),
			InitialCapital: res.InitialCapital,
			FinalCapital:   res.FinalCapital,
			TotalReturn:    res.TotalReturn,
			SharpeRatio:    res.Performance.SharpeRatio,
			MaxDrawdown:    res.Performance.MaxDrawdown,
			TradeCount:     res.TradeCount,
			Error:          res.Error,
			Payload:        payload,
		}
		if err := b.results.SaveRun(ctx, rec, res.Trades); err != nil {
			log.Error("saving run", "err", err)
		}
	}
	if b.artifacts != nil && !res.Failed() {
		if err := b.artifacts.WriteEquity(ctx, res.ID, res.EquityCurve); err != nil {
			log.Error("writing equity curve", "err", err)
		}
		if err := b.artifacts.WriteTrades(ctx, res.ID, res.Trades); err != nil {
			log.Error("writing trades", "err", err)
		}
	}
	return res
}

// indicatorOptions derives the indicator set a strategy's parameters need.
func indicatorOptions(p strategy.Params) indicators.Options {
	opts := indicators.DefaultOptions()
	opts.SMAPeriods = []int{p.FastPeriod, p.SlowPeriod}
	opts.MACDFast, opts.MACDSlow, opts.MACDSignal = p.FastPeriod, p.SlowPeriod, p.SignalPeriod
	opts.RSIPeriod = p.RSIPeriod
	opts.BandPeriod, opts.BandWidth = p.BandPeriod, p.BandWidth
	return opts
}

// attachMissing builds indicator columns without overwriting columns the
// frame already carries.
func attachMissing(f *domain.Frame, opts indicators.Options) {
	given := make(map[string][]float64, len(f.Columns))
	for name, col := range f.Columns {
		given[name] = col
	}
	indicators.Attach(f, opts)
	for name, col := range given {
		f.Columns[name] = col
	}
}
