// Package strategy defines the Strategy contract consulted by the backtest
// engine on every bar and provides a Registry for looking strategies up by
// name.
package strategy

import (
	"fmt"
	"sort"

	"quantlab/internal/domain"
)

// Strategy is the decision interface every rule set implements. All methods
// must be pure functions of (frame, index): no hidden state, no panics. A
// missing or NaN column yields false.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	ShouldEnterLong(f *domain.Frame, i int) bool
	ShouldEnterShort(f *domain.Frame, i int) bool
	ShouldExitLong(f *domain.Frame, i int) bool
	ShouldExitShort(f *domain.Frame, i int) bool

	// PositionSize returns the cash amount the strategy would commit at bar i.
	PositionSize(f *domain.Frame, i int, capital float64) float64

	// Columns returns the alias table the strategy reads indicators through.
	Columns() Columns
}

// Params holds the tunable parameters shared by the built-in rule sets.
// Zero values are replaced with defaults by WithDefaults.
type Params struct {
	FastPeriod   int `yaml:"fast_period" json:"fast_period,omitempty"`
	SlowPeriod   int `yaml:"slow_period" json:"slow_period,omitempty"`
	SignalPeriod int `yaml:"signal_period" json:"signal_period,omitempty"`

	RSIPeriod  int     `yaml:"rsi_period" json:"rsi_period,omitempty"`
	Oversold   float64 `yaml:"oversold" json:"oversold,omitempty"`
	Overbought float64 `yaml:"overbought" json:"overbought,omitempty"`
	ExitLevel  float64 `yaml:"exit_level" json:"exit_level,omitempty"`

	BandPeriod int     `yaml:"band_period" json:"band_period,omitempty"`
	BandWidth  float64 `yaml:"band_width" json:"band_width,omitempty"`

	PositionSizeFraction float64 `yaml:"position_size_fraction" json:"position_size_fraction,omitempty"`
	AllowShort           bool    `yaml:"allow_short" json:"allow_short"`
}

// WithDefaults returns a copy of p with unset fields filled in.
func (p Params) WithDefaults() Params {
	if p.FastPeriod <= 0 {
		p.FastPeriod = 12
	}
	if p.SlowPeriod <= 0 {
		p.SlowPeriod = 26
	}
	if p.SignalPeriod <= 0 {
		p.SignalPeriod = 9
	}
	if p.RSIPeriod <= 0 {
		p.RSIPeriod = 14
	}
	if p.Oversold <= 0 {
		p.Oversold = 30
	}
	if p.Overbought <= 0 {
		p.Overbought = 70
	}
	if p.ExitLevel <= 0 {
		p.ExitLevel = 50
	}
	if p.BandPeriod <= 0 {
		p.BandPeriod = 20
	}
	if p.BandWidth <= 0 {
		p.BandWidth = 2
	}
	if p.PositionSizeFraction <= 0 {
		p.PositionSizeFraction = 0.1
	}
	return p
}

// Validate rejects parameter combinations that can never produce a signal.
func (p Params) Validate() error {
	if p.FastPeriod >= p.SlowPeriod {
		return fmt.Errorf("fast_period (%d) must be below slow_period (%d)", p.FastPeriod, p.SlowPeriod)
	}
	if p.Oversold >= p.Overbought {
		return fmt.Errorf("oversold (%v) must be below overbought (%v)", p.Oversold, p.Overbought)
	}
	if p.PositionSizeFraction > 1 {
		return fmt.Errorf("position_size_fraction %v exceeds 1", p.PositionSizeFraction)
	}
	return nil
}

// Base carries the behaviour every built-in shares: alias resolution and the
// default fraction-of-capital sizing.
type Base struct {
	Cols                 Columns
	PositionSizeFraction float64
	AllowShort           bool
}

// PositionSize returns capital × PositionSizeFraction.
func (b Base) PositionSize(_ *domain.Frame, _ int, capital float64) float64 {
	return capital * b.PositionSizeFraction
}

// Columns returns the alias table.
func (b Base) Columns() Columns { return b.Cols }

// Value reads logical column name at bar i through the alias table.
func (b Base) Value(f *domain.Frame, name string, i int) (float64, bool) {
	return b.Cols.Value(f, name, i)
}

// CrossedAbove reports whether a moved from <= b at i-1 to > b at i.
func (b Base) CrossedAbove(f *domain.Frame, a, c string, i int) bool {
	if i < 1 {
		return false
	}
	prevA, ok1 := b.Value(f, a, i-1)
	prevC, ok2 := b.Value(f, c, i-1)
	curA, ok3 := b.Value(f, a, i)
	curC, ok4 := b.Value(f, c, i)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return false
	}
	return prevA <= prevC && curA > curC
}

// CrossedBelow reports whether a moved from >= b at i-1 to < b at i.
func (b Base) CrossedBelow(f *domain.Frame, a, c string, i int) bool {
	if i < 1 {
		return false
	}
	prevA, ok1 := b.Value(f, a, i-1)
	prevC, ok2 := b.Value(f, c, i-1)
	curA, ok3 := b.Value(f, a, i)
	curC, ok4 := b.Value(f, c, i)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return false
	}
	return prevA >= prevC && curA < curC
}

// Compare returns (a > c, a < c, ok) at bar i.
func (b Base) Compare(f *domain.Frame, a, c string, i int) (above, below, ok bool) {
	va, ok1 := b.Value(f, a, i)
	vc, ok2 := b.Value(f, c, i)
	if !ok1 || !ok2 {
		return false, false, false
	}
	return va > vc, va < vc, true
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// Registry holds a named collection of strategies for lookup and enumeration.
// Strategies are stateless, so a registered instance may be shared by
// concurrent runs.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// Register adds a strategy to the registry, keyed by its Name().
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Name()] = s
}

// Get retrieves a strategy by name. The second return value indicates whether
// the strategy was found.
func (r *Registry) Get(name string) (Strategy, bool) {
	s, ok := r.strategies[name]
	return s, ok
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
