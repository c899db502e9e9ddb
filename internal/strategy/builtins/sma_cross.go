// Package builtins provides built-in strategy implementations that ship with
// quantlab.
package builtins

import (
	"fmt"

	"quantlab/internal/domain"
	"quantlab/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*SMACross)(nil)

// SMACross implements a simple moving average crossover strategy. It enters
// long when the fast SMA crosses above the slow SMA and exits when the fast
// SMA drops back below. Shorts mirror this when enabled.
type SMACross struct {
	strategy.Base
}

// NewSMACross creates a new SMACross strategy with the given parameters.
func NewSMACross(p strategy.Params) *SMACross {
	p = p.WithDefaults()
	return &SMACross{
		Base: strategy.Base{
			Cols: strategy.Columns{
				"fast_ma": {fmt.Sprintf("sma_%d", p.FastPeriod), "sma_fast"},
				"slow_ma": {fmt.Sprintf("sma_%d", p.SlowPeriod), "sma_slow"},
			},
			PositionSizeFraction: p.PositionSizeFraction,
			AllowShort:           p.AllowShort,
		},
	}
}

// Name returns "sma-cross".
func (s *SMACross) Name() string {
	return "sma-cross"
}

func (s *SMACross) ShouldEnterLong(f *domain.Frame, i int) bool {
	return s.CrossedAbove(f, "fast_ma", "slow_ma", i)
}

func (s *SMACross) ShouldEnterShort(f *domain.Frame, i int) bool {
	return s.AllowShort && s.CrossedBelow(f, "fast_ma", "slow_ma", i)
}

func (s *SMACross) ShouldExitLong(f *domain.Frame, i int) bool {
	_, below, ok := s.Compare(f, "fast_ma", "slow_ma", i)
	return ok && below
}

func (s *SMACross) ShouldExitShort(f *domain.Frame, i int) bool {
	above, _, ok := s.Compare(f, "fast_ma", "slow_ma", i)
	return ok && above
}
