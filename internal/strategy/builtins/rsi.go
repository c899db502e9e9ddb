package builtins

import (
	"fmt"

	"quantlab/internal/domain"
	"quantlab/internal/strategy"
)

var _ strategy.Strategy = (*RSIReversion)(nil)

// RSIReversion buys oversold and sells overbought readings, closing once the
// oscillator returns to the exit level.
type RSIReversion struct {
	strategy.Base
	oversold   float64
	overbought float64
	exitLevel  float64
}

// NewRSIReversion creates an RSI mean-reversion strategy.
func NewRSIReversion(p strategy.Params) *RSIReversion {
	p = p.WithDefaults()
	return &RSIReversion{
		Base: strategy.Base{
			Cols: strategy.Columns{
				"rsi": {fmt.Sprintf("rsi_%d", p.RSIPeriod), "rsi"},
			},
			PositionSizeFraction: p.PositionSizeFraction,
			AllowShort:           p.AllowShort,
		},
		oversold:   p.Oversold,
		overbought: p.Overbought,
		exitLevel:  p.ExitLevel,
	}
}

// Name returns "rsi-reversion".
func (s *RSIReversion) Name() string { return "rsi-reversion" }

func (s *RSIReversion) ShouldEnterLong(f *domain.Frame, i int) bool {
	v, ok := s.Value(f, "rsi", i)
	return ok && v < s.oversold
}

func (s *RSIReversion) ShouldEnterShort(f *domain.Frame, i int) bool {
	if !s.AllowShort {
		return false
	}
	v, ok := s.Value(f, "rsi", i)
	return ok && v > s.overbought
}

func (s *RSIReversion) ShouldExitLong(f *domain.Frame, i int) bool {
	v, ok := s.Value(f, "rsi", i)
	return ok && v >= s.exitLevel
}

func (s *RSIReversion) ShouldExitShort(f *domain.Frame, i int) bool {
	v, ok := s.Value(f, "rsi", i)
	return ok && v <= s.exitLevel
}
