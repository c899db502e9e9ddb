package builtins

import (
	"fmt"

	"quantlab/internal/domain"
	"quantlab/internal/strategy"
)

var _ strategy.Strategy = (*MACDCross)(nil)

// MACDCross trades crossings of the MACD line over its signal line.
type MACDCross struct {
	strategy.Base
}

// NewMACDCross creates a MACD crossover strategy. Both the short column names
// and the period-qualified names produced by other indicator pipelines are
// accepted.
func NewMACDCross(p strategy.Params) *MACDCross {
	p = p.WithDefaults()
	return &MACDCross{
		Base: strategy.Base{
			Cols: strategy.Columns{
				"macd": {
					"macd",
					fmt.Sprintf("macd_line_%d_%d", p.FastPeriod, p.SlowPeriod),
				},
				"macd_signal": {
					"macd_signal",
					fmt.Sprintf("macd_signal_%d", p.SignalPeriod),
				},
			},
			PositionSizeFraction: p.PositionSizeFraction,
			AllowShort:           p.AllowShort,
		},
	}
}

// Name returns "macd".
func (s *MACDCross) Name() string { return "macd" }

func (s *MACDCross) ShouldEnterLong(f *domain.Frame, i int) bool {
	return s.CrossedAbove(f, "macd", "macd_signal", i)
}

func (s *MACDCross) ShouldEnterShort(f *domain.Frame, i int) bool {
	return s.AllowShort && s.CrossedBelow(f, "macd", "macd_signal", i)
}

func (s *MACDCross) ShouldExitLong(f *domain.Frame, i int) bool {
	return s.CrossedBelow(f, "macd", "macd_signal", i)
}

func (s *MACDCross) ShouldExitShort(f *domain.Frame, i int) bool {
	return s.CrossedAbove(f, "macd", "macd_signal", i)
}
