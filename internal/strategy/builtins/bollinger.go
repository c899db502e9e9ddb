package builtins

import (
	"fmt"

	"quantlab/internal/domain"
	"quantlab/internal/strategy"
)

var _ strategy.Strategy = (*BollingerBands)(nil)

// BollingerBands fades closes outside the bands and exits at the middle band.
type BollingerBands struct {
	strategy.Base
}

// NewBollingerBands creates a Bollinger band reversion strategy.
func NewBollingerBands(p strategy.Params) *BollingerBands {
	p = p.WithDefaults()
	return &BollingerBands{
		Base: strategy.Base{
			Cols: strategy.Columns{
				"price":  {domain.ColClose},
				"upper":  {fmt.Sprintf("bb_upper_%d", p.BandPeriod), "bb_upper"},
				"middle": {fmt.Sprintf("bb_middle_%d", p.BandPeriod), "bb_middle"},
				"lower":  {fmt.Sprintf("bb_lower_%d", p.BandPeriod), "bb_lower"},
			},
			PositionSizeFraction: p.PositionSizeFraction,
			AllowShort:           p.AllowShort,
		},
	}
}

// Name returns "bollinger".
func (s *BollingerBands) Name() string { return "bollinger" }

func (s *BollingerBands) ShouldEnterLong(f *domain.Frame, i int) bool {
	_, below, ok := s.Compare(f, "price", "lower", i)
	return ok && below
}

func (s *BollingerBands) ShouldEnterShort(f *domain.Frame, i int) bool {
	if !s.AllowShort {
		return false
	}
	above, _, ok := s.Compare(f, "price", "upper", i)
	return ok && above
}

func (s *BollingerBands) ShouldExitLong(f *domain.Frame, i int) bool {
	_, below, ok := s.Compare(f, "price", "middle", i)
	return ok && !below
}

func (s *BollingerBands) ShouldExitShort(f *domain.Frame, i int) bool {
	above, _, ok := s.Compare(f, "price", "middle", i)
	return ok && !above
}
