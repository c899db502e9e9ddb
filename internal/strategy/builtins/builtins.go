package builtins

import (
	"fmt"

	"quantlab/internal/strategy"
)

// Names lists the built-in strategy names.
var Names = []string{"sma-cross", "macd", "rsi-reversion", "bollinger"}

// New constructs the named built-in strategy.
func New(name string, p strategy.Params) (strategy.Strategy, error) {
	if err := p.WithDefaults().Validate(); err != nil {
		return nil, fmt.Errorf("strategy %s: %w", name, err)
	}
	switch name {
	case "sma-cross":
		return NewSMACross(p), nil
	case "macd":
		return NewMACDCross(p), nil
	case "rsi-reversion":
		return NewRSIReversion(p), nil
	case "bollinger":
		return NewBollingerBands(p), nil
	}
	return nil, fmt.Errorf("unknown strategy %q", name)
}

// NewRegistry returns a registry with every built-in registered, using the
// per-strategy params from params (missing entries get defaults).
func NewRegistry(params map[string]strategy.Params) (*strategy.Registry, error) {
	r := strategy.NewRegistry()
	for _, name := range Names {
		s, err := New(name, params[name])
		if err != nil {
			return nil, err
		}
		r.Register(s)
	}
	return r, nil
}
