package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"quantlab/internal/domain"
	"quantlab/internal/engine"
	"quantlab/internal/strategy"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for quantlab.
type Config struct {
	Backtest   Backtest                   `yaml:"backtest"`
	Risk       Risk                       `yaml:"risk"`
	Strategies map[string]strategy.Params `yaml:"strategies"`
	Storage    Storage                    `yaml:"storage"`
	Alpaca     Alpaca                     `yaml:"alpaca"`
	Logging    Logging                    `yaml:"logging"`
	Gather     GatherJobConfig            `yaml:"gather"`
}

// Backtest holds run-level settings.
type Backtest struct {
	InitialCapital float64 `yaml:"initial_capital"`
	RiskFreeRate   float64 `yaml:"risk_free_rate"`
	Parallelism    int     `yaml:"parallelism"`
	Market         string  `yaml:"market"`
	Benchmark      string  `yaml:"benchmark"`
}

// Risk mirrors engine.RiskParameters with string-valued enums.
type Risk struct {
	PositionSizingMethod     string        `yaml:"position_sizing_method"`
	StopLossType             string        `yaml:"stop_loss_type"`
	MaxPositionSize          float64       `yaml:"max_position_size"`
	StopLossPercentage       float64       `yaml:"stop_loss_percentage"`
	TakeProfitPercentage     float64       `yaml:"take_profit_percentage"`
	TrailingStopPercentage   float64       `yaml:"trailing_stop_percentage"`
	TrailingProfitPercentage float64       `yaml:"trailing_profit_percentage"`
	MaxPortfolioDrawdown     float64       `yaml:"max_portfolio_drawdown"`
	MaxExposure              float64       `yaml:"max_exposure"`
	MaxVolatility            float64       `yaml:"max_volatility"`
	KellyFraction            float64       `yaml:"kelly_fraction"`
	ATRMultiplier            float64       `yaml:"atr_multiplier"`
	MaxHoldingPeriod         time.Duration `yaml:"max_holding_period"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Alpaca holds credentials and endpoints for the Alpaca market data API.
type Alpaca struct {
	APIKey     string `yaml:"api_key"`
	APISecret  string `yaml:"api_secret"`
	DataURL    string `yaml:"data_url"`
	TradingURL string `yaml:"trading_url"`
	Feed       string `yaml:"feed"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// GatherJobConfig holds parameters for bar fetching.
type GatherJobConfig struct {
	StartDate       string `yaml:"start_date"`
	BatchSize       int    `yaml:"batch_size"`
	Workers         int    `yaml:"workers"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
	MaxRetries      int    `yaml:"max_retries"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	rp := engine.DefaultRiskParameters()
	return &Config{
		Backtest: Backtest{
			InitialCapital: 100000,
			RiskFreeRate:   0.02,
			Parallelism:    4,
			Market:         string(domain.MarketUS),
		},
		Risk: Risk{
			PositionSizingMethod:     rp.SizingMethod.String(),
			StopLossType:             rp.StopLossType.String(),
			MaxPositionSize:          rp.MaxPositionSize,
			StopLossPercentage:       rp.StopLossPercentage,
			TakeProfitPercentage:     rp.TakeProfitPercentage,
			TrailingStopPercentage:   rp.TrailingStopPercentage,
			TrailingProfitPercentage: rp.TrailingProfitPercentage,
			MaxPortfolioDrawdown:     rp.MaxPortfolioDrawdown,
			KellyFraction:            rp.KellyFraction,
			ATRMultiplier:            rp.ATRMultiplier,
			MaxHoldingPeriod:         rp.MaxHoldingPeriod,
		},
		Storage: Storage{
			DataDir:    "data",
			SQLitePath: "data/quantlab.db",
		},
		Alpaca: Alpaca{
			DataURL:    "https://data.alpaca.markets",
			TradingURL: "https://paper-api.alpaca.markets",
			Feed:       "iex",
		},
		Logging: Logging{Level: "info", Format: "json"},
		Gather: GatherJobConfig{
			StartDate:       "2020-01-01",
			BatchSize:       100,
			Workers:         4,
			RateLimitPerMin: 200,
			MaxRetries:      3,
		},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path over Default(),
// then applies environment variable overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("INITIAL_CAPITAL"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("INITIAL_CAPITAL: %w", err)
		}
		cfg.Backtest.InitialCapital = f
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}
	if v := os.Getenv("ALPACA_TRADING_URL"); v != "" {
		cfg.Alpaca.TradingURL = v
	}

	// Standard Alpaca env vars (canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Backtest.InitialCapital <= 0 {
		errs = append(errs, fmt.Errorf("backtest.initial_capital must be positive, got %v", c.Backtest.InitialCapital))
	}
	if c.Backtest.Parallelism < 0 {
		errs = append(errs, fmt.Errorf("backtest.parallelism must not be negative, got %d", c.Backtest.Parallelism))
	}
	if _, err := time.Parse("2006-01-02", c.Gather.StartDate); err != nil {
		errs = append(errs, fmt.Errorf("gather.start_date: %w", err))
	}
	if c.Gather.BatchSize <= 0 || c.Gather.Workers <= 0 {
		errs = append(errs, fmt.Errorf("gather.batch_size and gather.workers must be positive"))
	}
	if _, err := c.RiskParameters(); err != nil {
		errs = append(errs, err)
	}
	for name, p := range c.Strategies {
		if err := p.WithDefaults().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("strategies.%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// RiskParameters converts the risk section into engine.RiskParameters.
func (c *Config) RiskParameters() (engine.RiskParameters, error) {
	r := c.Risk
	sizing, err := engine.ParseSizingMethod(r.PositionSizingMethod)
	if err != nil {
		return engine.RiskParameters{}, fmt.Errorf("risk.position_sizing_method: %w", err)
	}
	stop, err := engine.ParseStopLossType(r.StopLossType)
	if err != nil {
		return engine.RiskParameters{}, fmt.Errorf("risk.stop_loss_type: %w", err)
	}
	p := engine.RiskParameters{
		SizingMethod:             sizing,
		StopLossType:             stop,
		MaxPositionSize:          r.MaxPositionSize,
		StopLossPercentage:       r.StopLossPercentage,
		TakeProfitPercentage:     r.TakeProfitPercentage,
		TrailingStopPercentage:   r.TrailingStopPercentage,
		TrailingProfitPercentage: r.TrailingProfitPercentage,
		MaxPortfolioDrawdown:     r.MaxPortfolioDrawdown,
		MaxExposure:              r.MaxExposure,
		MaxVolatility:            r.MaxVolatility,
		KellyFraction:            r.KellyFraction,
		ATRMultiplier:            r.ATRMultiplier,
		MaxHoldingPeriod:         r.MaxHoldingPeriod,
	}
	if err := p.Validate(); err != nil {
		return engine.RiskParameters{}, fmt.Errorf("risk: %w", err)
	}
	return p, nil
}

// StrategyParams returns the configured parameters for a strategy with
// defaults filled in.
func (c *Config) StrategyParams(name string) strategy.Params {
	return c.Strategies[name].WithDefaults()
}
