package position

import (
	"fmt"
	"time"

	"github.com/rustyeddy/breakout/strategy"
)

// StagedTP closes Fraction of the position at TP1 and lets the rest run
// to TP2 with the stop at breakeven.
type StagedTP struct {
	Enabled  bool    `json:"enabled" yaml:"enabled"`
	Fraction float64 `json:"tp1_fraction" yaml:"tp1_fraction"`
}

// Trailing trails the stop Distance behind the best price once the
// position has moved Activation in its favor, or once TP1 is hit.
// BreakoutActivation replaces Activation for breakout-sourced positions.
type Trailing struct {
	Enabled            bool    `json:"enabled" yaml:"enabled"`
	Activation         float64 `json:"activation" yaml:"activation"`
	BreakoutActivation float64 `json:"breakout_activation" yaml:"breakout_activation"`
	Distance           float64 `json:"distance" yaml:"distance"`
}

func (t Trailing) activation(src strategy.Source) float64 {
	if src.Breakout() {
		return t.BreakoutActivation
	}
	return t.Activation
}

// Config controls sizing, submission and the lifecycle of a position.
// Units is used when RiskPercent is zero; otherwise units are sized so
// that the stop loses RiskPercent of NAV.
type Config struct {
	Units           float64               `json:"units" yaml:"units"`
	RiskPercent     float64               `json:"risk_percent" yaml:"risk_percent"`
	MaxSlippage     float64               `json:"max_slippage" yaml:"max_slippage"`
	StopWidenFactor float64               `json:"stop_widen_factor" yaml:"stop_widen_factor"`
	Cooldown        time.Duration         `json:"cooldown" yaml:"cooldown"`
	Levels          strategy.LevelsConfig `json:"levels" yaml:"levels"`
	StagedTP        StagedTP              `json:"staged_tp" yaml:"staged_tp"`
	Trailing        Trailing              `json:"trailing" yaml:"trailing"`
	Hours           TradingHours          `json:"trading_hours" yaml:"trading_hours"`
}

func DefaultConfig() Config {
	return Config{
		Units:           1,
		MaxSlippage:     0.5,
		StopWidenFactor: 1.5,
		Cooldown:        30 * time.Minute,
		Levels:          strategy.DefaultLevelsConfig(),
		StagedTP:        StagedTP{Enabled: true, Fraction: 0.5},
		Trailing:        Trailing{Enabled: true, Activation: 2, BreakoutActivation: 3, Distance: 1.5},
		Hours:           TradingHours{Timezone: "UTC"},
	}
}

func (c Config) Validate() error {
	if c.RiskPercent < 0 || c.RiskPercent > 10 {
		return fmt.Errorf("risk_percent must be between 0 and 10")
	}
	if c.RiskPercent == 0 && c.Units <= 0 {
		return fmt.Errorf("units must be > 0 when risk_percent is not set")
	}
	if c.MaxSlippage < 0 {
		return fmt.Errorf("max_slippage must be >= 0")
	}
	if c.StopWidenFactor < 1 {
		return fmt.Errorf("stop_widen_factor must be >= 1")
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("cooldown must be >= 0")
	}
	if err := c.Levels.Validate(); err != nil {
		return fmt.Errorf("levels: %w", err)
	}
	if c.StagedTP.Enabled && (c.StagedTP.Fraction <= 0 || c.StagedTP.Fraction > 1) {
		return fmt.Errorf("staged_tp.tp1_fraction must be in (0,1]")
	}
	if c.Trailing.Enabled {
		if c.Trailing.Distance <= 0 {
			return fmt.Errorf("trailing.distance must be > 0")
		}
		if c.Trailing.Activation < 0 || c.Trailing.BreakoutActivation < 0 {
			return fmt.Errorf("trailing activations must be >= 0")
		}
	}
	if _, err := c.Hours.window(); err != nil {
		return fmt.Errorf("trading_hours: %w", err)
	}
	return nil
}
