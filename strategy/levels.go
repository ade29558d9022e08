package strategy

import (
	"fmt"

	"github.com/rustyeddy/breakout/market"
)

// LevelsConfig sets protective and target distances from entry, in
// price units.
type LevelsConfig struct {
	StopDistance float64 `json:"stop_distance" yaml:"stop_distance"`
	TP1Distance  float64 `json:"tp1_distance" yaml:"tp1_distance"`
	TP2Distance  float64 `json:"tp2_distance" yaml:"tp2_distance"`
}

func DefaultLevelsConfig() LevelsConfig {
	return LevelsConfig{StopDistance: 5, TP1Distance: 5, TP2Distance: 10}
}

func (c LevelsConfig) Validate() error {
	if c.StopDistance <= 0 {
		return fmt.Errorf("stop_distance must be > 0")
	}
	if c.TP1Distance <= 0 {
		return fmt.Errorf("tp1_distance must be > 0")
	}
	if c.TP2Distance < c.TP1Distance {
		return fmt.Errorf("tp2_distance must be >= tp1_distance")
	}
	return nil
}

// Levels are the absolute prices for an entry.
type Levels struct {
	Entry    float64 `json:"entry"`
	StopLoss float64 `json:"stop_loss"`
	TP1      float64 `json:"tp1"`
	TP2      float64 `json:"tp2"`
}

// Compute places the stop behind entry and both targets ahead of it.
func (c LevelsConfig) Compute(dir market.Direction, entry float64) Levels {
	s := dir.Sign()
	return Levels{
		Entry:    entry,
		StopLoss: entry - s*c.StopDistance,
		TP1:      entry + s*c.TP1Distance,
		TP2:      entry + s*c.TP2Distance,
	}
}

// WithStopDistance returns a copy using a different stop distance.
func (c LevelsConfig) WithStopDistance(d float64) LevelsConfig {
	c.StopDistance = d
	return c
}

// ComputeEntryLevels derives levels for a signal. entryPrice overrides
// the signal price when non-zero (e.g. an actual fill).
func ComputeEntryLevels(cfg LevelsConfig, sig Result, entryPrice float64) Levels {
	if entryPrice == 0 {
		entryPrice = sig.Price
	}
	return cfg.Compute(sig.Direction, entryPrice)
}
