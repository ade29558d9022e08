// Package indicators provides streaming technical indicators and the
// Analyze snapshot consumed by the breakout detectors.
package indicators

import "github.com/rustyeddy/breakout/market"

// Indicator computes a single streaming value from candles.
// It is deterministic and safe to use in live and replayed data.
type Indicator interface {
	// Name returns a stable identifier like "EMA(20)" or "RSI(14)".
	Name() string

	// Warmup returns how many updates are needed before Ready() can be true.
	Warmup() int

	// Reset clears all internal state.
	Reset()

	// Update consumes the next *closed* candle and updates internal state.
	Update(c market.Candle)

	// Ready reports whether Float64() is meaningful (warmup completed).
	Ready() bool

	// Float64 returns the current value; callers should check Ready().
	Float64() float64
}

func max3(a, b, c float64) float64 {
	if a >= b && a >= c {
		return a
	}
	if b >= a && b >= c {
		return b
	}
	return c
}
