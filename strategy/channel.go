package strategy

import (
	"math"

	"github.com/rustyeddy/breakout/market"
)

// Channel is the highest high / lowest low over a trailing window of
// completed bars. The bar being evaluated is never part of it.
type Channel struct {
	High float64 `json:"high"`
	Low  float64 `json:"low"`
}

// ComputeChannel returns the extrema over the lookback bars immediately
// preceding the newest completed candle. ok is false when fewer than
// lookback+1 completed bars are available.
func ComputeChannel(candles []market.Candle, lookback int) (Channel, bool) {
	completed := market.CompleteOnly(candles)
	if lookback <= 0 || len(completed) < lookback+1 {
		return Channel{}, false
	}

	window := completed[len(completed)-1-lookback : len(completed)-1]
	ch := Channel{High: math.Inf(-1), Low: math.Inf(1)}
	for _, c := range window {
		ch.High = math.Max(ch.High, c.High)
		ch.Low = math.Min(ch.Low, c.Low)
	}
	return ch, true
}

// Contains reports whether price is inside the channel, edges included.
func (c Channel) Contains(price float64) bool {
	return price >= c.Low && price <= c.High
}

// Breach returns the direction price has left the channel in and the
// edge that was crossed. Flat means price is inside.
func (c Channel) Breach(price float64) (market.Direction, float64) {
	switch {
	case price > c.High:
		return market.Long, c.High
	case price < c.Low:
		return market.Short, c.Low
	}
	return market.Flat, 0
}

// Width is the distance between the channel edges.
func (c Channel) Width() float64 { return c.High - c.Low }
