package market

import "time"

// Candle represents OHLC (Open, High, Low, Close) candlestick data.
// Complete is false for the bar that is still forming.
type Candle struct {
	Time     time.Time `json:"time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
	Complete bool      `json:"complete"`
}

// Bullish reports whether the candle closed above its open.
func (c Candle) Bullish() bool { return c.Close > c.Open }

// Bearish reports whether the candle closed below its open.
func (c Candle) Bearish() bool { return c.Close < c.Open }

// Range is the high-low span of the bar.
func (c Candle) Range() float64 { return c.High - c.Low }

// CompleteOnly returns the completed candles, preserving order. The
// input slice is not modified.
func CompleteOnly(candles []Candle) []Candle {
	out := make([]Candle, 0, len(candles))
	for _, c := range candles {
		if c.Complete {
			out = append(out, c)
		}
	}
	return out
}

// Last returns the newest candle and false when the slice is empty.
func Last(candles []Candle) (Candle, bool) {
	if len(candles) == 0 {
		return Candle{}, false
	}
	return candles[len(candles)-1], true
}
