package strategy

import (
	"time"

	"github.com/rustyeddy/breakout/market"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func bar(i int, o, h, l, c float64) market.Candle {
	return market.Candle{
		Time:     t0.Add(time.Duration(i) * time.Hour),
		Open:     o,
		High:     h,
		Low:      l,
		Close:    c,
		Complete: true,
	}
}

// rangeBars builds n completed bars oscillating inside [low, high].
func rangeBars(n int, low, high float64) []market.Candle {
	out := make([]market.Candle, 0, n)
	mid := (low + high) / 2
	for i := 0; i < n; i++ {
		o, c := mid-1, mid+1
		if i%2 == 1 {
			o, c = c, o
		}
		out = append(out, bar(i, o, high, low, c))
	}
	return out
}
