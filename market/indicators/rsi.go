package indicators

import (
	"fmt"

	"github.com/rustyeddy/breakout/market"
)

// RSI is Wilder's Relative Strength Index over closes, bounded 0..100.
type RSI struct {
	n    int
	name string

	prevClose float64
	hasPrev   bool
	changes   int

	avgGain float64
	avgLoss float64
	value   float64
	ready   bool
}

func NewRSI(period int) *RSI {
	if period <= 0 {
		panic("RSI period must be > 0")
	}
	return &RSI{n: period, name: fmt.Sprintf("RSI(%d)", period)}
}

func (r *RSI) Name() string     { return r.name }
func (r *RSI) Warmup() int      { return r.n + 1 }
func (r *RSI) Ready() bool      { return r.ready }
func (r *RSI) Float64() float64 { return r.value }

func (r *RSI) Reset() {
	*r = RSI{n: r.n, name: r.name}
}

func (r *RSI) Update(c market.Candle) {
	if !r.hasPrev {
		r.prevClose = c.Close
		r.hasPrev = true
		return
	}

	change := c.Close - r.prevClose
	r.prevClose = c.Close

	var gain, loss float64
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}

	r.changes++
	nf := float64(r.n)

	if r.changes <= r.n {
		r.avgGain += gain / nf
		r.avgLoss += loss / nf
		if r.changes < r.n {
			return
		}
	} else {
		r.avgGain = (r.avgGain*(nf-1) + gain) / nf
		r.avgLoss = (r.avgLoss*(nf-1) + loss) / nf
	}

	r.ready = true
	switch {
	case r.avgLoss == 0 && r.avgGain == 0:
		r.value = 50
	case r.avgLoss == 0:
		r.value = 100
	default:
		rs := r.avgGain / r.avgLoss
		r.value = 100 - 100/(1+rs)
	}
}
