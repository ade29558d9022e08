package indicators

import (
	"time"

	"github.com/rustyeddy/breakout/market"
)

// Params selects indicator periods for Analyze.
type Params struct {
	ADXPeriod int `json:"adx_period" yaml:"adx_period"`
	RSIPeriod int `json:"rsi_period" yaml:"rsi_period"`
	EMAPeriod int `json:"ema_period" yaml:"ema_period"`
}

func DefaultParams() Params {
	return Params{ADXPeriod: 14, RSIPeriod: 14, EMAPeriod: 20}
}

// Warmup is the number of completed candles Analyze needs.
func (p Params) Warmup() int {
	w := 2*p.ADXPeriod + 1
	if r := p.RSIPeriod + 1; r > w {
		w = r
	}
	if p.EMAPeriod > w {
		w = p.EMAPeriod
	}
	return w
}

// Analysis is a point-in-time snapshot of the indicators for the newest
// completed bar. ADX is the trend-strength reading, RSI the momentum
// oscillator and EMA the anchor moving average.
type Analysis struct {
	Time    time.Time `json:"time"`
	Price   float64   `json:"price"`
	ADX     float64   `json:"adx"`
	PlusDI  float64   `json:"plus_di"`
	MinusDI float64   `json:"minus_di"`
	RSI     float64   `json:"rsi"`
	EMA     float64   `json:"ema"`
}

// Analyze feeds the completed candles through fresh indicators and
// returns the latest readings. ok is false when there is not enough
// history for every indicator to be ready.
func Analyze(candles []market.Candle, p Params) (Analysis, bool) {
	completed := market.CompleteOnly(candles)
	if len(completed) < p.Warmup() || p.ADXPeriod <= 0 || p.RSIPeriod <= 0 || p.EMAPeriod <= 0 {
		return Analysis{}, false
	}

	adx := NewADX(p.ADXPeriod)
	rsi := NewRSI(p.RSIPeriod)
	ema := NewEMA(p.EMAPeriod)
	for _, c := range completed {
		adx.Update(c)
		rsi.Update(c)
		ema.Update(c)
	}
	if !adx.Ready() || !rsi.Ready() || !ema.Ready() {
		return Analysis{}, false
	}

	last := completed[len(completed)-1]
	return Analysis{
		Time:    last.Time,
		Price:   last.Close,
		ADX:     adx.Float64(),
		PlusDI:  adx.PlusDI(),
		MinusDI: adx.MinusDI(),
		RSI:     rsi.Float64(),
		EMA:     ema.Float64(),
	}, true
}
