// market/instruments.go
package market

import "math"

type InstrumentMeta struct {
	Name                string
	BaseCurrency        string
	QuoteCurrency       string
	PipLocation         int
	DisplayPrecision    int32
	TradeUnitsPrecision int32
	MinimumTradeSize    float64
	MarginRate          float64
}

var Instruments = map[string]InstrumentMeta{
	"EUR_USD": {
		Name:                "EUR_USD",
		BaseCurrency:        "EUR",
		QuoteCurrency:       "USD",
		PipLocation:         -4,
		DisplayPrecision:    5,
		TradeUnitsPrecision: 0,
		MinimumTradeSize:    1,
		MarginRate:          0.02,
	},
	"USD_JPY": {
		Name:                "USD_JPY",
		BaseCurrency:        "USD",
		QuoteCurrency:       "JPY",
		PipLocation:         -2,
		DisplayPrecision:    3,
		TradeUnitsPrecision: 0,
		MinimumTradeSize:    1,
		MarginRate:          0.02,
	},
	"XAU_USD": {
		Name:                "XAU_USD",
		BaseCurrency:        "XAU",
		QuoteCurrency:       "USD",
		PipLocation:         -2,
		DisplayPrecision:    3,
		TradeUnitsPrecision: 0,
		MinimumTradeSize:    1,
		MarginRate:          0.05,
	},
	"XAG_USD": {
		Name:                "XAG_USD",
		BaseCurrency:        "XAG",
		QuoteCurrency:       "USD",
		PipLocation:         -4,
		DisplayPrecision:    5,
		TradeUnitsPrecision: 0,
		MinimumTradeSize:    1,
		MarginRate:          0.1,
	},
}

// Lookup returns the instrument metadata, falling back to a 5 digit
// FX-style default for names we don't carry.
func Lookup(name string) InstrumentMeta {
	if m, ok := Instruments[name]; ok {
		return m
	}
	return InstrumentMeta{
		Name:             name,
		PipLocation:      -4,
		DisplayPrecision: 5,
		MinimumTradeSize: 1,
	}
}

// RoundUnits truncates units toward zero to the instrument's precision.
func (m InstrumentMeta) RoundUnits(units float64) float64 {
	p := math.Pow(10, float64(m.TradeUnitsPrecision))
	return math.Trunc(units*p) / p
}
