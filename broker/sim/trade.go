package sim

import "time"

type Trade struct {
	ID           string
	Instrument   string
	InitialUnits float64
	Units        float64
	EntryPrice   float64
	OpenTime     time.Time

	StopLoss   *float64
	TakeProfit *float64

	// Realized
	ClosePrice float64
	CloseTime  time.Time
	RealizedPL float64 // account currency
	Reason     string
	Open       bool
}

func (t *Trade) hitStopLoss(price float64) bool {
	if t.StopLoss == nil {
		return false
	}
	if t.Units > 0 {
		return price <= *t.StopLoss
	}
	return price >= *t.StopLoss
}

func (t *Trade) hitTakeProfit(price float64) bool {
	if t.TakeProfit == nil {
		return false
	}
	if t.Units > 0 {
		return price >= *t.TakeProfit
	}
	return price <= *t.TakeProfit
}

// UnrealizedPL is the P&L of units at currentPrice, in account currency.
func UnrealizedPL(entry, units, currentPrice, quoteToAccount float64) float64 {
	return units * (currentPrice - entry) * quoteToAccount
}

// TradeMargin is the margin held for units at price.
func TradeMargin(units, price, marginRate, quoteToAccount float64) float64 {
	if units < 0 {
		units = -units
	}
	return units * price * quoteToAccount * marginRate
}
