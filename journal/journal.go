// Package journal records closed trades.
package journal

import (
	"time"

	"github.com/rustyeddy/breakout/market"
)

// TradeRecord is one closed trade. Units are the initial signed units;
// RealizedPL includes any partial closes.
type TradeRecord struct {
	TradeID    string
	SignalID   string
	Instrument string
	Direction  market.Direction
	Source     string
	Units      float64
	EntryPrice float64
	ExitPrice  float64
	StopLoss   float64
	OpenTime   time.Time
	CloseTime  time.Time
	RealizedPL float64
	Reason     string
}

type Journal interface {
	RecordTrade(TradeRecord) error
	Close() error
}

// Nop discards records.
type Nop struct{}

func (Nop) RecordTrade(TradeRecord) error { return nil }
func (Nop) Close() error                  { return nil }
