package strategy

import (
	"time"

	"github.com/rustyeddy/breakout/market"
	"github.com/rustyeddy/breakout/market/indicators"
)

// Memory is the candle-close detector's persisted state.
//
// PrevChannel is replaced only after a full evaluation pass, so every new
// close is compared to the channel as it stood at the prior bar.
// Indicators caches the last analysis for the intra-bar path.
type Memory struct {
	PrevChannel   *Channel             `json:"prev_channel,omitempty"`
	LastBarTime   time.Time            `json:"last_bar_time"`
	LastDirection market.Direction     `json:"last_direction"`
	Indicators    *indicators.Analysis `json:"indicators,omitempty"`
}

// Armed reports whether the detector has a reference channel.
func (m Memory) Armed() bool { return m.PrevChannel != nil }

// PendingBreakout tracks an intra-bar break awaiting confirmation.
type PendingBreakout struct {
	Direction      market.Direction `json:"direction"`
	FirstSeenAt    time.Time        `json:"first_seen_at"`
	ReferencePrice float64          `json:"reference_price"`
	Level          float64          `json:"level"`
}

// PendingEntry is a confirmed breakout waiting for a pullback entry.
// BestPullback is the most favorable retracement price seen so far.
// BarsUsed and StartedAt are the budgets of the bar and continuous
// policies respectively.
type PendingEntry struct {
	SignalID      string           `json:"signal_id,omitempty"`
	Direction     market.Direction `json:"direction"`
	BreakoutPrice float64          `json:"breakout_price"`
	AnchorPrice   float64          `json:"anchor_price"`
	StartedAt     time.Time        `json:"started_at"`
	BestPullback  float64          `json:"best_pullback"`
	BarsUsed      int              `json:"bars_used"`
	LastBarTime   time.Time        `json:"last_bar_time"`
	Source        Source           `json:"source"`
	Confidence    int              `json:"confidence"`
}

// NewPendingEntry starts refinement for a confirmed breakout signal.
// anchor is the moving average the pullback distance is measured to.
func NewPendingEntry(sig Result, anchor float64, now time.Time) *PendingEntry {
	return &PendingEntry{
		SignalID:      sig.SignalID,
		Direction:     sig.Direction,
		BreakoutPrice: sig.Price,
		AnchorPrice:   anchor,
		StartedAt:     now,
		BestPullback:  sig.Price,
		Source:        sig.Source,
		Confidence:    sig.Confidence,
	}
}

// Retracement is how far price has pulled back from the breakout price
// at its best, in price units.
func (p *PendingEntry) Retracement() float64 {
	return -p.Direction.Favorable(p.BreakoutPrice, p.BestPullback)
}

// track records price as the new best pullback if it retraces further.
func (p *PendingEntry) track(price float64) {
	if p.Direction.Better(p.BestPullback, price) {
		p.BestPullback = price
	}
}
