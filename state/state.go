// Package state holds the bot's durable state and the stores that
// persist it.
package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/breakout/market"
	"github.com/rustyeddy/breakout/strategy"
)

// ErrNoState is returned by Load when nothing has been persisted yet.
var ErrNoState = errors.New("no persisted state")

// Position is the bot's view of its one open trade.
type Position struct {
	TradeID    string           `json:"trade_id"`
	SignalID   string           `json:"signal_id,omitempty"`
	Instrument string           `json:"instrument"`
	Direction  market.Direction `json:"direction"`
	Source     strategy.Source  `json:"source"`

	EntryPrice   float64 `json:"entry_price"`
	StopLoss     float64 `json:"stop_loss"`
	TP1          float64 `json:"tp1"`
	TP2          float64 `json:"tp2"`
	InitialUnits float64 `json:"initial_units"`
	Units        float64 `json:"units"`

	TP1Hit      bool    `json:"tp1_hit"`
	BestPrice   float64 `json:"best_price"`
	CurrentStop float64 `json:"current_stop"`
	TrailActive bool    `json:"trail_active"`
	// Protected is false while the trade is open without a stop, e.g.
	// after an unprotected fallback fill whose stop could not be attached.
	Protected bool `json:"protected"`

	OpenedAt time.Time `json:"opened_at"`
}

// Favorable is the move from entry to price in the position's favor.
func (p *Position) Favorable(price float64) float64 {
	return p.Direction.Favorable(p.EntryPrice, price)
}

// SignedUnits returns the current units with the position's sign.
func (p *Position) SignedUnits() float64 {
	return p.Units * p.Direction.Sign()
}

// Cooldown gates new entries for a period after every closure.
type Cooldown struct {
	LastClose time.Time `json:"last_close"`
}

// Extend moves the last close forward to t. It never moves backward.
func (c *Cooldown) Extend(t time.Time) {
	if t.After(c.LastClose) {
		c.LastClose = t
	}
}

// Remaining is how much of d is left at now.
func (c Cooldown) Remaining(now time.Time, d time.Duration) time.Duration {
	if c.LastClose.IsZero() || d <= 0 {
		return 0
	}
	left := c.LastClose.Add(d).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// Snapshot is all transient state for one instrument.
type Snapshot struct {
	Memory   strategy.Memory           `json:"memory"`
	Breakout *strategy.PendingBreakout `json:"pending_breakout,omitempty"`
	Entry    *strategy.PendingEntry    `json:"pending_entry,omitempty"`
	Position *Position                 `json:"position,omitempty"`
	Cooldown Cooldown                  `json:"cooldown"`
}

// Check reports a violation of the exclusivity rules: a position
// excludes any pending breakout or entry.
func (s Snapshot) Check() error {
	if s.Position == nil {
		return nil
	}
	if s.Breakout != nil {
		return fmt.Errorf("position %s coexists with a pending breakout", s.Position.TradeID)
	}
	if s.Entry != nil {
		return fmt.Errorf("position %s coexists with a pending entry", s.Position.TradeID)
	}
	return nil
}

// ClearPending drops any breakout being tracked and any pending entry.
func (s *Snapshot) ClearPending() {
	s.Breakout = nil
	s.Entry = nil
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	out := s
	if s.Memory.PrevChannel != nil {
		ch := *s.Memory.PrevChannel
		out.Memory.PrevChannel = &ch
	}
	if s.Memory.Indicators != nil {
		a := *s.Memory.Indicators
		out.Memory.Indicators = &a
	}
	if s.Breakout != nil {
		b := *s.Breakout
		out.Breakout = &b
	}
	if s.Entry != nil {
		e := *s.Entry
		out.Entry = &e
	}
	if s.Position != nil {
		p := *s.Position
		out.Position = &p
	}
	return out
}
