package strategy

import (
	"fmt"
	"math"
	"time"

	"github.com/rustyeddy/breakout/market"
)

// BarPullback refines candle-close breakouts using lower-timeframe bars.
// The wait is bounded by MaxBars; renewed movement is a bar whose body
// confirms the direction or a bounce of at least MinBounce.
//
// Timeframe is the lower bar length. When set, the wait also ends once
// MaxBars+1 bar lengths have passed since StartedAt, so a feed that stops
// delivering bars cannot hold the entry open.
type BarPullback struct {
	MaxBars        int           `json:"max_bars" yaml:"max_bars"`
	MinPullback    float64       `json:"min_pullback" yaml:"min_pullback"`
	MinBounce      float64       `json:"min_bounce" yaml:"min_bounce"`
	ChaseTolerance float64       `json:"chase_tolerance" yaml:"chase_tolerance"`
	Timeframe      time.Duration `json:"-" yaml:"-"`
}

// ContinuousPullback refines real-time breakouts from live prices. The
// wait is bounded by MaxWait; renewed movement is a bounce of at least
// MinBounce off the best pullback.
type ContinuousPullback struct {
	MaxWait        time.Duration `json:"max_wait" yaml:"max_wait"`
	MinPullback    float64       `json:"min_pullback" yaml:"min_pullback"`
	MinBounce      float64       `json:"min_bounce" yaml:"min_bounce"`
	ChaseTolerance float64       `json:"chase_tolerance" yaml:"chase_tolerance"`
}

func DefaultBarPullback() BarPullback {
	return BarPullback{MaxBars: 6, MinPullback: 1, MinBounce: 0.5, ChaseTolerance: 1}
}

func DefaultContinuousPullback() ContinuousPullback {
	return ContinuousPullback{MaxWait: 15 * time.Minute, MinPullback: 1, MinBounce: 0.75, ChaseTolerance: 0.5}
}

func (p BarPullback) Validate() error {
	if p.MaxBars < 1 {
		return fmt.Errorf("max_bars must be >= 1")
	}
	return validatePullback(p.MinPullback, p.MinBounce, p.ChaseTolerance)
}

func (p ContinuousPullback) Validate() error {
	if p.MaxWait <= 0 {
		return fmt.Errorf("max_wait must be > 0")
	}
	return validatePullback(p.MinPullback, p.MinBounce, p.ChaseTolerance)
}

func validatePullback(minPullback, minBounce, chase float64) error {
	if minPullback < 0 || minBounce < 0 || chase < 0 {
		return fmt.Errorf("pullback distances must be >= 0")
	}
	return nil
}

// RequiredPullback is the retracement needed before an entry is taken.
func RequiredPullback(pe *PendingEntry, minPullback float64) float64 {
	return math.Max(math.Abs(pe.BreakoutPrice-pe.AnchorPrice), minPullback)
}

// Check feeds lower-timeframe bars not yet seen into the pending entry.
// The PendingEntry returned is nil once the wait resolves either way.
func (p BarPullback) Check(pe *PendingEntry, bars []market.Candle, now time.Time) (Result, *PendingEntry) {
	if pe == nil {
		return noSignal("no pending entry"), nil
	}
	next := *pe
	required := RequiredPullback(&next, p.MinPullback)

	for _, bar := range market.CompleteOnly(bars) {
		if !next.fresh(bar.Time) {
			continue
		}
		next.LastBarTime = bar.Time
		next.BarsUsed++

		adverse := bar.Low
		if next.Direction == market.Short {
			adverse = bar.High
		}
		next.track(adverse)

		if next.Retracement() >= required {
			bounce := next.Direction.Favorable(next.BestPullback, bar.Close)
			renewed := bodyAgrees(next.Direction, bar) || (p.MinBounce > 0 && bounce >= p.MinBounce)
			if renewed {
				res, ok := entry(&next, bar.Close, p.ChaseTolerance)
				if ok {
					return res, nil
				}
				return res, &next
			}
		}

		if next.BarsUsed >= p.MaxBars {
			return noSignal(fmt.Sprintf("pullback timeout after %d bars (best retracement %.5f of %.5f)", next.BarsUsed, next.Retracement(), required)), nil
		}
	}

	if limit := p.deadline(); limit > 0 {
		if waited := now.Sub(next.StartedAt); waited > limit {
			return noSignal(fmt.Sprintf("pullback timeout after %s with %d/%d bars (best retracement %.5f of %.5f)", waited.Truncate(time.Second), next.BarsUsed, p.MaxBars, next.Retracement(), required)), nil
		}
	}

	return pending(next.Direction, fmt.Sprintf("waiting for pullback: %.5f of %.5f, %d/%d bars", next.Retracement(), required, next.BarsUsed, p.MaxBars)), &next
}

// deadline is the wall-clock budget, zero when Timeframe is unset. The
// first counted bar may open up to one bar length after StartedAt.
func (p BarPullback) deadline() time.Duration {
	if p.Timeframe <= 0 {
		return 0
	}
	return time.Duration(p.MaxBars+1) * p.Timeframe
}

// Check feeds one live price into the pending entry.
func (p ContinuousPullback) Check(pe *PendingEntry, price float64, now time.Time) (Result, *PendingEntry) {
	if pe == nil {
		return noSignal("no pending entry"), nil
	}
	next := *pe
	if waited := now.Sub(next.StartedAt); waited > p.MaxWait {
		return noSignal(fmt.Sprintf("pullback timeout after %s (best retracement %.5f)", waited.Truncate(time.Second), next.Retracement())), nil
	}

	next.track(price)
	required := RequiredPullback(&next, p.MinPullback)
	if next.Retracement() < required {
		return pending(next.Direction, fmt.Sprintf("waiting for pullback: %.5f of %.5f", next.Retracement(), required)), &next
	}

	bounce := next.Direction.Favorable(next.BestPullback, price)
	if bounce < p.MinBounce || bounce <= 0 {
		return pending(next.Direction, fmt.Sprintf("pulled back %.5f, waiting for bounce %.5f of %.5f", next.Retracement(), bounce, p.MinBounce)), &next
	}

	res, ok := entry(&next, price, p.ChaseTolerance)
	if ok {
		return res, nil
	}
	return res, &next
}

// entry builds the final signal, or a pending result when price has run
// further than tolerance past the breakout price.
func entry(pe *PendingEntry, price, chaseTolerance float64) (Result, bool) {
	overrun := pe.Direction.Favorable(pe.BreakoutPrice, price)
	if overrun > chaseTolerance {
		return pending(pe.Direction, fmt.Sprintf("not chasing: entry %.5f is %.5f past breakout %.5f", price, overrun, pe.BreakoutPrice)), false
	}
	return Result{
		Kind:        Signal,
		SignalID:    pe.SignalID,
		Direction:   pe.Direction,
		Price:       price,
		Level:       pe.BreakoutPrice,
		Confidence:  pe.Confidence,
		Source:      pe.Source,
		Improvement: -overrun,
		Reason:      fmt.Sprintf("pullback entry %.5f, %.5f better than breakout %.5f", price, -overrun, pe.BreakoutPrice),
	}, true
}

// fresh reports whether a lower-timeframe bar has not been counted yet.
// Before the first bar, anything opened at or after StartedAt counts.
func (p *PendingEntry) fresh(t time.Time) bool {
	if p.LastBarTime.IsZero() {
		return !t.Before(p.StartedAt)
	}
	return t.After(p.LastBarTime)
}
