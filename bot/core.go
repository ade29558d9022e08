package bot

import (
	"fmt"
	"time"

	"github.com/rustyeddy/breakout/internal/id"
	"github.com/rustyeddy/breakout/market"
	"github.com/rustyeddy/breakout/market/indicators"
	"github.com/rustyeddy/breakout/state"
	"github.com/rustyeddy/breakout/strategy"
)

// Gate reports whether a new entry may start at now.
type Gate func(snap state.Snapshot, now time.Time) (bool, string)

// Core is the signal state machine. Its methods read and update the
// snapshot they are given and do no I/O; the caller serializes access
// and persists the snapshot afterwards.
type Core struct {
	detector   *strategy.Detector
	realtime   *strategy.RealtimeDetector
	rtEnabled  bool
	refine     bool
	bar        strategy.BarPullback
	continuous strategy.ContinuousPullback
	gate       Gate
}

type CoreConfig struct {
	Detector           strategy.DetectorConfig
	Realtime           strategy.RealtimeConfig
	PullbackEnabled    bool
	BarPullback        strategy.BarPullback
	ContinuousPullback strategy.ContinuousPullback
}

func NewCore(cfg CoreConfig, gate Gate) *Core {
	if gate == nil {
		gate = func(state.Snapshot, time.Time) (bool, string) { return true, "" }
	}
	return &Core{
		detector:   strategy.NewDetector(cfg.Detector),
		realtime:   strategy.NewRealtimeDetector(cfg.Realtime, cfg.Detector),
		rtEnabled:  cfg.Realtime.Enabled,
		refine:     cfg.PullbackEnabled,
		bar:        cfg.BarPullback,
		continuous: cfg.ContinuousPullback,
		gate:       gate,
	}
}

// EvaluateCandleClose runs the candle-close detector on candles and,
// while a candle-close entry is refining, feeds it the lower-timeframe
// bars. The detector's memory advances on every new bar whatever else
// is going on; new signals are ignored while a position or pending
// entry exists. A pending entry left over from a run with refinement
// enabled is dropped when refinement is now off.
func (c *Core) EvaluateCandleClose(snap *state.Snapshot, a indicators.Analysis, candles, lower []market.Candle, now time.Time) strategy.Result {
	res, mem := c.detector.Evaluate(snap.Memory, a, candles)
	snap.Memory = mem
	if !c.refine {
		snap.Entry = nil
	}

	switch {
	case snap.Position != nil:
		if res.IsSignal() {
			return ignored(res, fmt.Sprintf("position %s open", snap.Position.TradeID))
		}
		return res
	case snap.Entry != nil:
		if snap.Entry.Source == strategy.SourceRealtime {
			if res.IsSignal() {
				return ignored(res, "real-time entry refining")
			}
			return res
		}
		out, next := c.bar.Check(snap.Entry, lower, now)
		snap.Entry = next
		return out
	}

	if !res.IsSignal() {
		return res
	}
	return c.accept(snap, res, a.EMA, now)
}

// CheckRealTime tracks an intra-bar break of the remembered channel. It
// does nothing while a position or pending entry exists.
func (c *Core) CheckRealTime(snap *state.Snapshot, price, adx, rsi float64, now time.Time) strategy.Result {
	switch {
	case !c.rtEnabled:
		return strategy.Result{Kind: strategy.NoSignal, Reason: "real-time detection disabled"}
	case snap.Position != nil:
		snap.Breakout = nil
		return strategy.Result{Kind: strategy.NoSignal, Reason: "position open"}
	case snap.Entry != nil:
		snap.Breakout = nil
		return strategy.Result{Kind: strategy.NoSignal, Reason: "pending entry active"}
	case snap.Memory.PrevChannel == nil:
		return strategy.Result{Kind: strategy.NoSignal, Reason: "channel not initialized"}
	}

	res, pb := c.realtime.Check(snap.Breakout, *snap.Memory.PrevChannel, price, adx, rsi, now)
	snap.Breakout = pb
	if !res.IsSignal() {
		return res
	}
	var anchor float64
	if snap.Memory.Indicators != nil {
		anchor = snap.Memory.Indicators.EMA
	}
	return c.accept(snap, res, anchor, now)
}

// CheckPullback feeds a live price into a pending real-time entry.
func (c *Core) CheckPullback(snap *state.Snapshot, price float64, now time.Time) strategy.Result {
	pe := snap.Entry
	if pe == nil || pe.Source != strategy.SourceRealtime {
		return strategy.Result{Kind: strategy.NoSignal, Reason: "no real-time entry pending"}
	}
	if snap.Position != nil {
		snap.ClearPending()
		return strategy.Result{Kind: strategy.NoSignal, Reason: "position open, pending entry dropped"}
	}
	if !c.refine {
		snap.Entry = nil
		return strategy.Result{Kind: strategy.NoSignal, Reason: "pullback refinement disabled, pending entry dropped"}
	}
	res, next := c.continuous.Check(pe, price, now)
	snap.Entry = next
	return res
}

// accept turns a fresh signal into either an immediate entry or a
// pending pullback entry, subject to the entry gates.
func (c *Core) accept(snap *state.Snapshot, res strategy.Result, anchor float64, now time.Time) strategy.Result {
	snap.Breakout = nil
	if ok, why := c.gate(*snap, now); !ok {
		return ignored(res, why)
	}
	res.SignalID = id.NewAt(now)
	if !c.refine {
		return res
	}
	if anchor == 0 {
		anchor = res.Price
	}
	snap.Entry = strategy.NewPendingEntry(res, anchor, now)
	return strategy.Result{
		Kind:       strategy.Pending,
		SignalID:   res.SignalID,
		Direction:  res.Direction,
		Price:      res.Price,
		Level:      res.Level,
		Confidence: res.Confidence,
		Source:     res.Source,
		Reason:     fmt.Sprintf("%s signal @ %.3f, waiting for pullback", res.Direction, res.Price),
	}
}

func ignored(res strategy.Result, why string) strategy.Result {
	return strategy.Result{
		Kind:      strategy.NoSignal,
		Direction: res.Direction,
		Price:     res.Price,
		Source:    res.Source,
		Reason:    fmt.Sprintf("%s signal ignored: %s", res.Direction, why),
	}
}
