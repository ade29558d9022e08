package strategy

import (
	"fmt"
	"strings"

	"github.com/rustyeddy/breakout/market"
)

// Kind tags a Result.
type Kind int

const (
	NoSignal Kind = iota
	Pending
	Signal
)

func (k Kind) String() string {
	switch k {
	case Pending:
		return "pending"
	case Signal:
		return "signal"
	default:
		return "no-signal"
	}
}

// Source records which path produced a signal.
type Source string

const (
	SourceBreakout     Source = "breakout"
	SourceContinuation Source = "continuation"
	SourceRealtime     Source = "realtime"
	// SourceAdopted marks an open broker trade that was not being tracked.
	SourceAdopted Source = "adopted"
)

// Breakout reports whether the source is one of the breakout paths
// (as opposed to a trend continuation).
func (s Source) Breakout() bool {
	return s == SourceBreakout || s == SourceRealtime
}

// Result is the outcome of one evaluation step:
//
//	NoSignal(reason) | Pending(direction, reason) | Signal(direction, price, confidence, source)
//
// Price is the signal price for breakouts and the refined entry for
// pullback signals. Filter names the check that vetoed a candidate.
type Result struct {
	Kind       Kind             `json:"kind"`
	Direction  market.Direction `json:"direction"`
	Price      float64          `json:"price,omitempty"`
	Level      float64          `json:"level,omitempty"`
	Confidence int              `json:"confidence,omitempty"`
	Source     Source           `json:"source,omitempty"`
	SignalID   string           `json:"signal_id,omitempty"`

	// Improvement is how much better the refined entry is than the
	// breakout price, in price units.
	Improvement float64 `json:"improvement,omitempty"`

	Reason  string   `json:"reason"`
	Filter  string   `json:"filter,omitempty"`
	Reasons []string `json:"reasons,omitempty"`
}

func noSignal(reason string) Result {
	return Result{Kind: NoSignal, Reason: reason}
}

func pending(dir market.Direction, reason string) Result {
	return Result{Kind: Pending, Direction: dir, Reason: reason}
}

func rejected(dir market.Direction, filter string, reasons []string) Result {
	r := Result{Kind: NoSignal, Direction: dir, Filter: filter, Reasons: reasons}
	if len(reasons) > 0 {
		r.Reason = reasons[len(reasons)-1]
	}
	return r
}

func (r Result) IsSignal() bool  { return r.Kind == Signal }
func (r Result) IsPending() bool { return r.Kind == Pending }

func (r Result) String() string {
	switch r.Kind {
	case Signal:
		return fmt.Sprintf("%s %s @ %.3f (conf=%d, %s)", r.Kind, r.Direction, r.Price, r.Confidence, r.Source)
	case Pending:
		return fmt.Sprintf("%s %s: %s", r.Kind, r.Direction, r.Reason)
	}
	if len(r.Reasons) > 1 {
		return fmt.Sprintf("%s: %s", r.Kind, strings.Join(r.Reasons, "; "))
	}
	return fmt.Sprintf("%s: %s", r.Kind, r.Reason)
}
