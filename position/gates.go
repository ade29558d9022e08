package position

import (
	"fmt"
	"time"

	"github.com/rustyeddy/breakout/state"
)

// TradingHours is a daily entry window in Timezone. End may be earlier
// than Start for windows that wrap past midnight. An empty or zero-width
// window allows entries at any time.
type TradingHours struct {
	Start    string `json:"start" yaml:"start"` // "HH:MM"
	End      string `json:"end" yaml:"end"`
	Timezone string `json:"timezone" yaml:"timezone"`
}

type window struct {
	start, end int // minutes after midnight
	loc        *time.Location
	always     bool
}

func (h TradingHours) window() (window, error) {
	loc := time.UTC
	if h.Timezone != "" {
		l, err := time.LoadLocation(h.Timezone)
		if err != nil {
			return window{}, err
		}
		loc = l
	}
	if h.Start == "" && h.End == "" {
		return window{loc: loc, always: true}, nil
	}
	start, err := minuteOfDay(h.Start)
	if err != nil {
		return window{}, fmt.Errorf("start: %w", err)
	}
	end, err := minuteOfDay(h.End)
	if err != nil {
		return window{}, fmt.Errorf("end: %w", err)
	}
	return window{start: start, end: end, loc: loc, always: start == end}, nil
}

func minuteOfDay(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func (w window) contains(t time.Time) bool {
	if w.always {
		return true
	}
	t = t.In(w.loc)
	m := t.Hour()*60 + t.Minute()
	if w.start < w.end {
		return m >= w.start && m < w.end
	}
	return m >= w.start || m < w.end
}

// CanEnter applies the entry gates to snap at now. A false result is a
// soft rejection; reason says which gate closed.
func (m *Manager) CanEnter(snap state.Snapshot, now time.Time) (bool, string) {
	if snap.Position != nil {
		return false, fmt.Sprintf("position %s already open", snap.Position.TradeID)
	}
	if left := snap.Cooldown.Remaining(now, m.cfg.Cooldown); left > 0 {
		return false, fmt.Sprintf("cooldown active, %s remaining", left.Round(time.Second))
	}
	if !m.hours.contains(now) {
		return false, "outside trading hours"
	}
	return true, ""
}
