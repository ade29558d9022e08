package strategy

import (
	"fmt"
	"time"

	"github.com/rustyeddy/breakout/market"
)

// RealtimeConfig controls the intra-bar path. The trend, momentum and
// distance thresholds are shared with the candle-close detector.
type RealtimeConfig struct {
	Enabled       bool          `json:"enabled" yaml:"enabled"`
	ConfirmWindow time.Duration `json:"confirm_window" yaml:"confirm_window"`
}

func DefaultRealtimeConfig() RealtimeConfig {
	return RealtimeConfig{Enabled: true, ConfirmWindow: 60 * time.Second}
}

// RealtimeDetector confirms a break of the channel that holds for
// ConfirmWindow without the bar having closed.
type RealtimeDetector struct {
	cfg     RealtimeConfig
	filters DetectorConfig
}

func NewRealtimeDetector(cfg RealtimeConfig, filters DetectorConfig) *RealtimeDetector {
	return &RealtimeDetector{cfg: cfg, filters: filters}
}

// Check advances the tracking state for one price observation. The
// returned PendingBreakout replaces pb; nil means no tracking.
//
//	None -> Tracking -> Confirmed | Rejected
func (r *RealtimeDetector) Check(pb *PendingBreakout, ch Channel, price, adx, rsi float64, now time.Time) (Result, *PendingBreakout) {
	dir, level := ch.Breach(price)
	if dir == market.Flat {
		if pb != nil {
			return noSignal(fmt.Sprintf("price %.5f back inside channel, %s break discarded", price, pb.Direction)), nil
		}
		return noSignal("inside channel"), nil
	}

	if pb == nil || pb.Direction != dir {
		next := &PendingBreakout{
			Direction:      dir,
			FirstSeenAt:    now,
			ReferencePrice: price,
			Level:          level,
		}
		reason := fmt.Sprintf("%s break of %.5f, confirming for %s", dir, level, r.cfg.ConfirmWindow)
		if pb != nil {
			reason = fmt.Sprintf("direction flipped to %s, confirming for %s", dir, r.cfg.ConfirmWindow)
		}
		return pending(dir, reason), next
	}

	held := now.Sub(pb.FirstSeenAt)
	if held < r.cfg.ConfirmWindow {
		return pending(dir, fmt.Sprintf("holding %s of %s", held.Truncate(time.Second), r.cfg.ConfirmWindow)), pb
	}

	// Price is still outside but gave back the move past the first
	// observation.
	if dir.Favorable(pb.ReferencePrice, price) < 0 {
		return rejected(dir, "fakeout", []string{fmt.Sprintf("fakeout: %.5f reversed past detection price %.5f", price, pb.ReferencePrice)}), nil
	}

	reasons := []string{fmt.Sprintf("%s break held %s", dir, held.Truncate(time.Second))}
	if adx < r.filters.MinADX {
		reasons = append(reasons, fmt.Sprintf("ranging market: ADX %.1f < %.1f", adx, r.filters.MinADX))
		return rejected(dir, FilterADX, reasons), nil
	}
	strong := adx > r.filters.StrongTrendADX
	if !strong {
		if why, ok := rsiExhausted(r.filters, dir, rsi); ok {
			reasons = append(reasons, why)
			return rejected(dir, FilterRSI, reasons), nil
		}
	}
	dist := dir.Favorable(pb.Level, price)
	if r.filters.MaxBreakoutDistance > 0 && dist > r.filters.MaxBreakoutDistance {
		reasons = append(reasons, fmt.Sprintf("overextended: %.5f past level (max %.5f)", dist, r.filters.MaxBreakoutDistance))
		return rejected(dir, FilterDistance, reasons), nil
	}

	conf := baseConfidence
	if strong {
		conf += 20
	}
	return Result{
		Kind:       Signal,
		Direction:  dir,
		Price:      price,
		Level:      pb.Level,
		Confidence: min(conf, 100),
		Source:     SourceRealtime,
		Reason:     reasons[0],
		Reasons:    reasons,
	}, nil
}
