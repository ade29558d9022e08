// Package position submits entries and manages the open position until
// the broker reports it closed: protective orders, staged take-profit,
// trailing stop, closure detection and the re-entry cooldown.
//
// Manager methods mutate the snapshot they are given. The caller holds
// whatever lock guards it and persists it afterwards.
package position

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/breakout/broker"
	"github.com/rustyeddy/breakout/journal"
	"github.com/rustyeddy/breakout/market"
	"github.com/rustyeddy/breakout/metrics"
	"github.com/rustyeddy/breakout/notify"
	"github.com/rustyeddy/breakout/risk"
	"github.com/rustyeddy/breakout/state"
	"github.com/rustyeddy/breakout/strategy"
)

type Manager struct {
	cfg        Config
	instrument string
	meta       market.InstrumentMeta
	hours      window

	broker   broker.Broker
	journal  journal.Journal
	notifier notify.Notifier
	log      zerolog.Logger

	now func() time.Time
}

func NewManager(cfg Config, instrument string, b broker.Broker, j journal.Journal, n notify.Notifier, log zerolog.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("position config: %w", err)
	}
	hours, err := cfg.Hours.window()
	if err != nil {
		return nil, err
	}
	if j == nil {
		j = journal.Nop{}
	}
	if n == nil {
		n = notify.Nop{}
	}
	return &Manager{
		cfg:        cfg,
		instrument: instrument,
		meta:       market.Lookup(instrument),
		hours:      hours,
		broker:     b,
		journal:    j,
		notifier:   n,
		log:        log.With().Str("component", "position").Str("instrument", instrument).Logger(),
		now:        time.Now,
	}, nil
}

// Attempt is the outcome of Open. Exactly one field is set on a nil
// error: Position on a fill, Skipped when a gate was closed, Rejected
// when the broker refused the order.
type Attempt struct {
	Position *state.Position
	Skipped  string
	Rejected string
}

// Fill is a successful submission handed to OnOrderFilled.
// StopDistance is the stop distance the order was sized with; Sent is
// nil when the order went out without protective orders.
type Fill struct {
	broker.OrderResult
	StopDistance float64
	Sent         *strategy.Levels
}

// Open submits a market order for sig. Protective-order rejections are
// retried once with a wider stop, then without protective orders which
// are attached after the fill.
func (m *Manager) Open(ctx context.Context, snap *state.Snapshot, sig strategy.Result, signalID string) (Attempt, error) {
	if ok, why := m.CanEnter(*snap, m.now()); !ok {
		return Attempt{Skipped: why}, nil
	}
	if !sig.IsSignal() || sig.Direction == market.Flat {
		return Attempt{}, fmt.Errorf("open: %s is not an entry signal", sig.Kind)
	}

	dir := sig.Direction
	levels := strategy.ComputeEntryLevels(m.cfg.Levels, sig, 0)
	units, err := m.size(ctx, levels)
	if err != nil {
		return Attempt{}, fmt.Errorf("open: %w", err)
	}
	if units < m.meta.MinimumTradeSize {
		reason := fmt.Sprintf("size %.2f below minimum %.2f", units, m.meta.MinimumTradeSize)
		m.rejected(sig, reason)
		return Attempt{Rejected: reason}, nil
	}

	var bound float64
	if m.cfg.MaxSlippage > 0 {
		bound = sig.Price + dir.Sign()*m.cfg.MaxSlippage
	}
	signed := units * dir.Sign()
	stopDistance := m.cfg.Levels.StopDistance
	sent := &levels

	res, err := m.submit(ctx, signed, bound, sent)
	if err == nil && !res.Success && broker.IsRetriableReject(res.Reason) {
		metrics.IncOrder("retried")
		stopDistance *= m.cfg.StopWidenFactor
		wider := m.cfg.Levels.WithStopDistance(stopDistance).Compute(dir, sig.Price)
		sent = &wider
		m.log.Warn().Str("reason", res.Reason).Float64("stop_distance", stopDistance).Msg("order rejected, retrying with wider stop")
		res, err = m.submit(ctx, signed, bound, sent)

		if err == nil && !res.Success && broker.IsRetriableReject(res.Reason) {
			metrics.IncOrder("unprotected")
			sent = nil
			m.log.Warn().Str("reason", res.Reason).Msg("order rejected again, submitting without protective orders")
			res, err = m.submit(ctx, signed, bound, nil)
		}
	}
	if err != nil {
		metrics.IncOrder("error")
		m.notifier.Notify(notify.Event{
			Kind:       notify.KindError,
			Title:      "Order submission failed",
			Message:    err.Error(),
			Instrument: m.instrument,
		})
		return Attempt{}, fmt.Errorf("open: submit: %w", err)
	}
	if !res.Success {
		m.rejected(sig, res.Reason)
		return Attempt{Rejected: res.Reason}, nil
	}

	metrics.IncOrder("filled")
	pos, err := m.OnOrderFilled(ctx, snap, Fill{OrderResult: res, StopDistance: stopDistance, Sent: sent}, sig, signalID)
	if err != nil {
		return Attempt{}, err
	}
	return Attempt{Position: pos}, nil
}

func (m *Manager) rejected(sig strategy.Result, reason string) {
	metrics.IncOrder("rejected")
	m.log.Warn().Str("direction", sig.Direction.String()).Str("reason", reason).Msg("entry rejected")
	m.notifier.Notify(notify.Event{
		Kind:       notify.KindOrderReject,
		Title:      fmt.Sprintf("%s entry rejected", sig.Direction),
		Message:    reason,
		Instrument: m.instrument,
		Price:      sig.Price,
	})
}

func (m *Manager) submit(ctx context.Context, units, bound float64, lv *strategy.Levels) (broker.OrderResult, error) {
	req := broker.OrderRequest{
		Instrument: m.instrument,
		Units:      units,
		PriceBound: bound,
	}
	if lv != nil {
		stop, target := lv.StopLoss, m.target(*lv)
		req.StopLoss = &stop
		req.TakeProfit = &target
	}
	return m.broker.SubmitOrder(ctx, req)
}

// target is the take-profit held at the broker. With staged take-profit
// TP1 is managed here and the broker holds TP2.
func (m *Manager) target(lv strategy.Levels) float64 {
	if m.cfg.StagedTP.Enabled {
		return lv.TP2
	}
	return lv.TP1
}

func (m *Manager) size(ctx context.Context, lv strategy.Levels) (float64, error) {
	if m.cfg.RiskPercent == 0 {
		return m.meta.RoundUnits(m.cfg.Units), nil
	}
	acct, err := m.broker.Account(ctx)
	if err != nil {
		return 0, fmt.Errorf("account: %w", err)
	}
	rate, err := market.QuoteToAccountRate(m.instrument, acct.Currency, lv.Entry)
	if err != nil {
		return 0, err
	}
	res := risk.Calculate(risk.Inputs{
		Equity:         acct.NAV,
		RiskPct:        m.cfg.RiskPercent / 100,
		EntryPrice:     lv.Entry,
		StopPrice:      lv.StopLoss,
		PipLocation:    m.meta.PipLocation,
		QuoteToAccount: rate,
	})
	units := m.meta.RoundUnits(res.Units)
	m.log.Debug().
		Float64("units", units).
		Float64("planned_risk", risk.PlannedRisk(units, lv.Entry, lv.StopLoss, rate)).
		Msg("sized from account risk")
	return units, nil
}

// OnOrderFilled re-anchors the levels to the actual fill price, moves
// the broker's protective orders when they differ from what was sent,
// and records the new position. Pending breakout and entry state is
// cleared.
func (m *Manager) OnOrderFilled(ctx context.Context, snap *state.Snapshot, fill Fill, sig strategy.Result, signalID string) (*state.Position, error) {
	dist := fill.StopDistance
	if dist <= 0 {
		dist = m.cfg.Levels.StopDistance
	}
	lv := m.cfg.Levels.WithStopDistance(dist).Compute(sig.Direction, fill.FillPrice)
	stop, target := lv.StopLoss, m.target(lv)

	protected := true
	switch {
	case fill.Sent == nil:
		if err := m.broker.ModifyTrade(ctx, fill.TradeID, &stop, &target); err != nil {
			protected = false
			m.log.Error().Err(err).Str("trade_id", fill.TradeID).Msg("attaching protective orders failed")
			m.notifier.Notify(notify.Event{
				Kind:       notify.KindError,
				Title:      "Position open without stop",
				Message:    err.Error(),
				Instrument: m.instrument,
				Price:      fill.FillPrice,
			})
		}
	case m.differs(fill.Sent.StopLoss, stop) || m.differs(m.target(*fill.Sent), target):
		if err := m.broker.ModifyTrade(ctx, fill.TradeID, &stop, &target); err != nil {
			// The levels sent with the order stay in force.
			m.log.Warn().Err(err).Str("trade_id", fill.TradeID).Msg("re-anchoring levels to fill failed")
			stop = fill.Sent.StopLoss
		}
	}

	units := math.Abs(fill.Units)
	opened := fill.Time
	if opened.IsZero() {
		opened = m.now()
	}
	pos := &state.Position{
		TradeID:      fill.TradeID,
		SignalID:     signalID,
		Instrument:   m.instrument,
		Direction:    sig.Direction,
		Source:       sig.Source,
		EntryPrice:   fill.FillPrice,
		StopLoss:     lv.StopLoss,
		TP1:          lv.TP1,
		TP2:          lv.TP2,
		InitialUnits: units,
		Units:        units,
		BestPrice:    fill.FillPrice,
		CurrentStop:  stop,
		Protected:    protected,
		OpenedAt:     opened,
	}
	snap.Position = pos
	snap.ClearPending()
	metrics.SetOpenPosition(true)

	m.log.Info().
		Str("trade_id", pos.TradeID).
		Str("direction", pos.Direction.String()).
		Float64("fill", pos.EntryPrice).
		Float64("units", units).
		Float64("stop", pos.CurrentStop).
		Float64("tp1", pos.TP1).
		Float64("tp2", pos.TP2).
		Float64("rr", risk.RR(pos.EntryPrice, pos.CurrentStop, target)).
		Bool("protected", protected).
		Msg("position opened")
	m.notifier.Notify(notify.Event{
		Kind:       notify.KindOrderFilled,
		Title:      fmt.Sprintf("%s %s filled", pos.Direction, m.instrument),
		Message:    fmt.Sprintf("units %.0f, SL %.3f, TP1 %.3f, TP2 %.3f", units, pos.CurrentStop, pos.TP1, pos.TP2),
		Instrument: m.instrument,
		Price:      pos.EntryPrice,
	})
	return pos, nil
}

// differs compares prices at half the instrument's display precision.
func (m *Manager) differs(a, b float64) bool {
	return math.Abs(a-b) > 0.5*math.Pow(10, -float64(m.meta.DisplayPrecision))
}

// OnTick advances the open position for one price observation. open is
// the broker's current list of open trades; a tracked trade missing from
// it has closed. Without a tracked position, an open trade on the
// instrument is adopted: an order can fill after its response was lost.
func (m *Manager) OnTick(ctx context.Context, snap *state.Snapshot, open []broker.OpenTrade, price float64) error {
	p := snap.Position
	if p == nil {
		m.adoptUntracked(snap, open)
		return nil
	}
	if !hasTrade(open, p.TradeID) {
		return m.closed(ctx, snap)
	}
	if price <= 0 {
		return nil
	}

	if !p.Protected {
		m.protect(ctx, p)
	}
	if p.Direction.Better(price, p.BestPrice) {
		p.BestPrice = price
	}
	if m.cfg.StagedTP.Enabled && !p.TP1Hit && p.Favorable(price) >= p.Favorable(p.TP1) {
		if err := m.takeTP1(ctx, p, price); err != nil {
			return err
		}
	}
	if p.Units <= 0 {
		// Fully closed at TP1; the next tick finalizes it.
		return nil
	}
	if m.cfg.Trailing.Enabled {
		return m.trail(ctx, p)
	}
	return nil
}

func hasTrade(open []broker.OpenTrade, id string) bool {
	for _, t := range open {
		if t.TradeID == id {
			return true
		}
	}
	return false
}

func (m *Manager) protect(ctx context.Context, p *state.Position) {
	stop, target := p.CurrentStop, p.TP1
	if m.cfg.StagedTP.Enabled {
		target = p.TP2
	}
	if err := m.broker.ModifyTrade(ctx, p.TradeID, &stop, &target); err != nil {
		m.log.Error().Err(err).Str("trade_id", p.TradeID).Msg("still unable to attach stop")
		return
	}
	p.Protected = true
	m.log.Info().Str("trade_id", p.TradeID).Float64("stop", stop).Msg("protective orders attached")
}

// takeTP1 closes the configured fraction, moves the stop to breakeven
// and leaves TP2 on the remainder. TP1Hit makes it happen once. With a
// fraction of 1 the trade is gone and there is nothing left to move.
func (m *Manager) takeTP1(ctx context.Context, p *state.Position, price float64) error {
	units := min(m.meta.RoundUnits(p.Units*m.cfg.StagedTP.Fraction), p.Units)
	var pl float64
	if units >= m.meta.MinimumTradeSize {
		var err error
		pl, err = m.broker.ClosePartial(ctx, p.TradeID, units)
		if err != nil {
			return fmt.Errorf("tp1 partial close %s: %w", p.TradeID, err)
		}
		p.Units -= units
	} else {
		units = 0
	}
	p.TP1Hit = true

	if p.Units > 0 {
		stop := p.CurrentStop
		if p.Direction.Better(p.EntryPrice, stop) {
			stop = p.EntryPrice
		}
		target := p.TP2
		if err := m.broker.ModifyTrade(ctx, p.TradeID, &stop, &target); err != nil {
			m.log.Error().Err(err).Str("trade_id", p.TradeID).Msg("breakeven move failed")
		} else {
			p.CurrentStop = stop
		}
	}

	m.log.Info().
		Str("trade_id", p.TradeID).
		Float64("price", price).
		Float64("closed_units", units).
		Float64("remaining", p.Units).
		Float64("realized_pl", pl).
		Float64("stop", p.CurrentStop).
		Msg("tp1 hit")
	m.notifier.Notify(notify.Event{
		Kind:       notify.KindPartialClose,
		Title:      fmt.Sprintf("TP1 hit on %s", m.instrument),
		Message:    fmt.Sprintf("closed %.0f units, stop to %.3f, targeting %.3f", units, p.CurrentStop, p.TP2),
		Instrument: m.instrument,
		Price:      price,
		PL:         pl,
	})
	return nil
}

func (m *Manager) trail(ctx context.Context, p *state.Position) error {
	if !p.TrailActive {
		if !p.TP1Hit && p.Favorable(p.BestPrice) < m.cfg.Trailing.activation(p.Source) {
			return nil
		}
		p.TrailActive = true
		m.log.Info().Str("trade_id", p.TradeID).Float64("best", p.BestPrice).Msg("trailing stop active")
	}

	stop, ok := TrailStop(p.Direction, p.CurrentStop, p.BestPrice, m.cfg.Trailing.Distance)
	if !ok {
		return nil
	}
	if err := m.broker.ModifyTrade(ctx, p.TradeID, &stop, nil); err != nil {
		return fmt.Errorf("trail stop %s: %w", p.TradeID, err)
	}
	m.log.Debug().Str("trade_id", p.TradeID).Float64("from", p.CurrentStop).Float64("to", stop).Msg("trailing stop moved")
	p.CurrentStop = stop
	metrics.IncTrailMove()
	return nil
}

// closed finalizes a position the broker no longer lists as open.
func (m *Manager) closed(ctx context.Context, snap *state.Snapshot) error {
	p := snap.Position
	d, err := m.broker.TradeDetail(ctx, p.TradeID)
	if err != nil && !errors.Is(err, broker.ErrTradeNotFound) {
		return fmt.Errorf("closed trade %s: %w", p.TradeID, err)
	}
	closeTime := d.CloseTime
	if closeTime.IsZero() {
		closeTime = m.now()
	}
	reason := d.Reason
	if reason == "" {
		reason = broker.CloseUnknown
	}

	rec := journal.TradeRecord{
		TradeID:    p.TradeID,
		SignalID:   p.SignalID,
		Instrument: p.Instrument,
		Direction:  p.Direction,
		Source:     string(p.Source),
		Units:      p.InitialUnits * p.Direction.Sign(),
		EntryPrice: p.EntryPrice,
		ExitPrice:  d.ExitPrice,
		StopLoss:   p.StopLoss,
		OpenTime:   p.OpenedAt,
		CloseTime:  closeTime,
		RealizedPL: d.RealizedPL,
		Reason:     reason,
	}
	if err := m.journal.RecordTrade(rec); err != nil {
		m.log.Error().Err(err).Str("trade_id", p.TradeID).Msg("journal write failed")
	}

	snap.Cooldown.Extend(closeTime)
	snap.Position = nil
	metrics.IncClosed(reason)
	metrics.SetOpenPosition(false)

	m.log.Info().
		Str("trade_id", p.TradeID).
		Str("reason", reason).
		Float64("exit", d.ExitPrice).
		Float64("realized_pl", d.RealizedPL).
		Msg("position closed")
	m.notifier.Notify(notify.Event{
		Kind:       notify.KindTradeClosed,
		Title:      fmt.Sprintf("%s %s closed (%s)", p.Direction, m.instrument, reason),
		Message:    fmt.Sprintf("entry %.3f, exit %.3f", p.EntryPrice, d.ExitPrice),
		Instrument: m.instrument,
		Price:      d.ExitPrice,
		PL:         d.RealizedPL,
	})
	return nil
}

// Reconcile brings snap in line with the broker after a restart. A
// tracked position that closed while we were down is finalized; an
// untracked open trade on the instrument is adopted so the bot never
// holds two.
func (m *Manager) Reconcile(ctx context.Context, snap *state.Snapshot) error {
	open, err := m.broker.OpenTrades(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	if snap.Position != nil {
		if hasTrade(open, snap.Position.TradeID) {
			metrics.SetOpenPosition(true)
			return nil
		}
		return m.closed(ctx, snap)
	}

	if !m.adoptUntracked(snap, open) {
		metrics.SetOpenPosition(false)
	}
	return nil
}

// adoptUntracked takes over the first open trade on the instrument,
// dropping pending signals. It reports whether one was adopted.
func (m *Manager) adoptUntracked(snap *state.Snapshot, open []broker.OpenTrade) bool {
	for _, t := range open {
		if t.Instrument != m.instrument || t.Units == 0 {
			continue
		}
		snap.Position = m.adopt(t)
		snap.ClearPending()
		metrics.SetOpenPosition(true)
		m.log.Warn().Str("trade_id", t.TradeID).Float64("units", t.Units).Msg("adopted untracked trade")
		m.notifier.Notify(notify.Event{
			Kind:       notify.KindInfo,
			Title:      fmt.Sprintf("Adopted open trade %s", t.TradeID),
			Instrument: m.instrument,
			Price:      t.Price,
		})
		return true
	}
	return false
}

func (m *Manager) adopt(t broker.OpenTrade) *state.Position {
	dir := market.DirectionOf(t.Units)
	lv := m.cfg.Levels.Compute(dir, t.Price)
	stop := lv.StopLoss
	if t.StopLoss != nil {
		stop = *t.StopLoss
	}
	units := math.Abs(t.Units)
	return &state.Position{
		TradeID:      t.TradeID,
		Instrument:   t.Instrument,
		Direction:    dir,
		Source:       strategy.SourceAdopted,
		EntryPrice:   t.Price,
		StopLoss:     stop,
		TP1:          lv.TP1,
		TP2:          lv.TP2,
		InitialUnits: units,
		Units:        units,
		BestPrice:    t.Price,
		CurrentStop:  stop,
		Protected:    t.StopLoss != nil,
		OpenedAt:     t.OpenTime,
	}
}
