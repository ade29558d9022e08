// Package bot runs the trading loops for one instrument: a slow loop
// scanning completed candles, a fast loop watching the live price and
// a monitor loop managing the open position. A watchdog exits the
// process when no loop has completed a tick for too long.
package bot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/breakout/broker"
	"github.com/rustyeddy/breakout/broker/oanda"
	"github.com/rustyeddy/breakout/config"
	"github.com/rustyeddy/breakout/market"
	"github.com/rustyeddy/breakout/market/indicators"
	"github.com/rustyeddy/breakout/metrics"
	"github.com/rustyeddy/breakout/notify"
	"github.com/rustyeddy/breakout/position"
	"github.com/rustyeddy/breakout/state"
	"github.com/rustyeddy/breakout/strategy"
)

// WatchdogExitCode is the process exit status after a detected hang.
const WatchdogExitCode = 2

type Bot struct {
	cfg       *config.Config
	broker    broker.Broker
	store     state.Store
	positions *position.Manager
	core      *Core
	notifier  notify.Notifier
	log       zerolog.Logger

	// mu guards snap for the whole body of every tick.
	mu   sync.Mutex
	snap state.Snapshot

	lastBeat atomic.Int64
	failMu   sync.Mutex
	failures map[string]int

	now  func() time.Time
	exit func(code int)
}

// New wires a bot. The broker, store and position manager are owned by
// the caller.
func New(cfg *config.Config, b broker.Broker, store state.Store, positions *position.Manager, n notify.Notifier, log zerolog.Logger) *Bot {
	if n == nil {
		n = notify.Nop{}
	}
	bar := cfg.Pullback.Bar
	bar.Timeframe = oanda.Granularity(cfg.Timeframes.Pullback).Duration()
	core := NewCore(CoreConfig{
		Detector:           cfg.Detector,
		Realtime:           cfg.Realtime,
		PullbackEnabled:    cfg.Pullback.Enabled,
		BarPullback:        bar,
		ContinuousPullback: cfg.Pullback.Continuous,
	}, positions.CanEnter)

	return &Bot{
		cfg:       cfg,
		broker:    b,
		store:     store,
		positions: positions,
		core:      core,
		notifier:  n,
		log:       log.With().Str("component", "bot").Str("instrument", cfg.Instrument).Logger(),
		failures:  make(map[string]int),
		now:       time.Now,
		exit:      os.Exit,
	}
}

// Snapshot returns a copy of the current state.
func (b *Bot) Snapshot() state.Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snap.Clone()
}

// Start loads persisted state and reconciles it with the broker.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap, err := b.store.Load(ctx)
	switch {
	case errors.Is(err, state.ErrNoState):
		b.log.Info().Msg("no persisted state, starting fresh")
	case err != nil:
		return fmt.Errorf("load state: %w", err)
	}
	if err := snap.Check(); err != nil {
		b.log.Warn().Err(err).Msg("persisted state inconsistent, dropping pending signals")
		snap.ClearPending()
	}
	before := snap.Clone()
	b.snap = snap

	if err := b.positions.Reconcile(ctx, &b.snap); err != nil {
		return err
	}
	if err := b.persist(ctx, before, true); err != nil {
		return err
	}
	b.beat()

	ev := b.log.Info().Bool("armed", b.snap.Memory.Armed())
	if p := b.snap.Position; p != nil {
		ev = ev.Str("trade_id", p.TradeID).Str("direction", p.Direction.String())
	}
	ev.Msg("bot started")
	return nil
}

// Run drives the loops and the watchdog until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	if b.lastBeat.Load() == 0 {
		b.beat()
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.loop(ctx, "slow", b.cfg.Loops.Slow, b.slowTick) })
	g.Go(func() error { return b.loop(ctx, "fast", b.cfg.Loops.Fast, b.fastTick) })
	g.Go(func() error { return b.loop(ctx, "monitor", b.cfg.Loops.Monitor, b.monitorTick) })
	g.Go(func() error { return b.watchdog(ctx) })
	return g.Wait()
}

// slowTick evaluates the newest completed candle.
func (b *Bot) slowTick(ctx context.Context) error {
	log := zerolog.Ctx(ctx)
	tf := b.cfg.Timeframes

	candles, err := b.broker.Candles(ctx, b.cfg.Instrument, tf.Signal, tf.Count)
	if err != nil {
		return fmt.Errorf("candles %s: %w", tf.Signal, err)
	}
	candles = market.CompleteOnly(candles)
	a, ok := indicators.Analyze(candles, b.cfg.Indicators)
	if !ok {
		log.Warn().Int("candles", len(candles)).Msg("not enough history for indicators")
		return nil
	}

	var lower []market.Candle
	if b.cfg.Pullback.Enabled {
		lower, err = b.broker.Candles(ctx, b.cfg.Instrument, tf.Pullback, b.cfg.Pullback.Bar.MaxBars+2)
		if err != nil {
			return fmt.Errorf("candles %s: %w", tf.Pullback, err)
		}
		lower = market.CompleteOnly(lower)
	}

	return b.withState(ctx, func() error {
		res := b.core.EvaluateCandleClose(&b.snap, a, candles, lower, b.now())
		b.observe(ctx, "candle_close", res)
		if res.IsSignal() {
			return b.enter(ctx, res)
		}
		return nil
	})
}

// fastTick polls the live price for intra-bar breaks and pullbacks.
// Quotes from a closed market are ignored.
func (b *Bot) fastTick(ctx context.Context) error {
	q, err := b.broker.Price(ctx, b.cfg.Instrument)
	if err != nil {
		return fmt.Errorf("price: %w", err)
	}
	if !q.Tradeable {
		zerolog.Ctx(ctx).Debug().Float64("spread", q.Spread()).Msg("instrument not tradeable, skipping")
		return nil
	}
	price := q.Mid()

	return b.withState(ctx, func() error {
		now := b.now()
		var res strategy.Result
		switch {
		case b.snap.Position != nil:
			return nil
		case b.snap.Entry != nil:
			res = b.core.CheckPullback(&b.snap, price, now)
		default:
			ind := b.snap.Memory.Indicators
			if ind == nil {
				return nil
			}
			res = b.core.CheckRealTime(&b.snap, price, ind.ADX, ind.RSI, now)
		}
		b.observe(ctx, "realtime", res)
		if res.IsSignal() {
			return b.enter(ctx, res)
		}
		return nil
	})
}

// monitorTick manages the open position, or picks up a trade the
// broker holds that we are not tracking.
func (b *Bot) monitorTick(ctx context.Context) error {
	return b.withState(ctx, func() error {
		open, err := b.broker.OpenTrades(ctx)
		if err != nil {
			return fmt.Errorf("open trades: %w", err)
		}
		if b.snap.Position == nil {
			return b.positions.OnTick(ctx, &b.snap, open, 0)
		}
		var price float64
		if q, err := b.broker.Price(ctx, b.cfg.Instrument); err == nil {
			price = q.Mid()
		} else {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("price unavailable, checking closure only")
		}
		return b.positions.OnTick(ctx, &b.snap, open, price)
	})
}

// withState runs fn holding the state lock and persists whatever it
// changed, even when fn fails part way.
func (b *Bot) withState(ctx context.Context, fn func() error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	before := b.snap.Clone()
	err := fn()
	if cerr := b.snap.Check(); cerr != nil {
		zerolog.Ctx(ctx).Error().Err(cerr).Msg("state invariant violated, dropping pending signals")
		b.snap.ClearPending()
	}
	if perr := b.persist(ctx, before, false); perr != nil {
		return errors.Join(err, perr)
	}
	return err
}

func (b *Bot) persist(ctx context.Context, before state.Snapshot, force bool) error {
	if !force && reflect.DeepEqual(before, b.snap) {
		return nil
	}
	if err := b.store.Save(ctx, b.snap); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

func (b *Bot) enter(ctx context.Context, res strategy.Result) error {
	log := zerolog.Ctx(ctx)
	metrics.IncSignal(string(res.Source), res.Direction.String())
	b.notifier.Notify(notify.Event{
		Kind:       notify.KindSignal,
		Title:      fmt.Sprintf("%s signal on %s", res.Direction, b.cfg.Instrument),
		Message:    res.Reason,
		Instrument: b.cfg.Instrument,
		Price:      res.Price,
	})

	att, err := b.positions.Open(ctx, &b.snap, res, res.SignalID)
	if err != nil {
		return fmt.Errorf("enter %s: %w", res.Direction, err)
	}
	switch {
	case att.Position != nil:
		log.Info().Str("signal_id", res.SignalID).Str("trade_id", att.Position.TradeID).Msg("entered")
	case att.Skipped != "":
		log.Info().Str("signal_id", res.SignalID).Str("reason", att.Skipped).Msg("entry skipped")
	case att.Rejected != "":
		log.Warn().Str("signal_id", res.SignalID).Str("reason", att.Rejected).Msg("entry rejected")
	}
	return nil
}

func (b *Bot) observe(ctx context.Context, path string, res strategy.Result) {
	if res.Filter != "" {
		metrics.IncRejection(res.Filter)
	}
	ev := zerolog.Ctx(ctx).Debug()
	if res.IsSignal() || res.IsPending() || res.Filter != "" {
		ev = zerolog.Ctx(ctx).Info()
	}
	ev.Str("path", path).
		Str("result", res.Kind.String()).
		Str("direction", res.Direction.String()).
		Int("confidence", res.Confidence).
		Str("filter", res.Filter).
		Msg(res.Reason)
}
