package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/rustyeddy/breakout/metrics"
	"github.com/rustyeddy/breakout/notify"
)

// failureAlert is the number of consecutive failed ticks of one loop
// that raises a notification.
const failureAlert = 3

// loop runs tick immediately and then every interval after the previous
// tick finished, so a loop never overlaps itself.
func (b *Bot) loop(ctx context.Context, name string, every time.Duration, tick func(context.Context) error) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
		b.runTick(ctx, name, tick)
		timer.Reset(every)
	}
}

// runTick runs one tick with its own tick id, recovering panics. Only a
// clean tick feeds the watchdog.
func (b *Bot) runTick(ctx context.Context, name string, tick func(context.Context) error) {
	log := b.log.With().Str("loop", name).Str("tick_id", uuid.NewString()).Logger()
	ctx = log.WithContext(ctx)
	start := time.Now()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				log.Error().Str("stack", string(debug.Stack())).Msg("tick panicked")
			}
		}()
		return tick(ctx)
	}()
	metrics.ObserveTick(name, time.Since(start))

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.IncTickError(name)
		log.Error().Err(err).Msg("tick failed")
		b.failed(name, err)
		return
	}
	b.recovered(name)
	b.beat()
}

func (b *Bot) failed(name string, err error) {
	b.failMu.Lock()
	b.failures[name]++
	n := b.failures[name]
	b.failMu.Unlock()

	if n == failureAlert {
		b.notifier.Notify(notify.Event{
			Kind:       notify.KindError,
			Title:      fmt.Sprintf("%s loop failing", name),
			Message:    fmt.Sprintf("%d consecutive failures, last: %v", n, err),
			Instrument: b.cfg.Instrument,
		})
	}
}

func (b *Bot) recovered(name string) {
	b.failMu.Lock()
	n := b.failures[name]
	b.failures[name] = 0
	b.failMu.Unlock()

	if n >= failureAlert {
		b.notifier.Notify(notify.Event{
			Kind:       notify.KindInfo,
			Title:      fmt.Sprintf("%s loop recovered", name),
			Instrument: b.cfg.Instrument,
		})
	}
}

func (b *Bot) beat() {
	b.lastBeat.Store(b.now().UnixNano())
}

// LastTick is when a loop last completed a tick.
func (b *Bot) LastTick() time.Time {
	return time.Unix(0, b.lastBeat.Load())
}

// watchdog exits the process when no loop has completed a tick within
// the configured timeout.
func (b *Bot) watchdog(ctx context.Context) error {
	timeout := b.cfg.Loops.Watchdog
	every := min(timeout/4, 30*time.Second)
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if stalled := b.stalled(timeout); stalled > 0 {
			b.log.Error().Dur("since_last_tick", stalled).Msg("watchdog: no tick completed, exiting")
			b.exit(WatchdogExitCode)
			return fmt.Errorf("watchdog: no tick for %s", stalled.Round(time.Second))
		}
	}
}

// stalled returns how long it has been since the last tick when that
// exceeds timeout, else zero.
func (b *Bot) stalled(timeout time.Duration) time.Duration {
	since := b.now().Sub(b.LastTick())
	if since > timeout {
		return since
	}
	return 0
}
