package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/breakout/bot"
	"github.com/rustyeddy/breakout/logging"
	"github.com/rustyeddy/breakout/metrics"
	"github.com/rustyeddy/breakout/notify"
	"github.com/rustyeddy/breakout/position"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the trading bot",
	Long: `Run the bot until interrupted.

State is loaded and reconciled with the broker on startup. The process
exits with status 2 if no loop completes a tick within the watchdog
timeout, so a supervisor can restart it.

Example:
  breakout run -c breakout.yaml`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := newBroker(cfg, log)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg.State, cfg.Instrument)
	if err != nil {
		return fmt.Errorf("state store: %w", err)
	}
	defer store.Close()

	jnl, err := openJournal(cfg.Journal)
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	defer jnl.Close()

	var notifier notify.Notifier = notify.Nop{}
	if m := newNotifier(cfg.Notify, log); m != nil {
		notifier = m
		defer m.Close()
	}

	positions, err := position.NewManager(cfg.Position, cfg.Instrument, b, jnl, notifier, log)
	if err != nil {
		return err
	}

	trader := bot.New(cfg, b, store, positions, notifier, log)
	if err := trader.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	log.Info().
		Str("instrument", cfg.Instrument).
		Str("broker", cfg.Broker.Type).
		Str("environment", cfg.Broker.Environment).
		Str("signal_tf", cfg.Timeframes.Signal).
		Msg("breakout running")
	notifier.Notify(notify.Event{
		Kind:       notify.KindInfo,
		Title:      fmt.Sprintf("Breakout started on %s", cfg.Instrument),
		Message:    fmt.Sprintf("broker=%s env=%s", cfg.Broker.Type, cfg.Broker.Environment),
		Instrument: cfg.Instrument,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return trader.Run(ctx) })
	if cfg.Metrics.Enabled {
		g.Go(func() error { return metrics.Serve(ctx, cfg.Metrics.Addr, log) })
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("breakout stopped")
		return err
	}
	log.Info().Msg("breakout stopped")
	return nil
}
