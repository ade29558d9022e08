package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/breakout/broker"
	"github.com/rustyeddy/breakout/broker/oanda"
	"github.com/rustyeddy/breakout/broker/sim"
	"github.com/rustyeddy/breakout/config"
	"github.com/rustyeddy/breakout/journal"
	"github.com/rustyeddy/breakout/notify"
	"github.com/rustyeddy/breakout/state"
)

func newBroker(cfg *config.Config, log zerolog.Logger) (broker.Broker, error) {
	if err := cfg.ValidateCredentials(); err != nil {
		return nil, err
	}
	client, err := oanda.NewClient(cfg.Broker.OANDA(), log)
	if err != nil {
		return nil, fmt.Errorf("oanda client: %w", err)
	}

	switch cfg.Broker.Type {
	case "oanda":
		return client, nil
	case "paper":
		p := cfg.Broker.Paper
		paper := sim.NewPaper(client, broker.Account{
			ID:       "paper-" + cfg.Broker.AccountID,
			Currency: p.Currency,
			Balance:  p.Balance,
		})
		paper.SetMinStopDistance(p.MinStopDistance)
		return paper, nil
	}
	return nil, fmt.Errorf("unknown broker type %q", cfg.Broker.Type)
}

func openStore(ctx context.Context, cfg config.StateConfig, instrument string) (state.Store, error) {
	switch cfg.Type {
	case "file":
		fs, err := state.NewFileStore(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return fs, nil
	case "redis":
		rs, err := state.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix, instrument)
		if err != nil {
			return nil, err
		}
		return rs, nil
	}
	return nil, fmt.Errorf("unknown state type %q", cfg.Type)
}

func openJournal(cfg config.JournalConfig) (journal.Journal, error) {
	switch cfg.Type {
	case "sqlite":
		j, err := journal.NewSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		return j, nil
	case "csv":
		j, err := journal.NewCSV(cfg.Path)
		if err != nil {
			return nil, err
		}
		return j, nil
	case "none", "":
		return journal.Nop{}, nil
	}
	return nil, fmt.Errorf("unknown journal type %q", cfg.Type)
}

// newNotifier returns a Manager over the configured channels, or nil
// when none is configured.
func newNotifier(cfg config.NotifyConfig, log zerolog.Logger) *notify.Manager {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhook != "" {
		senders = append(senders, notify.NewDiscord(cfg.DiscordWebhook))
	}
	if len(senders) == 0 {
		return nil
	}
	return notify.NewManager(log, senders...)
}
