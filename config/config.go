package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/breakout/broker/oanda"
	"github.com/rustyeddy/breakout/logging"
	"github.com/rustyeddy/breakout/market"
	"github.com/rustyeddy/breakout/market/indicators"
	"github.com/rustyeddy/breakout/position"
	"github.com/rustyeddy/breakout/strategy"
)

// Config is the complete bot configuration.
type Config struct {
	Instrument string                  `json:"instrument" yaml:"instrument"`
	Broker     BrokerConfig            `json:"broker" yaml:"broker"`
	Timeframes TimeframesConfig        `json:"timeframes" yaml:"timeframes"`
	Indicators indicators.Params       `json:"indicators" yaml:"indicators"`
	Detector   strategy.DetectorConfig `json:"detector" yaml:"detector"`
	Realtime   strategy.RealtimeConfig `json:"realtime" yaml:"realtime"`
	Pullback   PullbackConfig          `json:"pullback" yaml:"pullback"`
	Position   position.Config         `json:"position" yaml:"position"`
	Loops      LoopsConfig             `json:"loops" yaml:"loops"`
	State      StateConfig             `json:"state" yaml:"state"`
	Journal    JournalConfig           `json:"journal" yaml:"journal"`
	Notify     NotifyConfig            `json:"notify" yaml:"notify"`
	Logging    logging.Config          `json:"logging" yaml:"logging"`
	Metrics    MetricsConfig           `json:"metrics" yaml:"metrics"`
}

// BrokerConfig selects the execution venue. "oanda" trades live or on
// the practice server; "paper" takes OANDA market data and fills
// orders in memory.
type BrokerConfig struct {
	Type        string        `json:"type" yaml:"type"`
	Environment string        `json:"environment" yaml:"environment"`
	Token       string        `json:"-" yaml:"-"`
	AccountID   string        `json:"account_id,omitempty" yaml:"account_id,omitempty"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout"`
	MaxRetries  int           `json:"max_retries" yaml:"max_retries"`
	Paper       PaperConfig   `json:"paper" yaml:"paper"`
}

// OANDA returns the client settings.
func (b BrokerConfig) OANDA() oanda.Config {
	return oanda.Config{
		Environment: b.Environment,
		Token:       b.Token,
		AccountID:   b.AccountID,
		Timeout:     b.Timeout,
		MaxRetries:  b.MaxRetries,
	}
}

type PaperConfig struct {
	Currency        string  `json:"currency" yaml:"currency"`
	Balance         float64 `json:"balance" yaml:"balance"`
	MinStopDistance float64 `json:"min_stop_distance" yaml:"min_stop_distance"`
}

// TimeframesConfig names the candle granularities. Signal drives the
// candle-close detector and Pullback the bar-counted refiner.
type TimeframesConfig struct {
	Signal   string `json:"signal" yaml:"signal"`
	Pullback string `json:"pullback" yaml:"pullback"`
	Count    int    `json:"count" yaml:"count"`
}

// PullbackConfig enables entry refinement. When disabled, signals are
// entered at once.
type PullbackConfig struct {
	Enabled    bool                        `json:"enabled" yaml:"enabled"`
	Bar        strategy.BarPullback        `json:"bar" yaml:"bar"`
	Continuous strategy.ContinuousPullback `json:"continuous" yaml:"continuous"`
}

// LoopsConfig sets the polling intervals and the watchdog timeout.
type LoopsConfig struct {
	Slow     time.Duration `json:"slow" yaml:"slow"`
	Fast     time.Duration `json:"fast" yaml:"fast"`
	Monitor  time.Duration `json:"monitor" yaml:"monitor"`
	Watchdog time.Duration `json:"watchdog_timeout" yaml:"watchdog_timeout"`
}

type StateConfig struct {
	Type          string `json:"type" yaml:"type"` // "file" or "redis"
	Dir           string `json:"dir,omitempty" yaml:"dir,omitempty"`
	RedisAddr     string `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty"`
	RedisPassword string `json:"-" yaml:"-"`
	RedisDB       int    `json:"redis_db,omitempty" yaml:"redis_db,omitempty"`
	RedisPrefix   string `json:"redis_prefix,omitempty" yaml:"redis_prefix,omitempty"`
}

type JournalConfig struct {
	Type string `json:"type" yaml:"type"` // "sqlite", "csv" or "none"
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// NotifyConfig holds notification channels. Secrets come from the
// environment.
type NotifyConfig struct {
	TelegramToken  string `json:"-" yaml:"-"`
	TelegramChatID string `json:"telegram_chat_id,omitempty" yaml:"telegram_chat_id,omitempty"`
	DiscordWebhook string `json:"-" yaml:"-"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

// Default returns a configuration with sensible defaults for gold on
// the OANDA practice server.
func Default() *Config {
	return &Config{
		Instrument: "XAU_USD",
		Broker: BrokerConfig{
			Type:        "oanda",
			Environment: "practice",
			Timeout:     30 * time.Second,
			MaxRetries:  3,
			Paper: PaperConfig{
				Currency: "USD",
				Balance:  100000,
			},
		},
		Timeframes: TimeframesConfig{
			Signal:   "H1",
			Pullback: "M5",
			Count:    200,
		},
		Indicators: indicators.DefaultParams(),
		Detector:   strategy.DefaultDetectorConfig(),
		Realtime:   strategy.DefaultRealtimeConfig(),
		Pullback: PullbackConfig{
			Enabled:    true,
			Bar:        strategy.DefaultBarPullback(),
			Continuous: strategy.DefaultContinuousPullback(),
		},
		Position: position.DefaultConfig(),
		Loops: LoopsConfig{
			Slow:     time.Minute,
			Fast:     5 * time.Second,
			Monitor:  15 * time.Second,
			Watchdog: 10 * time.Minute,
		},
		State: StateConfig{
			Type:        "file",
			Dir:         "./state",
			RedisPrefix: "breakout",
		},
		Journal: JournalConfig{
			Type: "sqlite",
			Path: "./breakout.db",
		},
		Logging: logging.DefaultConfig(),
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
	}
}

// LoadFromFile loads configuration from a file (YAML or JSON). Fields
// missing from the file keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Try YAML first, fall back to JSON
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg = Default()
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Load reads .env (if present), the config file (defaults when path is
// empty) and then applies environment overrides.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides settings from the environment. Credentials are
// only ever taken from here.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("OANDA_TOKEN", &c.Broker.Token)
	str("OANDA_ACCOUNT_ID", &c.Broker.AccountID)
	str("OANDA_ENV", &c.Broker.Environment)
	str("BREAKOUT_INSTRUMENT", &c.Instrument)
	str("BREAKOUT_BROKER", &c.Broker.Type)
	str("REDIS_ADDR", &c.State.RedisAddr)
	str("REDIS_PASSWORD", &c.State.RedisPassword)
	str("TELEGRAM_TOKEN", &c.Notify.TelegramToken)
	str("TELEGRAM_CHAT_ID", &c.Notify.TelegramChatID)
	str("DISCORD_WEBHOOK", &c.Notify.DiscordWebhook)
	str("LOG_LEVEL", &c.Logging.Level)

	if v, ok := lookup("REDIS_DB"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REDIS_DB: %w", err)
		}
		c.State.RedisDB = n
	}
	return nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid. Credentials are
// checked separately by ValidateCredentials.
func (c *Config) Validate() error {
	if c.Instrument == "" {
		return fmt.Errorf("instrument is required")
	}
	if _, ok := market.Instruments[c.Instrument]; !ok {
		return fmt.Errorf("unknown instrument: %s", c.Instrument)
	}

	switch c.Broker.Type {
	case "oanda", "paper":
	default:
		return fmt.Errorf("broker.type must be 'oanda' or 'paper'")
	}
	if _, err := oanda.BaseURL(c.Broker.Environment); err != nil {
		return fmt.Errorf("broker.environment: %w", err)
	}
	if c.Broker.MaxRetries < 0 {
		return fmt.Errorf("broker.max_retries must be >= 0")
	}
	if c.Broker.Type == "paper" && c.Broker.Paper.Balance <= 0 {
		return fmt.Errorf("broker.paper.balance must be positive")
	}

	signal := oanda.Granularity(c.Timeframes.Signal).Duration()
	if signal == 0 {
		return fmt.Errorf("timeframes.signal: unknown granularity %q", c.Timeframes.Signal)
	}
	lower := oanda.Granularity(c.Timeframes.Pullback).Duration()
	if lower == 0 || lower >= signal {
		return fmt.Errorf("timeframes.pullback must be a granularity below %s", c.Timeframes.Signal)
	}
	need := max(c.Indicators.Warmup(), c.Detector.Lookback+1)
	if c.Timeframes.Count < need || c.Timeframes.Count > 5000 {
		return fmt.Errorf("timeframes.count must be between %d and 5000", need)
	}
	if c.Indicators.ADXPeriod <= 0 || c.Indicators.RSIPeriod <= 0 || c.Indicators.EMAPeriod <= 0 {
		return fmt.Errorf("indicator periods must be positive")
	}

	if err := c.Detector.Validate(); err != nil {
		return fmt.Errorf("detector: %w", err)
	}
	if c.Realtime.Enabled && c.Realtime.ConfirmWindow <= 0 {
		return fmt.Errorf("realtime.confirm_window must be > 0")
	}
	if err := c.Pullback.Bar.Validate(); err != nil {
		return fmt.Errorf("pullback.bar: %w", err)
	}
	if err := c.Pullback.Continuous.Validate(); err != nil {
		return fmt.Errorf("pullback.continuous: %w", err)
	}
	if err := c.Position.Validate(); err != nil {
		return fmt.Errorf("position: %w", err)
	}

	if c.Loops.Slow <= 0 || c.Loops.Fast <= 0 || c.Loops.Monitor <= 0 {
		return fmt.Errorf("loop intervals must be positive")
	}
	if c.Loops.Watchdog <= c.Loops.Slow {
		return fmt.Errorf("loops.watchdog_timeout must exceed loops.slow")
	}

	switch c.State.Type {
	case "file":
		if c.State.Dir == "" {
			return fmt.Errorf("state.dir required for file state")
		}
	case "redis":
		if c.State.RedisAddr == "" {
			return fmt.Errorf("state.redis_addr required for redis state")
		}
	default:
		return fmt.Errorf("state.type must be 'file' or 'redis'")
	}

	switch c.Journal.Type {
	case "none":
	case "csv", "sqlite":
		if c.Journal.Path == "" {
			return fmt.Errorf("journal.path required for %s journal", c.Journal.Type)
		}
	default:
		return fmt.Errorf("journal.type must be 'csv', 'sqlite' or 'none'")
	}

	if err := c.Logging.Validate(); err != nil {
		return err
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr required when metrics are enabled")
	}
	return nil
}

// ValidateCredentials checks what is needed to reach the broker.
func (c *Config) ValidateCredentials() error {
	if c.Broker.Token == "" {
		return fmt.Errorf("OANDA_TOKEN is not set")
	}
	if c.Broker.AccountID == "" {
		return fmt.Errorf("OANDA_ACCOUNT_ID is not set")
	}
	return nil
}
