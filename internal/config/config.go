// Package config
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	pkgerrors "github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/amirphl/breakout-trader/internal/scheduler"
	"github.com/amirphl/breakout-trader/internal/tfutils"
	"github.com/amirphl/breakout-trader/internal/utils"
)

/*
YAML config example:
venue: binance
symbols: ["BTCUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT"]
quote_asset: USDT
timeframe: 12h
k: 0.5
leverage: 1
lockout: 10m
telegram:
  chat_id: "123456"
  mode: polling
ledger:
  csv_path: trade_history.csv
  sql_driver: sqlite
  sql_dsn: file:trades.db
http:
  addr: ":8080"
log:
  level: info
  file: logs/breakout.log
*/

// ErrConfiguration marks a configuration that must stop the process before
// the trading loop starts.
var ErrConfiguration = errors.New("configuration error")

// ValidationError lists every problem found by Validate.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrConfiguration }

// Environment variables that override credentials. The same names, prefixed
// with SecretPrefix, are looked up in the secret store.
const (
	EnvBinanceKey    = "BINANCE_API_KEY"
	EnvBinanceSecret = "BINANCE_API_SECRET"
	EnvWallexKey     = "WALLEX_API_KEY"
	EnvTelegramToken = "TELEGRAM_BOT_TOKEN"
	EnvTelegramChat  = "TELEGRAM_CHAT_ID"
	EnvCommandToken  = "BREAKOUT_COMMAND_TOKEN"
	EnvSecretKey     = "BREAKOUT_SECRET_KEY"

	SecretPrefix = "env/"
)

const (
	VenueBinance = "binance"
	VenueWallex  = "wallex"

	TelegramPolling = "polling"
	TelegramWebhook = "webhook"
)

type Config struct {
	Venue      string   `yaml:"venue"`
	Symbols    []string `yaml:"symbols"`
	QuoteAsset string   `yaml:"quote_asset"`
	Timeframe  string   `yaml:"timeframe"`
	K          float64  `yaml:"k"`
	Leverage   int      `yaml:"leverage"`
	AllowShort bool     `yaml:"allow_short"`

	Lockout       time.Duration `yaml:"lockout"`
	MinOrderValue float64       `yaml:"min_order_value"`
	DustEpsilon   float64       `yaml:"dust_epsilon"`
	BalanceBuffer float64       `yaml:"balance_buffer"`

	TickInterval        time.Duration `yaml:"tick_interval"`
	LockoutIdleInterval time.Duration `yaml:"lockout_idle_interval"`
	ErrorBackoff        time.Duration `yaml:"error_backoff"`
	GatewayTimeout      time.Duration `yaml:"gateway_timeout"`

	DisplayTimezone string  `yaml:"display_timezone"`
	DryRun          bool    `yaml:"dry_run"`
	PaperBalance    float64 `yaml:"paper_balance"`

	Binance  BinanceConfig   `yaml:"binance"`
	Wallex   WallexConfig    `yaml:"wallex"`
	Telegram TelegramConfig  `yaml:"telegram"`
	Ledger   LedgerConfig    `yaml:"ledger"`
	HTTP     HTTPConfig      `yaml:"http"`
	Log      utils.LogConfig `yaml:"log"`
	Secrets  SecretsConfig   `yaml:"secrets"`
}

type BinanceConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Testnet   bool   `yaml:"testnet"`
}

type WallexConfig struct {
	APIKey string `yaml:"api_key"`
}

type TelegramConfig struct {
	Token        string        `yaml:"token"`
	ChatID       string        `yaml:"chat_id"`
	Mode         string        `yaml:"mode"`
	PollInterval time.Duration `yaml:"poll_interval"`
	PollTimeout  time.Duration `yaml:"poll_timeout"`
}

type LedgerConfig struct {
	CSVPath   string `yaml:"csv_path"`
	SQLDriver string `yaml:"sql_driver"`
	SQLDSN    string `yaml:"sql_dsn"`
}

type HTTPConfig struct {
	Addr         string `yaml:"addr"`
	CommandToken string `yaml:"command_token"`
}

type SecretsConfig struct {
	Path string `yaml:"path"`
	Key  string `yaml:"key"`
}

// Default returns the configuration used for any field the file leaves out.
func Default() Config {
	return Config{
		Venue:               VenueBinance,
		Symbols:             []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT"},
		QuoteAsset:          "USDT",
		Timeframe:           "12h",
		K:                   0.5,
		Leverage:            1,
		AllowShort:          true,
		Lockout:             10 * time.Minute,
		MinOrderValue:       5,
		DustEpsilon:         0.00001,
		BalanceBuffer:       0.99,
		TickInterval:        time.Second,
		LockoutIdleInterval: 30 * time.Second,
		ErrorBackoff:        10 * time.Second,
		GatewayTimeout:      10 * time.Second,
		DisplayTimezone:     "Asia/Seoul",
		PaperBalance:        1000,
		Telegram: TelegramConfig{
			Mode:         TelegramPolling,
			PollInterval: time.Second,
		},
		Ledger: LedgerConfig{CSVPath: "trade_history.csv"},
		Log: utils.LogConfig{
			Level:      "info",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
		},
	}
}

// LoadDotEnv loads a .env file into the process environment. A missing file is
// not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return pkgerrors.Wrapf(godotenv.Load(path), "load %s", path)
}

// Load reads the YAML file at path over the defaults and applies environment
// overrides. An empty path uses defaults and environment only.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, pkgerrors.Wrap(err, "read config file")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, pkgerrors.Wrapf(ErrConfiguration, "parse %s: %v", path, err)
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	cfg.normalize()
	return cfg, nil
}

// ApplyEnv overrides credentials from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&c.Binance.APIKey, EnvBinanceKey)
	set(&c.Binance.APISecret, EnvBinanceSecret)
	set(&c.Wallex.APIKey, EnvWallexKey)
	set(&c.Telegram.Token, EnvTelegramToken)
	set(&c.Telegram.ChatID, EnvTelegramChat)
	set(&c.HTTP.CommandToken, EnvCommandToken)
	set(&c.Secrets.Key, EnvSecretKey)
}

// SecretSource is satisfied by secretstore.Store.
type SecretSource interface {
	GetString(key string) (string, bool, error)
}

// FillSecrets reads credentials still empty after file and environment from
// the secret store.
func (c *Config) FillSecrets(src SecretSource) error {
	fields := []struct {
		dst *string
		key string
	}{
		{&c.Binance.APIKey, EnvBinanceKey},
		{&c.Binance.APISecret, EnvBinanceSecret},
		{&c.Wallex.APIKey, EnvWallexKey},
		{&c.Telegram.Token, EnvTelegramToken},
		{&c.Telegram.ChatID, EnvTelegramChat},
		{&c.HTTP.CommandToken, EnvCommandToken},
	}
	for _, f := range fields {
		if *f.dst != "" {
			continue
		}
		v, ok, err := src.GetString(SecretPrefix + f.key)
		if err != nil {
			return pkgerrors.Wrapf(err, "secret %s", f.key)
		}
		if ok {
			*f.dst = v
		}
	}
	return nil
}

// Overrides are the command-line flags that win over file and environment.
type Overrides struct {
	DryRun bool
	Venue  string
}

func (c *Config) Apply(o Overrides) {
	if o.DryRun {
		c.DryRun = true
	}
	if o.Venue != "" {
		c.Venue = strings.ToLower(o.Venue)
	}
}

func (c *Config) normalize() {
	c.Venue = strings.ToLower(strings.TrimSpace(c.Venue))
	c.QuoteAsset = strings.ToUpper(strings.TrimSpace(c.QuoteAsset))
	c.Telegram.Mode = strings.ToLower(strings.TrimSpace(c.Telegram.Mode))
	for i, s := range c.Symbols {
		c.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}
}

// Period is the cycle length parsed from Timeframe.
func (c Config) Period() (time.Duration, error) {
	return tfutils.ParseTimeframe(c.Timeframe)
}

// Schedule builds the cycle scheduler. An invalid period or lockout is a
// configuration error.
func (c Config) Schedule() (*scheduler.Scheduler, error) {
	sched, err := c.schedule()
	if err != nil {
		return nil, &ValidationError{Problems: []string{err.Error()}}
	}
	return sched, nil
}

func (c Config) schedule() (*scheduler.Scheduler, error) {
	period, err := c.Period()
	if err != nil {
		return nil, err
	}
	return scheduler.New(period, c.Lockout)
}

// ShortsEnabled reports whether SHORT entries may be opened. Spot venues
// never short.
func (c Config) ShortsEnabled() bool {
	return c.AllowShort && c.Venue != VenueWallex
}

// Location resolves DisplayTimezone, falling back to UTC when empty.
func (c Config) Location() (*time.Location, error) {
	if c.DisplayTimezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.DisplayTimezone)
}

// Validate reports every problem at once. The returned error matches
// ErrConfiguration.
func (c Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if len(c.Symbols) == 0 {
		add("symbols is empty")
	}
	seen := make(map[string]bool, len(c.Symbols))
	for _, s := range c.Symbols {
		if s == "" {
			add("empty symbol")
			continue
		}
		if seen[s] {
			add("duplicate symbol %s", s)
		}
		seen[s] = true
	}
	if c.QuoteAsset == "" {
		add("quote_asset is empty")
	}
	if c.K <= 0 || c.K >= 1 {
		add("k must be in (0,1), got %g", c.K)
	}
	if c.Leverage < 1 {
		add("leverage must be at least 1, got %d", c.Leverage)
	}
	if c.MinOrderValue < 0 {
		add("min_order_value is negative")
	}
	if c.DustEpsilon < 0 {
		add("dust_epsilon is negative")
	}
	if c.BalanceBuffer <= 0 || c.BalanceBuffer > 1 {
		add("balance_buffer must be in (0,1], got %g", c.BalanceBuffer)
	}
	if c.TickInterval <= 0 || c.ErrorBackoff <= 0 || c.GatewayTimeout <= 0 || c.LockoutIdleInterval <= 0 {
		add("loop intervals and timeouts must be positive")
	}

	if !tfutils.IsValidTimeframe(c.Timeframe) {
		add("unsupported timeframe %q", c.Timeframe)
	} else if _, err := c.schedule(); err != nil {
		add("%v", err)
	}
	if _, err := c.Location(); err != nil {
		add("display_timezone: %v", err)
	}

	switch c.Venue {
	case VenueBinance:
		if !c.DryRun && (c.Binance.APIKey == "" || c.Binance.APISecret == "") {
			add("binance credentials missing")
		}
	case VenueWallex:
		if c.Leverage != 1 {
			add("wallex is a spot venue, leverage must be 1")
		}
		if !c.DryRun && c.Wallex.APIKey == "" {
			add("wallex api key missing")
		}
	default:
		add("unknown venue %q", c.Venue)
	}
	if c.DryRun && c.PaperBalance <= 0 {
		add("paper_balance must be positive in dry run")
	}

	if c.Telegram.Token != "" {
		if c.Telegram.ChatID == "" {
			add("telegram.chat_id is required when a token is set")
		}
		if !slices.Contains([]string{TelegramPolling, TelegramWebhook}, c.Telegram.Mode) {
			add("telegram.mode must be polling or webhook, got %q", c.Telegram.Mode)
		}
		if c.Telegram.Mode == TelegramWebhook && c.HTTP.Addr == "" {
			add("telegram webhook mode needs http.addr")
		}
	}

	if c.Ledger.SQLDriver != "" {
		if !slices.Contains([]string{"postgres", "sqlite"}, c.Ledger.SQLDriver) {
			add("ledger.sql_driver must be postgres or sqlite, got %q", c.Ledger.SQLDriver)
		}
		if c.Ledger.SQLDSN == "" {
			add("ledger.sql_dsn is required with sql_driver")
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
