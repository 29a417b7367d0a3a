// Package config loads the run configuration from .env, environment
// variables, an optional config file and command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/mExOms/venueprobe/internal/scheduler"
	"github.com/mExOms/venueprobe/internal/supervisor"
	"github.com/mExOms/venueprobe/pkg/types"
)

// ErrHelp is returned when --help was requested.
var ErrHelp = pflag.ErrHelp

// LogConfig controls the log streams.
type LogConfig struct {
	Level      string
	Format     string
	ToFile     bool
	Dir        string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// NATSConfig enables the optional event fan-out when URL is set.
type NATSConfig struct {
	URL      string
	ClientID string
	Prefix   string
	Stream   string
	MaxAge   time.Duration
}

// PrecisionConfig is a venue's formatting table. A zero TickThreshold means
// a fixed tick of TickLow.
type PrecisionConfig struct {
	TickThreshold    decimal.Decimal
	TickHigh         decimal.Decimal
	TickLow          decimal.Decimal
	QuantityDecimals int32
	PriceDecimals    int32
	MinPriceDecimals int32
	MinQuantity      decimal.Decimal
}

// BinanceConfig configures both Binance transports.
type BinanceConfig struct {
	APIKey            string
	SecretKey         string
	Testnet           bool
	AccountMode       types.AccountMode
	EnableREST        bool
	EnableWS          bool
	BaseURL           string
	WSURL             string
	RequestsPerSecond float64
	Precision         PrecisionConfig
}

// BybitConfig configures the Bybit transport.
type BybitConfig struct {
	APIKey            string
	SecretKey         string
	Testnet           bool
	AccountMode       types.AccountMode
	BaseURL           string
	RequestsPerSecond float64
	Precision         PrecisionConfig
}

// HyperliquidConfig configures both Hyperliquid transports. WalletAddress is
// the account queried for open orders; PrivateKey signs actions and may
// belong to an API wallet of that account.
type HyperliquidConfig struct {
	WalletAddress     string
	PrivateKey        string
	Testnet           bool
	EnableREST        bool
	EnableWS          bool
	BaseURL           string
	WSURL             string
	Asset             string
	RequestsPerSecond float64
	Precision         PrecisionConfig
}

// Config is the complete run configuration.
type Config struct {
	Symbol       string
	OrderSize    decimal.Decimal
	MarketOffset decimal.Decimal
	CallTimeout  time.Duration

	NoFlicker      bool
	StatusAddr     string
	ReportSchedule string

	Scheduler   scheduler.Config
	Supervisor  supervisor.Config
	Log         LogConfig
	NATS        NATSConfig
	Binance     BinanceConfig
	Bybit       BybitConfig
	Hyperliquid HyperliquidConfig
}

// Load builds a Config from args (without the program name). A missing .env
// file is not an error.
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	flags := pflag.NewFlagSet("venueprobe", pflag.ContinueOnError)
	flags.Int("duration", 0, "test duration in seconds (default: run until interrupted)")
	flags.Bool("no-flicker", false, "refresh the live table slowly for terminals that flicker")
	flags.String("config", "", "path to an optional YAML config file")
	flags.String("mode", string(scheduler.ModeShared), "scheduler mode: shared or per-venue")
	flags.String("status-addr", "", "listen address of the status server, e.g. :9090")
	flags.String("symbol", "", "symbol to probe")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for flagName, key := range map[string]string{
		"duration":    "duration",
		"no-flicker":  "no_flicker",
		"mode":        "scheduler.mode",
		"status-addr": "status_addr",
		"symbol":      "symbol",
	} {
		if f := flags.Lookup(flagName); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", flagName, err)
			}
		}
	}

	if path, _ := flags.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg, err := build(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	sup := supervisor.DefaultConfig()
	sched := scheduler.DefaultConfig()

	v.SetDefault("symbol", "BTCUSDT")
	v.SetDefault("order_size", "0.0001")
	v.SetDefault("market_offset", "0.05")
	v.SetDefault("call_timeout", 10*time.Second)
	v.SetDefault("duration", 0)
	v.SetDefault("no_flicker", false)
	v.SetDefault("status_addr", "")
	v.SetDefault("report_schedule", "@every 1m")

	v.SetDefault("scheduler.mode", string(sched.Mode))
	v.SetDefault("scheduler.min_interval", sched.MinInterval)
	v.SetDefault("scheduler.max_interval", sched.MaxInterval)
	v.SetDefault("scheduler.market_weight", sched.MarketWeight)
	v.SetDefault("scheduler.order_weight", sched.OrderWeight)
	v.SetDefault("scheduler.seed", 0)
	v.SetDefault("scheduler.cleanup_timeout", sched.CleanupTimeout)

	v.SetDefault("supervisor.connect_attempts", sup.ConnectAttempts)
	v.SetDefault("supervisor.health_interval", sup.HealthInterval)
	v.SetDefault("supervisor.stale_after", sup.StaleAfter)
	v.SetDefault("supervisor.recover_after", sup.RecoverAfter)
	v.SetDefault("supervisor.probe_timeout", sup.ProbeTimeout)
	v.SetDefault("supervisor.dial_timeout", sup.DialTimeout)
	v.SetDefault("supervisor.operation_timeout", sup.OperationTimeout)
	v.SetDefault("supervisor.failure_threshold", sup.FailureThreshold)
	v.SetDefault("supervisor.operation_retries", sup.OperationRetries)
	v.SetDefault("supervisor.retry_pause", sup.RetryPause)
	v.SetDefault("supervisor.recovery_cooldown", sup.RecoveryCooldown)
	v.SetDefault("supervisor.max_reconnect_attempts", sup.MaxReconnectAttempts)
	v.SetDefault("supervisor.reconnect_base_delay", sup.ReconnectBaseDelay)
	v.SetDefault("supervisor.reconnect_max_delay", sup.ReconnectMaxDelay)
	v.SetDefault("supervisor.reconnect_jitter", sup.ReconnectJitter)
	v.SetDefault("supervisor.orphan_window", sup.OrphanWindow)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.to_file", true)
	v.SetDefault("log.dir", "logs")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 7)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.client_id", "venueprobe")
	v.SetDefault("nats.prefix", "latency")
	v.SetDefault("nats.stream", "")
	v.SetDefault("nats.max_age", 24*time.Hour)

	v.SetDefault("enable_rest_api", true)
	v.SetDefault("enable_websocket_api", true)

	v.SetDefault("binance.api_key", "")
	v.SetDefault("binance.secret_key", "")
	v.SetDefault("binance.testnet", false)
	v.SetDefault("binance.account_mode", string(types.AccountModeSpot))
	v.SetDefault("binance.base_url", "")
	v.SetDefault("binance.ws_url", "")
	v.SetDefault("binance.requests_per_second", 10)
	v.SetDefault("binance.tick_threshold", "1000")
	v.SetDefault("binance.tick_high", "0.10")
	v.SetDefault("binance.tick_low", "0.01")
	v.SetDefault("binance.quantity_precision", 6)
	v.SetDefault("binance.price_precision", 2)
	v.SetDefault("binance.min_price_decimals", 2)
	v.SetDefault("binance.min_quantity", "0.000001")

	v.SetDefault("bybit.api_key", "")
	v.SetDefault("bybit.secret_key", "")
	v.SetDefault("bybit.testnet", false)
	v.SetDefault("bybit.account_mode", string(types.AccountModeSpot))
	v.SetDefault("bybit.base_url", "")
	v.SetDefault("bybit.requests_per_second", 10)
	v.SetDefault("bybit.tick_threshold", "0")
	v.SetDefault("bybit.tick_high", "0.01")
	v.SetDefault("bybit.tick_low", "0.01")
	v.SetDefault("bybit.quantity_precision", 6)
	v.SetDefault("bybit.price_precision", 2)
	v.SetDefault("bybit.min_price_decimals", 2)
	v.SetDefault("bybit.min_quantity", "0.000001")

	// Env names: HYPERLIQUID_API_WALLET_ADDRESS and HYPERLIQUID_PRIVATE_KEY.
	v.SetDefault("hyperliquid.api_wallet_address", "")
	v.SetDefault("hyperliquid.private_key", "")
	v.SetDefault("hyperliquid.testnet", false)
	v.SetDefault("hyperliquid.base_url", "")
	v.SetDefault("hyperliquid.ws_url", "")
	v.SetDefault("hyperliquid.asset", "BTC")
	v.SetDefault("hyperliquid.requests_per_second", 10)
	v.SetDefault("hyperliquid.tick_threshold", "0")
	v.SetDefault("hyperliquid.tick_high", "1")
	v.SetDefault("hyperliquid.tick_low", "1")
	v.SetDefault("hyperliquid.quantity_precision", 5)
	v.SetDefault("hyperliquid.price_precision", 0)
	v.SetDefault("hyperliquid.min_price_decimals", 0)
	v.SetDefault("hyperliquid.min_quantity", "0.00001")
}

// build reads every key. Decimal parse failures are collected so the user
// sees them all at once.
func build(v *viper.Viper) (*Config, error) {
	var errs error
	dec := func(key string) decimal.Decimal {
		d, err := decimal.NewFromString(strings.TrimSpace(v.GetString(key)))
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return d
	}
	precision := func(prefix string) PrecisionConfig {
		return PrecisionConfig{
			TickThreshold:    dec(prefix + ".tick_threshold"),
			TickHigh:         dec(prefix + ".tick_high"),
			TickLow:          dec(prefix + ".tick_low"),
			QuantityDecimals: v.GetInt32(prefix + ".quantity_precision"),
			PriceDecimals:    v.GetInt32(prefix + ".price_precision"),
			MinPriceDecimals: v.GetInt32(prefix + ".min_price_decimals"),
			MinQuantity:      dec(prefix + ".min_quantity"),
		}
	}

	sup := supervisor.DefaultConfig()
	sup.ConnectAttempts = v.GetInt("supervisor.connect_attempts")
	sup.HealthInterval = v.GetDuration("supervisor.health_interval")
	sup.StaleAfter = v.GetDuration("supervisor.stale_after")
	sup.RecoverAfter = v.GetDuration("supervisor.recover_after")
	sup.ProbeTimeout = v.GetDuration("supervisor.probe_timeout")
	sup.DialTimeout = v.GetDuration("supervisor.dial_timeout")
	sup.OperationTimeout = v.GetDuration("supervisor.operation_timeout")
	sup.FailureThreshold = v.GetInt("supervisor.failure_threshold")
	sup.OperationRetries = v.GetInt("supervisor.operation_retries")
	sup.RetryPause = v.GetDuration("supervisor.retry_pause")
	sup.RecoveryCooldown = v.GetDuration("supervisor.recovery_cooldown")
	sup.MaxReconnectAttempts = v.GetInt("supervisor.max_reconnect_attempts")
	sup.ReconnectBaseDelay = v.GetDuration("supervisor.reconnect_base_delay")
	sup.ReconnectMaxDelay = v.GetDuration("supervisor.reconnect_max_delay")
	sup.ReconnectJitter = v.GetFloat64("supervisor.reconnect_jitter")
	sup.OrphanWindow = v.GetDuration("supervisor.orphan_window")

	sched := scheduler.DefaultConfig()
	sched.Mode = scheduler.Mode(v.GetString("scheduler.mode"))
	sched.Duration = time.Duration(v.GetInt("duration")) * time.Second
	sched.MinInterval = v.GetDuration("scheduler.min_interval")
	sched.MaxInterval = v.GetDuration("scheduler.max_interval")
	sched.MarketWeight = v.GetInt("scheduler.market_weight")
	sched.OrderWeight = v.GetInt("scheduler.order_weight")
	if seed := v.GetInt64("scheduler.seed"); seed != 0 {
		sched.Seed = seed
	}
	sched.CleanupTimeout = v.GetDuration("scheduler.cleanup_timeout")

	cfg := &Config{
		Symbol:         strings.ToUpper(strings.TrimSpace(v.GetString("symbol"))),
		OrderSize:      dec("order_size"),
		MarketOffset:   dec("market_offset"),
		CallTimeout:    v.GetDuration("call_timeout"),
		NoFlicker:      v.GetBool("no_flicker"),
		StatusAddr:     v.GetString("status_addr"),
		ReportSchedule: v.GetString("report_schedule"),
		Scheduler:      sched,
		Supervisor:     sup,
		Log: LogConfig{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			ToFile:     v.GetBool("log.to_file"),
			Dir:        v.GetString("log.dir"),
			MaxSizeMB:  v.GetInt("log.max_size_mb"),
			MaxBackups: v.GetInt("log.max_backups"),
			MaxAgeDays: v.GetInt("log.max_age_days"),
		},
		NATS: NATSConfig{
			URL:      v.GetString("nats.url"),
			ClientID: v.GetString("nats.client_id"),
			Prefix:   v.GetString("nats.prefix"),
			Stream:   v.GetString("nats.stream"),
			MaxAge:   v.GetDuration("nats.max_age"),
		},
		Binance: BinanceConfig{
			APIKey:            v.GetString("binance.api_key"),
			SecretKey:         v.GetString("binance.secret_key"),
			Testnet:           v.GetBool("binance.testnet"),
			AccountMode:       types.AccountMode(strings.ToLower(v.GetString("binance.account_mode"))),
			EnableREST:        v.GetBool("enable_rest_api"),
			EnableWS:          v.GetBool("enable_websocket_api"),
			BaseURL:           v.GetString("binance.base_url"),
			WSURL:             v.GetString("binance.ws_url"),
			RequestsPerSecond: v.GetFloat64("binance.requests_per_second"),
			Precision:         precision("binance"),
		},
		Bybit: BybitConfig{
			APIKey:            v.GetString("bybit.api_key"),
			SecretKey:         v.GetString("bybit.secret_key"),
			Testnet:           v.GetBool("bybit.testnet"),
			AccountMode:       types.AccountMode(strings.ToLower(v.GetString("bybit.account_mode"))),
			BaseURL:           v.GetString("bybit.base_url"),
			RequestsPerSecond: v.GetFloat64("bybit.requests_per_second"),
			Precision:         precision("bybit"),
		},
		Hyperliquid: HyperliquidConfig{
			WalletAddress:     strings.TrimSpace(v.GetString("hyperliquid.api_wallet_address")),
			PrivateKey:        strings.TrimSpace(v.GetString("hyperliquid.private_key")),
			Testnet:           v.GetBool("hyperliquid.testnet"),
			EnableREST:        v.GetBool("enable_rest_api"),
			EnableWS:          v.GetBool("enable_websocket_api"),
			BaseURL:           v.GetString("hyperliquid.base_url"),
			WSURL:             v.GetString("hyperliquid.ws_url"),
			Asset:             strings.ToUpper(strings.TrimSpace(v.GetString("hyperliquid.asset"))),
			RequestsPerSecond: v.GetFloat64("hyperliquid.requests_per_second"),
			Precision:         precision("hyperliquid"),
		},
	}
	if errs != nil {
		return nil, fmt.Errorf("invalid configuration: %w", errs)
	}
	return cfg, nil
}

// Validate checks value ranges. Missing credentials are not an error: the
// venue is simply left out.
func (c *Config) Validate() error {
	var errs error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Symbol != "", "symbol must not be empty")
	check(c.OrderSize.IsPositive(), "order_size must be positive")
	check(c.MarketOffset.GreaterThanOrEqual(decimal.Zero) && c.MarketOffset.LessThan(decimal.NewFromInt(1)),
		"market_offset must be in [0, 1)")
	check(c.Scheduler.Duration >= 0, "duration must not be negative")
	check(c.Scheduler.Mode == scheduler.ModeShared || c.Scheduler.Mode == scheduler.ModePerVenue,
		"unknown scheduler mode %q", c.Scheduler.Mode)
	check(c.Scheduler.MinInterval >= 0 && c.Scheduler.MaxInterval >= c.Scheduler.MinInterval,
		"scheduler intervals must satisfy 0 <= min <= max")
	check(c.Scheduler.MarketWeight >= 0 && c.Scheduler.OrderWeight >= 0 &&
		c.Scheduler.MarketWeight+c.Scheduler.OrderWeight > 0, "scheduler weights must be non-negative and not both zero")
	check(c.Supervisor.ConnectAttempts > 0, "supervisor.connect_attempts must be positive")
	check(c.Supervisor.OperationTimeout > 0, "supervisor.operation_timeout must be positive")
	check(c.Supervisor.HealthInterval > 0, "supervisor.health_interval must be positive")
	check(c.Supervisor.FailureThreshold > 0, "supervisor.failure_threshold must be positive")
	check(c.Supervisor.ReconnectJitter >= 0 && c.Supervisor.ReconnectJitter < 1,
		"supervisor.reconnect_jitter must be in [0, 1)")
	for name, mode := range map[string]types.AccountMode{"binance": c.Binance.AccountMode, "bybit": c.Bybit.AccountMode} {
		check(mode == types.AccountModeSpot || mode == types.AccountModeMargin,
			"%s.account_mode must be spot or margin, got %q", name, mode)
	}
	check(c.Log.Format == "json" || c.Log.Format == "text", "log.format must be json or text")
	if c.HasHyperliquidCredentials() {
		check(c.Hyperliquid.Asset != "", "hyperliquid.asset must not be empty")
		check(common.IsHexAddress(c.Hyperliquid.WalletAddress),
			"hyperliquid.api_wallet_address is not a hex address")
	}

	if errs != nil {
		return fmt.Errorf("invalid configuration: %w", errs)
	}
	return nil
}

// HasBinanceCredentials reports whether both Binance keys are set.
func (c *Config) HasBinanceCredentials() bool {
	return c.Binance.APIKey != "" && c.Binance.SecretKey != ""
}

// HasHyperliquidCredentials reports whether the wallet address and the
// private key are both set.
func (c *Config) HasHyperliquidCredentials() bool {
	return c.Hyperliquid.WalletAddress != "" && c.Hyperliquid.PrivateKey != ""
}

// HasBybitCredentials reports whether both Bybit keys are set.
func (c *Config) HasBybitCredentials() bool {
	return c.Bybit.APIKey != "" && c.Bybit.SecretKey != ""
}
