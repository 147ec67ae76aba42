package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Requote policies for the quoting loop.
const (
	RequoteInterval = "interval"
	RequoteBelowCap = "below_cap"
	RequoteEither   = "either"
)

// Config holds environment-driven settings for the market maker.
type Config struct {
	// Binance USDT-M futures
	Symbol           string
	BinanceTestnet   bool
	BinanceAPIKey    string
	BinanceAPISecret string
	RecvWindow       int64

	// Execution
	DryRun bool

	// Brackets
	TakeProfitPct float64 // fraction of fill price, e.g. 0.1 = 10%
	StopLossPct   float64

	// Quoting
	MaxRegularOrders  int
	QuoteAmount       float64
	QuoteSpreadPct    float64
	MaxPosition       float64
	QuotePollInterval time.Duration
	RequoteInterval   time.Duration
	RequotePolicy     string
	QuoteTimeInForce  string
	StrategyFile      string // optional YAML overriding quoting parameters

	// Streams
	KeepAliveInterval time.Duration
	StreamMaxRetries  int
	StreamRetryDelay  time.Duration

	// Shutdown
	FlattenOnShutdown bool
	ShutdownTimeout   time.Duration

	// Reconciliation
	ReconcileInterval time.Duration
	ReconcileGrace    time.Duration

	// Journal / status surface
	JournalPath string
	APIAddr     string

	// Logging
	LogLevel string
	LogFile  string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the bot still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		Symbol:            strings.ToUpper(getEnv("SYMBOL", "BTCUSDT")),
		BinanceTestnet:    getEnvBool("BINANCE_TESTNET", false),
		BinanceAPIKey:     os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret:  os.Getenv("BINANCE_API_SECRET"),
		RecvWindow:        int64(getEnvInt("BINANCE_RECV_WINDOW", 5000)),
		DryRun:            getEnvBool("DRY_RUN", false),
		TakeProfitPct:     getEnvFloat("TAKE_PROFIT_PCT", 0.1),
		StopLossPct:       getEnvFloat("STOP_LOSS_PCT", 0.1),
		MaxRegularOrders:  getEnvInt("MAX_REGULAR_ORDERS", 2),
		QuoteAmount:       getEnvFloat("QUOTE_AMOUNT", 0.001),
		QuoteSpreadPct:    getEnvFloat("QUOTE_SPREAD_PCT", 0.0005),
		MaxPosition:       getEnvFloat("MAX_POSITION", 0),
		QuotePollInterval: getEnvDuration("QUOTE_POLL_INTERVAL", time.Second),
		RequoteInterval:   getEnvDuration("QUOTE_REQUOTE_INTERVAL", 30*time.Second),
		RequotePolicy:     strings.ToLower(getEnv("QUOTE_REQUOTE_POLICY", RequoteInterval)),
		QuoteTimeInForce:  strings.ToUpper(getEnv("QUOTE_TIME_IN_FORCE", "GTX")),
		StrategyFile:      getEnv("STRATEGY_FILE", ""),
		KeepAliveInterval: getEnvDuration("KEEPALIVE_INTERVAL", 50*time.Minute),
		StreamMaxRetries:  getEnvInt("STREAM_MAX_RETRIES", 5),
		StreamRetryDelay:  getEnvDuration("STREAM_RETRY_DELAY", 2*time.Second),
		FlattenOnShutdown: getEnvBool("FLATTEN_ON_SHUTDOWN", false),
		ShutdownTimeout:   getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", 30*time.Second),
		ReconcileGrace:    getEnvDuration("RECONCILE_GRACE", 30*time.Second),
		JournalPath:       getEnv("JOURNAL_PATH", "./data/journal.db"),
		APIAddr:           getEnv("API_ADDR", ":8080"),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFile:           getEnv("LOG_FILE", ""),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the bot cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Symbol == "" {
		errs = append(errs, errors.New("SYMBOL is required"))
	}
	if !c.DryRun && (c.BinanceAPIKey == "" || c.BinanceAPISecret == "") {
		errs = append(errs, errors.New("BINANCE_API_KEY and BINANCE_API_SECRET are required unless DRY_RUN=true"))
	}
	if c.TakeProfitPct <= 0 || c.TakeProfitPct >= 1 {
		errs = append(errs, fmt.Errorf("TAKE_PROFIT_PCT must be in (0,1), got %v", c.TakeProfitPct))
	}
	if c.StopLossPct <= 0 || c.StopLossPct >= 1 {
		errs = append(errs, fmt.Errorf("STOP_LOSS_PCT must be in (0,1), got %v", c.StopLossPct))
	}
	if c.MaxRegularOrders < 2 {
		errs = append(errs, fmt.Errorf("MAX_REGULAR_ORDERS must be at least 2 (one bid, one ask), got %d", c.MaxRegularOrders))
	}
	if c.QuoteAmount <= 0 {
		errs = append(errs, fmt.Errorf("QUOTE_AMOUNT must be positive, got %v", c.QuoteAmount))
	}
	switch c.RequotePolicy {
	case RequoteInterval, RequoteBelowCap, RequoteEither:
	default:
		errs = append(errs, fmt.Errorf("QUOTE_REQUOTE_POLICY must be one of interval, below_cap, either; got %q", c.RequotePolicy))
	}
	if c.QuotePollInterval <= 0 {
		errs = append(errs, errors.New("QUOTE_POLL_INTERVAL must be positive"))
	}
	if c.KeepAliveInterval <= 0 {
		errs = append(errs, errors.New("KEEPALIVE_INTERVAL must be positive"))
	}
	if c.StreamMaxRetries < 0 {
		errs = append(errs, errors.New("STREAM_MAX_RETRIES must not be negative"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
