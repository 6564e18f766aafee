package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"quantbot/internal/adapters/logger"
	"quantbot/internal/domain"
)

// Strategy kinds selectable through STRATEGY_KIND.
const (
	StrategyKindBasic     = "basic"
	StrategyKindIndicator = "indicator"
	StrategyKindSignal    = "signal"
)

// Config holds all application configuration.
type Config struct {
	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool
	DryRun    bool // run against the simulated execution engine

	// Trading Parameters
	Pair          domain.CurrencyPair
	TradingDomain domain.StrategyDomain
	Direction     domain.PositionType
	Quantity      decimal.Decimal
	Leverage      int

	// Position Rules
	StopGainSet              bool
	StopGainPercentage       decimal.Decimal
	StopGainBouncePercentage decimal.Decimal
	StopLossSet              bool
	StopLossPercentage       decimal.Decimal

	// Strategy Parameters
	StrategyKind      string
	BarDurations      []time.Duration
	SeedHistory       time.Duration // aggregator warm-up lookback
	FastMAPeriod      int
	SlowMAPeriod      int
	RSIPeriod         int
	RSIOverbought     float64
	RSIOversold       float64
	SignalLifetime    time.Duration
	MaxOpenPositions  int
	MinimumAmount     decimal.Decimal
	InitialQuoteFunds decimal.Decimal // dry-run starting balance

	// Database
	DBPath string

	// Logging
	LogLevel logger.LogLevel
	LogJSON  bool

	// Polling and rate limiting
	TickerInterval    time.Duration
	OrderInterval     time.Duration
	RequestsPerSecond float64
	RequestBurst      int
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety
	cfg.DryRun = getEnvAsBool("DRY_RUN", true)

	if !cfg.DryRun {
		if cfg.APIKey == "" {
			errs = append(errs, "BINANCE_API_KEY must be set when DRY_RUN is false")
		}
		if cfg.SecretKey == "" {
			errs = append(errs, "BINANCE_API_SECRET must be set when DRY_RUN is false")
		}
	}

	// Trading Parameters
	pairStr := getEnv("PAIR", "ETH/USDT")
	cfg.Pair, err = domain.ParseCurrencyPair(pairStr)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid PAIR: %v", err))
	}

	switch strings.ToUpper(getEnv("TRADING_DOMAIN", "PERPETUAL")) {
	case string(domain.DomainSpot):
		cfg.TradingDomain = domain.DomainSpot
	case string(domain.DomainPerpetual):
		cfg.TradingDomain = domain.DomainPerpetual
	default:
		errs = append(errs, "TRADING_DOMAIN must be SPOT or PERPETUAL")
	}

	switch strings.ToUpper(getEnv("DIRECTION", "LONG")) {
	case string(domain.Long):
		cfg.Direction = domain.Long
	case string(domain.Short):
		cfg.Direction = domain.Short
	default:
		errs = append(errs, "DIRECTION must be LONG or SHORT")
	}

	cfg.Quantity, err = getEnvAsDecimal("QUANTITY", "1.0")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid QUANTITY: %v", err))
	} else if cfg.Quantity.Sign() <= 0 {
		errs = append(errs, "QUANTITY must be positive")
	}

	cfg.Leverage = getEnvAsInt("LEVERAGE", 4)
	if cfg.Leverage <= 0 {
		errs = append(errs, "LEVERAGE must be positive")
	}

	// Position Rules
	cfg.StopGainSet = getEnvAsBool("STOP_GAIN_SET", true)
	cfg.StopGainPercentage, err = getEnvAsDecimal("STOP_GAIN_PERCENTAGE", "1.0")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid STOP_GAIN_PERCENTAGE: %v", err))
	}
	cfg.StopGainBouncePercentage, err = getEnvAsDecimal("STOP_GAIN_BOUNCE_PERCENTAGE", "0")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid STOP_GAIN_BOUNCE_PERCENTAGE: %v", err))
	} else if cfg.StopGainBouncePercentage.Sign() < 0 {
		errs = append(errs, "STOP_GAIN_BOUNCE_PERCENTAGE cannot be negative")
	}
	cfg.StopLossSet = getEnvAsBool("STOP_LOSS_SET", true)
	cfg.StopLossPercentage, err = getEnvAsDecimal("STOP_LOSS_PERCENTAGE", "0.5")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid STOP_LOSS_PERCENTAGE: %v", err))
	}
	if cfg.StopGainSet && cfg.StopGainPercentage.Sign() <= 0 {
		errs = append(errs, "STOP_GAIN_PERCENTAGE must be positive when STOP_GAIN_SET is true")
	}
	if cfg.StopLossSet && cfg.StopLossPercentage.Sign() <= 0 {
		errs = append(errs, "STOP_LOSS_PERCENTAGE must be positive when STOP_LOSS_SET is true")
	}

	// Strategy Parameters
	cfg.StrategyKind = strings.ToLower(getEnv("STRATEGY_KIND", StrategyKindIndicator))
	switch cfg.StrategyKind {
	case StrategyKindBasic, StrategyKindIndicator, StrategyKindSignal:
	default:
		errs = append(errs, fmt.Sprintf("STRATEGY_KIND must be one of %s, %s, %s",
			StrategyKindBasic, StrategyKindIndicator, StrategyKindSignal))
	}

	cfg.BarDurations, err = getEnvAsDurations("BAR_DURATIONS", "1m")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid BAR_DURATIONS: %v", err))
	}
	cfg.SeedHistory = getEnvAsDuration("SEED_HISTORY", 12*time.Hour)
	if cfg.SeedHistory < 0 {
		errs = append(errs, "SEED_HISTORY cannot be negative")
	}

	cfg.FastMAPeriod = getEnvAsInt("FAST_MA_PERIOD", 20)
	cfg.SlowMAPeriod = getEnvAsInt("SLOW_MA_PERIOD", 50)
	cfg.RSIPeriod = getEnvAsInt("RSI_PERIOD", 14)
	cfg.RSIOverbought = getEnvAsFloat("RSI_OVERBOUGHT", 70.0)
	cfg.RSIOversold = getEnvAsFloat("RSI_OVERSOLD", 30.0)
	if cfg.FastMAPeriod <= 0 || cfg.SlowMAPeriod <= 0 || cfg.RSIPeriod <= 0 {
		errs = append(errs, "strategy periods (MA, RSI) must be positive")
	}
	if cfg.FastMAPeriod >= cfg.SlowMAPeriod {
		errs = append(errs, "FAST_MA_PERIOD must be less than SLOW_MA_PERIOD")
	}
	if cfg.RSIOverbought <= cfg.RSIOversold || cfg.RSIOverbought > 100 || cfg.RSIOversold < 0 {
		errs = append(errs, "invalid RSI thresholds (Overbought must be > Oversold, between 0-100)")
	}

	cfg.SignalLifetime = getEnvAsDuration("SIGNAL_LIFETIME", 5*time.Minute)
	if cfg.SignalLifetime <= 0 {
		errs = append(errs, "SIGNAL_LIFETIME must be positive")
	}

	cfg.MaxOpenPositions = getEnvAsInt("MAX_OPEN_POSITIONS", 20)
	if cfg.MaxOpenPositions <= 0 {
		errs = append(errs, "MAX_OPEN_POSITIONS must be positive")
	}
	cfg.MinimumAmount, err = getEnvAsDecimal("MINIMUM_AMOUNT", "0.000000001")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MINIMUM_AMOUNT: %v", err))
	}
	cfg.InitialQuoteFunds, err = getEnvAsDecimal("INITIAL_QUOTE_FUNDS", "10000")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid INITIAL_QUOTE_FUNDS: %v", err))
	}

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/quantbot.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))
	cfg.LogJSON = getEnvAsBool("LOG_JSON", false)

	// Polling and rate limiting
	cfg.TickerInterval = getEnvAsDuration("TICKER_INTERVAL", time.Second)
	if cfg.TickerInterval <= 0 {
		errs = append(errs, "TICKER_INTERVAL must be positive")
	}
	cfg.OrderInterval = getEnvAsDuration("ORDER_INTERVAL", 5*time.Second)
	if cfg.OrderInterval <= 0 {
		errs = append(errs, "ORDER_INTERVAL must be positive")
	}
	cfg.RequestsPerSecond = getEnvAsFloat("REQUESTS_PER_SECOND", 5)
	if cfg.RequestsPerSecond <= 0 {
		errs = append(errs, "REQUESTS_PER_SECOND must be positive")
	}
	cfg.RequestBurst = getEnvAsInt("REQUEST_BURST", 10)
	if cfg.RequestBurst <= 0 {
		errs = append(errs, "REQUEST_BURST must be positive")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDecimal(key, defaultValue string) (decimal.Decimal, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}
	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDurations parses a comma-separated duration list, e.g. "1m,5m,1h".
func getEnvAsDurations(key, defaultValue string) ([]time.Duration, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}
	parts := strings.Split(valueStr, ",")
	durations := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		d, err := time.ParseDuration(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid duration '%s' for key %s: %w", part, key, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("duration '%s' for key %s must be positive", part, key)
		}
		durations = append(durations, d)
	}
	return durations, nil
}
