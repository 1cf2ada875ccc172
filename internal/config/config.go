package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/kirillm/bitunix-signal-trader/internal/domain"
)

// Config содержит все настройки приложения
type Config struct {
	Database DatabaseConfig
	Bitunix  BitunixConfig
	Risk     RiskConfig
	Poller   PollerConfig
	Telegram TelegramConfig
	APIPort  int
	LogLevel string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type BitunixConfig struct {
	APIKey               string
	APISecret            string
	BaseURL              string
	PriceFallbackEnabled bool   // подключать ли запасной источник цен
	PriceFallbackURL     string // публичный тикер Bybit
	RequestTimeout       time.Duration
	RetryAttempts        int
	RateLimitRPS         float64
	PaperTrading         bool
	TradingMode          string // "spot" or "futures"
}

// RiskConfig лимиты риск-менеджмента, передаются риск-движку как снапшот
type RiskConfig struct {
	MaxPositionSizeUsdt   float64
	MaxDailyTrades        int
	MinTradeAmount        float64
	DailyLossLimit        float64
	MaxPortfolioRisk      float64
	DefaultLeverage       int
	MinSignalStrength     float64
	MaxSignalAge          time.Duration
	CooldownBetweenTrades time.Duration
	TradeablePairs        []string
	ProfileName           string
	ProfilesFile          string
}

type PollerConfig struct {
	CheckInterval        time.Duration
	HealthInterval       time.Duration
	BatchLimit           int
	MaxConcurrent        int
	MaxExecutionAttempts int
	AutoTrading          bool
}

type TelegramConfig struct {
	BotToken string
	ChatID   int64
	AdminIDs string
}

// Load загружает конфигурацию из .env файла и переменных окружения
func Load() (*Config, error) {
	// Загружаем .env файл (если есть)
	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: .env file not found, using environment variables")
	}

	maxOpenConns, err := strconv.Atoi(getEnv("DB_MAX_OPEN_CONNS", "25"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_OPEN_CONNS: %w", err)
	}

	maxIdleConns, err := strconv.Atoi(getEnv("DB_MAX_IDLE_CONNS", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_IDLE_CONNS: %w", err)
	}

	connMaxLifetime, err := time.ParseDuration(getEnv("DB_CONN_MAX_LIFETIME", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_CONN_MAX_LIFETIME: %w", err)
	}

	requestTimeout, err := time.ParseDuration(getEnv("EXCHANGE_REQUEST_TIMEOUT", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid EXCHANGE_REQUEST_TIMEOUT: %w", err)
	}

	retryAttempts, err := strconv.Atoi(getEnv("EXCHANGE_RETRY_ATTEMPTS", "4"))
	if err != nil {
		return nil, fmt.Errorf("invalid EXCHANGE_RETRY_ATTEMPTS: %w", err)
	}

	rateLimitRPS, err := strconv.ParseFloat(getEnv("EXCHANGE_RATE_LIMIT_RPS", "5"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid EXCHANGE_RATE_LIMIT_RPS: %w", err)
	}

	paperTrading, err := strconv.ParseBool(getEnv("PAPER_TRADING", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid PAPER_TRADING: %w", err)
	}

	priceFallback, err := strconv.ParseBool(getEnv("PRICE_FALLBACK_ENABLED", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid PRICE_FALLBACK_ENABLED: %w", err)
	}

	maxPositionSize, err := strconv.ParseFloat(getEnv("MAX_POSITION_SIZE_USDT", "100.0"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_POSITION_SIZE_USDT: %w", err)
	}

	maxDailyTrades, err := strconv.Atoi(getEnv("MAX_DAILY_TRADES", "50"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_DAILY_TRADES: %w", err)
	}

	minTradeAmount, err := strconv.ParseFloat(getEnv("MIN_TRADE_AMOUNT", "15.0"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid MIN_TRADE_AMOUNT: %w", err)
	}

	dailyLossLimit, err := strconv.ParseFloat(getEnv("DAILY_LOSS_LIMIT", "200.0"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid DAILY_LOSS_LIMIT: %w", err)
	}

	maxPortfolioRisk, err := strconv.ParseFloat(getEnv("MAX_PORTFOLIO_RISK", "0.05"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_PORTFOLIO_RISK: %w", err)
	}

	defaultLeverage, err := strconv.Atoi(getEnv("DEFAULT_LEVERAGE", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_LEVERAGE: %w", err)
	}

	minSignalStrength, err := strconv.ParseFloat(getEnv("MIN_SIGNAL_STRENGTH", "0.6"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid MIN_SIGNAL_STRENGTH: %w", err)
	}

	maxSignalAgeMinutes, err := strconv.Atoi(getEnv("MAX_SIGNAL_AGE_MINUTES", "60"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_SIGNAL_AGE_MINUTES: %w", err)
	}

	cooldownSeconds, err := strconv.Atoi(getEnv("COOLDOWN_BETWEEN_TRADES_SECONDS", "30"))
	if err != nil {
		return nil, fmt.Errorf("invalid COOLDOWN_BETWEEN_TRADES_SECONDS: %w", err)
	}

	checkIntervalSeconds, err := strconv.Atoi(getEnv("SIGNAL_CHECK_INTERVAL_SECONDS", "15"))
	if err != nil {
		return nil, fmt.Errorf("invalid SIGNAL_CHECK_INTERVAL_SECONDS: %w", err)
	}

	healthIntervalSeconds, err := strconv.Atoi(getEnv("HEALTH_CHECK_INTERVAL_SECONDS", "300"))
	if err != nil {
		return nil, fmt.Errorf("invalid HEALTH_CHECK_INTERVAL_SECONDS: %w", err)
	}

	batchLimit, err := strconv.Atoi(getEnv("SIGNAL_BATCH_LIMIT", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid SIGNAL_BATCH_LIMIT: %w", err)
	}

	maxConcurrent, err := strconv.Atoi(getEnv("MAX_CONCURRENT_EXECUTIONS", "1"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_CONCURRENT_EXECUTIONS: %w", err)
	}

	maxExecAttempts, err := strconv.Atoi(getEnv("MAX_EXECUTION_ATTEMPTS", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_EXECUTION_ATTEMPTS: %w", err)
	}

	autoTrading, err := strconv.ParseBool(getEnv("AUTO_TRADING", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid AUTO_TRADING: %w", err)
	}

	chatID, err := strconv.ParseInt(getEnv("TELEGRAM_CHAT_ID", "0"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
	}

	apiPort, err := strconv.Atoi(getEnv("API_PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid API_PORT: %w", err)
	}

	config := &Config{
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxOpenConns:    maxOpenConns,
			MaxIdleConns:    maxIdleConns,
			ConnMaxLifetime: connMaxLifetime,
		},
		Bitunix: BitunixConfig{
			APIKey:               getEnv("BITUNIX_API_KEY", ""),
			APISecret:            getEnv("BITUNIX_API_SECRET", ""),
			BaseURL:              getEnv("BITUNIX_BASE_URL", "https://open-api.bitunix.com"),
			PriceFallbackEnabled: priceFallback,
			PriceFallbackURL:     getEnv("PRICE_FALLBACK_URL", "https://api.bybit.com"),
			RequestTimeout:       requestTimeout,
			RetryAttempts:        retryAttempts,
			RateLimitRPS:         rateLimitRPS,
			PaperTrading:         paperTrading,
			TradingMode:          getEnv("TRADING_MODE", domain.TradingModeSpot),
		},
		Risk: RiskConfig{
			MaxPositionSizeUsdt:   maxPositionSize,
			MaxDailyTrades:        maxDailyTrades,
			MinTradeAmount:        minTradeAmount,
			DailyLossLimit:        dailyLossLimit,
			MaxPortfolioRisk:      maxPortfolioRisk,
			DefaultLeverage:       defaultLeverage,
			MinSignalStrength:     minSignalStrength,
			MaxSignalAge:          time.Duration(maxSignalAgeMinutes) * time.Minute,
			CooldownBetweenTrades: time.Duration(cooldownSeconds) * time.Second,
			TradeablePairs:        splitPairs(getEnv("TRADEABLE_PAIRS", defaultPairs)),
			ProfileName:           getEnv("RISK_PROFILE", ""),
			ProfilesFile:          getEnv("RISK_PROFILES_FILE", "risk_profiles.yaml"),
		},
		Poller: PollerConfig{
			CheckInterval:        time.Duration(checkIntervalSeconds) * time.Second,
			HealthInterval:       time.Duration(healthIntervalSeconds) * time.Second,
			BatchLimit:           batchLimit,
			MaxConcurrent:        maxConcurrent,
			MaxExecutionAttempts: maxExecAttempts,
			AutoTrading:          autoTrading,
		},
		Telegram: TelegramConfig{
			BotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
			ChatID:   chatID,
			AdminIDs: getEnv("TELEGRAM_ADMIN_IDS", ""),
		},
		APIPort:  apiPort,
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

const defaultPairs = "BTCUSDT,ETHUSDT,ADAUSDT,DOGEUSDT,SOLUSDT,DOTUSDT,LINKUSDT,UNIUSDT," +
	"LTCUSDT,BCHUSDT,XLMUSDT,TRXUSDT,HBARUSDT,JTOUSDT,KASUSDT,ONDOUSDT"

// Validate проверяет обязательные поля конфигурации
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("%w: DATABASE_URL is required", domain.ErrFatalConfig)
	}
	if !c.Bitunix.PaperTrading {
		if c.Bitunix.APIKey == "" {
			return fmt.Errorf("%w: BITUNIX_API_KEY is required for live trading", domain.ErrFatalConfig)
		}
		if c.Bitunix.APISecret == "" {
			return fmt.Errorf("%w: BITUNIX_API_SECRET is required for live trading", domain.ErrFatalConfig)
		}
	}
	if c.Bitunix.TradingMode != domain.TradingModeSpot && c.Bitunix.TradingMode != domain.TradingModeFutures {
		return fmt.Errorf("%w: TRADING_MODE must be spot or futures, got %q", domain.ErrFatalConfig, c.Bitunix.TradingMode)
	}
	if c.Bitunix.RetryAttempts < 1 {
		return fmt.Errorf("%w: EXCHANGE_RETRY_ATTEMPTS must be positive", domain.ErrFatalConfig)
	}
	if c.Risk.MaxPortfolioRisk <= 0 || c.Risk.MaxPortfolioRisk > 1 {
		return fmt.Errorf("%w: MAX_PORTFOLIO_RISK must be in (0, 1]", domain.ErrFatalConfig)
	}
	if c.Risk.MinSignalStrength < 0 || c.Risk.MinSignalStrength > 1 {
		return fmt.Errorf("%w: MIN_SIGNAL_STRENGTH must be in [0, 1]", domain.ErrFatalConfig)
	}
	if c.Risk.MinTradeAmount <= 0 {
		return fmt.Errorf("%w: MIN_TRADE_AMOUNT must be positive", domain.ErrFatalConfig)
	}
	if c.Risk.DefaultLeverage < 1 {
		return fmt.Errorf("%w: DEFAULT_LEVERAGE must be at least 1", domain.ErrFatalConfig)
	}
	if len(c.Risk.TradeablePairs) == 0 {
		return fmt.Errorf("%w: TRADEABLE_PAIRS must not be empty", domain.ErrFatalConfig)
	}
	if c.Poller.CheckInterval <= 0 {
		return fmt.Errorf("%w: SIGNAL_CHECK_INTERVAL_SECONDS must be positive", domain.ErrFatalConfig)
	}
	if c.Poller.MaxConcurrent < 1 {
		return fmt.Errorf("%w: MAX_CONCURRENT_EXECUTIONS must be at least 1", domain.ErrFatalConfig)
	}
	if c.Poller.MaxExecutionAttempts < 1 {
		return fmt.Errorf("%w: MAX_EXECUTION_ATTEMPTS must be at least 1", domain.ErrFatalConfig)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// splitPairs разбирает список пар из env и нормализует формат символов
func splitPairs(raw string) []string {
	var pairs []string
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			pairs = append(pairs, NormalizeSymbol(p))
		}
	}
	return pairs
}

// NormalizeSymbol приводит символ к биржевому формату: BTC-USD и BTC-USDT -> BTCUSDT
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if strings.HasSuffix(s, "-USD") {
		return strings.TrimSuffix(s, "-USD") + "USDT"
	}
	return strings.ReplaceAll(s, "-", "")
}
