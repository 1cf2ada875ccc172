package config

import (
	"errors"
	"testing"
	"time"

	"github.com/kirillm/bitunix-signal-trader/internal/domain"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/trader?sslmode=disable")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if !cfg.Bitunix.PaperTrading {
		t.Error("Load() paperTrading = false, want true by default")
	}
	if cfg.Bitunix.TradingMode != domain.TradingModeSpot {
		t.Errorf("Load() tradingMode = %v, want spot", cfg.Bitunix.TradingMode)
	}
	if cfg.Bitunix.RetryAttempts != 4 {
		t.Errorf("Load() retryAttempts = %v, want 4", cfg.Bitunix.RetryAttempts)
	}
	if !cfg.Bitunix.PriceFallbackEnabled {
		t.Error("Load() priceFallbackEnabled = false, want true by default")
	}
	if cfg.Bitunix.PriceFallbackURL != "https://api.bybit.com" {
		t.Errorf("Load() priceFallbackURL = %v, want https://api.bybit.com", cfg.Bitunix.PriceFallbackURL)
	}
	if cfg.Poller.CheckInterval != 15*time.Second {
		t.Errorf("Load() checkInterval = %v, want 15s", cfg.Poller.CheckInterval)
	}
	if cfg.Poller.MaxConcurrent != 1 {
		t.Errorf("Load() maxConcurrent = %v, want 1", cfg.Poller.MaxConcurrent)
	}
	if cfg.Poller.AutoTrading {
		t.Error("Load() autoTrading = true, want false by default")
	}
	if cfg.Risk.MaxSignalAge != time.Hour {
		t.Errorf("Load() maxSignalAge = %v, want 1h", cfg.Risk.MaxSignalAge)
	}
	if cfg.Risk.CooldownBetweenTrades != 30*time.Second {
		t.Errorf("Load() cooldown = %v, want 30s", cfg.Risk.CooldownBetweenTrades)
	}
	if cfg.Risk.MinTradeAmount != 15.0 {
		t.Errorf("Load() minTradeAmount = %v, want 15.0", cfg.Risk.MinTradeAmount)
	}
	if len(cfg.Risk.TradeablePairs) != 16 {
		t.Errorf("Load() tradeablePairs = %d pairs, want 16", len(cfg.Risk.TradeablePairs))
	}
	if cfg.APIPort != 8080 {
		t.Errorf("Load() apiPort = %v, want 8080", cfg.APIPort)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Load() logLevel = %v, want info", cfg.LogLevel)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/trader?sslmode=disable")
	t.Setenv("PAPER_TRADING", "false")
	t.Setenv("BITUNIX_API_KEY", "key")
	t.Setenv("BITUNIX_API_SECRET", "secret")
	t.Setenv("TRADING_MODE", "futures")
	t.Setenv("MAX_SIGNAL_AGE_MINUTES", "5")
	t.Setenv("SIGNAL_CHECK_INTERVAL_SECONDS", "30")
	t.Setenv("TRADEABLE_PAIRS", "btc-usd, eth-usdt")
	t.Setenv("AUTO_TRADING", "true")
	t.Setenv("PRICE_FALLBACK_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Bitunix.PaperTrading {
		t.Error("Load() paperTrading = true, want false")
	}
	if cfg.Bitunix.TradingMode != domain.TradingModeFutures {
		t.Errorf("Load() tradingMode = %v, want futures", cfg.Bitunix.TradingMode)
	}
	if cfg.Risk.MaxSignalAge != 5*time.Minute {
		t.Errorf("Load() maxSignalAge = %v, want 5m", cfg.Risk.MaxSignalAge)
	}
	if cfg.Poller.CheckInterval != 30*time.Second {
		t.Errorf("Load() checkInterval = %v, want 30s", cfg.Poller.CheckInterval)
	}
	if !cfg.Poller.AutoTrading {
		t.Error("Load() autoTrading = false, want true")
	}
	if cfg.Bitunix.PriceFallbackEnabled {
		t.Error("Load() priceFallbackEnabled = true, want false")
	}

	wantPairs := []string{"BTCUSDT", "ETHUSDT"}
	if len(cfg.Risk.TradeablePairs) != len(wantPairs) {
		t.Fatalf("Load() tradeablePairs = %v, want %v", cfg.Risk.TradeablePairs, wantPairs)
	}
	for i, pair := range wantPairs {
		if cfg.Risk.TradeablePairs[i] != pair {
			t.Errorf("Load() tradeablePairs[%d] = %v, want %v", i, cfg.Risk.TradeablePairs[i], pair)
		}
	}
}

func TestLoad_MissingDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	if !errors.Is(err, domain.ErrFatalConfig) {
		t.Errorf("Load() error = %v, want ErrFatalConfig", err)
	}
}

func TestLoad_InvalidNumber(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/trader?sslmode=disable")
	t.Setenv("MAX_DAILY_TRADES", "plenty")

	if _, err := Load(); err == nil {
		t.Error("Load() error = nil, want parse error")
	}
}

func validConfig() *Config {
	return &Config{
		Database: DatabaseConfig{URL: "postgres://localhost:5432/trader"},
		Bitunix: BitunixConfig{
			BaseURL:       "https://open-api.bitunix.com",
			RetryAttempts: 3,
			PaperTrading:  true,
			TradingMode:   domain.TradingModeSpot,
		},
		Risk: RiskConfig{
			MaxPortfolioRisk:  0.05,
			MinSignalStrength: 0.6,
			MinTradeAmount:    15,
			DefaultLeverage:   3,
			TradeablePairs:    []string{"BTCUSDT"},
		},
		Poller: PollerConfig{
			CheckInterval:        15 * time.Second,
			MaxConcurrent:        1,
			MaxExecutionAttempts: 3,
		},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing database url", func(c *Config) { c.Database.URL = "" }, true},
		{"live trading without key", func(c *Config) { c.Bitunix.PaperTrading = false }, true},
		{"live trading with keys", func(c *Config) {
			c.Bitunix.PaperTrading = false
			c.Bitunix.APIKey = "key"
			c.Bitunix.APISecret = "secret"
		}, false},
		{"bad trading mode", func(c *Config) { c.Bitunix.TradingMode = "margin" }, true},
		{"zero retry attempts", func(c *Config) { c.Bitunix.RetryAttempts = 0 }, true},
		{"portfolio risk over 1", func(c *Config) { c.Risk.MaxPortfolioRisk = 1.5 }, true},
		{"portfolio risk zero", func(c *Config) { c.Risk.MaxPortfolioRisk = 0 }, true},
		{"signal strength over 1", func(c *Config) { c.Risk.MinSignalStrength = 1.2 }, true},
		{"negative min trade", func(c *Config) { c.Risk.MinTradeAmount = -1 }, true},
		{"zero leverage", func(c *Config) { c.Risk.DefaultLeverage = 0 }, true},
		{"no pairs", func(c *Config) { c.Risk.TradeablePairs = nil }, true},
		{"zero check interval", func(c *Config) { c.Poller.CheckInterval = 0 }, true},
		{"zero concurrency", func(c *Config) { c.Poller.MaxConcurrent = 0 }, true},
		{"zero execution attempts", func(c *Config) { c.Poller.MaxExecutionAttempts = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, domain.ErrFatalConfig) {
				t.Errorf("Validate() error = %v, want ErrFatalConfig", err)
			}
		})
	}
}

func TestNormalizeSymbol(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"coinbase style", "BTC-USD", "BTCUSDT"},
		{"dashed usdt", "ETH-USDT", "ETHUSDT"},
		{"already normalized", "SOLUSDT", "SOLUSDT"},
		{"lowercase", "btc-usd", "BTCUSDT"},
		{"with spaces", " doge-usd ", "DOGEUSDT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeSymbol(tt.input); got != tt.want {
				t.Errorf("NormalizeSymbol(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
