package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillm/bitunix-signal-trader/internal/api"
	"github.com/kirillm/bitunix-signal-trader/internal/config"
	"github.com/kirillm/bitunix-signal-trader/internal/domain"
	"github.com/kirillm/bitunix-signal-trader/internal/exchange"
	"github.com/kirillm/bitunix-signal-trader/internal/execution"
	"github.com/kirillm/bitunix-signal-trader/internal/poller"
	"github.com/kirillm/bitunix-signal-trader/internal/risk"
	"github.com/kirillm/bitunix-signal-trader/internal/storage"
	"github.com/kirillm/bitunix-signal-trader/internal/telegram"
	"github.com/kirillm/bitunix-signal-trader/pkg/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	utils.SetDefaultLogger(utils.NewLogger(cfg.LogLevel))
	utils.LogInfof("🚀 Bitunix signal trader starting (mode: %s, paper: %v)",
		cfg.Bitunix.TradingMode, cfg.Bitunix.PaperTrading)

	store, err := storage.NewPostgresStorage(
		cfg.Database.URL,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
		cfg.Database.ConnMaxLifetime,
	)
	if err != nil {
		log.Fatalf("❌ Failed to init storage: %v", err)
	}
	defer store.Close()
	utils.LogInfo("✅ Database connected, migrations applied")

	gateway := buildGateway(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// В paper-режиме проверять нечего: баланс симулятора локальный
	if !cfg.Bitunix.PaperTrading {
		probeGateway(ctx, gateway)
	}

	limits := buildLimits(cfg)
	utils.LogInfof("📋 Limits: position %.2f USDT, min trade %.2f, daily trades %d, daily loss %.2f, %d pairs",
		limits.MaxPositionSizeUsdt, limits.MinTradeAmount, limits.MaxDailyTrades,
		limits.DailyLossLimit, len(limits.TradeablePairs))

	engine := risk.NewEngine(limits)

	killSwitch := execution.NewKillSwitch()
	killSwitch.SetJournal(store)
	killSwitch.Restore()

	coordinator := execution.NewCoordinator(
		gateway, engine,
		store, store, store,
		cfg.Bitunix.TradingMode,
		cfg.Poller.MaxExecutionAttempts,
	)
	coordinator.SetKillSwitch(killSwitch)

	p := poller.New(poller.Config{
		CheckInterval:  cfg.Poller.CheckInterval,
		HealthInterval: cfg.Poller.HealthInterval,
		BatchLimit:     cfg.Poller.BatchLimit,
		MaxConcurrent:  cfg.Poller.MaxConcurrent,
		MaxSignalAge:   cfg.Risk.MaxSignalAge,
		AutoTrading:    cfg.Poller.AutoTrading,
	}, store, store, gateway, coordinator, killSwitch)

	var bot *telegram.Bot
	if cfg.Telegram.BotToken != "" {
		bot, err = telegram.NewBot(
			cfg.Telegram.BotToken,
			cfg.Telegram.ChatID,
			cfg.Telegram.AdminIDs,
			store, store,
			killSwitch, coordinator, p,
			gateway.Name(),
			cfg.Poller.AutoTrading,
		)
		if err != nil {
			utils.LogWarnf("⚠️ Telegram notifications disabled: %v", err)
			bot = nil
		} else {
			coordinator.SetNotifier(bot)
			go bot.Start()
		}
	}

	var server *api.Server
	if cfg.APIPort > 0 {
		server = api.NewServer(
			store.DB(),
			store, store, store,
			killSwitch, coordinator, p,
			gateway.Name(),
			cfg.Bitunix.TradingMode,
			cfg.Poller.AutoTrading,
			cfg.APIPort,
		)
		go func() {
			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("❌ HTTP server error: %v", err)
			}
		}()
	} else {
		utils.LogInfo("ℹ️ HTTP server disabled (API_PORT=0)")
	}

	if err := p.Start(ctx); err != nil {
		log.Fatalf("❌ Failed to start poller: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	utils.LogInfo("🛑 Shutdown signal received")

	p.Stop()
	if bot != nil {
		bot.Stop()
	}

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Stop(shutdownCtx); err != nil {
			utils.LogWarnf("⚠️ HTTP server shutdown: %v", err)
		}
	}

	utils.LogInfo("✅ Shutdown complete")
}

// buildGateway собирает шлюз исполнения: подписанный клиент Bitunix для
// live-режима или paper-симулятор поверх публичных цен Bitunix
func buildGateway(cfg *config.Config) exchange.Gateway {
	client := exchange.NewBitunixClient(
		cfg.Bitunix.APIKey,
		cfg.Bitunix.APISecret,
		cfg.Bitunix.BaseURL,
		cfg.Bitunix.RequestTimeout,
		cfg.Bitunix.RetryAttempts,
		cfg.Bitunix.RateLimitRPS,
		cfg.Bitunix.TradingMode,
	)

	if !cfg.Bitunix.PaperTrading {
		utils.LogInfo("📡 LIVE trading gateway: Bitunix")
		return client
	}

	// Публичный тикер не требует подписи, запасной источник и кэш
	// смягчают его недоступность
	prices := exchange.NewPriceFailover(client)
	if cfg.Bitunix.PriceFallbackEnabled {
		prices.AddFallbackSource(exchange.NewBybitTicker(cfg.Bitunix.PriceFallbackURL, cfg.Bitunix.RequestTimeout))
	}
	utils.LogInfof("📝 PAPER trading gateway (starting balance: %.2f USDT)", exchange.DefaultPaperBalance)
	return exchange.NewPaperGateway(prices, exchange.DefaultPaperBalance, cfg.Bitunix.TradingMode)
}

// buildLimits собирает лимиты риск-движка из окружения и, если задан
// профиль, накладывает его поверх
func buildLimits(cfg *config.Config) risk.Limits {
	limits := risk.Limits{
		MaxPositionSizeUsdt:   cfg.Risk.MaxPositionSizeUsdt,
		MaxDailyTrades:        cfg.Risk.MaxDailyTrades,
		MinTradeAmount:        cfg.Risk.MinTradeAmount,
		DailyLossLimit:        cfg.Risk.DailyLossLimit,
		MaxPortfolioRisk:      cfg.Risk.MaxPortfolioRisk,
		DefaultLeverage:       cfg.Risk.DefaultLeverage,
		MinSignalStrength:     cfg.Risk.MinSignalStrength,
		MaxSignalAge:          cfg.Risk.MaxSignalAge,
		CooldownBetweenTrades: cfg.Risk.CooldownBetweenTrades,
		TradeablePairs:        cfg.Risk.TradeablePairs,
	}

	if cfg.Risk.ProfileName != "" {
		profile, err := risk.LoadProfile(cfg.Risk.ProfilesFile, cfg.Risk.ProfileName)
		if err != nil {
			log.Fatalf("❌ Failed to load risk profile: %v", err)
		}
		profile.Apply(&limits)
		utils.LogInfof("📋 Risk profile %q applied", cfg.Risk.ProfileName)
	}

	return limits
}

// probeGateway проверяет доступность биржи на старте. Ошибка авторизации
// фатальна, транзиентную недоступность оставляем health-циклу.
func probeGateway(ctx context.Context, gateway exchange.Gateway) {
	probeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	state, err := gateway.GetAccountState(probeCtx)
	if err != nil {
		if domain.IsRetryableExchange(err) || domain.IsTransient(err) {
			utils.LogWarnf("⚠️ Exchange unreachable at startup, will keep retrying: %v", err)
			return
		}
		log.Fatalf("❌ Exchange probe failed: %v", err)
	}
	utils.LogInfof("✅ Exchange reachable via %s, balance: %.2f USDT", gateway.Name(), state.AvailableBalance)
}
