package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kirillm/bitunix-signal-trader/internal/domain"
	"github.com/kirillm/bitunix-signal-trader/internal/exchange"
	"github.com/kirillm/bitunix-signal-trader/internal/execution"
	"github.com/kirillm/bitunix-signal-trader/pkg/utils"
)

// stuck-сигналы в evaluating возвращаются в pending после этого числа тиков
const staleEvaluatingTicks = 5

// Config параметры цикла опроса
type Config struct {
	CheckInterval  time.Duration
	HealthInterval time.Duration
	BatchLimit     int
	MaxConcurrent  int
	MaxSignalAge   time.Duration
	AutoTrading    bool
}

// Poller опрашивает таблицу сигналов и раздает работу координатору.
// Подбор идет строго от старых к новым, конкурентность ограничена
// семафором, при MaxConcurrent=1 обработка последовательная.
type Poller struct {
	cfg         Config
	signals     domain.SignalStore
	account     domain.AccountMirror
	gateway     exchange.Gateway
	coordinator *execution.Coordinator
	killSwitch  *execution.KillSwitch

	ticker     *time.Ticker
	stopChan   chan struct{}
	doneChan   chan struct{}
	isRunning  bool
	startedAt  time.Time
	lastHealth time.Time
}

func New(
	cfg Config,
	signals domain.SignalStore,
	account domain.AccountMirror,
	gateway exchange.Gateway,
	coordinator *execution.Coordinator,
	killSwitch *execution.KillSwitch,
) *Poller {
	return &Poller{
		cfg:         cfg,
		signals:     signals,
		account:     account,
		gateway:     gateway,
		coordinator: coordinator,
		killSwitch:  killSwitch,
		ticker:      time.NewTicker(cfg.CheckInterval),
		stopChan:    make(chan struct{}),
		doneChan:    make(chan struct{}),
	}
}

// Start разбирает хвосты прошлого запуска и запускает цикл опроса
func (p *Poller) Start(ctx context.Context) error {
	if p.isRunning {
		return fmt.Errorf("poller already running")
	}

	if err := p.coordinator.ReconcileExecuting(ctx); err != nil {
		utils.LogWarnf("⚠️ Reconcile on startup failed: %v", err)
	}

	p.isRunning = true
	p.startedAt = time.Now()
	utils.LogInfof("🚀 Poller started (interval: %v, batch: %d, auto-trading: %v)",
		p.cfg.CheckInterval, p.cfg.BatchLimit, p.cfg.AutoTrading)

	go p.run(ctx)

	return nil
}

// Stop дожидается конца текущего тика и возвращает незавершенные
// исполнения в pending
func (p *Poller) Stop() {
	if !p.isRunning {
		return
	}

	utils.LogInfo("🛑 Stopping poller...")
	close(p.stopChan)
	p.ticker.Stop()
	<-p.doneChan

	p.coordinator.AbandonInFlight()
	p.isRunning = false
	utils.LogInfo("✅ Poller stopped")
}

// IsRunning проверяет запущен ли цикл опроса
func (p *Poller) IsRunning() bool {
	return p.isRunning
}

// StartedAt возвращает момент запуска для расчета аптайма
func (p *Poller) StartedAt() time.Time {
	return p.startedAt
}

// run основной цикл опроса
func (p *Poller) run(ctx context.Context) {
	defer close(p.doneChan)

	// Первый тик сразу после старта
	p.runTick(ctx)

	for {
		select {
		case <-p.ticker.C:
			p.runTick(ctx)

		case <-p.stopChan:
			return

		case <-ctx.Done():
			return
		}
	}
}

// runTick выполняет один тик: уборка, повторы, подбор новых сигналов
func (p *Poller) runTick(ctx context.Context) {
	now := time.Now()
	p.sweep(now)
	p.coordinator.RetryInFlight(ctx)

	if p.lastHealth.IsZero() || now.Sub(p.lastHealth) >= p.cfg.HealthInterval {
		p.runHealthCheck(ctx)
		p.lastHealth = now
	}

	if p.killSwitch.IsActive() {
		utils.LogDebugf("⛔ Kill switch active, skipping signal pickup")
		return
	}

	if !p.cfg.AutoTrading {
		p.logIdleBacklog(now)
		return
	}

	account, stats, err := p.coordinator.BeginTick(ctx)
	if err != nil {
		utils.LogErrorf("❌ Tick aborted, account snapshot unavailable: %v", err)
		return
	}

	signals, err := p.signals.FetchPendingSignals(now, now.Add(-p.cfg.MaxSignalAge), p.cfg.BatchLimit)
	if err != nil {
		utils.LogErrorf("❌ Failed to fetch pending signals: %v", err)
		return
	}
	if len(signals) == 0 {
		utils.LogDebugf("📡 No pending signals")
		return
	}

	utils.LogInfof("📡 Found %d pending signals (balance: %.2f USDT, trades today: %d)",
		len(signals), account.AvailableBalance, stats.TradeCount)

	// Семафор ограничивает одновременные исполнения, захват слота в цикле
	// сохраняет порядок подбора от старых к новым
	maxConcurrent := p.cfg.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup

	for i := range signals {
		signal := signals[i]
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			p.coordinator.Process(ctx, &signal, account, stats)
		}()
	}
	wg.Wait()

	utils.LogInfof("📊 Tick complete: %d signals processed, %d awaiting retry",
		len(signals), p.coordinator.InFlightCount())
}

// sweep переводит просроченные pending в expired и возвращает в pending
// сигналы, зависшие в evaluating (или в устаревшем accepted) после сбоя
// между переходами статусов
func (p *Poller) sweep(now time.Time) {
	expired, err := p.signals.ExpirePendingSignals(now.Add(-p.cfg.MaxSignalAge))
	if err != nil {
		utils.LogWarnf("⚠️ Expiry sweep failed: %v", err)
	} else if expired > 0 {
		utils.LogInfof("🧹 Expired %d stale pending signals", expired)
	}

	cutoff := now.Add(-time.Duration(staleEvaluatingTicks) * p.cfg.CheckInterval)
	for _, status := range []string{domain.StatusEvaluating, domain.StatusAccepted} {
		requeued, err := p.signals.RequeueStaleSignals(status, cutoff)
		if err != nil {
			utils.LogWarnf("⚠️ Requeue sweep failed: %v", err)
		} else if requeued > 0 {
			utils.LogWarnf("🧹 Requeued %d signals stuck in %s", requeued, status)
		}
	}
}

// runHealthCheck сверяет зеркало счета с биржей и пишет heartbeat
func (p *Poller) runHealthCheck(ctx context.Context) {
	state, err := p.gateway.GetAccountState(ctx)
	if err != nil {
		utils.LogWarnf("🏥 Health check failed, exchange unreachable: %v", err)
		return
	}
	if err := p.account.UpdateBalance(state.AvailableBalance); err != nil {
		utils.LogWarnf("⚠️ Failed to update balance mirror: %v", err)
	}

	positions, err := p.gateway.GetOpenPositions(ctx)
	if err != nil {
		utils.LogWarnf("⚠️ Failed to fetch open positions: %v", err)
	} else {
		p.syncPositions(positions)
	}

	counters := p.coordinator.Counters()
	uptime := time.Since(p.startedAt).Round(time.Second)
	utils.LogInfof("🏥 Health: %s, balance %.2f USDT, %d positions, signals %d (✅ %d ⛔ %d ❌ %d), %d in-flight, uptime %v",
		p.gateway.Name(), state.AvailableBalance, len(positions),
		counters.Processed, counters.Executed, counters.Rejected, counters.Failed,
		p.coordinator.InFlightCount(), uptime)
}

// syncPositions приводит зеркало позиций к состоянию биржи
func (p *Poller) syncPositions(positions []domain.Position) {
	open := make(map[string]struct{}, len(positions))
	for i := range positions {
		open[positions[i].Symbol] = struct{}{}
		if err := p.account.UpsertPosition(&positions[i]); err != nil {
			utils.LogWarnf("⚠️ Failed to mirror position %s: %v", positions[i].Symbol, err)
		}
	}

	mirrored, err := p.account.GetOpenPositions()
	if err != nil {
		utils.LogWarnf("⚠️ Failed to read position mirror: %v", err)
		return
	}
	for i := range mirrored {
		if _, ok := open[mirrored[i].Symbol]; !ok {
			if err := p.account.RemovePosition(mirrored[i].Symbol); err != nil {
				utils.LogWarnf("⚠️ Failed to drop closed position %s: %v", mirrored[i].Symbol, err)
			}
		}
	}
}

// logIdleBacklog показывает размер очереди при выключенной автоторговле
func (p *Poller) logIdleBacklog(now time.Time) {
	signals, err := p.signals.FetchPendingSignals(now, now.Add(-p.cfg.MaxSignalAge), p.cfg.BatchLimit)
	if err != nil {
		utils.LogWarnf("⚠️ Failed to fetch pending signals: %v", err)
		return
	}
	if len(signals) > 0 {
		utils.LogInfof("ℹ️ Auto-trading disabled, %d pending signals left untouched", len(signals))
	}
}
