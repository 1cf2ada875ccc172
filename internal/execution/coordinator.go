package execution

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kirillm/bitunix-signal-trader/internal/domain"
	"github.com/kirillm/bitunix-signal-trader/internal/exchange"
	"github.com/kirillm/bitunix-signal-trader/internal/risk"
	"github.com/kirillm/bitunix-signal-trader/pkg/utils"
)

const reconcileBatchLimit = 100

// Подряд идущие отказы авторизации, после которых поднимается kill switch
const authFailureLimit = 3

// Notifier получает уведомления об исходах исполнения
type Notifier interface {
	TradeExecuted(trade *domain.Trade)
	ExecutionFailed(signalID int64, symbol, reason string)
}

// pendingExecution состояние повторов между тиками в рамках одного процесса
type pendingExecution struct {
	attempts int
	amount   float64
	leverage int
}

// PipelineCounters счетчики исходов обработки с момента запуска процесса
type PipelineCounters struct {
	Processed int64 `json:"processed"`
	Executed  int64 `json:"executed"`
	Rejected  int64 `json:"rejected"`
	Failed    int64 `json:"failed"`
}

// Coordinator проводит сигнал от риск-оценки до терминального статуса.
// Переход в executing фиксируется атомарным compare-and-set до любого
// обращения к бирже, поэтому сигнал не исполняется дважды.
type Coordinator struct {
	gateway     exchange.Gateway
	engine      *risk.Engine
	signals     domain.SignalStore
	ledger      domain.TradeLedger
	account     domain.AccountMirror
	reserver    *BalanceReserver
	notifier    Notifier
	killSwitch  *KillSwitch
	tradingMode string
	maxAttempts int

	mu           sync.Mutex
	inflight     map[int64]pendingExecution
	counters     PipelineCounters
	authFailures int
}

func NewCoordinator(
	gateway exchange.Gateway,
	engine *risk.Engine,
	signals domain.SignalStore,
	ledger domain.TradeLedger,
	account domain.AccountMirror,
	tradingMode string,
	maxAttempts int,
) *Coordinator {
	return &Coordinator{
		gateway:     gateway,
		engine:      engine,
		signals:     signals,
		ledger:      ledger,
		account:     account,
		reserver:    NewBalanceReserver(),
		tradingMode: tradingMode,
		maxAttempts: maxAttempts,
		inflight:    make(map[int64]pendingExecution),
	}
}

// SetNotifier подключает получателя уведомлений, nil допустим
func (c *Coordinator) SetNotifier(n Notifier) {
	c.notifier = n
}

// SetKillSwitch подключает аварийную остановку, nil допустим.
// Серия отказов авторизации биржи активирует ее автоматически.
func (c *Coordinator) SetKillSwitch(ks *KillSwitch) {
	c.killSwitch = ks
}

// Counters возвращает накопленные счетчики исходов обработки
func (c *Coordinator) Counters() PipelineCounters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters
}

// BeginTick читает счет и дневную статистику ровно один раз на тик.
// Все риск-решения тика принимаются над этим консистентным снапшотом.
func (c *Coordinator) BeginTick(ctx context.Context) (*domain.AccountState, domain.DailyStats, error) {
	state, err := c.gateway.GetAccountState(ctx)
	if err != nil {
		return nil, domain.DailyStats{}, fmt.Errorf("account state: %w", err)
	}

	stats, err := c.ledger.GetTodayStats()
	if err != nil {
		return nil, domain.DailyStats{}, fmt.Errorf("%w: today stats: %v", domain.ErrTransientInfra, err)
	}

	state.TodaysTradeCount = stats.TradeCount
	state.TodaysRealizedLoss = stats.RealizedLoss
	c.reserver.BeginTick(state.AvailableBalance)

	if err := c.account.UpdateBalance(state.AvailableBalance); err != nil {
		utils.LogWarnf("⚠️ Failed to update balance mirror: %v", err)
	}
	return state, stats, nil
}

// Process обрабатывает один pending-сигнал. Транзиентные сбои до перехода
// в executing оставляют сигнал в pending для следующего тика.
func (c *Coordinator) Process(ctx context.Context, signal *domain.Signal, account *domain.AccountState, stats domain.DailyStats) {
	ok, err := c.signals.CompareAndSetStatus(signal.ID, domain.StatusPending, domain.StatusEvaluating)
	if err != nil {
		utils.LogWarnf("⚠️ Signal %d: pickup failed, stays pending: %v", signal.ID, err)
		return
	}
	if !ok {
		// сигнал уже забрал другой экземпляр пайплайна
		return
	}
	c.countProcessed()

	if err := domain.ValidateSignal(signal); err != nil {
		// битую строку записал внешний бот, повтор ее не исправит
		utils.LogWarnf("⚠️ Signal %d rejected by shape check: %v", signal.ID, err)
		c.fail(signal, domain.ErrorKindValidation, domain.ErrorKindValidation, 0)
		return
	}

	verdict := c.engine.Evaluate(signal, account, stats, time.Now())
	if !verdict.Accepted {
		c.reject(signal, verdict.Reason)
		return
	}

	if !c.reserver.Reserve(verdict.SizedAmount) {
		// параллельные исполнения этого тика уже заняли остаток снапшота
		c.reject(signal, domain.ReasonInsufficientBalance)
		return
	}

	ok, err = c.signals.CompareAndSetStatus(signal.ID, domain.StatusEvaluating, domain.StatusExecuting)
	if err != nil || !ok {
		c.reserver.Release(verdict.SizedAmount)
		if err != nil {
			utils.LogWarnf("⚠️ Signal %d: executing transition failed: %v", signal.ID, err)
		}
		return
	}

	c.rememberExecution(signal.ID, verdict.SizedAmount, verdict.Leverage)
	utils.LogInfof("🎯 Signal %d accepted: %s %s %.2f USDT at %dx",
		signal.ID, domain.SideForDirection(signal.Direction), signal.Symbol, verdict.SizedAmount, verdict.Leverage)

	c.execute(ctx, signal, verdict.SizedAmount, verdict.Leverage)
}

// RetryInFlight повторяет исполнения, оставшиеся в executing с прошлых
// тиков этого процесса. Вызывается в начале тика до подбора новых сигналов.
func (c *Coordinator) RetryInFlight(ctx context.Context) {
	for _, id := range c.inflightIDs() {
		c.retryOne(ctx, id)
	}
}

// ReconcileExecuting разбирает сигналы, оставшиеся в executing после
// рестарта процесса: найденный по clientId ордер финализируется,
// остальные возвращаются в pending на повторную оценку.
func (c *Coordinator) ReconcileExecuting(ctx context.Context) error {
	signals, err := c.signals.FetchByStatus(domain.StatusExecuting, reconcileBatchLimit)
	if err != nil {
		return fmt.Errorf("fetch executing signals: %w", err)
	}

	for i := range signals {
		signal := &signals[i]
		prior, err := c.gateway.GetOrderByClientID(ctx, exchange.ClientOrderID(signal.ID))
		if err == nil {
			utils.LogInfof("🔁 Signal %d: found order %s from previous run", signal.ID, prior.OrderID)
			c.finalize(signal, prior.SizeUSDT, c.engine.Limits().DefaultLeverage, prior)
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			utils.LogWarnf("⚠️ Signal %d: reconcile lookup failed, leaving executing: %v", signal.ID, err)
			continue
		}
		if ok, casErr := c.signals.CompareAndSetStatus(signal.ID, domain.StatusExecuting, domain.StatusPending); casErr == nil && ok {
			utils.LogInfof("↩️ Signal %d requeued after restart", signal.ID)
		}
	}
	return nil
}

// AbandonInFlight возвращает незавершенные исполнения в pending при
// остановке, чтобы каждый сигнал закончил прогон в однозначном состоянии.
// Детерминированный clientId и проверка ордера перед повтором гарантируют,
// что после рестарта дубль не возникнет.
func (c *Coordinator) AbandonInFlight() {
	for _, id := range c.inflightIDs() {
		ok, err := c.signals.CompareAndSetStatus(id, domain.StatusExecuting, domain.StatusPending)
		if err != nil {
			utils.LogWarnf("⚠️ Signal %d: failed to requeue on shutdown: %v", id, err)
			continue
		}
		if ok {
			utils.LogInfof("↩️ Signal %d requeued for next run", id)
		}
		c.forget(id)
	}
}

// InFlightCount возвращает число исполнений, ждущих повтора
func (c *Coordinator) InFlightCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

func (c *Coordinator) execute(ctx context.Context, signal *domain.Signal, amount float64, leverage int) {
	attempt := c.bumpAttempt(signal.ID)

	req := domain.OrderRequest{
		ClientOrderID: exchange.ClientOrderID(signal.ID),
		Symbol:        signal.Symbol,
		Side:          domain.SideForDirection(signal.Direction),
		AmountUSDT:    amount,
		Leverage:      leverage,
		TradingMode:   c.tradingMode,
	}

	result, err := c.gateway.PlaceOrder(ctx, req)
	if err != nil {
		c.handleFailure(signal, amount, attempt, err)
		return
	}
	c.finalize(signal, amount, leverage, result)
}

func (c *Coordinator) retryOne(ctx context.Context, id int64) {
	signal, err := c.signals.GetSignal(id)
	if err != nil {
		utils.LogWarnf("⚠️ Signal %d: retry lookup failed: %v", id, err)
		return
	}
	if signal.Status != domain.StatusExecuting {
		// статус увели извне, повтор не нужен
		c.forget(id)
		return
	}

	state, ok := c.executionState(id)
	if !ok {
		return
	}

	attempt := c.bumpAttempt(id)
	if attempt > c.maxAttempts {
		c.fail(signal, domain.ReasonExecutionExhausted, domain.ErrorKindExchangeUnavailable, attempt-1)
		return
	}

	// прошлая попытка могла исполниться, сначала ищем ордер по clientId
	prior, err := c.gateway.GetOrderByClientID(ctx, exchange.ClientOrderID(id))
	if err == nil {
		utils.LogInfof("✅ Signal %d: previous attempt was filled after all", id)
		c.finalize(signal, state.amount, state.leverage, prior)
		return
	}
	if !errors.Is(err, domain.ErrNotFound) {
		utils.LogWarnf("📡 Signal %d: order status still unknown (attempt %d/%d): %v", id, attempt, c.maxAttempts, err)
		return
	}

	if !c.reserver.Reserve(state.amount) {
		utils.LogWarnf("⚠️ Signal %d: retry deferred, snapshot balance already reserved", id)
		return
	}

	utils.LogInfof("🔁 Signal %d: retrying execution (attempt %d/%d)", id, attempt, c.maxAttempts)
	req := domain.OrderRequest{
		ClientOrderID: exchange.ClientOrderID(id),
		Symbol:        signal.Symbol,
		Side:          domain.SideForDirection(signal.Direction),
		AmountUSDT:    state.amount,
		Leverage:      state.leverage,
		TradingMode:   c.tradingMode,
	}

	result, err := c.gateway.PlaceOrder(ctx, req)
	if err != nil {
		c.handleFailure(signal, state.amount, attempt, err)
		return
	}
	c.finalize(signal, state.amount, state.leverage, result)
}

// handleFailure разводит исходы неудачного размещения: транзиентные ошибки
// оставляют сигнал в executing до исчерпания попыток, остальные терминальны
func (c *Coordinator) handleFailure(signal *domain.Signal, amount float64, attempt int, err error) {
	if domain.IsRetryableExchange(err) || domain.IsTransient(err) {
		if attempt < c.maxAttempts {
			// исход неизвестен, резерв не снимаем до конца тика
			utils.LogWarnf("📡 Signal %d: attempt %d/%d failed, will retry next tick: %v",
				signal.ID, attempt, c.maxAttempts, err)
			return
		}
		c.fail(signal, domain.ReasonExecutionExhausted, domain.ErrorKindExchangeUnavailable, attempt)
		c.reserver.Release(amount)
		return
	}

	if errors.Is(err, domain.ErrExchangeAuth) {
		c.noteAuthFailure()
	}

	c.fail(signal, errorKind(err), errorKind(err), attempt)
	c.reserver.Release(amount)
}

// finalize записывает подтвержденное исполнение: зеркало позиций, журнал
// сделок и терминальный статус executed
func (c *Coordinator) finalize(signal *domain.Signal, amount float64, leverage int, result *domain.OrderResult) {
	attempts := c.attemptCount(signal.ID)
	c.forget(signal.ID)

	pnl := c.applyPositionChange(result, leverage)

	trade := &domain.Trade{
		SignalID:      signal.ID,
		Symbol:        result.Symbol,
		Side:          result.Side,
		AmountUSDT:    result.SizeUSDT,
		Price:         result.Price,
		Fee:           result.Fee,
		RealizedPnL:   pnl,
		OrderID:       result.OrderID,
		ClientOrderID: result.ClientOrderID,
		TradingMode:   c.tradingMode,
		Leverage:      leverage,
		PaperTrade:    result.PaperTrade,
		CreatedAt:     result.ExecutedAt,
	}
	if err := c.ledger.RecordTrade(trade); err != nil {
		utils.LogErrorf("⛔ Signal %d: trade executed but ledger write failed: %v", signal.ID, err)
	}

	meta := domain.SignalMetadata{
		SizedAmount:   amount,
		OrderID:       result.OrderID,
		ClientOrderID: result.ClientOrderID,
		FilledPrice:   result.Price,
		Fee:           result.Fee,
		PaperTrade:    result.PaperTrade,
		Attempts:      attempts,
	}
	if err := c.signals.UpdateSignalStatus(signal.ID, domain.StatusExecuted, meta); err != nil {
		utils.LogErrorf("⛔ Signal %d: order filled but status update failed: %v", signal.ID, err)
	}

	c.reserver.Commit(amount)
	c.countExecuted()
	c.resetAuthFailures()

	mode := "LIVE"
	if result.PaperTrade {
		mode = "PAPER"
	}
	utils.LogInfof("✅ Signal %d executed [%s]: %s %.2f USDT %s @ %.4f, fee %.4f (order %s)",
		signal.ID, mode, result.Side, result.SizeUSDT, result.Symbol, result.Price, result.Fee, result.OrderID)

	if c.notifier != nil {
		c.notifier.TradeExecuted(trade)
	}
}

// applyPositionChange обновляет зеркало позиций и возвращает реализованный
// PnL, если исполнение закрыло встречную позицию
func (c *Coordinator) applyPositionChange(result *domain.OrderResult, leverage int) float64 {
	positions, err := c.account.GetOpenPositions()
	if err != nil {
		utils.LogWarnf("⚠️ Failed to read position mirror: %v", err)
		return 0
	}

	for i := range positions {
		p := &positions[i]
		if p.Symbol != result.Symbol {
			continue
		}
		if p.Side == result.Side {
			// наращивание: цена входа взвешивается по размерам
			total := p.Size + result.SizeUSDT
			p.EntryPrice = (p.EntryPrice*p.Size + result.Price*result.SizeUSDT) / total
			p.Size = total
			if err := c.account.UpsertPosition(p); err != nil {
				utils.LogWarnf("⚠️ Failed to update position mirror for %s: %v", p.Symbol, err)
			}
			return 0
		}

		// встречное исполнение закрывает позицию
		pnl := p.RealizedPnL(result.Price)
		if err := c.account.RemovePosition(p.Symbol); err != nil {
			utils.LogWarnf("⚠️ Failed to remove position mirror for %s: %v", p.Symbol, err)
		}
		return pnl
	}

	position := &domain.Position{
		Symbol:     result.Symbol,
		Side:       result.Side,
		Size:       result.SizeUSDT,
		EntryPrice: result.Price,
		Leverage:   leverage,
		OpenedAt:   result.ExecutedAt,
	}
	if err := c.account.UpsertPosition(position); err != nil {
		utils.LogWarnf("⚠️ Failed to save position mirror for %s: %v", result.Symbol, err)
	}
	return 0
}

func (c *Coordinator) reject(signal *domain.Signal, reason string) {
	meta := domain.SignalMetadata{Reason: reason}
	if err := c.signals.UpdateSignalStatus(signal.ID, domain.StatusRejected, meta); err != nil {
		// сигнал завис в evaluating, его вернет плановая уборка
		utils.LogWarnf("⚠️ Signal %d: failed to persist rejection: %v", signal.ID, err)
		return
	}
	c.countRejected()
	utils.LogInfof("⛔ Signal %d rejected: %s (%s %s, strength %.2f)",
		signal.ID, reason, signal.Direction, signal.Symbol, signal.Strength)
}

func (c *Coordinator) fail(signal *domain.Signal, reason, kind string, attempts int) {
	c.forget(signal.ID)

	meta := domain.SignalMetadata{Reason: reason, ErrorKind: kind, Attempts: attempts}
	if err := c.signals.UpdateSignalStatus(signal.ID, domain.StatusFailed, meta); err != nil {
		utils.LogErrorf("⛔ Signal %d: failed to persist failure: %v", signal.ID, err)
		return
	}
	c.countFailed()
	utils.LogErrorf("❌ Signal %d failed: %s (%s %s)", signal.ID, reason, signal.Direction, signal.Symbol)

	if c.notifier != nil {
		c.notifier.ExecutionFailed(signal.ID, signal.Symbol, reason)
	}
}

// errorKind переводит ошибку в метку таксономии для метаданных сигнала
func errorKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientBalance):
		return domain.ReasonInsufficientBalance
	case errors.Is(err, domain.ErrValidation):
		return domain.ErrorKindValidation
	case errors.Is(err, domain.ErrExchangeNonRetryable):
		return domain.ErrorKindExchangeRejected
	case errors.Is(err, domain.ErrExchangeRetryable), errors.Is(err, domain.ErrTransientInfra):
		return domain.ErrorKindExchangeUnavailable
	default:
		return domain.ErrorKindUnknown
	}
}

// noteAuthFailure считает подряд идущие отказы авторизации и на пороге
// поднимает kill switch: ключи отозваны, долбить биржу дальше бессмысленно
func (c *Coordinator) noteAuthFailure() {
	c.mu.Lock()
	c.authFailures++
	failures := c.authFailures
	c.mu.Unlock()

	if failures < authFailureLimit || c.killSwitch == nil {
		return
	}
	if !c.killSwitch.IsActive() {
		c.killSwitch.Activate(fmt.Sprintf("%d consecutive exchange auth failures", failures))
	}
}

func (c *Coordinator) resetAuthFailures() {
	c.mu.Lock()
	c.authFailures = 0
	c.mu.Unlock()
}

func (c *Coordinator) countProcessed() {
	c.mu.Lock()
	c.counters.Processed++
	c.mu.Unlock()
}

func (c *Coordinator) countExecuted() {
	c.mu.Lock()
	c.counters.Executed++
	c.mu.Unlock()
}

func (c *Coordinator) countRejected() {
	c.mu.Lock()
	c.counters.Rejected++
	c.mu.Unlock()
}

func (c *Coordinator) countFailed() {
	c.mu.Lock()
	c.counters.Failed++
	c.mu.Unlock()
}

func (c *Coordinator) rememberExecution(id int64, amount float64, leverage int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight[id] = pendingExecution{amount: amount, leverage: leverage}
}

func (c *Coordinator) bumpAttempt(id int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := c.inflight[id]
	state.attempts++
	c.inflight[id] = state
	return state.attempts
}

func (c *Coordinator) attemptCount(id int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight[id].attempts
}

func (c *Coordinator) executionState(id int64) (pendingExecution, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.inflight[id]
	return state, ok
}

func (c *Coordinator) forget(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, id)
}

func (c *Coordinator) inflightIDs() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]int64, 0, len(c.inflight))
	for id := range c.inflight {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
