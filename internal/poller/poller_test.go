package poller

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/kirillm/bitunix-signal-trader/internal/domain"
	"github.com/kirillm/bitunix-signal-trader/internal/execution"
	"github.com/kirillm/bitunix-signal-trader/internal/risk"
)

type fakeStore struct {
	mu      sync.Mutex
	signals map[int64]*domain.Signal
	meta    map[int64]domain.SignalMetadata
}

func newFakeStore(signals ...domain.Signal) *fakeStore {
	store := &fakeStore{
		signals: make(map[int64]*domain.Signal),
		meta:    make(map[int64]domain.SignalMetadata),
	}
	for i := range signals {
		s := signals[i]
		store.signals[s.ID] = &s
	}
	return store
}

func (f *fakeStore) FetchPendingSignals(olderThan, youngerThan time.Time, limit int) ([]domain.Signal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Signal
	for _, s := range f.signals {
		if s.Status != domain.StatusPending {
			continue
		}
		if s.CreatedAt.After(olderThan) || !s.CreatedAt.After(youngerThan) {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) UpdateSignalStatus(id int64, status string, meta domain.SignalMetadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.signals[id]; ok {
		s.Status = status
		s.StatusReason = meta.Reason
	}
	f.meta[id] = meta
	return nil
}

func (f *fakeStore) CompareAndSetStatus(id int64, expected, next string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.signals[id]
	if !ok || s.Status != expected {
		return false, nil
	}
	s.Status = next
	return true, nil
}

func (f *fakeStore) ExpirePendingSignals(cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var expired int64
	for _, s := range f.signals {
		if s.Status == domain.StatusPending && s.CreatedAt.Before(cutoff) {
			s.Status = domain.StatusExpired
			expired++
		}
	}
	return expired, nil
}

func (f *fakeStore) RequeueStaleSignals(fromStatus string, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var requeued int64
	for _, s := range f.signals {
		if s.Status == fromStatus && s.UpdatedAt.Before(cutoff) {
			s.Status = domain.StatusPending
			requeued++
		}
	}
	return requeued, nil
}

func (f *fakeStore) FetchByStatus(status string, limit int) ([]domain.Signal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Signal
	for _, s := range f.signals {
		if s.Status == status {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeStore) GetSignal(id int64) (*domain.Signal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.signals[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *s
	return &copied, nil
}

func (f *fakeStore) status(id int64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.signals[id]; ok {
		return s.Status
	}
	return ""
}

type fakeLedger struct{}

func (f *fakeLedger) RecordTrade(trade *domain.Trade) error { return nil }

func (f *fakeLedger) GetTodayStats() (domain.DailyStats, error) { return domain.DailyStats{}, nil }

func (f *fakeLedger) GetRecentTrades(limit int) ([]domain.Trade, error) { return nil, nil }

func (f *fakeLedger) GetTradingStats(days int) (domain.TradingStats, error) {
	return domain.TradingStats{}, nil
}

type fakeMirror struct {
	mu        sync.Mutex
	balance   float64
	positions map[string]domain.Position
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{positions: make(map[string]domain.Position)}
}

func (f *fakeMirror) GetAccountState() (*domain.AccountState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &domain.AccountState{AvailableBalance: f.balance}, nil
}

func (f *fakeMirror) UpdateBalance(available float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balance = available
	return nil
}

func (f *fakeMirror) UpsertPosition(position *domain.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions[position.Symbol] = *position
	return nil
}

func (f *fakeMirror) RemovePosition(symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.positions, symbol)
	return nil
}

func (f *fakeMirror) GetOpenPositions() ([]domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Position, 0, len(f.positions))
	for _, p := range f.positions {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeMirror) hasPosition(symbol string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.positions[symbol]
	return ok
}

type fakeGateway struct {
	mu         sync.Mutex
	balance    float64
	positions  []domain.Position
	placeErr   error
	placeCalls int
	lookupFill *domain.OrderResult
}

func (f *fakeGateway) Name() string { return "fake" }

func (f *fakeGateway) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placeCalls++
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	return &domain.OrderResult{
		OrderID:       fmt.Sprintf("ord-%d", f.placeCalls),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Price:         50000,
		SizeUSDT:      req.AmountUSDT,
		Fee:           req.AmountUSDT * 0.001,
		ExecutedAt:    time.Now(),
	}, nil
}

func (f *fakeGateway) GetAccountState(ctx context.Context) (*domain.AccountState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &domain.AccountState{AvailableBalance: f.balance}, nil
}

func (f *fakeGateway) GetOpenPositions(ctx context.Context) ([]domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Position(nil), f.positions...), nil
}

func (f *fakeGateway) GetOrderByClientID(ctx context.Context, clientOrderID string) (*domain.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupFill != nil {
		fill := *f.lookupFill
		return &fill, nil
	}
	return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, clientOrderID)
}

func (f *fakeGateway) orders() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.placeCalls
}

func testConfig() Config {
	return Config{
		CheckInterval:  time.Hour,
		HealthInterval: time.Hour,
		BatchLimit:     10,
		MaxConcurrent:  1,
		MaxSignalAge:   5 * time.Minute,
		AutoTrading:    true,
	}
}

func testLimits() risk.Limits {
	return risk.Limits{
		MaxPositionSizeUsdt: 100,
		MaxDailyTrades:      10,
		MinTradeAmount:      10,
		DailyLossLimit:      50,
		MaxPortfolioRisk:    0.02,
		DefaultLeverage:     2,
		MinSignalStrength:   0.6,
		MaxSignalAge:        5 * time.Minute,
		TradeablePairs:      []string{"BTCUSDT", "ETHUSDT"},
	}
}

func freshSignal(id int64) domain.Signal {
	return domain.Signal{
		ID:        id,
		Symbol:    "BTCUSDT",
		Direction: domain.DirectionLong,
		Strength:  0.9,
		Status:    domain.StatusPending,
		CreatedAt: time.Now().Add(-time.Minute),
	}
}

type pollerFixture struct {
	poller     *Poller
	store      *fakeStore
	mirror     *fakeMirror
	gateway    *fakeGateway
	killSwitch *execution.KillSwitch
}

func newPollerFixture(cfg Config, signals ...domain.Signal) *pollerFixture {
	store := newFakeStore(signals...)
	mirror := newFakeMirror()
	gateway := &fakeGateway{balance: 1000}
	killSwitch := execution.NewKillSwitch()
	coordinator := execution.NewCoordinator(
		gateway, risk.NewEngine(testLimits()),
		store, &fakeLedger{}, mirror,
		domain.TradingModeSpot, 3,
	)

	return &pollerFixture{
		poller:     New(cfg, store, mirror, gateway, coordinator, killSwitch),
		store:      store,
		mirror:     mirror,
		gateway:    gateway,
		killSwitch: killSwitch,
	}
}

// Stop дожидается конца первого тика, который run выполняет до select,
// поэтому Start+Stop детерминированно прогоняет ровно один тик
func runOneTick(t *testing.T, p *Poller) {
	t.Helper()
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	p.Stop()
}

func TestPoller_ProcessesPendingSignal(t *testing.T) {
	fx := newPollerFixture(testConfig(), freshSignal(1))

	if err := fx.poller.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !fx.poller.IsRunning() {
		t.Error("IsRunning() = false after Start()")
	}
	if fx.poller.StartedAt().IsZero() {
		t.Error("StartedAt() is zero after Start()")
	}

	fx.poller.Stop()
	if fx.poller.IsRunning() {
		t.Error("IsRunning() = true after Stop()")
	}

	if got := fx.store.status(1); got != domain.StatusExecuted {
		t.Errorf("signal status = %v, want executed", got)
	}
	if fx.gateway.orders() != 1 {
		t.Errorf("gateway orders = %d, want 1", fx.gateway.orders())
	}
}

func TestPoller_StartTwice(t *testing.T) {
	fx := newPollerFixture(testConfig())

	if err := fx.poller.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := fx.poller.Start(context.Background()); err == nil {
		t.Error("Start() second call error = nil, want error")
	}
	fx.poller.Stop()

	// Повторный Stop безопасен
	fx.poller.Stop()
}

// Просроченные pending уходят в expired до подбора, биржа не вызывается
func TestPoller_ExpiresStaleSignals(t *testing.T) {
	stale := freshSignal(1)
	stale.CreatedAt = time.Now().Add(-2 * time.Hour)
	fx := newPollerFixture(testConfig(), stale)

	runOneTick(t, fx.poller)

	if got := fx.store.status(1); got != domain.StatusExpired {
		t.Errorf("signal status = %v, want expired", got)
	}
	if fx.gateway.orders() != 0 {
		t.Errorf("gateway orders = %d, want 0", fx.gateway.orders())
	}
}

// Сигналы, зависшие в evaluating или в устаревшем accepted, возвращаются
// в pending и подбираются в том же тике
func TestPoller_RequeuesStuckSignals(t *testing.T) {
	stuck := freshSignal(1)
	stuck.Status = domain.StatusEvaluating
	stuck.UpdatedAt = time.Now().Add(-6 * time.Hour)

	legacy := freshSignal(2)
	legacy.Status = domain.StatusAccepted
	legacy.UpdatedAt = time.Now().Add(-6 * time.Hour)

	fx := newPollerFixture(testConfig(), stuck, legacy)

	runOneTick(t, fx.poller)

	if got := fx.store.status(1); got != domain.StatusExecuted {
		t.Errorf("evaluating signal status = %v, want executed after requeue", got)
	}
	if got := fx.store.status(2); got != domain.StatusExecuted {
		t.Errorf("accepted signal status = %v, want executed after requeue", got)
	}
	if fx.gateway.orders() != 2 {
		t.Errorf("gateway orders = %d, want 2", fx.gateway.orders())
	}
}

func TestPoller_KillSwitchBlocksPickup(t *testing.T) {
	fx := newPollerFixture(testConfig(), freshSignal(1))
	fx.killSwitch.Activate("manual pause")

	runOneTick(t, fx.poller)

	if got := fx.store.status(1); got != domain.StatusPending {
		t.Errorf("signal status = %v, want pending while kill switch active", got)
	}
	if fx.gateway.orders() != 0 {
		t.Errorf("gateway orders = %d, want 0", fx.gateway.orders())
	}
}

func TestPoller_AutoTradingDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.AutoTrading = false
	fx := newPollerFixture(cfg, freshSignal(1))

	runOneTick(t, fx.poller)

	if got := fx.store.status(1); got != domain.StatusPending {
		t.Errorf("signal status = %v, want pending with auto-trading off", got)
	}
	if fx.gateway.orders() != 0 {
		t.Errorf("gateway orders = %d, want 0", fx.gateway.orders())
	}
}

// Рестарт: сигнал завис в executing, ордер нашелся на бирже
func TestPoller_ReconcilesOnStart(t *testing.T) {
	stuck := freshSignal(7)
	stuck.Status = domain.StatusExecuting
	fx := newPollerFixture(testConfig(), stuck)
	fx.gateway.lookupFill = &domain.OrderResult{
		OrderID:       "ord-lost",
		ClientOrderID: "client-7",
		Symbol:        "BTCUSDT",
		Side:          domain.SideBuy,
		Price:         50000,
		SizeUSDT:      20,
		Fee:           0.02,
		ExecutedAt:    time.Now(),
	}

	runOneTick(t, fx.poller)

	if got := fx.store.status(7); got != domain.StatusExecuted {
		t.Errorf("signal status = %v, want executed after reconcile", got)
	}
}

func TestPoller_StopRequeuesInFlight(t *testing.T) {
	fx := newPollerFixture(testConfig(), freshSignal(1))
	fx.gateway.placeErr = fmt.Errorf("%w: HTTP 503", domain.ErrExchangeRetryable)

	runOneTick(t, fx.poller)

	if got := fx.store.status(1); got != domain.StatusPending {
		t.Errorf("signal status = %v, want pending after shutdown requeue", got)
	}
}

// Health-цикл приводит зеркало позиций к состоянию биржи
func TestPoller_HealthCheckSyncsMirror(t *testing.T) {
	cfg := testConfig()
	cfg.AutoTrading = false
	fx := newPollerFixture(cfg)

	fx.gateway.positions = []domain.Position{
		{Symbol: "BTCUSDT", Side: domain.SideBuy, Size: 20, EntryPrice: 50000},
	}
	// В зеркале осталась закрытая на бирже позиция
	fx.mirror.UpsertPosition(&domain.Position{Symbol: "ETHUSDT", Side: domain.SideBuy, Size: 15, EntryPrice: 3000})

	runOneTick(t, fx.poller)

	if !fx.mirror.hasPosition("BTCUSDT") {
		t.Error("mirror missing BTCUSDT position after health sync")
	}
	if fx.mirror.hasPosition("ETHUSDT") {
		t.Error("mirror kept ETHUSDT position closed on the exchange")
	}
	if fx.mirror.balance != 1000 {
		t.Errorf("mirror balance = %v, want 1000 from health check", fx.mirror.balance)
	}
}
