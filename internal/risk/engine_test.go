package risk

import (
	"testing"
	"time"

	"github.com/kirillm/bitunix-signal-trader/internal/domain"
)

func testLimits() Limits {
	return Limits{
		MaxPositionSizeUsdt:   100,
		MaxDailyTrades:        10,
		MinTradeAmount:        10,
		DailyLossLimit:        50,
		MaxPortfolioRisk:      0.02,
		DefaultLeverage:       3,
		MinSignalStrength:     0.6,
		MaxSignalAge:          5 * time.Minute,
		CooldownBetweenTrades: 0,
		TradeablePairs:        []string{"BTCUSDT", "ETHUSDT"},
	}
}

func testSignal(now time.Time) *domain.Signal {
	return &domain.Signal{
		ID:        1,
		Symbol:    "BTCUSDT",
		Direction: domain.DirectionLong,
		Strength:  0.8,
		Status:    domain.StatusPending,
		CreatedAt: now.Add(-time.Minute),
	}
}

func TestEngine_Evaluate_Accept(t *testing.T) {
	now := time.Now()
	engine := NewEngine(testLimits())
	account := &domain.AccountState{AvailableBalance: 1000}

	verdict := engine.Evaluate(testSignal(now), account, domain.DailyStats{}, now)

	if !verdict.Accepted {
		t.Fatalf("Evaluate() accepted = false, reason %v, want accepted", verdict.Reason)
	}
	if verdict.SizedAmount != 20.0 {
		t.Errorf("Evaluate() sizedAmount = %v, want 20.0", verdict.SizedAmount)
	}
	if verdict.Leverage != 3 {
		t.Errorf("Evaluate() leverage = %v, want 3", verdict.Leverage)
	}
	if verdict.Reason != "" {
		t.Errorf("Evaluate() reason = %q, want empty", verdict.Reason)
	}
}

func TestEngine_Evaluate_SizingCappedByMaxPosition(t *testing.T) {
	now := time.Now()
	engine := NewEngine(testLimits())
	// 100000 * 0.02 = 2000, но потолок позиции 100
	account := &domain.AccountState{AvailableBalance: 100000}

	verdict := engine.Evaluate(testSignal(now), account, domain.DailyStats{}, now)

	if !verdict.Accepted {
		t.Fatalf("Evaluate() accepted = false, reason %v, want accepted", verdict.Reason)
	}
	if verdict.SizedAmount != 100.0 {
		t.Errorf("Evaluate() sizedAmount = %v, want 100.0", verdict.SizedAmount)
	}
}

func TestEngine_Evaluate_Rejections(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name       string
		signal     func(*domain.Signal)
		account    domain.AccountState
		stats      domain.DailyStats
		limits     func(*Limits)
		wantReason string
	}{
		{
			name:       "stale signal",
			signal:     func(s *domain.Signal) { s.CreatedAt = now.Add(-6 * time.Minute) },
			account:    domain.AccountState{AvailableBalance: 1000},
			wantReason: domain.ReasonStale,
		},
		{
			name:       "weak signal",
			signal:     func(s *domain.Signal) { s.Strength = 0.4 },
			account:    domain.AccountState{AvailableBalance: 1000},
			wantReason: domain.ReasonWeakSignal,
		},
		{
			name:       "unsupported pair",
			signal:     func(s *domain.Signal) { s.Symbol = "DOGEUSDT" },
			account:    domain.AccountState{AvailableBalance: 1000},
			wantReason: domain.ReasonUnsupportedPair,
		},
		{
			name:       "daily trade limit reached",
			signal:     func(s *domain.Signal) {},
			account:    domain.AccountState{AvailableBalance: 1000},
			stats:      domain.DailyStats{TradeCount: 10},
			wantReason: domain.ReasonDailyTradeLimit,
		},
		{
			name:       "daily loss limit reached",
			signal:     func(s *domain.Signal) {},
			account:    domain.AccountState{AvailableBalance: 1000},
			stats:      domain.DailyStats{RealizedLoss: 50},
			wantReason: domain.ReasonDailyLossLimit,
		},
		{
			name:    "cooldown active",
			signal:  func(s *domain.Signal) {},
			account: domain.AccountState{AvailableBalance: 1000},
			stats:   domain.DailyStats{TradeCount: 1, LastTradeTime: now.Add(-2 * time.Minute)},
			limits: func(l *Limits) {
				l.CooldownBetweenTrades = 10 * time.Minute
			},
			wantReason: domain.ReasonCooldownActive,
		},
		{
			name:       "sized amount below minimum",
			signal:     func(s *domain.Signal) {},
			account:    domain.AccountState{AvailableBalance: 400}, // 400 * 0.02 = 8 < 10
			wantReason: domain.ReasonInsufficientBalance,
		},
		{
			name:       "zero balance",
			signal:     func(s *domain.Signal) {},
			account:    domain.AccountState{AvailableBalance: 0},
			wantReason: domain.ReasonInsufficientBalance,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limits := testLimits()
			if tt.limits != nil {
				tt.limits(&limits)
			}
			engine := NewEngine(limits)

			signal := testSignal(now)
			tt.signal(signal)

			verdict := engine.Evaluate(signal, &tt.account, tt.stats, now)

			if verdict.Accepted {
				t.Fatalf("Evaluate() accepted = true, want rejection %v", tt.wantReason)
			}
			if verdict.Reason != tt.wantReason {
				t.Errorf("Evaluate() reason = %v, want %v", verdict.Reason, tt.wantReason)
			}
			if verdict.SizedAmount != 0 {
				t.Errorf("Evaluate() sizedAmount = %v, want 0 on rejection", verdict.SizedAmount)
			}
		})
	}
}

// Сигнал может нарушать несколько проверок сразу, побеждает первая по порядку
func TestEngine_Evaluate_CheckOrder(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name       string
		signal     func(*domain.Signal)
		stats      domain.DailyStats
		wantReason string
	}{
		{
			name: "stale wins over weak",
			signal: func(s *domain.Signal) {
				s.CreatedAt = now.Add(-time.Hour)
				s.Strength = 0.1
			},
			wantReason: domain.ReasonStale,
		},
		{
			name: "weak wins over unsupported pair",
			signal: func(s *domain.Signal) {
				s.Strength = 0.1
				s.Symbol = "DOGEUSDT"
			},
			wantReason: domain.ReasonWeakSignal,
		},
		{
			name: "unsupported pair wins over trade limit",
			signal: func(s *domain.Signal) {
				s.Symbol = "DOGEUSDT"
			},
			stats:      domain.DailyStats{TradeCount: 10},
			wantReason: domain.ReasonUnsupportedPair,
		},
		{
			name:       "trade limit wins over loss limit",
			signal:     func(s *domain.Signal) {},
			stats:      domain.DailyStats{TradeCount: 10, RealizedLoss: 50},
			wantReason: domain.ReasonDailyTradeLimit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := NewEngine(testLimits())
			signal := testSignal(now)
			tt.signal(signal)
			account := &domain.AccountState{AvailableBalance: 1000}

			verdict := engine.Evaluate(signal, account, tt.stats, now)

			if verdict.Accepted {
				t.Fatalf("Evaluate() accepted = true, want rejection %v", tt.wantReason)
			}
			if verdict.Reason != tt.wantReason {
				t.Errorf("Evaluate() reason = %v, want %v", verdict.Reason, tt.wantReason)
			}
		})
	}
}

func TestEngine_Evaluate_Boundaries(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name         string
		signal       func(*domain.Signal)
		stats        domain.DailyStats
		wantAccepted bool
		wantReason   string
	}{
		{
			name:         "age exactly at limit passes",
			signal:       func(s *domain.Signal) { s.CreatedAt = now.Add(-5 * time.Minute) },
			wantAccepted: true,
		},
		{
			name:         "age just over limit rejected",
			signal:       func(s *domain.Signal) { s.CreatedAt = now.Add(-5*time.Minute - time.Second) },
			wantAccepted: false,
			wantReason:   domain.ReasonStale,
		},
		{
			name:         "strength exactly at minimum passes",
			signal:       func(s *domain.Signal) { s.Strength = 0.6 },
			wantAccepted: true,
		},
		{
			name:         "strength just below minimum rejected",
			signal:       func(s *domain.Signal) { s.Strength = 0.599 },
			wantAccepted: false,
			wantReason:   domain.ReasonWeakSignal,
		},
		{
			name:         "one trade below daily limit passes",
			signal:       func(s *domain.Signal) {},
			stats:        domain.DailyStats{TradeCount: 9},
			wantAccepted: true,
		},
		{
			name:         "loss just below limit passes",
			signal:       func(s *domain.Signal) {},
			stats:        domain.DailyStats{RealizedLoss: 49.99},
			wantAccepted: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := NewEngine(testLimits())
			signal := testSignal(now)
			tt.signal(signal)
			account := &domain.AccountState{AvailableBalance: 1000}

			verdict := engine.Evaluate(signal, account, tt.stats, now)

			if verdict.Accepted != tt.wantAccepted {
				t.Fatalf("Evaluate() accepted = %v, want %v (reason %v)", verdict.Accepted, tt.wantAccepted, verdict.Reason)
			}
			if !tt.wantAccepted && verdict.Reason != tt.wantReason {
				t.Errorf("Evaluate() reason = %v, want %v", verdict.Reason, tt.wantReason)
			}
		})
	}
}

// Размер округляется вниз до цента до сравнения с минимумом
func TestEngine_Evaluate_FloorsSizeToCents(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name         string
		balance      float64
		minTrade     float64
		wantAccepted bool
		wantSize     float64
	}{
		{"fraction floored down", 999.9, 10, true, 19.99},          // 19.998 -> 19.99
		{"floor lands exactly on minimum", 1000.4, 20, true, 20.0}, // 20.008 -> 20.00
		{"floor drops below minimum", 999.9, 20, false, 0},         // 19.998 -> 19.99 < 20
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limits := testLimits()
			limits.MinTradeAmount = tt.minTrade
			engine := NewEngine(limits)
			account := &domain.AccountState{AvailableBalance: tt.balance}

			verdict := engine.Evaluate(testSignal(now), account, domain.DailyStats{}, now)

			if verdict.Accepted != tt.wantAccepted {
				t.Fatalf("Evaluate() accepted = %v, want %v (reason %v)", verdict.Accepted, tt.wantAccepted, verdict.Reason)
			}
			if verdict.SizedAmount != tt.wantSize {
				t.Errorf("Evaluate() sizedAmount = %v, want %v", verdict.SizedAmount, tt.wantSize)
			}
			if !tt.wantAccepted && verdict.Reason != domain.ReasonInsufficientBalance {
				t.Errorf("Evaluate() reason = %v, want %v", verdict.Reason, domain.ReasonInsufficientBalance)
			}
		})
	}
}

func TestEngine_Evaluate_CooldownExpired(t *testing.T) {
	now := time.Now()
	limits := testLimits()
	limits.CooldownBetweenTrades = 10 * time.Minute
	engine := NewEngine(limits)
	account := &domain.AccountState{AvailableBalance: 1000}

	// Последняя сделка была давно, кулдаун истек
	stats := domain.DailyStats{TradeCount: 1, LastTradeTime: now.Add(-15 * time.Minute)}
	verdict := engine.Evaluate(testSignal(now), account, stats, now)
	if !verdict.Accepted {
		t.Errorf("Evaluate() accepted = false, reason %v, want accepted after cooldown", verdict.Reason)
	}

	// Сделок сегодня не было, кулдаун не применяется
	verdict = engine.Evaluate(testSignal(now), account, domain.DailyStats{}, now)
	if !verdict.Accepted {
		t.Errorf("Evaluate() accepted = false, reason %v, want accepted with no prior trade", verdict.Reason)
	}
}

// Один и тот же вход всегда дает один и тот же вердикт
func TestEngine_Evaluate_Deterministic(t *testing.T) {
	now := time.Now()
	engine := NewEngine(testLimits())
	account := &domain.AccountState{AvailableBalance: 1000}
	stats := domain.DailyStats{TradeCount: 3, RealizedLoss: 12.5}

	first := engine.Evaluate(testSignal(now), account, stats, now)
	second := engine.Evaluate(testSignal(now), account, stats, now)

	if first != second {
		t.Errorf("Evaluate() verdicts differ: %+v vs %+v", first, second)
	}
}

func TestEngine_Evaluate_DoesNotMutateInputs(t *testing.T) {
	now := time.Now()
	engine := NewEngine(testLimits())

	signal := testSignal(now)
	signalBefore := *signal
	account := &domain.AccountState{AvailableBalance: 1000, TodaysTradeCount: 2}
	accountBefore := *account
	stats := domain.DailyStats{TradeCount: 2, RealizedLoss: 5}

	engine.Evaluate(signal, account, stats, now)

	if *signal != signalBefore {
		t.Errorf("Evaluate() mutated signal: %+v, want %+v", *signal, signalBefore)
	}
	if account.AvailableBalance != accountBefore.AvailableBalance ||
		account.TodaysTradeCount != accountBefore.TodaysTradeCount {
		t.Errorf("Evaluate() mutated account: %+v, want %+v", *account, accountBefore)
	}
}

func TestEngine_Limits(t *testing.T) {
	limits := testLimits()
	engine := NewEngine(limits)

	got := engine.Limits()
	if got.MaxPositionSizeUsdt != limits.MaxPositionSizeUsdt {
		t.Errorf("Limits() maxPositionSize = %v, want %v", got.MaxPositionSizeUsdt, limits.MaxPositionSizeUsdt)
	}
	if got.DefaultLeverage != limits.DefaultLeverage {
		t.Errorf("Limits() defaultLeverage = %v, want %v", got.DefaultLeverage, limits.DefaultLeverage)
	}
}
