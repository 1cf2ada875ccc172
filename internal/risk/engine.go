package risk

import (
	"math"
	"time"

	"github.com/kirillm/bitunix-signal-trader/internal/domain"
)

// Engine чистый риск-движок. Никакого I/O и скрытого состояния:
// все входы, включая текущее время, передаются явно, поэтому одна и та же
// комбинация аргументов всегда дает один и тот же вердикт.
type Engine struct {
	limits Limits
	pairs  map[string]struct{}
}

// NewEngine создает риск-движок с зафиксированными лимитами
func NewEngine(limits Limits) *Engine {
	pairs := make(map[string]struct{}, len(limits.TradeablePairs))
	for _, p := range limits.TradeablePairs {
		pairs[p] = struct{}{}
	}
	return &Engine{limits: limits, pairs: pairs}
}

// Limits возвращает действующие лимиты
func (e *Engine) Limits() Limits {
	return e.limits
}

// Evaluate проверяет сигнал в фиксированном порядке, побеждает первая
// нарушенная проверка: возраст, сила, допустимость пары, дневной лимит
// сделок, дневной лимит убытка, кулдаун. Прошедший все проверки сигнал
// получает размер min(maxPositionSizeUsdt, balance*maxPortfolioRisk),
// округленный вниз до цента, и отклоняется, если размер меньше минимума.
func (e *Engine) Evaluate(signal *domain.Signal, account *domain.AccountState, stats domain.DailyStats, now time.Time) domain.RiskVerdict {
	if signal.Age(now) > e.limits.MaxSignalAge {
		return reject(domain.ReasonStale)
	}
	if signal.Strength < e.limits.MinSignalStrength {
		return reject(domain.ReasonWeakSignal)
	}
	if _, ok := e.pairs[signal.Symbol]; !ok {
		return reject(domain.ReasonUnsupportedPair)
	}
	if stats.TradeCount >= e.limits.MaxDailyTrades {
		return reject(domain.ReasonDailyTradeLimit)
	}
	if stats.RealizedLoss >= e.limits.DailyLossLimit {
		return reject(domain.ReasonDailyLossLimit)
	}
	if e.limits.CooldownBetweenTrades > 0 && !stats.LastTradeTime.IsZero() {
		if now.Sub(stats.LastTradeTime) < e.limits.CooldownBetweenTrades {
			return reject(domain.ReasonCooldownActive)
		}
	}

	size := math.Min(e.limits.MaxPositionSizeUsdt, account.AvailableBalance*e.limits.MaxPortfolioRisk)
	size = math.Floor(size*100) / 100
	if size < e.limits.MinTradeAmount {
		return reject(domain.ReasonInsufficientBalance)
	}

	// Плечо задано конфигурацией и не влияет на маржу:
	// sized_amount есть маржа в USDT, нотионал умножает биржа
	return domain.RiskVerdict{
		Accepted:    true,
		SizedAmount: size,
		Leverage:    e.limits.DefaultLeverage,
	}
}

func reject(reason string) domain.RiskVerdict {
	return domain.RiskVerdict{Accepted: false, Reason: reason}
}
