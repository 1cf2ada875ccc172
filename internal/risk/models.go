package risk

import "time"

// Limits снапшот лимитов риск-менеджмента для одной оценки.
// Собирается один раз при старте из конфигурации и опционального профиля.
type Limits struct {
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
}
