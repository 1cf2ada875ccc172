package exchange

import (
	"math"

	"github.com/kirillm/bitunix-signal-trader/pkg/utils"
)

// SlippageGuard отслеживает отклонение цены исполнения от котировки
type SlippageGuard struct {
	thresholdPercent float64
}

// NewSlippageGuard создает новый slippage guard
func NewSlippageGuard(thresholdPercent float64) *SlippageGuard {
	return &SlippageGuard{
		thresholdPercent: thresholdPercent,
	}
}

// CalculateSlippage вычисляет процент проскальзывания
func (sg *SlippageGuard) CalculateSlippage(actualPrice, expectedPrice float64) float64 {
	if expectedPrice <= 0 {
		return 0.0
	}

	return math.Abs((actualPrice - expectedPrice) / expectedPrice * 100.0)
}

// Warn пишет предупреждение, если проскальзывание выше порога.
// Рыночный ордер уже исполнен и отменять нечего, но расхождение
// цены сигнализирует о проблемах с ликвидностью символа.
func (sg *SlippageGuard) Warn(symbol string, actualPrice, expectedPrice float64) {
	slippage := sg.CalculateSlippage(actualPrice, expectedPrice)
	if slippage > sg.thresholdPercent {
		utils.LogWarnf("📉 Slippage %.2f%% on %s: expected %.4f, filled %.4f",
			slippage, symbol, expectedPrice, actualPrice)
	}
}
