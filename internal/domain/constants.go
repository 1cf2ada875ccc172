package domain

// Signal statuses
const (
	StatusPending    = "pending"
	StatusEvaluating = "evaluating"
	StatusAccepted   = "accepted" // legacy alias, treated like evaluating
	StatusExecuting  = "executing"
	StatusRejected   = "rejected"
	StatusExecuted   = "executed"
	StatusFailed     = "failed"
	StatusExpired    = "expired"
)

// Signal directions
const (
	DirectionLong  = "long"
	DirectionShort = "short"
)

// Trade sides
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Reject reasons
const (
	ReasonStale               = "STALE"
	ReasonWeakSignal          = "WEAK_SIGNAL"
	ReasonUnsupportedPair     = "UNSUPPORTED_PAIR"
	ReasonDailyTradeLimit     = "DAILY_TRADE_LIMIT"
	ReasonDailyLossLimit      = "DAILY_LOSS_LIMIT"
	ReasonCooldownActive      = "COOLDOWN_ACTIVE"
	ReasonInsufficientBalance = "INSUFFICIENT_BALANCE"
	ReasonExecutionExhausted  = "EXECUTION_EXHAUSTED"
)

// Error kinds, записываются в метаданные сигнала при неудаче
const (
	ErrorKindValidation          = "VALIDATION_ERROR"
	ErrorKindExchangeRejected    = "EXCHANGE_REJECTED"
	ErrorKindExchangeUnavailable = "EXCHANGE_UNAVAILABLE"
	ErrorKindUnknown             = "UNKNOWN_ERROR"
)

// Trading modes
const (
	TradingModeSpot    = "spot"
	TradingModeFutures = "futures"
)

// Log levels
const (
	LogLevelInfo  = "INFO"
	LogLevelWarn  = "WARN"
	LogLevelError = "ERROR"
)

// Bitunix constants
const (
	BitunixSideSell   = 1
	BitunixSideBuy    = 2
	BitunixTypeLimit  = 1
	BitunixTypeMarket = 2
	BitunixCodeOK     = "0"
)

// transitions описывает допустимые переходы статусов сигнала.
// Возврат в pending из evaluating и executing - это восстановление
// после сбоя или рестарта, не штатный ход конвейера.
var transitions = map[string][]string{
	StatusPending:    {StatusEvaluating, StatusExpired},
	StatusEvaluating: {StatusExecuting, StatusRejected, StatusFailed, StatusPending},
	StatusAccepted:   {StatusExecuting, StatusRejected, StatusFailed, StatusPending},
	StatusExecuting:  {StatusExecuted, StatusFailed, StatusPending},
}

// IsValidStatus проверяет, что статус известен конвейеру
func IsValidStatus(status string) bool {
	switch status {
	case StatusPending, StatusEvaluating, StatusAccepted, StatusExecuting,
		StatusRejected, StatusExecuted, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// IsTerminalStatus проверяет, является ли статус терминальным
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusRejected, StatusExecuted, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// CanTransition проверяет допустимость перехода статуса
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SideForDirection возвращает сторону ордера для направления сигнала
func SideForDirection(direction string) string {
	if direction == DirectionShort {
		return SideSell
	}
	return SideBuy
}
