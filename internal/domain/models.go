package domain

import "time"

// Signal представляет торговый сигнал, записанный внешним ботом
type Signal struct {
	ID           int64     `db:"id"`
	Symbol       string    `db:"symbol"`
	Direction    string    `db:"direction"` // "long" or "short"
	Strength     float64   `db:"strength"`  // [0, 1]
	Status       string    `db:"status"`
	StatusReason string    `db:"status_reason"`
	Attempts     int       `db:"attempts"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// Age возвращает возраст сигнала относительно указанного момента
func (s *Signal) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// SignalMetadata дополнительные данные, сохраняемые при смене статуса сигнала
type SignalMetadata struct {
	Reason        string  `json:"reason,omitempty"`
	SizedAmount   float64 `json:"sized_amount,omitempty"`
	OrderID       string  `json:"order_id,omitempty"`
	ClientOrderID string  `json:"client_order_id,omitempty"`
	FilledPrice   float64 `json:"filled_price,omitempty"`
	Fee           float64 `json:"fee,omitempty"`
	ErrorKind     string  `json:"error_kind,omitempty"`
	PaperTrade    bool    `json:"paper_trade,omitempty"`
	Attempts      int     `json:"attempts,omitempty"`
}

// AccountState представляет снапшот состояния счета на момент тика
type AccountState struct {
	AvailableBalance   float64
	OpenPositions      []Position
	TodaysTradeCount   int
	TodaysRealizedLoss float64
}

// Position представляет открытую позицию
type Position struct {
	Symbol     string    `db:"symbol"`
	Side       string    `db:"side"` // "BUY" or "SELL"
	Size       float64   `db:"size"` // в USDT (маржа)
	EntryPrice float64   `db:"entry_price"`
	Leverage   int       `db:"leverage"`
	OpenedAt   time.Time `db:"opened_at"`
}

// RealizedPnL считает результат закрытия позиции по цене exit
func (p *Position) RealizedPnL(exit float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	move := (exit - p.EntryPrice) / p.EntryPrice
	if p.Side == SideSell {
		move = -move
	}
	return p.Size * move
}

// DailyStats снапшот дневной статистики из журнала сделок.
// Пересчитывается из БД каждый тик, никогда не является глобальным счетчиком.
type DailyStats struct {
	TradeCount    int
	RealizedLoss  float64 // накопленный убыток за день, положительное число
	LastTradeTime time.Time
}

// RiskVerdict результат проверки сигнала риск-движком.
// Эфемерный: логируется, но не сохраняется как авторитетное состояние.
type RiskVerdict struct {
	Accepted    bool
	Reason      string // причина отказа, пустая при принятии
	SizedAmount float64
	Leverage    int
}

// OrderRequest неизменяемый запрос на размещение ордера
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          string // "BUY" or "SELL"
	AmountUSDT    float64
	Leverage      int
	TradingMode   string // "spot" or "futures"
}

// OrderResult подтвержденное исполнение ордера
type OrderResult struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          string
	Price         float64
	SizeUSDT      float64
	Fee           float64
	ExecutedAt    time.Time
	PaperTrade    bool
}

// Trade представляет запись журнала сделок
type Trade struct {
	ID            int64     `db:"id"`
	SignalID      int64     `db:"signal_id"`
	Symbol        string    `db:"symbol"`
	Side          string    `db:"side"`
	AmountUSDT    float64   `db:"amount_usdt"`
	Price         float64   `db:"price"`
	Fee           float64   `db:"fee"`
	RealizedPnL   float64   `db:"realized_pnl"`
	OrderID       string    `db:"order_id"`
	ClientOrderID string    `db:"client_order_id"`
	TradingMode   string    `db:"trading_mode"`
	Leverage      int       `db:"leverage"`
	PaperTrade    bool      `db:"paper_trade"`
	CreatedAt     time.Time `db:"created_at"`
}

// TradingStats агрегированная статистика за период
type TradingStats struct {
	Days        int
	TotalTrades int
	BuyTrades   int
	SellTrades  int
	TotalVolume float64
	RealizedPnL float64
	Wins        int
	Losses      int
}

// KillSwitchEvent запись журнала аварийных остановок
type KillSwitchEvent struct {
	ID          int64     `db:"id"`
	Reason      string    `db:"reason"`
	TriggeredAt time.Time `db:"triggered_at"`
	ResumedAt   time.Time `db:"resumed_at"` // нулевое время, пока остановка активна
}
