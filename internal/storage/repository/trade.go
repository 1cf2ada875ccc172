package repository

import (
	"database/sql"
	"errors"

	"github.com/kirillm/bitunix-signal-trader/internal/domain"
)

// TradeRepository реализует журнал исполненных сделок
type TradeRepository struct {
	db *sql.DB
}

// NewTradeRepository создает новый репозиторий для журнала сделок
func NewTradeRepository(db *sql.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// Save сохраняет сделку в журнал. Повторная запись с тем же client_order_id
// молча игнорируется: журнал содержит не более одной строки на ордер.
func (r *TradeRepository) Save(trade *domain.Trade) error {
	query := `
		INSERT INTO trade_log (signal_id, symbol, side, amount_usdt, price, fee, realized_pnl,
		                       order_id, client_order_id, trading_mode, leverage, paper_trade, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (client_order_id) DO NOTHING
		RETURNING id
	`
	err := r.db.QueryRow(
		query,
		trade.SignalID,
		trade.Symbol,
		trade.Side,
		trade.AmountUSDT,
		trade.Price,
		trade.Fee,
		trade.RealizedPnL,
		trade.OrderID,
		trade.ClientOrderID,
		trade.TradingMode,
		trade.Leverage,
		trade.PaperTrade,
		trade.CreatedAt,
	).Scan(&trade.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	return err
}

// GetTodayStats пересчитывает дневную статистику из журнала.
// Убыток считается как сумма модулей отрицательного PnL за сегодня.
func (r *TradeRepository) GetTodayStats() (domain.DailyStats, error) {
	query := `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN realized_pnl < 0 THEN -realized_pnl ELSE 0 END), 0),
		       COALESCE(MAX(created_at), 'epoch'::timestamptz)
		FROM trade_log
		WHERE created_at >= date_trunc('day', NOW())
	`
	var stats domain.DailyStats
	err := r.db.QueryRow(query).Scan(&stats.TradeCount, &stats.RealizedLoss, &stats.LastTradeTime)
	return stats, err
}

// GetRecent возвращает последние N сделок
func (r *TradeRepository) GetRecent(limit int) ([]domain.Trade, error) {
	query := `
		SELECT id, signal_id, symbol, side, amount_usdt, price, fee, realized_pnl,
		       COALESCE(order_id, ''), client_order_id, trading_mode, leverage, paper_trade, created_at
		FROM trade_log
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`
	return r.queryTrades(query, limit)
}

// GetStats возвращает агрегированную статистику за последние N дней
func (r *TradeRepository) GetStats(days int) (domain.TradingStats, error) {
	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE side = $1),
		       COUNT(*) FILTER (WHERE side = $2),
		       COALESCE(SUM(amount_usdt), 0),
		       COALESCE(SUM(realized_pnl), 0),
		       COUNT(*) FILTER (WHERE realized_pnl > 0),
		       COUNT(*) FILTER (WHERE realized_pnl < 0)
		FROM trade_log
		WHERE created_at >= NOW() - make_interval(days => $3)
	`
	stats := domain.TradingStats{Days: days}
	err := r.db.QueryRow(query, domain.SideBuy, domain.SideSell, days).Scan(
		&stats.TotalTrades,
		&stats.BuyTrades,
		&stats.SellTrades,
		&stats.TotalVolume,
		&stats.RealizedPnL,
		&stats.Wins,
		&stats.Losses,
	)
	return stats, err
}

// queryTrades выполняет запрос и возвращает список сделок
func (r *TradeRepository) queryTrades(query string, args ...interface{}) ([]domain.Trade, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var trade domain.Trade
		err := rows.Scan(
			&trade.ID,
			&trade.SignalID,
			&trade.Symbol,
			&trade.Side,
			&trade.AmountUSDT,
			&trade.Price,
			&trade.Fee,
			&trade.RealizedPnL,
			&trade.OrderID,
			&trade.ClientOrderID,
			&trade.TradingMode,
			&trade.Leverage,
			&trade.PaperTrade,
			&trade.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		trades = append(trades, trade)
	}

	return trades, rows.Err()
}
