package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/kirillm/bitunix-signal-trader/internal/domain"
	"github.com/kirillm/bitunix-signal-trader/internal/storage/repository"
)

// PostgresStorage является фасадом для работы с PostgreSQL через репозитории
type PostgresStorage struct {
	db         *sql.DB
	signals    *repository.SignalRepository
	trades     *repository.TradeRepository
	account    *repository.AccountRepository
	killSwitch *repository.KillSwitchRepository
}

func NewPostgresStorage(url string, maxOpenConns, maxIdleConns int, connMaxLifetime time.Duration) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Настройка connection pool из конфигурации
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	storage := &PostgresStorage{
		db:         db,
		signals:    repository.NewSignalRepository(db),
		trades:     repository.NewTradeRepository(db),
		account:    repository.NewAccountRepository(db),
		killSwitch: repository.NewKillSwitchRepository(db),
	}

	// Запускаем миграции
	if err := storage.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return storage, nil
}

func (s *PostgresStorage) migrate() error {
	migrations := []string{
		// Таблица сигналов: строки создает внешний бот, пайплайн двигает статусы.
		// CREATE IF NOT EXISTS покрывает автономное развертывание без бота.
		`CREATE TABLE IF NOT EXISTS signals (
			id BIGSERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			direction VARCHAR(10) NOT NULL,
			strength DECIMAL(5, 4) NOT NULL DEFAULT 0,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			status_reason TEXT,
			metadata JSONB,
			attempts INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		// Журнал исполненных сделок
		`CREATE TABLE IF NOT EXISTS trade_log (
			id BIGSERIAL PRIMARY KEY,
			signal_id BIGINT NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			side VARCHAR(10) NOT NULL,
			amount_usdt DECIMAL(20, 8) NOT NULL,
			price DECIMAL(20, 8) NOT NULL,
			fee DECIMAL(20, 8) NOT NULL DEFAULT 0,
			realized_pnl DECIMAL(20, 8) NOT NULL DEFAULT 0,
			order_id VARCHAR(100),
			client_order_id VARCHAR(100) NOT NULL UNIQUE,
			trading_mode VARCHAR(10) NOT NULL DEFAULT 'spot',
			leverage INTEGER NOT NULL DEFAULT 1,
			paper_trade BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		// Зеркало баланса счета, одна строка
		`CREATE TABLE IF NOT EXISTS account_state (
			id INTEGER PRIMARY KEY DEFAULT 1,
			available_balance DECIMAL(20, 8) NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		// Зеркало открытых позиций
		`CREATE TABLE IF NOT EXISTS positions (
			id SERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL UNIQUE,
			side VARCHAR(10) NOT NULL,
			size DECIMAL(20, 8) NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL,
			leverage INTEGER NOT NULL DEFAULT 1,
			opened_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		// Журнал аварийных остановок, незакрытая запись переживает рестарт
		`CREATE TABLE IF NOT EXISTS kill_switch_events (
			id BIGSERIAL PRIMARY KEY,
			reason TEXT NOT NULL,
			triggered_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			resumed_at TIMESTAMPTZ
		)`,
		// Индексы
		`CREATE INDEX IF NOT EXISTS idx_signals_status_created_at ON signals(status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_log_created_at ON trade_log(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_log_signal_id ON trade_log(signal_id)`,
		// Миграции для таблицы сигналов, созданной ботом без наших колонок
		`ALTER TABLE signals ADD COLUMN IF NOT EXISTS status_reason TEXT`,
		`ALTER TABLE signals ADD COLUMN IF NOT EXISTS metadata JSONB`,
		`ALTER TABLE signals ADD COLUMN IF NOT EXISTS attempts INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE signals ADD COLUMN IF NOT EXISTS updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// ==================== SIGNALS ====================

func (s *PostgresStorage) FetchPendingSignals(olderThan, youngerThan time.Time, limit int) ([]domain.Signal, error) {
	return s.signals.FetchPending(olderThan, youngerThan, limit)
}

func (s *PostgresStorage) UpdateSignalStatus(id int64, status string, meta domain.SignalMetadata) error {
	return s.signals.UpdateStatus(id, status, meta)
}

func (s *PostgresStorage) CompareAndSetStatus(id int64, expected, next string) (bool, error) {
	return s.signals.CompareAndSetStatus(id, expected, next)
}

func (s *PostgresStorage) ExpirePendingSignals(cutoff time.Time) (int64, error) {
	return s.signals.ExpirePending(cutoff)
}

func (s *PostgresStorage) RequeueStaleSignals(fromStatus string, cutoff time.Time) (int64, error) {
	return s.signals.RequeueStale(fromStatus, cutoff)
}

func (s *PostgresStorage) FetchByStatus(status string, limit int) ([]domain.Signal, error) {
	return s.signals.FetchByStatus(status, limit)
}

func (s *PostgresStorage) GetSignal(id int64) (*domain.Signal, error) {
	return s.signals.Get(id)
}

// ==================== TRADE LOG ====================

func (s *PostgresStorage) RecordTrade(trade *domain.Trade) error {
	return s.trades.Save(trade)
}

func (s *PostgresStorage) GetTodayStats() (domain.DailyStats, error) {
	return s.trades.GetTodayStats()
}

func (s *PostgresStorage) GetRecentTrades(limit int) ([]domain.Trade, error) {
	return s.trades.GetRecent(limit)
}

func (s *PostgresStorage) GetTradingStats(days int) (domain.TradingStats, error) {
	return s.trades.GetStats(days)
}

// ==================== KILL SWITCH JOURNAL ====================

func (s *PostgresStorage) RecordKillSwitchEvent(reason string, at time.Time) error {
	return s.killSwitch.RecordEvent(reason, at)
}

func (s *PostgresStorage) ResolveKillSwitchEvents(at time.Time) error {
	return s.killSwitch.ResolveEvents(at)
}

func (s *PostgresStorage) ActiveKillSwitchEvent() (*domain.KillSwitchEvent, error) {
	return s.killSwitch.ActiveEvent()
}

// ==================== ACCOUNT MIRROR ====================

func (s *PostgresStorage) GetAccountState() (*domain.AccountState, error) {
	return s.account.GetState()
}

func (s *PostgresStorage) UpdateBalance(available float64) error {
	return s.account.UpdateBalance(available)
}

func (s *PostgresStorage) UpsertPosition(position *domain.Position) error {
	return s.account.UpsertPosition(position)
}

func (s *PostgresStorage) RemovePosition(symbol string) error {
	return s.account.RemovePosition(symbol)
}

func (s *PostgresStorage) GetOpenPositions() ([]domain.Position, error) {
	return s.account.GetPositions()
}

// Close закрывает соединение с базой данных
func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

// DB возвращает указатель на *sql.DB для health-проверок
func (s *PostgresStorage) DB() *sql.DB {
	return s.db
}
