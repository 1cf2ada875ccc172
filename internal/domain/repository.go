package domain

import "time"

// SignalStore определяет узкий интерфейс к общей таблице сигналов.
// Сигналы создает внешний бот, пайплайн их только читает и двигает по статусам.
type SignalStore interface {
	// FetchPendingSignals возвращает pending-сигналы, созданные в окне
	// (youngerThan, olderThan], старые первыми
	FetchPendingSignals(olderThan, youngerThan time.Time, limit int) ([]Signal, error)
	UpdateSignalStatus(id int64, status string, meta SignalMetadata) error
	// CompareAndSetStatus атомарно переводит сигнал из expected в next.
	// Возвращает false, если статус уже изменил кто-то другой.
	CompareAndSetStatus(id int64, expected, next string) (bool, error)
	// ExpirePendingSignals помечает pending-сигналы старше cutoff как expired,
	// возвращает количество затронутых строк
	ExpirePendingSignals(cutoff time.Time) (int64, error)
	// RequeueStaleSignals возвращает в pending сигналы, зависшие в fromStatus
	// дольше cutoff, например после падения процесса во время оценки
	RequeueStaleSignals(fromStatus string, cutoff time.Time) (int64, error)
	FetchByStatus(status string, limit int) ([]Signal, error)
	GetSignal(id int64) (*Signal, error)
}

// TradeLedger определяет интерфейс журнала сделок.
// Дневная статистика всегда пересчитывается из журнала, без глобальных счетчиков.
type TradeLedger interface {
	RecordTrade(trade *Trade) error
	GetTodayStats() (DailyStats, error)
	GetRecentTrades(limit int) ([]Trade, error)
	GetTradingStats(days int) (TradingStats, error)
}

// AccountMirror определяет интерфейс локального зеркала состояния счета.
// Обновляется координатором после подтвержденного исполнения, читается отчетами.
type AccountMirror interface {
	GetAccountState() (*AccountState, error)
	UpdateBalance(available float64) error
	UpsertPosition(position *Position) error
	RemovePosition(symbol string) error
	GetOpenPositions() ([]Position, error)
}

// KillSwitchJournal журнал аварийных остановок. Незакрытая запись
// восстанавливает остановку после рестарта процесса.
type KillSwitchJournal interface {
	RecordKillSwitchEvent(reason string, at time.Time) error
	// ResolveKillSwitchEvents закрывает все активные записи журнала
	ResolveKillSwitchEvents(at time.Time) error
	// ActiveKillSwitchEvent возвращает последнюю незакрытую запись
	// или ErrNotFound, если активной остановки нет
	ActiveKillSwitchEvent() (*KillSwitchEvent, error)
}
