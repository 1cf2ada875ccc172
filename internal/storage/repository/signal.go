package repository

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirillm/bitunix-signal-trader/internal/domain"
)

// SignalRepository реализует работу с общей таблицей сигналов
type SignalRepository struct {
	db *sql.DB
}

// NewSignalRepository создает новый репозиторий для сигналов
func NewSignalRepository(db *sql.DB) *SignalRepository {
	return &SignalRepository{db: db}
}

const signalColumns = `id, symbol, direction, strength, status,
       COALESCE(status_reason, ''), COALESCE(attempts, 0), created_at, updated_at`

// FetchPending возвращает pending-сигналы из окна (youngerThan, olderThan],
// старые первыми, чтобы ограничить накопление задержки
func (r *SignalRepository) FetchPending(olderThan, youngerThan time.Time, limit int) ([]domain.Signal, error) {
	query := `
		SELECT ` + signalColumns + `
		FROM signals
		WHERE status = $1 AND created_at <= $2 AND created_at > $3
		ORDER BY created_at ASC, id ASC
		LIMIT $4
	`
	return r.querySignals(query, domain.StatusPending, olderThan, youngerThan, limit)
}

// UpdateStatus записывает новый статус, причину и метаданные исполнения
func (r *SignalRepository) UpdateStatus(id int64, status string, meta domain.SignalMetadata) error {
	payload, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal signal metadata: %w", err)
	}

	query := `
		UPDATE signals
		SET status = $2, status_reason = $3, metadata = $4, attempts = $5, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.Exec(query, id, status, meta.Reason, payload, meta.Attempts)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: signal %d", domain.ErrNotFound, id)
	}
	return nil
}

// CompareAndSetStatus атомарно переводит сигнал из expected в next.
// Одиночный UPDATE с условием по статусу служит compare-and-set:
// false означает, что статус уже увел другой процесс.
func (r *SignalRepository) CompareAndSetStatus(id int64, expected, next string) (bool, error) {
	query := `
		UPDATE signals
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`
	result, err := r.db.Exec(query, id, expected, next)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// ExpirePending помечает pending-сигналы старше cutoff как expired
func (r *SignalRepository) ExpirePending(cutoff time.Time) (int64, error) {
	query := `
		UPDATE signals
		SET status = $1, status_reason = $2, updated_at = NOW()
		WHERE status = $3 AND created_at <= $4
	`
	result, err := r.db.Exec(query, domain.StatusExpired, domain.ReasonStale, domain.StatusPending, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// RequeueStale возвращает в pending сигналы, застрявшие в промежуточном
// статусе дольше cutoff
func (r *SignalRepository) RequeueStale(fromStatus string, cutoff time.Time) (int64, error) {
	query := `
		UPDATE signals
		SET status = $1, updated_at = NOW()
		WHERE status = $2 AND updated_at <= $3
	`
	result, err := r.db.Exec(query, domain.StatusPending, fromStatus, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// FetchByStatus возвращает сигналы в заданном статусе, старые первыми
func (r *SignalRepository) FetchByStatus(status string, limit int) ([]domain.Signal, error) {
	query := `
		SELECT ` + signalColumns + `
		FROM signals
		WHERE status = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`
	return r.querySignals(query, status, limit)
}

// Get возвращает сигнал по id
func (r *SignalRepository) Get(id int64) (*domain.Signal, error) {
	query := `SELECT ` + signalColumns + ` FROM signals WHERE id = $1`

	var signal domain.Signal
	err := r.db.QueryRow(query, id).Scan(
		&signal.ID,
		&signal.Symbol,
		&signal.Direction,
		&signal.Strength,
		&signal.Status,
		&signal.StatusReason,
		&signal.Attempts,
		&signal.CreatedAt,
		&signal.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: signal %d", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &signal, nil
}

// querySignals выполняет запрос и возвращает список сигналов
func (r *SignalRepository) querySignals(query string, args ...interface{}) ([]domain.Signal, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signals []domain.Signal
	for rows.Next() {
		var signal domain.Signal
		err := rows.Scan(
			&signal.ID,
			&signal.Symbol,
			&signal.Direction,
			&signal.Strength,
			&signal.Status,
			&signal.StatusReason,
			&signal.Attempts,
			&signal.CreatedAt,
			&signal.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		signals = append(signals, signal)
	}

	return signals, rows.Err()
}
