package repository

import (
	"database/sql"
	"errors"

	"github.com/kirillm/bitunix-signal-trader/internal/domain"
)

// AccountRepository реализует локальное зеркало состояния счета.
// Источник истины остается на бирже, зеркало нужно отчетам и дашбордам.
type AccountRepository struct {
	db *sql.DB
}

// NewAccountRepository создает новый репозиторий для состояния счета
func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// GetState возвращает баланс и открытые позиции из зеркала.
// Если зеркало еще не инициализировано, возвращается нулевой баланс.
func (r *AccountRepository) GetState() (*domain.AccountState, error) {
	var available float64
	err := r.db.QueryRow(`SELECT available_balance FROM account_state WHERE id = 1`).Scan(&available)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	positions, err := r.GetPositions()
	if err != nil {
		return nil, err
	}

	return &domain.AccountState{
		AvailableBalance: available,
		OpenPositions:    positions,
	}, nil
}

// UpdateBalance записывает текущий доступный баланс
func (r *AccountRepository) UpdateBalance(available float64) error {
	query := `
		INSERT INTO account_state (id, available_balance, updated_at)
		VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET
			available_balance = EXCLUDED.available_balance,
			updated_at = NOW()
	`
	_, err := r.db.Exec(query, available)
	return err
}

// UpsertPosition создает или обновляет позицию по символу
func (r *AccountRepository) UpsertPosition(position *domain.Position) error {
	query := `
		INSERT INTO positions (symbol, side, size, entry_price, leverage, opened_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (symbol) DO UPDATE SET
			side = EXCLUDED.side,
			size = EXCLUDED.size,
			entry_price = EXCLUDED.entry_price,
			leverage = EXCLUDED.leverage,
			updated_at = NOW()
	`
	_, err := r.db.Exec(
		query,
		position.Symbol,
		position.Side,
		position.Size,
		position.EntryPrice,
		position.Leverage,
		position.OpenedAt,
	)
	return err
}

// RemovePosition удаляет позицию после закрытия
func (r *AccountRepository) RemovePosition(symbol string) error {
	_, err := r.db.Exec(`DELETE FROM positions WHERE symbol = $1`, symbol)
	return err
}

// GetPositions возвращает все открытые позиции
func (r *AccountRepository) GetPositions() ([]domain.Position, error) {
	query := `
		SELECT symbol, side, size, entry_price, leverage, opened_at
		FROM positions
		ORDER BY opened_at ASC
	`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		var position domain.Position
		err := rows.Scan(
			&position.Symbol,
			&position.Side,
			&position.Size,
			&position.EntryPrice,
			&position.Leverage,
			&position.OpenedAt,
		)
		if err != nil {
			return nil, err
		}
		positions = append(positions, position)
	}

	return positions, rows.Err()
}
