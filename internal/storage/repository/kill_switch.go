package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillm/bitunix-signal-trader/internal/domain"
)

// KillSwitchRepository хранит события аварийных остановок.
// Незакрытая запись означает, что остановка должна пережить рестарт.
type KillSwitchRepository struct {
	db *sql.DB
}

// NewKillSwitchRepository создает новый репозиторий событий kill switch
func NewKillSwitchRepository(db *sql.DB) *KillSwitchRepository {
	return &KillSwitchRepository{db: db}
}

// RecordEvent сохраняет активацию
func (r *KillSwitchRepository) RecordEvent(reason string, at time.Time) error {
	query := `
		INSERT INTO kill_switch_events (reason, triggered_at)
		VALUES ($1, $2)
	`
	_, err := r.db.Exec(query, reason, at)
	return err
}

// ResolveEvents закрывает все активные записи журнала
func (r *KillSwitchRepository) ResolveEvents(at time.Time) error {
	query := `
		UPDATE kill_switch_events
		SET resumed_at = $1
		WHERE resumed_at IS NULL
	`
	_, err := r.db.Exec(query, at)
	return err
}

// ActiveEvent возвращает последнюю незакрытую активацию
func (r *KillSwitchRepository) ActiveEvent() (*domain.KillSwitchEvent, error) {
	query := `
		SELECT id, reason, triggered_at
		FROM kill_switch_events
		WHERE resumed_at IS NULL
		ORDER BY triggered_at DESC
		LIMIT 1
	`
	var event domain.KillSwitchEvent
	err := r.db.QueryRow(query).Scan(&event.ID, &event.Reason, &event.TriggeredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no active kill switch event", domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}
