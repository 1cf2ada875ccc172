package domain

import (
	"fmt"
	"strings"
)

// ValidateSignal проверяет форму сигнала до риск-оценки. Таблицу сигналов
// пишет внешний бот, поэтому битая строка возможна; повтор ее не исправит,
// такой сигнал помечается failed сразу.
func ValidateSignal(s *Signal) error {
	if s.ID <= 0 {
		return fmt.Errorf("%w: signal id must be positive, got %d", ErrValidation, s.ID)
	}
	if strings.TrimSpace(s.Symbol) == "" {
		return fmt.Errorf("%w: symbol is required", ErrValidation)
	}
	if s.Direction != DirectionLong && s.Direction != DirectionShort {
		return fmt.Errorf("%w: direction must be long or short, got %q", ErrValidation, s.Direction)
	}
	if s.Strength < 0 || s.Strength > 1 {
		return fmt.Errorf("%w: strength must be in [0, 1], got %.4f", ErrValidation, s.Strength)
	}
	if s.CreatedAt.IsZero() {
		return fmt.Errorf("%w: created_at is not set", ErrValidation)
	}
	return nil
}
