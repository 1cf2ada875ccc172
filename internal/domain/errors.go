package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound возвращается когда запись не найдена
	ErrNotFound = errors.New("not found")

	// ErrValidation возвращается при некорректной форме сигнала
	ErrValidation = errors.New("validation error")

	// ErrInsufficientBalance возвращается при недостаточном балансе
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrTransientInfra возвращается при временном сбое инфраструктуры (БД, сеть)
	ErrTransientInfra = errors.New("transient infrastructure error")

	// ErrExchangeRetryable возвращается при временной ошибке биржи (rate-limit, timeout, 5xx)
	ErrExchangeRetryable = errors.New("retryable exchange error")

	// ErrExchangeNonRetryable возвращается при терминальной ошибке биржи (авторизация, баланс, символ)
	ErrExchangeNonRetryable = errors.New("non-retryable exchange error")

	// ErrExchangeAuth отказ авторизации биржи: неверный ключ, подпись или права.
	// Частный случай ErrExchangeNonRetryable, серия таких ошибок поднимает kill switch.
	ErrExchangeAuth = fmt.Errorf("%w: authentication rejected", ErrExchangeNonRetryable)

	// ErrFatalConfig возвращается при фатальной ошибке конфигурации на старте
	ErrFatalConfig = errors.New("fatal config error")
)

// IsRetryableExchange проверяет, можно ли повторить вызов биржи
func IsRetryableExchange(err error) bool {
	return errors.Is(err, ErrExchangeRetryable)
}

// IsTransient проверяет, является ли ошибка временным сбоем инфраструктуры
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientInfra)
}
