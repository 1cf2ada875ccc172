package exchange

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/kirillm/bitunix-signal-trader/internal/domain"
)

// Gateway единый контракт шлюза биржи.
// Live и paper реализации взаимозаменяемы, выбор делается один раз при старте.
type Gateway interface {
	// PlaceOrder размещает рыночный ордер. Повторный вызов с тем же
	// ClientOrderID возвращает уже существующее исполнение, а не второе.
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error)
	GetAccountState(ctx context.Context) (*domain.AccountState, error)
	GetOpenPositions(ctx context.Context) ([]domain.Position, error)
	// GetOrderByClientID ищет ордер по клиентскому id.
	// Возвращает domain.ErrNotFound, если биржа такого ордера не видела.
	GetOrderByClientID(ctx context.Context, clientOrderID string) (*domain.OrderResult, error)
	Name() string
}

// PriceSource источник цен
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
}

// ClientOrderID детерминированно выводит клиентский id ордера из id сигнала.
// Повторная попытка и рестарт процесса получают тот же id, поэтому
// биржа и журнал сделок дедуплицируют повторное размещение.
func ClientOrderID(signalID int64) string {
	name := fmt.Sprintf("signal-%d", signalID)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}
