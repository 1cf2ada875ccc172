package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillm/bitunix-signal-trader/internal/domain"
)

// DefaultPaperBalance стартовый баланс бумажного счета в USDT
const DefaultPaperBalance = 1000.0

// PaperGateway имитирует биржу без сетевых вызовов к торговым эндпоинтам.
// Исполняет ордера по котировке из источника цен, ведет счет в памяти
// и подставляется вместо живого шлюза без изменений в координаторе.
type PaperGateway struct {
	prices      PriceSource
	tradingMode string
	feeRate     float64

	mu        sync.Mutex
	balance   float64
	positions map[string]domain.Position
	fills     map[string]domain.OrderResult
}

func NewPaperGateway(prices PriceSource, initialBalance float64, tradingMode string) *PaperGateway {
	return &PaperGateway{
		prices:      prices,
		tradingMode: tradingMode,
		feeRate:     takerFeeRate,
		balance:     initialBalance,
		positions:   make(map[string]domain.Position),
		fills:       make(map[string]domain.OrderResult),
	}
}

func (g *PaperGateway) Name() string {
	return "paper"
}

// PlaceOrder исполняет ордер по текущей котировке с синтетической комиссией.
// Повторный вызов с тем же ClientOrderID возвращает первое исполнение.
func (g *PaperGateway) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if fill, ok := g.fills[req.ClientOrderID]; ok {
		return &fill, nil
	}

	price, err := g.prices.GetPrice(ctx, req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: paper quote for %s: %v", domain.ErrExchangeRetryable, req.Symbol, err)
	}

	fee := req.AmountUSDT * g.feeRate
	if err := g.settle(req, price, fee); err != nil {
		return nil, err
	}

	result := domain.OrderResult{
		OrderID:       "paper-" + uuid.NewString(),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Price:         price,
		SizeUSDT:      req.AmountUSDT,
		Fee:           fee,
		ExecutedAt:    time.Now(),
		PaperTrade:    true,
	}
	g.fills[req.ClientOrderID] = result
	return &result, nil
}

// settle обновляет бумажный счет. Встречный ордер закрывает позицию целиком,
// иначе открывает новую либо наращивает существующую.
func (g *PaperGateway) settle(req domain.OrderRequest, price, fee float64) error {
	position, exists := g.positions[req.Symbol]

	if exists && position.Side != req.Side {
		g.balance += position.Size + position.RealizedPnL(price) - fee
		delete(g.positions, req.Symbol)
		return nil
	}

	if req.Side == domain.SideSell && g.tradingMode != domain.TradingModeFutures {
		return fmt.Errorf("%w: no %s holdings to sell", domain.ErrInsufficientBalance, req.Symbol)
	}

	cost := req.AmountUSDT + fee
	if cost > g.balance {
		return fmt.Errorf("%w: required %.2f USDT, available %.2f", domain.ErrInsufficientBalance, cost, g.balance)
	}
	g.balance -= cost

	if exists {
		total := position.Size + req.AmountUSDT
		position.EntryPrice = (position.EntryPrice*position.Size + price*req.AmountUSDT) / total
		position.Size = total
		g.positions[req.Symbol] = position
		return nil
	}

	g.positions[req.Symbol] = domain.Position{
		Symbol:     req.Symbol,
		Side:       req.Side,
		Size:       req.AmountUSDT,
		EntryPrice: price,
		Leverage:   req.Leverage,
		OpenedAt:   time.Now(),
	}
	return nil
}

func (g *PaperGateway) GetAccountState(ctx context.Context) (*domain.AccountState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	return &domain.AccountState{
		AvailableBalance: g.balance,
		OpenPositions:    g.snapshotPositions(),
	}, nil
}

func (g *PaperGateway) GetOpenPositions(ctx context.Context) ([]domain.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshotPositions(), nil
}

func (g *PaperGateway) GetOrderByClientID(ctx context.Context, clientOrderID string) (*domain.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	fill, ok := g.fills[clientOrderID]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, clientOrderID)
	}
	return &fill, nil
}

func (g *PaperGateway) snapshotPositions() []domain.Position {
	positions := make([]domain.Position, 0, len(g.positions))
	for _, position := range g.positions {
		positions = append(positions, position)
	}
	return positions
}
