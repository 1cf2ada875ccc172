package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillm/bitunix-signal-trader/internal/domain"
	"github.com/kirillm/bitunix-signal-trader/pkg/utils"
)

// Комиссия тейкера, используется пока биржа не вернула фактическую
const takerFeeRate = 0.001

const (
	baseBackoff = 500 * time.Millisecond
	maxBackoff  = 8 * time.Second
)

type BitunixClient struct {
	apiKey      string
	apiSecret   string
	baseURL     string
	client      *http.Client
	limiter     *rate.Limiter
	slippage    *SlippageGuard
	maxAttempts int
	tradingMode string
}

// apiResponse общий конверт ответов Bitunix
type apiResponse struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type tickerData struct {
	Price json.Number `json:"price"`
}

type balanceEntry struct {
	Available string `json:"available"`
	Frozen    string `json:"frozen"`
}

type orderData struct {
	OrderID  string `json:"orderId"`
	ClientID string `json:"clientId"`
}

type orderDetailData struct {
	OrderID  string      `json:"orderId"`
	ClientID string      `json:"clientId"`
	Symbol   string      `json:"symbol"`
	Side     int         `json:"side"`
	Status   string      `json:"status"`
	AvgPrice json.Number `json:"avgPrice"`
	Volume   json.Number `json:"volume"`
	Fee      json.Number `json:"fee"`
}

type positionData struct {
	Symbol     string      `json:"symbol"`
	Side       int         `json:"side"`
	Margin     json.Number `json:"margin"`
	EntryPrice json.Number `json:"entryPrice"`
	Leverage   int         `json:"leverage"`
	CreateTime int64       `json:"ctime"`
}

func NewBitunixClient(apiKey, apiSecret, baseURL string, requestTimeout time.Duration, maxAttempts int, rps float64, tradingMode string) *BitunixClient {
	return &BitunixClient{
		apiKey:      apiKey,
		apiSecret:   apiSecret,
		baseURL:     baseURL,
		client:      &http.Client{Timeout: requestTimeout},
		limiter:     rate.NewLimiter(rate.Limit(rps), 1),
		slippage:    NewSlippageGuard(1.0),
		maxAttempts: maxAttempts,
		tradingMode: tradingMode,
	}
}

func (b *BitunixClient) Name() string {
	return "bitunix"
}

// GetPrice получает текущую цену тикера, публичный запрос без подписи
func (b *BitunixClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	query := url.Values{}
	query.Set("symbol", symbol)

	data, err := b.doRequest(ctx, http.MethodGet, "/api/v1/ticker/price", query, nil, false)
	if err != nil {
		return 0, err
	}

	var ticker tickerData
	if err := json.Unmarshal(data, &ticker); err != nil {
		return 0, fmt.Errorf("failed to unmarshal ticker: %w", err)
	}

	price, err := ticker.Price.Float64()
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("no price data for symbol %s", symbol)
	}
	return price, nil
}

// GetAccountState получает доступный баланс USDT
func (b *BitunixClient) GetAccountState(ctx context.Context) (*domain.AccountState, error) {
	data, err := b.doRequest(ctx, http.MethodGet, "/api/v1/account/balance", nil, nil, true)
	if err != nil {
		return nil, err
	}

	var balances map[string]balanceEntry
	if err := json.Unmarshal(data, &balances); err != nil {
		return nil, fmt.Errorf("failed to unmarshal balances: %w", err)
	}

	state := &domain.AccountState{}
	usdt, ok := balances["USDT"]
	if !ok || usdt.Available == "" {
		return state, nil
	}

	available, err := strconv.ParseFloat(usdt.Available, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse USDT balance: %w", err)
	}
	state.AvailableBalance = available
	return state, nil
}

// GetOpenPositions возвращает открытые фьючерсные позиции.
// В спотовом режиме позиций на бирже нет, возвращается пустой список.
func (b *BitunixClient) GetOpenPositions(ctx context.Context) ([]domain.Position, error) {
	if b.tradingMode != domain.TradingModeFutures {
		return nil, nil
	}

	data, err := b.doRequest(ctx, http.MethodGet, "/api/v1/futures/positions", nil, nil, true)
	if err != nil {
		return nil, err
	}

	var raw []positionData
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal positions: %w", err)
	}

	positions := make([]domain.Position, 0, len(raw))
	for _, p := range raw {
		margin, _ := p.Margin.Float64()
		entry, _ := p.EntryPrice.Float64()
		positions = append(positions, domain.Position{
			Symbol:     p.Symbol,
			Side:       sideFromBitunix(p.Side),
			Size:       margin,
			EntryPrice: entry,
			Leverage:   p.Leverage,
			OpenedAt:   time.UnixMilli(p.CreateTime),
		})
	}
	return positions, nil
}

// SetLeverage выставляет плечо для фьючерсного символа
func (b *BitunixClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	body := map[string]interface{}{
		"symbol":   symbol,
		"leverage": leverage,
	}
	_, err := b.doRequest(ctx, http.MethodPost, "/api/v1/futures/leverage", nil, body, true)
	return err
}

// PlaceOrder размещает рыночный ордер с повторами и экспоненциальной выдержкой.
// После неудачной попытки с неизвестным исходом сначала ищет ордер по clientId
// и только при его отсутствии размещает заново, иначе возможен дубль.
func (b *BitunixClient) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	quote, err := b.GetPrice(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}

	if req.TradingMode == domain.TradingModeFutures {
		// Плечо выставляется до ордера, как того требует API
		if err := b.SetLeverage(ctx, req.Symbol, req.Leverage); err != nil {
			if !domain.IsRetryableExchange(err) {
				return nil, err
			}
			utils.LogWarnf("⚠️ Failed to set leverage %dx for %s: %v", req.Leverage, req.Symbol, err)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= b.maxAttempts; attempt++ {
		if attempt > 1 {
			utils.LogWarnf("⚠️ Retrying order %s (attempt %d/%d): %v", req.ClientOrderID, attempt, b.maxAttempts, lastErr)
			if err := b.sleepBackoff(ctx, attempt-1); err != nil {
				return nil, err
			}

			// Исход прошлой попытки неизвестен, проверяем не исполнилась ли она
			prior, lookupErr := b.GetOrderByClientID(ctx, req.ClientOrderID)
			if lookupErr == nil {
				utils.LogInfof("✅ Order %s already placed on previous attempt", req.ClientOrderID)
				return prior, nil
			}
			if !errors.Is(lookupErr, domain.ErrNotFound) {
				// Статус так и не выяснили, размещать повторно небезопасно
				lastErr = lookupErr
				continue
			}
		}

		result, err := b.submitOrder(ctx, req)
		if err == nil {
			return b.finalizeFill(ctx, result, quote), nil
		}
		if !domain.IsRetryableExchange(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("order %s exhausted %d attempts: %w", req.ClientOrderID, b.maxAttempts, lastErr)
}

// submitOrder выполняет одну попытку размещения
func (b *BitunixClient) submitOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	endpoint := "/api/v1/spot/order"
	if req.TradingMode == domain.TradingModeFutures {
		endpoint = "/api/v1/futures/order"
	}

	body := map[string]interface{}{
		"symbol":   req.Symbol,
		"side":     sideToBitunix(req.Side),
		"type":     domain.BitunixTypeMarket,
		"volume":   strconv.FormatFloat(req.AmountUSDT, 'f', 2, 64),
		"price":    "0",
		"clientId": req.ClientOrderID,
	}

	data, err := b.doRequest(ctx, http.MethodPost, endpoint, nil, body, true)
	if err != nil {
		return nil, err
	}

	var order orderData
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order response: %w", err)
	}

	return &domain.OrderResult{
		OrderID:       order.OrderID,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		SizeUSDT:      req.AmountUSDT,
		ExecutedAt:    time.Now(),
	}, nil
}

// finalizeFill дополняет результат фактической ценой и комиссией из деталей
// ордера. Если детали недоступны, берется котировка и оценочная комиссия.
func (b *BitunixClient) finalizeFill(ctx context.Context, result *domain.OrderResult, quote float64) *domain.OrderResult {
	detail, err := b.GetOrderByClientID(ctx, result.ClientOrderID)
	if err == nil && detail.Price > 0 {
		b.slippage.Warn(result.Symbol, detail.Price, quote)
		detail.ExecutedAt = result.ExecutedAt
		return detail
	}

	result.Price = quote
	result.Fee = result.SizeUSDT * takerFeeRate
	return result
}

// GetOrderByClientID ищет ордер по клиентскому id
func (b *BitunixClient) GetOrderByClientID(ctx context.Context, clientOrderID string) (*domain.OrderResult, error) {
	query := url.Values{}
	query.Set("clientId", clientOrderID)

	data, err := b.doRequest(ctx, http.MethodGet, "/api/v1/order/detail", query, nil, true)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || string(data) == "null" {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, clientOrderID)
	}

	var detail orderDetailData
	if err := json.Unmarshal(data, &detail); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order detail: %w", err)
	}
	if detail.OrderID == "" {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, clientOrderID)
	}

	price, _ := detail.AvgPrice.Float64()
	volume, _ := detail.Volume.Float64()
	fee, _ := detail.Fee.Float64()

	return &domain.OrderResult{
		OrderID:       detail.OrderID,
		ClientOrderID: clientOrderID,
		Symbol:        detail.Symbol,
		Side:          sideFromBitunix(detail.Side),
		Price:         price,
		SizeUSDT:      volume,
		Fee:           fee,
		ExecutedAt:    time.Now(),
	}, nil
}

// doRequest выполняет один HTTP-запрос к API, разбирает конверт ответа
// и классифицирует ошибки по таксономии domain
func (b *BitunixClient) doRequest(ctx context.Context, method, endpoint string, query url.Values, body interface{}, signed bool) (json.RawMessage, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %v", domain.ErrExchangeRetryable, err)
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
	}

	requestURL := b.baseURL + endpoint
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if signed {
		// Подпись Bitunix: HMAC-SHA256 от timestamp, для POST после
		// timestamp конкатенируется JSON тело запроса
		timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
		signature := b.generateSignature(timestamp, string(payload))
		b.setAuthHeaders(req, timestamp, signature)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExchangeRetryable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", domain.ErrExchangeRetryable, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: HTTP %d", domain.ErrExchangeRetryable, resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: HTTP %d, check API credentials", domain.ErrExchangeAuth, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: HTTP %d: %s", domain.ErrExchangeNonRetryable, resp.StatusCode, respBody)
	}

	var envelope apiResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if envelope.Code != domain.BitunixCodeOK {
		return nil, classifyAPIError(envelope.Code, envelope.Msg)
	}

	return envelope.Data, nil
}

// classifyAPIError переводит бизнес-ошибку API в таксономию domain.
// Код со значением не "0" означает, что запрос биржей получен и отвергнут,
// поэтому по умолчанию ошибка неповторяемая.
func classifyAPIError(code, msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "insufficient"):
		return fmt.Errorf("%w: %s (code %s)", domain.ErrInsufficientBalance, msg, code)
	case strings.Contains(lower, "not exist"), strings.Contains(lower, "not found"):
		return fmt.Errorf("%w: %s (code %s)", domain.ErrNotFound, msg, code)
	case strings.Contains(lower, "rate limit"), strings.Contains(lower, "too many"):
		return fmt.Errorf("%w: %s (code %s)", domain.ErrExchangeRetryable, msg, code)
	case strings.Contains(lower, "signature"), strings.Contains(lower, "api key"):
		return fmt.Errorf("%w: %s (code %s)", domain.ErrExchangeAuth, msg, code)
	case strings.Contains(lower, "duplicate"):
		// повторная отправка того же clientId: ордер уже существует,
		// следующая итерация цикла найдет его по clientId
		return fmt.Errorf("%w: %s (code %s)", domain.ErrExchangeRetryable, msg, code)
	default:
		return fmt.Errorf("%w: %s (code %s)", domain.ErrExchangeNonRetryable, msg, code)
	}
}

// generateSignature генерирует подпись для запросов (GET и POST)
func (b *BitunixClient) generateSignature(timestamp, payload string) string {
	h := hmac.New(sha256.New, []byte(b.apiSecret))
	h.Write([]byte(timestamp + payload))
	return hex.EncodeToString(h.Sum(nil))
}

// setAuthHeaders устанавливает заголовки авторизации для запроса
func (b *BitunixClient) setAuthHeaders(req *http.Request, timestamp, signature string) {
	req.Header.Set("X-ACCESS-KEY", b.apiKey)
	req.Header.Set("X-ACCESS-SIGN", signature)
	req.Header.Set("X-ACCESS-TIMESTAMP", timestamp)
}

// sleepBackoff ждет base*2^(attempt-1) с верхней границей, прерываемо по ctx
func (b *BitunixClient) sleepBackoff(ctx context.Context, attempt int) error {
	delay := baseBackoff << uint(attempt-1)
	if delay > maxBackoff {
		delay = maxBackoff
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", domain.ErrExchangeRetryable, ctx.Err())
	case <-timer.C:
		return nil
	}
}

func sideToBitunix(side string) int {
	if side == domain.SideSell {
		return domain.BitunixSideSell
	}
	return domain.BitunixSideBuy
}

func sideFromBitunix(side int) string {
	if side == domain.BitunixSideSell {
		return domain.SideSell
	}
	return domain.SideBuy
}
