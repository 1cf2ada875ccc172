package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kirillm/bitunix-signal-trader/internal/domain"
)

// BybitTicker запасной источник цен через публичный тикер Bybit V5.
// Подпись не нужна, символы совпадают с форматом Bitunix (BTCUSDT).
type BybitTicker struct {
	baseURL string
	client  *http.Client
}

type bybitTickerResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	} `json:"result"`
}

// NewBybitTicker создает запасной источник цен
func NewBybitTicker(baseURL string, requestTimeout time.Duration) *BybitTicker {
	return &BybitTicker{
		baseURL: baseURL,
		client:  &http.Client{Timeout: requestTimeout},
	}
}

// GetPrice получает последнюю цену спотовой пары
func (b *BybitTicker) GetPrice(ctx context.Context, symbol string) (float64, error) {
	query := url.Values{}
	query.Set("category", "spot")
	query.Set("symbol", symbol)
	requestURL := b.baseURL + "/v5/market/tickers?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrExchangeRetryable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to read response: %v", domain.ErrExchangeRetryable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: HTTP %d", domain.ErrExchangeRetryable, resp.StatusCode)
	}

	var ticker bybitTickerResponse
	if err := json.Unmarshal(body, &ticker); err != nil {
		return 0, fmt.Errorf("failed to unmarshal ticker: %w", err)
	}
	if ticker.RetCode != 0 {
		return 0, fmt.Errorf("%w: %s (retCode %d)", domain.ErrExchangeRetryable, ticker.RetMsg, ticker.RetCode)
	}
	if len(ticker.Result.List) == 0 || ticker.Result.List[0].LastPrice == "" {
		return 0, fmt.Errorf("no price data for symbol %s", symbol)
	}

	price, err := strconv.ParseFloat(ticker.Result.List[0].LastPrice, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse price for %s: %w", symbol, err)
	}
	return price, nil
}
