package exchange

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kirillm/bitunix-signal-trader/pkg/utils"
)

// ErrPriceUnavailable все источники цен недоступны и кеш устарел
var ErrPriceUnavailable = errors.New("price unavailable from all sources")

// Кеш валиден 5 минут
const priceCacheTTL = 5 * time.Minute

// PriceFailover failover механизм для получения цен
type PriceFailover struct {
	primarySource   PriceSource
	fallbackSources []PriceSource

	mu    sync.Mutex
	cache map[string]cachedPrice
}

type cachedPrice struct {
	price     float64
	timestamp time.Time
}

// NewPriceFailover создает новый price failover
func NewPriceFailover(primarySource PriceSource) *PriceFailover {
	return &PriceFailover{
		primarySource:   primarySource,
		fallbackSources: []PriceSource{},
		cache:           make(map[string]cachedPrice),
	}
}

// AddFallbackSource добавляет запасной источник цен
func (pf *PriceFailover) AddFallbackSource(source PriceSource) {
	pf.fallbackSources = append(pf.fallbackSources, source)
}

// GetPrice получает цену с failover: основной источник, затем запасные,
// затем свежий кеш
func (pf *PriceFailover) GetPrice(ctx context.Context, symbol string) (float64, error) {
	price, err := pf.primarySource.GetPrice(ctx, symbol)
	if err == nil {
		pf.remember(symbol, price)
		return price, nil
	}

	for i, source := range pf.fallbackSources {
		price, err := source.GetPrice(ctx, symbol)
		if err == nil {
			utils.LogWarnf("⚠️ Using fallback source #%d for %s price", i+1, symbol)
			pf.remember(symbol, price)
			return price, nil
		}
	}

	pf.mu.Lock()
	cached, ok := pf.cache[symbol]
	pf.mu.Unlock()
	if ok {
		age := time.Since(cached.timestamp)
		if age < priceCacheTTL {
			utils.LogWarnf("⚠️ Using cached price for %s (age: %v)", symbol, age.Round(time.Second))
			return cached.price, nil
		}
	}

	return 0, ErrPriceUnavailable
}

func (pf *PriceFailover) remember(symbol string, price float64) {
	pf.mu.Lock()
	pf.cache[symbol] = cachedPrice{price: price, timestamp: time.Now()}
	pf.mu.Unlock()
}
