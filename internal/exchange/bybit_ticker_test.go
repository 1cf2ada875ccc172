package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kirillm/bitunix-signal-trader/internal/domain"
)

func TestBybitTicker_GetPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v5/market/tickers" {
			t.Errorf("path = %v, want /v5/market/tickers", r.URL.Path)
		}
		if got := r.URL.Query().Get("category"); got != "spot" {
			t.Errorf("category = %v, want spot", got)
		}
		if got := r.URL.Query().Get("symbol"); got != "BTCUSDT" {
			t.Errorf("symbol = %v, want BTCUSDT", got)
		}
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[{"symbol":"BTCUSDT","lastPrice":"50123.45"}]}}`))
	}))
	defer server.Close()

	ticker := NewBybitTicker(server.URL, 5*time.Second)
	price, err := ticker.GetPrice(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("GetPrice() error = %v", err)
	}
	if price != 50123.45 {
		t.Errorf("GetPrice() = %v, want 50123.45", price)
	}
}

func TestBybitTicker_EmptyList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[]}}`))
	}))
	defer server.Close()

	ticker := NewBybitTicker(server.URL, 5*time.Second)
	if _, err := ticker.GetPrice(context.Background(), "NOSUCHPAIR"); err == nil {
		t.Error("GetPrice() error = nil, want error for empty ticker list")
	}
}

func TestBybitTicker_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode":10002,"retMsg":"request rate exceeded","result":{}}`))
	}))
	defer server.Close()

	ticker := NewBybitTicker(server.URL, 5*time.Second)
	_, err := ticker.GetPrice(context.Background(), "BTCUSDT")
	if !domain.IsRetryableExchange(err) {
		t.Errorf("GetPrice() error = %v, want retryable", err)
	}
}

func TestBybitTicker_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	ticker := NewBybitTicker(server.URL, 5*time.Second)
	_, err := ticker.GetPrice(context.Background(), "BTCUSDT")
	if !domain.IsRetryableExchange(err) {
		t.Errorf("GetPrice() error = %v, want retryable on HTTP 502", err)
	}
}
