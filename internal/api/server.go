package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/kirillm/bitunix-signal-trader/internal/domain"
	"github.com/kirillm/bitunix-signal-trader/internal/execution"
	"github.com/kirillm/bitunix-signal-trader/pkg/utils"
)

// Pipeline источник состояния цикла опроса для /status
type Pipeline interface {
	IsRunning() bool
	StartedAt() time.Time
}

type Server struct {
	db          *sql.DB
	signals     domain.SignalStore
	ledger      domain.TradeLedger
	account     domain.AccountMirror
	killSwitch  *execution.KillSwitch
	coordinator *execution.Coordinator
	pipeline    Pipeline
	gatewayName string
	tradingMode string
	autoTrading bool
	port        int
	server      *http.Server
}

type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func NewServer(
	db *sql.DB,
	signals domain.SignalStore,
	ledger domain.TradeLedger,
	account domain.AccountMirror,
	killSwitch *execution.KillSwitch,
	coordinator *execution.Coordinator,
	pipeline Pipeline,
	gatewayName string,
	tradingMode string,
	autoTrading bool,
	port int,
) *Server {
	return &Server{
		db:          db,
		signals:     signals,
		ledger:      ledger,
		account:     account,
		killSwitch:  killSwitch,
		coordinator: coordinator,
		pipeline:    pipeline,
		gatewayName: gatewayName,
		tradingMode: tradingMode,
		autoTrading: autoTrading,
		port:        port,
	}
}

func (s *Server) Start() error {
	mux := http.NewServeMux()

	// Register routes
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/signals", s.handleSignals)
	mux.HandleFunc("/trades", s.handleTrades)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/positions", s.handlePositions)

	addr := fmt.Sprintf(":%d", s.port)
	utils.LogInfof("🌐 Starting HTTP server on %s", addr)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Stop аккуратно гасит HTTP-сервер
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// handleHealth - liveness и проверка соединения с БД
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.db.PingContext(r.Context()); err != nil {
		s.sendError(w, fmt.Sprintf("Database unreachable: %v", err), http.StatusServiceUnavailable)
		return
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	}

	s.sendSuccess(w, health)
}

// handleStatus - состояние пайплайна
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	killSwitchActive, reason, activatedAt := s.killSwitch.GetStatus()

	status := map[string]interface{}{
		"running":      s.pipeline != nil && s.pipeline.IsRunning(),
		"gateway":      s.gatewayName,
		"trading_mode": s.tradingMode,
		"auto_trading": s.autoTrading,
		"kill_switch":  killSwitchActive,
		"counters":     s.coordinator.Counters(),
		"in_flight":    s.coordinator.InFlightCount(),
		"timestamp":    time.Now().Unix(),
	}

	if killSwitchActive {
		status["kill_switch_reason"] = reason
		status["kill_switch_since"] = activatedAt.Unix()
	}

	if s.pipeline != nil && s.pipeline.IsRunning() {
		status["uptime_seconds"] = int64(time.Since(s.pipeline.StartedAt()).Seconds())
	}

	if state, err := s.account.GetAccountState(); err == nil {
		status["balance_usdt"] = state.AvailableBalance
		status["open_positions"] = len(state.OpenPositions)
	}

	s.sendSuccess(w, status)
}

// handleSignals - сигналы по статусу
func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := getQueryParam(r, "status", domain.StatusPending)
	if !domain.IsValidStatus(status) {
		s.sendError(w, fmt.Sprintf("Unknown status %q", status), http.StatusBadRequest)
		return
	}

	limit := getQueryParamInt(r, "limit", 20)
	if limit < 1 || limit > 100 {
		s.sendError(w, "Limit must be between 1 and 100", http.StatusBadRequest)
		return
	}

	signals, err := s.signals.FetchByStatus(status, limit)
	if err != nil {
		s.sendError(w, fmt.Sprintf("Failed to fetch signals: %v", err), http.StatusInternalServerError)
		return
	}

	s.sendSuccess(w, map[string]interface{}{
		"status":  status,
		"count":   len(signals),
		"signals": signals,
	})
}

// handleTrades - последние сделки
func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := getQueryParamInt(r, "limit", 20)
	if limit < 1 || limit > 100 {
		s.sendError(w, "Limit must be between 1 and 100", http.StatusBadRequest)
		return
	}

	trades, err := s.ledger.GetRecentTrades(limit)
	if err != nil {
		s.sendError(w, fmt.Sprintf("Failed to get trades: %v", err), http.StatusInternalServerError)
		return
	}

	s.sendSuccess(w, map[string]interface{}{
		"count":  len(trades),
		"trades": trades,
	})
}

// handleStats - агрегированная статистика торговли
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	days := getQueryParamInt(r, "days", 7)
	if days < 1 || days > 365 {
		s.sendError(w, "Days must be between 1 and 365", http.StatusBadRequest)
		return
	}

	stats, err := s.ledger.GetTradingStats(days)
	if err != nil {
		s.sendError(w, fmt.Sprintf("Failed to get stats: %v", err), http.StatusInternalServerError)
		return
	}

	today, err := s.ledger.GetTodayStats()
	if err != nil {
		s.sendError(w, fmt.Sprintf("Failed to get today stats: %v", err), http.StatusInternalServerError)
		return
	}

	s.sendSuccess(w, map[string]interface{}{
		"stats":               stats,
		"today_trades":        today.TradeCount,
		"today_realized_loss": today.RealizedLoss,
	})
}

// handlePositions - открытые позиции из зеркала счета
func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	positions, err := s.account.GetOpenPositions()
	if err != nil {
		s.sendError(w, fmt.Sprintf("Failed to get positions: %v", err), http.StatusInternalServerError)
		return
	}

	s.sendSuccess(w, map[string]interface{}{
		"count":     len(positions),
		"positions": positions,
	})
}

// Helper methods
func (s *Server) sendSuccess(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(Response{
		Success: true,
		Data:    data,
	})
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(Response{
		Success: false,
		Error:   message,
	})
}

// Helper function to parse query parameter
func getQueryParam(r *http.Request, key string, defaultValue string) string {
	if value := r.URL.Query().Get(key); value != "" {
		return value
	}
	return defaultValue
}

// Helper function to parse int query parameter
func getQueryParamInt(r *http.Request, key string, defaultValue int) int {
	if value := r.URL.Query().Get(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
