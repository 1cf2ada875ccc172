package telegram

import (
	"fmt"
	"strings"
	"time"

	"github.com/kirillm/bitunix-signal-trader/internal/domain"
)

// Lang представляет язык
type Lang string

const (
	LangEN Lang = "en"
	LangRU Lang = "ru"
)

// Formatter форматирует ответы для пользователя
type Formatter struct {
	lang Lang
}

// NewFormatter создает новый форматтер
func NewFormatter(lang Lang) *Formatter {
	if lang != LangRU && lang != LangEN {
		lang = LangEN
	}
	return &Formatter{lang: lang}
}

// SetLang устанавливает язык
func (f *Formatter) SetLang(lang Lang) {
	f.lang = lang
}

// GetLang возвращает текущий язык
func (f *Formatter) GetLang() Lang {
	return f.lang
}

// T переводит строку
func (f *Formatter) T(key string) string {
	translations := map[string]map[Lang]string{
		"status":              {LangEN: "Pipeline Status", LangRU: "Статус пайплайна"},
		"stats":               {LangEN: "Trading Stats", LangRU: "Торговая статистика"},
		"trades":              {LangEN: "Recent Trades", LangRU: "Последние сделки"},
		"running":             {LangEN: "Running", LangRU: "Работает"},
		"paused":              {LangEN: "Paused", LangRU: "На паузе"},
		"gateway":             {LangEN: "Gateway", LangRU: "Шлюз"},
		"balance":             {LangEN: "Balance", LangRU: "Баланс"},
		"positions":           {LangEN: "Open Positions", LangRU: "Открытые позиции"},
		"in_flight":           {LangEN: "Awaiting Retry", LangRU: "Ждут повтора"},
		"uptime":              {LangEN: "Uptime", LangRU: "Время работы"},
		"auto_trading":        {LangEN: "Auto-Trading", LangRU: "Автоторговля"},
		"enabled":             {LangEN: "Enabled", LangRU: "Включена"},
		"disabled":            {LangEN: "Disabled", LangRU: "Выключена"},
		"no_trades":           {LangEN: "No trades yet", LangRU: "Сделок пока нет"},
		"trade_executed":      {LangEN: "Trade Executed", LangRU: "Сделка исполнена"},
		"execution_failed":    {LangEN: "Execution Failed", LangRU: "Исполнение не удалось"},
		"total_trades":        {LangEN: "Trades", LangRU: "Сделок"},
		"volume":              {LangEN: "Volume", LangRU: "Объем"},
		"realized_pnl":        {LangEN: "Realized P&L", LangRU: "Реализованный P&L"},
		"win_rate":            {LangEN: "Win Rate", LangRU: "Доля прибыльных"},
		"error":               {LangEN: "Error", LangRU: "Ошибка"},
		"access_denied":       {LangEN: "Access denied", LangRU: "Доступ запрещен"},
		"admin_required":      {LangEN: "Admin permission required", LangRU: "Требуются права администратора"},
		"rate_limit_exceeded": {LangEN: "Too many requests, please wait", LangRU: "Слишком много запросов, подождите"},
		"pause_done":          {LangEN: "Trading paused, in-flight executions will finish", LangRU: "Торговля на паузе, текущие исполнения будут завершены"},
		"resume_done":         {LangEN: "Trading resumed", LangRU: "Торговля возобновлена"},
	}

	if trans, ok := translations[key]; ok {
		if val, ok := trans[f.lang]; ok {
			return val
		}
	}
	return key
}

// FormatStatus форматирует статус пайплайна
func (f *Formatter) FormatStatus(data map[string]interface{}) string {
	var sb strings.Builder

	sb.WriteString("📊 ")
	sb.WriteString(f.T("status"))
	sb.WriteString("\n\n")

	if paused, ok := data["kill_switch"].(bool); ok {
		if paused {
			sb.WriteString("🚨 " + f.T("paused") + "\n")
		} else {
			sb.WriteString("🟢 " + f.T("running") + "\n")
		}
	}

	if gateway, ok := data["gateway"].(string); ok {
		sb.WriteString(fmt.Sprintf("%s: %s\n", f.T("gateway"), gateway))
	}

	if autoTrading, ok := data["auto_trading"].(bool); ok {
		state := f.T("disabled")
		if autoTrading {
			state = f.T("enabled")
		}
		sb.WriteString(fmt.Sprintf("%s: %s\n", f.T("auto_trading"), state))
	}

	if balance, ok := data["balance"].(float64); ok {
		sb.WriteString(fmt.Sprintf("%s: %.2f USDT\n", f.T("balance"), balance))
	}

	if positions, ok := data["positions"].(int); ok {
		sb.WriteString(fmt.Sprintf("%s: %d\n", f.T("positions"), positions))
	}

	if inFlight, ok := data["in_flight"].(int); ok {
		sb.WriteString(fmt.Sprintf("%s: %d\n", f.T("in_flight"), inFlight))
	}

	if uptime, ok := data["uptime"].(string); ok {
		sb.WriteString(fmt.Sprintf("%s: %s\n", f.T("uptime"), uptime))
	}

	return sb.String()
}

// FormatTradeExecuted форматирует уведомление об исполненной сделке
func (f *Formatter) FormatTradeExecuted(trade *domain.Trade) string {
	emoji := "🟢"
	if trade.Side == domain.SideSell {
		emoji = "🔴"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s %s: %s %s\n", emoji, f.T("trade_executed"), trade.Side, trade.Symbol))
	sb.WriteString(fmt.Sprintf("   %.2f USDT @ $%.4f\n", trade.AmountUSDT, trade.Price))

	if trade.Leverage > 1 {
		sb.WriteString(fmt.Sprintf("   Leverage: %dx\n", trade.Leverage))
	}

	if trade.RealizedPnL != 0 {
		pnlEmoji := "📈"
		if trade.RealizedPnL < 0 {
			pnlEmoji = "📉"
		}
		sb.WriteString(fmt.Sprintf("   %s P&L: $%.2f\n", pnlEmoji, trade.RealizedPnL))
	}

	if trade.PaperTrade {
		sb.WriteString("   📝 PAPER\n")
	}

	sb.WriteString(fmt.Sprintf("   Signal #%d", trade.SignalID))
	return sb.String()
}

// FormatExecutionFailed форматирует уведомление о неудачном исполнении
func (f *Formatter) FormatExecutionFailed(signalID int64, symbol, reason string) string {
	return fmt.Sprintf("❌ %s: %s\nSignal #%d: %s", f.T("execution_failed"), symbol, signalID, reason)
}

// FormatTrades форматирует список последних сделок
func (f *Formatter) FormatTrades(trades []domain.Trade) string {
	var sb strings.Builder

	sb.WriteString("📜 ")
	sb.WriteString(f.T("trades"))
	sb.WriteString("\n\n")

	if len(trades) == 0 {
		sb.WriteString(f.T("no_trades"))
		return sb.String()
	}

	for i, trade := range trades {
		emoji := "🟢"
		if trade.Side == domain.SideSell {
			emoji = "🔴"
		}

		sb.WriteString(fmt.Sprintf("%s %d. %s %s\n", emoji, i+1, trade.Side, trade.Symbol))
		sb.WriteString(fmt.Sprintf("   %.2f USDT @ $%.4f\n", trade.AmountUSDT, trade.Price))
		if trade.RealizedPnL != 0 {
			sb.WriteString(fmt.Sprintf("   P&L: $%.2f\n", trade.RealizedPnL))
		}
		if trade.PaperTrade {
			sb.WriteString("   📝 PAPER\n")
		}
		sb.WriteString(fmt.Sprintf("   %s\n\n", trade.CreatedAt.Format("2006-01-02 15:04")))
	}

	return sb.String()
}

// FormatStats форматирует агрегированную статистику торговли
func (f *Formatter) FormatStats(stats domain.TradingStats) string {
	var sb strings.Builder

	sb.WriteString("📊 ")
	sb.WriteString(f.T("stats"))
	if f.lang == LangRU {
		sb.WriteString(fmt.Sprintf(" (%d дн.)\n\n", stats.Days))
	} else {
		sb.WriteString(fmt.Sprintf(" (%d days)\n\n", stats.Days))
	}

	sb.WriteString(fmt.Sprintf("%s: %d (🟢 %d / 🔴 %d)\n",
		f.T("total_trades"), stats.TotalTrades, stats.BuyTrades, stats.SellTrades))
	sb.WriteString(fmt.Sprintf("%s: $%.2f\n", f.T("volume"), stats.TotalVolume))

	emoji := "💰"
	if stats.RealizedPnL < 0 {
		emoji = "💸"
	}
	sb.WriteString(fmt.Sprintf("%s %s: $%.2f\n", emoji, f.T("realized_pnl"), stats.RealizedPnL))

	if stats.Wins+stats.Losses > 0 {
		winRate := float64(stats.Wins) / float64(stats.Wins+stats.Losses) * 100
		sb.WriteString(fmt.Sprintf("%s: %.1f%% (%d/%d)\n",
			f.T("win_rate"), winRate, stats.Wins, stats.Wins+stats.Losses))
	}

	return sb.String()
}

// FormatError форматирует сообщение об ошибке
func (f *Formatter) FormatError(err error) string {
	return fmt.Sprintf("❌ %s: %v", f.T("error"), err)
}

// FormatDuration форматирует длительность
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	} else if d < 24*time.Hour {
		hours := int(d.Hours())
		minutes := int(d.Minutes()) % 60
		return fmt.Sprintf("%dh %dm", hours, minutes)
	} else {
		days := int(d.Hours()) / 24
		hours := int(d.Hours()) % 24
		return fmt.Sprintf("%dd %dh", days, hours)
	}
}
