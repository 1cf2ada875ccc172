package telegram

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/kirillm/bitunix-signal-trader/internal/domain"
	"github.com/kirillm/bitunix-signal-trader/internal/execution"
	"github.com/kirillm/bitunix-signal-trader/pkg/utils"
)

// лимит команд от одного пользователя в секунду
const commandsPerSecond = 3

// PipelineStatus источник состояния пайплайна для команды /status
type PipelineStatus interface {
	IsRunning() bool
	StartedAt() time.Time
}

// Bot шлет уведомления об исполнениях и принимает команды оператора
type Bot struct {
	api         *tgbotapi.BotAPI
	chatID      int64
	authManager *AuthManager
	formatter   *Formatter
	ledger      domain.TradeLedger
	account     domain.AccountMirror
	killSwitch  *execution.KillSwitch
	coordinator *execution.Coordinator
	pipeline    PipelineStatus
	gatewayName string
	autoTrading bool
}

// NewBot создает бота и проверяет токен через getMe
func NewBot(
	token string,
	chatID int64,
	adminIDs string,
	ledger domain.TradeLedger,
	account domain.AccountMirror,
	killSwitch *execution.KillSwitch,
	coordinator *execution.Coordinator,
	pipeline PipelineStatus,
	gatewayName string,
	autoTrading bool,
) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	utils.LogInfof("🤖 Telegram bot authorized: @%s", api.Self.UserName)

	defaultLang := LangEN
	if os.Getenv("DEFAULT_LANG") == "ru" {
		defaultLang = LangRU
	}

	b := &Bot{
		api:         api,
		chatID:      chatID,
		authManager: NewAuthManager(adminIDs),
		formatter:   NewFormatter(defaultLang),
		ledger:      ledger,
		account:     account,
		killSwitch:  killSwitch,
		coordinator: coordinator,
		pipeline:    pipeline,
		gatewayName: gatewayName,
		autoTrading: autoTrading,
	}

	go b.cleanupRateLimiters()

	return b, nil
}

// Start запускает обработку входящих команд, блокирует до Stop
func (b *Bot) Start() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	b.notify(fmt.Sprintf("🚀 Signal trader started!\nGateway: %s\nUse /help to see available commands.", b.gatewayName))

	for update := range updates {
		if update.Message != nil {
			go b.handleMessage(update.Message)
		}
	}
}

// Stop останавливает прием команд
func (b *Bot) Stop() {
	b.notify("🛑 Signal trader shutting down")
	b.api.StopReceivingUpdates()
}

// TradeExecuted реализует уведомление координатора об исполненной сделке
func (b *Bot) TradeExecuted(trade *domain.Trade) {
	b.notify(b.formatter.FormatTradeExecuted(trade))
}

// ExecutionFailed реализует уведомление координатора о провале исполнения
func (b *Bot) ExecutionFailed(signalID int64, symbol, reason string) {
	b.notify(b.formatter.FormatExecutionFailed(signalID, symbol, reason))
}

// handleMessage обрабатывает входящее сообщение
func (b *Bot) handleMessage(message *tgbotapi.Message) {
	chatID := message.Chat.ID
	userID := message.From.ID

	if err := b.authManager.CheckRateLimit(userID, commandsPerSecond); err != nil {
		b.sendToChat(chatID, b.formatter.T("rate_limit_exceeded"))
		return
	}

	if !message.IsCommand() {
		b.sendToChat(chatID, "Use /help to see available commands.")
		return
	}

	utils.LogInfof("📨 Command from user %d: %s", userID, message.Text)
	b.sendToChat(chatID, b.dispatch(message))
}

// dispatch выполняет команду и возвращает текст ответа
func (b *Bot) dispatch(message *tgbotapi.Message) string {
	userID := message.From.ID

	switch message.Command() {
	case "start", "help":
		return b.handleHelp()
	case "status":
		return b.handleStatus()
	case "stats":
		return b.handleStats(message.CommandArguments())
	case "trades":
		return b.handleTrades(message.CommandArguments())
	case "pause":
		if err := b.authManager.RequireAdmin(userID); err != nil {
			utils.LogWarnf("⚠️ Unauthorized /pause from user %d", userID)
			return b.formatter.T("admin_required")
		}
		b.killSwitch.Activate(fmt.Sprintf("paused via telegram by user %d", userID))
		return "🚨 " + b.formatter.T("pause_done")
	case "resume":
		if err := b.authManager.RequireAdmin(userID); err != nil {
			utils.LogWarnf("⚠️ Unauthorized /resume from user %d", userID)
			return b.formatter.T("admin_required")
		}
		b.killSwitch.Deactivate()
		return "✅ " + b.formatter.T("resume_done")
	default:
		return "Unknown command. Use /help to see available commands."
	}
}

func (b *Bot) handleHelp() string {
	return `🤖 Signal Trader Bot

/status - pipeline state, balance and open positions
/stats [days] - trading stats for the last N days (default 7)
/trades [limit] - recent trades (default 5)
/pause - stop picking up new signals (admin)
/resume - resume signal pickup (admin)
/help - this message`
}

func (b *Bot) handleStatus() string {
	data := map[string]interface{}{
		"kill_switch":  b.killSwitch.IsActive(),
		"gateway":      b.gatewayName,
		"auto_trading": b.autoTrading,
		"in_flight":    b.coordinator.InFlightCount(),
	}

	if state, err := b.account.GetAccountState(); err == nil {
		data["balance"] = state.AvailableBalance
		data["positions"] = len(state.OpenPositions)
	} else {
		utils.LogWarnf("⚠️ Failed to read account mirror for /status: %v", err)
	}

	if b.pipeline != nil && b.pipeline.IsRunning() {
		data["uptime"] = FormatDuration(time.Since(b.pipeline.StartedAt()))
	}

	return b.formatter.FormatStatus(data)
}

func (b *Bot) handleStats(args string) string {
	days := 7
	if parsed, err := strconv.Atoi(strings.TrimSpace(args)); err == nil && parsed > 0 {
		days = parsed
	}

	stats, err := b.ledger.GetTradingStats(days)
	if err != nil {
		return b.formatter.FormatError(err)
	}
	return b.formatter.FormatStats(stats)
}

func (b *Bot) handleTrades(args string) string {
	limit := 5
	if parsed, err := strconv.Atoi(strings.TrimSpace(args)); err == nil && parsed > 0 && parsed <= 20 {
		limit = parsed
	}

	trades, err := b.ledger.GetRecentTrades(limit)
	if err != nil {
		return b.formatter.FormatError(err)
	}
	return b.formatter.FormatTrades(trades)
}

// notify отправляет сообщение в настроенный чат, при chatID=0 всем админам
func (b *Bot) notify(text string) {
	if text == "" {
		return
	}

	if b.chatID == 0 {
		for _, adminID := range b.authManager.GetAdminIDs() {
			b.sendToChat(adminID, text)
		}
		return
	}

	b.sendToChat(b.chatID, text)
}

// sendToChat отправляет сообщение в конкретный чат
func (b *Bot) sendToChat(chatID int64, text string) {
	// Разбиваем длинные сообщения
	const maxLength = 4096
	messages := splitMessage(text, maxLength)

	for _, msg := range messages {
		message := tgbotapi.NewMessage(chatID, msg)
		message.ParseMode = "Markdown"
		if _, err := b.api.Send(message); err != nil {
			utils.LogErrorf("❌ Failed to send telegram message to chat %d: %v", chatID, err)
		}
	}
}

// splitMessage разбивает текст на части не длиннее maxLength по границам строк
func splitMessage(text string, maxLength int) []string {
	if len(text) <= maxLength {
		return []string{text}
	}

	var messages []string
	lines := strings.Split(text, "\n")
	currentMessage := ""

	for _, line := range lines {
		if len(currentMessage)+len(line)+1 > maxLength {
			messages = append(messages, currentMessage)
			currentMessage = line
		} else {
			if currentMessage != "" {
				currentMessage += "\n"
			}
			currentMessage += line
		}
	}

	if currentMessage != "" {
		messages = append(messages, currentMessage)
	}

	return messages
}

// cleanupRateLimiters периодически очищает старые rate limiters
func (b *Bot) cleanupRateLimiters() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		b.authManager.CleanupRateLimiters()
	}
}
