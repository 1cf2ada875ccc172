package execution

import (
	"errors"
	"sync"
	"time"

	"github.com/kirillm/bitunix-signal-trader/internal/domain"
	"github.com/kirillm/bitunix-signal-trader/pkg/utils"
)

// KillSwitch аварийная остановка обработки сигналов.
// Активный kill switch не трогает сигналы в полете, он запрещает
// забирать новые pending-сигналы до ручной деактивации.
type KillSwitch struct {
	mu          sync.RWMutex
	active      bool
	activatedAt time.Time
	reason      string
	journal     domain.KillSwitchJournal
}

// NewKillSwitch создает новый kill switch
func NewKillSwitch() *KillSwitch {
	return &KillSwitch{
		active: false,
	}
}

// SetJournal подключает журнал остановок, nil допустим.
// С журналом активация переживает рестарт процесса.
func (ks *KillSwitch) SetJournal(journal domain.KillSwitchJournal) {
	ks.journal = journal
}

// Restore поднимает активную остановку из журнала после рестарта
func (ks *KillSwitch) Restore() {
	if ks.journal == nil {
		return
	}

	event, err := ks.journal.ActiveKillSwitchEvent()
	if errors.Is(err, domain.ErrNotFound) {
		return
	}
	if err != nil {
		utils.LogWarnf("⚠️ Failed to read kill switch journal: %v", err)
		return
	}

	ks.mu.Lock()
	ks.active = true
	ks.activatedAt = event.TriggeredAt
	ks.reason = event.Reason
	ks.mu.Unlock()

	utils.LogWarnf("🚨 Kill switch restored from journal: %s (active since %s)",
		event.Reason, event.TriggeredAt.Format(time.RFC3339))
}

// Activate активирует kill switch
func (ks *KillSwitch) Activate(reason string) {
	ks.mu.Lock()
	ks.active = true
	ks.activatedAt = time.Now()
	ks.reason = reason
	at := ks.activatedAt
	ks.mu.Unlock()

	utils.LogWarnf("🚨 KILL SWITCH ACTIVATED: %s", reason)

	// Остановка действует и без журнала, ошибка записи только логируется
	if ks.journal != nil {
		if err := ks.journal.RecordKillSwitchEvent(reason, at); err != nil {
			utils.LogWarnf("⚠️ Failed to journal kill switch activation: %v", err)
		}
	}
}

// Deactivate деактивирует kill switch (требует ручного вмешательства)
func (ks *KillSwitch) Deactivate() {
	ks.mu.Lock()
	ks.active = false
	ks.reason = ""
	ks.mu.Unlock()

	utils.LogInfo("✅ Kill switch deactivated")

	if ks.journal != nil {
		if err := ks.journal.ResolveKillSwitchEvents(time.Now()); err != nil {
			utils.LogWarnf("⚠️ Failed to resolve kill switch journal: %v", err)
		}
	}
}

// IsActive проверяет активен ли kill switch
func (ks *KillSwitch) IsActive() bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	return ks.active
}

// GetStatus возвращает статус kill switch
func (ks *KillSwitch) GetStatus() (bool, string, time.Time) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	return ks.active, ks.reason, ks.activatedAt
}
