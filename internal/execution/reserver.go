package execution

import "sync"

// BalanceReserver сериализует резервирование баланса внутри тика.
// Снапшот счета читается один раз на тик, поэтому два параллельно принятых
// сигнала видят одинаковый доступный баланс. Единая точка мутации не дает
// им вместе переподписать счет: каждый акцепт резервирует размер, исход
// либо фиксирует трату, либо возвращает резерв.
type BalanceReserver struct {
	mu    sync.Mutex
	pot   float64 // доступный баланс на момент начала тика
	held  float64 // зарезервировано исполнениями в полете
	spent float64 // зафиксировано подтвержденными исполнениями
}

func NewBalanceReserver() *BalanceReserver {
	return &BalanceReserver{}
}

// BeginTick сбрасывает резервы под свежий снапшот баланса.
// Вызывается ровно один раз в начале каждого тика.
func (r *BalanceReserver) BeginTick(available float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pot = available
	r.held = 0
	r.spent = 0
}

// Reserve пытается зарезервировать amount из остатка снапшота.
// false означает, что параллельные исполнения уже заняли остаток.
func (r *BalanceReserver) Reserve(amount float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if amount > r.pot-r.held-r.spent {
		return false
	}
	r.held += amount
	return true
}

// Commit фиксирует резерв как потраченный после подтвержденного исполнения
func (r *BalanceReserver) Commit(amount float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.held -= amount
	r.spent += amount
	if r.held < 0 {
		r.held = 0
	}
}

// Release возвращает резерв, когда исход известен и деньги не потрачены
func (r *BalanceReserver) Release(amount float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.held -= amount
	if r.held < 0 {
		r.held = 0
	}
}

// Available возвращает незарезервированный остаток снапшота
func (r *BalanceReserver) Available() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pot - r.held - r.spent
}
