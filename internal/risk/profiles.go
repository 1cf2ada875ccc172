package risk

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile именованный профиль риск-менеджмента из YAML.
// Переопределяет лимиты размеров и дневные лимиты поверх базовой
// конфигурации, качество сигналов (сила, возраст, пары) остается за env.
type Profile struct {
	MaxPositionSizeUsdt float64 `yaml:"max_position_size_usdt"`
	MaxDailyTrades      int     `yaml:"max_daily_trades"`
	MinTradeAmount      float64 `yaml:"min_trade_amount"`
	DailyLossLimit      float64 `yaml:"daily_loss_limit"`
	MaxPortfolioRisk    float64 `yaml:"max_portfolio_risk"`
	DefaultLeverage     int     `yaml:"default_leverage"`
}

// LoadProfile загружает именованный профиль из YAML файла
func LoadProfile(path, name string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load risk profiles: %w", err)
	}

	var config struct {
		RiskProfiles map[string]Profile `yaml:"risk_profiles"`
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse risk profiles: %w", err)
	}

	profile, ok := config.RiskProfiles[name]
	if !ok {
		return nil, fmt.Errorf("risk profile %q not found in %s", name, path)
	}
	return &profile, nil
}

// Apply накладывает профиль на лимиты
func (p *Profile) Apply(limits *Limits) {
	limits.MaxPositionSizeUsdt = p.MaxPositionSizeUsdt
	limits.MaxDailyTrades = p.MaxDailyTrades
	limits.MinTradeAmount = p.MinTradeAmount
	limits.DailyLossLimit = p.DailyLossLimit
	limits.MaxPortfolioRisk = p.MaxPortfolioRisk
	limits.DefaultLeverage = p.DefaultLeverage
}
