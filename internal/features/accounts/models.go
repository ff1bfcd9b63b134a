// Package accounts — леджер пользователя: кошелёк, застейканный баланс,
// реферальный код и накопители комиссий.
package accounts

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account — учётная запись пользователя платформы (таблица accounts).
type Account struct {
	ID             int64           `json:"id"`
	Email          string          `json:"email"`
	TelegramChatID *int64          `json:"telegram_chat_id,omitempty"`
	WalletBalance  decimal.Decimal `json:"wallet_balance"`
	StakedBalance  decimal.Decimal `json:"staked_balance"`
	ReferralCode   string          `json:"referral_code"`
	ReferredBy     *int64          `json:"referred_by,omitempty"`
	Commissions    Commissions     `json:"commissions"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Balances — снимок двух балансов после операции.
type Balances struct {
	UserID        int64           `json:"user_id"`
	WalletBalance decimal.Decimal `json:"wallet_balance"`
	StakedBalance decimal.Decimal `json:"staked_balance"`
}

// Commissions — накопители реферальных начислений.
// ReferralEarnings копит первый уровень, LevelIncome второй и третий,
// LevelNIncome каждый уровень отдельно.
type Commissions struct {
	ReferralEarnings decimal.Decimal `json:"referral_earnings"`
	LevelIncome      decimal.Decimal `json:"level_income"`
	Level1Income     decimal.Decimal `json:"level1_income"`
	Level2Income     decimal.Decimal `json:"level2_income"`
	Level3Income     decimal.Decimal `json:"level3_income"`
}

// Add учитывает одну комиссию уровня level (1..3).
func (c Commissions) Add(level int, amount decimal.Decimal) Commissions {
	switch level {
	case 1:
		c.ReferralEarnings = c.ReferralEarnings.Add(amount)
		c.Level1Income = c.Level1Income.Add(amount)
	case 2:
		c.LevelIncome = c.LevelIncome.Add(amount)
		c.Level2Income = c.Level2Income.Add(amount)
	case 3:
		c.LevelIncome = c.LevelIncome.Add(amount)
		c.Level3Income = c.Level3Income.Add(amount)
	}
	return c
}

// Equal сравнивает накопители по значению.
func (c Commissions) Equal(o Commissions) bool {
	return c.ReferralEarnings.Equal(o.ReferralEarnings) &&
		c.LevelIncome.Equal(o.LevelIncome) &&
		c.Level1Income.Equal(o.Level1Income) &&
		c.Level2Income.Equal(o.Level2Income) &&
		c.Level3Income.Equal(o.Level3Income)
}

// Deposit — одобренное пополнение кошелька (таблица deposits).
type Deposit struct {
	ID         int64           `json:"id"`
	UserID     int64           `json:"user_id"`
	Amount     decimal.Decimal `json:"amount"`
	Reference  string          `json:"reference,omitempty"`
	ApprovedAt time.Time       `json:"approved_at"`
}

// RegisterInput — данные регистрации.
type RegisterInput struct {
	Email          string `json:"email"`
	SponsorCode    string `json:"sponsor_code,omitempty"`
	TelegramChatID *int64 `json:"telegram_chat_id,omitempty"`
}
