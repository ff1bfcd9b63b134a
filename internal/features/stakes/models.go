// Package stakes — стейки пользователей: создание, хранение, переходы
// locked → unlocked → locked (следующий цикл) и вывод.
package stakes

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"serotonyl.ru/staking/internal/common"
)

// Status — состояние стейка.
type Status string

const (
	StatusLocked   Status = "locked"
	StatusUnlocked Status = "unlocked"
)

// DefaultLockPeriods — допустимые сроки блокировки в днях.
var DefaultLockPeriods = []int{30, 60, 90, 180, 365, 730, 1095, 1460, 1825}

// ProfitEntry — начисление прибыли за один календарный день цикла.
type ProfitEntry struct {
	Cycle     int             `json:"cycle"`
	Day       time.Time       `json:"day"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

// Stake — одна позиция стейкинга.
type Stake struct {
	ID             int64           `json:"id"`
	UserID         int64           `json:"user_id"`
	OriginalAmount decimal.Decimal `json:"original_amount"`
	CurrentAmount  decimal.Decimal `json:"current_amount"`
	TotalProfit    decimal.Decimal `json:"total_profit"`
	ProfitHistory  []ProfitEntry   `json:"profit_history"`
	StartDate      time.Time       `json:"start_date"`
	UnlockDate     time.Time       `json:"unlock_date"`
	LockPeriod     int             `json:"lock_period"`
	Status         Status          `json:"status"`
	Cycle          int             `json:"cycle"`
	AutoRelock     bool            `json:"auto_relock"`
	AutoRelockAt   *time.Time      `json:"auto_relock_at,omitempty"`
	// Последний день текущего цикла, за который уже начислена прибыль
	AccruedThrough *time.Time `json:"accrued_through,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Archived — снимок выведенного стейка (таблица stakes_archive).
type Archived struct {
	Stake       Stake     `json:"stake"`
	WithdrawnAt time.Time `json:"withdrawn_at"`
}

// Policy — параметры стейкинга из конфигурации.
type Policy struct {
	DailyRate   decimal.Decimal
	LockPeriods []int
	RelockGrace time.Duration
}

// DefaultPolicy — 1% в день, стандартные сроки, 48 часов на вывод.
func DefaultPolicy() Policy {
	return Policy{
		DailyRate:   decimal.NewFromFloat(0.01),
		LockPeriods: DefaultLockPeriods,
		RelockGrace: 48 * time.Hour,
	}
}

// ValidLockPeriod — входит ли срок в список допустимых.
func (p Policy) ValidLockPeriod(days int) bool {
	return slices.Contains(p.LockPeriods, days)
}

// DailyProfit — прибыль за один день: originalAmount × rate, до центов.
func DailyProfit(original, rate decimal.Decimal) decimal.Decimal {
	return common.RoundMoney(original.Mul(rate))
}

// New собирает locked-стейк первого цикла. Валидация — на стороне сервиса.
func New(userID int64, principal decimal.Decimal, lockPeriod int, now time.Time) *Stake {
	return &Stake{
		UserID:         userID,
		OriginalAmount: principal,
		CurrentAmount:  principal,
		TotalProfit:    decimal.Zero,
		StartDate:      now,
		UnlockDate:     now.AddDate(0, 0, lockPeriod),
		LockPeriod:     lockPeriod,
		Status:         StatusLocked,
		Cycle:          1,
		AutoRelock:     true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Matured — срок блокировки истёк.
func (s *Stake) Matured(now time.Time) bool {
	return s.Status == StatusLocked && !now.Before(s.UnlockDate)
}

// DueForRelock — разблокированный стейк с автопродлением, окно на вывод прошло.
func (s *Stake) DueForRelock(now time.Time) bool {
	return s.Status == StatusUnlocked && s.AutoRelock &&
		s.AutoRelockAt != nil && !now.Before(*s.AutoRelockAt)
}

// Unlock переводит стейк в unlocked: currentAmount = original + прибыль,
// автопродление не раньше now + grace.
// Для уже разблокированного стейка ErrAlreadyProcessed, для незрелого ErrStakeLocked.
func (s *Stake) Unlock(now time.Time, grace time.Duration) error {
	if s.Status != StatusLocked {
		return common.ErrAlreadyProcessed
	}
	if now.Before(s.UnlockDate) {
		return common.ErrStakeLocked
	}
	s.CurrentAmount = s.OriginalAmount.Add(s.TotalProfit)
	s.Status = StatusUnlocked
	at := now.Add(grace)
	s.AutoRelockAt = &at
	s.UpdatedAt = now
	return nil
}

// Relock начинает следующий цикл с currentAmount в качестве тела.
// lockPeriod <= 0 сохраняет прежний срок. Возвращает прибыль,
// перекатившуюся в тело: на неё растёт застейканный баланс.
func (s *Stake) Relock(now time.Time, lockPeriod int) (decimal.Decimal, error) {
	if s.Status != StatusUnlocked {
		return decimal.Zero, common.ErrAlreadyProcessed
	}
	if lockPeriod <= 0 {
		lockPeriod = s.LockPeriod
	}
	rolled := s.CurrentAmount.Sub(s.OriginalAmount)
	s.OriginalAmount = s.CurrentAmount
	s.TotalProfit = decimal.Zero
	s.Cycle++
	s.StartDate = now
	s.LockPeriod = lockPeriod
	s.UnlockDate = now.AddDate(0, 0, lockPeriod)
	s.Status = StatusLocked
	s.AutoRelockAt = nil
	s.AccruedThrough = nil
	s.UpdatedAt = now
	return rolled, nil
}

// DueDays — календарные дни текущего цикла, за которые прибыль ещё не начислена:
// startDay < D ≤ min(today, unlockDay), после AccruedThrough.
func (s *Stake) DueDays(now time.Time, loc *time.Location) []time.Time {
	if s.Status != StatusLocked {
		return nil
	}
	from := common.DayOf(s.StartDate, loc)
	if s.AccruedThrough != nil && s.AccruedThrough.After(from) {
		from = *s.AccruedThrough
	}
	to := common.DayOf(now, loc)
	if unlockDay := common.DayOf(s.UnlockDate, loc); unlockDay.Before(to) {
		to = unlockDay
	}
	var days []time.Time
	for d := from.AddDate(0, 0, 1); !d.After(to); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// AccruedDays — сколько дней текущего цикла уже начислено, по истории.
func (s *Stake) AccruedDays() int {
	n := 0
	for _, e := range s.ProfitHistory {
		if e.Cycle == s.Cycle {
			n++
		}
	}
	return n
}

// HasProfitFor — есть ли в истории начисление за день текущего цикла.
func (s *Stake) HasProfitFor(day time.Time) bool {
	for _, e := range s.ProfitHistory {
		if e.Cycle == s.Cycle && e.Day.Equal(day) {
			return true
		}
	}
	return false
}

// Clone — глубокая копия (история и указатели не разделяются).
func (s *Stake) Clone() *Stake {
	c := *s
	c.ProfitHistory = slices.Clone(s.ProfitHistory)
	if s.AutoRelockAt != nil {
		t := *s.AutoRelockAt
		c.AutoRelockAt = &t
	}
	if s.AccruedThrough != nil {
		t := *s.AccruedThrough
		c.AccruedThrough = &t
	}
	return &c
}
