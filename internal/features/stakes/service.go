// Package stakes — service.go содержит бизнес-логику стейков:
// создание, вывод, ручной релок, автопродление и сводку для администратора.
package stakes

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/staking/internal/common"
	"serotonyl.ru/staking/internal/features/accounts"
	"serotonyl.ru/staking/internal/features/outbox"
)

// Store — хранилище стейков.
//
// Методы Find* с afterID/limit — постраничные выборки по возрастанию ID
// (keyset-пагинация по индексам (status, unlock_date) и (auto_relock, auto_relock_at)).
type Store interface {
	// CreateStake переносит тело из кошелька в стейк, вставляет стейк и
	// событие комиссии одной транзакцией. Заполняет st.ID.
	CreateStake(ctx context.Context, st *Stake, ev outbox.Event) (accounts.Balances, error)
	GetStake(ctx context.Context, id int64) (*Stake, error)
	FindActiveStakes(ctx context.Context, userID int64) ([]*Stake, error)
	FindMaturedStakes(ctx context.Context, now time.Time, afterID int64, limit int) ([]*Stake, error)
	FindDueForRelock(ctx context.Context, now time.Time, afterID int64, limit int) ([]*Stake, error)
	FindLockedStakes(ctx context.Context, afterID int64, limit int) ([]*Stake, error)
	ListAllStakes(ctx context.Context) ([]*Stake, error)
	ListArchivedStakes(ctx context.Context, userID int64) ([]Archived, error)
	// AppendProfit добавляет дневное начисление в текущий цикл locked-стейка.
	// Повтор того же (stake, cycle, day) — ErrAlreadyProcessed.
	AppendProfit(ctx context.Context, stakeID int64, entry ProfitEntry) error
	// SaveUnlocked сохраняет результат Unlock, только если стейк ещё locked.
	SaveUnlocked(ctx context.Context, st *Stake) error
	// SaveRelocked сохраняет результат Relock, только если стейк ещё unlocked
	// в предыдущем цикле, и добавляет rolled к застейканному балансу.
	SaveRelocked(ctx context.Context, st *Stake, rolled decimal.Decimal) error
	SetAutoRelock(ctx context.Context, userID, stakeID int64, enabled bool) error
	// WithdrawStake архивирует unlocked-стейк, снимает original со стейка и
	// зачисляет current на кошелёк.
	WithdrawStake(ctx context.Context, userID, stakeID int64, now time.Time) (accounts.Balances, *Stake, error)
}

// Service — бизнес-логика стейков.
type Service struct {
	store  Store
	policy Policy
	sink   outbox.Sink
	clock  common.Clock
	loc    *time.Location
}

// NewService создаёт сервис стейков.
func NewService(store Store, policy Policy, sink outbox.Sink, clock common.Clock, loc *time.Location) *Service {
	if sink == nil {
		sink = outbox.NopSink{}
	}
	if clock == nil {
		clock = common.SystemClock{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{store: store, policy: policy, sink: sink, clock: clock, loc: loc}
}

// Policy возвращает текущие параметры стейкинга.
func (s *Service) Policy() Policy { return s.policy }

// CreateInput — запрос на создание стейка.
type CreateInput struct {
	UserID     int64
	Principal  decimal.Decimal
	LockPeriod int
}

// CreateResult — созданный стейк и балансы после переноса.
type CreateResult struct {
	Stake    *Stake            `json:"stake"`
	Balances accounts.Balances `json:"balances"`
}

// CreateStake открывает стейк: тело уходит из кошелька в застейканный баланс,
// спонсорам начисляются комиссии (после коммита, сбой не откатывает стейк).
func (s *Service) CreateStake(ctx context.Context, in CreateInput) (*CreateResult, error) {
	principal := common.RoundMoney(in.Principal)
	if !principal.IsPositive() {
		return nil, common.ErrInvalidAmount
	}
	if !s.policy.ValidLockPeriod(in.LockPeriod) {
		return nil, fmt.Errorf("%d %s: %w", in.LockPeriod, common.PluralizeDays(in.LockPeriod), common.ErrInvalidLockPeriod)
	}

	now := s.clock.Now()
	st := New(in.UserID, principal, in.LockPeriod, now)
	ev := outbox.NewEvent(in.UserID, outbox.KindStake, principal, now)

	b, err := s.store.CreateStake(ctx, st, ev)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"user_id":     in.UserID,
		"stake_id":    st.ID,
		"amount":      common.FormatMoney(principal),
		"lock_period": in.LockPeriod,
		"unlock_date": st.UnlockDate.Format(time.RFC3339),
	}).Info("Создан стейк")

	if err := s.sink.Dispatch(ctx, ev); err != nil {
		log.WithError(err).WithField("event_id", ev.ID).Warn("Комиссии по стейку отложены")
	}
	return &CreateResult{Stake: st, Balances: b}, nil
}

// ListForUser возвращает текущие (не выведенные) стейки пользователя.
func (s *Service) ListForUser(ctx context.Context, userID int64) ([]*Stake, error) {
	return s.store.FindActiveStakes(ctx, userID)
}

// ListArchived возвращает выведенные стейки пользователя.
func (s *Service) ListArchived(ctx context.Context, userID int64) ([]Archived, error) {
	return s.store.ListArchivedStakes(ctx, userID)
}

// Get возвращает стейк пользователя; чужой стейк неотличим от несуществующего.
func (s *Service) Get(ctx context.Context, userID, stakeID int64) (*Stake, error) {
	st, err := s.store.GetStake(ctx, stakeID)
	if err != nil {
		return nil, err
	}
	if st.UserID != userID {
		return nil, common.ErrNotFound
	}
	return st, nil
}

// Withdraw выводит разблокированный стейк: кошелёк += currentAmount.
// Заблокированный стейк — ErrStakeLocked.
func (s *Service) Withdraw(ctx context.Context, userID, stakeID int64) (accounts.Balances, error) {
	b, st, err := s.store.WithdrawStake(ctx, userID, stakeID, s.clock.Now())
	if err != nil {
		return accounts.Balances{}, err
	}
	log.WithFields(log.Fields{
		"user_id":  userID,
		"stake_id": stakeID,
		"credited": common.FormatMoney(st.CurrentAmount),
		"cycle":    st.Cycle,
	}).Info("Стейк выведен")
	return b, nil
}

// Relock вручную запускает новый цикл разблокированного стейка.
// lockPeriod == 0 — прежний срок.
func (s *Service) Relock(ctx context.Context, userID, stakeID int64, lockPeriod int) (*Stake, error) {
	if lockPeriod != 0 && !s.policy.ValidLockPeriod(lockPeriod) {
		return nil, common.ErrInvalidLockPeriod
	}
	st, err := s.Get(ctx, userID, stakeID)
	if err != nil {
		return nil, err
	}
	if st.Status == StatusLocked {
		return nil, common.ErrStakeLocked
	}
	rolled, err := st.Relock(s.clock.Now(), lockPeriod)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveRelocked(ctx, st, rolled); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"user_id":  userID,
		"stake_id": stakeID,
		"cycle":    st.Cycle,
		"original": common.FormatMoney(st.OriginalAmount),
	}).Info("Стейк продлён вручную")
	return st, nil
}

// SetAutoRelock включает или выключает автопродление.
func (s *Service) SetAutoRelock(ctx context.Context, userID, stakeID int64, enabled bool) error {
	return s.store.SetAutoRelock(ctx, userID, stakeID, enabled)
}

// StakeView — стейк с пересчитанной сводкой для администратора.
type StakeView struct {
	*Stake
	ElapsedDays    int             `json:"elapsed_days"`
	ExpectedProfit decimal.Decimal `json:"expected_profit"`
	ProjectedTotal decimal.Decimal `json:"projected_total"`
	Drift          bool            `json:"drift"`
}

// Overview — статистика платформы.
type Overview struct {
	Stakes              []StakeView     `json:"stakes"`
	LockedCount         int             `json:"locked_count"`
	UnlockedCount       int             `json:"unlocked_count"`
	TotalValueLocked    decimal.Decimal `json:"total_value_locked"`
	TotalAccruedProfit  decimal.Decimal `json:"total_accrued_profit"`
	TotalExpectedProfit decimal.Decimal `json:"total_expected_profit"`
	TotalProjected      decimal.Decimal `json:"total_projected"`
	DriftCount          int             `json:"drift_count"`
}

// AdminOverview пересчитывает прибыль каждого стейка из originalAmount,
// startDate и прошедших дней и сравнивает с накопленной.
func (s *Service) AdminOverview(ctx context.Context) (*Overview, error) {
	all, err := s.store.ListAllStakes(ctx)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	today := common.DayOf(now, s.loc)

	ov := &Overview{
		Stakes:              make([]StakeView, 0, len(all)),
		TotalValueLocked:    decimal.Zero,
		TotalAccruedProfit:  decimal.Zero,
		TotalExpectedProfit: decimal.Zero,
		TotalProjected:      decimal.Zero,
	}
	for _, st := range all {
		elapsed := common.DaysBetween(common.DayOf(st.StartDate, s.loc), today)
		if elapsed < 0 {
			elapsed = 0
		}
		if elapsed > st.LockPeriod {
			elapsed = st.LockPeriod
		}
		daily := DailyProfit(st.OriginalAmount, s.policy.DailyRate)
		expected := daily.Mul(decimal.NewFromInt(int64(elapsed)))
		projected := st.OriginalAmount.Add(daily.Mul(decimal.NewFromInt(int64(st.LockPeriod))))

		// отставание на один день нормально: начисление идёт раз в сутки
		lag := expected.Sub(st.TotalProfit)
		v := StakeView{
			Stake:          st,
			ElapsedDays:    elapsed,
			ExpectedProfit: expected,
			ProjectedTotal: projected,
			Drift:          st.Status == StatusLocked && (lag.IsNegative() || lag.GreaterThan(daily)),
		}
		ov.Stakes = append(ov.Stakes, v)

		switch st.Status {
		case StatusLocked:
			ov.LockedCount++
		case StatusUnlocked:
			ov.UnlockedCount++
		}
		ov.TotalValueLocked = ov.TotalValueLocked.Add(st.OriginalAmount)
		ov.TotalAccruedProfit = ov.TotalAccruedProfit.Add(st.TotalProfit)
		ov.TotalExpectedProfit = ov.TotalExpectedProfit.Add(expected)
		ov.TotalProjected = ov.TotalProjected.Add(projected)
		if v.Drift {
			ov.DriftCount++
		}
	}
	return ov, nil
}
