// Package memory — хранилище в памяти процесса. Реализует интерфейсы
// хранилищ аккаунтов, стейков и рефералов с теми же гарантиями, что и
// PostgreSQL-репозитории: условные переходы, уникальные ключи леджера,
// атомарность составных операций (под одним мьютексом).
//
// Используется в тестах и при STORAGE_DRIVER=memory для локального запуска.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"serotonyl.ru/staking/internal/common"
	"serotonyl.ru/staking/internal/features/accounts"
	"serotonyl.ru/staking/internal/features/outbox"
	"serotonyl.ru/staking/internal/features/referrals"
	"serotonyl.ru/staking/internal/features/stakes"
)

type entryKey struct {
	event       uuid.UUID
	beneficiary int64
	level       int
}

type linkKey struct {
	ancestor   int64
	descendant int64
}

// Store — in-memory хранилище.
type Store struct {
	mu    sync.Mutex
	clock common.Clock

	nextAccountID int64
	nextDepositID int64
	nextStakeID   int64
	nextEntryID   int64

	accounts map[int64]*accounts.Account
	byCode   map[string]int64
	byEmail  map[string]int64
	byChat   map[int64]int64
	deposits []accounts.Deposit

	stakes  map[int64]*stakes.Stake
	archive []stakes.Archived

	links    []referrals.Link
	linkSet  map[linkKey]bool
	entries  []referrals.Entry
	entrySet map[entryKey]bool

	events     map[uuid.UUID]*outbox.Event
	eventOrder []uuid.UUID

	attempts []loginAttempt
}

type loginAttempt struct {
	source  string
	success bool
	at      time.Time
}

// New создаёт пустое хранилище. clock нужен для created_at/updated_at.
func New(clock common.Clock) *Store {
	if clock == nil {
		clock = common.SystemClock{}
	}
	return &Store{
		clock:    clock,
		accounts: make(map[int64]*accounts.Account),
		byCode:   make(map[string]int64),
		byEmail:  make(map[string]int64),
		byChat:   make(map[int64]int64),
		stakes:   make(map[int64]*stakes.Stake),
		linkSet:  make(map[linkKey]bool),
		entrySet: make(map[entryKey]bool),
		events:   make(map[uuid.UUID]*outbox.Event),
	}
}

// Ping всегда успешен; нужен /healthz.
func (s *Store) Ping(context.Context) error { return nil }

// ---------------------------------------------------------------------------
// Аккаунты
// ---------------------------------------------------------------------------

func copyAccount(a *accounts.Account) *accounts.Account {
	c := *a
	return &c
}

// CreateAccount вставляет аккаунт с нулевыми балансами.
func (s *Store) CreateAccount(_ context.Context, a *accounts.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[a.Email]; ok {
		return common.ErrAlreadyExists
	}
	if _, ok := s.byCode[a.ReferralCode]; ok {
		return common.ErrAlreadyExists
	}
	if a.TelegramChatID != nil {
		if _, ok := s.byChat[*a.TelegramChatID]; ok {
			return common.ErrAlreadyExists
		}
	}
	if a.ReferredBy != nil {
		if _, ok := s.accounts[*a.ReferredBy]; !ok {
			return common.ErrNotFound
		}
	}

	s.nextAccountID++
	now := s.clock.Now()
	a.ID = s.nextAccountID
	a.WalletBalance = decimal.Zero
	a.StakedBalance = decimal.Zero
	a.Commissions = zeroCommissions()
	a.CreatedAt = now
	a.UpdatedAt = now

	s.accounts[a.ID] = copyAccount(a)
	s.byEmail[a.Email] = a.ID
	s.byCode[a.ReferralCode] = a.ID
	if a.TelegramChatID != nil {
		s.byChat[*a.TelegramChatID] = a.ID
	}
	return nil
}

// GetAccount возвращает копию аккаунта.
func (s *Store) GetAccount(_ context.Context, id int64) (*accounts.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return copyAccount(a), nil
}

// GetAccountByReferralCode ищет аккаунт по коду.
func (s *Store) GetAccountByReferralCode(_ context.Context, code string) (*accounts.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byCode[code]
	if !ok {
		return nil, common.ErrNotFound
	}
	return copyAccount(s.accounts[id]), nil
}

// GetAccountByTelegramChat ищет аккаунт по чату.
func (s *Store) GetAccountByTelegramChat(_ context.Context, chatID int64) (*accounts.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byChat[chatID]
	if !ok {
		return nil, common.ErrNotFound
	}
	return copyAccount(s.accounts[id]), nil
}

// SetTelegramChat привязывает чат.
func (s *Store) SetTelegramChat(_ context.Context, userID, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[userID]
	if !ok {
		return common.ErrNotFound
	}
	if owner, taken := s.byChat[chatID]; taken && owner != userID {
		return common.ErrAlreadyExists
	}
	if a.TelegramChatID != nil {
		delete(s.byChat, *a.TelegramChatID)
	}
	id := chatID
	a.TelegramChatID = &id
	a.UpdatedAt = s.clock.Now()
	s.byChat[chatID] = userID
	return nil
}

func (s *Store) balances(a *accounts.Account) accounts.Balances {
	return accounts.Balances{UserID: a.ID, WalletBalance: a.WalletBalance, StakedBalance: a.StakedBalance}
}

// mutate — аналог условного UPDATE: проверка и изменение под одним локом.
func (s *Store) mutate(userID int64, amount decimal.Decimal, apply func(a *accounts.Account) bool) (accounts.Balances, error) {
	if !amount.IsPositive() {
		return accounts.Balances{UserID: userID}, common.ErrInvalidAmount
	}
	a, ok := s.accounts[userID]
	if !ok {
		return accounts.Balances{UserID: userID}, common.ErrNotFound
	}
	if !apply(a) {
		return s.balances(a), common.ErrInsufficientFunds
	}
	a.UpdatedAt = s.clock.Now()
	return s.balances(a), nil
}

func (s *Store) debit(userID int64, amount decimal.Decimal) (accounts.Balances, error) {
	return s.mutate(userID, amount, func(a *accounts.Account) bool {
		if a.WalletBalance.LessThan(amount) {
			return false
		}
		a.WalletBalance = a.WalletBalance.Sub(amount)
		return true
	})
}

func (s *Store) credit(userID int64, amount decimal.Decimal) (accounts.Balances, error) {
	return s.mutate(userID, amount, func(a *accounts.Account) bool {
		a.WalletBalance = a.WalletBalance.Add(amount)
		return true
	})
}

func (s *Store) moveToStake(userID int64, amount decimal.Decimal) (accounts.Balances, error) {
	return s.mutate(userID, amount, func(a *accounts.Account) bool {
		if a.WalletBalance.LessThan(amount) {
			return false
		}
		a.WalletBalance = a.WalletBalance.Sub(amount)
		a.StakedBalance = a.StakedBalance.Add(amount)
		return true
	})
}

func (s *Store) releaseFromStake(userID int64, amount decimal.Decimal) (accounts.Balances, error) {
	return s.mutate(userID, amount, func(a *accounts.Account) bool {
		if a.StakedBalance.LessThan(amount) {
			return false
		}
		a.StakedBalance = a.StakedBalance.Sub(amount)
		a.WalletBalance = a.WalletBalance.Add(amount)
		return true
	})
}

// DebitWallet списывает с кошелька.
func (s *Store) DebitWallet(_ context.Context, userID int64, amount decimal.Decimal) (accounts.Balances, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debit(userID, amount)
}

// CreditWallet зачисляет на кошелёк.
func (s *Store) CreditWallet(_ context.Context, userID int64, amount decimal.Decimal) (accounts.Balances, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credit(userID, amount)
}

// MoveToStake — кошелёк → стейк.
func (s *Store) MoveToStake(_ context.Context, userID int64, amount decimal.Decimal) (accounts.Balances, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moveToStake(userID, amount)
}

// ReleaseFromStake — стейк → кошелёк.
func (s *Store) ReleaseFromStake(_ context.Context, userID int64, amount decimal.Decimal) (accounts.Balances, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releaseFromStake(userID, amount)
}

// ApproveDeposit — зачисление, запись депозита и события.
func (s *Store) ApproveDeposit(_ context.Context, dep *accounts.Deposit, ev outbox.Event) (accounts.Balances, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.credit(dep.UserID, dep.Amount)
	if err != nil {
		return b, err
	}
	s.nextDepositID++
	dep.ID = s.nextDepositID
	s.deposits = append(s.deposits, *dep)
	s.insertEvent(ev)
	return b, nil
}

// Deposits — все одобренные депозиты (для тестов и отладки).
func (s *Store) Deposits() []accounts.Deposit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.deposits)
}

// ---------------------------------------------------------------------------
// Стейки
// ---------------------------------------------------------------------------

func (s *Store) insertEvent(ev outbox.Event) {
	e := ev
	s.events[e.ID] = &e
	s.eventOrder = append(s.eventOrder, e.ID)
}

// CreateStake переносит тело и вставляет стейк и событие.
func (s *Store) CreateStake(_ context.Context, st *stakes.Stake, ev outbox.Event) (accounts.Balances, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.moveToStake(st.UserID, st.OriginalAmount)
	if err != nil {
		return b, err
	}
	s.nextStakeID++
	st.ID = s.nextStakeID
	s.stakes[st.ID] = st.Clone()
	s.insertEvent(ev)
	return b, nil
}

// GetStake возвращает копию стейка.
func (s *Store) GetStake(_ context.Context, id int64) (*stakes.Stake, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stakes[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return st.Clone(), nil
}

// sortedStakes — копии стейков по возрастанию ID, прошедшие фильтр.
func (s *Store) sortedStakes(afterID int64, limit int, keep func(st *stakes.Stake) bool) []*stakes.Stake {
	ids := make([]int64, 0, len(s.stakes))
	for id := range s.stakes {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	var out []*stakes.Stake
	for _, id := range ids {
		st := s.stakes[id]
		if !keep(st) {
			continue
		}
		out = append(out, st.Clone())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// FindActiveStakes — невыведенные стейки пользователя.
func (s *Store) FindActiveStakes(_ context.Context, userID int64) ([]*stakes.Stake, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedStakes(0, 0, func(st *stakes.Stake) bool { return st.UserID == userID }), nil
}

// FindMaturedStakes — locked со сроком, истёкшим к now.
func (s *Store) FindMaturedStakes(_ context.Context, now time.Time, afterID int64, limit int) ([]*stakes.Stake, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedStakes(afterID, limit, func(st *stakes.Stake) bool { return st.Matured(now) }), nil
}

// FindDueForRelock — unlocked с наступившим автопродлением.
func (s *Store) FindDueForRelock(_ context.Context, now time.Time, afterID int64, limit int) ([]*stakes.Stake, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedStakes(afterID, limit, func(st *stakes.Stake) bool { return st.DueForRelock(now) }), nil
}

// FindLockedStakes — все locked.
func (s *Store) FindLockedStakes(_ context.Context, afterID int64, limit int) ([]*stakes.Stake, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedStakes(afterID, limit, func(st *stakes.Stake) bool { return st.Status == stakes.StatusLocked }), nil
}

// ListAllStakes — все невыведенные стейки.
func (s *Store) ListAllStakes(_ context.Context) ([]*stakes.Stake, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedStakes(0, 0, func(*stakes.Stake) bool { return true }), nil
}

// ListArchivedStakes — архив пользователя, новые сверху.
func (s *Store) ListArchivedStakes(_ context.Context, userID int64) ([]stakes.Archived, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []stakes.Archived
	for i := len(s.archive) - 1; i >= 0; i-- {
		if s.archive[i].Stake.UserID == userID {
			a := s.archive[i]
			a.Stake = *a.Stake.Clone()
			out = append(out, a)
		}
	}
	return out, nil
}

// AppendProfit добавляет начисление в текущий цикл locked-стейка.
func (s *Store) AppendProfit(_ context.Context, stakeID int64, e stakes.ProfitEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stakes[stakeID]
	if !ok || st.Status != stakes.StatusLocked || st.Cycle != e.Cycle {
		return common.ErrAlreadyProcessed
	}
	if st.HasProfitFor(e.Day) {
		return common.ErrAlreadyProcessed
	}
	st.ProfitHistory = append(st.ProfitHistory, e)
	st.TotalProfit = st.TotalProfit.Add(e.Amount)
	if st.AccruedThrough == nil || e.Day.After(*st.AccruedThrough) {
		d := e.Day
		st.AccruedThrough = &d
	}
	st.UpdatedAt = e.CreatedAt
	return nil
}

// SaveUnlocked переводит стейк в unlocked, если он ещё locked в том же цикле.
func (s *Store) SaveUnlocked(_ context.Context, in *stakes.Stake) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stakes[in.ID]
	if !ok || st.Status != stakes.StatusLocked || st.Cycle != in.Cycle {
		return common.ErrAlreadyProcessed
	}
	st.Status = stakes.StatusUnlocked
	st.CurrentAmount = st.OriginalAmount.Add(st.TotalProfit)
	if in.AutoRelockAt != nil {
		t := *in.AutoRelockAt
		st.AutoRelockAt = &t
	}
	st.UpdatedAt = in.UpdatedAt

	in.CurrentAmount = st.CurrentAmount
	in.TotalProfit = st.TotalProfit
	return nil
}

// SaveRelocked сохраняет новый цикл и увеличивает застейканный баланс.
func (s *Store) SaveRelocked(_ context.Context, in *stakes.Stake, rolled decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stakes[in.ID]
	if !ok || st.Status != stakes.StatusUnlocked || st.Cycle != in.Cycle-1 {
		return common.ErrAlreadyProcessed
	}
	a, ok := s.accounts[st.UserID]
	if !ok {
		return common.ErrNotFound
	}

	st.OriginalAmount = in.OriginalAmount
	st.CurrentAmount = in.OriginalAmount
	st.TotalProfit = decimal.Zero
	st.Cycle = in.Cycle
	st.StartDate = in.StartDate
	st.UnlockDate = in.UnlockDate
	st.LockPeriod = in.LockPeriod
	st.Status = stakes.StatusLocked
	st.AutoRelockAt = nil
	st.AccruedThrough = nil
	st.UpdatedAt = in.UpdatedAt

	if rolled.IsPositive() {
		a.StakedBalance = a.StakedBalance.Add(rolled)
		a.UpdatedAt = s.clock.Now()
	}
	return nil
}

// SetAutoRelock меняет флаг автопродления.
func (s *Store) SetAutoRelock(_ context.Context, userID, stakeID int64, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stakes[stakeID]
	if !ok || st.UserID != userID {
		return common.ErrNotFound
	}
	st.AutoRelock = enabled
	st.UpdatedAt = s.clock.Now()
	return nil
}

// WithdrawStake архивирует стейк и рассчитывается с балансами.
func (s *Store) WithdrawStake(_ context.Context, userID, stakeID int64, now time.Time) (accounts.Balances, *stakes.Stake, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stakes[stakeID]
	if !ok || st.UserID != userID {
		return accounts.Balances{}, nil, common.ErrNotFound
	}
	if st.Status != stakes.StatusUnlocked {
		return accounts.Balances{}, nil, common.ErrStakeLocked
	}
	a, ok := s.accounts[userID]
	if !ok {
		return accounts.Balances{}, nil, common.ErrNotFound
	}
	if a.StakedBalance.LessThan(st.OriginalAmount) {
		return s.balances(a), nil, common.ErrInsufficientFunds
	}

	a.StakedBalance = a.StakedBalance.Sub(st.OriginalAmount)
	a.WalletBalance = a.WalletBalance.Add(st.CurrentAmount)
	a.UpdatedAt = now

	snapshot := st.Clone()
	s.archive = append(s.archive, stakes.Archived{Stake: *snapshot, WithdrawnAt: now})
	delete(s.stakes, stakeID)
	return s.balances(a), snapshot.Clone(), nil
}

// ---------------------------------------------------------------------------
// Рефералы и outbox
// ---------------------------------------------------------------------------

// GetSponsor возвращает спонсора пользователя.
func (s *Store) GetSponsor(_ context.Context, userID int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[userID]
	if !ok {
		return 0, false, common.ErrNotFound
	}
	if a.ReferredBy == nil {
		return 0, false, nil
	}
	return *a.ReferredBy, true, nil
}

// AddLink добавляет связь; повтор игнорируется.
func (s *Store) AddLink(_ context.Context, l referrals.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := linkKey{ancestor: l.AncestorID, descendant: l.DescendantID}
	if s.linkSet[k] {
		return nil
	}
	s.linkSet[k] = true
	s.links = append(s.links, l)
	return nil
}

// ListLinks — потомки предка по уровням в порядке вступления.
func (s *Store) ListLinks(_ context.Context, ancestorID int64) ([]referrals.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []referrals.Link
	for _, l := range s.links {
		if l.AncestorID == ancestorID {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out, nil
}

// RecordCommission — запись леджера и накопители под одним локом.
func (s *Store) RecordCommission(_ context.Context, e *referrals.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := entryKey{event: e.EventID, beneficiary: e.BeneficiaryID, level: e.Level}
	if s.entrySet[k] {
		return common.ErrAlreadyProcessed
	}
	a, ok := s.accounts[e.BeneficiaryID]
	if !ok {
		return common.ErrNotFound
	}
	s.nextEntryID++
	e.ID = s.nextEntryID
	s.entrySet[k] = true
	s.entries = append(s.entries, *e)
	a.Commissions = a.Commissions.Add(e.Level, e.Amount)
	a.UpdatedAt = s.clock.Now()
	return nil
}

// ListCommissions — начисления получателю.
func (s *Store) ListCommissions(_ context.Context, beneficiaryID int64) ([]referrals.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []referrals.Entry
	for _, e := range s.entries {
		if e.BeneficiaryID == beneficiaryID {
			out = append(out, e)
		}
	}
	return out, nil
}

// PendingEvents — необработанные события в порядке записи.
func (s *Store) PendingEvents(_ context.Context, limit int) ([]outbox.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []outbox.Event
	for _, id := range s.eventOrder {
		ev := s.events[id]
		if ev.Status != outbox.StatusPending {
			continue
		}
		out = append(out, *ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// GetEvent — событие по ID (для тестов и отладки).
func (s *Store) GetEvent(_ context.Context, id uuid.UUID) (outbox.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return outbox.Event{}, common.ErrNotFound
	}
	return *ev, nil
}

// MarkEventDone закрывает событие.
func (s *Store) MarkEventDone(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return common.ErrNotFound
	}
	if ev.Status == outbox.StatusDone {
		return nil
	}
	t := at
	ev.Status = outbox.StatusDone
	ev.ProcessedAt = &t
	ev.LastError = ""
	return nil
}

// MarkEventRetry фиксирует неудачную попытку.
func (s *Store) MarkEventRetry(_ context.Context, id uuid.UUID, lastErr string, maxAttempts int) (outbox.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return "", common.ErrNotFound
	}
	ev.Attempts++
	ev.LastError = lastErr
	if ev.Attempts >= maxAttempts {
		ev.Status = outbox.StatusFailed
	} else {
		ev.Status = outbox.StatusPending
	}
	return ev.Status, nil
}

// SumCommissions пересчитывает накопители из леджера.
func (s *Store) SumCommissions(_ context.Context, userID int64) (accounts.Commissions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := zeroCommissions()
	for _, e := range s.entries {
		if e.BeneficiaryID == userID {
			c = c.Add(e.Level, e.Amount)
		}
	}
	return c, nil
}

// GetAccumulators читает накопители.
func (s *Store) GetAccumulators(_ context.Context, userID int64) (accounts.Commissions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[userID]
	if !ok {
		return accounts.Commissions{}, common.ErrNotFound
	}
	return a.Commissions, nil
}

// SetAccumulators перезаписывает накопители.
func (s *Store) SetAccumulators(_ context.Context, userID int64, c accounts.Commissions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[userID]
	if !ok {
		return common.ErrNotFound
	}
	a.Commissions = c
	a.UpdatedAt = s.clock.Now()
	return nil
}

func zeroCommissions() accounts.Commissions {
	return accounts.Commissions{
		ReferralEarnings: decimal.Zero,
		LevelIncome:      decimal.Zero,
		Level1Income:     decimal.Zero,
		Level2Income:     decimal.Zero,
		Level3Income:     decimal.Zero,
	}
}

// ---------------------------------------------------------------------------
// Попытки входа администратора
// ---------------------------------------------------------------------------

// LogAttempt записывает попытку входа.
func (s *Store) LogAttempt(_ context.Context, source string, success bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, loginAttempt{source: source, success: success, at: at})
	return nil
}

// CountRecentFailures — неудачные попытки источника с момента since.
func (s *Store) CountRecentFailures(_ context.Context, source string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.attempts {
		if a.source == source && !a.success && !a.at.Before(since) {
			n++
		}
	}
	return n, nil
}
