package lifecycle_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"serotonyl.ru/staking/internal/common"
	"serotonyl.ru/staking/internal/db/memory"
	"serotonyl.ru/staking/internal/features/accounts"
	"serotonyl.ru/staking/internal/features/accrual"
	"serotonyl.ru/staking/internal/features/lifecycle"
	"serotonyl.ru/staking/internal/features/stakes"
	"serotonyl.ru/staking/internal/notify"
)

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (n *fakeNotifier) Notify(msg notify.Message) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return true
}

// flakyStore роняет сохранение одного стейка.
type flakyStore struct {
	*memory.Store
	failID int64
}

func (s *flakyStore) SaveUnlocked(ctx context.Context, st *stakes.Stake) error {
	if st.ID == s.failID {
		return errors.New("connection reset")
	}
	return s.Store.SaveUnlocked(ctx, st)
}

func (s *flakyStore) SaveRelocked(ctx context.Context, st *stakes.Stake, rolled decimal.Decimal) error {
	if st.ID == s.failID {
		return errors.New("connection reset")
	}
	return s.Store.SaveRelocked(ctx, st, rolled)
}

type fixture struct {
	clock     *common.FixedClock
	store     *memory.Store
	accounts  *accounts.Service
	stakes    *stakes.Service
	engine    *accrual.Engine
	lifecycle *lifecycle.Service
	notifier  *fakeNotifier
	userID    int64
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	clock := &common.FixedClock{T: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
	store := memory.New(clock)
	engine := accrual.NewEngine(store, accrual.Config{DailyRate: dec("0.01"), Location: time.UTC})
	n := &fakeNotifier{}
	f := &fixture{
		clock:    clock,
		store:    store,
		accounts: accounts.NewService(store, nil, nil, clock),
		stakes:   stakes.NewService(store, stakes.DefaultPolicy(), nil, clock, time.UTC),
		engine:   engine,
		lifecycle: lifecycle.NewService(store, engine, n, lifecycle.Config{
			RelockGrace: 48 * time.Hour,
			Location:    time.UTC,
		}),
		notifier: n,
	}

	acc, err := f.accounts.Register(ctx, accounts.RegisterInput{Email: "a@example.com"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := f.accounts.ApproveDeposit(ctx, acc.ID, dec("100"), ""); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	f.userID = acc.ID
	return f
}

func (f *fixture) stake(t *testing.T) int64 {
	t.Helper()
	res, err := f.stakes.CreateStake(context.Background(), stakes.CreateInput{UserID: f.userID, Principal: dec("100"), LockPeriod: 30})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return res.Stake.ID
}

func TestFullCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.stake(t)

	// день 15: ещё заблокирован
	f.clock.Advance(15 * 24 * time.Hour)
	if _, err := f.engine.Run(ctx, f.clock.Now()); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	rep, _ := f.lifecycle.UnlockMatured(ctx, f.clock.Now())
	if rep.Processed != 0 {
		t.Fatalf("nothing is matured yet: %+v", rep)
	}

	// день 30 + 2 часа
	f.clock.Advance(15*24*time.Hour + 2*time.Hour)
	if _, err := f.engine.Run(ctx, f.clock.Now()); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	st, _ := f.store.GetStake(ctx, id)
	if !st.TotalProfit.Equal(dec("30")) || !st.CurrentAmount.Equal(dec("100")) {
		t.Fatalf("after accrual: profit %s current %s", st.TotalProfit, st.CurrentAmount)
	}

	rep, err := f.lifecycle.UnlockMatured(ctx, f.clock.Now())
	if err != nil || rep.Processed != 1 {
		t.Fatalf("unlock: %+v %v", rep, err)
	}
	st, _ = f.store.GetStake(ctx, id)
	if st.Status != stakes.StatusUnlocked || !st.CurrentAmount.Equal(dec("130")) {
		t.Fatalf("after unlock: %+v", st)
	}
	if len(f.notifier.msgs) != 1 || !strings.Contains(f.notifier.msgs[0].Text, "130.00") {
		t.Fatalf("notifications = %+v", f.notifier.msgs)
	}

	// повторный проход ничего не делает
	rep, _ = f.lifecycle.UnlockMatured(ctx, f.clock.Now())
	if rep.Processed != 0 {
		t.Fatalf("second unlock sweep = %+v", rep)
	}

	// в окне на вывод продления нет
	f.clock.Advance(47 * time.Hour)
	rep, _ = f.lifecycle.RelockDue(ctx, f.clock.Now())
	if rep.Processed != 0 {
		t.Fatalf("relock inside grace window: %+v", rep)
	}

	f.clock.Advance(time.Hour)
	rep, err = f.lifecycle.RelockDue(ctx, f.clock.Now())
	if err != nil || rep.Processed != 1 {
		t.Fatalf("relock: %+v %v", rep, err)
	}
	st, _ = f.store.GetStake(ctx, id)
	if st.Cycle != 2 || st.Status != stakes.StatusLocked || !st.OriginalAmount.Equal(dec("130")) || !st.TotalProfit.IsZero() {
		t.Fatalf("after relock: %+v", st)
	}
	acc, _ := f.accounts.Get(ctx, f.userID)
	if !acc.StakedBalance.Equal(dec("130")) || !acc.WalletBalance.IsZero() {
		t.Fatalf("balances after relock: wallet %s staked %s", acc.WalletBalance, acc.StakedBalance)
	}

	// второй цикл считает проценты от нового тела
	f.clock.Advance(24 * time.Hour)
	_, _ = f.engine.Run(ctx, f.clock.Now())
	st, _ = f.store.GetStake(ctx, id)
	if !st.TotalProfit.Equal(dec("1.3")) {
		t.Fatalf("cycle 2 daily profit = %s want 1.30", st.TotalProfit)
	}
}

func TestUnlockCatchesUpAccrual(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.stake(t)

	// планировщик начислений не запускался ни разу
	f.clock.Advance(40 * 24 * time.Hour)
	rep, err := f.lifecycle.UnlockMatured(ctx, f.clock.Now())
	if err != nil || rep.Processed != 1 {
		t.Fatalf("unlock: %+v %v", rep, err)
	}
	st, _ := f.store.GetStake(ctx, id)
	if !st.CurrentAmount.Equal(dec("130")) || st.AccruedDays() != 30 {
		t.Fatalf("current %s over %d days", st.CurrentAmount, st.AccruedDays())
	}
}

func TestAutoRelockDisabled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.stake(t)
	if err := f.stakes.SetAutoRelock(ctx, f.userID, id, false); err != nil {
		t.Fatalf("set auto relock: %v", err)
	}

	f.clock.Advance(31 * 24 * time.Hour)
	if _, err := f.lifecycle.UnlockMatured(ctx, f.clock.Now()); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	f.clock.Advance(10 * 24 * time.Hour)
	rep, _ := f.lifecycle.RelockDue(ctx, f.clock.Now())
	if rep.Processed != 0 {
		t.Fatalf("auto relock is off: %+v", rep)
	}

	b, err := f.stakes.Withdraw(ctx, f.userID, id)
	if err != nil || !b.WalletBalance.Equal(dec("130")) || !b.StakedBalance.IsZero() {
		t.Fatalf("withdraw: %+v %v", b, err)
	}
}

func TestWithdrawBeatsRelock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.stake(t)

	f.clock.Advance(30 * 24 * time.Hour)
	_, _ = f.lifecycle.UnlockMatured(ctx, f.clock.Now())
	if _, err := f.stakes.Withdraw(ctx, f.userID, id); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	f.clock.Advance(72 * time.Hour)
	rep, err := f.lifecycle.RelockDue(ctx, f.clock.Now())
	if err != nil || rep.Processed != 0 || rep.Errored != 0 {
		t.Fatalf("withdrawn stake must not be relocked: %+v %v", rep, err)
	}
}

func TestSweepsIsolateFailingStake(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.accounts.ApproveDeposit(ctx, f.userID, dec("200"), ""); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	ids := []int64{f.stake(t), f.stake(t), f.stake(t)}

	flaky := &flakyStore{Store: f.store, failID: ids[1]}
	svc := lifecycle.NewService(flaky, f.engine, f.notifier, lifecycle.Config{
		RelockGrace: 48 * time.Hour,
		Location:    time.UTC,
	})

	f.clock.Advance(30 * 24 * time.Hour)
	rep, err := svc.UnlockMatured(ctx, f.clock.Now())
	if err != nil || rep.Errored != 1 || rep.Processed != 2 {
		t.Fatalf("unlock: %+v %v", rep, err)
	}
	for i, id := range ids {
		st, _ := f.store.GetStake(ctx, id)
		want := stakes.StatusUnlocked
		if i == 1 {
			want = stakes.StatusLocked
		}
		if st.Status != want {
			t.Fatalf("stake %d status = %s want %s", id, st.Status, want)
		}
	}

	// следующий проход подбирает упавший стейк
	flaky.failID = 0
	rep, err = svc.UnlockMatured(ctx, f.clock.Now())
	if err != nil || rep.Processed != 1 || rep.Errored != 0 {
		t.Fatalf("retry unlock: %+v %v", rep, err)
	}

	flaky.failID = ids[2]
	f.clock.Advance(48 * time.Hour)
	rep, err = svc.RelockDue(ctx, f.clock.Now())
	if err != nil || rep.Errored != 1 || rep.Processed != 2 {
		t.Fatalf("relock: %+v %v", rep, err)
	}
	for i, id := range ids {
		st, _ := f.store.GetStake(ctx, id)
		wantCycle := 2
		if i == 2 {
			wantCycle = 1
		}
		if st.Cycle != wantCycle {
			t.Fatalf("stake %d cycle = %d want %d", id, st.Cycle, wantCycle)
		}
	}
}
