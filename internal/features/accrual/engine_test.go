package accrual_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"serotonyl.ru/staking/internal/common"
	"serotonyl.ru/staking/internal/db/memory"
	"serotonyl.ru/staking/internal/features/accounts"
	"serotonyl.ru/staking/internal/features/accrual"
	"serotonyl.ru/staking/internal/features/stakes"
)

var start = time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// seed создаёт пользователя с n стейками по principal на lockPeriod дней.
func seed(t *testing.T, n int, principal string, lockPeriod int) (*memory.Store, *stakes.Service) {
	t.Helper()
	ctx := context.Background()
	clock := &common.FixedClock{T: start}
	store := memory.New(clock)
	acc := accounts.NewService(store, nil, nil, clock)
	svc := stakes.NewService(store, stakes.DefaultPolicy(), nil, clock, time.UTC)

	a, err := acc.Register(ctx, accounts.RegisterInput{Email: "a@example.com"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	total := dec(principal).Mul(decimal.NewFromInt(int64(n)))
	if _, err := acc.ApproveDeposit(ctx, a.ID, total, ""); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	for i := 0; i < n; i++ {
		if _, err := svc.CreateStake(ctx, stakes.CreateInput{UserID: a.ID, Principal: dec(principal), LockPeriod: lockPeriod}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	return store, svc
}

// flakyStore роняет запись прибыли одного стейка.
type flakyStore struct {
	*memory.Store
	failID int64
}

func (s *flakyStore) AppendProfit(ctx context.Context, stakeID int64, entry stakes.ProfitEntry) error {
	if stakeID == s.failID {
		return errors.New("connection reset")
	}
	return s.Store.AppendProfit(ctx, stakeID, entry)
}

func newEngine(store accrual.Store, batch, max int) *accrual.Engine {
	return accrual.NewEngine(store, accrual.Config{
		DailyRate: dec("0.01"),
		Location:  time.UTC,
		BatchSize: batch,
		MaxPerRun: max,
	})
}

func TestRunAccruesWholeLockPeriod(t *testing.T) {
	store, _ := seed(t, 1, "100", 30)
	ctx := context.Background()
	engine := newEngine(store, 10, 100)

	rep, err := engine.Run(ctx, start.AddDate(0, 0, 30).Add(2*time.Hour))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Processed != 1 || rep.Errored != 0 {
		t.Fatalf("report = %+v", rep)
	}

	st, _ := store.GetStake(ctx, 1)
	if !st.TotalProfit.Equal(dec("30")) || st.AccruedDays() != 30 {
		t.Fatalf("profit = %s over %d days", st.TotalProfit, st.AccruedDays())
	}
	if !st.CurrentAmount.Equal(dec("100")) {
		t.Fatalf("current amount moves only on unlock, got %s", st.CurrentAmount)
	}

	rep, _ = engine.Run(ctx, start.AddDate(0, 0, 40))
	if rep.Processed != 0 || rep.Skipped != 1 {
		t.Fatalf("second run must skip, got %+v", rep)
	}
}

func TestRunCatchesUpMissedDays(t *testing.T) {
	store, _ := seed(t, 1, "33.33", 60)
	ctx := context.Background()
	engine := newEngine(store, 10, 100)

	if _, err := engine.Run(ctx, start.AddDate(0, 0, 2)); err != nil {
		t.Fatalf("run: %v", err)
	}
	// планировщик лежал пять дней
	if _, err := engine.Run(ctx, start.AddDate(0, 0, 7)); err != nil {
		t.Fatalf("run: %v", err)
	}
	st, _ := store.GetStake(ctx, 1)
	if st.AccruedDays() != 7 || !st.TotalProfit.Equal(dec("2.31")) {
		t.Fatalf("days = %d profit = %s", st.AccruedDays(), st.TotalProfit)
	}
	want := time.Date(2026, 1, 8, 0, 0, 0, 0, time.UTC)
	if st.AccruedThrough == nil || !st.AccruedThrough.Equal(want) {
		t.Fatalf("accrued through = %v", st.AccruedThrough)
	}
}

func TestRunRespectsMaxPerRun(t *testing.T) {
	store, _ := seed(t, 5, "10", 30)
	ctx := context.Background()
	engine := newEngine(store, 2, 3)

	rep, err := engine.Run(ctx, start.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Processed != 3 {
		t.Fatalf("processed = %d want 3", rep.Processed)
	}
	for id := int64(4); id <= 5; id++ {
		st, _ := store.GetStake(ctx, id)
		if st.AccruedDays() != 0 {
			t.Fatalf("stake %d is beyond the per-run cap and must stay untouched", id)
		}
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	store, _ := seed(t, 1, "10", 30)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newEngine(store, 10, 100).Run(ctx, start.AddDate(0, 0, 1)); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestRunIsolatesFailingStake(t *testing.T) {
	store, _ := seed(t, 3, "100", 30)
	ctx := context.Background()
	engine := newEngine(&flakyStore{Store: store, failID: 2}, 10, 100)

	rep, err := engine.Run(ctx, start.AddDate(0, 0, 5))
	if err != nil {
		t.Fatalf("a single stake failure must not abort the run: %v", err)
	}
	if rep.Errored != 1 || rep.Processed != 2 {
		t.Fatalf("report = %+v", rep)
	}
	for _, id := range []int64{1, 3} {
		st, _ := store.GetStake(ctx, id)
		if st.AccruedDays() != 5 || !st.TotalProfit.Equal(dec("5")) {
			t.Fatalf("stake %d: days = %d profit = %s", id, st.AccruedDays(), st.TotalProfit)
		}
	}
	if st, _ := store.GetStake(ctx, 2); st.AccruedDays() != 0 {
		t.Fatalf("failed stake must stay untouched, days = %d", st.AccruedDays())
	}

	// сбой прошёл: следующий проход догоняет пропущенное
	rep, err = newEngine(store, 10, 100).Run(ctx, start.AddDate(0, 0, 5))
	if err != nil || rep.Processed != 1 || rep.Skipped != 2 {
		t.Fatalf("catch-up run: %+v %v", rep, err)
	}
}

func TestRepeatedRunAtSameMomentAddsNothing(t *testing.T) {
	store, _ := seed(t, 1, "100", 30)
	ctx := context.Background()
	engine := newEngine(store, 10, 100)
	now := start.AddDate(0, 0, 10).Add(3 * time.Hour)

	stale, _ := store.GetStake(ctx, 1)

	rep, err := engine.Run(ctx, now)
	if err != nil || rep.Processed != 1 {
		t.Fatalf("first run: %+v %v", rep, err)
	}
	rep, err = engine.Run(ctx, now)
	if err != nil || rep.Processed != 0 || rep.Skipped != 1 {
		t.Fatalf("second run: %+v %v", rep, err)
	}

	// второй воркер со старым снимком упирается в уже записанные дни
	n, err := engine.AccrueStake(ctx, stale, now)
	if err != nil || n != 0 {
		t.Fatalf("stale snapshot: n=%d err=%v", n, err)
	}

	st, _ := store.GetStake(ctx, 1)
	if st.AccruedDays() != 10 || !st.TotalProfit.Equal(dec("10")) {
		t.Fatalf("days = %d profit = %s", st.AccruedDays(), st.TotalProfit)
	}
}
