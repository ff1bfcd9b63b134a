package stakes_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"serotonyl.ru/staking/internal/common"
	"serotonyl.ru/staking/internal/db/memory"
	"serotonyl.ru/staking/internal/features/accounts"
	"serotonyl.ru/staking/internal/features/stakes"
)

type fixture struct {
	clock    *common.FixedClock
	store    *memory.Store
	accounts *accounts.Service
	stakes   *stakes.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &common.FixedClock{T: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
	store := memory.New(clock)
	return &fixture{
		clock:    clock,
		store:    store,
		accounts: accounts.NewService(store, nil, nil, clock),
		stakes:   stakes.NewService(store, stakes.DefaultPolicy(), nil, clock, time.UTC),
	}
}

func (f *fixture) funded(t *testing.T, email, amount string) int64 {
	t.Helper()
	ctx := context.Background()
	acc, err := f.accounts.Register(ctx, accounts.RegisterInput{Email: email})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := f.accounts.ApproveDeposit(ctx, acc.ID, decimal.RequireFromString(amount), "test"); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	return acc.ID
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCreateStakeMovesPrincipal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := f.funded(t, "a@example.com", "150")

	res, err := f.stakes.CreateStake(ctx, stakes.CreateInput{UserID: uid, Principal: dec("100"), LockPeriod: 30})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !res.Balances.WalletBalance.Equal(dec("50")) || !res.Balances.StakedBalance.Equal(dec("100")) {
		t.Fatalf("balances = %+v", res.Balances)
	}
	if res.Stake.ID == 0 || res.Stake.Status != stakes.StatusLocked {
		t.Fatalf("stake = %+v", res.Stake)
	}
}

func TestCreateStakeValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := f.funded(t, "a@example.com", "50")

	tests := []struct {
		in   stakes.CreateInput
		want error
	}{
		{stakes.CreateInput{UserID: uid, Principal: dec("0"), LockPeriod: 30}, common.ErrInvalidAmount},
		{stakes.CreateInput{UserID: uid, Principal: dec("0.004"), LockPeriod: 30}, common.ErrInvalidAmount},
		{stakes.CreateInput{UserID: uid, Principal: dec("10"), LockPeriod: 31}, common.ErrInvalidLockPeriod},
		{stakes.CreateInput{UserID: uid, Principal: dec("100"), LockPeriod: 30}, common.ErrInsufficientFunds},
		{stakes.CreateInput{UserID: 999, Principal: dec("10"), LockPeriod: 30}, common.ErrNotFound},
	}
	for _, tc := range tests {
		if _, err := f.stakes.CreateStake(ctx, tc.in); !errors.Is(err, tc.want) {
			t.Fatalf("input %+v: got %v want %v", tc.in, err, tc.want)
		}
	}

	acc, _ := f.accounts.Get(ctx, uid)
	if !acc.WalletBalance.Equal(dec("50")) || !acc.StakedBalance.IsZero() {
		t.Fatalf("failed creations must not touch balances: %+v", acc)
	}
}

func TestWithdrawLockedThenUnlocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := f.funded(t, "a@example.com", "100")

	res, err := f.stakes.CreateStake(ctx, stakes.CreateInput{UserID: uid, Principal: dec("100"), LockPeriod: 30})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := res.Stake.ID

	if _, err := f.stakes.Withdraw(ctx, uid, id); !errors.Is(err, common.ErrStakeLocked) {
		t.Fatalf("expected ErrStakeLocked, got %v", err)
	}

	// разблокируем вручную с 30.00 прибыли, как это сделал бы проход
	st, _ := f.store.GetStake(ctx, id)
	for i := 1; i <= 30; i++ {
		day := time.Date(2026, 1, 1+i, 0, 0, 0, 0, time.UTC)
		if err := f.store.AppendProfit(ctx, id, stakes.ProfitEntry{Cycle: 1, Day: day, Amount: dec("1")}); err != nil {
			t.Fatalf("append profit: %v", err)
		}
	}
	f.clock.Advance(30 * 24 * time.Hour)
	if err := st.Unlock(f.clock.Now(), time.Hour); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := f.store.SaveUnlocked(ctx, st); err != nil {
		t.Fatalf("save unlocked: %v", err)
	}

	if _, err := f.stakes.Withdraw(ctx, uid+1, id); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("foreign stake must look missing, got %v", err)
	}

	b, err := f.stakes.Withdraw(ctx, uid, id)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !b.WalletBalance.Equal(dec("130")) || !b.StakedBalance.IsZero() {
		t.Fatalf("balances = %+v", b)
	}
	if _, err := f.stakes.Get(ctx, uid, id); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("withdrawn stake must be gone, got %v", err)
	}
	archived, err := f.stakes.ListArchived(ctx, uid)
	if err != nil || len(archived) != 1 || !archived[0].Stake.CurrentAmount.Equal(dec("130")) {
		t.Fatalf("archive = %+v, err %v", archived, err)
	}
	if len(archived[0].Stake.ProfitHistory) != 30 {
		t.Fatalf("snapshot keeps history, got %d entries", len(archived[0].Stake.ProfitHistory))
	}
}

func TestManualRelock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := f.funded(t, "a@example.com", "100")
	res, _ := f.stakes.CreateStake(ctx, stakes.CreateInput{UserID: uid, Principal: dec("100"), LockPeriod: 30})
	id := res.Stake.ID

	if _, err := f.stakes.Relock(ctx, uid, id, 0); !errors.Is(err, common.ErrStakeLocked) {
		t.Fatalf("expected ErrStakeLocked, got %v", err)
	}
	if _, err := f.stakes.Relock(ctx, uid, id, 45); !errors.Is(err, common.ErrInvalidLockPeriod) {
		t.Fatalf("expected ErrInvalidLockPeriod, got %v", err)
	}

	st, _ := f.store.GetStake(ctx, id)
	_ = f.store.AppendProfit(ctx, id, stakes.ProfitEntry{Cycle: 1, Day: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), Amount: dec("1")})
	f.clock.Advance(31 * 24 * time.Hour)
	_ = st.Unlock(f.clock.Now(), time.Hour)
	if err := f.store.SaveUnlocked(ctx, st); err != nil {
		t.Fatalf("save unlocked: %v", err)
	}

	relocked, err := f.stakes.Relock(ctx, uid, id, 60)
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	if relocked.Cycle != 2 || relocked.LockPeriod != 60 || !relocked.OriginalAmount.Equal(dec("101")) {
		t.Fatalf("relocked = %+v", relocked)
	}
	acc, _ := f.accounts.Get(ctx, uid)
	if !acc.StakedBalance.Equal(dec("101")) {
		t.Fatalf("staked = %s, want sum of held principals 101", acc.StakedBalance)
	}
}

func TestSetAutoRelockOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := f.funded(t, "a@example.com", "100")
	res, _ := f.stakes.CreateStake(ctx, stakes.CreateInput{UserID: uid, Principal: dec("10"), LockPeriod: 30})

	if err := f.stakes.SetAutoRelock(ctx, uid+1, res.Stake.ID, false); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := f.stakes.SetAutoRelock(ctx, uid, res.Stake.ID, false); err != nil {
		t.Fatalf("set auto relock: %v", err)
	}
	st, _ := f.stakes.Get(ctx, uid, res.Stake.ID)
	if st.AutoRelock {
		t.Fatalf("auto relock still enabled")
	}
}

func TestAdminOverview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := f.funded(t, "a@example.com", "300")
	a, _ := f.stakes.CreateStake(ctx, stakes.CreateInput{UserID: uid, Principal: dec("100"), LockPeriod: 30})
	_, _ = f.stakes.CreateStake(ctx, stakes.CreateInput{UserID: uid, Principal: dec("200"), LockPeriod: 60})

	// у первого стейка начислен один день из двух прошедших, у второго ни одного
	_ = f.store.AppendProfit(ctx, a.Stake.ID, stakes.ProfitEntry{Cycle: 1, Day: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), Amount: dec("1")})
	f.clock.Advance(2 * 24 * time.Hour)

	ov, err := f.stakes.AdminOverview(ctx)
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if ov.LockedCount != 2 || !ov.TotalValueLocked.Equal(dec("300")) {
		t.Fatalf("overview = %+v", ov)
	}
	if !ov.TotalExpectedProfit.Equal(dec("6")) || !ov.TotalAccruedProfit.Equal(dec("1")) {
		t.Fatalf("expected 6 accrued 1, got %s / %s", ov.TotalExpectedProfit, ov.TotalAccruedProfit)
	}
	if ov.DriftCount != 1 || ov.Stakes[0].Drift || !ov.Stakes[1].Drift {
		t.Fatalf("drift count = %d", ov.DriftCount)
	}
	if !ov.Stakes[0].ProjectedTotal.Equal(dec("130")) {
		t.Fatalf("projected = %s", ov.Stakes[0].ProjectedTotal)
	}
}
