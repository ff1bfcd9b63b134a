package referrals_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"serotonyl.ru/staking/internal/common"
	"serotonyl.ru/staking/internal/db/memory"
	"serotonyl.ru/staking/internal/features/accounts"
	"serotonyl.ru/staking/internal/features/outbox"
	"serotonyl.ru/staking/internal/features/referrals"
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

// flakyStore роняет начисления одному получателю.
type flakyStore struct {
	*memory.Store
	failFor int64
}

func (s *flakyStore) RecordCommission(ctx context.Context, e *referrals.Entry) error {
	if e.BeneficiaryID == s.failFor {
		return errors.New("connection reset")
	}
	return s.Store.RecordCommission(ctx, e)
}

// missingStore ведёт себя так, будто аккаунт missing удалён из базы.
type missingStore struct {
	*memory.Store
	missing int64
}

func (s *missingStore) GetSponsor(ctx context.Context, userID int64) (int64, bool, error) {
	if userID == s.missing {
		return 0, false, common.ErrNotFound
	}
	return s.Store.GetSponsor(ctx, userID)
}

func (s *missingStore) RecordCommission(ctx context.Context, e *referrals.Entry) error {
	if e.BeneficiaryID == s.missing {
		return common.ErrNotFound
	}
	return s.Store.RecordCommission(ctx, e)
}

type fixture struct {
	store     *memory.Store
	referrals *referrals.Service
	accounts  *accounts.Service
	notifier  *fakeNotifier
}

func newFixture(t *testing.T, store referrals.Store, mem *memory.Store, clock common.Clock) *fixture {
	t.Helper()
	n := &fakeNotifier{}
	ref := referrals.NewService(store, referrals.DefaultRates(), 3, n, clock)
	return &fixture{
		store:     mem,
		referrals: ref,
		accounts:  accounts.NewService(mem, ref, ref, clock),
		notifier:  n,
	}
}

func newMemoryFixture(t *testing.T) *fixture {
	clock := &common.FixedClock{T: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
	mem := memory.New(clock)
	return newFixture(t, mem, mem, clock)
}

// chain регистрирует цепочку, где каждый следующий приглашён предыдущим.
func (f *fixture) chain(t *testing.T, emails ...string) []int64 {
	t.Helper()
	ctx := context.Background()
	var ids []int64
	sponsor := ""
	for _, email := range emails {
		acc, err := f.accounts.Register(ctx, accounts.RegisterInput{Email: email, SponsorCode: sponsor})
		if err != nil {
			t.Fatalf("register %s: %v", email, err)
		}
		ids = append(ids, acc.ID)
		sponsor = acc.ReferralCode
	}
	return ids
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestTreeDepthIsCapped(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	ids := f.chain(t, "a@x.io", "b@x.io", "c@x.io", "d@x.io", "e@x.io")
	a, b, c, d, e := ids[0], ids[1], ids[2], ids[3], ids[4]

	tree, err := f.referrals.Tree(ctx, a)
	if err != nil {
		t.Fatalf("tree: %v", err)
	}
	if len(tree.Level1) != 1 || tree.Level1[0] != b ||
		len(tree.Level2) != 1 || tree.Level2[0] != c ||
		len(tree.Level3) != 1 || tree.Level3[0] != d {
		t.Fatalf("tree(a) = %+v", tree)
	}
	if tree.Size() != 3 {
		t.Fatalf("e is four levels below a and must not appear, size %d", tree.Size())
	}

	treeB, _ := f.referrals.Tree(ctx, b)
	if len(treeB.Level3) != 1 || treeB.Level3[0] != e {
		t.Fatalf("tree(b) = %+v", treeB)
	}

	// повторное встраивание ничего не дублирует
	if err := f.referrals.Attach(ctx, e, d); err != nil {
		t.Fatalf("attach: %v", err)
	}
	treeD, _ := f.referrals.Tree(ctx, d)
	if len(treeD.Level1) != 1 {
		t.Fatalf("duplicate link: %+v", treeD)
	}
}

func TestDepositCommissionsScenario(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	ids := f.chain(t, "a@x.io", "b@x.io", "c@x.io")
	a, b, c := ids[0], ids[1], ids[2]

	if _, err := f.accounts.ApproveDeposit(ctx, c, dec("100"), ""); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	accB, _ := f.accounts.Get(ctx, b)
	if !accB.Commissions.ReferralEarnings.Equal(dec("10")) || !accB.Commissions.Level1Income.Equal(dec("10")) {
		t.Fatalf("b commissions = %+v", accB.Commissions)
	}
	accA, _ := f.accounts.Get(ctx, a)
	if !accA.Commissions.LevelIncome.Equal(dec("5")) || !accA.Commissions.Level2Income.Equal(dec("5")) {
		t.Fatalf("a commissions = %+v", accA.Commissions)
	}
	if !accA.WalletBalance.IsZero() || !accB.WalletBalance.IsZero() {
		t.Fatalf("commissions are tracked in accumulators, not the wallet")
	}

	pending, _ := f.store.PendingEvents(ctx, 10)
	if len(pending) != 0 {
		t.Fatalf("event must be done, pending %+v", pending)
	}
	if len(f.notifier.msgs) != 2 {
		t.Fatalf("expected two notifications, got %d", len(f.notifier.msgs))
	}

	ov, err := f.referrals.Overview(ctx, b)
	if err != nil || len(ov.Entries) != 1 || ov.Entries[0].Level != 1 || ov.Entries[0].SourceUserID != c {
		t.Fatalf("overview = %+v, %v", ov, err)
	}
}

func TestPropagateIsIdempotent(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	ids := f.chain(t, "a@x.io", "b@x.io")
	a, b := ids[0], ids[1]

	// без sink событие остаётся pending до ручного применения
	quiet := accounts.NewService(f.store, f.referrals, nil, nil)
	if _, err := quiet.ApproveDeposit(ctx, b, dec("250"), ""); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	pending, _ := f.store.PendingEvents(ctx, 10)
	if len(pending) != 1 || pending[0].Kind != outbox.KindDeposit {
		t.Fatalf("pending = %+v", pending)
	}
	ev := pending[0]

	n, err := f.referrals.Propagate(ctx, ev)
	if err != nil || n != 1 {
		t.Fatalf("first propagate: n=%d err=%v", n, err)
	}
	n, err = f.referrals.Propagate(ctx, ev)
	if err != nil || n != 0 {
		t.Fatalf("second propagate must credit nothing: n=%d err=%v", n, err)
	}
	acc, _ := f.accounts.Get(ctx, a)
	if !acc.Commissions.Level1Income.Equal(dec("25")) {
		t.Fatalf("level1 income = %s want 25", acc.Commissions.Level1Income)
	}
}

func TestZeroCommissionIsSkipped(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	ids := f.chain(t, "a@x.io", "b@x.io")

	// 10% от 0.04 = 0.004 → 0.00
	if _, err := f.accounts.ApproveDeposit(ctx, ids[1], dec("0.04"), ""); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	ov, _ := f.referrals.Overview(ctx, ids[0])
	if len(ov.Entries) != 0 {
		t.Fatalf("zero commission recorded: %+v", ov.Entries)
	}
	if pending, _ := f.store.PendingEvents(ctx, 10); len(pending) != 0 {
		t.Fatalf("event must still be closed")
	}
}

func TestFailedCreditIsRetried(t *testing.T) {
	clock := &common.FixedClock{T: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
	mem := memory.New(clock)
	flaky := &flakyStore{Store: mem}
	f := newFixture(t, flaky, mem, clock)
	ctx := context.Background()

	ids := f.chain(t, "a@x.io", "b@x.io", "c@x.io")
	a, b, c := ids[0], ids[1], ids[2]
	flaky.failFor = b

	if _, err := f.accounts.ApproveDeposit(ctx, c, dec("100"), ""); err != nil {
		t.Fatalf("deposit must succeed even if commissions fail: %v", err)
	}

	// уровень 2 начислен несмотря на сбой уровня 1
	accA, _ := f.accounts.Get(ctx, a)
	if !accA.Commissions.Level2Income.Equal(dec("5")) {
		t.Fatalf("a commissions = %+v", accA.Commissions)
	}
	pending, _ := mem.PendingEvents(ctx, 10)
	if len(pending) != 1 || pending[0].Attempts != 1 || pending[0].LastError == "" {
		t.Fatalf("event must stay pending with one attempt: %+v", pending)
	}

	// сеть восстановилась: воркер доначисляет только недостающее
	flaky.failFor = 0
	rep, err := f.referrals.ProcessPending(ctx, 10)
	if err != nil || rep.Processed != 1 || rep.Errored != 0 {
		t.Fatalf("process pending: %+v %v", rep, err)
	}
	accB, _ := f.accounts.Get(ctx, b)
	accA, _ = f.accounts.Get(ctx, a)
	if !accB.Commissions.Level1Income.Equal(dec("10")) || !accA.Commissions.Level2Income.Equal(dec("5")) {
		t.Fatalf("after retry: a=%+v b=%+v", accA.Commissions, accB.Commissions)
	}
}

func TestMissingAncestorEndsChain(t *testing.T) {
	clock := &common.FixedClock{T: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
	mem := memory.New(clock)
	missing := &missingStore{Store: mem}
	f := newFixture(t, missing, mem, clock)
	ctx := context.Background()

	ids := f.chain(t, "a@x.io", "b@x.io", "c@x.io")
	a, b, c := ids[0], ids[1], ids[2]
	missing.missing = a

	quiet := accounts.NewService(mem, f.referrals, nil, nil)
	if _, err := quiet.ApproveDeposit(ctx, c, dec("100"), ""); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	pending, _ := mem.PendingEvents(ctx, 10)
	if len(pending) != 1 {
		t.Fatalf("pending = %+v", pending)
	}
	ev := pending[0]

	n, err := f.referrals.Propagate(ctx, ev)
	if err != nil || n != 1 {
		t.Fatalf("propagate: n=%d err=%v", n, err)
	}
	got, err := mem.GetEvent(ctx, ev.ID)
	if err != nil || got.Status != outbox.StatusDone || got.Attempts != 0 {
		t.Fatalf("missing beneficiary is not retryable, event = %+v %v", got, err)
	}
	accB, _ := f.accounts.Get(ctx, b)
	if !accB.Commissions.Level1Income.Equal(dec("10")) || !accB.Commissions.LevelIncome.IsZero() {
		t.Fatalf("b commissions = %+v", accB.Commissions)
	}

	// автор события пропал: предка не найти, начислять некому
	missing.missing = b
	if _, err := quiet.ApproveDeposit(ctx, b, dec("50"), ""); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	pending, _ = mem.PendingEvents(ctx, 10)
	if len(pending) != 1 {
		t.Fatalf("pending = %+v", pending)
	}
	n, err = f.referrals.Propagate(ctx, pending[0])
	if err != nil || n != 0 {
		t.Fatalf("propagate: n=%d err=%v", n, err)
	}
	if left, _ := mem.PendingEvents(ctx, 10); len(left) != 0 {
		t.Fatalf("event must be done, pending %+v", left)
	}
}

func TestEventFailsAfterMaxAttempts(t *testing.T) {
	clock := &common.FixedClock{T: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
	mem := memory.New(clock)
	flaky := &flakyStore{Store: mem}
	f := newFixture(t, flaky, mem, clock)
	ctx := context.Background()

	ids := f.chain(t, "a@x.io", "b@x.io")
	flaky.failFor = ids[0]

	b, err := f.accounts.ApproveDeposit(ctx, ids[1], dec("100"), "")
	if err != nil || !b.WalletBalance.Equal(dec("100")) {
		t.Fatalf("deposit: %+v %v", b, err)
	}
	for i := 0; i < 5; i++ {
		if _, err := f.referrals.ProcessPending(ctx, 10); err != nil {
			t.Fatalf("process pending: %v", err)
		}
	}
	if pending, _ := mem.PendingEvents(ctx, 10); len(pending) != 0 {
		t.Fatalf("event must be failed after 3 attempts, pending %+v", pending)
	}
}

func TestReconcile(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	ids := f.chain(t, "a@x.io", "b@x.io")
	a := ids[0]
	_, _ = f.accounts.ApproveDeposit(ctx, ids[1], dec("100"), "")

	res, err := f.referrals.Reconcile(ctx, a)
	if err != nil || res.Drift {
		t.Fatalf("fresh accumulators must match the ledger: %+v %v", res, err)
	}

	_ = f.store.SetAccumulators(ctx, a, accounts.Commissions{}.Add(1, dec("999")))
	res, err = f.referrals.Reconcile(ctx, a)
	if err != nil || !res.Drift || !res.After.Level1Income.Equal(dec("10")) {
		t.Fatalf("drift not fixed: %+v %v", res, err)
	}
	acc, _ := f.accounts.Get(ctx, a)
	if !acc.Commissions.ReferralEarnings.Equal(dec("10")) {
		t.Fatalf("accumulators = %+v", acc.Commissions)
	}

	if _, err := f.referrals.Reconcile(ctx, 999); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReconcileRepairsLinks(t *testing.T) {
	clock := &common.FixedClock{T: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
	mem := memory.New(clock)
	ref := referrals.NewService(mem, referrals.DefaultRates(), 3, nil, clock)
	// регистрация без дерева: связи не записаны, как после сбоя Attach
	acc := accounts.NewService(mem, nil, nil, clock)
	ctx := context.Background()

	a, err := acc.Register(ctx, accounts.RegisterInput{Email: "a@x.io"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	b, err := acc.Register(ctx, accounts.RegisterInput{Email: "b@x.io", SponsorCode: a.ReferralCode})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if tree, _ := ref.Tree(ctx, a.ID); tree.Size() != 0 {
		t.Fatalf("tree must be empty before repair: %+v", tree)
	}

	if _, err := ref.Reconcile(ctx, b.ID); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	tree, _ := ref.Tree(ctx, a.ID)
	if len(tree.Level1) != 1 || tree.Level1[0] != b.ID {
		t.Fatalf("link not repaired: %+v", tree)
	}
	if _, err := ref.Reconcile(ctx, b.ID); err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if tree, _ := ref.Tree(ctx, a.ID); tree.Size() != 1 {
		t.Fatalf("duplicate link: %+v", tree)
	}
}

func TestFormatOverview(t *testing.T) {
	ov := &referrals.Overview{
		Tree:        referrals.Tree{Level1: []int64{2, 3}, Level2: []int64{4}},
		Commissions: accounts.Commissions{}.Add(1, dec("12.5")),
	}
	got := referrals.FormatOverview(ov)
	want := "🤝 В команде 3 партнёра\n\n" +
		"Уровень 1: 2, доход 12.50\n" +
		"Уровень 2: 1, доход 0.00\n" +
		"Уровень 3: 0, доход 0.00\n" +
		"\nВсего начислений: 0"
	if got != want {
		t.Fatalf("got:\n%s\nwant:\n%s", got, want)
	}
}
