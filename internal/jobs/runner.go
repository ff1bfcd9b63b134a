package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/staking/internal/common"
	"serotonyl.ru/staking/internal/monitoring"
)

// Имена проходов (cron, CLI sweep, POST /v1/admin/sweeps/{name}).
const (
	SweepAccrue      = "accrue"
	SweepUnlock      = "unlock"
	SweepRelock      = "relock"
	SweepCommissions = "commissions"
	SweepAll         = "all"
)

// Names — проходы в порядке выполнения для SweepAll.
var Names = []string{SweepAccrue, SweepUnlock, SweepRelock, SweepCommissions}

var (
	// ErrUnknownSweep — нет прохода с таким именем.
	ErrUnknownSweep = fmt.Errorf("неизвестный проход: %w", common.ErrNotFound)
	// ErrSweepRunning — тот же проход уже идёт в этом процессе.
	ErrSweepRunning = errors.New("проход уже выполняется")
)

// Accruer — ежедневное начисление.
type Accruer interface {
	Run(ctx context.Context, now time.Time) (common.SweepReport, error)
}

// Lifecycle — разблокировка и автопродление.
type Lifecycle interface {
	UnlockMatured(ctx context.Context, now time.Time) (common.SweepReport, error)
	RelockDue(ctx context.Context, now time.Time) (common.SweepReport, error)
}

// Commissions — повтор необработанных событий outbox.
type Commissions interface {
	ProcessPending(ctx context.Context, limit int) (common.SweepReport, error)
}

// Runner запускает проходы по имени и не даёт одному проходу идти дважды.
type Runner struct {
	accrual     Accruer
	lifecycle   Lifecycle
	commissions Commissions
	clock       common.Clock
	eventLimit  int

	mu      sync.Mutex
	running map[string]bool
}

// NewRunner создаёт раннер. eventLimit — сколько событий outbox брать за проход.
func NewRunner(a Accruer, l Lifecycle, c Commissions, clock common.Clock, eventLimit int) *Runner {
	if clock == nil {
		clock = common.SystemClock{}
	}
	if eventLimit <= 0 {
		eventLimit = 500
	}
	return &Runner{
		accrual:     a,
		lifecycle:   l,
		commissions: c,
		clock:       clock,
		eventLimit:  eventLimit,
		running:     make(map[string]bool),
	}
}

// Run выполняет проход name (или все для SweepAll) и возвращает отчёты.
// Ошибка одного прохода в SweepAll не останавливает следующие.
func (r *Runner) Run(ctx context.Context, name string) ([]common.SweepReport, error) {
	if name == SweepAll {
		var (
			reports []common.SweepReport
			errs    []error
		)
		for _, n := range Names {
			rep, err := r.runOne(ctx, n)
			reports = append(reports, rep)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", n, err))
			}
		}
		return reports, errors.Join(errs...)
	}
	rep, err := r.runOne(ctx, name)
	if errors.Is(err, ErrUnknownSweep) {
		return nil, err
	}
	return []common.SweepReport{rep}, err
}

func (r *Runner) runOne(ctx context.Context, name string) (common.SweepReport, error) {
	fn, ok := r.sweep(name)
	if !ok {
		return common.SweepReport{Name: name}, ErrUnknownSweep
	}
	if !r.acquire(name) {
		return common.SweepReport{Name: name}, ErrSweepRunning
	}
	defer r.release(name)

	rep, err := fn(ctx, r.clock.Now())
	rep.Name = name
	monitoring.ObserveSweep(rep)

	entry := log.WithFields(rep.LogFields())
	if err != nil {
		entry.WithError(err).Error("Проход прерван")
		return rep, err
	}
	if rep.Errored > 0 {
		entry.Warn("Проход завершён с ошибками")
	} else {
		entry.Info("Проход завершён")
	}
	return rep, nil
}

func (r *Runner) sweep(name string) (func(ctx context.Context, now time.Time) (common.SweepReport, error), bool) {
	switch name {
	case SweepAccrue:
		return r.accrual.Run, true
	case SweepUnlock:
		return r.lifecycle.UnlockMatured, true
	case SweepRelock:
		return r.lifecycle.RelockDue, true
	case SweepCommissions:
		return func(ctx context.Context, _ time.Time) (common.SweepReport, error) {
			return r.commissions.ProcessPending(ctx, r.eventLimit)
		}, true
	}
	return nil, false
}

func (r *Runner) acquire(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running[name] {
		return false
	}
	r.running[name] = true
	return true
}

func (r *Runner) release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, name)
}
