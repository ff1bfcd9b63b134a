// Package jobs управляет фоновыми задачами (cron).
// scheduler.go настраивает расписание: ежедневное начисление прибыли,
// частые проходы разблокировки и автопродления, повтор комиссий.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/staking/internal/middleware"
)

// Schedule — cron-выражение для каждого прохода. Пустое выражение отключает проход.
type Schedule struct {
	Accrual     string
	Unlock      string
	Relock      string
	Commissions string
}

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron     *cron.Cron
	runner   *Runner
	schedule Schedule
	loc      *time.Location
}

// NewScheduler создаёт планировщик в поясе платформы.
// Запуск, ещё не закончивший прошлый тик, пропускается.
func NewScheduler(runner *Runner, schedule Schedule, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	logger := cron.PrintfLogger(log.StandardLogger())
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	return &Scheduler{cron: c, runner: runner, schedule: schedule, loc: loc}
}

// Start регистрирует задачи и запускает cron.
func (s *Scheduler) Start(ctx context.Context) error {
	jobs := []struct {
		spec  string
		sweep string
	}{
		{s.schedule.Accrual, SweepAccrue},
		{s.schedule.Unlock, SweepUnlock},
		{s.schedule.Relock, SweepRelock},
		{s.schedule.Commissions, SweepCommissions},
	}
	for _, j := range jobs {
		if j.spec == "" {
			log.WithField("sweep", j.sweep).Info("[CRON] Проход отключён")
			continue
		}
		sweep := j.sweep
		if _, err := s.cron.AddFunc(j.spec, func() { s.run(ctx, sweep) }); err != nil {
			return fmt.Errorf("расписание %s %q: %w", sweep, j.spec, err)
		}
	}

	s.cron.Start()
	log.WithField("location", s.loc.String()).Info("Планировщик задач запущен")
	return nil
}

func (s *Scheduler) run(ctx context.Context, sweep string) {
	defer middleware.RecoverFromPanic("cron " + sweep)
	if ctx.Err() != nil {
		return
	}

	log.Debugf("[CRON] Проход %s", sweep)
	if _, err := s.runner.Run(ctx, sweep); err != nil {
		if errors.Is(err, ErrSweepRunning) {
			log.WithField("sweep", sweep).Warn("[CRON] Проход ещё идёт, тик пропущен")
			return
		}
		log.WithError(err).WithField("sweep", sweep).Error("[CRON] Ошибка прохода")
	}
}

// Stop останавливает планировщик и ждёт текущие задачи.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Планировщик задач остановлен")
}
