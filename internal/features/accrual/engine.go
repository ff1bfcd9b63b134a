// Package accrual — ежедневное начисление простых процентов по
// заблокированным стейкам.
//
// За каждый календарный день D (в поясе платформы), для которого
// startDay < D ≤ min(today, unlockDay) и начисления ещё нет, в историю
// текущего цикла добавляется originalAmount × dailyRate. currentAmount
// здесь не меняется. Пропущенные дни догоняются при следующем запуске.
package accrual

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/staking/internal/common"
	"serotonyl.ru/staking/internal/features/stakes"
)

// Store — часть хранилища стейков, нужная начислению.
type Store interface {
	FindLockedStakes(ctx context.Context, afterID int64, limit int) ([]*stakes.Stake, error)
	AppendProfit(ctx context.Context, stakeID int64, entry stakes.ProfitEntry) error
}

// Config — параметры прохода.
type Config struct {
	DailyRate decimal.Decimal
	Location  *time.Location
	BatchSize int
	MaxPerRun int
}

// Engine — движок начислений.
type Engine struct {
	store Store
	cfg   Config
}

// NewEngine создаёт движок начислений.
func NewEngine(store Store, cfg Config) *Engine {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.MaxPerRun < cfg.BatchSize {
		cfg.MaxPerRun = cfg.BatchSize
	}
	return &Engine{store: store, cfg: cfg}
}

// Run проходит по всем locked-стейкам пачками и начисляет недостающие дни.
// Ошибка одного стейка логируется и не останавливает проход.
func (e *Engine) Run(ctx context.Context, now time.Time) (common.SweepReport, error) {
	start := time.Now()
	report := common.SweepReport{Name: "accrue"}

	var afterID int64
	visited := 0
	for visited < e.cfg.MaxPerRun {
		if err := ctx.Err(); err != nil {
			report.Duration = time.Since(start)
			return report, err
		}
		limit := min(e.cfg.BatchSize, e.cfg.MaxPerRun-visited)
		batch, err := e.store.FindLockedStakes(ctx, afterID, limit)
		if err != nil {
			report.Duration = time.Since(start)
			return report, fmt.Errorf("ошибка выборки стейков: %w", err)
		}

		for _, st := range batch {
			afterID = st.ID
			visited++

			n, err := e.AccrueStake(ctx, st, now)
			switch {
			case err != nil:
				report.Errored++
				log.WithError(err).WithField("stake_id", st.ID).Error("Ошибка начисления прибыли")
			case n == 0:
				report.Skipped++
			default:
				report.Processed++
			}
		}
		if len(batch) < limit {
			break
		}
	}

	report.Duration = time.Since(start)
	return report, nil
}

// AccrueStake начисляет стейку все недостающие дни до now.
// Возвращает число новых записей; уже начисленные дни пропускаются.
// Обновляет st в памяти, чтобы вызывающий (разблокировка) видел итог.
func (e *Engine) AccrueStake(ctx context.Context, st *stakes.Stake, now time.Time) (int, error) {
	days := st.DueDays(now, e.cfg.Location)
	if len(days) == 0 {
		return 0, nil
	}
	amount := stakes.DailyProfit(st.OriginalAmount, e.cfg.DailyRate)

	added := 0
	for _, day := range days {
		entry := stakes.ProfitEntry{Cycle: st.Cycle, Day: day, Amount: amount, CreatedAt: now}
		err := e.store.AppendProfit(ctx, st.ID, entry)
		if errors.Is(err, common.ErrAlreadyProcessed) {
			continue
		}
		if err != nil {
			return added, fmt.Errorf("день %s: %w", day.Format("2006-01-02"), err)
		}
		d := day
		st.AccruedThrough = &d
		st.TotalProfit = st.TotalProfit.Add(amount)
		st.ProfitHistory = append(st.ProfitHistory, entry)
		added++
	}

	if added > 0 {
		log.WithFields(log.Fields{
			"stake_id": st.ID,
			"cycle":    st.Cycle,
			"days":     added,
			"daily":    common.FormatMoney(amount),
			"total":    common.FormatMoney(st.TotalProfit),
		}).Debug("Прибыль начислена")
	}
	return added, nil
}
