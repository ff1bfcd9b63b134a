// Package lifecycle — фоновые переходы стейков:
//
//	locked   --(now ≥ unlockDate)-----------------> unlocked
//	unlocked --(autoRelock И now ≥ autoRelockAt)--> locked (cycle+1)
//
// Проходы идут пачками по ID, каждый стейк обрабатывается отдельно:
// ошибка одного логируется и не мешает остальным. Повторный переход
// (гонка с другим проходом или ручным релоком) считается пропуском.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/staking/internal/common"
	"serotonyl.ru/staking/internal/features/stakes"
	"serotonyl.ru/staking/internal/notify"
)

// Store — часть хранилища стейков, нужная проходам.
type Store interface {
	FindMaturedStakes(ctx context.Context, now time.Time, afterID int64, limit int) ([]*stakes.Stake, error)
	FindDueForRelock(ctx context.Context, now time.Time, afterID int64, limit int) ([]*stakes.Stake, error)
	SaveUnlocked(ctx context.Context, st *stakes.Stake) error
	SaveRelocked(ctx context.Context, st *stakes.Stake, rolled decimal.Decimal) error
}

// Accruer догоняет начисления стейка перед разблокировкой.
type Accruer interface {
	AccrueStake(ctx context.Context, st *stakes.Stake, now time.Time) (int, error)
}

// Notifier — неблокирующая отправка уведомлений.
type Notifier interface {
	Notify(msg notify.Message) bool
}

// Config — параметры проходов.
type Config struct {
	RelockGrace time.Duration
	Location    *time.Location
	BatchSize   int
	MaxPerRun   int
}

// Service — проходы разблокировки и автопродления.
type Service struct {
	store    Store
	accruer  Accruer
	notifier Notifier
	cfg      Config
}

// NewService создаёт сервис жизненного цикла. accruer и notifier могут быть nil.
func NewService(store Store, accruer Accruer, notifier Notifier, cfg Config) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.MaxPerRun < cfg.BatchSize {
		cfg.MaxPerRun = cfg.BatchSize
	}
	return &Service{store: store, accruer: accruer, notifier: notifier, cfg: cfg}
}

type finder func(ctx context.Context, now time.Time, afterID int64, limit int) ([]*stakes.Stake, error)

// sweep — общий цикл keyset-пагинации; handle возвращает пропуск или ошибку.
func (s *Service) sweep(ctx context.Context, name string, now time.Time, find finder,
	handle func(ctx context.Context, st *stakes.Stake) (skipped bool, err error),
) (common.SweepReport, error) {
	start := time.Now()
	report := common.SweepReport{Name: name}

	var afterID int64
	visited := 0
	for visited < s.cfg.MaxPerRun {
		if err := ctx.Err(); err != nil {
			report.Duration = time.Since(start)
			return report, err
		}
		limit := min(s.cfg.BatchSize, s.cfg.MaxPerRun-visited)
		batch, err := find(ctx, now, afterID, limit)
		if err != nil {
			report.Duration = time.Since(start)
			return report, fmt.Errorf("ошибка выборки стейков: %w", err)
		}

		for _, st := range batch {
			afterID = st.ID
			visited++

			skipped, err := handle(ctx, st)
			switch {
			case err != nil:
				report.Errored++
				log.WithError(err).WithFields(log.Fields{
					"sweep":    name,
					"stake_id": st.ID,
				}).Error("Ошибка обработки стейка")
			case skipped:
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

// UnlockMatured разблокирует стейки с истёкшим сроком.
// Перед разблокировкой догоняет начисления, чтобы currentAmount включал все дни.
func (s *Service) UnlockMatured(ctx context.Context, now time.Time) (common.SweepReport, error) {
	return s.sweep(ctx, "unlock", now, s.store.FindMaturedStakes, func(ctx context.Context, st *stakes.Stake) (bool, error) {
		if s.accruer != nil {
			if _, err := s.accruer.AccrueStake(ctx, st, now); err != nil {
				return false, fmt.Errorf("догоняющее начисление: %w", err)
			}
		}
		if err := st.Unlock(now, s.cfg.RelockGrace); err != nil {
			if errors.Is(err, common.ErrAlreadyProcessed) || errors.Is(err, common.ErrStakeLocked) {
				return true, nil
			}
			return false, err
		}
		if err := s.store.SaveUnlocked(ctx, st); err != nil {
			if errors.Is(err, common.ErrAlreadyProcessed) {
				return true, nil
			}
			return false, err
		}

		log.WithFields(log.Fields{
			"stake_id": st.ID,
			"user_id":  st.UserID,
			"current":  common.FormatMoney(st.CurrentAmount),
			"cycle":    st.Cycle,
		}).Info("Стейк разблокирован")

		text := fmt.Sprintf("🔓 Стейк #%d разблокирован: %s (прибыль %s).",
			st.ID, common.FormatMoney(st.CurrentAmount), common.FormatMoney(st.TotalProfit))
		if st.AutoRelock && st.AutoRelockAt != nil {
			text += fmt.Sprintf(" Автопродление %s, до этого можно вывести.",
				common.FormatDateTime(*st.AutoRelockAt, s.cfg.Location))
		}
		s.notify(st.UserID, text)
		return false, nil
	})
}

// RelockDue продлевает разблокированные стейки, чьё окно на вывод истекло.
func (s *Service) RelockDue(ctx context.Context, now time.Time) (common.SweepReport, error) {
	return s.sweep(ctx, "relock", now, s.store.FindDueForRelock, func(ctx context.Context, st *stakes.Stake) (bool, error) {
		if !st.DueForRelock(now) {
			return true, nil
		}
		rolled, err := st.Relock(now, 0)
		if err != nil {
			if errors.Is(err, common.ErrAlreadyProcessed) {
				return true, nil
			}
			return false, err
		}
		if err := s.store.SaveRelocked(ctx, st, rolled); err != nil {
			if errors.Is(err, common.ErrAlreadyProcessed) {
				return true, nil
			}
			return false, err
		}

		log.WithFields(log.Fields{
			"stake_id": st.ID,
			"user_id":  st.UserID,
			"original": common.FormatMoney(st.OriginalAmount),
			"cycle":    st.Cycle,
		}).Info("Стейк продлён")

		s.notify(st.UserID, fmt.Sprintf("🔒 Стейк #%d продлён на %d %s: тело %s, цикл %d, разблокировка %s.",
			st.ID, st.LockPeriod, common.PluralizeDays(st.LockPeriod),
			common.FormatMoney(st.OriginalAmount), st.Cycle,
			common.FormatDateTime(st.UnlockDate, s.cfg.Location)))
		return false, nil
	})
}

func (s *Service) notify(userID int64, text string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(notify.Message{UserID: userID, Text: text})
}
