// Package referrals — service.go встраивает новых пользователей в дерево
// и разносит комиссии по событиям outbox вверх по цепочке спонсоров.
package referrals

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/staking/internal/common"
	"serotonyl.ru/staking/internal/features/accounts"
	"serotonyl.ru/staking/internal/features/outbox"
	"serotonyl.ru/staking/internal/monitoring"
	"serotonyl.ru/staking/internal/notify"
)

// Store — хранилище дерева, леджера комиссий и outbox.
type Store interface {
	// GetSponsor возвращает referredBy пользователя; ok=false, если спонсора нет.
	GetSponsor(ctx context.Context, userID int64) (sponsorID int64, ok bool, err error)
	AddLink(ctx context.Context, l Link) error
	ListLinks(ctx context.Context, ancestorID int64) ([]Link, error)
	// RecordCommission вставляет запись леджера и в той же транзакции
	// увеличивает накопители получателя. Повтор — ErrAlreadyProcessed.
	RecordCommission(ctx context.Context, e *Entry) error
	ListCommissions(ctx context.Context, beneficiaryID int64) ([]Entry, error)
	PendingEvents(ctx context.Context, limit int) ([]outbox.Event, error)
	MarkEventDone(ctx context.Context, id uuid.UUID, at time.Time) error
	// MarkEventRetry увеличивает attempts; после maxAttempts событие становится failed.
	MarkEventRetry(ctx context.Context, id uuid.UUID, lastErr string, maxAttempts int) (outbox.Status, error)
	SumCommissions(ctx context.Context, userID int64) (accounts.Commissions, error)
	GetAccumulators(ctx context.Context, userID int64) (accounts.Commissions, error)
	SetAccumulators(ctx context.Context, userID int64, c accounts.Commissions) error
}

// Notifier — неблокирующая отправка уведомлений.
type Notifier interface {
	Notify(msg notify.Message) bool
}

// Service — дерево и распространение комиссий.
type Service struct {
	store       Store
	rates       []decimal.Decimal
	maxAttempts int
	notifier    Notifier
	clock       common.Clock
}

// NewService создаёт сервис рефералов. Ставок больше MaxDepth не бывает.
func NewService(store Store, rates []decimal.Decimal, maxAttempts int, notifier Notifier, clock common.Clock) *Service {
	if len(rates) == 0 {
		rates = DefaultRates()
	}
	if len(rates) > MaxDepth {
		rates = rates[:MaxDepth]
	}
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	if clock == nil {
		clock = common.SystemClock{}
	}
	return &Service{store: store, rates: rates, maxAttempts: maxAttempts, notifier: notifier, clock: clock}
}

// Attach добавляет userID в списки уровня 1 спонсора, уровня 2 его спонсора
// и уровня 3 следующего. Повторный вызов ничего не дублирует.
func (s *Service) Attach(ctx context.Context, userID, sponsorID int64) error {
	now := s.clock.Now()
	ancestor := sponsorID
	for level := 1; level <= MaxDepth; level++ {
		if err := s.store.AddLink(ctx, Link{
			AncestorID:   ancestor,
			DescendantID: userID,
			Level:        level,
			CreatedAt:    now,
		}); err != nil {
			return fmt.Errorf("уровень %d: %w", level, err)
		}
		next, ok, err := s.store.GetSponsor(ctx, ancestor)
		if err != nil {
			return fmt.Errorf("спонсор %d: %w", ancestor, err)
		}
		if !ok {
			break
		}
		ancestor = next
	}
	return nil
}

// Dispatch применяет событие сразу после коммита исходной операции.
func (s *Service) Dispatch(ctx context.Context, ev outbox.Event) error {
	_, err := s.Propagate(ctx, ev)
	return err
}

// Propagate начисляет rate[level] × amount каждому из не более чем трёх
// предков автора события. Отсутствующий предок завершает обход.
// Каждое начисление независимо: сбой одного логируется, остальные идут дальше,
// а событие остаётся pending для повтора. Возвращает число новых начислений.
func (s *Service) Propagate(ctx context.Context, ev outbox.Event) (int, error) {
	var (
		credited int
		failures []string
	)
	current := ev.SourceUserID
walk:
	for level := 1; level <= len(s.rates); level++ {
		sponsorID, ok, err := s.store.GetSponsor(ctx, current)
		if errors.Is(err, common.ErrNotFound) {
			// предка нет: цепочка закончилась, повтор ничего не изменит
			break
		}
		if err != nil {
			failures = append(failures, fmt.Sprintf("уровень %d: %v", level, err))
			break
		}
		if !ok {
			break
		}
		current = sponsorID

		rate := s.rates[level-1]
		amount := common.RoundMoney(ev.Amount.Mul(rate))
		if !amount.IsPositive() {
			continue
		}

		entry := &Entry{
			EventID:       ev.ID,
			BeneficiaryID: sponsorID,
			SourceUserID:  ev.SourceUserID,
			Level:         level,
			Rate:          rate,
			Amount:        amount,
			CreatedAt:     s.clock.Now(),
		}
		err = s.store.RecordCommission(ctx, entry)
		switch {
		case errors.Is(err, common.ErrAlreadyProcessed):
			continue
		case errors.Is(err, common.ErrNotFound):
			log.WithFields(log.Fields{
				"event_id":    ev.ID,
				"beneficiary": sponsorID,
				"level":       level,
			}).Warn("Получатель комиссии не найден, обход цепочки остановлен")
			monitoring.CommissionCredits.WithLabelValues(levelLabel(level), "missing").Inc()
			break walk
		case err != nil:
			log.WithError(err).WithFields(log.Fields{
				"event_id":    ev.ID,
				"beneficiary": sponsorID,
				"level":       level,
			}).Error("Ошибка начисления комиссии")
			monitoring.CommissionCredits.WithLabelValues(levelLabel(level), "error").Inc()
			failures = append(failures, fmt.Sprintf("уровень %d: %v", level, err))
			continue
		}

		credited++
		monitoring.CommissionCredits.WithLabelValues(levelLabel(level), "ok").Inc()
		monitoring.CommissionAmount.WithLabelValues(levelLabel(level)).Add(amount.InexactFloat64())
		s.notify(sponsorID, fmt.Sprintf(
			"💸 Реферальная комиссия %s (уровень %d) от партнёра #%d",
			common.FormatMoney(amount), level, ev.SourceUserID,
		))
	}

	if len(failures) > 0 {
		reason := strings.Join(failures, "; ")
		status, err := s.store.MarkEventRetry(ctx, ev.ID, reason, s.maxAttempts)
		if err != nil {
			log.WithError(err).WithField("event_id", ev.ID).Error("Не удалось отметить событие для повтора")
		}
		if status == outbox.StatusFailed {
			log.WithFields(log.Fields{"event_id": ev.ID, "reason": reason}).
				Error("Событие комиссии исчерпало попытки")
		}
		return credited, fmt.Errorf("событие %s: %s", ev.ID, reason)
	}

	if err := s.store.MarkEventDone(ctx, ev.ID, s.clock.Now()); err != nil {
		return credited, fmt.Errorf("событие %s: %w", ev.ID, err)
	}
	if credited > 0 {
		log.WithFields(log.Fields{
			"event_id": ev.ID,
			"kind":     ev.Kind,
			"source":   ev.SourceUserID,
			"credited": credited,
		}).Info("Комиссии начислены")
	}
	return credited, nil
}

// ProcessPending повторно применяет до limit pending-событий.
func (s *Service) ProcessPending(ctx context.Context, limit int) (common.SweepReport, error) {
	start := time.Now()
	report := common.SweepReport{Name: "commissions"}

	events, err := s.store.PendingEvents(ctx, limit)
	if err != nil {
		return report, fmt.Errorf("ошибка выборки событий: %w", err)
	}
	for _, ev := range events {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.Propagate(ctx, ev); err != nil {
			report.Errored++
			continue
		}
		report.Processed++
	}
	report.Duration = time.Since(start)
	return report, nil
}

// Tree возвращает потомков пользователя по уровням.
func (s *Service) Tree(ctx context.Context, userID int64) (Tree, error) {
	links, err := s.store.ListLinks(ctx, userID)
	if err != nil {
		return Tree{}, err
	}
	t := Tree{Level1: []int64{}, Level2: []int64{}, Level3: []int64{}}
	for _, l := range links {
		switch l.Level {
		case 1:
			t.Level1 = append(t.Level1, l.DescendantID)
		case 2:
			t.Level2 = append(t.Level2, l.DescendantID)
		case 3:
			t.Level3 = append(t.Level3, l.DescendantID)
		}
	}
	return t, nil
}

// Overview — дерево, начисления и накопители пользователя.
func (s *Service) Overview(ctx context.Context, userID int64) (*Overview, error) {
	tree, err := s.Tree(ctx, userID)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.ListCommissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	acc, err := s.store.GetAccumulators(ctx, userID)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []Entry{}
	}
	return &Overview{Tree: tree, Entries: entries, Commissions: acc}, nil
}

// Reconcile пересчитывает накопители пользователя из леджера и
// перезаписывает их, если они разошлись. Заодно достраивает связи с
// предками, если привязка при регистрации не удалась.
func (s *Service) Reconcile(ctx context.Context, userID int64) (*ReconcileResult, error) {
	before, err := s.store.GetAccumulators(ctx, userID)
	if err != nil {
		return nil, err
	}
	sponsorID, ok, err := s.store.GetSponsor(ctx, userID)
	if err != nil {
		return nil, err
	}
	if ok {
		if err := s.Attach(ctx, userID, sponsorID); err != nil {
			return nil, fmt.Errorf("ошибка привязки к спонсору: %w", err)
		}
	}
	after, err := s.store.SumCommissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	res := &ReconcileResult{UserID: userID, Before: before, After: after, Drift: !before.Equal(after)}
	if res.Drift {
		if err := s.store.SetAccumulators(ctx, userID, after); err != nil {
			return nil, err
		}
		log.WithFields(log.Fields{
			"user_id":    userID,
			"before_l1":  common.FormatMoney(before.Level1Income),
			"after_l1":   common.FormatMoney(after.Level1Income),
			"before_lvl": common.FormatMoney(before.LevelIncome),
			"after_lvl":  common.FormatMoney(after.LevelIncome),
		}).Warn("Накопители комиссий расходились с леджером и пересчитаны")
	}
	return res, nil
}

func (s *Service) notify(userID int64, text string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(notify.Message{UserID: userID, Text: text})
}

func levelLabel(level int) string {
	return strconv.Itoa(level)
}
