// Package referrals — repository.go работает с таблицами referral_links,
// commission_entries, commission_events и накопителями в accounts.
package referrals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"serotonyl.ru/staking/internal/common"
	"serotonyl.ru/staking/internal/db/postgres"
	"serotonyl.ru/staking/internal/features/accounts"
	"serotonyl.ru/staking/internal/features/outbox"
)

// Repository — PostgreSQL-реализация Store.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт новый репозиторий рефералов.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// GetSponsor возвращает referred_by пользователя.
func (r *Repository) GetSponsor(ctx context.Context, userID int64) (int64, bool, error) {
	var sponsor *int64
	err := r.db.QueryRow(ctx, `SELECT referred_by FROM accounts WHERE id = $1`, userID).Scan(&sponsor)
	if err != nil {
		return 0, false, fmt.Errorf("аккаунт %d: %w", userID, postgres.NotFound(err))
	}
	if sponsor == nil {
		return 0, false, nil
	}
	return *sponsor, true, nil
}

// AddLink добавляет связь предок → потомок. Повтор игнорируется.
func (r *Repository) AddLink(ctx context.Context, l Link) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO referral_links (ancestor_id, descendant_id, level, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (ancestor_id, descendant_id) DO NOTHING
	`, l.AncestorID, l.DescendantID, l.Level, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка записи реферальной связи: %w", err)
	}
	return nil
}

// ListLinks — потомки предка по уровням в порядке вступления.
func (r *Repository) ListLinks(ctx context.Context, ancestorID int64) ([]Link, error) {
	rows, err := r.db.Query(ctx, `
		SELECT ancestor_id, descendant_id, level, created_at
		FROM referral_links
		WHERE ancestor_id = $1
		ORDER BY level, id
	`, ancestorID)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки дерева: %w", err)
	}
	defer rows.Close()

	var out []Link
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.AncestorID, &l.DescendantID, &l.Level, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка чтения связи: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// RecordCommission — вставка в леджер и увеличение накопителей в одной транзакции.
func (r *Repository) RecordCommission(ctx context.Context, e *Entry) error {
	delta := accounts.Commissions{}.Add(e.Level, e.Amount)
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO commission_entries (event_id, beneficiary_id, source_user_id, level, rate, amount, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (event_id, beneficiary_id, level) DO NOTHING
			RETURNING id
		`, e.EventID, e.BeneficiaryID, e.SourceUserID, e.Level, e.Rate, e.Amount, e.CreatedAt).Scan(&e.ID)
		if errors.Is(err, pgx.ErrNoRows) {
			return common.ErrAlreadyProcessed
		}
		if err != nil {
			return fmt.Errorf("ошибка записи комиссии: %w", err)
		}

		tag, err := tx.Exec(ctx, `
			UPDATE accounts
			SET referral_earnings = referral_earnings + $2,
			    level_income = level_income + $3,
			    level1_income = level1_income + $4,
			    level2_income = level2_income + $5,
			    level3_income = level3_income + $6,
			    updated_at = NOW()
			WHERE id = $1
		`, e.BeneficiaryID, delta.ReferralEarnings, delta.LevelIncome,
			delta.Level1Income, delta.Level2Income, delta.Level3Income)
		if err != nil {
			return fmt.Errorf("ошибка обновления накопителей: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return common.ErrNotFound
		}
		return nil
	})
}

// ListCommissions — начисления получателю в порядке записи.
func (r *Repository) ListCommissions(ctx context.Context, beneficiaryID int64) ([]Entry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, event_id, beneficiary_id, source_user_id, level, rate, amount, created_at
		FROM commission_entries
		WHERE beneficiary_id = $1
		ORDER BY id
	`, beneficiaryID)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки комиссий: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.EventID, &e.BeneficiaryID, &e.SourceUserID,
			&e.Level, &e.Rate, &e.Amount, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка чтения комиссии: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PendingEvents — самые старые необработанные события.
func (r *Repository) PendingEvents(ctx context.Context, limit int) ([]outbox.Event, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, source_user_id, kind, amount, status, attempts, COALESCE(last_error, ''), created_at, processed_at
		FROM commission_events
		WHERE status = 'pending'
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки событий: %w", err)
	}
	defer rows.Close()

	var out []outbox.Event
	for rows.Next() {
		var ev outbox.Event
		var kind, status string
		if err := rows.Scan(&ev.ID, &ev.SourceUserID, &kind, &ev.Amount, &status,
			&ev.Attempts, &ev.LastError, &ev.CreatedAt, &ev.ProcessedAt); err != nil {
			return nil, fmt.Errorf("ошибка чтения события: %w", err)
		}
		ev.Kind = outbox.Kind(kind)
		ev.Status = outbox.Status(status)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// MarkEventDone закрывает событие.
func (r *Repository) MarkEventDone(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE commission_events
		SET status = 'done', processed_at = $2, last_error = NULL
		WHERE id = $1 AND status <> 'done'
	`, id, at)
	if err != nil {
		return fmt.Errorf("ошибка закрытия события: %w", err)
	}
	return nil
}

// MarkEventRetry фиксирует неудачную попытку.
func (r *Repository) MarkEventRetry(ctx context.Context, id uuid.UUID, lastErr string, maxAttempts int) (outbox.Status, error) {
	var status string
	err := r.db.QueryRow(ctx, `
		UPDATE commission_events
		SET attempts = attempts + 1,
		    last_error = $2,
		    status = CASE WHEN attempts + 1 >= $3 THEN 'failed' ELSE 'pending' END
		WHERE id = $1
		RETURNING status
	`, id, lastErr, maxAttempts).Scan(&status)
	if err != nil {
		return "", fmt.Errorf("событие %s: %w", id, postgres.NotFound(err))
	}
	return outbox.Status(status), nil
}

// SumCommissions пересчитывает накопители из леджера.
func (r *Repository) SumCommissions(ctx context.Context, userID int64) (accounts.Commissions, error) {
	c := zeroCommissions()
	rows, err := r.db.Query(ctx, `
		SELECT level, SUM(amount)
		FROM commission_entries
		WHERE beneficiary_id = $1
		GROUP BY level
	`, userID)
	if err != nil {
		return c, fmt.Errorf("ошибка суммирования комиссий: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var level int
		var sum decimal.Decimal
		if err := rows.Scan(&level, &sum); err != nil {
			return c, fmt.Errorf("ошибка чтения суммы: %w", err)
		}
		c = c.Add(level, sum)
	}
	return c, rows.Err()
}

// GetAccumulators читает накопители аккаунта.
func (r *Repository) GetAccumulators(ctx context.Context, userID int64) (accounts.Commissions, error) {
	var c accounts.Commissions
	err := r.db.QueryRow(ctx, `
		SELECT referral_earnings, level_income, level1_income, level2_income, level3_income
		FROM accounts WHERE id = $1
	`, userID).Scan(&c.ReferralEarnings, &c.LevelIncome, &c.Level1Income, &c.Level2Income, &c.Level3Income)
	if err != nil {
		return c, fmt.Errorf("аккаунт %d: %w", userID, postgres.NotFound(err))
	}
	return c, nil
}

// SetAccumulators перезаписывает накопители (после сверки).
func (r *Repository) SetAccumulators(ctx context.Context, userID int64, c accounts.Commissions) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE accounts
		SET referral_earnings = $2, level_income = $3, level1_income = $4,
		    level2_income = $5, level3_income = $6, updated_at = NOW()
		WHERE id = $1
	`, userID, c.ReferralEarnings, c.LevelIncome, c.Level1Income, c.Level2Income, c.Level3Income)
	if err != nil {
		return fmt.Errorf("ошибка записи накопителей: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNotFound
	}
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
