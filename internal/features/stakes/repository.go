// Package stakes — repository.go выполняет операции с таблицами stakes,
// stake_profit_entries и stakes_archive.
// Переходы состояний сохраняются условными UPDATE (WHERE status = ...):
// повтор того же перехода ничего не меняет и возвращает ErrAlreadyProcessed.
package stakes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

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

// NewRepository создаёт новый репозиторий стейков.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const stakeColumns = `
	id, user_id, original_amount, current_amount, total_profit, start_date, unlock_date,
	lock_period, status, cycle, auto_relock, auto_relock_at, accrued_through, created_at, updated_at`

func scanStake(row pgx.Row) (*Stake, error) {
	var st Stake
	var status string
	err := row.Scan(
		&st.ID, &st.UserID, &st.OriginalAmount, &st.CurrentAmount, &st.TotalProfit,
		&st.StartDate, &st.UnlockDate, &st.LockPeriod, &status, &st.Cycle,
		&st.AutoRelock, &st.AutoRelockAt, &st.AccruedThrough, &st.CreatedAt, &st.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	st.Status = Status(status)
	return &st, nil
}

func (r *Repository) queryStakes(ctx context.Context, db postgres.DBTX, query string, args ...any) ([]*Stake, error) {
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки стейков: %w", err)
	}
	defer rows.Close()

	var out []*Stake
	for rows.Next() {
		st, err := scanStake(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения стейка: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// loadHistory подгружает историю начислений одним запросом на всю пачку.
func (r *Repository) loadHistory(ctx context.Context, db postgres.DBTX, list []*Stake) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(list))
	byID := make(map[int64]*Stake, len(list))
	for _, st := range list {
		ids = append(ids, st.ID)
		byID[st.ID] = st
	}

	rows, err := db.Query(ctx, `
		SELECT stake_id, cycle, accrual_date, amount, created_at
		FROM stake_profit_entries
		WHERE stake_id = ANY($1)
		ORDER BY stake_id, cycle, accrual_date
	`, ids)
	if err != nil {
		return fmt.Errorf("ошибка выборки истории начислений: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var stakeID int64
		var e ProfitEntry
		if err := rows.Scan(&stakeID, &e.Cycle, &e.Day, &e.Amount, &e.CreatedAt); err != nil {
			return fmt.Errorf("ошибка чтения начисления: %w", err)
		}
		if st, ok := byID[stakeID]; ok {
			st.ProfitHistory = append(st.ProfitHistory, e)
		}
	}
	return rows.Err()
}

// CreateStake: кошелёк → стейк, вставка стейка и события комиссии в одной транзакции.
func (r *Repository) CreateStake(ctx context.Context, st *Stake, ev outbox.Event) (accounts.Balances, error) {
	var out accounts.Balances
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		b, err := accounts.MoveToStakeTx(ctx, tx, st.UserID, st.OriginalAmount)
		if err != nil {
			return err
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO stakes (user_id, original_amount, current_amount, total_profit, start_date,
				unlock_date, lock_period, status, cycle, auto_relock, created_at, updated_at)
			VALUES ($1, $2, $2, 0, $3, $4, $5, $6, $7, $8, $3, $3)
			RETURNING id
		`, st.UserID, st.OriginalAmount, st.StartDate, st.UnlockDate, st.LockPeriod,
			string(st.Status), st.Cycle, st.AutoRelock).Scan(&st.ID)
		if err != nil {
			return fmt.Errorf("ошибка создания стейка: %w", err)
		}
		if err := outbox.InsertTx(ctx, tx, ev); err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, err
}

// GetStake возвращает стейк с историей начислений.
func (r *Repository) GetStake(ctx context.Context, id int64) (*Stake, error) {
	st, err := scanStake(r.db.QueryRow(ctx, `SELECT `+stakeColumns+` FROM stakes WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("стейк %d: %w", id, postgres.NotFound(err))
	}
	if err := r.loadHistory(ctx, r.db, []*Stake{st}); err != nil {
		return nil, err
	}
	return st, nil
}

// FindActiveStakes — все невыведенные стейки пользователя (locked и unlocked) с историей.
func (r *Repository) FindActiveStakes(ctx context.Context, userID int64) ([]*Stake, error) {
	list, err := r.queryStakes(ctx, r.db,
		`SELECT `+stakeColumns+` FROM stakes WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	if err := r.loadHistory(ctx, r.db, list); err != nil {
		return nil, err
	}
	return list, nil
}

// FindMaturedStakes — locked-стейки с unlock_date <= now, страница после afterID.
// История не подгружается: проходам она не нужна.
func (r *Repository) FindMaturedStakes(ctx context.Context, now time.Time, afterID int64, limit int) ([]*Stake, error) {
	return r.queryStakes(ctx, r.db, `
		SELECT `+stakeColumns+`
		FROM stakes
		WHERE status = 'locked' AND unlock_date <= $1 AND id > $2
		ORDER BY id
		LIMIT $3
	`, now, afterID, limit)
}

// FindDueForRelock — unlocked-стейки с автопродлением и auto_relock_at <= now.
func (r *Repository) FindDueForRelock(ctx context.Context, now time.Time, afterID int64, limit int) ([]*Stake, error) {
	return r.queryStakes(ctx, r.db, `
		SELECT `+stakeColumns+`
		FROM stakes
		WHERE auto_relock AND auto_relock_at <= $1 AND status = 'unlocked' AND id > $2
		ORDER BY id
		LIMIT $3
	`, now, afterID, limit)
}

// FindLockedStakes — locked-стейки для прохода начислений.
func (r *Repository) FindLockedStakes(ctx context.Context, afterID int64, limit int) ([]*Stake, error) {
	return r.queryStakes(ctx, r.db, `
		SELECT `+stakeColumns+`
		FROM stakes
		WHERE status = 'locked' AND id > $1
		ORDER BY id
		LIMIT $2
	`, afterID, limit)
}

// ListAllStakes — все невыведенные стейки платформы (без истории).
func (r *Repository) ListAllStakes(ctx context.Context) ([]*Stake, error) {
	return r.queryStakes(ctx, r.db, `SELECT `+stakeColumns+` FROM stakes ORDER BY id`)
}

// ListArchivedStakes — снимки выведенных стейков пользователя, новые сверху.
func (r *Repository) ListArchivedStakes(ctx context.Context, userID int64) ([]Archived, error) {
	rows, err := r.db.Query(ctx, `
		SELECT snapshot, withdrawn_at FROM stakes_archive WHERE user_id = $1 ORDER BY withdrawn_at DESC, stake_id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки архива: %w", err)
	}
	defer rows.Close()

	var out []Archived
	for rows.Next() {
		var raw []byte
		var a Archived
		if err := rows.Scan(&raw, &a.WithdrawnAt); err != nil {
			return nil, fmt.Errorf("ошибка чтения архива: %w", err)
		}
		if err := json.Unmarshal(raw, &a.Stake); err != nil {
			return nil, fmt.Errorf("битый снимок стейка: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AppendProfit вставляет дневное начисление и увеличивает total_profit.
// Уникальный ключ (stake_id, cycle, accrual_date) делает повтор no-op.
func (r *Repository) AppendProfit(ctx context.Context, stakeID int64, e ProfitEntry) error {
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO stake_profit_entries (stake_id, cycle, accrual_date, amount, created_at)
			SELECT id, $2, $3, $4, $5 FROM stakes
			WHERE id = $1 AND status = 'locked' AND cycle = $2
			ON CONFLICT (stake_id, cycle, accrual_date) DO NOTHING
		`, stakeID, e.Cycle, e.Day, e.Amount, e.CreatedAt)
		if err != nil {
			return fmt.Errorf("ошибка записи начисления: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return common.ErrAlreadyProcessed
		}
		_, err = tx.Exec(ctx, `
			UPDATE stakes
			SET total_profit = total_profit + $2,
			    accrued_through = GREATEST(COALESCE(accrued_through, $3), $3),
			    updated_at = $4
			WHERE id = $1
		`, stakeID, e.Amount, e.Day, e.CreatedAt)
		if err != nil {
			return fmt.Errorf("ошибка обновления прибыли: %w", err)
		}
		return nil
	})
}

// SaveUnlocked переводит стейк в unlocked. current_amount считается в базе
// из original_amount + total_profit, чтобы не потерять параллельное начисление.
func (r *Repository) SaveUnlocked(ctx context.Context, st *Stake) error {
	err := r.db.QueryRow(ctx, `
		UPDATE stakes
		SET status = 'unlocked', current_amount = original_amount + total_profit,
		    auto_relock_at = $3, updated_at = $4
		WHERE id = $1 AND status = 'locked' AND cycle = $2
		RETURNING current_amount, total_profit
	`, st.ID, st.Cycle, st.AutoRelockAt, st.UpdatedAt).Scan(&st.CurrentAmount, &st.TotalProfit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return common.ErrAlreadyProcessed
		}
		return fmt.Errorf("ошибка разблокировки стейка %d: %w", st.ID, err)
	}
	return nil
}

// SaveRelocked сохраняет новый цикл и увеличивает застейканный баланс на rolled.
func (r *Repository) SaveRelocked(ctx context.Context, st *Stake, rolled decimal.Decimal) error {
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE stakes
			SET original_amount = $2, current_amount = $2, total_profit = 0, cycle = $3,
			    start_date = $4, unlock_date = $5, lock_period = $6, status = 'locked',
			    auto_relock_at = NULL, accrued_through = NULL, updated_at = $4
			WHERE id = $1 AND status = 'unlocked' AND cycle = $3 - 1
		`, st.ID, st.OriginalAmount, st.Cycle, st.StartDate, st.UnlockDate, st.LockPeriod)
		if err != nil {
			return fmt.Errorf("ошибка релока стейка %d: %w", st.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return common.ErrAlreadyProcessed
		}
		if rolled.IsPositive() {
			if err := accounts.AddStakedTx(ctx, tx, st.UserID, rolled); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetAutoRelock меняет флаг автопродления стейка пользователя.
func (r *Repository) SetAutoRelock(ctx context.Context, userID, stakeID int64, enabled bool) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE stakes SET auto_relock = $3, updated_at = NOW() WHERE id = $1 AND user_id = $2
	`, stakeID, userID, enabled)
	if err != nil {
		return fmt.Errorf("ошибка изменения автопродления: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNotFound
	}
	return nil
}

// WithdrawStake блокирует строку стейка, проверяет владельца и статус,
// пишет снимок в архив, удаляет стейк и рассчитывается с балансами.
func (r *Repository) WithdrawStake(ctx context.Context, userID, stakeID int64, now time.Time) (accounts.Balances, *Stake, error) {
	var (
		out accounts.Balances
		st  *Stake
	)
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var err error
		st, err = scanStake(tx.QueryRow(ctx, `SELECT `+stakeColumns+` FROM stakes WHERE id = $1 FOR UPDATE`, stakeID))
		if err != nil {
			return fmt.Errorf("стейк %d: %w", stakeID, postgres.NotFound(err))
		}
		if st.UserID != userID {
			return common.ErrNotFound
		}
		if st.Status != StatusUnlocked {
			return common.ErrStakeLocked
		}
		if err := r.loadHistory(ctx, tx, []*Stake{st}); err != nil {
			return err
		}

		snapshot, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("ошибка сериализации снимка: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO stakes_archive (stake_id, user_id, snapshot, withdrawn_at)
			VALUES ($1, $2, $3, $4)
		`, st.ID, st.UserID, snapshot, now); err != nil {
			return fmt.Errorf("ошибка архивации стейка: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM stakes WHERE id = $1`, st.ID); err != nil {
			return fmt.Errorf("ошибка удаления стейка: %w", err)
		}

		out, err = accounts.SettleWithdrawalTx(ctx, tx, userID, st.OriginalAmount, st.CurrentAmount)
		return err
	})
	if err != nil {
		return accounts.Balances{}, nil, err
	}
	return out, st, nil
}
