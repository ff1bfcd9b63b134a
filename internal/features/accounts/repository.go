// Package accounts — repository.go выполняет операции с таблицами accounts и deposits.
// Каждое изменение баланса — один условный UPDATE: проверка и списание
// происходят в одном операторе, без чтения-изменения-записи в Go.
package accounts

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"serotonyl.ru/staking/internal/common"
	"serotonyl.ru/staking/internal/db/postgres"
	"serotonyl.ru/staking/internal/features/outbox"
)

// Repository — PostgreSQL-реализация Store.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт новый репозиторий аккаунтов.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const accountColumns = `
	id, email, telegram_chat_id, wallet_balance, staked_balance, referral_code, referred_by,
	referral_earnings, level_income, level1_income, level2_income, level3_income,
	created_at, updated_at`

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	err := row.Scan(
		&a.ID, &a.Email, &a.TelegramChatID, &a.WalletBalance, &a.StakedBalance,
		&a.ReferralCode, &a.ReferredBy,
		&a.Commissions.ReferralEarnings, &a.Commissions.LevelIncome,
		&a.Commissions.Level1Income, &a.Commissions.Level2Income, &a.Commissions.Level3Income,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, postgres.NotFound(err)
	}
	return &a, nil
}

// CreateAccount вставляет аккаунт с нулевыми балансами и заполняет ID.
func (r *Repository) CreateAccount(ctx context.Context, a *Account) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO accounts (email, telegram_chat_id, referral_code, referred_by)
		VALUES ($1, $2, $3, $4)
		RETURNING id, wallet_balance, staked_balance, created_at, updated_at
	`, a.Email, a.TelegramChatID, a.ReferralCode, a.ReferredBy).Scan(
		&a.ID, &a.WalletBalance, &a.StakedBalance, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return common.ErrAlreadyExists
		}
		return fmt.Errorf("ошибка создания аккаунта: %w", err)
	}
	return nil
}

// GetAccount возвращает аккаунт по ID.
func (r *Repository) GetAccount(ctx context.Context, id int64) (*Account, error) {
	a, err := scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("аккаунт %d: %w", id, err)
	}
	return a, nil
}

// GetAccountByReferralCode ищет спонсора по реферальному коду.
func (r *Repository) GetAccountByReferralCode(ctx context.Context, code string) (*Account, error) {
	a, err := scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE referral_code = $1`, code))
	if err != nil {
		return nil, fmt.Errorf("реферальный код %q: %w", code, err)
	}
	return a, nil
}

// GetAccountByTelegramChat ищет аккаунт, привязанный к чату Telegram.
func (r *Repository) GetAccountByTelegramChat(ctx context.Context, chatID int64) (*Account, error) {
	a, err := scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE telegram_chat_id = $1`, chatID))
	if err != nil {
		return nil, fmt.Errorf("чат %d: %w", chatID, err)
	}
	return a, nil
}

// SetTelegramChat привязывает чат к аккаунту.
func (r *Repository) SetTelegramChat(ctx context.Context, userID, chatID int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE accounts SET telegram_chat_id = $2, updated_at = NOW() WHERE id = $1
	`, userID, chatID)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return common.ErrAlreadyExists
		}
		return fmt.Errorf("ошибка привязки чата: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNotFound
	}
	return nil
}

// DebitWallet списывает сумму с кошелька, если её хватает.
func (r *Repository) DebitWallet(ctx context.Context, userID int64, amount decimal.Decimal) (Balances, error) {
	return DebitWalletTx(ctx, r.db, userID, amount)
}

// CreditWallet зачисляет сумму на кошелёк.
func (r *Repository) CreditWallet(ctx context.Context, userID int64, amount decimal.Decimal) (Balances, error) {
	return CreditWalletTx(ctx, r.db, userID, amount)
}

// MoveToStake переносит сумму из кошелька в застейканный баланс.
func (r *Repository) MoveToStake(ctx context.Context, userID int64, amount decimal.Decimal) (Balances, error) {
	return MoveToStakeTx(ctx, r.db, userID, amount)
}

// ReleaseFromStake возвращает сумму из застейканного баланса в кошелёк.
func (r *Repository) ReleaseFromStake(ctx context.Context, userID int64, amount decimal.Decimal) (Balances, error) {
	return ReleaseFromStakeTx(ctx, r.db, userID, amount)
}

// ApproveDeposit зачисляет депозит, записывает его в deposits и ставит
// событие комиссии в outbox — всё в одной транзакции.
func (r *Repository) ApproveDeposit(ctx context.Context, dep *Deposit, ev outbox.Event) (Balances, error) {
	var out Balances
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		b, err := CreditWalletTx(ctx, tx, dep.UserID, dep.Amount)
		if err != nil {
			return err
		}
		if err := tx.QueryRow(ctx, `
			INSERT INTO deposits (user_id, amount, reference, approved_at)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`, dep.UserID, dep.Amount, dep.Reference, dep.ApprovedAt).Scan(&dep.ID); err != nil {
			return fmt.Errorf("ошибка записи депозита: %w", err)
		}
		if err := outbox.InsertTx(ctx, tx, ev); err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, err
}

// Функции *Tx ниже работают и с пулом, и внутри транзакции другого репозитория
// (создание стейка, вывод, релок).

// DebitWalletTx — условное списание с кошелька.
func DebitWalletTx(ctx context.Context, db postgres.DBTX, userID int64, amount decimal.Decimal) (Balances, error) {
	return conditionalUpdate(ctx, db, userID, `
		UPDATE accounts
		SET wallet_balance = wallet_balance - $2, updated_at = NOW()
		WHERE id = $1 AND wallet_balance >= $2
		RETURNING wallet_balance, staked_balance
	`, amount)
}

// CreditWalletTx — зачисление на кошелёк.
func CreditWalletTx(ctx context.Context, db postgres.DBTX, userID int64, amount decimal.Decimal) (Balances, error) {
	return conditionalUpdate(ctx, db, userID, `
		UPDATE accounts
		SET wallet_balance = wallet_balance + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING wallet_balance, staked_balance
	`, amount)
}

// MoveToStakeTx — кошелёк → стейк одним оператором.
func MoveToStakeTx(ctx context.Context, db postgres.DBTX, userID int64, amount decimal.Decimal) (Balances, error) {
	return conditionalUpdate(ctx, db, userID, `
		UPDATE accounts
		SET wallet_balance = wallet_balance - $2, staked_balance = staked_balance + $2, updated_at = NOW()
		WHERE id = $1 AND wallet_balance >= $2
		RETURNING wallet_balance, staked_balance
	`, amount)
}

// ReleaseFromStakeTx — стейк → кошелёк одним оператором.
func ReleaseFromStakeTx(ctx context.Context, db postgres.DBTX, userID int64, amount decimal.Decimal) (Balances, error) {
	return conditionalUpdate(ctx, db, userID, `
		UPDATE accounts
		SET wallet_balance = wallet_balance + $2, staked_balance = staked_balance - $2, updated_at = NOW()
		WHERE id = $1 AND staked_balance >= $2
		RETURNING wallet_balance, staked_balance
	`, amount)
}

// SettleWithdrawalTx снимает released с застейканного баланса и зачисляет
// credited на кошелёк. credited включает накопленную прибыль.
func SettleWithdrawalTx(ctx context.Context, db postgres.DBTX, userID int64, released, credited decimal.Decimal) (Balances, error) {
	b := Balances{UserID: userID}
	err := db.QueryRow(ctx, `
		UPDATE accounts
		SET staked_balance = staked_balance - $2, wallet_balance = wallet_balance + $3, updated_at = NOW()
		WHERE id = $1 AND staked_balance >= $2
		RETURNING wallet_balance, staked_balance
	`, userID, released, credited).Scan(&b.WalletBalance, &b.StakedBalance)
	if err != nil {
		return b, classifyMiss(ctx, db, userID, err)
	}
	return b, nil
}

// AddStakedTx увеличивает застейканный баланс на прибыль, перекатившуюся в релок.
func AddStakedTx(ctx context.Context, db postgres.DBTX, userID int64, delta decimal.Decimal) error {
	tag, err := db.Exec(ctx, `
		UPDATE accounts SET staked_balance = staked_balance + $2, updated_at = NOW() WHERE id = $1
	`, userID, delta)
	if err != nil {
		return fmt.Errorf("ошибка изменения застейканного баланса: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNotFound
	}
	return nil
}

func conditionalUpdate(ctx context.Context, db postgres.DBTX, userID int64, query string, amount decimal.Decimal) (Balances, error) {
	b := Balances{UserID: userID}
	if !amount.IsPositive() {
		return b, common.ErrInvalidAmount
	}
	err := db.QueryRow(ctx, query, userID, amount).Scan(&b.WalletBalance, &b.StakedBalance)
	if err != nil {
		return b, classifyMiss(ctx, db, userID, err)
	}
	return b, nil
}

// classifyMiss различает «нет пользователя» и «не хватает средств»,
// когда условный UPDATE не затронул ни одной строки.
func classifyMiss(ctx context.Context, db postgres.DBTX, userID int64, err error) error {
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("ошибка изменения баланса: %w", err)
	}
	var exists bool
	if qerr := db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)`, userID).Scan(&exists); qerr != nil {
		return fmt.Errorf("ошибка проверки аккаунта: %w", qerr)
	}
	if !exists {
		return common.ErrNotFound
	}
	return common.ErrInsufficientFunds
}
