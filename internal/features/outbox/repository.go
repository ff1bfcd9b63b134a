package outbox

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// InsertTx пишет событие в commission_events внутри чужой транзакции.
// Вызывается из репозиториев депозитов и стейков, чтобы событие и
// изменение баланса зафиксировались вместе.
func InsertTx(ctx context.Context, tx pgx.Tx, ev Event) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO commission_events (id, source_user_id, kind, amount, status, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6)
	`, ev.ID, ev.SourceUserID, string(ev.Kind), ev.Amount, string(ev.Status), ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка записи события комиссии: %w", err)
	}
	return nil
}
