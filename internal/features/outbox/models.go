// Package outbox — события, по которым начисляются реферальные комиссии.
// Событие пишется в той же транзакции, что и депозит или стейк, а применяется
// после коммита: сразу и повторно воркером, пока не станет done или failed.
package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind — тип события, несущего комиссию.
type Kind string

const (
	KindDeposit Kind = "deposit"
	KindStake   Kind = "stake"
)

// Status — состояние обработки события.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Event — строка таблицы commission_events.
type Event struct {
	ID           uuid.UUID       `json:"id"`
	SourceUserID int64           `json:"source_user_id"`
	Kind         Kind            `json:"kind"`
	Amount       decimal.Decimal `json:"amount"`
	Status       Status          `json:"status"`
	Attempts     int             `json:"attempts"`
	LastError    string          `json:"last_error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	ProcessedAt  *time.Time      `json:"processed_at,omitempty"`
}

// NewEvent создаёт pending-событие с новым идентификатором.
func NewEvent(sourceUserID int64, kind Kind, amount decimal.Decimal, now time.Time) Event {
	return Event{
		ID:           uuid.New(),
		SourceUserID: sourceUserID,
		Kind:         kind,
		Amount:       amount,
		Status:       StatusPending,
		CreatedAt:    now,
	}
}

// Sink принимает закоммиченное событие для немедленного применения.
// Ошибка не откатывает исходную операцию: событие останется pending.
type Sink interface {
	Dispatch(ctx context.Context, ev Event) error
}

// NopSink ничего не делает; события дождутся воркера.
type NopSink struct{}

// Dispatch ничего не делает.
func (NopSink) Dispatch(context.Context, Event) error { return nil }
