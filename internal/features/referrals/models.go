// Package referrals — дерево спонсоров глубиной до трёх уровней и
// неизменяемый леджер реферальных комиссий.
package referrals

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"serotonyl.ru/staking/internal/features/accounts"
)

// MaxDepth — жёсткий предел глубины дерева и цепочки начислений.
const MaxDepth = 3

// DefaultRates — ставки уровней 1, 2, 3.
func DefaultRates() []decimal.Decimal {
	return []decimal.Decimal{
		decimal.RequireFromString("0.10"),
		decimal.RequireFromString("0.05"),
		decimal.RequireFromString("0.02"),
	}
}

// Link — пользователь DescendantID на уровне Level в дереве AncestorID.
type Link struct {
	AncestorID   int64     `json:"ancestor_id"`
	DescendantID int64     `json:"descendant_id"`
	Level        int       `json:"level"`
	CreatedAt    time.Time `json:"created_at"`
}

// Entry — строка леджера комиссий. Уникальна по (EventID, BeneficiaryID, Level).
type Entry struct {
	ID            int64           `json:"id"`
	EventID       uuid.UUID       `json:"event_id"`
	BeneficiaryID int64           `json:"beneficiary_id"`
	SourceUserID  int64           `json:"source_user_id"`
	Level         int             `json:"level"`
	Rate          decimal.Decimal `json:"rate"`
	Amount        decimal.Decimal `json:"amount"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Tree — потомки пользователя по уровням в порядке вступления.
type Tree struct {
	Level1 []int64 `json:"level1"`
	Level2 []int64 `json:"level2"`
	Level3 []int64 `json:"level3"`
}

// Size — всего потомков.
func (t Tree) Size() int {
	return len(t.Level1) + len(t.Level2) + len(t.Level3)
}

// Overview — дерево, начисления и накопители пользователя.
type Overview struct {
	Tree        Tree                 `json:"tree"`
	Entries     []Entry              `json:"entries"`
	Commissions accounts.Commissions `json:"commissions"`
}

// ReconcileResult — сверка накопителей с леджером.
type ReconcileResult struct {
	UserID int64                `json:"user_id"`
	Before accounts.Commissions `json:"before"`
	After  accounts.Commissions `json:"after"`
	Drift  bool                 `json:"drift"`
}
