// Package stakes — handlers.go обрабатывает команду бота /stakes.
package stakes

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/staking/internal/common"
)

// Handler обрабатывает команды стейков.
type Handler struct {
	service *Service
	send    func(chatID int64, text string)
}

// NewHandler создаёт обработчик.
func NewHandler(service *Service, send func(chatID int64, text string)) *Handler {
	return &Handler{service: service, send: send}
}

// HandleStakes — /stakes: список текущих стейков.
func (h *Handler) HandleStakes(ctx context.Context, chatID, userID int64) {
	list, err := h.service.ListForUser(ctx, userID)
	if err != nil {
		log.WithError(err).WithField("user_id", userID).Error("Ошибка получения стейков")
		h.send(chatID, "❌ Не удалось получить стейки")
		return
	}
	h.send(chatID, FormatStakes(list, h.service.loc))
}

// FormatStakes — текст ответа /stakes.
func FormatStakes(list []*Stake, loc *time.Location) string {
	if len(list) == 0 {
		return "📭 У вас нет активных стейков"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📈 У вас %d %s\n", len(list), common.PluralizeStakes(len(list)))
	for _, st := range list {
		sb.WriteString("\n")
		switch st.Status {
		case StatusLocked:
			fmt.Fprintf(&sb, "🔒 #%d: %s, прибыль %s, цикл %d\n   до %s (%d %s)\n",
				st.ID, common.FormatMoney(st.OriginalAmount), common.FormatMoney(st.TotalProfit),
				st.Cycle, common.FormatDateTime(st.UnlockDate, loc),
				st.LockPeriod, common.PluralizeDays(st.LockPeriod))
		case StatusUnlocked:
			fmt.Fprintf(&sb, "🔓 #%d: %s к выводу, цикл %d\n",
				st.ID, common.FormatMoney(st.CurrentAmount), st.Cycle)
			if st.AutoRelock && st.AutoRelockAt != nil {
				fmt.Fprintf(&sb, "   автопродление %s\n", common.FormatDateTime(*st.AutoRelockAt, loc))
			}
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
