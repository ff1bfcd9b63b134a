// Package referrals — handlers.go обрабатывает команду бота /referrals.
package referrals

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/staking/internal/common"
)

// Handler обрабатывает команды рефералов.
type Handler struct {
	service *Service
	send    func(chatID int64, text string)
}

// NewHandler создаёт обработчик.
func NewHandler(service *Service, send func(chatID int64, text string)) *Handler {
	return &Handler{service: service, send: send}
}

// HandleReferrals — /referrals: размер дерева по уровням и доход.
func (h *Handler) HandleReferrals(ctx context.Context, chatID, userID int64) {
	ov, err := h.service.Overview(ctx, userID)
	if err != nil {
		log.WithError(err).WithField("user_id", userID).Error("Ошибка получения рефералов")
		h.send(chatID, "❌ Не удалось получить рефералов")
		return
	}
	h.send(chatID, FormatOverview(ov))
}

// FormatOverview — текст ответа /referrals.
func FormatOverview(ov *Overview) string {
	var sb strings.Builder
	n := ov.Tree.Size()
	fmt.Fprintf(&sb, "🤝 В команде %d %s\n\n", n, common.PluralizePartners(n))

	levels := []struct {
		ids    []int64
		income string
	}{
		{ov.Tree.Level1, common.FormatMoney(ov.Commissions.Level1Income)},
		{ov.Tree.Level2, common.FormatMoney(ov.Commissions.Level2Income)},
		{ov.Tree.Level3, common.FormatMoney(ov.Commissions.Level3Income)},
	}
	for i, l := range levels {
		fmt.Fprintf(&sb, "Уровень %d: %d, доход %s\n", i+1, len(l.ids), l.income)
	}
	fmt.Fprintf(&sb, "\nВсего начислений: %d", len(ov.Entries))
	return sb.String()
}
