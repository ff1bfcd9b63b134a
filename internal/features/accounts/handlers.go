// Package accounts — handlers.go обрабатывает команду бота /balance.
package accounts

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/staking/internal/common"
)

// Handler обрабатывает команды, связанные с балансом.
type Handler struct {
	service *Service
	send    func(chatID int64, text string)
}

// NewHandler создаёт обработчик. send отправляет текст в чат.
func NewHandler(service *Service, send func(chatID int64, text string)) *Handler {
	return &Handler{service: service, send: send}
}

// HandleBalance — /balance: кошелёк, стейк и реферальные накопители.
func (h *Handler) HandleBalance(ctx context.Context, chatID, userID int64) {
	acc, err := h.service.Get(ctx, userID)
	if err != nil {
		log.WithError(err).WithField("user_id", userID).Error("Ошибка получения баланса")
		h.send(chatID, "❌ Не удалось получить баланс")
		return
	}
	h.send(chatID, FormatBalance(acc))
}

// FormatBalance — текст ответа /balance.
func FormatBalance(acc *Account) string {
	var sb strings.Builder
	sb.WriteString("💰 Баланс\n\n")
	fmt.Fprintf(&sb, "Кошелёк: %s\n", common.FormatMoney(acc.WalletBalance))
	fmt.Fprintf(&sb, "В стейках: %s\n", common.FormatMoney(acc.StakedBalance))
	fmt.Fprintf(&sb, "\n🤝 Реферальные: %s (1 ур.) / %s (2–3 ур.)\n",
		common.FormatMoney(acc.Commissions.ReferralEarnings),
		common.FormatMoney(acc.Commissions.LevelIncome))
	fmt.Fprintf(&sb, "Ваш код: %s", acc.ReferralCode)
	return sb.String()
}
