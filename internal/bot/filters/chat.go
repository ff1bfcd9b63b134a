// Package filters решает, какие апдейты бот вообще обрабатывает.
package filters

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"
)

// ChatFilter пропускает только личные сообщения от пользователей:
// балансы и стейки не показываются в группах.
type ChatFilter struct {
	send func(chatID int64, text string)
}

// NewChatFilter создаёт фильтр. send нужен для ответа в группу; может быть nil.
func NewChatFilter(send func(chatID int64, text string)) *ChatFilter {
	return &ChatFilter{send: send}
}

// CheckAccess возвращает true, если сообщение можно обрабатывать.
func (f *ChatFilter) CheckAccess(message *tgbotapi.Message) bool {
	if message == nil || message.Chat == nil {
		log.WithField("component", "ChatFilter").Warn("nil message/chat")
		return false
	}
	if message.From == nil || message.From.IsBot {
		log.WithFields(log.Fields{
			"component": "ChatFilter",
			"chat_id":   message.Chat.ID,
			"chat_type": message.Chat.Type,
		}).Debug("deny: service or bot message")
		return false
	}

	if message.Chat.IsPrivate() {
		return true
	}

	log.WithFields(log.Fields{
		"component": "ChatFilter",
		"chat_id":   message.Chat.ID,
		"chat_type": message.Chat.Type,
		"user_id":   message.From.ID,
	}).Info("deny: not a private chat")
	if message.IsCommand() && f.send != nil {
		f.send(message.Chat.ID, "🔐 Бот отвечает только в личных сообщениях")
	}
	return false
}
