// Package bot содержит Telegram-бота: polling команд чтения
// (/balance, /stakes, /referrals) и отправку уведомлений.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/staking/internal/bot/filters"
	"serotonyl.ru/staking/internal/common"
	"serotonyl.ru/staking/internal/features/accounts"
	"serotonyl.ru/staking/internal/features/referrals"
	"serotonyl.ru/staking/internal/features/stakes"
	"serotonyl.ru/staking/internal/middleware"
)

// Options — параметры polling.
type Options struct {
	MaxInflight   int
	UpdateTimeout int
	RateLimiter   *middleware.RateLimiter
}

// Bot — главная структура бота, объединяющая все компоненты.
type Bot struct {
	api  *tgbotapi.BotAPI
	opts Options

	chatFilter *filters.ChatFilter

	accountService  *accounts.Service
	accountHandler  *accounts.Handler
	stakeHandler    *stakes.Handler
	referralHandler *referrals.Handler

	parser *CommandParser

	// ограничитель параллелизма обработки апдейтов
	inflight chan struct{}
}

// NewAPI авторизуется в Telegram.
func NewAPI(token string, debug bool) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания Telegram API: %w", err)
	}
	api.Debug = debug
	log.Infof("Авторизован как @%s", api.Self.UserName)
	return api, nil
}

// New создаёт бота со всеми зависимостями.
func New(api *tgbotapi.BotAPI, opts Options, accountService *accounts.Service, stakeService *stakes.Service, referralService *referrals.Service) *Bot {
	if opts.MaxInflight <= 0 {
		opts.MaxInflight = 64
	}
	b := &Bot{
		api:            api,
		opts:           opts,
		accountService: accountService,
		parser:         NewCommandParser(),
		inflight:       make(chan struct{}, opts.MaxInflight),
	}
	b.chatFilter = filters.NewChatFilter(b.sendMessage)
	b.accountHandler = accounts.NewHandler(accountService, b.sendMessage)
	b.stakeHandler = stakes.NewHandler(stakeService, b.sendMessage)
	b.referralHandler = referrals.NewHandler(referralService, b.sendMessage)
	return b
}

// Start запускает polling обновлений от Telegram.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.opts.UpdateTimeout

	updates := b.api.GetUpdatesChan(u)

	log.WithFields(log.Fields{
		"max_inflight": b.opts.MaxInflight,
		"timeout_sec":  b.opts.UpdateTimeout,
	}).Info("Бот запущен и ожидает сообщения...")

	for {
		select {
		case <-ctx.Done():
			log.Info("Бот останавливается (ctx done)...")
			b.api.StopReceivingUpdates()
			return

		case update, ok := <-updates:
			if !ok {
				log.Info("Канал updates закрыт, бот остановлен")
				return
			}

			// лимит параллелизма
			b.inflight <- struct{}{}
			go func(upd tgbotapi.Update) {
				defer func() { <-b.inflight }()
				b.handleUpdate(ctx, upd)
			}(update)
		}
	}
}

// handleUpdate обрабатывает одно обновление от Telegram.
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer middleware.RecoverFromPanic("bot")

	message := update.Message
	if message == nil || message.Text == "" {
		return
	}

	middleware.LogMessage(message)

	if !b.chatFilter.CheckAccess(message) {
		return
	}

	if b.opts.RateLimiter != nil && !b.opts.RateLimiter.Allow("tg:"+strconv.FormatInt(message.From.ID, 10)) {
		log.WithField("user_id", message.From.ID).Debug("rate limited")
		return
	}

	cmd, args, isCommand := b.parser.ParseCommand(message.Text)
	if !isCommand {
		return
	}
	log.WithFields(log.Fields{"cmd": cmd, "args": args}).Debug("parsed command")
	b.routeCommand(ctx, message.Chat.ID, cmd)
}

// routeCommand маршрутизирует команду к нужному обработчику.
func (b *Bot) routeCommand(ctx context.Context, chatID int64, cmd string) {
	switch cmd {
	case "start", "help":
		b.sendMessage(chatID, helpText(chatID))
		return
	case "balance", "баланс", "stakes", "стейки", "referrals", "рефералы":
	default:
		return
	}

	acc, err := b.accountService.GetByTelegramChat(ctx, chatID)
	if errors.Is(err, common.ErrNotFound) {
		b.sendMessage(chatID, unlinkedText(chatID))
		return
	}
	if err != nil {
		log.WithError(err).WithField("chat_id", chatID).Error("Ошибка поиска аккаунта по чату")
		b.sendMessage(chatID, "❌ Сервис временно недоступен")
		return
	}

	switch cmd {
	case "balance", "баланс":
		b.accountHandler.HandleBalance(ctx, chatID, acc.ID)
	case "stakes", "стейки":
		b.stakeHandler.HandleStakes(ctx, chatID, acc.ID)
	case "referrals", "рефералы":
		b.referralHandler.HandleReferrals(ctx, chatID, acc.ID)
	}
}

func helpText(chatID int64) string {
	return fmt.Sprintf("Команды: /balance, /stakes, /referrals\n\nВаш chat id: %d", chatID)
}

func unlinkedText(chatID int64) string {
	return fmt.Sprintf("🔗 Чат не привязан к аккаунту.\nУкажите chat id %d в профиле платформы.", chatID)
}

// sendMessage — утилита для отправки сообщений из обработчиков.
func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		log.WithError(err).WithField("chat_id", chatID).Error("Ошибка отправки сообщения")
	}
}

// Sender доставляет уведомления через Bot API (реализует notify.Sender).
type Sender struct {
	api *tgbotapi.BotAPI
}

// NewSender создаёт отправителя уведомлений.
func NewSender(api *tgbotapi.BotAPI) *Sender {
	return &Sender{api: api}
}

// Send отправляет текст в чат. Таймаут задаёт вызывающий через ctx.
func (s *Sender) Send(ctx context.Context, chatID int64, text string) error {
	done := make(chan error, 1)
	go func() {
		_, err := s.api.Send(tgbotapi.NewMessage(chatID, text))
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CommandParser парсит команды с префиксами /, ! и .
type CommandParser struct {
	validPrefixes []string
}

// NewCommandParser создаёт парсер команд.
func NewCommandParser() *CommandParser {
	return &CommandParser{
		validPrefixes: []string{"/", "!", "."},
	}
}

// ParseCommand разбирает текст на команду и аргументы.
// Суффикс @botname у команды отбрасывается.
func (p *CommandParser) ParseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)

	hasPrefix := false
	for _, prefix := range p.validPrefixes {
		if strings.HasPrefix(text, prefix) {
			text = strings.TrimPrefix(text, prefix)
			hasPrefix = true
			break
		}
	}
	if !hasPrefix {
		return "", nil, false
	}

	parts := strings.Fields(text)
	if len(parts) == 0 {
		return "", nil, false
	}

	command := strings.ToLower(parts[0])
	if at := strings.IndexByte(command, '@'); at >= 0 {
		command = command[:at]
	}
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	return command, args, true
}
