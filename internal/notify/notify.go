// Package notify — асинхронная доставка уведомлений пользователям.
// Проходы и сервисы кладут сообщение в ограниченную очередь и идут дальше;
// воркер отправляет его с таймаутом. Переполнение очереди или сбой канала
// доставки никогда не роняют основную операцию.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/staking/internal/common"
	"serotonyl.ru/staking/internal/monitoring"
)

// Message — текст для пользователя платформы.
type Message struct {
	UserID int64
	Text   string
}

// Sender доставляет текст в чат (Telegram или лог).
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Recipients находит чат пользователя; ErrNotFound — чат не привязан.
type Recipients interface {
	ChatID(ctx context.Context, userID int64) (int64, error)
}

// RecipientsFunc — функция как Recipients.
type RecipientsFunc func(ctx context.Context, userID int64) (int64, error)

// ChatID вызывает f.
func (f RecipientsFunc) ChatID(ctx context.Context, userID int64) (int64, error) {
	return f(ctx, userID)
}

// Dispatcher — ограниченная очередь с одним воркером.
type Dispatcher struct {
	queue      chan Message
	sender     Sender
	recipients Recipients
	timeout    time.Duration

	mu        sync.RWMutex
	closed    bool
	startOnce sync.Once
	done      chan struct{}
}

// NewDispatcher создаёт диспетчер. Воркер запускается через Start.
func NewDispatcher(sender Sender, recipients Recipients, queueSize int, timeout time.Duration) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{
		queue:      make(chan Message, queueSize),
		sender:     sender,
		recipients: recipients,
		timeout:    timeout,
		done:       make(chan struct{}),
	}
}

// Start запускает воркер доставки.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		go d.run()
	})
}

// Notify ставит сообщение в очередь без блокировки.
// false — очередь заполнена или закрыта, сообщение отброшено.
func (d *Dispatcher) Notify(msg Message) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- msg:
		return true
	default:
		monitoring.Notifications.WithLabelValues("dropped").Inc()
		log.WithField("user_id", msg.UserID).Warn("Очередь уведомлений переполнена, сообщение отброшено")
		return false
	}
}

// Close закрывает очередь и ждёт, пока воркер разошлёт остаток, или ctx.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.Start()
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("уведомления не дослались: %w", ctx.Err())
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for msg := range d.queue {
		d.deliver(msg)
	}
}

func (d *Dispatcher) deliver(msg Message) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Паника при отправке уведомления")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	chatID, err := d.recipients.ChatID(ctx, msg.UserID)
	if errors.Is(err, common.ErrNotFound) {
		monitoring.Notifications.WithLabelValues("skipped").Inc()
		return
	}
	if err != nil {
		monitoring.Notifications.WithLabelValues("failed").Inc()
		log.WithError(err).WithField("user_id", msg.UserID).Warn("Не удалось найти чат для уведомления")
		return
	}

	if err := d.sender.Send(ctx, chatID, msg.Text); err != nil {
		monitoring.Notifications.WithLabelValues("failed").Inc()
		log.WithError(fmt.Errorf("%w: %v", common.ErrDependencyFailure, err)).
			WithField("user_id", msg.UserID).Warn("Уведомление не доставлено")
		return
	}
	monitoring.Notifications.WithLabelValues("sent").Inc()
}

// LogSender пишет уведомления в лог, когда Telegram не настроен.
type LogSender struct{}

// Send логирует сообщение.
func (LogSender) Send(_ context.Context, chatID int64, text string) error {
	log.WithField("chat_id", chatID).Info("[NOTIFY] " + text)
	return nil
}
