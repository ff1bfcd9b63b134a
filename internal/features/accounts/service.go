// Package accounts — service.go содержит бизнес-логику леджера:
// регистрация со спонсорским кодом, балансы, одобрение депозитов.
package accounts

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/staking/internal/common"
	"serotonyl.ru/staking/internal/features/outbox"
)

// Store — хранилище аккаунтов. Реализуется PostgreSQL-репозиторием и
// in-memory хранилищем (internal/db/memory).
type Store interface {
	CreateAccount(ctx context.Context, a *Account) error
	GetAccount(ctx context.Context, id int64) (*Account, error)
	GetAccountByReferralCode(ctx context.Context, code string) (*Account, error)
	GetAccountByTelegramChat(ctx context.Context, chatID int64) (*Account, error)
	SetTelegramChat(ctx context.Context, userID, chatID int64) error
	DebitWallet(ctx context.Context, userID int64, amount decimal.Decimal) (Balances, error)
	CreditWallet(ctx context.Context, userID int64, amount decimal.Decimal) (Balances, error)
	MoveToStake(ctx context.Context, userID int64, amount decimal.Decimal) (Balances, error)
	ReleaseFromStake(ctx context.Context, userID int64, amount decimal.Decimal) (Balances, error)
	ApproveDeposit(ctx context.Context, dep *Deposit, ev outbox.Event) (Balances, error)
}

// ReferralTree встраивает нового пользователя в дерево спонсора.
type ReferralTree interface {
	Attach(ctx context.Context, userID, sponsorID int64) error
}

// Service — бизнес-логика аккаунтов.
type Service struct {
	store Store
	tree  ReferralTree
	sink  outbox.Sink
	clock common.Clock
}

// NewService создаёт сервис аккаунтов.
func NewService(store Store, tree ReferralTree, sink outbox.Sink, clock common.Clock) *Service {
	if sink == nil {
		sink = outbox.NopSink{}
	}
	if clock == nil {
		clock = common.SystemClock{}
	}
	return &Service{store: store, tree: tree, sink: sink, clock: clock}
}

// codeAlphabet — без 0/O и 1/I/L, чтобы код можно было продиктовать.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const (
	codeLength      = 8
	codeGenAttempts = 5
	maxEmailLength  = 254
)

func generateReferralCode() (string, error) {
	var b strings.Builder
	b.Grow(codeLength)
	alphabetLen := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < codeLength; i++ {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", err
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// Register создаёт аккаунт. Непустой sponsorCode должен принадлежать
// существующему пользователю, иначе ErrNotFound и аккаунт не создаётся.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Account, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || len(email) > maxEmailLength || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("email %q: %w", in.Email, common.ErrInvalidInput)
	}

	var sponsor *Account
	if code := strings.ToUpper(strings.TrimSpace(in.SponsorCode)); code != "" {
		sp, err := s.store.GetAccountByReferralCode(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("спонсор: %w", err)
		}
		sponsor = sp
	}

	acc := &Account{Email: email, TelegramChatID: in.TelegramChatID}
	if sponsor != nil {
		acc.ReferredBy = &sponsor.ID
	}

	var lastErr error
	for attempt := 0; attempt < codeGenAttempts; attempt++ {
		code, err := generateReferralCode()
		if err != nil {
			return nil, fmt.Errorf("ошибка генерации кода: %w", err)
		}
		acc.ReferralCode = code
		lastErr = s.store.CreateAccount(ctx, acc)
		if lastErr == nil {
			break
		}
		if !errors.Is(lastErr, common.ErrAlreadyExists) {
			return nil, lastErr
		}
		// код занят — пробуем другой; иначе занят email
		if _, err := s.store.GetAccountByReferralCode(ctx, code); err != nil {
			return nil, fmt.Errorf("email %s: %w", email, common.ErrAlreadyExists)
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}

	// аккаунт уже закоммичен: ошибка здесь не должна делать email занятым
	// без возможности повтора. Attach идемпотентен и повторяется сверкой.
	if sponsor != nil && s.tree != nil {
		if err := s.tree.Attach(ctx, acc.ID, sponsor.ID); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"user_id":    acc.ID,
				"sponsor_id": sponsor.ID,
			}).Warn("Привязка к спонсору не удалась, будет повторена при сверке")
		}
	}

	log.WithFields(log.Fields{
		"user_id": acc.ID,
		"sponsor": in.SponsorCode,
	}).Info("Зарегистрирован новый аккаунт")
	return acc, nil
}

// Get возвращает аккаунт по ID.
func (s *Service) Get(ctx context.Context, userID int64) (*Account, error) {
	return s.store.GetAccount(ctx, userID)
}

// GetByReferralCode возвращает владельца реферального кода.
func (s *Service) GetByReferralCode(ctx context.Context, code string) (*Account, error) {
	return s.store.GetAccountByReferralCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
}

// GetByTelegramChat возвращает аккаунт, привязанный к чату.
func (s *Service) GetByTelegramChat(ctx context.Context, chatID int64) (*Account, error) {
	return s.store.GetAccountByTelegramChat(ctx, chatID)
}

// LinkTelegram привязывает чат Telegram для уведомлений.
func (s *Service) LinkTelegram(ctx context.Context, userID, chatID int64) error {
	if chatID == 0 {
		return fmt.Errorf("chat id не задан: %w", common.ErrInvalidInput)
	}
	return s.store.SetTelegramChat(ctx, userID, chatID)
}

// ChatID возвращает чат для уведомлений пользователя или ErrNotFound.
func (s *Service) ChatID(ctx context.Context, userID int64) (int64, error) {
	acc, err := s.store.GetAccount(ctx, userID)
	if err != nil {
		return 0, err
	}
	if acc.TelegramChatID == nil {
		return 0, common.ErrNotFound
	}
	return *acc.TelegramChatID, nil
}

// DebitWallet списывает amount с кошелька.
func (s *Service) DebitWallet(ctx context.Context, userID int64, amount decimal.Decimal) (Balances, error) {
	amount, err := validAmount(amount)
	if err != nil {
		return Balances{}, err
	}
	return s.store.DebitWallet(ctx, userID, amount)
}

// CreditWallet зачисляет amount на кошелёк.
func (s *Service) CreditWallet(ctx context.Context, userID int64, amount decimal.Decimal) (Balances, error) {
	amount, err := validAmount(amount)
	if err != nil {
		return Balances{}, err
	}
	return s.store.CreditWallet(ctx, userID, amount)
}

// MoveToStake атомарно переносит сумму из кошелька в стейк.
func (s *Service) MoveToStake(ctx context.Context, userID int64, amount decimal.Decimal) (Balances, error) {
	amount, err := validAmount(amount)
	if err != nil {
		return Balances{}, err
	}
	return s.store.MoveToStake(ctx, userID, amount)
}

// ReleaseFromStake — обратная операция к MoveToStake.
func (s *Service) ReleaseFromStake(ctx context.Context, userID int64, amount decimal.Decimal) (Balances, error) {
	amount, err := validAmount(amount)
	if err != nil {
		return Balances{}, err
	}
	return s.store.ReleaseFromStake(ctx, userID, amount)
}

// ApproveDeposit зачисляет одобренный депозит и запускает начисление
// реферальных комиссий. Сбой комиссий не откатывает депозит: событие
// останется в outbox и будет применено воркером.
func (s *Service) ApproveDeposit(ctx context.Context, userID int64, amount decimal.Decimal, reference string) (Balances, error) {
	amount, err := validAmount(amount)
	if err != nil {
		return Balances{}, err
	}
	now := s.clock.Now()
	dep := &Deposit{UserID: userID, Amount: amount, Reference: strings.TrimSpace(reference), ApprovedAt: now}
	ev := outbox.NewEvent(userID, outbox.KindDeposit, amount, now)

	b, err := s.store.ApproveDeposit(ctx, dep, ev)
	if err != nil {
		return Balances{}, err
	}

	log.WithFields(log.Fields{
		"user_id":    userID,
		"amount":     common.FormatMoney(amount),
		"deposit_id": dep.ID,
		"event_id":   ev.ID,
	}).Info("Депозит одобрен")

	if err := s.sink.Dispatch(ctx, ev); err != nil {
		log.WithError(err).WithField("event_id", ev.ID).Warn("Комиссии по депозиту отложены")
	}
	return b, nil
}

func validAmount(amount decimal.Decimal) (decimal.Decimal, error) {
	amount = common.RoundMoney(amount)
	if !amount.IsPositive() {
		return amount, common.ErrInvalidAmount
	}
	return amount, nil
}
