// Package admin — service.go проверяет ключ администратора (Argon2id)
// и ограничивает перебор по источнику запроса.
package admin

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/argon2"

	"serotonyl.ru/staking/internal/common"
)

// AttemptStore — журнал попыток входа.
type AttemptStore interface {
	LogAttempt(ctx context.Context, source string, success bool, at time.Time) error
	CountRecentFailures(ctx context.Context, source string, since time.Time) (int, error)
}

// Service проверяет ключ администратора.
type Service struct {
	store   AttemptStore
	keyHash string
	clock   common.Clock
}

// NewService создаёт сервис. keyHash — строка из scripts/generate_hash.go.
func NewService(store AttemptStore, keyHash string, clock common.Clock) *Service {
	if clock == nil {
		clock = common.SystemClock{}
	}
	return &Service{store: store, keyHash: keyHash, clock: clock}
}

// VerifyKey проверяет ключ с использованием Argon2id.
// После MaxFailedAttempts неудач за AttemptWindow источник получает ErrTooManyAttempts.
func (s *Service) VerifyKey(ctx context.Context, source, key string) error {
	now := s.clock.Now()
	failures, err := s.store.CountRecentFailures(ctx, source, now.Add(-AttemptWindow))
	if err != nil {
		return err
	}
	if failures >= MaxFailedAttempts {
		return common.ErrTooManyAttempts
	}

	match := key != "" && verifyArgon2id(key, s.keyHash)

	if err := s.store.LogAttempt(ctx, source, match, now); err != nil {
		log.WithError(err).WithField("source", source).Warn("Не удалось записать попытку входа")
	}
	if !match {
		log.WithFields(log.Fields{"source": source, "failures": failures + 1}).Warn("Неверный ключ администратора")
		return common.ErrForbidden
	}
	return nil
}

// Параметры Argon2id для новых хешей.
const (
	hashMemory      uint32 = 64 * 1024 // 64 MB
	hashIterations  uint32 = 3
	hashParallelism uint8  = 2
	hashKeyLength   uint32 = 32
	hashSaltLength         = 16
)

// HashKey возвращает хеш ключа в формате
// $argon2id$v=19$m=65536,t=3,p=2$<salt_base64>$<hash_base64>.
func HashKey(key string) (string, error) {
	salt := make([]byte, hashSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("ошибка генерации соли: %w", err)
	}
	hash := argon2.IDKey([]byte(key), salt, hashIterations, hashMemory, hashParallelism, hashKeyLength)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, hashMemory, hashIterations, hashParallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// verifyArgon2id проверяет ключ по хешу Argon2id.
func verifyArgon2id(key, encodedHash string) bool {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		log.Error("Некорректный формат хеша Argon2id")
		return false
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		log.WithError(err).Error("Ошибка парсинга параметров Argon2id")
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		log.WithError(err).Error("Ошибка декодирования соли")
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		log.WithError(err).Error("Ошибка декодирования хеша")
		return false
	}

	computed := argon2.IDKey([]byte(key), salt, iterations, memory, parallelism, uint32(len(expected)))
	return subtle.ConstantTimeCompare(computed, expected) == 1
}
