// Package admin реализует доступ администратора по ключу X-Admin-Key.
// models.go описывает попытки входа.
package admin

import "time"

// LoginAttempt — попытка предъявить ключ (для защиты от brute-force).
type LoginAttempt struct {
	ID          int64     `db:"id"`
	Source      string    `db:"source"` // IP клиента
	AttemptTime time.Time `db:"attempt_time"`
	Success     bool      `db:"success"`
}

// Ограничение перебора: столько неудач за окно блокируют источник.
const (
	MaxFailedAttempts = 5
	AttemptWindow     = time.Hour
)

// HeaderKey — заголовок с ключом администратора.
const HeaderKey = "X-Admin-Key"
