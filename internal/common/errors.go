// Package common — errors.go определяет доменные ошибки ядра стейкинга.
// Обработчики HTTP и бота различают их через errors.Is и отдают
// пользователю понятный ответ.
package common

import "errors"

// Ошибки леджера и стейков
var (
	// ErrNotFound — пользователь, стейк или реферальный код не найдены
	ErrNotFound = errors.New("запись не найдена")
	// ErrInsufficientFunds — списание увело бы баланс в минус
	ErrInsufficientFunds = errors.New("недостаточно средств")
	// ErrInvalidAmount — сумма ноль или отрицательная
	ErrInvalidAmount = errors.New("сумма должна быть положительной")
	// ErrInvalidLockPeriod — срок блокировки вне допустимого списка
	ErrInvalidLockPeriod = errors.New("недопустимый срок блокировки")
	// ErrStakeLocked — вывод стейка до разблокировки
	ErrStakeLocked = errors.New("стейк ещё не разблокирован")
	// ErrAlreadyExists — email или реферальный код уже заняты
	ErrAlreadyExists = errors.New("запись уже существует")
	// ErrInvalidInput — запрос не прошёл валидацию (email, chat id и т.п.)
	ErrInvalidInput = errors.New("некорректные данные")
	// ErrTxConflict — транзакция так и не прошла после повторов сериализации
	ErrTxConflict = errors.New("конфликт транзакций, повторите позже")
)

// ErrAlreadyProcessed — защита идемпотентности: прибыль за день уже начислена,
// стейк уже разблокирован, комиссия по событию уже выплачена.
// Вызывающий код трактует её как успешный no-op.
var ErrAlreadyProcessed = errors.New("операция уже выполнена")

// ErrDependencyFailure — сбой внешнего побочного канала (уведомления).
// Никогда не роняет основную операцию леджера.
var ErrDependencyFailure = errors.New("внешняя зависимость недоступна")

// Ошибки доступа
var (
	// ErrForbidden — неверный ключ администратора или шлюза
	ErrForbidden = errors.New("доступ запрещён")
	// ErrTooManyAttempts — слишком много неудачных попыток ключа
	ErrTooManyAttempts = errors.New("слишком много попыток, подождите")
)
