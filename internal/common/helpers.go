// Package common содержит общие утилиты, используемые во всём проекте.
// Сюда входят: округление денег, календарные дни в часовом поясе платформы,
// форматирование дат и отчёты фоновых проходов.
package common

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// MoneyPlaces — количество знаков после запятой у всех сумм (центы).
const MoneyPlaces = 2

// RoundMoney округляет сумму до центов (банковское округление не используется,
// половина уходит вверх, как в NUMERIC(20,2)).
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// FormatMoney форматирует сумму с двумя знаками.
// Пример: FormatMoney(decimal.NewFromInt(130)) → "130.00"
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(MoneyPlaces)
}

// LoadLocation загружает часовой пояс по имени.
// Если tzdata в образе нет — для Europe/Moscow используем UTC+3 вручную,
// для остальных UTC.
func LoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err == nil {
		return loc
	}
	if name == "Europe/Moscow" {
		log.WithError(err).Warn("Не удалось загрузить Europe/Moscow, используем UTC+3")
		return time.FixedZone("MSK", 3*60*60)
	}
	log.WithError(err).WithField("tz", name).Warn("Не удалось загрузить часовой пояс, используем UTC")
	return time.UTC
}

// DayOf возвращает календарный день момента t в часовом поясе loc.
// День представлен полночью UTC с теми же годом, месяцем и числом,
// так он один в один ложится в колонку DATE и сравнивается без учёта пояса.
func DayOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween — число полных календарных дней от from до to (оба из DayOf).
func DaysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}

// FormatDateTime форматирует время в формат "02.01.2006 15:04" в поясе loc.
// Используется в уведомлениях и ответах бота.
func FormatDateTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("02.01.2006 15:04")
}

// Clock — источник текущего времени. В проде SystemClock, в тестах фиксированные часы.
type Clock interface {
	Now() time.Time
}

// SystemClock возвращает реальное время.
type SystemClock struct{}

// Now возвращает time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock всегда возвращает одно и то же время. Сдвигается через Advance.
type FixedClock struct {
	T time.Time
}

// Now возвращает зафиксированное время.
func (c *FixedClock) Now() time.Time { return c.T }

// Advance сдвигает часы вперёд.
func (c *FixedClock) Advance(d time.Duration) { c.T = c.T.Add(d) }

// SweepReport — итог одного фонового прохода (начисление, разблокировка, релок, комиссии).
type SweepReport struct {
	Name      string        `json:"name"`
	Processed int           `json:"processed"`
	Skipped   int           `json:"skipped"`
	Errored   int           `json:"errored"`
	Duration  time.Duration `json:"duration"`
}

// Add складывает счётчики двух отчётов.
func (r *SweepReport) Add(other SweepReport) {
	r.Processed += other.Processed
	r.Skipped += other.Skipped
	r.Errored += other.Errored
	r.Duration += other.Duration
}

// String — короткая строка для логов и CLI.
func (r SweepReport) String() string {
	return fmt.Sprintf("%s: обработано %d, пропущено %d, ошибок %d (%s)",
		r.Name, r.Processed, r.Skipped, r.Errored, r.Duration.Round(time.Millisecond))
}

// LogFields — поля для logrus.
func (r SweepReport) LogFields() log.Fields {
	return log.Fields{
		"sweep":     r.Name,
		"processed": r.Processed,
		"skipped":   r.Skipped,
		"errored":   r.Errored,
		"duration":  r.Duration.String(),
	}
}
