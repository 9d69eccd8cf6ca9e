// Package common содержит общие утилиты: деньги и форматирование времени.
//
// Все суммы внутри бота хранятся в копейках (int64) — так арифметика долей
// точная и сумма долей всегда сходится с номиналом конверта без остатков
// округления. shopspring/decimal используется только на границе: парсинг
// пользовательского ввода и форматирование ответов.
package common

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ParseMoney разбирает денежную строку ("100", "12.50", "0.01") в копейки.
// Запятая принимается как десятичный разделитель. Дробная часть длиннее
// двух знаков не принимается: молча округлять деньги пользователя нельзя.
func ParseMoney(s string) (int64, error) {
	s = strings.Replace(strings.TrimSpace(s), ",", ".", 1)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrBadAmount
	}
	if d.Exponent() < -2 {
		return 0, ErrBadAmount
	}
	kop := d.Mul(decimal.NewFromInt(100))
	if !kop.IsInteger() {
		return 0, ErrBadAmount
	}
	return kop.IntPart(), nil
}

// FormatMoney форматирует копейки в строку с двумя знаками: 1250 → "12.50".
func FormatMoney(kop int64) string {
	return decimal.New(kop, -2).StringFixed(2)
}

// FormatDateTime форматирует время в "02.01.2006 15:04" в часовом поясе бота.
func FormatDateTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("02.01.2006 15:04")
}

// StartOfDay возвращает полночь суток, в которые попадает t, в поясе loc.
// Используется для дневных лимитов отправителя.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
