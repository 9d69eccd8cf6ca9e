// Package common — errors.go определяет ошибки, общие для всех модулей бота.
// Ошибки сгруппированы по классам: валидация, права, конкурентность,
// состояние конверта. Обработчики различают их через errors.Is и отвечают
// пользователю понятным текстом.
package common

import "errors"

// Ошибки валидации при создании конверта.
// Все они восстановимы: пользователю показывается подсказка и он может
// повторить ввод. Автоматических повторов нет.
var (
	// ErrBadAmount — сумма не распарсилась или не положительная
	ErrBadAmount = errors.New("сумма должна быть положительным числом")
	// ErrBadCount — количество долей не распарсилось или не положительное
	ErrBadCount = errors.New("количество долей должно быть целым положительным числом")
	// ErrTotalTooSmall — сумма меньше минимально допустимой
	ErrTotalTooSmall = errors.New("сумма меньше минимально допустимой")
	// ErrTotalTooLarge — сумма больше максимально допустимой
	ErrTotalTooLarge = errors.New("сумма больше максимально допустимой")
	// ErrTooManyShares — долей больше, чем разрешено
	ErrTooManyShares = errors.New("слишком много долей")
	// ErrShareBelowFloor — средняя доля меньше минимальной (total/count < minShare)
	ErrShareBelowFloor = errors.New("сумма слишком мала для такого количества долей")
	// ErrTitleTooLong — заголовок длиннее 50 символов
	ErrTitleTooLong = errors.New("заголовок слишком длинный (максимум 50 символов)")
)

// Ошибки прав и политики отправителя.
var (
	// ErrChatKindNotAllowed — в чатах этого типа конверты создавать нельзя
	ErrChatKindNotAllowed = errors.New("в этом чате нельзя создавать красные конверты")
	// ErrInsufficientBalance — на счёте отправителя не хватает средств
	ErrInsufficientBalance = errors.New("недостаточно средств на счёте")
	// ErrSenderBanned — отправитель заблокирован
	ErrSenderBanned = errors.New("пользователь заблокирован")
	// ErrDailyCountCap — дневной лимит на число конвертов исчерпан
	ErrDailyCountCap = errors.New("дневной лимит конвертов исчерпан")
	// ErrDailyAmountCap — дневной лимит на сумму конвертов исчерпан
	ErrDailyAmountCap = errors.New("дневной лимит суммы конвертов исчерпан")
	// ErrNotPacketSender — операция доступна только отправителю конверта
	ErrNotPacketSender = errors.New("это не ваш конверт")
)

// Транзиентные ошибки конкурентности. Вызывающая сторона может повторить
// попытку через пару секунд, сам движок повторов не делает.
var (
	// ErrTooFrequent — у пользователя ещё не истёк токен частоты
	ErrTooFrequent = errors.New("слишком часто, подождите пару секунд")
	// ErrSystemBusy — не удалось взять блокировку (конкурентная попытка)
	ErrSystemBusy = errors.New("система занята, попробуйте ещё раз")
	// ErrDuplicateSubmit — повторная отправка той же заявки на создание
	ErrDuplicateSubmit = errors.New("такой конверт уже отправляется, подождите")
)

// Терминальные ошибки состояния конверта. Повторять бессмысленно.
var (
	// ErrPacketNotFound — конверт не найден (или из другого чата)
	ErrPacketNotFound = errors.New("конверт не найден")
	// ErrPacketEnded — конверт уже закрыт (истёк, отозван или завершён)
	ErrPacketEnded = errors.New("конверт уже закрыт")
	// ErrPacketEmpty — все доли разобраны
	ErrPacketEmpty = errors.New("все доли уже разобраны")
	// ErrAlreadyClaimed — пользователь уже получал долю из этого конверта
	ErrAlreadyClaimed = errors.New("вы уже открывали этот конверт")
	// ErrRevokeAfterClaims — отозвать можно только конверт без единой выдачи
	ErrRevokeAfterClaims = errors.New("конверт нельзя отозвать: доли уже разобраны")
)

// Ошибки админки.
var (
	// ErrNotAdmin — пользователь не администратор
	ErrNotAdmin = errors.New("у вас нет прав администратора")
	// ErrWrongPassword — неверный пароль
	ErrWrongPassword = errors.New("неверный пароль")
	// ErrTooManyAttempts — слишком много неудачных попыток входа
	ErrTooManyAttempts = errors.New("слишком много попыток, подождите 1 час")
)

// IsValidationError сообщает, относится ли ошибка к классу валидации ввода.
func IsValidationError(err error) bool {
	for _, e := range []error{
		ErrBadAmount, ErrBadCount, ErrTotalTooSmall, ErrTotalTooLarge,
		ErrTooManyShares, ErrShareBelowFloor, ErrTitleTooLong,
	} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

// IsRetryable сообщает, имеет ли смысл вызывающей стороне повторить попытку.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTooFrequent) || errors.Is(err, ErrSystemBusy)
}
