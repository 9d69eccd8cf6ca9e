// Package admin — handlers.go обрабатывает админ-команды.
// Вход строго в личных сообщениях; действия доступны в любом чате,
// но только при живой сессии.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/redpacket-bot/internal/common"
	"serotonyl.ru/redpacket-bot/internal/features/members"
	"serotonyl.ru/redpacket-bot/internal/features/wallet"
)

// Handler обрабатывает админ-команды.
type Handler struct {
	service       *Service
	memberService *members.Service
	walletService *wallet.Service
	bot           *tgbotapi.BotAPI
}

// NewHandler создаёт обработчик админ-команд.
func NewHandler(service *Service, memberService *members.Service, walletService *wallet.Service, bot *tgbotapi.BotAPI) *Handler {
	return &Handler{
		service:       service,
		memberService: memberService,
		walletService: walletService,
		bot:           bot,
	}
}

// IsAuthed сообщает, действует ли сейчас админ-сессия пользователя.
func (h *Handler) IsAuthed(ctx context.Context, userID int64) bool {
	return h.service.HasActiveSession(ctx, userID)
}

// HandleLogin — команда /login <пароль>, только в личке.
func (h *Handler) HandleLogin(ctx context.Context, msg *tgbotapi.Message, args string) {
	if !msg.Chat.IsPrivate() {
		h.sendMessage(msg.Chat.ID, "🔐 Вход только в личных сообщениях")
		return
	}
	password := strings.TrimSpace(args)
	if password == "" {
		h.sendMessage(msg.Chat.ID, "Формат: /login <пароль>")
		return
	}

	err := h.service.Login(ctx, msg.From.ID, password)
	switch {
	case err == nil:
		h.sendMessage(msg.Chat.ID, "✅ Аутентификация успешна, сессия на 24 часа")
	case errors.Is(err, common.ErrNotAdmin):
		h.sendMessage(msg.Chat.ID, "🚫 Вы не администратор")
	case errors.Is(err, common.ErrWrongPassword):
		h.sendMessage(msg.Chat.ID, "❌ Неверный пароль")
	case errors.Is(err, common.ErrTooManyAttempts):
		h.sendMessage(msg.Chat.ID, "⏳ Слишком много попыток, подождите час")
	default:
		log.WithError(err).Error("Ошибка входа админа")
		h.sendMessage(msg.Chat.ID, "❌ Внутренняя ошибка, попробуйте позже")
	}
}

// HandleLogout — команда /logout.
func (h *Handler) HandleLogout(ctx context.Context, msg *tgbotapi.Message) {
	if err := h.service.Logout(ctx, msg.From.ID); err != nil {
		log.WithError(err).Error("Ошибка выхода админа")
		h.sendMessage(msg.Chat.ID, "❌ Не получилось, попробуйте позже")
		return
	}
	h.sendMessage(msg.Chat.ID, "👋 Сессия закрыта")
}

// HandleBan — команда !бан <user_id>. Забаненный не создаёт и не открывает
// конверты; уже выданные доли остаются.
func (h *Handler) HandleBan(ctx context.Context, msg *tgbotapi.Message, args string) {
	h.setBanned(ctx, msg, args, true, "🔨 Пользователь %d забанен")
}

// HandleUnban — команда !разбан <user_id>.
func (h *Handler) HandleUnban(ctx context.Context, msg *tgbotapi.Message, args string) {
	h.setBanned(ctx, msg, args, false, "🕊 Пользователь %d разбанен")
}

func (h *Handler) setBanned(ctx context.Context, msg *tgbotapi.Message, args string, banned bool, okFormat string) {
	userID, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
	if err != nil {
		h.sendMessage(msg.Chat.ID, "Формат: команда <user_id>")
		return
	}
	if err := h.memberService.SetBanned(ctx, userID, banned); err != nil {
		log.WithError(err).WithField("user_id", userID).Error("Ошибка смены бана")
		h.sendMessage(msg.Chat.ID, "❌ Пользователь не найден или ошибка базы")
		return
	}
	h.sendMessage(msg.Chat.ID, fmt.Sprintf(okFormat, userID))
}

// HandleGive — команда !выдать <user_id> <сумма>: пополняет баланс
// пользователя из системы.
func (h *Handler) HandleGive(ctx context.Context, msg *tgbotapi.Message, args string) {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		h.sendMessage(msg.Chat.ID, "Формат: !выдать <user_id> <сумма>")
		return
	}
	userID, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		h.sendMessage(msg.Chat.ID, "⚠️ Не понял user_id")
		return
	}
	kop, err := common.ParseMoney(fields[1])
	if err != nil || kop <= 0 {
		h.sendMessage(msg.Chat.ID, "⚠️ Не понял сумму")
		return
	}

	err = h.walletService.Credit(ctx, userID, kop, wallet.TxTypeAdminGive,
		fmt.Sprintf("выдача администратором %d", msg.From.ID))
	if err != nil {
		log.WithError(err).Error("Ошибка выдачи средств")
		h.sendMessage(msg.Chat.ID, "❌ Не получилось, попробуйте позже")
		return
	}

	log.WithFields(log.Fields{
		"admin_id": msg.From.ID,
		"user_id":  userID,
		"amount":   common.FormatMoney(kop),
	}).Info("Админ пополнил баланс")
	h.sendMessage(msg.Chat.ID, fmt.Sprintf("💰 Пользователю %d начислено %s ₽", userID, common.FormatMoney(kop)))
}

func (h *Handler) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := h.bot.Send(msg); err != nil {
		log.WithError(err).Error("Ошибка отправки сообщения")
	}
}
