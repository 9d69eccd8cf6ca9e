// handlers.go переводит команды чата в вызовы движка конвертов
// и ошибки движка — в человеческие ответы.
package redpacket

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/redpacket-bot/internal/common"
	"serotonyl.ru/redpacket-bot/internal/config"
	"serotonyl.ru/redpacket-bot/internal/features/members"
)

// Handler обрабатывает команды красных конвертов.
type Handler struct {
	service *Service
	conv    *Conversation
	members *members.Service
	bot     *tgbotapi.BotAPI
	cfg     *config.Config
}

// NewHandler создаёт обработчик конвертов.
func NewHandler(service *Service, conv *Conversation, membersService *members.Service, bot *tgbotapi.BotAPI, cfg *config.Config) *Handler {
	return &Handler{
		service: service,
		conv:    conv,
		members: membersService,
		bot:     bot,
		cfg:     cfg,
	}
}

// HandleCreate — команда !хунбао. С аргументами создаёт конверт сразу,
// без аргументов открывает пошаговый диалог.
func (h *Handler) HandleCreate(ctx context.Context, msg *tgbotapi.Message, args string) {
	chatKind := chatKindOf(msg.Chat)

	if strings.TrimSpace(args) == "" {
		res, err := h.conv.Start(ctx, msg.Chat.ID, msg.From.ID)
		if err != nil {
			log.WithError(err).Error("Ошибка старта диалога конверта")
			h.sendMessage(msg.Chat.ID, "❌ Не получилось начать, попробуйте ещё раз")
			return
		}
		h.sendMessage(msg.Chat.ID, res.Reply)
		return
	}

	parser := NewParser(h.cfg)
	params, err := parser.ParseCreate(args)
	if err != nil {
		h.sendMessage(msg.Chat.ID, UserText(err)+"\nФормат: !хунбао <сумма> <количество> [поровну] [заголовок]")
		return
	}

	h.create(ctx, msg.Chat.ID, chatKind, msg.From.ID, params)
}

// HandleText продолжает идущий диалог создания. Возвращает true,
// если текст был репликой диалога и уже обработан.
func (h *Handler) HandleText(ctx context.Context, msg *tgbotapi.Message) bool {
	res, err := h.conv.HandleText(ctx, msg.Chat.ID, msg.From.ID, msg.Text)
	if err != nil {
		log.WithError(err).Error("Ошибка шага диалога конверта")
		h.sendMessage(msg.Chat.ID, "❌ Что-то пошло не так, диалог прерван")
		return true
	}
	if res == nil {
		return false
	}

	if res.Params != nil {
		h.create(ctx, msg.Chat.ID, chatKindOf(msg.Chat), msg.From.ID, res.Params)
		return true
	}
	h.sendMessage(msg.Chat.ID, res.Reply)
	return true
}

func (h *Handler) create(ctx context.Context, chatID int64, chatKind ChatKind, senderID int64, params *CreateParams) {
	p, err := h.service.Create(ctx, senderID, chatID, chatKind, params)
	if err != nil {
		h.replyError(chatID, err, "Ошибка создания конверта")
		return
	}

	policyText := "на удачу 🎲"
	if p.Policy == PolicyEven {
		policyText = "поровну ⚖️"
	}
	h.sendMessage(chatID, fmt.Sprintf(
		"🧧 «%s»\n%s ₽ на %d долей, %s\n\nОткрыть: !открыть %s\nДействует до %s",
		p.Title,
		common.FormatMoney(p.TotalAmount),
		p.TotalCount,
		policyText,
		p.PacketID,
		common.FormatDateTime(p.ExpiresAt, h.cfg.Timezone()),
	))
}

// HandleClaim — команда !открыть <id>.
func (h *Handler) HandleClaim(ctx context.Context, msg *tgbotapi.Message, packetID string) {
	packetID = strings.TrimSpace(packetID)
	if packetID == "" {
		h.sendMessage(msg.Chat.ID, "Формат: !открыть <id конверта>")
		return
	}

	res, err := h.service.Claim(ctx, msg.Chat.ID, packetID, msg.From.ID)
	if err != nil {
		// Слишком частые клики молча игнорируем: ответ на каждый клик
		// сам по себе флуд
		if errors.Is(err, common.ErrTooFrequent) {
			return
		}
		h.replyError(msg.Chat.ID, err, "Ошибка открытия конверта")
		return
	}

	name := h.displayName(ctx, msg.From.ID, msg.From.UserName)
	text := fmt.Sprintf("🧧 %s достаёт %s ₽ (доля №%d)", name, common.FormatMoney(res.Amount), res.ClaimOrder)
	if res.IsBest {
		text += "\n👑 Пока лучшая доля!"
	}
	if res.Completed {
		text += "\n\nКонверт пуст! Сводка: !конверт " + packetID
	}
	h.sendMessage(msg.Chat.ID, text)
}

// HandleSummary — команда !конверт <id>.
func (h *Handler) HandleSummary(ctx context.Context, msg *tgbotapi.Message, packetID string) {
	packetID = strings.TrimSpace(packetID)
	if packetID == "" {
		h.sendMessage(msg.Chat.ID, "Формат: !конверт <id конверта>")
		return
	}

	sum, err := h.service.GetSummary(ctx, packetID)
	if err != nil {
		h.replyError(msg.Chat.ID, err, "Ошибка сводки конверта")
		return
	}
	h.sendMessage(msg.Chat.ID, h.formatSummary(ctx, sum))
}

// HandleRevoke — команда !отозвать <id>. isAdmin снимает проверку отправителя.
func (h *Handler) HandleRevoke(ctx context.Context, msg *tgbotapi.Message, packetID string, isAdmin bool) {
	packetID = strings.TrimSpace(packetID)
	if packetID == "" {
		h.sendMessage(msg.Chat.ID, "Формат: !отозвать <id конверта>")
		return
	}

	refund, err := h.service.Revoke(ctx, packetID, msg.From.ID, isAdmin)
	if err != nil {
		h.replyError(msg.Chat.ID, err, "Ошибка отзыва конверта")
		return
	}
	h.sendMessage(msg.Chat.ID, fmt.Sprintf("↩️ Конверт отозван, %s ₽ вернулись отправителю", common.FormatMoney(refund)))
}

func (h *Handler) formatSummary(ctx context.Context, sum *Summary) string {
	p := sum.Packet

	var b strings.Builder
	fmt.Fprintf(&b, "🧧 «%s» — %s\n", p.Title, statusText(p.Status))
	fmt.Fprintf(&b, "%s ₽, разобрано %d из %d\n", common.FormatMoney(p.TotalAmount), p.Claimed(), p.TotalCount)
	if p.RefundAmount > 0 {
		fmt.Fprintf(&b, "Возвращено отправителю: %s ₽\n", common.FormatMoney(p.RefundAmount))
	}

	if len(sum.Claims) > 0 {
		// Корону показываем после закрытия конверта: до этого лучшая
		// доля ещё может смениться
		var best *ClaimRecord
		if p.Status != StatusActive {
			best = BestClaim(sum.Claims)
		}
		b.WriteString("\n")
		for _, c := range sum.Claims {
			name := h.displayName(ctx, c.UserID, "")
			fmt.Fprintf(&b, "%d. %s — %s ₽", c.ClaimOrder, name, common.FormatMoney(c.Amount))
			if best != nil && best.ID == c.ID {
				b.WriteString(" 👑")
			}
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// displayName отдаёт имя пользователя из реестра участников,
// с откатом на юзернейм из сообщения и на безликий номер.
func (h *Handler) displayName(ctx context.Context, userID int64, fallback string) string {
	if m, err := h.members.GetByUserID(ctx, userID); err == nil && m != nil {
		return m.DisplayName()
	}
	if fallback != "" {
		return "@" + fallback
	}
	return fmt.Sprintf("id%d", userID)
}

func (h *Handler) replyError(chatID int64, err error, logMsg string) {
	text := UserText(err)
	if text == "" {
		log.WithError(err).Error(logMsg)
		text = "❌ Внутренняя ошибка, попробуйте позже"
	}
	h.sendMessage(chatID, text)
}

func (h *Handler) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := h.bot.Send(msg); err != nil {
		log.WithError(err).Error("Ошибка отправки сообщения")
	}
}

func chatKindOf(chat *tgbotapi.Chat) ChatKind {
	switch {
	case chat.IsPrivate():
		return ChatPrivate
	case chat.IsSuperGroup():
		return ChatSupergroup
	default:
		return ChatGroup
	}
}

func statusText(s Status) string {
	switch s {
	case StatusActive:
		return "активен"
	case StatusCompleted:
		return "разобран"
	case StatusExpired:
		return "истёк"
	case StatusRevoked:
		return "отозван"
	default:
		return string(s)
	}
}

// UserText переводит ошибку движка в ответ пользователю.
// Пустая строка — ошибка внутренняя, наружу не показывается.
func UserText(err error) string {
	switch {
	case errors.Is(err, common.ErrBadAmount):
		return "⚠️ Не понял сумму. Число с двумя знаками после точки, например 99.50"
	case errors.Is(err, common.ErrBadCount):
		return "⚠️ Не понял количество. Целое число, например 10"
	case errors.Is(err, common.ErrTotalTooSmall):
		return "⚠️ Сумма конверта слишком мала"
	case errors.Is(err, common.ErrTotalTooLarge):
		return "⚠️ Сумма конверта слишком велика"
	case errors.Is(err, common.ErrTooManyShares):
		return "⚠️ Слишком много долей"
	case errors.Is(err, common.ErrShareBelowFloor):
		return "⚠️ На столько долей эту сумму не поделить: доля выходит меньше минимальной"
	case errors.Is(err, common.ErrTitleTooLong):
		return "⚠️ Заголовок длиннее 50 символов"
	case errors.Is(err, common.ErrChatKindNotAllowed):
		return "🚫 В этом чате конверты не работают"
	case errors.Is(err, common.ErrInsufficientBalance):
		return "🚫 Недостаточно средств на балансе"
	case errors.Is(err, common.ErrSenderBanned):
		return "🚫 Доступ к конвертам закрыт"
	case errors.Is(err, common.ErrDailyCountCap):
		return "🚫 Дневной лимит по числу конвертов исчерпан"
	case errors.Is(err, common.ErrDailyAmountCap):
		return "🚫 Дневной лимит по сумме конвертов исчерпан"
	case errors.Is(err, common.ErrNotPacketSender):
		return "🚫 Отозвать конверт может только отправитель"
	case errors.Is(err, common.ErrTooFrequent):
		return "⏳ Слишком часто, подождите пару секунд"
	case errors.Is(err, common.ErrSystemBusy):
		return "⏳ Заявка уже обрабатывается"
	case errors.Is(err, common.ErrDuplicateSubmit):
		return "⏳ Такой конверт уже отправляется, подождите немного"
	case errors.Is(err, common.ErrPacketNotFound):
		return "🤷 Конверт не найден"
	case errors.Is(err, common.ErrPacketEnded):
		return "😔 Конверт уже закрыт"
	case errors.Is(err, common.ErrPacketEmpty):
		return "😔 Опоздали — всё разобрали"
	case errors.Is(err, common.ErrAlreadyClaimed):
		return "✋ Вы уже открывали этот конверт"
	case errors.Is(err, common.ErrRevokeAfterClaims):
		return "🚫 Конверт уже начали разбирать, отзыв невозможен"
	default:
		return ""
	}
}
