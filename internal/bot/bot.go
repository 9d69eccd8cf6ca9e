// Package bot содержит главный модуль бота — запуск polling, маршрутизацию
// команд и остановку.
package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/redpacket-bot/internal/bot/filters"
	"serotonyl.ru/redpacket-bot/internal/bot/middleware"
	"serotonyl.ru/redpacket-bot/internal/common"
	"serotonyl.ru/redpacket-bot/internal/config"
	"serotonyl.ru/redpacket-bot/internal/features/admin"
	"serotonyl.ru/redpacket-bot/internal/features/members"
	"serotonyl.ru/redpacket-bot/internal/features/redpacket"
	"serotonyl.ru/redpacket-bot/internal/features/wallet"
)

// Bot — главная структура бота, объединяющая все компоненты.
type Bot struct {
	api *tgbotapi.BotAPI
	cfg *config.Config

	chatFilter  *filters.ChatFilter
	rateLimiter *middleware.RateLimiter

	memberService *members.Service
	walletService *wallet.Service

	redpacketHandler *redpacket.Handler
	adminHandler     *admin.Handler

	parser *CommandParser

	// ограничитель параллелизма обработки апдейтов
	inflight chan struct{}
}

// New создаёт новый экземпляр бота со всеми зависимостями.
func New(
	api *tgbotapi.BotAPI,
	cfg *config.Config,
	memberService *members.Service,
	walletService *wallet.Service,
	redpacketHandler *redpacket.Handler,
	adminHandler *admin.Handler,
	chatFilter *filters.ChatFilter,
) *Bot {
	maxInFlight := cfg.BotMaxInflight
	if maxInFlight <= 0 {
		maxInFlight = 64
	}

	return &Bot{
		api:              api,
		cfg:              cfg,
		chatFilter:       chatFilter,
		rateLimiter:      middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow),
		memberService:    memberService,
		walletService:    walletService,
		redpacketHandler: redpacketHandler,
		adminHandler:     adminHandler,
		parser:           NewCommandParser(),
		inflight:         make(chan struct{}, maxInFlight),
	}
}

// Start запускает polling обновлений от Telegram.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.cfg.BotUpdateTimeoutSeconds

	updates := b.api.GetUpdatesChan(u)

	log.WithFields(log.Fields{
		"max_inflight": b.cfg.BotMaxInflight,
		"timeout_sec":  b.cfg.BotUpdateTimeoutSeconds,
	}).Info("Бот запущен и ожидает сообщения...")

	for {
		select {
		case <-ctx.Done():
			log.Info("Бот останавливается (ctx done)...")
			b.api.StopReceivingUpdates()
			return

		case update, ok := <-updates:
			if !ok {
				log.Info("Канал updates закрыт, бот остановлен")
				return
			}

			// лимит параллелизма
			b.inflight <- struct{}{}
			go func(upd tgbotapi.Update) {
				defer func() { <-b.inflight }()
				b.handleUpdate(ctx, upd)
			}(update)
		}
	}
}

// Close освобождает фоновые ресурсы бота.
func (b *Bot) Close() {
	b.rateLimiter.Close()
}

// handleUpdate обрабатывает одно обновление от Telegram.
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer middleware.RecoverFromPanic()

	if update.Message == nil || update.Message.Text == "" {
		return
	}
	message := update.Message

	middleware.LogMessage(message)

	if !b.chatFilter.CheckAccess(message) {
		return
	}

	if !b.rateLimiter.Allow(message.From.ID) {
		log.WithField("user_id", message.From.ID).Debug("rate limited")
		return
	}

	userID := message.From.ID

	// EnsureMember — ошибки нельзя игнорировать, иначе потом будет "оно не работает"
	if err := b.memberService.EnsureMember(ctx, userID,
		message.From.UserName, message.From.FirstName, message.From.LastName,
	); err != nil {
		log.WithError(err).WithField("user_id", userID).Warn("EnsureMember failed")
	}
	if err := b.walletService.EnsureBalance(ctx, userID); err != nil {
		log.WithError(err).WithField("user_id", userID).Warn("EnsureBalance failed")
	}

	cmd, args, isCommand := b.parser.ParseCommand(message.Text)
	if isCommand {
		b.routeCommand(ctx, message, cmd, args)
		return
	}

	// Не команда: может быть репликой идущего диалога создания
	b.redpacketHandler.HandleText(ctx, message)
}

// routeCommand маршрутизирует команду к нужному обработчику.
func (b *Bot) routeCommand(ctx context.Context, message *tgbotapi.Message, cmd string, args []string) {
	log.WithFields(log.Fields{
		"cmd":  cmd,
		"args": args,
	}).Debug("routing command")

	chatID := message.Chat.ID
	argline := strings.Join(args, " ")

	switch cmd {
	case "start", "help", "помощь":
		b.sendMessage(chatID, helpText)

	case "хунбао", "hongbao":
		b.redpacketHandler.HandleCreate(ctx, message, argline)

	case "открыть", "open":
		b.redpacketHandler.HandleClaim(ctx, message, argline)

	case "конверт", "packet":
		b.redpacketHandler.HandleSummary(ctx, message, argline)

	case "отозвать", "revoke":
		b.redpacketHandler.HandleRevoke(ctx, message, argline, b.isAdmin(ctx, message.From.ID))

	case "баланс", "balance":
		b.handleBalance(ctx, chatID, message.From.ID)

	case "история", "history":
		b.handleHistory(ctx, chatID, message.From.ID)

	case "login":
		b.adminHandler.HandleLogin(ctx, message, argline)

	case "logout":
		b.adminHandler.HandleLogout(ctx, message)

	case "бан":
		if b.isAdmin(ctx, message.From.ID) {
			b.adminHandler.HandleBan(ctx, message, argline)
		}

	case "разбан":
		if b.isAdmin(ctx, message.From.ID) {
			b.adminHandler.HandleUnban(ctx, message, argline)
		}

	case "выдать":
		if b.isAdmin(ctx, message.From.ID) {
			b.adminHandler.HandleGive(ctx, message, argline)
		}
	}
}

// isAdmin: пользователь в ADMIN_IDS и с живой парольной сессией.
func (b *Bot) isAdmin(ctx context.Context, userID int64) bool {
	return b.cfg.IsAdmin(userID) && b.adminHandler.IsAuthed(ctx, userID)
}

func (b *Bot) handleBalance(ctx context.Context, chatID, userID int64) {
	kop, err := b.walletService.GetBalance(ctx, userID)
	if err != nil {
		log.WithError(err).Error("Ошибка получения баланса")
		b.sendMessage(chatID, "❌ Ошибка получения баланса")
		return
	}
	b.sendMessage(chatID, fmt.Sprintf("💰 Баланс: %s ₽", common.FormatMoney(kop)))
}

func (b *Bot) handleHistory(ctx context.Context, chatID, userID int64) {
	text, err := b.walletService.GetHistory(ctx, userID)
	if err != nil {
		log.WithError(err).Error("Ошибка получения истории")
		b.sendMessage(chatID, "❌ Ошибка получения истории")
		return
	}
	b.sendMessage(chatID, text)
}

// sendMessage — утилита для отправки сообщений.
func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		log.WithError(err).WithField("chat_id", chatID).Error("Ошибка отправки сообщения")
	}
}

const helpText = `🧧 Бот красных конвертов

!хунбао <сумма> <количество> [поровну] [заголовок] — создать конверт
!хунбао — собрать конверт по шагам
!открыть <id> — открыть конверт
!конверт <id> — сводка конверта
!отозвать <id> — отозвать свой нетронутый конверт
!баланс — баланс
!история — последние операции

/login <пароль> — вход для админов (в личке)`

// CommandParser парсит русские команды с префиксами !, . и /
type CommandParser struct {
	validPrefixes []string
}

// NewCommandParser создаёт парсер команд.
func NewCommandParser() *CommandParser {
	return &CommandParser{
		validPrefixes: []string{"!", ".", "/"},
	}
}

// ParseCommand разбирает текст на команду и аргументы.
func (p *CommandParser) ParseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)

	hasPrefix := false
	for _, prefix := range p.validPrefixes {
		if strings.HasPrefix(text, prefix) {
			text = strings.TrimPrefix(text, prefix)
			hasPrefix = true
			break
		}
	}
	if !hasPrefix {
		return "", nil, false
	}

	text = strings.TrimSpace(text)
	parts := strings.Fields(text)
	if len(parts) == 0 {
		return "", nil, false
	}

	// Команды из лички приходят как "/login@botname"
	command := strings.ToLower(parts[0])
	if at := strings.Index(command, "@"); at > 0 {
		command = command[:at]
	}

	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	return command, args, true
}
