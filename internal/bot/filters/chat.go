// Package filters отсеивает апдейты, с которыми бот не работает.
package filters

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"
)

// ChatFilter пропускает сообщения из групп разрешённых типов и личку.
// Личка нужна всегда: там живут /login и ответы, которые не стоит
// светить в общем чате.
type ChatFilter struct {
	allowedKinds map[string]bool
}

func NewChatFilter(allowedKinds []string) *ChatFilter {
	kinds := make(map[string]bool, len(allowedKinds))
	for _, k := range allowedKinds {
		kinds[k] = true
	}
	return &ChatFilter{allowedKinds: kinds}
}

// CheckAccess решает, обрабатываем ли сообщение.
func (f *ChatFilter) CheckAccess(message *tgbotapi.Message) bool {
	if message == nil || message.Chat == nil {
		log.WithField("component", "ChatFilter").Warn("nil message/chat")
		return false
	}
	if message.From == nil {
		// Сервисные сообщения и посты каналов — не наш трафик
		log.WithFields(log.Fields{
			"component": "ChatFilter",
			"chat_id":   message.Chat.ID,
			"chat_type": message.Chat.Type,
		}).Debug("nil message.From (service/channel message?)")
		return false
	}
	if message.From.IsBot {
		return false
	}

	if message.Chat.IsPrivate() {
		return true
	}
	if f.allowedKinds[message.Chat.Type] {
		return true
	}

	log.WithFields(log.Fields{
		"component": "ChatFilter",
		"chat_id":   message.Chat.ID,
		"chat_type": message.Chat.Type,
	}).Debug("deny: chat type not allowed")
	return false
}
