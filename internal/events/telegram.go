package events

import (
	"fmt"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// TelegramSink forwards trade events to a chat, adapted from the teacher's
// bot.TelegramBot notification methods (bot/telegram.go) but narrowed to the
// three events the core emits (spec §6) — no command loop and no
// pause/resume commands; nothing in the core drives the lifecycle from
// Telegram.
type TelegramSink struct {
	mu     sync.Mutex
	api    *tgbotapi.BotAPI
	chatID int64
}

func NewTelegramSink(token string, chatID int64) (*TelegramSink, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram sink: %w", err)
	}
	return &TelegramSink{api: api, chatID: chatID}, nil
}

func (t *TelegramSink) Emit(e Event) {
	var msg string
	switch e.Name {
	case OrderSubmitted:
		msg = fmt.Sprintf("📤 *Order submitted*\n%s %s qty %s", e.Side, e.Symbol, e.Qty.StringFixed(4))
	case OrderFilled:
		msg = fmt.Sprintf("✅ *Order filled*\n%s %s qty %s @ %s", e.Side, e.Symbol, e.Qty.StringFixed(4), e.Price.StringFixed(2))
	case OrderRejected:
		msg = fmt.Sprintf("⚠️ *Order rejected*\n%s %s — %s", e.Side, e.Symbol, e.Reason)
	default:
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	out := tgbotapi.NewMessage(t.chatID, msg)
	out.ParseMode = "Markdown"
	if _, err := t.api.Send(out); err != nil {
		log.Error().Err(err).Str("event", string(e.Name)).Msg("telegram sink: send failed")
	}
}

// ParseChatID mirrors the teacher's TELEGRAM_CHAT_ID parsing (bot/telegram.go).
func ParseChatID(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
