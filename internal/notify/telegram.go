package notify

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// telegramSendInterval spaces messages to one chat to stay under the
// per-chat rate limit.
const telegramSendInterval = 2 * time.Second

// TelegramSender delivers notifications through a Telegram bot.
type TelegramSender struct {
	bot    *tgbotapi.BotAPI
	chatID int64

	mu       sync.Mutex
	lastSend time.Time
	interval time.Duration
}

// NewTelegramSender connects a bot with token and targets chatID. The token is
// checked against the Bot API, so construction fails fast on a bad token.
func NewTelegramSender(token, chatID string) (*TelegramSender, error) {
	return newTelegramSender(token, chatID, tgbotapi.APIEndpoint)
}

func newTelegramSender(token, chatID, endpoint string) (*TelegramSender, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("telegram: chat id %q: %w", chatID, err)
	}
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("telegram: connect bot: %w", err)
	}
	return &TelegramSender{bot: bot, chatID: id, interval: telegramSendInterval}, nil
}

// Send posts "title\nmessage" with the title in bold.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	if err := t.pace(ctx); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(t.chatID, fmt.Sprintf("<b>%s</b>\n%s", escapeHTML(title), escapeHTML(message)))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	return nil
}

// pace blocks until the send interval since the previous message has passed.
func (t *TelegramSender) pace(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if wait := t.interval - time.Since(t.lastSend); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	t.lastSend = time.Now()
	return nil
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}

func escapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}
