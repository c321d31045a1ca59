// Package bot implements a minimal Telegram alert channel for operators.
// It has no command surface: the service only pushes messages (expiration
// sweep failures, provider outages, store errors) to the configured admin
// chats. Wired into logging via logger.TelegramHandler.
package bot

import (
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"

	"recloud/lib/sl"
)

type TgBot struct {
	log      *slog.Logger
	api      *tgbotapi.Bot
	chatIds  []int64
	minLevel slog.Level
}

func NewTgBot(apiKey string, chatIds []int64, log *slog.Logger) (*TgBot, error) {
	api, err := tgbotapi.NewBot(apiKey, nil)
	if err != nil {
		return nil, fmt.Errorf("creating api instance: %v", err)
	}
	return &TgBot{
		log:      log.With(sl.Module("tgbot")),
		api:      api,
		chatIds:  chatIds,
		minLevel: slog.LevelWarn,
	}, nil
}

func (t *TgBot) SendMessage(msg string) {
	t.SendMessageWithLevel(msg, t.minLevel)
}

// SendMessageWithLevel delivers msg to every configured admin chat when the
// level reaches the bot's threshold.
func (t *TgBot) SendMessageWithLevel(msg string, level slog.Level) {
	if t == nil || t.api == nil {
		return
	}
	if level < t.minLevel {
		return
	}
	for _, chatId := range t.chatIds {
		_, err := t.api.SendMessage(chatId, msg, &tgbotapi.SendMessageOpts{
			ParseMode: "Markdown",
		})
		if err != nil {
			t.log.Debug("send alert", slog.Int64("chat_id", chatId), sl.Err(err))
		}
	}
}

// Sanitize escapes characters that break Telegram markdown rendering.
func Sanitize(text string) string {
	replacer := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"`", "\\`",
		"[", "\\[",
	)
	return replacer.Replace(text)
}
