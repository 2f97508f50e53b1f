// README: Telegram sink sends notifications through the Bot API.
package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// BotSender is the part of *tgbotapi.BotAPI the sink needs.
type BotSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type TelegramSink struct {
	bot       BotSender
	webAppURL string
}

func NewTelegramSink(bot BotSender, webAppURL string) *TelegramSink {
	return &TelegramSink{bot: bot, webAppURL: webAppURL}
}

func (s *TelegramSink) Send(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, ok := m.Recipient.ChatID()
	if !ok {
		return fmt.Errorf("recipient %q is not a telegram chat id", m.Recipient)
	}
	_, err := s.bot.Send(s.Build(chatID, m))
	return err
}

// Build renders the Bot API message, with an open-app button when requested and configured.
func (s *TelegramSink) Build(chatID int64, m Message) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(chatID, m.Text)
	if m.OpenApp && s.webAppURL != "" {
		msg.ReplyMarkup = OpenAppKeyboard(s.webAppURL)
	}
	return msg
}

func OpenAppKeyboard(url string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("🚕 Open app", url)),
	)
}

// LogSink stands in when no bot token is configured.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Send(_ context.Context, m Message) error {
	s.log.Info("notification", zap.String("recipient", m.Recipient.String()), zap.String("text", m.Text))
	return nil
}
