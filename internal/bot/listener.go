// README: Long-poll listener feeding Telegram updates into the command handler.
package bot

import (
	"context"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"tgtaxi/internal/modules/notify"
	"tgtaxi/internal/types"
)

// Updater is the part of *tgbotapi.BotAPI the listener needs.
type Updater interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Listener struct {
	bot       Updater
	handler   *Handler
	webAppURL string
	log       *zap.Logger
}

func NewListener(bot Updater, handler *Handler, webAppURL string, log *zap.Logger) *Listener {
	if log == nil {
		log = zap.NewNop()
	}
	return &Listener{bot: bot, handler: handler, webAppURL: webAppURL, log: log}
}

// Run polls until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	updates := l.bot.GetUpdatesChan(cfg)
	l.log.Info("telegram listener started")
	for {
		select {
		case <-ctx.Done():
			l.bot.StopReceivingUpdates()
			l.log.Info("telegram listener stopped")
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			l.handle(ctx, u)
		}
	}
}

func (l *Listener) handle(ctx context.Context, u tgbotapi.Update) {
	msg := u.Message
	if msg == nil || msg.From == nil || msg.Text == "" {
		return
	}
	from := Sender{
		ID:   types.ID(strconv.FormatInt(msg.From.ID, 10)),
		Name: strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName),
	}
	reply := l.handler.Handle(ctx, from, msg.Text)

	out := tgbotapi.NewMessage(msg.Chat.ID, reply.Text)
	if reply.OpenApp && l.webAppURL != "" {
		out.ReplyMarkup = notify.OpenAppKeyboard(l.webAppURL)
	}
	if _, err := l.bot.Send(out); err != nil {
		l.log.Warn("bot reply failed", zap.Int64("chat_id", msg.Chat.ID), zap.Error(err))
	}
}
