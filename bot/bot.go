package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/getsentry/sentry-go"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"ice-telegram/config"
	"ice-telegram/conversation"
	"ice-telegram/logger"
	"ice-telegram/models"
	"ice-telegram/services"
)

// Rollover is the scheduler as seen by /update.
type Rollover interface {
	RunOnce(ctx context.Context) error
	Last() services.RolloverResult
}

// StatsSource feeds /stats.
type StatsSource interface {
	Stats(ctx context.Context) (*models.OrderStats, error)
}

type Deps struct {
	Engine   *conversation.Engine
	Auth     *services.OperatorAuth
	Stats    StatsSource
	Rollover Rollover
}

type Bot struct {
	api  *tgbotapi.BotAPI
	deps Deps

	queue userQueue
}

func New(cfg config.TelegramConfig, deps Deps) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &Bot{api: api, deps: deps}, nil
}

func (b *Bot) setBotCommands() error {
	cfg := tgbotapi.SetMyCommandsConfig{
		Commands: []tgbotapi.BotCommand{
			{Command: "start", Description: "Главное меню"},
			{Command: "order", Description: "Заказать лёд"},
			{Command: "orders", Description: "Мои заказы"},
			{Command: "cancel", Description: "Отменить заказ"},
			{Command: "address", Description: "Изменить заведение и адрес"},
		},
	}
	_, err := b.api.Request(cfg)
	return err
}

// Start receives updates until ctx is cancelled, then waits for the messages
// already received. Messages of one user are handled one at a time in arrival
// order; different users are handled concurrently.
func (b *Bot) Start(ctx context.Context) {
	if err := b.setBotCommands(); err != nil {
		logger.Warn("set bot commands", zap.Error(err))
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)
	logger.Info("bot started", zap.String("username", b.api.Self.UserName))

	defer b.queue.wait()
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			logger.Info("bot stopping")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || update.Message.From == nil {
				continue
			}
			msg := update.Message
			b.queue.push(msg.From.ID, func() { b.handleMessage(ctx, msg) })
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID
	defer func() {
		if p := recover(); p != nil {
			logger.Error("panic handling message", zap.Int64("user_id", userID), zap.Any("panic", p))
			sentry.CurrentHub().Recover(p)
			b.send(msg.Chat.ID, "Произошла ошибка. Пожалуйста, попробуйте позже.", nil)
		}
	}()

	text := strings.TrimSpace(msg.Text)
	if b.handleOperator(ctx, msg.Chat.ID, userID, text) {
		return
	}

	replies := b.deps.Engine.Handle(ctx, conversation.Input{
		UserID:      userID,
		DisplayName: displayName(msg.From),
		Text:        text,
	})
	for _, r := range replies {
		if r.Err != nil {
			logger.Debug("conversation refused input", zap.Int64("user_id", userID), zap.Error(r.Err))
		}
		b.send(msg.Chat.ID, r.Text, r.Menu)
	}
}

func (b *Bot) send(chatID int64, text string, menu *conversation.Menu) {
	msg := tgbotapi.NewMessage(chatID, text)
	if markup := replyMarkup(menu); markup != nil {
		msg.ReplyMarkup = markup
	}
	if _, err := b.api.Send(msg); err != nil {
		logger.Warn("send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// replyMarkup renders a menu as a reply keyboard; nil leaves the keyboard as is.
func replyMarkup(m *conversation.Menu) interface{} {
	if m == nil {
		return nil
	}
	if m.Remove {
		return tgbotapi.NewRemoveKeyboard(true)
	}
	rows := make([][]tgbotapi.KeyboardButton, 0, len(m.Rows))
	for _, labels := range m.Rows {
		row := make([]tgbotapi.KeyboardButton, 0, len(labels))
		for _, label := range labels {
			row = append(row, tgbotapi.NewKeyboardButton(label))
		}
		rows = append(rows, row)
	}
	kb := tgbotapi.NewReplyKeyboard(rows...)
	kb.ResizeKeyboard = true
	return kb
}

func displayName(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.UserName
	}
	return name
}
