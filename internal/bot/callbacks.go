package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	cmdStatus  = "status"
	cmdScan    = "scan"
	cmdChanges = "changes"
)

func (b *Bot) ack(callbackID, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		b.log.Error("send callback ack", "error", err)
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	b.ack(cb.ID, "")
	if cb.Message == nil || cb.Message.Chat == nil {
		return
	}
	chatID := cb.Message.Chat.ID

	action, arg, ok := strings.Cut(cb.Data, ":")
	if !ok {
		return
	}

	attrs := []any{"action", action, "arg", arg, "chat_id", chatID}
	if cb.From != nil {
		attrs = append(attrs, "user_id", cb.From.ID, "username", cb.From.UserName)
	}
	b.log.Info("callback", attrs...)

	switch action {
	case cmdScan:
		b.handleScan(ctx, chatID)
	case cmdChanges:
		b.handleChanges(ctx, chatID, arg)
	case cmdStatus:
		b.handleStatus(ctx, chatID)
	}
}

func statusKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Scan now", cmdScan+":0"),
			tgbotapi.NewInlineKeyboardButtonData("Recent changes", cmdChanges+":10"),
		),
	)
}
