package bot

import (
	"context"
	"strconv"

	"site_watcher/internal/model"
	"site_watcher/internal/notify"
)

// ChannelTelegram is the notification channel name of the bot.
const ChannelTelegram = "telegram"

// Notify sends a change summary to every configured chat. It implements
// notify.Notifier.
func (b *Bot) Notify(ctx context.Context, changes []model.Change, _ model.Settings) notify.Result {
	res := notify.Result{Channel: ChannelTelegram}
	switch {
	case len(b.cfg.TelegramChatIDs) == 0:
		res.Skipped, res.Reason = true, "no chats configured"
		return res
	case len(changes) == 0:
		res.Skipped, res.Reason = true, "no changes"
		return res
	}

	text := FormatNotification(changes)
	for _, chatID := range b.cfg.TelegramChatIDs {
		if err := ctx.Err(); err != nil {
			res.Failures = append(res.Failures, &notify.TransportError{
				Channel: ChannelTelegram, Recipient: strconv.FormatInt(chatID, 10), Err: err,
			})
			continue
		}
		res.Attempted++
		if err := b.SendMessage(chatID, text); err != nil {
			b.log.Warn("telegram notification failed", "chat_id", chatID, "error", err)
			res.Failures = append(res.Failures, &notify.TransportError{
				Channel: ChannelTelegram, Recipient: strconv.FormatInt(chatID, 10), Err: err,
			})
			continue
		}
		res.Delivered++
	}
	return res
}
