package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"site_watcher/internal/scanner"
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to Site Watcher!

The watcher scans the announcements page on a schedule and reports new, modified and removed announcements.

Use /status to see the current state and /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Commands:
/status — scan state and schedule
/scan — start a scan now
/changes [n] — recent changes (default 10, max 50)
/announcements [n] — tracked announcements
/interval <sec> — set refresh interval (60-3600)
/email on|off — toggle email notifications`)
}

func (b *Bot) handleStatus(ctx context.Context, chatID int64) {
	settings, err := b.scanner.Settings(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	msg := tgbotapi.NewMessage(chatID, FormatStatus(b.scanner.Status(), settings))
	msg.DisableWebPagePreview = true
	msg.ReplyMarkup = statusKeyboard()
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send status", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleScan(ctx context.Context, chatID int64) {
	res, err := b.scanner.Trigger(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to start scan: %v", err))
		return
	}
	if res == scanner.AlreadyScanning {
		b.reply(chatID, "A scan is already in progress.")
		return
	}
	b.reply(chatID, "Scan started. Use /status to follow it.")
}

func (b *Bot) handleChanges(ctx context.Context, chatID int64, args string) {
	n, err := ParseCount(args)
	if err != nil {
		b.reply(chatID, "Usage: /changes [n]")
		return
	}
	changes, err := b.store.ListChanges(ctx, n)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatChangeList(changes))
}

func (b *Bot) handleAnnouncements(ctx context.Context, chatID int64, args string) {
	n, err := ParseCount(args)
	if err != nil {
		b.reply(chatID, "Usage: /announcements [n]")
		return
	}
	items, err := b.store.ListAnnouncements(ctx, n)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatAnnouncementList(items))
}

func (b *Bot) handleInterval(ctx context.Context, chatID int64, args string) {
	secs, err := ParseInterval(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	settings, err := b.scanner.Settings(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	settings.RefreshInterval = secs
	if err := b.scanner.UpdateSettings(ctx, settings); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Refresh interval set to %d sec.", secs))
}

func (b *Bot) handleEmail(ctx context.Context, chatID int64, args string) {
	on, err := ParseToggle(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	settings, err := b.scanner.Settings(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	settings.EmailEnabled = on
	if err := b.scanner.UpdateSettings(ctx, settings); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	if on {
		b.reply(chatID, "Email notifications enabled.")
		return
	}
	b.reply(chatID, "Email notifications disabled.")
}
