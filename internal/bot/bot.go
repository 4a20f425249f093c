// Package bot is the Telegram operator surface. It also delivers change
// notifications to the configured chats.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"site_watcher/internal/config"
	"site_watcher/internal/model"
	"site_watcher/internal/scanner"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Scanner is the orchestrator surface the bot drives.
type Scanner interface {
	Status() model.ScanStatus
	Trigger(ctx context.Context) (scanner.TriggerResult, error)
	Settings(ctx context.Context) (model.Settings, error)
	UpdateSettings(ctx context.Context, s model.Settings) error
}

// Store is the read side of persistence used by listing commands.
type Store interface {
	ListAnnouncements(ctx context.Context, limit int) ([]model.Announcement, error)
	ListChanges(ctx context.Context, limit int) ([]model.Change, error)
}

// Bot handles operator commands and sends change notifications.
type Bot struct {
	api     telegramAPI
	scanner Scanner
	store   Store
	cfg     *config.Config
	log     *slog.Logger
}

// New creates a Bot with the given Telegram token. Commands are served once
// Run is given a scanner; notifications work right away.
func New(token string, store Store, cfg *config.Config, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &Bot{
		api:   api,
		store: store,
		cfg:   cfg,
		log:   log,
	}, nil
}

// Run starts the long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context, sc Scanner) {
	b.scanner = sc

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if cb := update.CallbackQuery; cb != nil {
		if cb.From == nil || !b.cfg.IsUserAllowed(cb.From.ID) {
			b.ack(cb.ID, "Access denied.")
			return
		}
		b.handleCallback(ctx, cb)
		return
	}
	msg := update.Message
	if msg == nil || !msg.IsCommand() {
		return
	}
	if msg.From == nil || !b.cfg.IsUserAllowed(msg.From.ID) {
		b.reply(msg.Chat.ID, "Access denied.")
		return
	}
	b.handleCommand(ctx, msg)
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (b *Bot) reply(chatID int64, text string) {
	if err := b.SendMessage(chatID, text); err != nil {
		b.log.Error("reply", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case cmdStatus:
		b.handleStatus(ctx, chatID)
	case cmdScan:
		b.handleScan(ctx, chatID)
	case cmdChanges:
		b.handleChanges(ctx, chatID, args)
	case "announcements":
		b.handleAnnouncements(ctx, chatID, args)
	case "interval":
		b.handleInterval(ctx, chatID, args)
	case "email":
		b.handleEmail(ctx, chatID, args)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}
