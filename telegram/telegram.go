// Package telegram sends digests through a Telegram bot and tells users their chat id.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"estate-notifier/notify"
)

// Bot is the part of *tgbotapi.BotAPI used here.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// NewBot connects to the Bot API. apiEndpoint may be empty for the public API.
func NewBot(token, apiEndpoint string) (*tgbotapi.BotAPI, error) {
	if apiEndpoint == "" {
		apiEndpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, apiEndpoint)
	if err != nil {
		return nil, fmt.Errorf("connect telegram bot: %w", err)
	}
	return bot, nil
}

// Channel sends Markdown messages to chat ids.
type Channel struct {
	bot    Bot
	logger *slog.Logger
}

// New creates a telegram channel.
func New(bot Bot, logger *slog.Logger) *Channel {
	return &Channel{bot: bot, logger: logger}
}

// Name implements notify.Channel.
func (c *Channel) Name() string { return notify.Telegram }

// maxMessageLen is the Bot API limit on message text.
const maxMessageLen = 4096

// Send posts text to the chat with link previews disabled. Text longer than one
// message is split on line boundaries and sent in order.
func (c *Channel) Send(ctx context.Context, chatID, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}

	parts := split(text, maxMessageLen)
	start := time.Now()
	for i, part := range parts {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(id, part)
		msg.ParseMode = tgbotapi.ModeMarkdown
		msg.DisableWebPagePreview = true
		if _, err := c.bot.Send(msg); err != nil {
			return fmt.Errorf("send telegram message part %d/%d: %w", i+1, len(parts), err)
		}
	}
	c.logger.Debug("Telegram message sent", "chat_id", id, "length", len(text), "parts", len(parts), "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// split cuts text into chunks of at most limit runes, breaking after a newline
// where possible. A single line longer than limit is cut mid-line.
func split(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var parts []string
	var cur strings.Builder
	curLen := 0
	flush := func() {
		if chunk := strings.TrimRight(cur.String(), "\n"); chunk != "" {
			parts = append(parts, chunk)
		}
		cur.Reset()
		curLen = 0
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		n := utf8.RuneCountInString(line)
		if curLen+n > limit {
			flush()
		}
		for n > limit {
			r := []rune(line)
			parts = append(parts, string(r[:limit]))
			line = string(r[limit:])
			n -= limit
		}
		cur.WriteString(line)
		curLen += n
	}
	flush()
	return parts
}

// Responder replies to every incoming text message with the sender's chat id,
// which subscribers put into the subscriptions file.
type Responder struct {
	bot    Bot
	logger *slog.Logger
}

// NewResponder creates a responder.
func NewResponder(bot Bot, logger *slog.Logger) *Responder {
	return &Responder{bot: bot, logger: logger}
}

// Run long-polls for updates until ctx is done.
func (r *Responder) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := r.bot.GetUpdatesChan(u)
	r.logger.Info("Telegram responder started")

	for {
		select {
		case <-ctx.Done():
			r.bot.StopReceivingUpdates()
			r.logger.Info("Telegram responder stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			r.handle(update)
		}
	}
}

func (r *Responder) handle(update tgbotapi.Update) {
	if update.Message == nil || update.Message.Chat == nil || update.Message.Text == "" {
		return
	}
	chatID := update.Message.Chat.ID
	reply := tgbotapi.NewMessage(chatID, fmt.Sprintf("Your chat id: %d", chatID))
	if _, err := r.bot.Send(reply); err != nil {
		r.logger.Warn("Failed to reply with chat id", "chat_id", chatID, "error", err)
		return
	}
	r.logger.Info("Replied with chat id", "chat_id", chatID)
}
