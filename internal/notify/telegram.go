package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// TelegramOptions configures the Telegram surface.
type TelegramOptions struct {
	BotToken string
	ChatID   int64
	// BaseURL overrides https://api.telegram.org, mainly for tests.
	BaseURL string
	Timeout time.Duration
}

// TelegramSurface sends notifications as chat messages and deletes them on close.
type TelegramSurface struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger zerolog.Logger
}

// NewTelegramSurface connects to the Bot API and verifies the token.
func NewTelegramSurface(opts TelegramOptions, logger zerolog.Logger) (*TelegramSurface, error) {
	if opts.BotToken == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	endpoint := tgbotapi.APIEndpoint
	if opts.BaseURL != "" {
		endpoint = strings.TrimRight(opts.BaseURL, "/") + "/bot%s/%s"
	}

	bot, err := tgbotapi.NewBotAPIWithClient(opts.BotToken, endpoint, &http.Client{Timeout: opts.Timeout})
	if err != nil {
		return nil, fmt.Errorf("connect telegram bot: %w", err)
	}

	return &TelegramSurface{
		bot:    bot,
		chatID: opts.ChatID,
		logger: logger.With().Str("component", "notify_telegram").Logger(),
	}, nil
}

// Show calls sendMessage. The Bot API client does not take a context.
func (s *TelegramSurface) Show(_ context.Context, n Notification) (Handle, error) {
	msg := tgbotapi.NewMessage(s.chatID, renderMessage(n))
	msg.DisableNotification = n.Silent

	sent, err := s.bot.Send(msg)
	if err != nil {
		return nil, fmt.Errorf("send telegram message: %w", err)
	}

	s.logger.Info().Str("tag", n.Tag).Int("message_id", sent.MessageID).Msg("notification sent (telegram)")
	return &telegramHandle{surface: s, messageID: sent.MessageID}, nil
}

type telegramHandle struct {
	surface   *TelegramSurface
	messageID int
}

// Close calls deleteMessage.
func (h *telegramHandle) Close() error {
	if _, err := h.surface.bot.Request(tgbotapi.NewDeleteMessage(h.surface.chatID, h.messageID)); err != nil {
		return fmt.Errorf("delete telegram message %d: %w", h.messageID, err)
	}
	return nil
}

func renderMessage(n Notification) string {
	builder := strings.Builder{}
	builder.WriteString(n.Title)
	builder.WriteString("\n")
	builder.WriteString(n.Body)
	return builder.String()
}

var _ Surface = (*TelegramSurface)(nil)
