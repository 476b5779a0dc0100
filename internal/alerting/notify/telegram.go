package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-telegram/bot"
)

// TelegramChannel sends notifications to one Telegram chat.
type TelegramChannel struct {
	bot    *bot.Bot
	chatID int64
}

// TelegramOption configures the Telegram channel.
type TelegramOption func(*telegramOptions)

type telegramOptions struct {
	serverURL string
}

// WithTelegramServerURL points the bot at another Bot API server.
func WithTelegramServerURL(url string) TelegramOption {
	return func(o *telegramOptions) {
		o.serverURL = url
	}
}

// NewTelegramChannel constructs a Telegram channel. No request is made until Send.
func NewTelegramChannel(token string, chatID int64, opts ...TelegramOption) (*TelegramChannel, error) {
	if token == "" {
		return nil, errors.New("telegram channel: empty token")
	}
	if chatID == 0 {
		return nil, errors.New("telegram channel: empty chat id")
	}
	var cfg telegramOptions
	for _, opt := range opts {
		opt(&cfg)
	}
	botOpts := []bot.Option{bot.WithSkipGetMe()}
	if cfg.serverURL != "" {
		botOpts = append(botOpts, bot.WithServerURL(cfg.serverURL))
	}
	b, err := bot.New(token, botOpts...)
	if err != nil {
		return nil, fmt.Errorf("telegram channel: %w", err)
	}
	return &TelegramChannel{bot: b, chatID: chatID}, nil
}

// Send posts content as a plain text message.
func (t *TelegramChannel) Send(ctx context.Context, content string) error {
	if t == nil || t.bot == nil {
		return errors.New("telegram channel: not configured")
	}
	if _, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: t.chatID,
		Text:   content,
	}); err != nil {
		return fmt.Errorf("telegram channel: send to chat %d: %w", t.chatID, err)
	}
	return nil
}
