package telegram

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender delivers a text reply to a chat. The dispatcher depends on this
// interface; tests substitute a recorder.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// BotClient wraps the Bot API client for outbound traffic.
type BotClient struct {
	bot    *tgbotapi.BotAPI
	logger *slog.Logger
}

// NewBotClient authenticates the token against getMe and returns a ready
// client. A bad token fails here, at startup, not on the first reply.
func NewBotClient(token string, logger *slog.Logger) (*BotClient, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("telegram bot authorized", "username", bot.Self.UserName)
	return &BotClient{bot: bot, logger: logger}, nil
}

// Username returns the authorized bot account name.
func (c *BotClient) Username() string {
	return c.bot.Self.UserName
}

// Send delivers one text message to the chat.
func (c *BotClient) Send(_ context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := c.bot.Send(msg); err != nil {
		return fmt.Errorf("send to chat %d: %w", chatID, err)
	}
	return nil
}

// RegisterWebhook points the bot at url and installs the shared secret that
// the ingress guard later checks on every delivery. The raw request is used
// because the typed webhook config predates the secret_token parameter.
func (c *BotClient) RegisterWebhook(url, secret string) error {
	params := make(tgbotapi.Params)
	params.AddNonEmpty("url", url)
	params.AddNonEmpty("secret_token", secret)
	if _, err := c.bot.MakeRequest("setWebhook", params); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	c.logger.Info("webhook registered", "url", url)
	return nil
}

// DropWebhook removes the webhook registration, used on shutdown when the
// deployment is being retired rather than restarted.
func (c *BotClient) DropWebhook() error {
	if _, err := c.bot.MakeRequest("deleteWebhook", nil); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	return nil
}
