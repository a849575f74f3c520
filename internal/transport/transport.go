// Package transport adapts the channel clients to the delivery interface the
// queue expects: it resolves the recipient address from the user's profile
// and settings and renders the notification for the channel.
package transport

import (
	"context"
	"fmt"

	"github.com/orbita/neurolink/internal/model"
)

type emailer interface {
	Send(to, subject, body string) error
}

type messenger interface {
	Send(ctx context.Context, chatID, text string) error
}

// Email delivers notifications over SMTP.
type Email struct {
	client emailer
}

func NewEmail(client emailer) *Email {
	return &Email{client: client}
}

func (t *Email) Send(_ context.Context, n model.Notification, user model.User, _ model.Settings) (string, error) {
	if user.Email == "" {
		return "", fmt.Errorf("user %s has no email address", user.ID)
	}

	subject := n.Title
	if n.Metadata.Emoji != "" {
		subject = n.Metadata.Emoji + " " + n.Title
	}

	if err := t.client.Send(user.Email, subject, n.Message); err != nil {
		return "", fmt.Errorf("send email: %w", err)
	}
	return "email delivered to " + user.Email, nil
}

// Telegram delivers notifications through a bot chat.
type Telegram struct {
	client messenger
}

func NewTelegram(client messenger) *Telegram {
	return &Telegram{client: client}
}

func (t *Telegram) Send(ctx context.Context, n model.Notification, _ model.User, settings model.Settings) (string, error) {
	if settings.TelegramChatID == "" {
		return "", fmt.Errorf("user %s has no telegram chat configured", settings.UserID)
	}

	text := n.Title + "\n\n" + n.Message
	if n.Metadata.Emoji != "" {
		text = n.Metadata.Emoji + " " + text
	}

	if err := t.client.Send(ctx, settings.TelegramChatID, text); err != nil {
		return "", fmt.Errorf("send telegram message: %w", err)
	}
	return "telegram message delivered to chat " + settings.TelegramChatID, nil
}
