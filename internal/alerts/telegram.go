package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const telegramAPI = "https://api.telegram.org"

// Telegram sends messages through the Bot API's sendMessage method.
type Telegram struct {
	client *resty.Client
	token  string
	chatID string
}

// NewTelegram builds a channel for one bot token and chat.
func NewTelegram(token, chatID string) *Telegram {
	client := resty.New().
		SetBaseURL(telegramAPI).
		SetTimeout(10 * time.Second)
	return &Telegram{client: client, token: token, chatID: chatID}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Send(ctx context.Context, text string) error {
	resp, err := t.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"chat_id": t.chatID,
			"text":    text,
		}).
		Post("/bot" + t.token + "/sendMessage")
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("telegram send: HTTP %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
