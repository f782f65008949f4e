package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const callMeBotAPI = "https://api.callmebot.com"

// WhatsApp sends messages through the CallMeBot gateway, which relays plain
// GET requests to a WhatsApp number that has authorized the bot.
type WhatsApp struct {
	client *resty.Client
	phone  string
	apiKey string
}

func NewWhatsApp(phone, apiKey string) *WhatsApp {
	client := resty.New().
		SetBaseURL(callMeBotAPI).
		SetTimeout(15 * time.Second)
	return &WhatsApp{client: client, phone: phone, apiKey: apiKey}
}

func (w *WhatsApp) Name() string { return "whatsapp" }

func (w *WhatsApp) Send(ctx context.Context, text string) error {
	resp, err := w.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"phone":  w.phone,
			"text":   text,
			"apikey": w.apiKey,
		}).
		Get("/whatsapp.php")
	if err != nil {
		return fmt.Errorf("whatsapp send: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("whatsapp send: HTTP %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
