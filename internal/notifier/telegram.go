package notifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"TierTrader/internal/logger"
)

const defaultAPIBase = "https://api.telegram.org"

// TelegramNotifier sends messages via the Telegram Bot API. With an empty
// bot token every method is a no-op.
type TelegramNotifier struct {
	botToken string
	chatID   string
	http     *resty.Client
	log      *logrus.Entry
}

// NewTelegramNotifier creates a notifier with optional proxy support.
func NewTelegramNotifier(botToken, chatID, proxyURL string) *TelegramNotifier {
	return newTelegramNotifier(defaultAPIBase, botToken, chatID, proxyURL)
}

func newTelegramNotifier(apiBase, botToken, chatID, proxyURL string) *TelegramNotifier {
	c := resty.New().
		SetBaseURL(strings.TrimSuffix(apiBase, "/")).
		SetTimeout(35*time.Second).
		SetHeader("Content-Type", "application/json")
	if proxyURL != "" {
		c.SetProxy(proxyURL)
	}
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		http:     c,
		log:      logger.WithComponent("telegram"),
	}
}

func (t *TelegramNotifier) Enabled() bool { return t != nil && t.botToken != "" }

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send sends an HTML message to the configured chat.
func (t *TelegramNotifier) Send(ctx context.Context, text string) error {
	if !t.Enabled() {
		return nil
	}
	var out apiResponse
	resp, err := t.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"chat_id":    t.chatID,
			"text":       text,
			"parse_mode": "HTML",
		}).
		SetResult(&out).
		SetError(&out).
		Post("/bot" + t.botToken + "/sendMessage")
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	if resp.IsError() || !out.OK {
		return fmt.Errorf("telegram API error: status %d: %s", resp.StatusCode(), out.Description)
	}
	return nil
}

// SendWithRetry sends a message with exponential backoff retry.
func (t *TelegramNotifier) SendWithRetry(ctx context.Context, text string, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		err := t.Send(ctx, text)
		if err == nil {
			return nil
		}
		lastErr = err
		if i == maxRetries {
			break
		}
		backoff := time.Duration(1<<uint(i)) * time.Second
		t.log.WithError(err).Warnf("send failed (attempt %d/%d), retrying in %v", i+1, maxRetries+1, backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("all %d attempts failed: %w", maxRetries+1, lastErr)
}

// Alert sends an operator alert. Failures are only logged.
func (t *TelegramNotifier) Alert(ctx context.Context, text string) {
	if t == nil {
		return
	}
	if !t.Enabled() {
		t.log.Warn("alert not sent, telegram disabled: " + text)
		return
	}
	if err := t.SendWithRetry(ctx, FormatAlert(text), 2); err != nil {
		t.log.WithError(err).Error("alert not delivered: " + text)
	}
}
