package notifier

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// CommandHandler is called when a user command is received.
type CommandHandler func(ctx context.Context, command string) string

type telegramUpdate struct {
	UpdateID int `json:"update_id"`
	Message  *struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

type updatesResponse struct {
	OK     bool             `json:"ok"`
	Result []telegramUpdate `json:"result"`
}

// StartPolling long-polls for commands until ctx is cancelled. Messages
// from chats other than the configured one are ignored.
func (t *TelegramNotifier) StartPolling(ctx context.Context, handler CommandHandler) {
	if !t.Enabled() {
		return
	}
	offset := 0
	for {
		if ctx.Err() != nil {
			t.log.Info("polling stopped")
			return
		}

		updates, err := t.getUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.log.WithError(err).Warn("polling request failed")
			select {
			case <-ctx.Done():
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, u := range updates {
			offset = u.UpdateID + 1
			t.dispatch(ctx, u, handler)
		}
	}
}

func (t *TelegramNotifier) getUpdates(ctx context.Context, offset int) ([]telegramUpdate, error) {
	var out updatesResponse
	_, err := t.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"offset": strconv.Itoa(offset), "timeout": "30"}).
		SetResult(&out).
		Get("/bot" + t.botToken + "/getUpdates")
	if err != nil {
		return nil, err
	}
	return out.Result, nil
}

func (t *TelegramNotifier) dispatch(ctx context.Context, u telegramUpdate, handler CommandHandler) {
	if u.Message == nil || u.Message.Text == "" {
		return
	}
	if strconv.FormatInt(u.Message.Chat.ID, 10) != t.chatID {
		t.log.WithField("chat_id", u.Message.Chat.ID).Warn("command from unknown chat ignored")
		return
	}
	text := strings.TrimSpace(u.Message.Text)
	t.log.WithField("command", text).Info("command received")
	if reply := handler(ctx, text); reply != "" {
		if err := t.Send(ctx, reply); err != nil {
			t.log.WithError(err).Error("send reply")
		}
	}
}
