package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTelegramTimeout = 10 * time.Second

// TelegramNotifier delivers alert messages through the Telegram bot API.
// A disabled notifier accepts and drops every message.
type TelegramNotifier struct {
	enabled  bool
	chatID   string
	endpoint string
	client   *http.Client
}

func NewTelegramNotifier(enabled bool, botToken, chatID, baseURL string, timeout time.Duration) *TelegramNotifier {
	if timeout <= 0 {
		timeout = defaultTelegramTimeout
	}
	return &TelegramNotifier{
		enabled:  enabled,
		chatID:   chatID,
		endpoint: strings.TrimRight(baseURL, "/") + "/bot" + botToken + "/sendMessage",
		client:   &http.Client{Timeout: timeout},
	}
}

func (t *TelegramNotifier) Notify(ctx context.Context, msg string) error {
	if t == nil || !t.enabled {
		return nil
	}
	payload, err := json.Marshal(map[string]string{
		"chat_id": t.chatID,
		"text":    msg,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram send: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var reply struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if len(body) == 0 || json.Unmarshal(body, &reply) != nil {
		return nil
	}
	if !reply.OK {
		return fmt.Errorf("telegram send rejected: %s", strings.TrimSpace(reply.Description))
	}
	return nil
}
