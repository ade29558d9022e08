package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

func postJSON(ctx context.Context, client *http.Client, url string, payload any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

const telegramAPI = "https://api.telegram.org"

// Telegram posts events to a chat through the Bot API.
type Telegram struct {
	token  string
	chatID string
	apiURL string
	client *http.Client
}

func NewTelegram(token, chatID string) *Telegram {
	return &Telegram{
		token:  token,
		chatID: chatID,
		apiURL: telegramAPI,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Send(ctx context.Context, e Event) error {
	payload := map[string]any{
		"chat_id": t.chatID,
		"text":    e.Text(),
	}
	status, err := postJSON(ctx, t.client, fmt.Sprintf("%s/bot%s/sendMessage", t.apiURL, t.token), payload)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("telegram: status %d", status)
	}
	return nil
}

// Discord posts events to a channel webhook as embeds.
type Discord struct {
	webhookURL string
	client     *http.Client
}

func NewDiscord(webhookURL string) *Discord {
	return &Discord{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Send(ctx context.Context, e Event) error {
	color := 0x2ecc71
	if e.Kind == KindError || e.Kind == KindOrderReject || e.PL < 0 {
		color = 0xe74c3c
	}
	embed := map[string]any{
		"title":       e.Title,
		"description": e.Message,
		"color":       color,
		"timestamp":   e.Time.Format(time.RFC3339),
	}
	var fields []map[string]any
	if e.Instrument != "" {
		fields = append(fields, map[string]any{"name": "Instrument", "value": e.Instrument, "inline": true})
	}
	if e.Price != 0 {
		fields = append(fields, map[string]any{"name": "Price", "value": fmt.Sprintf("%.3f", e.Price), "inline": true})
	}
	if e.PL != 0 {
		fields = append(fields, map[string]any{"name": "P&L", "value": fmt.Sprintf("%.2f", e.PL), "inline": true})
	}
	if len(fields) > 0 {
		embed["fields"] = fields
	}

	status, err := postJSON(ctx, d.client, d.webhookURL, map[string]any{"embeds": []any{embed}})
	if err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return fmt.Errorf("discord: status %d", status)
	}
	return nil
}
