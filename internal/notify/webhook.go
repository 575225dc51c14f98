package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type webhookMsg struct {
	Type string `json:"type"`
	Text string `json:"text"`
	TsMs int64  `json:"ts_ms"`
}

// Webhook posts alerts as JSON to an arbitrary endpoint.
type Webhook struct {
	url    string
	client *http.Client
}

func NewWebhook(url string) *Webhook {
	return &Webhook{url: url, client: &http.Client{Timeout: 2 * time.Second}}
}

func (w *Webhook) Send(ctx context.Context, text string) error {
	body, err := json.Marshal(webhookMsg{Type: "ALERT", Text: text, TsMs: time.Now().UnixMilli()})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("webhook non-2xx: %s", resp.Status)
	}
	return nil
}
