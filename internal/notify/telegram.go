package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNotConfigured = errors.New("notify: missing telegram token or chat id")
	ErrTelegram      = errors.New("notify: telegram rejected message")
)

// Notifier delivers a single human-readable alert.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

const telegramAPI = "https://api.telegram.org"

// Telegram's hard limit on message text.
const maxTelegramText = 4096

type sendMessage struct {
	ChatID                int64  `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type botReply struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// Telegram posts plain-text alerts through the Bot API.
type Telegram struct {
	base   string
	token  string
	chat   int64
	prefix string
	hc     *http.Client
}

func NewTelegram(token, chatID string) (*Telegram, error) {
	token = strings.TrimSpace(token)
	chatID = strings.TrimSpace(chatID)
	if token == "" || chatID == "" {
		return nil, ErrNotConfigured
	}
	chat, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("notify: telegram chat id %q: %w", chatID, err)
	}
	return &Telegram{
		base:   telegramAPI,
		token:  token,
		chat:   chat,
		prefix: "[maker] ",
		hc:     &http.Client{Timeout: 3 * time.Second},
	}, nil
}

// WithAPIBase points the notifier at another Bot API host.
func (t *Telegram) WithAPIBase(base string) *Telegram {
	t.base = strings.TrimRight(base, "/")
	return t
}

func (t *Telegram) Send(ctx context.Context, text string) error {
	text = t.prefix + text
	if len(text) > maxTelegramText {
		text = text[:maxTelegramText]
	}
	body, err := json.Marshal(sendMessage{ChatID: t.chat, Text: text, DisableWebPagePreview: true})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.base+"/bot"+t.token+"/sendMessage", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.hc.Do(req)
	if err != nil {
		return fmt.Errorf("notify: telegram: %w", err)
	}
	defer resp.Body.Close()

	var reply botReply
	decErr := json.NewDecoder(resp.Body).Decode(&reply)
	switch {
	case resp.StatusCode/100 != 2:
		return fmt.Errorf("%w: status=%d %s", ErrTelegram, resp.StatusCode, reply.Description)
	case decErr == nil && !reply.OK:
		return fmt.Errorf("%w: code=%d %s", ErrTelegram, reply.ErrorCode, reply.Description)
	}
	return nil
}
