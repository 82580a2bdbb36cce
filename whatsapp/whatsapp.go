// Package whatsapp sends digests as WhatsApp text messages through the Cloud API.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"estate-notifier/notify"
)

const graphAPI = "https://graph.facebook.com/v19.0"

// WhatsApp caps text bodies at 4096 characters.
const maxBodyRunes = 4096

// Channel sends text messages from one business phone number.
type Channel struct {
	client  *http.Client
	logger  *slog.Logger
	token   string
	baseURL string
	phoneID string
}

// New creates a WhatsApp channel for the given business phone number id.
func New(token, phoneID string, logger *slog.Logger) *Channel {
	return &Channel{
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
		token:   token,
		baseURL: graphAPI,
		phoneID: phoneID,
	}
}

// Name implements notify.Channel.
func (c *Channel) Name() string { return notify.WhatsApp }

type textMessage struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type textBody struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Send delivers text to a phone number in international format.
func (c *Channel) Send(ctx context.Context, phone, text string) error {
	to := normalizePhone(phone)
	if to == "" {
		return fmt.Errorf("invalid phone number %q", phone)
	}

	payload, err := json.Marshal(textMessage{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             textBody{Body: truncate(text, maxBodyRunes)},
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("whatsapp: HTTP %d: %s (code %d)", resp.StatusCode, apiErr.Error.Message, apiErr.Error.Code)
		}
		return fmt.Errorf("whatsapp: HTTP %d", resp.StatusCode)
	}

	c.logger.Info("WhatsApp message sent", "to", to, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// normalizePhone keeps the digits of a number like "+382 67 123-456".
func normalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() < 7 {
		return ""
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
