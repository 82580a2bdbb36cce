package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	brevoEndpoint = "https://api.brevo.com/v3/smtp/email"
	brevoTag      = "estate-digest"
)

// BrevoProvider sends digests through the Brevo transactional email API.
type BrevoProvider struct {
	client   *http.Client
	logger   *slog.Logger
	apiKey   string
	sender   brevoContact
	endpoint string
}

// NewBrevoProvider creates a Brevo provider sending as fromName <fromAddr>.
func NewBrevoProvider(apiKey, fromAddr, fromName string, logger *slog.Logger) *BrevoProvider {
	return &BrevoProvider{
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
		apiKey:   apiKey,
		sender:   brevoContact{Email: fromAddr, Name: fromName},
		endpoint: brevoEndpoint,
	}
}

type brevoSendRequest struct {
	Sender  brevoContact   `json:"sender"`
	To      []brevoContact `json:"to"`
	Subject string         `json:"subject"`
	HTML    string         `json:"htmlContent"`
	Tags    []string       `json:"tags,omitempty"`
}

type brevoContact struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type brevoSendResponse struct {
	MessageID string `json:"messageId"`
}

// BrevoError is a rejection reported by the Brevo API.
type BrevoError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *BrevoError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("brevo: HTTP %d", e.Status)
	}
	return fmt.Sprintf("brevo: HTTP %d: %s (%s)", e.Status, e.Message, e.Code)
}

// IsBrevoError reports whether err carries a Brevo API rejection.
func IsBrevoError(err error) bool {
	var be *BrevoError
	return errors.As(err, &be)
}

// Send posts one message. Delivery is attempted once.
func (b *BrevoProvider) Send(ctx context.Context, to, subject, htmlBody string) error {
	payload, err := json.Marshal(brevoSendRequest{
		Sender:  b.sender,
		To:      []brevoContact{{Email: to}},
		Subject: subject,
		HTML:    htmlBody,
		Tags:    []string{brevoTag},
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("api-key", b.apiKey)

	start := time.Now()
	resp, err := b.client.Do(req)
	if err != nil {
		b.logger.Warn("Brevo request failed", "to", to, "duration_ms", time.Since(start).Milliseconds(), "error", err)
		return fmt.Errorf("brevo request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			b.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("read brevo response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &BrevoError{Status: resp.StatusCode}
		_ = json.Unmarshal(body, apiErr)
		b.logger.Warn("Brevo rejected digest email", "to", to, "status_code", resp.StatusCode, "code", apiErr.Code)
		return apiErr
	}

	var sent brevoSendResponse
	_ = json.Unmarshal(body, &sent)
	b.logger.Info("Digest email accepted by Brevo",
		"to", to,
		"message_id", sent.MessageID,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}
