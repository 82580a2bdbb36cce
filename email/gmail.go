package email

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/api/gmail/v1"
)

// GmailProvider sends digests through the Gmail API as the authenticated account.
type GmailProvider struct {
	service *gmail.Service
	logger  *slog.Logger
}

// NewGmailProvider wraps an authorized Gmail service.
func NewGmailProvider(service *gmail.Service, logger *slog.Logger) *GmailProvider {
	return &GmailProvider{service: service, logger: logger}
}

// sanitizeHeader drops control characters so a value cannot start a new header line.
func sanitizeHeader(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)
}

// buildMIME assembles the raw RFC 5322 message. Gmail fills in From.
func buildMIME(to, subject, htmlBody string) string {
	headers := [][2]string{
		{"MIME-Version", "1.0"},
		{"To", sanitizeHeader(to)},
		{"Subject", sanitizeHeader(subject)},
		{"Content-Type", "text/html; charset=utf-8"},
		{"X-Estate-Digest", "1"},
	}
	var msg strings.Builder
	for _, h := range headers {
		fmt.Fprintf(&msg, "%s: %s\r\n", h[0], h[1])
	}
	msg.WriteString("\r\n")
	msg.WriteString(htmlBody)
	return msg.String()
}

// Send delivers one message, attempted once.
func (g *GmailProvider) Send(ctx context.Context, to, subject, htmlBody string) error {
	raw := base64.URLEncoding.EncodeToString([]byte(buildMIME(to, subject, htmlBody)))

	start := time.Now()
	msg, err := g.service.Users.Messages.Send("me", &gmail.Message{Raw: raw}).Context(ctx).Do()
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		g.logger.Warn("Gmail send failed", "to", to, "duration_ms", elapsed, "error", err)
		return fmt.Errorf("gmail send: %w", err)
	}

	g.logger.Info("Digest email sent via Gmail", "to", to, "message_id", msg.Id, "duration_ms", elapsed)
	return nil
}
