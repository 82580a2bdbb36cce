// Package email delivers digests as HTML email via multiple providers.
package email

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"estate-notifier/notify"
)

const defaultSubject = "New real estate listings"

// Provider defines the interface for email sending implementations.
type Provider interface {
	// Send sends an email with the given parameters.
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// Channel sends digests by email using a pluggable provider.
type Channel struct {
	provider Provider
	logger   *slog.Logger
}

// New creates an email channel with the given provider.
func New(provider Provider, logger *slog.Logger) *Channel {
	return &Channel{provider: provider, logger: logger}
}

// Name implements notify.Channel.
func (c *Channel) Name() string { return notify.Email }

// Send renders the digest text to HTML and mails it to one address.
func (c *Channel) Send(ctx context.Context, to, text string) error {
	if !strings.Contains(to, "@") {
		return fmt.Errorf("invalid email address %q", to)
	}

	subject := subjectOf(text)
	body := renderDigest(text)

	c.logger.Info("Sending digest email", "to", to, "subject", subject, "body_length", len(body))
	if err := c.provider.Send(ctx, to, subject, body); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

// subjectOf uses the digest heading ("New since 2024-11-30") as subject.
func subjectOf(text string) string {
	first, _, _ := strings.Cut(text, "\n")
	first = strings.TrimSpace(first)
	if first == "" {
		return defaultSubject
	}
	return defaultSubject + ": " + strings.ToLower(first[:1]) + first[1:]
}
