// Package notify delivers digest messages to subscribers over every configured channel.
package notify

import (
	"context"
	"log/slog"
	"sync"

	"estate-notifier/metrics"
)

// Channel names used as recipient keys.
const (
	Telegram = "telegram"
	Email    = "email"
	WhatsApp = "whatsapp"
)

// Channel sends a text message to one recipient.
type Channel interface {
	Name() string
	Send(ctx context.Context, recipient, text string) error
}

// Recipients maps a channel name to recipient ids on that channel.
type Recipients map[string][]string

// Summary counts the outcome of one dispatch.
type Summary struct {
	Sent    int
	Failed  int
	Skipped int // Recipients on channels that are not configured
}

// Dispatcher fans messages out to channels.
type Dispatcher struct {
	channels map[string]Channel
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates a dispatcher over the given channels.
func New(logger *slog.Logger, m *metrics.Metrics, channels ...Channel) *Dispatcher {
	byName := make(map[string]Channel, len(channels))
	for _, c := range channels {
		byName[c.Name()] = c
	}
	return &Dispatcher{channels: byName, metrics: m, logger: logger}
}

// Channels returns the names of the configured channels.
func (d *Dispatcher) Channels() []string {
	names := make([]string, 0, len(d.channels))
	for name := range d.channels {
		names = append(names, name)
	}
	return names
}

// Send delivers text to every recipient concurrently, one attempt each.
// A failed delivery is logged and counted; it never affects other recipients.
func (d *Dispatcher) Send(ctx context.Context, recipients Recipients, text string) Summary {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		summary Summary
	)

	for name, ids := range recipients {
		ch, ok := d.channels[name]
		if !ok {
			if len(ids) > 0 {
				d.logger.Warn("Channel not configured, recipients skipped", "channel", name, "recipients", len(ids))
				summary.Skipped += len(ids)
			}
			continue
		}

		for _, id := range ids {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := ch.Send(ctx, id, text)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					d.logger.Error("Failed to send notification", "channel", name, "recipient", id, "error", err)
					summary.Failed++
					d.metrics.NotificationsTotal.WithLabelValues(name, "failed").Inc()
					return
				}
				d.logger.Info("Notification sent", "channel", name, "recipient", id)
				summary.Sent++
				d.metrics.NotificationsTotal.WithLabelValues(name, "sent").Inc()
			}()
		}
	}

	wg.Wait()
	return summary
}
