// Package notify delivers human-facing security notifications. Delivery
// is best-effort: a failed notification never blocks or rolls back the
// detection pipeline.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shortify-systems/sentinel/internal/messaging"
)

// Notification is one outbound security notification.
type Notification struct {
	Title    string                 `json:"title"`
	Severity string                 `json:"severity"`
	Body     string                 `json:"body"`
	Details  map[string]interface{} `json:"details,omitempty"`
}

// Channel defines the interface for notification delivery.
type Channel interface {
	Send(ctx context.Context, n *Notification) error
	Type() string
}

// WebhookChannel sends notifications via HTTP POST.
type WebhookChannel struct {
	URL     string
	Timeout time.Duration
	client  *http.Client
}

// NewWebhookChannel creates a webhook notification channel.
func NewWebhookChannel(url string, timeout time.Duration) *WebhookChannel {
	return &WebhookChannel{
		URL:     url,
		Timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

func (w *WebhookChannel) Type() string { return "webhook" }

func (w *WebhookChannel) Send(ctx context.Context, n *Notification) error {
	payload := map[string]interface{}{
		"title":     n.Title,
		"severity":  n.Severity,
		"body":      n.Body,
		"details":   n.Details,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// SlackChannel sends notifications to Slack via incoming webhook.
type SlackChannel struct {
	WebhookURL string
	Timeout    time.Duration
	client     *http.Client
}

// NewSlackChannel creates a Slack notification channel.
func NewSlackChannel(webhookURL string, timeout time.Duration) *SlackChannel {
	return &SlackChannel{
		WebhookURL: webhookURL,
		Timeout:    timeout,
		client:     &http.Client{Timeout: timeout},
	}
}

func (s *SlackChannel) Type() string { return "slack" }

func (s *SlackChannel) Send(ctx context.Context, n *Notification) error {
	fields := []map[string]interface{}{
		{"title": "Severity", "value": n.Severity, "short": true},
	}
	for key, value := range n.Details {
		fields = append(fields, map[string]interface{}{
			"title": key,
			"value": fmt.Sprintf("%v", value),
			"short": true,
		})
	}

	payload := map[string]interface{}{
		"text": fmt.Sprintf("🚨 %s", n.Title),
		"attachments": []map[string]interface{}{
			{
				"color":  s.severityColor(n.Severity),
				"text":   n.Body,
				"fields": fields,
				"footer": "Sentinel",
				"ts":     time.Now().Unix(),
			},
		},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send slack notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (s *SlackChannel) severityColor(severity string) string {
	switch severity {
	case "critical":
		return "#8B0000"
	case "high":
		return "#FF0000"
	case "medium":
		return "#FFA500"
	case "low":
		return "#FFFF00"
	default:
		return "#808080"
	}
}

// BusChannel publishes notifications to the message bus for downstream
// consumers (paging, ticketing).
type BusChannel struct {
	publisher messaging.Publisher
}

// NewBusChannel creates a bus-backed notification channel.
func NewBusChannel(publisher messaging.Publisher) *BusChannel {
	return &BusChannel{publisher: publisher}
}

func (b *BusChannel) Type() string { return "bus" }

func (b *BusChannel) Send(ctx context.Context, n *Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal bus notification: %w", err)
	}
	if err := b.publisher.Publish(ctx, messaging.SubjectNotifySecurity, data); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// LogChannel writes notifications to logs (for testing/debugging).
type LogChannel struct {
	logger func(format string, v ...interface{})
}

// NewLogChannel creates a log-based notification channel.
func NewLogChannel(logger func(format string, v ...interface{})) *LogChannel {
	return &LogChannel{logger: logger}
}

func (l *LogChannel) Type() string { return "log" }

func (l *LogChannel) Send(_ context.Context, n *Notification) error {
	l.logger("NOTIFICATION: %s (severity=%s) %s", n.Title, n.Severity, n.Body)
	return nil
}

// MultiChannel fans a notification out to multiple channels.
type MultiChannel struct {
	channels []Channel
}

// NewMultiChannel creates a channel that fans out to the given channels.
func NewMultiChannel(channels ...Channel) *MultiChannel {
	return &MultiChannel{channels: channels}
}

func (m *MultiChannel) Type() string { return "multi" }

func (m *MultiChannel) Send(ctx context.Context, n *Notification) error {
	var lastErr error
	successCount := 0

	for _, ch := range m.channels {
		if err := ch.Send(ctx, n); err != nil {
			lastErr = fmt.Errorf("%s channel failed: %w", ch.Type(), err)
		} else {
			successCount++
		}
	}

	if successCount == 0 && len(m.channels) > 0 {
		return fmt.Errorf("all notification channels failed: %w", lastErr)
	}
	return nil
}
