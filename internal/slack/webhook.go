// Package slack posts operator notifications to an incoming webhook.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	defaultAttempts = 3
	defaultBackoff  = 500 * time.Millisecond
	maxBackoff      = 5 * time.Second
)

// FormatMessage prefixes message with the upper-cased severity, if any.
func FormatMessage(severity, message string) string {
	if severity == "" {
		return message
	}
	return fmt.Sprintf("[%s] %s", strings.ToUpper(severity), message)
}

// IsPlaceholderWebhook reports whether url is unset or still the sample value
// from an example env file.
func IsPlaceholderWebhook(url string) bool {
	return url == "" ||
		strings.Contains(url, "hooks.slack.com/services/YOUR/WEBHOOK/URL") ||
		strings.Contains(url, "your_webhook_url_here")
}

type Poster interface {
	Post(ctx context.Context, text string) error
}

// WebhookPoster retries rate limited and 5xx responses with exponential backoff.
type WebhookPoster struct {
	URL         string
	Client      *http.Client
	MaxAttempts int
	Backoff     time.Duration
}

func NewWebhookPoster(url string) *WebhookPoster {
	return &WebhookPoster{
		URL:         url,
		Client:      &http.Client{Timeout: 10 * time.Second},
		MaxAttempts: defaultAttempts,
		Backoff:     defaultBackoff,
	}
}

type webhookPayload struct {
	Text string `json:"text"`
}

func (p *WebhookPoster) Post(ctx context.Context, text string) error {
	body, err := json.Marshal(webhookPayload{Text: text})
	if err != nil {
		return err
	}
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = defaultAttempts
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, nextAttempt(p.Backoff, attempt-1)); err != nil {
				return err
			}
		}
		retry, err := p.postOnce(ctx, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return lastErr
}

func (p *WebhookPoster) postOnce(ctx context.Context, body []byte) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return true, fmt.Errorf("slack webhook: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return true, fmt.Errorf("slack webhook: status %d", resp.StatusCode)
	default:
		return false, fmt.Errorf("slack webhook: status %d", resp.StatusCode)
	}
}

// nextAttempt doubles base per prior failure, capped.
func nextAttempt(base time.Duration, attemptCount int) time.Duration {
	if base <= 0 {
		base = defaultBackoff
	}
	if attemptCount <= 0 {
		return base
	}
	d := base << attemptCount
	if d > maxBackoff || d <= 0 {
		return maxBackoff
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
