package notifier

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	buildinfo "github.com/good-yellow-bee/keywatch/pkg/config"
)

// WebhookConfig configures the generic JSON webhook channel.
type WebhookConfig struct {
	URL          string            // Default endpoint when the destination names none
	Headers      map[string]string // Extra request headers, e.g. Authorization
	Timeout      time.Duration
	RetryCount   int
	RetryWait    time.Duration
	RetryMaxWait time.Duration
}

func (c *WebhookConfig) setDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RetryCount < 0 {
		c.RetryCount = 0
	}
	if c.RetryWait <= 0 {
		c.RetryWait = time.Second
	}
	if c.RetryMaxWait <= 0 {
		c.RetryMaxWait = 5 * time.Second
	}
}

// WebhookNotifier posts a chatbot-style JSON envelope to an HTTP endpoint:
//
//	{"version":"1.0","source":"custom","content":{"title":...,"description":...}}
//
// Transport errors, 429 and 5xx responses are retried.
type WebhookNotifier struct {
	config WebhookConfig
	client *resty.Client
}

// NewWebhookNotifier creates a new webhook notifier.
func NewWebhookNotifier(config WebhookConfig) *WebhookNotifier {
	config.setDefaults()

	client := resty.New().
		SetTimeout(config.Timeout).
		SetRetryCount(config.RetryCount).
		SetRetryWaitTime(config.RetryWait).
		SetRetryMaxWaitTime(config.RetryMaxWait).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", buildinfo.UserAgent()).
		SetHeaders(config.Headers).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500
		})

	return &WebhookNotifier{config: config, client: client}
}

// Name returns "webhook".
func (w *WebhookNotifier) Name() string {
	return "webhook"
}

type webhookEnvelope struct {
	Version string         `json:"version"`
	Source  string         `json:"source"`
	Content webhookContent `json:"content"`
}

type webhookContent struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Send posts msg to target, which must be an http(s) URL, or to the
// configured URL when target is empty.
func (w *WebhookNotifier) Send(ctx context.Context, target string, msg *Message) error {
	url := target
	if url == "" {
		url = w.config.URL
	}
	if !strings.HasPrefix(url, "https://") && !strings.HasPrefix(url, "http://") {
		return fmt.Errorf("webhook target must be an http(s) URL, got %q", url)
	}

	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(webhookEnvelope{
			Version: "1.0",
			Source:  "custom",
			Content: webhookContent{Title: msg.Title(), Description: msg.Body},
		}).
		Post(url)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook error: status %d, body: %s", resp.StatusCode(), truncate(resp.String(), 1024))
	}
	return nil
}

// Close is a no-op for webhook notifier.
func (w *WebhookNotifier) Close() error {
	return nil
}
