package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	buildinfo "github.com/good-yellow-bee/keywatch/pkg/config"
)

// Slack section blocks accept at most 3000 characters of text.
const slackSectionLimit = 3000

// SlackConfig holds Slack webhook configuration.
type SlackConfig struct {
	WebhookURL string // Default incoming webhook URL
	Username   string // Optional bot display name
}

// Validate validates the Slack configuration.
func (c *SlackConfig) Validate() error {
	if c.WebhookURL == "" {
		return fmt.Errorf("webhook URL is required")
	}
	if !strings.HasPrefix(c.WebhookURL, "https://") {
		return fmt.Errorf("webhook URL must use HTTPS")
	}
	return nil
}

// SlackNotifier sends notifications to Slack via incoming webhook.
//
// The destination target selects where the message goes: "#channel" or
// "@user" overrides the webhook's default channel, an https URL replaces
// the webhook, and an empty target uses the configured webhook as is.
type SlackNotifier struct {
	config     SlackConfig
	httpClient *http.Client
}

// NewSlackNotifier creates a new Slack notifier.
func NewSlackNotifier(config SlackConfig) (*SlackNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid slack config: %w", err)
	}

	return &SlackNotifier{
		config: config,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Name returns "slack".
func (s *SlackNotifier) Name() string {
	return "slack"
}

// Send sends a message to Slack.
func (s *SlackNotifier) Send(ctx context.Context, target string, msg *Message) error {
	url := s.config.WebhookURL
	payload := s.buildPayload(msg)
	switch {
	case strings.HasPrefix(target, "https://"):
		url = target
	case target != "":
		payload.Channel = target
	}

	return postJSON(ctx, s.httpClient, url, payload, "slack")
}

// Close is a no-op for Slack notifier.
func (s *SlackNotifier) Close() error {
	return nil
}

// slackMessage represents the Slack webhook payload.
type slackMessage struct {
	Text     string       `json:"text,omitempty"`
	Channel  string       `json:"channel,omitempty"`
	Username string       `json:"username,omitempty"`
	Blocks   []slackBlock `json:"blocks,omitempty"`
}

// slackBlock represents a Slack Block Kit block.
type slackBlock struct {
	Type string     `json:"type"`
	Text *slackText `json:"text,omitempty"`
}

// slackText represents text in a Slack block.
type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// buildPayload builds the Slack message payload.
func (s *SlackNotifier) buildPayload(msg *Message) slackMessage {
	blocks := []slackBlock{
		{
			Type: "header",
			Text: &slackText{Type: "plain_text", Text: truncate(msg.Title(), 150)},
		},
	}
	if msg.Body != "" {
		blocks = append(blocks, slackBlock{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: "```" + truncate(msg.Body, slackSectionLimit-6) + "```"},
		})
	}

	return slackMessage{
		Text:     msg.Subject,
		Username: s.config.Username,
		Blocks:   blocks,
	}
}

// postJSON posts payload to url and treats any non-2xx status as an error.
func postJSON(ctx context.Context, client *http.Client, url string, payload any, service string) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent())

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s API error: status %d, body: %s", service, resp.StatusCode, string(body))
	}

	return nil
}
