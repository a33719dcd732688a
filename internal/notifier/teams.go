package notifier

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// TeamsConfig holds Microsoft Teams webhook configuration.
type TeamsConfig struct {
	WebhookURL string // Teams incoming webhook URL
}

// Validate validates the Teams configuration.
func (c *TeamsConfig) Validate() error {
	if c.WebhookURL == "" {
		return fmt.Errorf("webhook URL is required")
	}
	if !strings.HasPrefix(c.WebhookURL, "https://") {
		return fmt.Errorf("webhook URL must use HTTPS")
	}
	return nil
}

// TeamsNotifier sends notifications to Microsoft Teams via webhook. An
// https target replaces the configured webhook URL.
type TeamsNotifier struct {
	config     TeamsConfig
	httpClient *http.Client
}

// NewTeamsNotifier creates a new Teams notifier.
func NewTeamsNotifier(config TeamsConfig) (*TeamsNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid teams config: %w", err)
	}

	return &TeamsNotifier{
		config: config,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Name returns "teams".
func (t *TeamsNotifier) Name() string {
	return "teams"
}

// Send sends a message to Microsoft Teams.
func (t *TeamsNotifier) Send(ctx context.Context, target string, msg *Message) error {
	url := t.config.WebhookURL
	if strings.HasPrefix(target, "https://") {
		url = target
	}
	return postJSON(ctx, t.httpClient, url, t.buildPayload(msg), "teams")
}

// Close is a no-op for Teams notifier.
func (t *TeamsNotifier) Close() error {
	return nil
}

// teamsMessage represents the Teams webhook payload with Adaptive Card.
type teamsMessage struct {
	Type        string            `json:"type"`
	Attachments []teamsAttachment `json:"attachments"`
}

// teamsAttachment represents an attachment in the Teams message.
type teamsAttachment struct {
	ContentType string       `json:"contentType"`
	ContentURL  *string      `json:"contentUrl"`
	Content     adaptiveCard `json:"content"`
}

// adaptiveCard represents a Microsoft Adaptive Card.
type adaptiveCard struct {
	Schema  string      `json:"$schema"`
	Type    string      `json:"type"`
	Version string      `json:"version"`
	Body    []textBlock `json:"body"`
}

type textBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	Size     string `json:"size,omitempty"`
	Weight   string `json:"weight,omitempty"`
	FontType string `json:"fontType,omitempty"`
	Color    string `json:"color,omitempty"`
	Wrap     bool   `json:"wrap,omitempty"`
}

// buildPayload builds the Teams Adaptive Card message payload.
func (t *TeamsNotifier) buildPayload(msg *Message) teamsMessage {
	body := []textBlock{
		{
			Type:   "TextBlock",
			Text:   msg.Title(),
			Size:   "Large",
			Weight: "Bolder",
			Color:  teamsSubjectColor(msg.Subject),
			Wrap:   true,
		},
	}
	if msg.Body != "" {
		body = append(body, textBlock{
			Type:     "TextBlock",
			Text:     msg.Body,
			FontType: "Monospace",
			Wrap:     true,
		})
	}

	return teamsMessage{
		Type: "message",
		Attachments: []teamsAttachment{
			{
				ContentType: "application/vnd.microsoft.card.adaptive",
				ContentURL:  nil,
				Content: adaptiveCard{
					Schema:  "http://adaptivecards.io/schemas/adaptive-card.json",
					Type:    "AdaptiveCard",
					Version: "1.4",
					Body:    body,
				},
			},
		},
	}
}

// teamsSubjectColor colours recovery notices green and everything else red.
func teamsSubjectColor(subject string) string {
	if strings.Contains(strings.ToUpper(subject), "RECOVER") {
		return "good"
	}
	return "attention"
}
