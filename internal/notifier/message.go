package notifier

import (
	"strings"
	"unicode/utf8"
)

// Payload limits applied before delivery.
const (
	MaxSubjectLength = 100
	MaxBodyBytes     = 256 * 1024

	truncatedMarker = "\n... (truncated)"
)

// Message is a rendered notification.
type Message struct {
	Subject string
	Body    string
	// Truncated is set when the body exceeded MaxBodyBytes.
	Truncated bool
}

// NewMessage builds a message, clipping the subject to MaxSubjectLength
// characters and the body to MaxBodyBytes.
func NewMessage(subject, body string) *Message {
	msg := &Message{
		Subject: clipRunes(subject, MaxSubjectLength),
		Body:    body,
	}
	if len(body) > MaxBodyBytes {
		msg.Body = clipBytes(body, MaxBodyBytes-len(truncatedMarker)) + truncatedMarker
		msg.Truncated = true
	}
	return msg
}

// Title returns the first line of the subject, used where a channel only
// supports single-line headers.
func (m *Message) Title() string {
	title, _, _ := strings.Cut(m.Subject, "\n")
	return title
}

func clipRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}

// clipBytes cuts s to at most max bytes without splitting a rune.
func clipBytes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// truncate truncates a string to max bytes with ellipsis.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return clipBytes(s, max-3) + "..."
}
