package notifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestWebhookNotifier(url string, retries int) *WebhookNotifier {
	return NewWebhookNotifier(WebhookConfig{
		URL:          url,
		Headers:      map[string]string{"X-Token": "secret"},
		Timeout:      2 * time.Second,
		RetryCount:   retries,
		RetryWait:    10 * time.Millisecond,
		RetryMaxWait: 20 * time.Millisecond,
	})
}

func TestWebhookNotifierSend(t *testing.T) {
	var envelope webhookEnvelope
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Token") != "secret" {
			t.Errorf("missing custom header")
		}
		if !strings.HasPrefix(r.Header.Get("User-Agent"), "keywatch/") {
			t.Errorf("unexpected User-Agent %q", r.Header.Get("User-Agent"))
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &envelope); err != nil {
			t.Errorf("failed to unmarshal payload: %v", err)
		}
	}))
	defer server.Close()

	notifier := newTestWebhookNotifier("", 0)
	if err := notifier.Send(context.Background(), server.URL, NewMessage("[warning] TIMEOUT in shop", "3 matches")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if envelope.Version != "1.0" || envelope.Source != "custom" {
		t.Errorf("unexpected envelope header: %+v", envelope)
	}
	if envelope.Content.Title != "[warning] TIMEOUT in shop" || envelope.Content.Description != "3 matches" {
		t.Errorf("unexpected content: %+v", envelope.Content)
	}
}

func TestWebhookNotifierRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	notifier := newTestWebhookNotifier(server.URL, 3)
	if err := notifier.Send(context.Background(), "", NewMessage("s", "b")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestWebhookNotifierClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	notifier := newTestWebhookNotifier(server.URL, 3)
	if err := notifier.Send(context.Background(), "", NewMessage("s", "b")); err == nil {
		t.Fatal("expected error for HTTP 400")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("expected a single attempt, got %d", got)
	}
}

func TestWebhookNotifierInvalidTarget(t *testing.T) {
	notifier := newTestWebhookNotifier("", 0)
	if err := notifier.Send(context.Background(), "", NewMessage("s", "b")); err == nil {
		t.Error("expected error without URL")
	}
	if err := notifier.Send(context.Background(), "ftp://example.com", NewMessage("s", "b")); err == nil {
		t.Error("expected error for non-http target")
	}
}
