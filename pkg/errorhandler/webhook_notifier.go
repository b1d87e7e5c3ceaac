package errorhandler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookNotifier delivers webhook notifications over HTTP and hands every other
// kind to the next notifier.
type WebhookNotifier struct {
	client *http.Client
	next   Notifier
}

func NewWebhookNotifier(client *http.Client, next Notifier) *WebhookNotifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &WebhookNotifier{client: client, next: next}
}

func (n *WebhookNotifier) SendEmail(ctx context.Context, recipients []string, message string) error {
	if n.next == nil {
		return nil
	}

	return n.next.SendEmail(ctx, recipients, message)
}

func (n *WebhookNotifier) SendChatMessage(ctx context.Context, recipients []string, message string) error {
	if n.next == nil {
		return nil
	}

	return n.next.SendChatMessage(ctx, recipients, message)
}

func (n *WebhookNotifier) SendWebhook(ctx context.Context, urls []string, message string) error {
	body, err := json.Marshal(map[string]any{
		"message":   message,
		"timestamp": time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	var errs []error

	for _, url := range urls {
		err := n.post(ctx, url, body)
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (n *WebhookNotifier) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request for %s: %w", url, err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed for %s: %w", url, err)
	}

	defer func() { _ = resp.Body.Close() }()

	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("webhook request failed for %s: status %d", url, resp.StatusCode)
	}

	return nil
}
