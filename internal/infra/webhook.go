package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// webhookBody is the JSON posted to NOTIFY_WEBHOOK_URL.
type webhookBody struct {
	EventType string `json:"event_type"`
	BillingID string `json:"billing_id"`
	Recipient string `json:"recipient,omitempty"`
	Subject   string `json:"subject"`
	Message   string `json:"message"`
	SentAt    string `json:"sent_at"`
}

// WebhookNotifier posts notifications to an HTTP endpoint owned by the
// notification collaborator (vendor messaging, staff pager, etc.).
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
}

func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Notify sends one POST. Any non-2xx answer is an error so the worker retries.
func (w *WebhookNotifier) Notify(ctx context.Context, n Notification) error {
	body, err := json.Marshal(webhookBody{
		EventType: n.EventType,
		BillingID: n.BillingID,
		Recipient: n.Recipient,
		Subject:   n.Subject,
		Message:   n.Message,
		SentAt:    time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook: endpoint returned %d", resp.StatusCode)
	}
	return nil
}
