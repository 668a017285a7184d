package infra

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tablepos/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcNotifier func(context.Context, Notification) error

func (f funcNotifier) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

var paid = Notification{
	EventType: "billing.paid",
	BillingID: "7d3c2a4e-8a57-4bd4-9a5e-1b0f2b8f6d11",
	Recipient: "guest@example.com",
	Subject:   "Your bill is settled",
	Message:   "100.00 paid of 100.00 due",
}

func TestWebhookNotifier_PostsJSON(t *testing.T) {
	var got webhookBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL, time.Second).Notify(context.Background(), paid)
	require.NoError(t, err)
	assert.Equal(t, "billing.paid", got.EventType)
	assert.Equal(t, paid.BillingID, got.BillingID)
	assert.NotEmpty(t, got.SentAt)
}

func TestWebhookNotifier_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL, time.Second).Notify(context.Background(), paid)
	assert.ErrorContains(t, err, "502")
}

func TestMultiNotifier_JoinsErrorsAndKeepsGoing(t *testing.T) {
	first := errors.New("webhook down")
	delivered := 0
	m := MultiNotifier{
		funcNotifier(func(context.Context, Notification) error { return first }),
		funcNotifier(func(context.Context, Notification) error { delivered++; return nil }),
	}

	err := m.Notify(context.Background(), paid)
	assert.ErrorIs(t, err, first)
	assert.Equal(t, 1, delivered)
}

func TestBreakerNotifier_FailsFastWhenOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "notifier", FailureThreshold: 1})
	calls := 0
	n := BreakerNotifier{
		Next:    funcNotifier(func(context.Context, Notification) error { calls++; return errors.New("down") }),
		Breaker: cb,
	}

	assert.Error(t, n.Notify(context.Background(), paid))
	assert.ErrorIs(t, n.Notify(context.Background(), paid), ErrCircuitOpen)
	assert.Equal(t, 1, calls)
}

func TestMailer_SkipsNonEmailRecipients(t *testing.T) {
	m := NewMailer(&config.Config{SMTPHost: "127.0.0.1", SMTPPort: 1})

	n := paid
	n.Recipient = "+34 600 000 000"
	assert.NoError(t, m.Notify(context.Background(), n))

	n.Recipient = ""
	assert.NoError(t, m.Notify(context.Background(), n))
}

func TestMailer_HonoursCancelledContext(t *testing.T) {
	m := NewMailer(&config.Config{SMTPHost: "127.0.0.1", SMTPPort: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, m.Notify(ctx, paid), context.Canceled)
}
