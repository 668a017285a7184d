package infra

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
)

// Notification is one message for the notification collaborator.
type Notification struct {
	EventType string
	BillingID string
	Recipient string
	Subject   string
	Message   string
}

// Notifier delivers a notification. Implementations must honour ctx.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// MultiNotifier fans a notification out to every notifier and joins the
// errors. One failing channel does not stop the others.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, nt := range m {
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes the notification to the structured log. It is the
// fallback channel when no webhook or SMTP server is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n Notification) error {
	log.Info().
		Str("event", n.EventType).
		Str("billing_id", n.BillingID).
		Str("recipient", n.Recipient).
		Msg(n.Message)
	return nil
}

// BreakerNotifier routes every delivery through a circuit breaker so that a
// dead downstream fails fast instead of tying up workers.
type BreakerNotifier struct {
	Next    Notifier
	Breaker *CircuitBreaker
}

func (b BreakerNotifier) Notify(ctx context.Context, n Notification) error {
	return b.Breaker.Execute(func() error { return b.Next.Notify(ctx, n) })
}
