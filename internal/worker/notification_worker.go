package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tablepos/internal/dto"
	"tablepos/internal/infra"
	"tablepos/internal/model"

	"github.com/rs/zerolog/log"
)

// NotificationWorker delivers notification jobs through the notifier. Each
// attempt runs under its own timeout; delivery failures never reach the
// payer, they end up in the DLQ after MaxAttempts.
type NotificationWorker struct {
	notifier    infra.Notifier
	timeout     time.Duration
	maxAttempts int
	baseDelay   time.Duration
}

type NotificationWorkerConfig struct {
	Timeout     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration // first retry wait, doubled each attempt
}

func NewNotificationWorker(notifier infra.Notifier, cfg NotificationWorkerConfig) *NotificationWorker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	return &NotificationWorker{
		notifier:    notifier,
		timeout:     cfg.Timeout,
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
	}
}

func (w *NotificationWorker) Process(ctx context.Context, payload json.RawMessage) error {
	var ev dto.NotificationEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("notification_worker: invalid payload: %w", err)
	}

	n := infra.Notification{
		EventType: ev.EventType,
		BillingID: ev.BillingID,
		Recipient: ev.Recipient,
		Subject:   subjectFor(ev.EventType),
		Message:   ev.Message,
	}

	err := withRetry(ctx, w.maxAttempts, w.baseDelay, func(attempt int) error {
		attemptCtx, cancel := context.WithTimeout(ctx, w.timeout)
		defer cancel()
		err := w.notifier.Notify(attemptCtx, n)
		if err != nil {
			log.Warn().Err(err).
				Int64("outbox_id", ev.OutboxID).
				Str("billing_id", ev.BillingID).
				Int("attempt", attempt+1).
				Msg("notification_worker: delivery failed")
		}
		if errors.Is(err, infra.ErrCircuitOpen) {
			return permanent(err)
		}
		return err
	})
	if err != nil {
		return err
	}

	log.Info().
		Int64("outbox_id", ev.OutboxID).
		Str("billing_id", ev.BillingID).
		Str("event", ev.EventType).
		Msg("notification_worker: delivered")
	return nil
}

func subjectFor(eventType string) string {
	switch eventType {
	case model.EventBillingPaid:
		return "Your bill is settled"
	case model.EventDiscountApplied:
		return "A discount was applied to your bill"
	default:
		return "Payment received"
	}
}

// withRetry calls fn up to maxAttempts times with exponential backoff
// (base, 2*base, 4*base ...). A permanent error stops immediately. The
// returned error carries the attempt count for the DLQ entry.
func withRetry(ctx context.Context, maxAttempts int, base time.Duration, fn func(attempt int) error) error {
	var lastErr error
	attempts := 0
	for i := 0; i < maxAttempts; i++ {
		if i > 0 {
			wait := base * time.Duration(1<<uint(i-1))
			select {
			case <-ctx.Done():
				return &exhaustedError{attempts: attempts, err: ctx.Err()}
			case <-time.After(wait):
			}
		}
		attempts++
		err := fn(i)
		if err == nil {
			return nil
		}
		lastErr = err
		var p *permanentError
		if errors.As(err, &p) {
			return &exhaustedError{attempts: attempts, err: p.err}
		}
	}
	return &exhaustedError{attempts: attempts, err: lastErr}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }

func permanent(err error) error { return &permanentError{err: err} }
