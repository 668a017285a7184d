package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"tablepos/internal/dto"
	"tablepos/internal/model"
	"tablepos/internal/repository"

	"github.com/bsm/redislock"
	"github.com/rs/zerolog/log"
)

const relayLockKey = "lock:notification-relay"

// Publisher is what the relay hands claimed outbox rows to.
type Publisher interface {
	EnqueueNotification(ctx context.Context, ev dto.NotificationEvent) error
}

type RelayConfig struct {
	Outbox      repository.OutboxRepository
	Publisher   Publisher
	Locker      *redislock.Client // nil disables the cross-instance lock
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	BaseBackoff time.Duration
	Lease       time.Duration
}

// Relay moves pending outbox rows onto the notification queue. Only one
// instance relays at a time (redislock); within an instance rows are
// claimed with FOR UPDATE SKIP LOCKED, so a stale lock holder never
// publishes a row twice concurrently.
type Relay struct {
	cfg   RelayConfig
	owner string
}

func NewRelay(cfg RelayConfig) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 5 * time.Second
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 30 * time.Second
	}
	host, _ := os.Hostname()
	return &Relay{
		cfg:   cfg,
		owner: fmt.Sprintf("%s-%d", host, os.Getpid()),
	}
}

// Start ticks until ctx is cancelled.
func (r *Relay) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()

		log.Info().Dur("interval", r.cfg.Interval).Msg("outbox_relay: started")
		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("outbox_relay: shutting down")
				return
			case <-ticker.C:
				if _, err := r.RunOnce(ctx); err != nil {
					log.Error().Err(err).Msg("outbox_relay: tick failed")
				}
			}
		}
	}()
}

// RunOnce relays one batch and returns how many rows were published.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	if r.cfg.Locker != nil {
		lock, err := r.cfg.Locker.Obtain(ctx, relayLockKey, r.cfg.Lease, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			log.Debug().Msg("outbox_relay: another instance holds the lock, skipping tick")
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("outbox_relay: obtain lock: %w", err)
		}
		defer func() {
			if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				log.Warn().Err(err).Msg("outbox_relay: failed to release lock")
			}
		}()
	}

	rows, err := r.cfg.Outbox.ClaimBatch(ctx, r.owner, r.cfg.BatchSize, r.cfg.Lease)
	if err != nil {
		return 0, err
	}

	published := 0
	for i := range rows {
		if ctx.Err() != nil {
			break
		}
		if r.publish(ctx, &rows[i]) {
			published++
		}
	}
	if len(rows) > 0 {
		log.Info().Int("claimed", len(rows)).Int("published", published).Msg("outbox_relay: batch done")
	}
	return published, nil
}

func (r *Relay) publish(ctx context.Context, row *model.OutboxMessage) bool {
	var ev dto.NotificationEvent
	err := json.Unmarshal(row.Payload, &ev)
	if err == nil {
		ev.OutboxID = row.ID
		err = r.cfg.Publisher.EnqueueNotification(ctx, ev)
	}
	if err == nil {
		if markErr := r.cfg.Outbox.MarkSent(ctx, row.ID); markErr != nil {
			log.Error().Err(markErr).Int64("outbox_id", row.ID).Msg("outbox_relay: published but not marked sent")
		}
		return true
	}

	attempts := row.Attempts + 1
	if attempts >= r.cfg.MaxAttempts {
		log.Error().Err(err).Int64("outbox_id", row.ID).Int("attempts", attempts).Msg("outbox_relay: giving up on message")
		if markErr := r.cfg.Outbox.MarkDead(ctx, row.ID, attempts, err.Error()); markErr != nil {
			log.Error().Err(markErr).Int64("outbox_id", row.ID).Msg("outbox_relay: failed to mark dead")
		}
		return false
	}

	next := time.Now().UTC().Add(r.backoff(attempts))
	log.Warn().Err(err).Int64("outbox_id", row.ID).Int("attempts", attempts).Time("next_attempt_at", next).Msg("outbox_relay: publish failed, will retry")
	if markErr := r.cfg.Outbox.MarkRetry(ctx, row.ID, attempts, next, err.Error()); markErr != nil {
		log.Error().Err(markErr).Int64("outbox_id", row.ID).Msg("outbox_relay: failed to schedule retry")
	}
	return false
}

// backoff doubles from BaseBackoff and caps at one hour.
func (r *Relay) backoff(attempts int) time.Duration {
	d := r.cfg.BaseBackoff
	for i := 1; i < attempts && d < time.Hour; i++ {
		d *= 2
	}
	if d > time.Hour {
		d = time.Hour
	}
	return d
}
