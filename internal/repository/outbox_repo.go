package repository

import (
	"context"
	"time"

	"tablepos/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OutboxRepository backs the notification outbox. Rows are written inside
// ledger transactions and drained by the relay.
type OutboxRepository interface {
	Enqueue(ctx context.Context, tx *gorm.DB, m *model.OutboxMessage) error
	// ClaimBatch locks up to limit due rows for owner. Rows whose lock is
	// older than lease are reclaimed from a crashed relay.
	ClaimBatch(ctx context.Context, owner string, limit int, lease time.Duration) ([]model.OutboxMessage, error)
	MarkSent(ctx context.Context, id int64) error
	MarkRetry(ctx context.Context, id int64, attempts int, next time.Time, lastErr string) error
	MarkDead(ctx context.Context, id int64, attempts int, lastErr string) error
}

type outboxRepo struct{ db *gorm.DB }

func NewOutboxRepository(db *gorm.DB) OutboxRepository { return &outboxRepo{db: db} }

func (r *outboxRepo) Enqueue(ctx context.Context, tx *gorm.DB, m *model.OutboxMessage) error {
	m.Status = model.OutboxPending
	if m.NextAttemptAt.IsZero() {
		m.NextAttemptAt = time.Now().UTC()
	}
	return translateError(conn(ctx, r.db, tx).Create(m).Error, "")
}

func (r *outboxRepo) ClaimBatch(ctx context.Context, owner string, limit int, lease time.Duration) ([]model.OutboxMessage, error) {
	now := time.Now().UTC()
	staleBefore := now.Add(-lease)

	var claimed []model.OutboxMessage
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where("status = ? AND next_attempt_at <= ?", model.OutboxPending, now).
			Where("(locked_at IS NULL OR locked_at <= ?)", staleBefore).
			Order("id ASC").
			Limit(limit).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}
		ids := make([]int64, len(claimed))
		for i := range claimed {
			ids[i] = claimed[i].ID
			claimed[i].LockedAt = &now
			claimed[i].LockedBy = &owner
		}
		return tx.Model(&model.OutboxMessage{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{"locked_at": now, "locked_by": owner}).Error
	})
	if err != nil {
		return nil, translateError(err, "")
	}
	return claimed, nil
}

func (r *outboxRepo) MarkSent(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	return r.update(ctx, id, map[string]interface{}{
		"status":       model.OutboxSent,
		"published_at": now,
		"locked_at":    nil,
		"locked_by":    nil,
	})
}

func (r *outboxRepo) MarkRetry(ctx context.Context, id int64, attempts int, next time.Time, lastErr string) error {
	return r.update(ctx, id, map[string]interface{}{
		"attempts":        attempts,
		"next_attempt_at": next,
		"last_error":      lastErr,
		"locked_at":       nil,
		"locked_by":       nil,
	})
}

func (r *outboxRepo) MarkDead(ctx context.Context, id int64, attempts int, lastErr string) error {
	return r.update(ctx, id, map[string]interface{}{
		"status":     model.OutboxDead,
		"attempts":   attempts,
		"last_error": lastErr,
		"locked_at":  nil,
		"locked_by":  nil,
	})
}

func (r *outboxRepo) update(ctx context.Context, id int64, fields map[string]interface{}) error {
	err := r.db.WithContext(ctx).Model(&model.OutboxMessage{}).Where("id = ?", id).Updates(fields).Error
	return translateError(err, "")
}
