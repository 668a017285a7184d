package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Outbox status values.
const (
	OutboxPending = "pending"
	OutboxSent    = "sent"
	OutboxDead    = "dead"
)

// Notification event types.
const (
	EventPaymentRegistered = "payment.registered"
	EventDiscountApplied   = "discount.applied"
	EventBillingPaid       = "billing.paid"
)

// OutboxMessage is a notification written in the same transaction as the
// ledger change that caused it. The relay publishes it to the job queue.
type OutboxMessage struct {
	ID            int64          `gorm:"primaryKey;autoIncrement"`
	EventType     string         `gorm:"type:varchar(40);not null"`
	BillingID     uuid.UUID      `gorm:"type:uuid;not null;index"`
	Recipient     string         `gorm:"type:varchar(200);not null;default:''"`
	Payload       datatypes.JSON `gorm:"type:jsonb;not null"`
	Status        string         `gorm:"type:varchar(20);not null;default:'pending'"`
	Attempts      int            `gorm:"not null;default:0"`
	NextAttemptAt time.Time      `gorm:"not null"`
	LockedAt      *time.Time
	LockedBy      *string `gorm:"type:varchar(100)"`
	LastError     *string
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

func (OutboxMessage) TableName() string { return "notification_outbox" }
