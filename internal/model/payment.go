package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Payment is one immutable ledger line. Rows are never updated or deleted;
// corrections are new rows.
type Payment struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SessionID      uuid.UUID       `gorm:"type:uuid;not null;index"`
	BillingID      uuid.UUID       `gorm:"type:uuid;not null;index"`
	AmountPaid     decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	PaymentMethod  string          `gorm:"type:varchar(30);not null"`
	DiscountAmount decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	DiscountReason *string         `gorm:"type:varchar(200)"`
	TipAmount      decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	// ExternalRef is the caller's idempotency token, unique per billing.
	ExternalRef *string        `gorm:"type:varchar(120)"`
	Metadata    datatypes.JSON `gorm:"type:jsonb"`
	CreatedBy   *string        `gorm:"type:varchar(64)"`
	CreatedAt   time.Time
}

func (Payment) TableName() string { return "payments" }

// Payment log actions.
const (
	LogPaymentRegistered = "payment_registered"
	LogDiscountApplied   = "discount_applied"
)

// PaymentLog is the write-once audit trail of ledger-affecting actions.
type PaymentLog struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	BillingID uuid.UUID      `gorm:"type:uuid;not null;index"`
	SessionID uuid.UUID      `gorm:"type:uuid;not null"`
	PaymentID *uuid.UUID     `gorm:"type:uuid"`
	Action    string         `gorm:"type:varchar(40);not null"`
	OldValue  datatypes.JSON `gorm:"type:jsonb"`
	NewValue  datatypes.JSON `gorm:"type:jsonb"`
	ServerID  *string        `gorm:"type:varchar(64)"`
	CreatedAt time.Time
}

func (PaymentLog) TableName() string { return "payment_logs" }
