package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Billing status values.
const (
	BillingOpen   = "open"
	BillingClosed = "closed"
	BillingPaid   = "paid"
)

// Billing is the financial aggregate for everything a party owes across one
// or more table sessions.
// TotalAmount = Subtotal - DiscountAmount + TaxAmount, always recomputed
// server-side from the orders of the linked sessions.
type Billing struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CustomerName    *string         `gorm:"type:varchar(120)"`
	CustomerContact *string         `gorm:"type:varchar(120)"`
	Subtotal        decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	TaxAmount       decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	DiscountAmount  decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	TotalAmount     decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	Status          string          `gorm:"type:varchar(20);not null;default:'open'"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ClosedAt        *time.Time
	PaidAt          *time.Time
}

func (Billing) TableName() string { return "billings" }

// BillingSession links a session to its billing. A billing owns many
// sessions (moves, multi-table parties); a session has exactly one billing.
type BillingSession struct {
	BillingID uuid.UUID `gorm:"type:uuid;primaryKey"`
	SessionID uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time
}

func (BillingSession) TableName() string { return "billing_sessions" }
