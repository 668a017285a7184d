package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order is written by the order-management service and only read here.
// Total equals the sum of LineTotal over its non-deleted items.
type Order struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SessionID      uuid.UUID       `gorm:"type:uuid;not null;index"`
	BillingID      *uuid.UUID      `gorm:"type:uuid;index"`
	TableID        *string         `gorm:"type:varchar(40)"`
	Status         string          `gorm:"type:varchar(20);not null"`
	DeliveryStatus string          `gorm:"type:varchar(20);not null;default:'pending'"`
	Subtotal       decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	DiscountTotal  decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	TaxTotal       decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	Total          decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	CreatedAt      time.Time
}

func (Order) TableName() string { return "orders" }

// OrderItem IDs are sequential, which gives a stable per-order item order.
type OrderItem struct {
	ID           int64           `gorm:"primaryKey;autoIncrement"`
	OrderID      uuid.UUID       `gorm:"type:uuid;not null;index"`
	MenuItemID   string          `gorm:"type:varchar(64);not null"`
	Name         string          `gorm:"type:varchar(200);not null"`
	Quantity     int             `gorm:"not null"`
	UnitPrice    decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	BasePrice    decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	PriceDelta   decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	LineDiscount decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	LineTotal    decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	IsDeleted    bool            `gorm:"not null;default:false"`
}

func (OrderItem) TableName() string { return "order_items" }
