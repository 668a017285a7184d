package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// ─── Request DTOs ────────────────────────────────────────────────────────────

type CreateBillingRequest struct {
	CustomerName    *string `json:"customerName"    validate:"omitempty,max=120"`
	CustomerContact *string `json:"customerContact" validate:"omitempty,max=120"`
	TableID         string  `json:"tableId"         validate:"required,max=40"`
	ServerID        string  `json:"serverId"        validate:"required,max=64"`
	ServerName      string  `json:"serverName"      validate:"required,max=120"`
}

type MoveSessionRequest struct {
	FromTableID string `json:"fromTableId" validate:"required,max=40"`
	ToTableID   string `json:"toTableId"   validate:"required,max=40"`
	ServerID    string `json:"serverId"    validate:"required,max=64"`
	ServerName  string `json:"serverName"  validate:"required,max=120"`
}

// ─── Response DTOs ───────────────────────────────────────────────────────────

type CreateBillingResponse struct {
	BillingID string `json:"billingId"`
	SessionID string `json:"sessionId"`
}

type MoveSessionResponse struct {
	Success      bool   `json:"success"`
	NewSessionID string `json:"newSessionId"`
}

type OrderItemView struct {
	ID           int64           `json:"id"`
	MenuItemID   string          `json:"menuItemId"`
	Name         string          `json:"name"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unitPrice"`
	BasePrice    decimal.Decimal `json:"basePrice"`
	PriceDelta   decimal.Decimal `json:"priceDelta"`
	LineDiscount decimal.Decimal `json:"lineDiscount"`
	LineTotal    decimal.Decimal `json:"lineTotal"`
	Profit       decimal.Decimal `json:"profit"`
}

type OrderView struct {
	ID             string          `json:"id"`
	SessionID      string          `json:"sessionId"`
	BillingID      *string         `json:"billingId,omitempty"`
	TableID        *string         `json:"tableId,omitempty"`
	Status         string          `json:"status"`
	DeliveryStatus string          `json:"deliveryStatus"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountTotal  decimal.Decimal `json:"discountTotal"`
	TaxTotal       decimal.Decimal `json:"taxTotal"`
	Total          decimal.Decimal `json:"total"`
	// ItemsTotal is the sum of non-deleted line totals as computed here;
	// it matches Total when the order service keeps its roll-up consistent.
	ItemsTotal decimal.Decimal `json:"itemsTotal"`
	Profit     decimal.Decimal `json:"profit"`
	CreatedAt  time.Time       `json:"createdAt"`
	Items      []OrderItemView `json:"items"`
}

// AggregateTotals are decimal-exact folds over a set of orders.
type AggregateTotals struct {
	Subtotal      decimal.Decimal `json:"subtotal"`
	DiscountTotal decimal.Decimal `json:"discountTotal"`
	TaxTotal      decimal.Decimal `json:"taxTotal"`
	Total         decimal.Decimal `json:"total"`
	ProfitTotal   decimal.Decimal `json:"profitTotal"`
}

type Aggregation struct {
	Orders []OrderView     `json:"orders"`
	Totals AggregateTotals `json:"totals"`
}

type SessionView struct {
	ID                 string          `json:"id"`
	TableLabel         string          `json:"tableLabel"`
	ServerID           string          `json:"serverId"`
	ServerName         string          `json:"serverName"`
	Status             string          `json:"status"`
	StartTime          time.Time       `json:"startTime"`
	EndTime            *time.Time      `json:"endTime,omitempty"`
	OriginalTableID    string          `json:"originalTableId"`
	DestinationTableID *string         `json:"destinationTableId,omitempty"`
	MovedAt            *time.Time      `json:"movedAt,omitempty"`
	OrdersCount        int             `json:"ordersCount"`
	SessionTotal       decimal.Decimal `json:"sessionTotal"`
	Orders             []OrderView     `json:"orders"`
}

type BillingView struct {
	ID              string          `json:"id"`
	CustomerName    *string         `json:"customerName,omitempty"`
	CustomerContact *string         `json:"customerContact,omitempty"`
	Status          string          `json:"status"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	TaxAmount       decimal.Decimal `json:"taxAmount"`
	DiscountAmount  decimal.Decimal `json:"discountAmount"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	ProfitTotal     decimal.Decimal `json:"profitTotal"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	ClosedAt        *time.Time      `json:"closedAt,omitempty"`
	PaidAt          *time.Time      `json:"paidAt,omitempty"`
	Sessions        []SessionView   `json:"sessions"`
}

// ItemLine is the flattened line handed to the receipt printer.
type ItemLine struct {
	ItemID    int64           `json:"itemId"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	LineTotal decimal.Decimal `json:"lineTotal"`
}

type ReceiptResponse struct {
	BillingID      string          `json:"billingId"`
	CustomerName   *string         `json:"customerName,omitempty"`
	Status         string          `json:"status"`
	Items          []ItemLine      `json:"items"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	TaxAmount      decimal.Decimal `json:"taxAmount"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	TotalPaid      decimal.Decimal `json:"totalPaid"`
	TotalTip       decimal.Decimal `json:"totalTip"`
}
