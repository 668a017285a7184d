package dto

import (
	"encoding/json"
	"time"

	"tablepos/internal/apierror"

	"github.com/shopspring/decimal"
)

// Ledger status values.
const (
	LedgerOpen          = "open"
	LedgerPartiallyPaid = "partially_paid"
	LedgerPaid          = "paid"
	LedgerOverpaid      = "overpaid"
)

// ─── Request DTOs ────────────────────────────────────────────────────────────

type PaymentLineRequest struct {
	AmountPaid     decimal.Decimal        `json:"amountPaid"     validate:"gt=0"`
	PaymentMethod  string                 `json:"paymentMethod"  validate:"required,max=30"`
	DiscountAmount decimal.Decimal        `json:"discountAmount" validate:"min=0"`
	DiscountReason *string                `json:"discountReason" validate:"omitempty,max=200"`
	TipAmount      decimal.Decimal        `json:"tipAmount"      validate:"min=0"`
	ExternalRef    *string                `json:"externalRef"    validate:"omitempty,max=120"`
	Metadata       map[string]interface{} `json:"metadata"`
}

type RegisterPaymentRequest struct {
	SessionID string `json:"sessionId" validate:"required,uuid"`
	BillingID string `json:"billingId" validate:"required,uuid"`
	// TotalDueHint is what the client believes is owed. The server value wins.
	TotalDueHint *decimal.Decimal     `json:"totalDueHint"`
	Lines        []PaymentLineRequest `json:"lines" validate:"required,min=1,dive"`
	// CreatedBy is filled from the authenticated staff member.
	CreatedBy *string `json:"-"`
}

type ApplyDiscountRequest struct {
	DiscountAmount decimal.Decimal `json:"discountAmount" validate:"gt=0"`
}

// ApplyDiscountParams is bound from the query string of the discount endpoint.
type ApplyDiscountParams struct {
	SessionID string  `form:"sessionId" validate:"required,uuid"`
	Reason    *string `form:"reason"    validate:"omitempty,max=200"`
	By        *string `form:"by"        validate:"omitempty,max=64"`
}

// ─── Response DTOs ───────────────────────────────────────────────────────────

// BillLedger is always recomputed from the billing row and its payments.
type BillLedger struct {
	BillingID     string          `json:"billingId"`
	SessionID     string          `json:"sessionId"`
	TotalDue      decimal.Decimal `json:"totalDue"`
	TotalDiscount decimal.Decimal `json:"totalDiscount"`
	TotalPaid     decimal.Decimal `json:"totalPaid"`
	TotalTip      decimal.Decimal `json:"totalTip"`
	BalanceDue    decimal.Decimal `json:"balanceDue"`
	ChangeDue     decimal.Decimal `json:"changeDue"`
	Status        string          `json:"status"`

	ReconciliationWarning *apierror.ReconciliationWarning `json:"reconciliationWarning,omitempty"`
}

type PaymentView struct {
	ID             string          `json:"id"`
	SessionID      string          `json:"sessionId"`
	BillingID      string          `json:"billingId"`
	AmountPaid     decimal.Decimal `json:"amountPaid"`
	PaymentMethod  string          `json:"paymentMethod"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	DiscountReason *string         `json:"discountReason,omitempty"`
	TipAmount      decimal.Decimal `json:"tipAmount"`
	ExternalRef    *string         `json:"externalRef,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	CreatedBy      *string         `json:"createdBy,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

type PaymentLogView struct {
	ID        string          `json:"id"`
	BillingID string          `json:"billingId"`
	SessionID string          `json:"sessionId"`
	PaymentID *string         `json:"paymentId,omitempty"`
	Action    string          `json:"action"`
	OldValue  json.RawMessage `json:"oldValue,omitempty"`
	NewValue  json.RawMessage `json:"newValue,omitempty"`
	ServerID  *string         `json:"serverId,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}
