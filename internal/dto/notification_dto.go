package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// NotificationEvent is the outbox payload and the job body the notification
// worker delivers. OutboxID is set by the relay when it publishes the row.
type NotificationEvent struct {
	OutboxID   int64           `json:"outboxId"`
	EventType  string          `json:"eventType"`
	BillingID  string          `json:"billingId"`
	SessionID  string          `json:"sessionId"`
	Recipient  string          `json:"recipient,omitempty"`
	Message    string          `json:"message"`
	TotalDue   decimal.Decimal `json:"totalDue"`
	TotalPaid  decimal.Decimal `json:"totalPaid"`
	Status     string          `json:"status"`
	OccurredAt time.Time       `json:"occurredAt"`
}
