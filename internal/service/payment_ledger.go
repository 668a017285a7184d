package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tablepos/internal/apierror"
	"tablepos/internal/dto"
	"tablepos/internal/model"
	"tablepos/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PaymentLedger applies payment lines and discounts to a billing and derives
// the ledger from the stored numbers on every read.
//
// Status:
//
//	paid == 0    -> open
//	paid <  due  -> partially_paid
//	paid == due  -> paid
//	paid >  due  -> overpaid
type PaymentLedger interface {
	RegisterPayment(ctx context.Context, req dto.RegisterPaymentRequest) (*dto.BillLedger, error)
	ApplyDiscount(ctx context.Context, billingID, sessionID uuid.UUID, amount decimal.Decimal, reason, by *string) (*dto.BillLedger, error)
	GetLedger(ctx context.Context, billingID uuid.UUID) (*dto.BillLedger, error)
	ListPayments(ctx context.Context, billingID uuid.UUID) ([]dto.PaymentView, error)
	ListLogs(ctx context.Context, billingID uuid.UUID, q dto.PageQuery) (*dto.Page[dto.PaymentLogView], error)
}

type paymentLedger struct {
	tx        repository.Transactor
	billings  repository.BillingRepository
	sessions  repository.SessionRepository
	payments  repository.PaymentRepository
	outbox    repository.OutboxRepository
	assembler BillingService
	retry     RetryPolicy
}

func NewPaymentLedger(
	tx repository.Transactor,
	billings repository.BillingRepository,
	sessions repository.SessionRepository,
	payments repository.PaymentRepository,
	outbox repository.OutboxRepository,
	assembler BillingService,
	retry RetryPolicy,
) PaymentLedger {
	return &paymentLedger{
		tx:        tx,
		billings:  billings,
		sessions:  sessions,
		payments:  payments,
		outbox:    outbox,
		assembler: assembler,
		retry:     retry,
	}
}

// ── RegisterPayment ───────────────────────────────────────────────────────────
// All lines, their log entries, folded line discounts, the paid transition
// and the outbox row commit in one transaction. Any failure rolls back every
// line. Duplicate external_ref (inside the request or already stored for the
// billing) is a Conflict.

func (l *paymentLedger) RegisterPayment(ctx context.Context, req dto.RegisterPaymentRequest) (*dto.BillLedger, error) {
	billingID, err := parseID(req.BillingID, "billingId")
	if err != nil {
		return nil, err
	}
	sessionID, err := parseID(req.SessionID, "sessionId")
	if err != nil {
		return nil, err
	}
	if err := validateLines(req.Lines); err != nil {
		return nil, err
	}
	if req.TotalDueHint != nil && !isCents(*req.TotalDueHint) {
		return nil, apierror.Validation("totalDueHint has more than 2 decimal places",
			map[string]string{"totalDueHint": "scale"})
	}

	var ledger *dto.BillLedger
	var warning *apierror.ReconciliationWarning
	err = l.tx.WithinTx(ctx, func(tx *gorm.DB) error {
		b, err := l.lockBilling(ctx, tx, billingID, sessionID)
		if err != nil {
			return err
		}
		totals, err := l.assembler.RefreshTotals(ctx, tx, b)
		if err != nil {
			return err
		}

		if req.TotalDueHint != nil && !req.TotalDueHint.Equal(totals.Total) {
			warning = &apierror.ReconciliationWarning{
				Field:  "totalDue",
				Client: req.TotalDueHint.StringFixed(2),
				Server: totals.Total.StringFixed(2),
			}
		}

		for _, line := range req.Lines {
			if line.ExternalRef == nil {
				continue
			}
			exists, err := l.payments.ExistsExternalRef(ctx, tx, billingID, *line.ExternalRef)
			if err != nil {
				return err
			}
			if exists {
				return apierror.Conflict("duplicate external_ref " + *line.ExternalRef + " for this billing")
			}
		}

		lineDiscount := decimal.Zero
		for _, line := range req.Lines {
			lineDiscount = lineDiscount.Add(line.DiscountAmount)
		}
		if lineDiscount.IsPositive() {
			if totals, err = l.addDiscount(ctx, tx, b, totals, lineDiscount); err != nil {
				return err
			}
		}

		before, err := l.payments.Totals(ctx, tx, billingID)
		if err != nil {
			return err
		}
		paid := before.Paid
		for _, line := range req.Lines {
			p, err := l.createPayment(ctx, tx, billingID, sessionID, line, req.CreatedBy)
			if err != nil {
				return err
			}
			next := paid.Add(p.AmountPaid)
			entry := &model.PaymentLog{
				BillingID: billingID,
				SessionID: sessionID,
				PaymentID: &p.ID,
				Action:    model.LogPaymentRegistered,
				OldValue: snapshot(map[string]interface{}{
					"totalPaid": paid,
					"status":    deriveLedgerStatus(totals.Total, paid),
				}),
				NewValue: snapshot(map[string]interface{}{
					"paymentId":     p.ID,
					"amountPaid":    p.AmountPaid,
					"paymentMethod": p.PaymentMethod,
					"tipAmount":     p.TipAmount,
					"externalRef":   p.ExternalRef,
					"totalPaid":     next,
					"status":        deriveLedgerStatus(totals.Total, next),
				}),
				ServerID: req.CreatedBy,
			}
			if err := l.payments.CreateLog(ctx, tx, entry); err != nil {
				return err
			}
			paid = next
		}

		after, err := l.payments.Totals(ctx, tx, billingID)
		if err != nil {
			return err
		}
		ledger = buildLedger(billingID, sessionID, totals, after)

		event := model.EventPaymentRegistered
		if ledger.Status == dto.LedgerPaid || ledger.Status == dto.LedgerOverpaid {
			if err := l.billings.MarkPaid(ctx, tx, billingID, time.Now().UTC()); err != nil {
				return err
			}
			event = model.EventBillingPaid
		}
		msg := fmt.Sprintf("%d payment line(s) registered: %s paid of %s due",
			len(req.Lines), ledger.TotalPaid.StringFixed(2), ledger.TotalDue.StringFixed(2))
		return l.enqueue(ctx, tx, b, event, ledger, msg)
	})
	if err != nil {
		return nil, err
	}

	if warning != nil {
		log.Warn().
			Str("billing_id", billingID.String()).
			Str("client_total_due", warning.Client).
			Str("server_total_due", warning.Server).
			Msg("total due hint does not match server total, server value used")
		ledger.ReconciliationWarning = warning
	}
	log.Info().
		Str("billing_id", billingID.String()).
		Str("session_id", sessionID.String()).
		Int("lines", len(req.Lines)).
		Str("total_paid", ledger.TotalPaid.String()).
		Str("status", ledger.Status).
		Msg("payment registered")
	return ledger, nil
}

// ── ApplyDiscount ─────────────────────────────────────────────────────────────
// Additive; the part that would push total due below zero is dropped.

func (l *paymentLedger) ApplyDiscount(ctx context.Context, billingID, sessionID uuid.UUID, amount decimal.Decimal, reason, by *string) (*dto.BillLedger, error) {
	if !amount.IsPositive() {
		return nil, apierror.Validation("discountAmount must be greater than zero",
			map[string]string{"discountAmount": "gt"})
	}
	if !isCents(amount) {
		return nil, apierror.Validation("discountAmount has more than 2 decimal places",
			map[string]string{"discountAmount": "scale"})
	}

	var ledger *dto.BillLedger
	err := l.tx.WithinTx(ctx, func(tx *gorm.DB) error {
		b, err := l.lockBilling(ctx, tx, billingID, sessionID)
		if err != nil {
			return err
		}
		totals, err := l.assembler.RefreshTotals(ctx, tx, b)
		if err != nil {
			return err
		}

		old := totals.Discount
		if totals, err = l.addDiscount(ctx, tx, b, totals, amount); err != nil {
			return err
		}

		entry := &model.PaymentLog{
			BillingID: billingID,
			SessionID: sessionID,
			Action:    model.LogDiscountApplied,
			OldValue:  snapshot(map[string]interface{}{"discountAmount": old}),
			NewValue: snapshot(map[string]interface{}{
				"discountAmount": totals.Discount,
				"requested":      amount,
				"applied":        totals.Discount.Sub(old),
				"reason":         reason,
			}),
			ServerID: by,
		}
		if err := l.payments.CreateLog(ctx, tx, entry); err != nil {
			return err
		}

		paid, err := l.payments.Totals(ctx, tx, billingID)
		if err != nil {
			return err
		}
		ledger = buildLedger(billingID, sessionID, totals, paid)
		if ledger.Status == dto.LedgerPaid || ledger.Status == dto.LedgerOverpaid {
			if err := l.billings.MarkPaid(ctx, tx, billingID, time.Now().UTC()); err != nil {
				return err
			}
		}
		msg := fmt.Sprintf("discount of %s applied, total due now %s",
			totals.Discount.Sub(old).StringFixed(2), ledger.TotalDue.StringFixed(2))
		return l.enqueue(ctx, tx, b, model.EventDiscountApplied, ledger, msg)
	})
	if err != nil {
		return nil, err
	}
	return ledger, nil
}

// ── Reads ─────────────────────────────────────────────────────────────────────

func (l *paymentLedger) GetLedger(ctx context.Context, billingID uuid.UUID) (*dto.BillLedger, error) {
	var ledger *dto.BillLedger
	err := withReadRetry(ctx, l.retry, "get ledger", func() error {
		b, err := l.requireBilling(ctx, billingID)
		if err != nil {
			return err
		}
		totals, err := l.assembler.ComputeTotals(ctx, nil, b)
		if err != nil {
			return err
		}
		paid, err := l.payments.Totals(ctx, nil, billingID)
		if err != nil {
			return err
		}
		sessions, err := l.sessions.ListByBilling(ctx, nil, billingID)
		if err != nil {
			return err
		}
		sessionID := uuid.Nil
		if n := len(sessions); n > 0 {
			sessionID = sessions[n-1].ID
		}
		ledger = buildLedger(billingID, sessionID, totals, paid)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ledger, nil
}

func (l *paymentLedger) ListPayments(ctx context.Context, billingID uuid.UUID) ([]dto.PaymentView, error) {
	var out []dto.PaymentView
	err := withReadRetry(ctx, l.retry, "list payments", func() error {
		if _, err := l.requireBilling(ctx, billingID); err != nil {
			return err
		}
		payments, err := l.payments.ListByBilling(ctx, nil, billingID)
		if err != nil {
			return err
		}
		out = make([]dto.PaymentView, 0, len(payments))
		for _, p := range payments {
			out = append(out, toPaymentView(p))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (l *paymentLedger) ListLogs(ctx context.Context, billingID uuid.UUID, q dto.PageQuery) (*dto.Page[dto.PaymentLogView], error) {
	q.Normalize()
	var page *dto.Page[dto.PaymentLogView]
	err := withReadRetry(ctx, l.retry, "list payment logs", func() error {
		if _, err := l.requireBilling(ctx, billingID); err != nil {
			return err
		}
		logs, total, err := l.payments.ListLogs(ctx, billingID, q.Offset(), q.PageSize)
		if err != nil {
			return err
		}
		items := make([]dto.PaymentLogView, 0, len(logs))
		for _, e := range logs {
			items = append(items, toPaymentLogView(e))
		}
		page = &dto.Page[dto.PaymentLogView]{Items: items, Pagination: dto.NewPagination(q, total)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// lockBilling locks the billing row and checks the session belongs to it.
func (l *paymentLedger) lockBilling(ctx context.Context, tx *gorm.DB, billingID, sessionID uuid.UUID) (*model.Billing, error) {
	b, err := l.billings.FindForUpdate(ctx, tx, billingID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, apierror.NotFound("billing not found")
	}
	sess, err := l.sessions.FindByID(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, apierror.NotFound("session not found")
	}
	if sess.BillingID != b.ID {
		return nil, apierror.Validation("session does not belong to this billing",
			map[string]string{"sessionId": "billing_mismatch"})
	}
	return b, nil
}

func (l *paymentLedger) requireBilling(ctx context.Context, billingID uuid.UUID) (*model.Billing, error) {
	b, err := l.billings.FindByID(ctx, nil, billingID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, apierror.NotFound("billing not found")
	}
	return b, nil
}

// addDiscount adds requested to the billing discount, truncated to the
// remaining total so the total never goes negative, and persists it.
func (l *paymentLedger) addDiscount(ctx context.Context, tx *gorm.DB, b *model.Billing, t BillingTotals, requested decimal.Decimal) (BillingTotals, error) {
	remaining := t.Total
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	applied := decimal.Min(requested, remaining)
	if applied.LessThan(requested) {
		log.Warn().
			Str("billing_id", b.ID.String()).
			Str("requested", requested.String()).
			Str("applied", applied.String()).
			Msg("discount truncated to remaining total due")
	}

	t.Discount = t.Discount.Add(applied)
	t.Total = t.Subtotal.Sub(t.Discount).Add(t.Tax)
	if err := l.billings.UpdateTotals(ctx, tx, b.ID, t.Subtotal, t.Discount, t.Tax, t.Total); err != nil {
		return BillingTotals{}, err
	}
	b.DiscountAmount, b.TotalAmount = t.Discount, t.Total
	return t, nil
}

func (l *paymentLedger) createPayment(ctx context.Context, tx *gorm.DB, billingID, sessionID uuid.UUID, line dto.PaymentLineRequest, createdBy *string) (*model.Payment, error) {
	p := &model.Payment{
		SessionID:      sessionID,
		BillingID:      billingID,
		AmountPaid:     line.AmountPaid,
		PaymentMethod:  line.PaymentMethod,
		DiscountAmount: line.DiscountAmount,
		DiscountReason: line.DiscountReason,
		TipAmount:      line.TipAmount,
		ExternalRef:    line.ExternalRef,
		CreatedBy:      createdBy,
	}
	if line.Metadata != nil {
		p.Metadata = snapshot(line.Metadata)
	}
	if err := l.payments.Create(ctx, tx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (l *paymentLedger) enqueue(ctx context.Context, tx *gorm.DB, b *model.Billing, eventType string, ledger *dto.BillLedger, msg string) error {
	ev := dto.NotificationEvent{
		EventType:  eventType,
		BillingID:  ledger.BillingID,
		SessionID:  ledger.SessionID,
		Message:    msg,
		TotalDue:   ledger.TotalDue,
		TotalPaid:  ledger.TotalPaid,
		Status:     ledger.Status,
		OccurredAt: time.Now().UTC(),
	}
	if b.CustomerContact != nil {
		ev.Recipient = *b.CustomerContact
	}
	return l.outbox.Enqueue(ctx, tx, &model.OutboxMessage{
		EventType: eventType,
		BillingID: b.ID,
		Recipient: ev.Recipient,
		Payload:   snapshot(ev),
	})
}

// isCents reports whether a fits a DECIMAL(12,2) column without rounding.
func isCents(a decimal.Decimal) bool {
	return a.Equal(a.Round(2))
}

func validateLines(lines []dto.PaymentLineRequest) error {
	if len(lines) == 0 {
		return apierror.Validation("at least one payment line is required", map[string]string{"lines": "required"})
	}
	fields := map[string]string{}
	refs := map[string]bool{}
	for i, line := range lines {
		prefix := fmt.Sprintf("lines[%d].", i)
		switch {
		case !line.AmountPaid.IsPositive():
			fields[prefix+"amountPaid"] = "gt"
		case !isCents(line.AmountPaid):
			fields[prefix+"amountPaid"] = "scale"
		}
		if line.PaymentMethod == "" {
			fields[prefix+"paymentMethod"] = "required"
		}
		switch {
		case line.DiscountAmount.IsNegative():
			fields[prefix+"discountAmount"] = "min"
		case !isCents(line.DiscountAmount):
			fields[prefix+"discountAmount"] = "scale"
		}
		switch {
		case line.TipAmount.IsNegative():
			fields[prefix+"tipAmount"] = "min"
		case !isCents(line.TipAmount):
			fields[prefix+"tipAmount"] = "scale"
		}
		if line.ExternalRef != nil {
			if refs[*line.ExternalRef] {
				return apierror.Conflict("duplicate external_ref " + *line.ExternalRef + " in request")
			}
			refs[*line.ExternalRef] = true
		}
	}
	if len(fields) > 0 {
		return apierror.Validation("invalid payment lines", fields)
	}
	return nil
}

func deriveLedgerStatus(due, paid decimal.Decimal) string {
	switch {
	case paid.IsZero():
		return dto.LedgerOpen
	case paid.LessThan(due):
		return dto.LedgerPartiallyPaid
	case paid.Equal(due):
		return dto.LedgerPaid
	default:
		return dto.LedgerOverpaid
	}
}

func buildLedger(billingID, sessionID uuid.UUID, t BillingTotals, paid repository.PaymentTotals) *dto.BillLedger {
	balance := t.Total.Sub(paid.Paid)
	change := decimal.Zero
	if balance.IsNegative() {
		change = balance.Neg()
		balance = decimal.Zero
	}
	return &dto.BillLedger{
		BillingID:     billingID.String(),
		SessionID:     sessionID.String(),
		TotalDue:      t.Total,
		TotalDiscount: t.Discount,
		TotalPaid:     paid.Paid,
		TotalTip:      paid.Tip,
		BalanceDue:    balance,
		ChangeDue:     change,
		Status:        deriveLedgerStatus(t.Total, paid.Paid),
	}
}

func parseID(raw, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apierror.Validation("invalid "+field, map[string]string{field: "uuid"})
	}
	return id, nil
}

// snapshot marshals v for a jsonb column. The inputs are plain maps and
// structs of strings and decimals, which always marshal.
func snapshot(v interface{}) datatypes.JSON {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("snapshot marshal failed")
		return datatypes.JSON("null")
	}
	return datatypes.JSON(data)
}

func toPaymentView(p model.Payment) dto.PaymentView {
	return dto.PaymentView{
		ID:             p.ID.String(),
		SessionID:      p.SessionID.String(),
		BillingID:      p.BillingID.String(),
		AmountPaid:     p.AmountPaid,
		PaymentMethod:  p.PaymentMethod,
		DiscountAmount: p.DiscountAmount,
		DiscountReason: p.DiscountReason,
		TipAmount:      p.TipAmount,
		ExternalRef:    p.ExternalRef,
		Metadata:       json.RawMessage(p.Metadata),
		CreatedBy:      p.CreatedBy,
		CreatedAt:      p.CreatedAt,
	}
}

func toPaymentLogView(e model.PaymentLog) dto.PaymentLogView {
	v := dto.PaymentLogView{
		ID:        e.ID.String(),
		BillingID: e.BillingID.String(),
		SessionID: e.SessionID.String(),
		Action:    e.Action,
		OldValue:  json.RawMessage(e.OldValue),
		NewValue:  json.RawMessage(e.NewValue),
		ServerID:  e.ServerID,
		CreatedAt: e.CreatedAt,
	}
	if e.PaymentID != nil {
		id := e.PaymentID.String()
		v.PaymentID = &id
	}
	return v
}
