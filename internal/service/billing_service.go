package service

import (
	"context"
	"time"

	"tablepos/internal/apierror"
	"tablepos/internal/dto"
	"tablepos/internal/model"
	"tablepos/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BillingTotals are the server-computed money fields of a billing.
type BillingTotals struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
	Profit   decimal.Decimal
}

// BillingService assembles the consolidated billing view and is the only
// writer of the denormalized billing totals.
type BillingService interface {
	CreateBilling(ctx context.Context, req dto.CreateBillingRequest) (*dto.CreateBillingResponse, error)
	// GetBilling refreshes the stored totals and returns the view, or nil
	// when the billing does not exist.
	GetBilling(ctx context.Context, id uuid.UUID) (*dto.BillingView, error)
	CloseBilling(ctx context.Context, id uuid.UUID) (*dto.BillingView, error)
	Receipt(ctx context.Context, id uuid.UUID) (*dto.ReceiptResponse, error)
	GetActiveSession(ctx context.Context, tableLabel string) (*dto.SessionView, error)

	// ComputeTotals derives the totals of b from its sessions' orders without
	// writing anything.
	ComputeTotals(ctx context.Context, tx *gorm.DB, b *model.Billing) (BillingTotals, error)
	// RefreshTotals computes, persists and copies the totals into b. The
	// caller holds the billing row lock inside tx.
	RefreshTotals(ctx context.Context, tx *gorm.DB, b *model.Billing) (BillingTotals, error)
}

type billingService struct {
	tx         repository.Transactor
	billings   repository.BillingRepository
	sessions   repository.SessionRepository
	payments   repository.PaymentRepository
	aggregator OrderAggregator
	retry      RetryPolicy
}

func NewBillingService(
	tx repository.Transactor,
	billings repository.BillingRepository,
	sessions repository.SessionRepository,
	payments repository.PaymentRepository,
	aggregator OrderAggregator,
	retry RetryPolicy,
) BillingService {
	return &billingService{
		tx:         tx,
		billings:   billings,
		sessions:   sessions,
		payments:   payments,
		aggregator: aggregator,
		retry:      retry,
	}
}

// ── CreateBilling ─────────────────────────────────────────────────────────────
// Billing, first session and join row commit together or not at all.

func (s *billingService) CreateBilling(ctx context.Context, req dto.CreateBillingRequest) (*dto.CreateBillingResponse, error) {
	if req.TableID == "" || req.ServerID == "" || req.ServerName == "" {
		return nil, apierror.Validation("tableId, serverId and serverName are required", nil)
	}

	var billing model.Billing
	var session model.TableSession
	err := s.tx.WithinTx(ctx, func(tx *gorm.DB) error {
		billing = model.Billing{
			CustomerName:    req.CustomerName,
			CustomerContact: req.CustomerContact,
		}
		if err := s.billings.Create(ctx, tx, &billing); err != nil {
			return err
		}
		session = model.TableSession{
			TableLabel: req.TableID,
			ServerID:   req.ServerID,
			ServerName: req.ServerName,
			BillingID:  billing.ID,
		}
		if err := s.sessions.CreateSession(ctx, tx, &session); err != nil {
			return err
		}
		return s.billings.LinkSession(ctx, tx, billing.ID, session.ID)
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("billing_id", billing.ID.String()).
		Str("session_id", session.ID.String()).
		Str("table", session.TableLabel).
		Msg("billing opened")

	return &dto.CreateBillingResponse{
		BillingID: billing.ID.String(),
		SessionID: session.ID.String(),
	}, nil
}

// ── GetBilling ────────────────────────────────────────────────────────────────

func (s *billingService) GetBilling(ctx context.Context, id uuid.UUID) (*dto.BillingView, error) {
	var view *dto.BillingView
	err := withReadRetry(ctx, s.retry, "get billing", func() error {
		view = nil
		return s.tx.WithinTx(ctx, func(tx *gorm.DB) error {
			b, err := s.billings.FindForUpdate(ctx, tx, id)
			if err != nil || b == nil {
				return err
			}
			v, totals, err := s.assemble(ctx, tx, b)
			if err != nil {
				return err
			}
			if err := s.persistTotals(ctx, tx, b, totals); err != nil {
				return err
			}
			applyTotals(v, totals)
			view = v
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// ── CloseBilling ──────────────────────────────────────────────────────────────
// Closing ends every active session of the billing. Payments are still
// accepted afterwards.

func (s *billingService) CloseBilling(ctx context.Context, id uuid.UUID) (*dto.BillingView, error) {
	err := s.tx.WithinTx(ctx, func(tx *gorm.DB) error {
		b, err := s.billings.FindForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if b == nil {
			return apierror.NotFound("billing not found")
		}
		now := time.Now().UTC()
		if err := s.billings.Close(ctx, tx, id, now); err != nil {
			return err
		}
		closed, err := s.sessions.CloseActiveByBilling(ctx, tx, id, now)
		if err != nil {
			return err
		}
		log.Info().Str("billing_id", id.String()).Int64("sessions_closed", closed).Msg("billing closed")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetBilling(ctx, id)
}

// ── Receipt ───────────────────────────────────────────────────────────────────

func (s *billingService) Receipt(ctx context.Context, id uuid.UUID) (*dto.ReceiptResponse, error) {
	view, err := s.GetBilling(ctx, id)
	if err != nil {
		return nil, err
	}
	if view == nil {
		return nil, apierror.NotFound("billing not found")
	}

	var paid repository.PaymentTotals
	err = withReadRetry(ctx, s.retry, "receipt payments", func() error {
		var err error
		paid, err = s.payments.Totals(ctx, nil, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	// items in order-placement sequence across every table of the billing
	var agg *dto.Aggregation
	err = withReadRetry(ctx, s.retry, "receipt orders", func() error {
		var err error
		agg, err = s.aggregator.AggregateBilling(ctx, nil, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	items := []dto.ItemLine{}
	for _, o := range agg.Orders {
		for _, it := range o.Items {
			items = append(items, dto.ItemLine{
				ItemID:    it.ID,
				Name:      it.Name,
				Quantity:  it.Quantity,
				Price:     it.UnitPrice,
				LineTotal: it.LineTotal,
			})
		}
	}

	return &dto.ReceiptResponse{
		BillingID:      view.ID,
		CustomerName:   view.CustomerName,
		Status:         view.Status,
		Items:          items,
		Subtotal:       view.Subtotal,
		TaxAmount:      view.TaxAmount,
		DiscountAmount: view.DiscountAmount,
		TotalAmount:    view.TotalAmount,
		TotalPaid:      paid.Paid,
		TotalTip:       paid.Tip,
	}, nil
}

// ── GetActiveSession ──────────────────────────────────────────────────────────

func (s *billingService) GetActiveSession(ctx context.Context, tableLabel string) (*dto.SessionView, error) {
	var view *dto.SessionView
	err := withReadRetry(ctx, s.retry, "get active session", func() error {
		sess, err := s.sessions.GetActiveSessionForTable(ctx, tableLabel)
		if err != nil || sess == nil {
			view = nil
			return err
		}
		v, err := s.sessionView(ctx, nil, *sess)
		if err != nil {
			return err
		}
		view = &v
		return nil
	})
	return view, err
}

// ── Totals ────────────────────────────────────────────────────────────────────

func (s *billingService) ComputeTotals(ctx context.Context, tx *gorm.DB, b *model.Billing) (BillingTotals, error) {
	_, totals, err := s.assemble(ctx, tx, b)
	return totals, err
}

func (s *billingService) RefreshTotals(ctx context.Context, tx *gorm.DB, b *model.Billing) (BillingTotals, error) {
	totals, err := s.ComputeTotals(ctx, tx, b)
	if err != nil {
		return BillingTotals{}, err
	}
	return totals, s.persistTotals(ctx, tx, b, totals)
}

// persistTotals writes totals only when they differ from the stored row.
func (s *billingService) persistTotals(ctx context.Context, tx *gorm.DB, b *model.Billing, t BillingTotals) error {
	if b.Subtotal.Equal(t.Subtotal) && b.TaxAmount.Equal(t.Tax) &&
		b.DiscountAmount.Equal(t.Discount) && b.TotalAmount.Equal(t.Total) {
		return nil
	}
	if err := s.billings.UpdateTotals(ctx, tx, b.ID, t.Subtotal, t.Discount, t.Tax, t.Total); err != nil {
		return err
	}
	b.Subtotal, b.TaxAmount, b.DiscountAmount, b.TotalAmount = t.Subtotal, t.Tax, t.Discount, t.Total
	return nil
}

// assemble builds the billing view from its sessions and their orders and
// derives the totals:
//
//	subtotal = Σ session_total
//	tax      = Σ order.tax_total
//	discount = stored discount, clamped to subtotal + tax
//	total    = subtotal - discount + tax
func (s *billingService) assemble(ctx context.Context, tx *gorm.DB, b *model.Billing) (*dto.BillingView, BillingTotals, error) {
	sessions, err := s.sessions.ListByBilling(ctx, tx, b.ID)
	if err != nil {
		return nil, BillingTotals{}, err
	}

	view := toBillingView(b)
	t := BillingTotals{Subtotal: decimal.Zero, Tax: decimal.Zero, Profit: decimal.Zero}
	for _, sess := range sessions {
		sv, err := s.sessionView(ctx, tx, sess)
		if err != nil {
			return nil, BillingTotals{}, err
		}
		t.Subtotal = t.Subtotal.Add(sv.SessionTotal)
		for _, o := range sv.Orders {
			t.Tax = t.Tax.Add(o.TaxTotal)
			t.Profit = t.Profit.Add(o.Profit)
		}
		view.Sessions = append(view.Sessions, sv)
	}

	t.Discount = clampDiscount(b.DiscountAmount, t.Subtotal.Add(t.Tax))
	t.Total = t.Subtotal.Sub(t.Discount).Add(t.Tax)
	return view, t, nil
}

func (s *billingService) sessionView(ctx context.Context, tx *gorm.DB, sess model.TableSession) (dto.SessionView, error) {
	agg, err := s.aggregator.AggregateSession(ctx, tx, sess.ID)
	if err != nil {
		return dto.SessionView{}, err
	}
	return dto.SessionView{
		ID:                 sess.ID.String(),
		TableLabel:         sess.TableLabel,
		ServerID:           sess.ServerID,
		ServerName:         sess.ServerName,
		Status:             sess.Status,
		StartTime:          sess.StartTime,
		EndTime:            sess.EndTime,
		OriginalTableID:    sess.OriginalTableID,
		DestinationTableID: sess.DestinationTableID,
		MovedAt:            sess.MovedAt,
		OrdersCount:        len(agg.Orders),
		SessionTotal:       agg.Totals.Subtotal,
		Orders:             agg.Orders,
	}, nil
}

// clampDiscount keeps discount within [0, ceiling].
func clampDiscount(discount, ceiling decimal.Decimal) decimal.Decimal {
	if discount.IsNegative() {
		return decimal.Zero
	}
	if discount.GreaterThan(ceiling) {
		return ceiling
	}
	return discount
}

func toBillingView(b *model.Billing) *dto.BillingView {
	return &dto.BillingView{
		ID:              b.ID.String(),
		CustomerName:    b.CustomerName,
		CustomerContact: b.CustomerContact,
		Status:          b.Status,
		Subtotal:        b.Subtotal,
		TaxAmount:       b.TaxAmount,
		DiscountAmount:  b.DiscountAmount,
		TotalAmount:     b.TotalAmount,
		ProfitTotal:     decimal.Zero,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
		ClosedAt:        b.ClosedAt,
		PaidAt:          b.PaidAt,
		Sessions:        []dto.SessionView{},
	}
}

func applyTotals(v *dto.BillingView, t BillingTotals) {
	v.Subtotal = t.Subtotal
	v.TaxAmount = t.Tax
	v.DiscountAmount = t.Discount
	v.TotalAmount = t.Total
	v.ProfitTotal = t.Profit
}
