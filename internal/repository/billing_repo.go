package repository

import (
	"context"
	"time"

	"tablepos/internal/apierror"
	"tablepos/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BillingRepository is the Billing Store. Status transitions are idempotent:
// a billing already in the target state is left as is without error.
type BillingRepository interface {
	Create(ctx context.Context, tx *gorm.DB, b *model.Billing) error
	FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.Billing, error)
	// FindForUpdate locks the billing row until tx ends.
	FindForUpdate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.Billing, error)
	UpdateTotals(ctx context.Context, tx *gorm.DB, id uuid.UUID, subtotal, discount, tax, total decimal.Decimal) error
	Close(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) error
	MarkPaid(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) error
	LinkSession(ctx context.Context, tx *gorm.DB, billingID, sessionID uuid.UUID) error
}

type billingRepo struct{ db *gorm.DB }

func NewBillingRepository(db *gorm.DB) BillingRepository { return &billingRepo{db: db} }

func (r *billingRepo) Create(ctx context.Context, tx *gorm.DB, b *model.Billing) error {
	b.Status = model.BillingOpen
	b.Subtotal = decimal.Zero
	b.TaxAmount = decimal.Zero
	b.DiscountAmount = decimal.Zero
	b.TotalAmount = decimal.Zero
	return translateError(conn(ctx, r.db, tx).Create(b).Error, "")
}

func (r *billingRepo) FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.Billing, error) {
	return r.find(conn(ctx, r.db, tx), id)
}

func (r *billingRepo) FindForUpdate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.Billing, error) {
	return r.find(conn(ctx, r.db, tx).Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (r *billingRepo) find(q *gorm.DB, id uuid.UUID) (*model.Billing, error) {
	var b model.Billing
	err := q.First(&b, "id = ?", id).Error
	if absent(err) {
		return nil, nil
	}
	if err != nil {
		return nil, translateError(err, "")
	}
	return &b, nil
}

func (r *billingRepo) UpdateTotals(ctx context.Context, tx *gorm.DB, id uuid.UUID, subtotal, discount, tax, total decimal.Decimal) error {
	res := conn(ctx, r.db, tx).Model(&model.Billing{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"subtotal":        subtotal,
			"discount_amount": discount,
			"tax_amount":      tax,
			"total_amount":    total,
			"updated_at":      time.Now().UTC(),
		})
	if res.Error != nil {
		return translateError(res.Error, "")
	}
	if res.RowsAffected == 0 {
		return apierror.NotFound("billing not found")
	}
	return nil
}

// Close moves an open billing to closed. A paid billing stays paid.
func (r *billingRepo) Close(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) error {
	res := conn(ctx, r.db, tx).Model(&model.Billing{}).
		Where("id = ? AND status = ?", id, model.BillingOpen).
		Updates(map[string]interface{}{
			"status":     model.BillingClosed,
			"closed_at":  at,
			"updated_at": at,
		})
	return r.afterTransition(ctx, tx, id, res)
}

// MarkPaid is allowed from open and closed.
func (r *billingRepo) MarkPaid(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) error {
	res := conn(ctx, r.db, tx).Model(&model.Billing{}).
		Where("id = ? AND status <> ?", id, model.BillingPaid).
		Updates(map[string]interface{}{
			"status":     model.BillingPaid,
			"paid_at":    at,
			"updated_at": at,
		})
	return r.afterTransition(ctx, tx, id, res)
}

// afterTransition tells "already in target state" apart from "no such billing".
func (r *billingRepo) afterTransition(ctx context.Context, tx *gorm.DB, id uuid.UUID, res *gorm.DB) error {
	if res.Error != nil {
		return translateError(res.Error, "")
	}
	if res.RowsAffected > 0 {
		return nil
	}
	b, err := r.FindByID(ctx, tx, id)
	if err != nil {
		return err
	}
	if b == nil {
		return apierror.NotFound("billing not found")
	}
	return nil
}

func (r *billingRepo) LinkSession(ctx context.Context, tx *gorm.DB, billingID, sessionID uuid.UUID) error {
	link := &model.BillingSession{BillingID: billingID, SessionID: sessionID}
	return translateError(conn(ctx, r.db, tx).Create(link).Error, "session already linked to a billing")
}
