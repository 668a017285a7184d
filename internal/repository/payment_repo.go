package repository

import (
	"context"

	"tablepos/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PaymentTotals are the sums over all payment rows of one billing.
type PaymentTotals struct {
	Paid decimal.Decimal
	Tip  decimal.Decimal
}

// PaymentRepository stores the append-only payment lines and their audit log.
// Rows are never updated or deleted.
type PaymentRepository interface {
	// Create returns Conflict when external_ref is already used for the billing.
	Create(ctx context.Context, tx *gorm.DB, p *model.Payment) error
	ExistsExternalRef(ctx context.Context, tx *gorm.DB, billingID uuid.UUID, ref string) (bool, error)
	ListByBilling(ctx context.Context, tx *gorm.DB, billingID uuid.UUID) ([]model.Payment, error)
	Totals(ctx context.Context, tx *gorm.DB, billingID uuid.UUID) (PaymentTotals, error)
	CreateLog(ctx context.Context, tx *gorm.DB, l *model.PaymentLog) error
	ListLogs(ctx context.Context, billingID uuid.UUID, offset, limit int) ([]model.PaymentLog, int64, error)
}

type paymentRepo struct{ db *gorm.DB }

func NewPaymentRepository(db *gorm.DB) PaymentRepository { return &paymentRepo{db: db} }

func (r *paymentRepo) Create(ctx context.Context, tx *gorm.DB, p *model.Payment) error {
	return translateError(conn(ctx, r.db, tx).Create(p).Error, "duplicate external_ref for this billing")
}

func (r *paymentRepo) ExistsExternalRef(ctx context.Context, tx *gorm.DB, billingID uuid.UUID, ref string) (bool, error) {
	var n int64
	err := conn(ctx, r.db, tx).Model(&model.Payment{}).
		Where("billing_id = ? AND external_ref = ?", billingID, ref).
		Count(&n).Error
	return n > 0, translateError(err, "")
}

func (r *paymentRepo) ListByBilling(ctx context.Context, tx *gorm.DB, billingID uuid.UUID) ([]model.Payment, error) {
	var payments []model.Payment
	err := conn(ctx, r.db, tx).
		Where("billing_id = ?", billingID).
		Order("created_at ASC, id ASC").
		Find(&payments).Error
	return payments, translateError(err, "")
}

func (r *paymentRepo) Totals(ctx context.Context, tx *gorm.DB, billingID uuid.UUID) (PaymentTotals, error) {
	var t PaymentTotals
	err := conn(ctx, r.db, tx).Model(&model.Payment{}).
		Select("COALESCE(SUM(amount_paid), 0) AS paid, COALESCE(SUM(tip_amount), 0) AS tip").
		Where("billing_id = ?", billingID).
		Scan(&t).Error
	return t, translateError(err, "")
}

func (r *paymentRepo) CreateLog(ctx context.Context, tx *gorm.DB, l *model.PaymentLog) error {
	return translateError(conn(ctx, r.db, tx).Create(l).Error, "")
}

func (r *paymentRepo) ListLogs(ctx context.Context, billingID uuid.UUID, offset, limit int) ([]model.PaymentLog, int64, error) {
	var logs []model.PaymentLog
	var total int64

	q := r.db.WithContext(ctx).Model(&model.PaymentLog{}).Where("billing_id = ?", billingID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, translateError(err, "")
	}

	err := q.Order("created_at ASC, id ASC").
		Offset(offset).Limit(limit).
		Find(&logs).Error
	return logs, total, translateError(err, "")
}
