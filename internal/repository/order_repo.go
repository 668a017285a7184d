package repository

import (
	"context"

	"tablepos/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OrderRepository reads the order-management tables. Nothing here writes
// orders; that belongs to the order service (see cmd/seedorders for fixtures).
type OrderRepository interface {
	GetOrdersByBilling(ctx context.Context, tx *gorm.DB, billingID uuid.UUID) ([]model.Order, error)
	GetOrdersBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]model.Order, error)
	// GetOrderItems returns every item of the order, deleted ones included,
	// ordered by id.
	GetOrderItems(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) ([]model.OrderItem, error)
}

type orderRepo struct{ db *gorm.DB }

func NewOrderRepository(db *gorm.DB) OrderRepository { return &orderRepo{db: db} }

func (r *orderRepo) GetOrdersByBilling(ctx context.Context, tx *gorm.DB, billingID uuid.UUID) ([]model.Order, error) {
	var orders []model.Order
	err := conn(ctx, r.db, tx).
		Where("billing_id = ?", billingID).
		Order("created_at ASC, id ASC").
		Find(&orders).Error
	return orders, translateError(err, "")
}

func (r *orderRepo) GetOrdersBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]model.Order, error) {
	var orders []model.Order
	err := conn(ctx, r.db, tx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC").
		Find(&orders).Error
	return orders, translateError(err, "")
}

func (r *orderRepo) GetOrderItems(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) ([]model.OrderItem, error) {
	var items []model.OrderItem
	err := conn(ctx, r.db, tx).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Find(&items).Error
	return items, translateError(err, "")
}
