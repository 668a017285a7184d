package service

import (
	"context"
	"sort"

	"tablepos/internal/dto"
	"tablepos/internal/model"
	"tablepos/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OrderAggregator folds orders and their items into per-order and grand
// totals. It never writes. All sums are decimal; floats never touch money.
type OrderAggregator interface {
	// AggregateBilling folds every order tagged with the billing id. Receipt
	// lines come from this fold.
	AggregateBilling(ctx context.Context, tx *gorm.DB, billingID uuid.UUID) (*dto.Aggregation, error)
	// AggregateSession folds the orders placed under one session.
	AggregateSession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (*dto.Aggregation, error)
}

type orderAggregator struct {
	orders repository.OrderRepository
}

func NewOrderAggregator(orders repository.OrderRepository) OrderAggregator {
	return &orderAggregator{orders: orders}
}

func (a *orderAggregator) AggregateBilling(ctx context.Context, tx *gorm.DB, billingID uuid.UUID) (*dto.Aggregation, error) {
	orders, err := a.orders.GetOrdersByBilling(ctx, tx, billingID)
	if err != nil {
		return nil, err
	}
	return a.fold(ctx, tx, orders)
}

func (a *orderAggregator) AggregateSession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (*dto.Aggregation, error) {
	orders, err := a.orders.GetOrdersBySession(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}
	return a.fold(ctx, tx, orders)
}

// fold sorts orders by created_at (then id) and items by id, skips deleted
// items and sums:
//
//	subtotal = Σ line_total
//	discount = Σ line_discount  (already reflected in line_total)
//	tax      = Σ order.tax_total
//	total    = subtotal + tax
//	profit   = Σ (line_total - base_price × quantity)
func (a *orderAggregator) fold(ctx context.Context, tx *gorm.DB, orders []model.Order) (*dto.Aggregation, error) {
	sort.SliceStable(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.Before(orders[j].CreatedAt)
		}
		return orders[i].ID.String() < orders[j].ID.String()
	})

	agg := &dto.Aggregation{
		Orders: make([]dto.OrderView, 0, len(orders)),
		Totals: dto.AggregateTotals{
			Subtotal:      decimal.Zero,
			DiscountTotal: decimal.Zero,
			TaxTotal:      decimal.Zero,
			Total:         decimal.Zero,
			ProfitTotal:   decimal.Zero,
		},
	}

	for _, o := range orders {
		items, err := a.orders.GetOrderItems(ctx, tx, o.ID)
		if err != nil {
			return nil, err
		}
		sort.SliceStable(items, func(i, j int) bool { return items[i].ID < items[j].ID })

		view := toOrderView(o)
		for _, it := range items {
			if it.IsDeleted {
				continue
			}
			iv := toOrderItemView(it)
			view.Items = append(view.Items, iv)
			view.ItemsTotal = view.ItemsTotal.Add(it.LineTotal)
			view.Profit = view.Profit.Add(iv.Profit)
			agg.Totals.DiscountTotal = agg.Totals.DiscountTotal.Add(it.LineDiscount)
		}

		agg.Totals.Subtotal = agg.Totals.Subtotal.Add(view.ItemsTotal)
		agg.Totals.TaxTotal = agg.Totals.TaxTotal.Add(o.TaxTotal)
		agg.Totals.ProfitTotal = agg.Totals.ProfitTotal.Add(view.Profit)
		agg.Orders = append(agg.Orders, view)
	}

	agg.Totals.Total = agg.Totals.Subtotal.Add(agg.Totals.TaxTotal)
	return agg, nil
}

func toOrderView(o model.Order) dto.OrderView {
	v := dto.OrderView{
		ID:             o.ID.String(),
		SessionID:      o.SessionID.String(),
		TableID:        o.TableID,
		Status:         o.Status,
		DeliveryStatus: o.DeliveryStatus,
		Subtotal:       o.Subtotal,
		DiscountTotal:  o.DiscountTotal,
		TaxTotal:       o.TaxTotal,
		Total:          o.Total,
		ItemsTotal:     decimal.Zero,
		Profit:         decimal.Zero,
		CreatedAt:      o.CreatedAt,
		Items:          []dto.OrderItemView{},
	}
	if o.BillingID != nil {
		id := o.BillingID.String()
		v.BillingID = &id
	}
	return v
}

func toOrderItemView(it model.OrderItem) dto.OrderItemView {
	cost := it.BasePrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
	return dto.OrderItemView{
		ID:           it.ID,
		MenuItemID:   it.MenuItemID,
		Name:         it.Name,
		Quantity:     it.Quantity,
		UnitPrice:    it.UnitPrice,
		BasePrice:    it.BasePrice,
		PriceDelta:   it.PriceDelta,
		LineDiscount: it.LineDiscount,
		LineTotal:    it.LineTotal,
		Profit:       it.LineTotal.Sub(cost),
	}
}
