// seedorders inserts a demo order with items for an existing session so the
// billing endpoints have something to aggregate.
// Usage: go run ./cmd/seedorders -session <uuid>
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"tablepos/internal/config"
	"tablepos/internal/infra"
	"tablepos/internal/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	rawID := flag.String("session", "", "table session id")
	flag.Parse()

	sessionID, err := uuid.Parse(*rawID)
	if err != nil {
		log.Fatal().Str("session", *rawID).Msg("-session must be a UUID")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	db, err := infra.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var sess model.TableSession
	if err := db.WithContext(ctx).First(&sess, "id = ?", sessionID).Error; err != nil {
		log.Fatal().Err(err).Msg("load session")
	}

	items := []model.OrderItem{
		demoItem("burger", "Burger", 2, "12.50", "5.00", "0"),
		demoItem("fries", "Fries", 1, "4.00", "1.20", "0.50"),
		demoItem("soda", "Soda", 3, "2.50", "0.60", "0"),
	}
	order := model.Order{
		ID:             uuid.New(),
		SessionID:      sess.ID,
		BillingID:      &sess.BillingID,
		TableID:        &sess.TableLabel,
		Status:         "served",
		DeliveryStatus: "delivered",
		CreatedAt:      time.Now().UTC(),
	}
	for _, it := range items {
		order.Subtotal = order.Subtotal.Add(it.LineTotal)
		order.DiscountTotal = order.DiscountTotal.Add(it.LineDiscount)
	}
	order.TaxTotal = order.Subtotal.Mul(decimal.RequireFromString("0.08")).Round(2)
	order.Total = order.Subtotal.Add(order.TaxTotal)

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&order).Error; err != nil {
			return err
		}
		for i := range items {
			items[i].OrderID = order.ID
		}
		return tx.Create(&items).Error
	})
	if err != nil {
		log.Fatal().Err(err).Msg("insert order")
	}
	log.Info().Str("order_id", order.ID.String()).Str("total", order.Total.StringFixed(2)).Msg("demo order created")
}

func demoItem(menuID, name string, qty int, price, base, discount string) model.OrderItem {
	unit := decimal.RequireFromString(price)
	disc := decimal.RequireFromString(discount)
	return model.OrderItem{
		MenuItemID:   menuID,
		Name:         name,
		Quantity:     qty,
		UnitPrice:    unit,
		BasePrice:    decimal.RequireFromString(base),
		LineDiscount: disc,
		LineTotal:    unit.Mul(decimal.NewFromInt(int64(qty))).Sub(disc),
	}
}
