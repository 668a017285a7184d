package repository

import (
	"context"

	"gorm.io/gorm"
)

// Transactor runs fn inside one database transaction. Every repository method
// that writes takes the *gorm.DB handed to fn; a nil tx means "no
// transaction, use the repository's own connection".
type Transactor interface {
	WithinTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type gormTransactor struct{ db *gorm.DB }

func NewTransactor(db *gorm.DB) Transactor { return &gormTransactor{db: db} }

// WithinTx commits when fn returns nil and rolls back otherwise. The context
// deadline is bound to the transaction, so a timed-out request is rolled back
// by the driver rather than left open.
func (t *gormTransactor) WithinTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return translateError(t.db.WithContext(ctx).Transaction(fn), "")
}

// conn picks tx when present, otherwise db, and binds ctx.
func conn(ctx context.Context, db, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}
